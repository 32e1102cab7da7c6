package manager

import "crucible/internal/model"

// Publishers fans one job update out to several publishers, e.g. the
// websocket hub and the AMQP relay
type Publishers []Publisher

func (p Publishers) PublishJobUpdate(job *model.Job) {
	for _, pub := range p {
		pub.PublishJobUpdate(job)
	}
}
