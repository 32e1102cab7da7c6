// Package broadcast fans job updates out to websocket subscribers. Job
// execution happens on background workers while delivery happens on the hub
// goroutine; publishes cross that boundary through a bounded queue and are
// dropped, never blocked on, when the queue stays full past the timeout.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"crucible/internal/model"
)

// Envelope is the wire format pushed to subscribers
type Envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscriber wraps one websocket connection. The write mutex serializes hub
// deliveries with pong replies from the read loop.
type Subscriber struct {
	conn    *websocket.Conn
	project string
	writeMu sync.Mutex
}

func (s *Subscriber) write(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

type update struct {
	project string
	payload []byte
}

// Hub owns the subscriber sets: one per project plus a global set. The sets
// are only ever touched from the Run goroutine; Subscribe, Unsubscribe and
// PublishJobUpdate merely enqueue work for it.
type Hub struct {
	register       chan *Subscriber
	unregister     chan *Subscriber
	updates        chan update
	global         map[*Subscriber]bool
	byProject      map[string]map[*Subscriber]bool
	publishTimeout time.Duration
}

// NewHub creates a hub with a bounded publish queue
func NewHub(queueSize int, publishTimeout time.Duration) *Hub {
	return &Hub{
		register:       make(chan *Subscriber),
		unregister:     make(chan *Subscriber),
		updates:        make(chan update, queueSize),
		global:         make(map[*Subscriber]bool),
		byProject:      make(map[string]map[*Subscriber]bool),
		publishTimeout: publishTimeout,
	}
}

// Run drains the hub's channels until the context is cancelled. All
// subscriber-set mutation and message delivery happens here.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("Update broadcaster started")

	for {
		select {
		case <-ctx.Done():
			for sub := range h.global {
				sub.conn.Close()
			}
			log.Info().Msg("Update broadcaster stopped")
			return

		case sub := <-h.register:
			h.global[sub] = true
			if sub.project != "" {
				if h.byProject[sub.project] == nil {
					h.byProject[sub.project] = make(map[*Subscriber]bool)
				}
				h.byProject[sub.project][sub] = true
			}
			log.Debug().
				Str("project", sub.project).
				Int("subscribers", len(h.global)).
				Msg("Subscriber registered")

		case sub := <-h.unregister:
			h.remove(sub)

		case u := <-h.updates:
			h.deliver(u)
		}
	}
}

// Subscribe registers a connection, optionally scoped to a project, and
// starts its read loop. The read loop answers liveness pings and unregisters
// the subscriber when the connection drops.
func (h *Hub) Subscribe(conn *websocket.Conn, project string) *Subscriber {
	sub := &Subscriber{conn: conn, project: project}
	h.register <- sub
	go h.readLoop(sub)
	return sub
}

// Unsubscribe removes the subscriber from both the scoped and global sets
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.unregister <- sub
}

// PublishJobUpdate serializes a job_update envelope and enqueues it for
// delivery. If the queue cannot accept it within the publish timeout the
// update is dropped: broadcasting never blocks or fails job execution.
func (h *Hub) PublishJobUpdate(job *model.Job) {
	payload, err := json.Marshal(Envelope{
		Type:      "job_update",
		Timestamp: time.Now(),
		Data:      job,
	})
	if err != nil {
		log.Warn().Err(err).Str("jobID", job.ID).Msg("Failed to serialize job update")
		return
	}

	select {
	case h.updates <- update{project: job.ProjectID, payload: payload}:
	case <-time.After(h.publishTimeout):
		log.Warn().Str("jobID", job.ID).Msg("Update queue full, dropping job update")
	}
}

// deliver pushes one update to the project-scoped subscribers (when the
// update carries a project) and to every unscoped subscriber. A failed write
// silently removes that subscriber; the rest are unaffected.
func (h *Hub) deliver(u update) {
	seen := make(map[*Subscriber]bool)

	if u.project != "" {
		for sub := range h.byProject[u.project] {
			seen[sub] = true
			h.send(sub, u.payload)
		}
	}

	for sub := range h.global {
		if sub.project != "" || seen[sub] {
			continue
		}
		h.send(sub, u.payload)
	}
}

func (h *Hub) send(sub *Subscriber, payload []byte) {
	if err := sub.write(payload); err != nil {
		log.Debug().Err(err).Str("project", sub.project).Msg("Dropping unreachable subscriber")
		h.remove(sub)
	}
}

// remove is only called from the Run goroutine
func (h *Hub) remove(sub *Subscriber) {
	if !h.global[sub] {
		return
	}
	delete(h.global, sub)
	if sub.project != "" {
		delete(h.byProject[sub.project], sub)
		if len(h.byProject[sub.project]) == 0 {
			delete(h.byProject, sub.project)
		}
	}
	sub.conn.Close()

	log.Debug().Int("subscribers", len(h.global)).Msg("Subscriber removed")
}

func (h *Hub) readLoop(sub *Subscriber) {
	defer h.Unsubscribe(sub)

	for {
		msgType, msg, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType == websocket.TextMessage && string(msg) == "ping" {
			if err := sub.write([]byte("pong")); err != nil {
				return
			}
		}
	}
}
