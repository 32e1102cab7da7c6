package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"crucible/internal/model"
)

// EventRelay mirrors job updates onto an AMQP exchange so external consumers
// can follow job lifecycles without holding a websocket. Publishing is
// best-effort: failures are logged and never surface to job execution.
type EventRelay struct {
	client   Client
	exchange string
}

// NewEventRelay declares the topic exchange and returns the relay
func NewEventRelay(client Client, exchange string) (*EventRelay, error) {
	if err := client.DeclareExchange(exchange, "topic"); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("Job event relay initialized")
	return &EventRelay{client: client, exchange: exchange}, nil
}

// PublishJobUpdate sends the job_update envelope with routing key
// jobs.<kind>.<status>
func (r *EventRelay) PublishJobUpdate(job *model.Job) {
	envelope := map[string]interface{}{
		"type":      "job_update",
		"timestamp": time.Now(),
		"data":      job,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		log.Warn().Err(err).Str("jobID", job.ID).Msg("Failed to marshal job update for relay")
		return
	}

	routingKey := fmt.Sprintf("jobs.%s.%s", job.Kind, job.Status)
	headers := amqp.Table{
		"job_id": job.ID,
		"status": string(job.Status),
	}

	if err := r.client.Publish(r.exchange, routingKey, body, headers); err != nil {
		log.Warn().Err(err).Str("jobID", job.ID).Msg("Failed to relay job update")
	}
}
