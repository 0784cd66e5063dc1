package events

import (
	"encoding/json"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitPublisher mirrors change events onto a RabbitMQ queue for
// external consumers. Publishing is best-effort and disabled entirely
// when no broker URL is configured.
type RabbitPublisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	enabled bool
}

// NewRabbitPublisher connects to the broker. An empty URL returns a
// disabled publisher rather than an error, so callers can wire it
// unconditionally.
func NewRabbitPublisher(url, queue string) *RabbitPublisher {
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set. RabbitMQ publishing disabled.")
		return &RabbitPublisher{}
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ")
		return &RabbitPublisher{}
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel")
		conn.Close()
		return &RabbitPublisher{}
	}

	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return &RabbitPublisher{
		conn:    conn,
		channel: channel,
		queue:   queue,
		enabled: true,
	}
}

// Run drains the subscription and publishes each event until the
// subscription channel is closed. Intended to run in its own goroutine.
func (p *RabbitPublisher) Run(sub *Subscription) {
	for ev := range sub.C {
		p.publish(ev)
	}
}

func (p *RabbitPublisher) publish(ev ChangeEvent) {
	if !p.enabled {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal change event for RabbitMQ")
		return
	}

	// Declare is idempotent; keeps the queue alive across broker restarts.
	if _, err := p.channel.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Could not declare RabbitMQ queue")
		return
	}

	err = p.channel.Publish("", p.queue, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
	if err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Could not publish to RabbitMQ")
		return
	}
	log.Debug().Str("queue", p.queue).Str("resource", string(ev.Resource)).Msg("Published change event to RabbitMQ")
}

// Close releases the channel and connection.
func (p *RabbitPublisher) Close() {
	if !p.enabled {
		return
	}
	p.channel.Close()
	p.conn.Close()
}
