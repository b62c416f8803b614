package hub

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack"
)

// StreamEvent is the envelope published to the firehose for external
// consumers (analytics, moderation tooling). Delivery is best-effort.
type StreamEvent struct {
	Type string      `msgpack:"i"`
	Data interface{} `msgpack:"d"`
}

// Producer publishes hub events to NATS streaming.
type Producer struct {
	nc      *nats.Conn
	sc      stan.Conn
	channel string
	log     zerolog.Logger
}

// NewProducer connects to NATS and the streaming cluster.
func NewProducer(address, clusterID, clientID string, logger zerolog.Logger) (*Producer, error) {
	nc, err := nats.Connect(address)
	if err != nil {
		return nil, fmt.Errorf("error connecting to nats: %w", err)
	}

	sc, err := stan.Connect(clusterID, clientID, stan.NatsConn(nc))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("error connecting to stan: %w", err)
	}

	return &Producer{
		nc:      nc,
		sc:      sc,
		channel: clusterID,
		log:     logger.With().Str("component", "producer").Logger(),
	}, nil
}

// Publish encodes and sends one event. Failures are logged, never
// surfaced to the session that caused the event.
func (p *Producer) Publish(eventType string, data interface{}) {
	payload, err := msgpack.Marshal(StreamEvent{Type: eventType, Data: data})
	if err != nil {
		p.log.Warn().Err(err).Str("type", eventType).Msg("error encoding stream event")
		return
	}
	if err = p.sc.Publish(p.channel, payload); err != nil {
		p.log.Warn().Err(err).Str("type", eventType).Msg("error publishing stream event")
	}
}

// Close tears down the streaming and core connections.
func (p *Producer) Close() {
	if err := p.sc.Close(); err != nil {
		p.log.Warn().Err(err).Msg("error closing stan connection")
	}
	p.nc.Close()
}
