package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/openperp/mmengine/internal/logger"
)

// SubjectPrefix is the root of the engine's outbound NATS subject space.
// Subjects follow the pattern: perp.engine.events.{event_type}.{exchange}
const SubjectPrefix = "perp.engine.events"

var natsLogger = logger.GetForComponent("nats_publisher")

// NATSPublisher publishes event envelopes to NATS as JSON for downstream
// consumers (settlement, risk dashboards, archival).
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the given NATS URL.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("mmengine"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	natsLogger.Info().Str("url", url).Msg("Connected to NATS")
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, env.EventType)
	if env.Exchange != "" {
		subject = fmt.Sprintf("%s.%s", subject, env.Exchange)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			natsLogger.Error().Err(err).Msg("Error draining NATS connection")
		}
	}
}
