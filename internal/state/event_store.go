// ./internal/state/event_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openperp/mmengine/internal/events"
)

// SaveEvent archives one event envelope.
func SaveEvent(env events.Envelope) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	payloadJSON, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO engine_events (event_id, exchange, event_type, event_timestamp, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING;
	`
	if _, err := DB.Exec(query, env.ID, env.Exchange, env.EventType, env.Timestamp, payloadJSON); err != nil {
		return fmt.Errorf("failed to save engine event: %w", err)
	}
	return nil
}

// EventRecord is one archived event row as served to the dashboard.
type EventRecord struct {
	ID        string          `json:"id"`
	Exchange  string          `json:"exchange"`
	EventType string          `json:"event_type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// LoadRecentEvents returns the newest archived events for an exchange.
func LoadRecentEvents(exchange string, limit int) ([]EventRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT event_id, exchange, event_type, event_timestamp, payload
		FROM engine_events
		WHERE exchange = $1
		ORDER BY event_timestamp DESC
		LIMIT $2;
	`
	rows, err := DB.Query(query, exchange, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query engine events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.ID, &rec.Exchange, &rec.EventType, &rec.Timestamp, &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan engine event row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating engine event rows: %w", err)
	}
	return records, nil
}

// EventArchiver is an event sink persisting every envelope to postgres.
type EventArchiver struct{}

// NewEventArchiver creates a sink writing to the global DB pool.
func NewEventArchiver() *EventArchiver {
	return &EventArchiver{}
}

func (a *EventArchiver) Publish(env events.Envelope) error {
	if err := SaveEvent(env); err != nil {
		log.Error().Err(err).Str("event_type", env.EventType).Msg("Failed to archive engine event")
		return err
	}
	return nil
}
