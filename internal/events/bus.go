package events

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/openperp/mmengine/internal/logger"
)

// Sink consumes event envelopes. Sink errors are logged, never propagated:
// an engine state transition that already committed must not be failed by an
// observer.
type Sink interface {
	Publish(Envelope) error
}

// Bus fans engine events out to its sinks in registration order.
type Bus struct {
	sinks []Sink
	now   func() time.Time
	log   zerolog.Logger
}

// NewBus creates an event bus over the given sinks.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{
		sinks: sinks,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.GetForComponent("event_bus"),
	}
}

// Attach adds a sink after construction.
func (b *Bus) Attach(sink Sink) {
	b.sinks = append(b.sinks, sink)
}

// Emit wraps the event and hands it to every sink.
func (b *Bus) Emit(evt Event) {
	env := Wrap(evt, b.now())
	for _, sink := range b.sinks {
		if err := sink.Publish(env); err != nil {
			b.log.Warn().
				Err(err).
				Str("event_type", env.EventType).
				Str("exchange", env.Exchange).
				Msg("Event sink publish failed")
		}
	}
}

// Recorder is an in-memory sink used by tests and the web dashboard's
// recent-events view. It keeps the newest entries up to its capacity.
type Recorder struct {
	capacity  int
	envelopes []Envelope
}

// NewRecorder creates a recorder keeping at most capacity envelopes.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Recorder{capacity: capacity}
}

func (r *Recorder) Publish(env Envelope) error {
	r.envelopes = append(r.envelopes, env)
	if len(r.envelopes) > r.capacity {
		r.envelopes = r.envelopes[len(r.envelopes)-r.capacity:]
	}
	return nil
}

// Recent returns the recorded envelopes, oldest first.
func (r *Recorder) Recent() []Envelope {
	out := make([]Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

// OfType returns the recorded events of one type, oldest first.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, env := range r.envelopes {
		if env.EventType == eventType {
			out = append(out, env.Payload)
		}
	}
	return out
}

// LogSink writes every event as a structured log line.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a sink logging through the engine's component logger.
func NewLogSink() *LogSink {
	return &LogSink{log: logger.GetForComponent("events")}
}

func (s *LogSink) Publish(env Envelope) error {
	s.log.Info().
		Str("event_type", env.EventType).
		Str("exchange", env.Exchange).
		Interface("payload", env.Payload).
		Msg("Engine event")
	return nil
}
