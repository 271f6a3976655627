package pipeline

import (
	"time"

	"go.uber.org/zap"
)

// Stage transition states reported through events.
const (
	StateStarted = "started"
	StateOK      = "ok"
	StateFailed  = "failed"
	StateSkipped = "skipped"
)

// Event is one pipeline stage transition, published to every registered sink.
type Event struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	Stage     string    `json:"stage"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Sink receives pipeline events. Publish must not block; slow consumers drop
// events rather than stall a request.
type Sink interface {
	Publish(Event)
}

// LogSink mirrors pipeline events into a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a sink logging every event at debug level.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish implements Sink.
func (s *LogSink) Publish(event Event) {
	s.logger.Debug("pipeline event",
		zap.String("request_id", event.RequestID),
		zap.String("stage", event.Stage),
		zap.String("state", event.State),
		zap.String("detail", event.Detail),
	)
}

func (o *Orchestrator) emit(requestID string, stageName string, state string, detail string) {
	event := Event{
		Type:      "pipeline-event",
		RequestID: requestID,
		Stage:     stageName,
		State:     state,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	for _, sink := range o.sinks {
		sink.Publish(event)
	}
}
