// Package sinks contains Sink implementations for the lifecycle event hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/events"
)

// LogSink emits structured logs for lifecycle events. It doubles as the
// always-on durable record when no database is configured, and as an audit
// trail during development.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("queue lifecycle event",
			zap.String("job_id", evt.JobID),
			zap.String("kind", string(evt.Kind)),
			zap.Time("event_ts", evt.TS),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
