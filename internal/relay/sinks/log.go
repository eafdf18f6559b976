package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/relay"
)

// LogSink writes each relayed item as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Name labels the sink in metrics.
func (s *LogSink) Name() string { return "log" }

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []relay.Event) error {
	for _, evt := range batch {
		s.logger.Info("news item relayed",
			zap.Int64("id", evt.Item.ID),
			zap.String("topic", evt.Item.Topic),
			zap.String("url", evt.Item.URL),
			zap.String("domain", evt.Item.Domain),
			zap.Time("inserted_at", evt.InsertedAt),
		)
	}
	return nil
}

// Close performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
