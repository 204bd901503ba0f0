// Package alerting defines the pluggable side-effect channel for critical
// flags and pattern/trend alerts. The default sink logs; hosts attach real
// notifiers (chat webhooks, paging) behind the same interface.
package alerting

import (
	"context"
	"log/slog"

	"github.com/errwatch/errwatch/internal/models"
)

// Sink receives alert notifications emitted by the pipeline.
type Sink interface {
	Notify(ctx context.Context, alert models.ActiveAlert) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, alert models.ActiveAlert) error

// Notify implements Sink.
func (f SinkFunc) Notify(ctx context.Context, alert models.ActiveAlert) error {
	return f(ctx, alert)
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink; a nil logger falls back to slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Notify logs the alert at a level matching its severity.
func (s *LogSink) Notify(_ context.Context, alert models.ActiveAlert) error {
	attrs := []any{
		slog.String("id", alert.ID),
		slog.String("type", string(alert.Type)),
		slog.String("severity", alert.Severity.String()),
		slog.String("reason", alert.Reason),
	}
	if alert.Severity >= models.SeverityCritical {
		s.logger.Error("alert", attrs...)
	} else {
		s.logger.Warn("alert", attrs...)
	}
	return nil
}
