package observe

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogSink writes events to a zap logger. Failures log at warn, everything
// else at info, except stage starts which log at debug.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, event Event) error {
	event.Normalize()
	level := zapcore.InfoLevel
	switch {
	case event.Status == StatusFailed:
		level = zapcore.WarnLevel
	case event.Kind == KindStage && event.Status == StatusStarted:
		level = zapcore.DebugLevel
	}
	ce := s.logger.Check(level, "campaign event")
	if ce == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("status", string(event.Status)),
		zap.String("campaign_id", event.CampaignID),
		zap.Uint64("generation", event.Generation),
	}
	if event.Recipient != "" {
		fields = append(fields, zap.String("recipient", event.Recipient), zap.Int("index", event.Index))
	}
	if event.Step != "" {
		fields = append(fields, zap.String("step", event.Step))
	}
	if event.Message != "" {
		fields = append(fields, zap.String("message", event.Message))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Int64("duration_ms", event.DurationMs))
	}
	ce.Write(fields...)
	return nil
}
