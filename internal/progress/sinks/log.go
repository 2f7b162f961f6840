package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/cert-registry-crawler/internal/progress"
)

// LogSink writes each crawl milestone as a structured log line. Page failures
// log at warn level.
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
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("crawl_id", evt.CrawlID),
			zap.String("stage", string(evt.Stage)),
			zap.String("variant", evt.Variant),
		}
		switch evt.Stage {
		case progress.StagePageDone, progress.StagePageFailed:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.String("url", evt.URL),
				zap.Int("records", evt.Records),
				zap.Int("malformed", evt.Malformed),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageCrawlDone:
			fields = append(fields,
				zap.String("outcome", string(evt.Outcome)),
				zap.Int("records", evt.Records),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StagePageFailed {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
