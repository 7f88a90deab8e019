// Package sinks contains progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/tributolabs/iptu-scraper/internal/progress"
)

// LogSink writes progress events to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

var _ progress.Sink = (*LogSink)(nil)

// NewLogSink creates a sink that logs every event.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchUUID().String()),
			zap.Time("ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageScrapeStart:
			s.logger.Info("scrape started",
				append(fields, zap.String("contributor", evt.Contributor), zap.Int("worker", evt.Worker))...)
		case progress.StageScrapeDone:
			s.logger.Info("scrape finished",
				append(fields, zap.String("contributor", evt.Contributor), zap.Duration("dur", evt.Dur))...)
		case progress.StageScrapeError:
			s.logger.Warn("scrape failed",
				append(fields,
					zap.String("contributor", evt.Contributor),
					zap.Bool("rate_limited", evt.RateLimited),
					zap.String("error", evt.Note))...)
		case progress.StageCooldownStart:
			s.logger.Warn("cooldown started", append(fields, zap.Duration("remaining", evt.Dur))...)
		case progress.StageCooldownWait:
			s.logger.Info("still cooling down", append(fields, zap.Duration("remaining", evt.Dur))...)
		case progress.StageCooldownEnd:
			s.logger.Info("cooldown finished", fields...)
		case progress.StageBatchProgress:
			s.logger.Info("batch progress",
				append(fields,
					zap.Int("processed", evt.Processed),
					zap.Int("total", evt.Total),
					zap.Int("succeeded", evt.Succeeded),
					zap.Int("failed", evt.Failed))...)
		default:
			s.logger.Debug("progress event", append(fields, zap.String("stage", string(evt.Stage)))...)
		}
	}
	return nil
}

// Close is a no-op; the logger outlives the sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
