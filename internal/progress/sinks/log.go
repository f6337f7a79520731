package sinks

import (
	"context"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/progress"
)

// LogSink turns progress events into operator-facing log lines.
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
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageTopicProgress:
			fields = append(fields,
				zap.Int("category_id", evt.CategoryID),
				zap.String("topics", humanize.Comma(int64(evt.Done))+"/"+humanize.Comma(int64(evt.Total))),
			)
			s.logger.Info("topic progress", fields...)
		case progress.StageCategoryStart, progress.StageCategoryDone:
			fields = append(fields, zap.Int("category_id", evt.CategoryID))
			if evt.Stage == progress.StageCategoryDone {
				fields = append(fields, zap.String("result", string(evt.Result)), zap.Duration("dur", evt.Dur))
			}
			s.logger.Info("category progress", fields...)
		case progress.StageRunError:
			fields = append(fields, zap.Duration("dur", evt.Dur), zap.String("note", evt.Note))
			s.logger.Error("run failed", fields...)
		default:
			fields = append(fields,
				zap.String("result", string(evt.Result)),
				zap.Duration("dur", evt.Dur),
				zap.String("elapsed", humanize.RelTime(evt.TS.Add(-evt.Dur), evt.TS, "", "")),
			)
			if evt.Done > 0 {
				fields = append(fields, zap.Int("done", evt.Done))
			}
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
