package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/figure-exporter/internal/progress"
)

// LogSink emits one structured log line per export event.
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

// Consume logs each event in the batch using structured fields. Failures
// log at warn level, per-task milestones at debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.Int("code", int(evt.Code)),
		}
		if evt.ID != "" {
			fields = append(fields, zap.String("id", evt.ID))
		}
		if evt.Component != "" {
			fields = append(fields, zap.String("component", evt.Component))
		}
		switch evt.Stage {
		case progress.StageBeforeExport, progress.StageAfterExport, progress.StageExportError:
			fields = append(fields,
				zap.String("route", evt.Route),
				zap.Int("item_index", evt.ItemIndex),
				zap.String("format", evt.Format),
				zap.Int64("bytes", evt.Bytes),
				zap.Int64("pending", evt.Pending),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageAfterExportAll:
			fields = append(fields, zap.Duration("dur", evt.Dur))
		case progress.StageAfterConnect:
			fields = append(fields, zap.Int("port", evt.Port), zap.Strings("routes", evt.Routes))
		}
		if evt.Msg != "" {
			fields = append(fields, zap.String("msg", evt.Msg))
		}
		if evt.Digest != "" {
			fields = append(fields, zap.String("digest", evt.Digest))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt), "export event", fields...)
	}
	return nil
}

func levelFor(evt progress.Event) zapcore.Level {
	switch evt.Stage {
	case progress.StageExportError, progress.StageRendererError:
		return zapcore.WarnLevel
	case progress.StageAfterExportAll, progress.StageAfterConnect:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
