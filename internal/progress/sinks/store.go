package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/progress"
	"github.com/JakeFAU/figure-exporter/internal/store"
)

// StoreSink persists one audit row per finished task via a
// store.ExportLogRepository, writing each batch in a single call.
type StoreSink struct {
	repo   store.ExportLogRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ExportLogRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume converts terminal task events into rows. It respects ctx
// deadlines and returns repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	rows := make([]store.ExportLog, 0, len(batch))
	for _, evt := range batch {
		if evt.Stage != progress.StageAfterExport && evt.Stage != progress.StageExportError {
			continue
		}
		status := store.ExportSuccess
		msg := evt.Msg
		if evt.Stage == progress.StageExportError {
			status = store.ExportError
			if evt.Note != "" {
				msg = evt.Note
			}
		}
		rows = append(rows, store.ExportLog{
			ID:         evt.ID,
			Component:  evt.Component,
			Route:      evt.Route,
			ItemIndex:  evt.ItemIndex,
			Status:     status,
			Code:       int(evt.Code),
			Message:    msg,
			Format:     evt.Format,
			Bytes:      evt.Bytes,
			Digest:     evt.Digest,
			Duration:   evt.Dur,
			FinishedAt: evt.TS,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.repo.InsertExportLogs(ctx, rows); err != nil {
		return fmt.Errorf("insert export logs: %w", err)
	}
	s.logger.Debug("export logs persisted", zap.Int("rows", len(rows)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
