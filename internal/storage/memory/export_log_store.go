package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/figure-exporter/internal/store"
)

// ExportLogStore keeps audit rows in memory for development/testing.
type ExportLogStore struct {
	mu   sync.RWMutex
	rows []store.ExportLog
}

// NewExportLogStore constructs an ExportLogStore.
func NewExportLogStore() *ExportLogStore {
	return &ExportLogStore{}
}

// InsertExportLogs appends rows.
func (s *ExportLogStore) InsertExportLogs(_ context.Context, rows []store.ExportLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	return nil
}

// Rows returns a copy of every stored row, optionally filtered by status.
func (s *ExportLogStore) Rows(status store.ExportStatus) []store.ExportLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ExportLog, 0, len(s.rows))
	for _, row := range s.rows {
		if status != "" && row.Status != status {
			continue
		}
		out = append(out, row)
	}
	return out
}
