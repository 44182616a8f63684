package store

import (
	"context"
	"time"
)

// ExportStatus mirrors the export_log status column.
type ExportStatus string

// Export statuses persisted in export_log.status.
const (
	ExportSuccess ExportStatus = "success"
	ExportError   ExportStatus = "error"
)

// ExportLog is one audited export attempt.
type ExportLog struct {
	// ID is the task's correlation id.
	ID string
	// Component is the registry name that served the task.
	Component string
	// Route is the HTTP route, empty for batch tasks.
	Route string
	// ItemIndex is the batch position.
	ItemIndex int
	// Status is success or error.
	Status ExportStatus
	// Code is the terminal status code.
	Code int
	// Message is the status message or error detail.
	Message string
	// Format is the requested output format.
	Format string
	// Bytes is the size of the produced body.
	Bytes int64
	// Digest is the artifact checksum, empty when none was computed.
	Digest string
	// Duration is the task processing time.
	Duration time.Duration
	// FinishedAt is when the terminal event was emitted.
	FinishedAt time.Time
}

// ExportLogRepository persists export audit rows.
type ExportLogRepository interface {
	// InsertExportLogs appends rows in one round trip.
	InsertExportLogs(ctx context.Context, rows []ExportLog) error
}
