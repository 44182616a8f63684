// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/figure-exporter/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const exportLogColumns = 12

// ExportLogStoreConfig controls the Postgres connection pool used for audit rows.
type ExportLogStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ExportLogStore writes export audit rows into Postgres.
type ExportLogStore struct {
	pool  execCloser
	table string
}

// NewExportLogStore creates a Postgres-backed ExportLogStore using the provided config.
func NewExportLogStore(ctx context.Context, cfg ExportLogStoreConfig) (*ExportLogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ExportLogStore{pool: pool, table: table}, nil
}

// NewExportLogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewExportLogStoreWithPool(pool execCloser, table string) (*ExportLogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ExportLogStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "export_log"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ExportLogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertExportLogs writes rows with a single multi-row INSERT.
func (s *ExportLogStore) InsertExportLogs(ctx context.Context, rows []store.ExportLog) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("export log store is not configured")
	}
	if len(rows) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, `
INSERT INTO %s (
	id,
	component,
	route,
	item_index,
	status,
	code,
	message,
	format,
	bytes,
	digest,
	duration_ms,
	finished_at
) VALUES `, s.table)

	args := make([]any, 0, len(rows)*exportLogColumns)
	for i, row := range rows {
		if row.ID == "" {
			return fmt.Errorf("row %d: id is required", i)
		}
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := 1; c <= exportLogColumns; c++ {
			if c > 1 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", i*exportLogColumns+c)
		}
		b.WriteString(")")
		args = append(args,
			row.ID,
			row.Component,
			row.Route,
			row.ItemIndex,
			string(row.Status),
			row.Code,
			row.Message,
			row.Format,
			row.Bytes,
			row.Digest,
			row.Duration.Milliseconds(),
			row.FinishedAt,
		)
	}
	b.WriteString("\nON CONFLICT (id) DO NOTHING")

	if _, err := s.pool.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert export log: %w", err)
	}
	return nil
}
