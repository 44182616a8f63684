package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/figure-exporter/internal/store"
)

func TestInsertExportLogsWritesRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewExportLogStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := []store.ExportLog{
		{
			ID:         "t-1",
			Component:  "plotly-graph",
			Route:      "/plotly-graph",
			Status:     store.ExportSuccess,
			Code:       200,
			Message:    "",
			Format:     "png",
			Bytes:      1024,
			Digest:     "abc",
			Duration:   1500 * time.Millisecond,
			FinishedAt: now,
		},
		{
			ID:         "t-2",
			Component:  "plotly-graph",
			ItemIndex:  1,
			Status:     store.ExportError,
			Code:       525,
			Message:    "plotly.js error",
			Format:     "svg",
			FinishedAt: now,
		},
	}

	mock.ExpectExec("INSERT INTO export_log").
		WithArgs(
			"t-1", "plotly-graph", "/plotly-graph", 0, "success", 200, "", "png", int64(1024), "abc", int64(1500), now,
			"t-2", "plotly-graph", "", 1, "error", 525, "plotly.js error", "svg", int64(0), "", int64(0), now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, s.InsertExportLogs(context.Background(), rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertExportLogsSurfacesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewExportLogStoreWithPool(mock, "audit")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit").WillReturnError(errors.New("boom"))
	err = s.InsertExportLogs(context.Background(), []store.ExportLog{{ID: "x", FinishedAt: time.Now()}})
	require.ErrorContains(t, err, "boom")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportLogStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewExportLogStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewExportLogStoreWithPool(mock, "bad;table")
	require.Error(t, err)

	s, err := NewExportLogStoreWithPool(mock, "")
	require.NoError(t, err)
	require.NoError(t, s.InsertExportLogs(context.Background(), nil))
	require.Error(t, s.InsertExportLogs(context.Background(), []store.ExportLog{{}}))

	_, err = NewExportLogStore(context.Background(), ExportLogStoreConfig{})
	require.Error(t, err)
}
