package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/figure-exporter/internal/store"
)

func TestExportLogStoreFiltersByStatus(t *testing.T) {
	t.Parallel()

	s := NewExportLogStore()
	require.NoError(t, s.InsertExportLogs(context.Background(), []store.ExportLog{
		{ID: "a", Status: store.ExportSuccess, Code: 200},
		{ID: "b", Status: store.ExportError, Code: 525},
	}))
	require.NoError(t, s.InsertExportLogs(context.Background(), []store.ExportLog{
		{ID: "c", Status: store.ExportSuccess, Code: 200},
	}))

	require.Len(t, s.Rows(""), 3)
	errs := s.Rows(store.ExportError)
	require.Len(t, errs, 1)
	require.Equal(t, "b", errs[0].ID)
}
