package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/config"
)

type fakeRunner struct {
	cfg      config.Config
	items    []string
	code     int
	graphErr error
	served   bool
	closed   bool
}

func (f *fakeRunner) Serve(context.Context) error { f.served = true; return nil }

func (f *fakeRunner) Graph(_ context.Context, items []string) (int, error) {
	f.items = items
	return f.code, f.graphErr
}

func (f *fakeRunner) Close(context.Context) { f.closed = true }

// withFakeApp swaps the application factory; tests using it cannot run in
// parallel.
func withFakeApp(t *testing.T, fake *fakeRunner) {
	t.Helper()
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (Runner, error) {
		fake.cfg = cfg
		return fake, nil
	}
	t.Cleanup(func() {
		newApp = orig
		cfgFile = ""
	})
}

func TestServeBindsFlags(t *testing.T) {
	fake := &fakeRunner{}
	withFakeApp(t, fake)

	code := run(context.Background(), []string{"serve", "--port", "8000", "--cors", "--component", "plotly-thumbnail"})
	require.Equal(t, 0, code)
	require.True(t, fake.served)
	require.True(t, fake.closed)
	require.Equal(t, 8000, fake.cfg.Server.Port)
	require.True(t, fake.cfg.Server.CORS)
	require.Equal(t, 50, fake.cfg.Server.MaxWindows)
	require.Equal(t, []any{"plotly-thumbnail"}, fake.cfg.Components)
}

func TestGraphPassesItemsAndExitCode(t *testing.T) {
	fake := &fakeRunner{code: 1}
	withFakeApp(t, fake)

	code := run(context.Background(), []string{"graph", "a.json", "b.json", "--format", "svg", "--parallel-limit", "4"})
	require.Equal(t, 1, code)
	require.Equal(t, []string{"a.json", "b.json"}, fake.items)
	require.Equal(t, "svg", fake.cfg.Batch.Format)
	require.Equal(t, 4, fake.cfg.Batch.ParallelLimit)
	require.Equal(t, 700.0, fake.cfg.Batch.Width)
	require.True(t, fake.closed)
}

func TestGraphFailureExitsOne(t *testing.T) {
	fake := &fakeRunner{graphErr: errors.New("chrome missing")}
	withFakeApp(t, fake)

	require.Equal(t, 1, run(context.Background(), []string{"graph", "-"}))
}

func TestInvalidConfigFails(t *testing.T) {
	fake := &fakeRunner{}
	withFakeApp(t, fake)

	require.Equal(t, 1, run(context.Background(), []string{"serve", "--port=-1"}))
	require.False(t, fake.served)
}
