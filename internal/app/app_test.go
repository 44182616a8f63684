package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/config"
	"github.com/JakeFAU/figure-exporter/internal/export"
	"github.com/JakeFAU/figure-exporter/internal/renderer"
)

var pngBytes = []byte("PNG")

// plotlyWindow answers the expressions the plotly-graph component
// evaluates: the load check and Plotly.toImage.
type plotlyWindow struct {
	done chan struct{}
	once sync.Once
}

func (w *plotlyWindow) ID() string            { return "window" }
func (w *plotlyWindow) Done() <-chan struct{} { return w.done }
func (w *plotlyWindow) Close() error          { w.once.Do(func() { close(w.done) }); return nil }

func (w *plotlyWindow) Evaluate(_ context.Context, expr string, out any) error {
	var v any = map[string]any{"imgData": base64.StdEncoding.EncodeToString(pngBytes)}
	if strings.HasPrefix(expr, "typeof Plotly") {
		v = true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (w *plotlyWindow) PrintPDF(context.Context, string, float64, float64) ([]byte, error) {
	return []byte("%PDF"), nil
}

type plotlyHost struct{}

func (plotlyHost) Open(context.Context, string, string) (renderer.Window, error) {
	return &plotlyWindow{done: make(chan struct{})}, nil
}

func (plotlyHost) Close() error { return nil }

func loadConfig(t *testing.T, opts ...config.Option) config.Config {
	t.Helper()
	cfg, err := config.Load("", append([]config.Option{
		config.WithValue("server.port", 0),
		config.WithValue("supervisor.backoff_ms", 1),
	}, opts...)...)
	require.NoError(t, err)
	return cfg
}

func buildApp(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, zap.NewNop(), append([]Option{WithHost(plotlyHost{})}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Close(ctx)
	})
	return a
}

const figure = `{"data":[{"y":[1,2,3]}],"layout":{}}`

func TestGraphWritesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inDir := t.TempDir()
	chart := filepath.Join(inDir, "chart.json")
	require.NoError(t, os.WriteFile(chart, []byte(figure), 0o600))

	a := buildApp(t, loadConfig(t, config.WithValue("batch.output_dir", dir)))
	sum, err := a.Graph(context.Background(), []string{figure, chart})
	require.NoError(t, err)
	require.Equal(t, export.BatchOK, sum.Code)
	require.Equal(t, 2, sum.Succeeded)
	require.Len(t, sum.Outputs, 2)

	got, err := os.ReadFile(filepath.Join(dir, "fig_0.png"))
	require.NoError(t, err)
	require.Equal(t, pngBytes, got)
	got, err = os.ReadFile(filepath.Join(dir, "chart.png"))
	require.NoError(t, err)
	require.Equal(t, pngBytes, got)
}

func TestGraphStreamsToStdout(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	a := buildApp(t, loadConfig(t), WithStdout(&out))
	sum, err := a.Graph(context.Background(), []string{figure})
	require.NoError(t, err)
	require.Equal(t, export.BatchOK, sum.Code)
	require.Equal(t, pngBytes, out.Bytes())
}

func TestGraphReadsStdin(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	a := buildApp(t, loadConfig(t), WithStdout(&out), WithStdin(strings.NewReader(figure)))
	sum, err := a.Graph(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, export.BatchOK, sum.Code)
	require.Equal(t, pngBytes, out.Bytes())
}

func TestGraphReportsFailedItems(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	a := buildApp(t, loadConfig(t), WithStdout(&out))
	sum, err := a.Graph(context.Background(), []string{figure, `{"data":`})
	require.NoError(t, err)
	require.Equal(t, export.BatchFailed, sum.Code)
	require.Equal(t, "failed or incomplete task(s)", sum.Msg)
	require.Equal(t, 1, sum.Succeeded)
	require.Equal(t, 1, sum.Failed)
}

func TestBuildSkipsInvalidComponents(t *testing.T) {
	t.Parallel()

	a := buildApp(t, loadConfig(t, config.WithValue("components", []any{"plotly-graph", "nope"})))
	require.Equal(t, []string{"/plotly-graph"}, a.Table().Routes())

	_, err := Build(context.Background(), loadConfig(t, config.WithValue("components", []any{"nope"})), zap.NewNop(), WithHost(plotlyHost{}))
	require.Error(t, err)
}

func TestBuildRegistersDashboardAndSharedModules(t *testing.T) {
	t.Parallel()

	a := buildApp(t, loadConfig(t, config.WithValue("components", []any{
		map[string]any{"path": "plotly-graph", "route": "/"},
		map[string]any{"path": "plotly-graph", "route": "/graph"},
		map[string]any{"path": "components/plotly-dashboard", "route": "dashboard"},
	})))
	require.Equal(t, []string{"/", "/graph", "/dashboard"}, a.Table().Routes())
	comps := a.Table().Components()
	require.Equal(t, "plotly-graph", comps[0].Name)
	require.Equal(t, "plotly-graph", comps[1].Name)
	require.Equal(t, "plotly-dashboard", comps[2].Name)
}

func TestBuildAppliesRendererOptions(t *testing.T) {
	t.Parallel()

	a := buildApp(t, loadConfig(t,
		config.WithValue("renderer.mapbox_access_token", "tok"),
		config.WithValue("components", []any{
			"plotly-graph",
			map[string]any{"name": "plotly-thumbnail", "options": map[string]any{"mapboxAccessToken": "own"}},
		}),
	))
	comps := a.Table().Components()
	require.Len(t, comps, 2)
	require.Equal(t, "tok", comps[0].Options.String("mapboxAccessToken"))
	require.Equal(t, "own", comps[1].Options.String("mapboxAccessToken"))
}

func TestServeExportsUntilCanceled(t *testing.T) {
	t.Parallel()

	a := buildApp(t, loadConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()

	require.Eventually(t, func() bool { return a.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	base := "http://" + strings.Replace(a.Addr(), "[::]", "127.0.0.1", 1)

	resp, err := http.Get(base + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "pong", string(body))

	resp, err = http.Post(base+"/plotly-graph", "application/json", strings.NewReader(`{"figure":`+figure+`}`))
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, pngBytes, body)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeStopsAtRequestLimit(t *testing.T) {
	t.Parallel()

	a := buildApp(t, loadConfig(t, config.WithValue("server.request_limit", 1)))
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(context.Background()) }()

	require.Eventually(t, func() bool { return a.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	base := "http://" + strings.Replace(a.Addr(), "[::]", "127.0.0.1", 1)
	resp, err := http.Post(base+"/plotly-graph", "application/json", strings.NewReader(figure))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop at the request limit")
	}
}
