package plotlydashboard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/export"
)

func TestParse(t *testing.T) {
	t.Parallel()

	var rec export.Record
	err := Parse(map[string]any{"url": "https://plot.ly/dashboard/1", "fid": "dash-1", "width": 1200.0}, nil, &rec)
	require.NoError(t, err)
	require.Equal(t, "pdf", rec.Format)
	require.Equal(t, "dash-1", rec.Fid)
	require.Equal(t, 1200.0, rec.Width)
	require.Equal(t, DefaultHeight, rec.Height)
	require.Equal(t, "https://plot.ly/dashboard/1", rec.Extra["url"])

	var defaults export.Record
	require.NoError(t, Parse(map[string]any{"url": "http://localhost:8050/", "width": 0.0}, nil, &defaults))
	require.Equal(t, DefaultWidth, defaults.Width)
	require.Equal(t, DefaultHeight, defaults.Height)
	require.Empty(t, defaults.Fid)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		body any
		msg  string
	}{
		"missing url":  {body: map[string]any{"fid": "x"}, msg: "missing dashboard url"},
		"blank url":    {body: map[string]any{"url": "  "}, msg: "missing dashboard url"},
		"not object":   {body: []any{}, msg: "missing dashboard url (non-object body)"},
		"file scheme":  {body: map[string]any{"url": "file:///etc/passwd"}, msg: "missing dashboard url (url must be absolute http(s))"},
		"relative url": {body: map[string]any{"url": "/dash/1"}, msg: "missing dashboard url (url must be absolute http(s))"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var rec export.Record
			err := Parse(tc.body, nil, &rec)
			require.Equal(t, export.CodeBadRequest, export.CodeOf(err, 0))
			require.Equal(t, tc.msg, export.MessageOf(err))
		})
	}
}

type fakePage struct {
	state string
	pdf   []byte
	err   error

	url    string
	width  float64
	height float64
	wait   time.Duration
}

func (p *fakePage) Evaluate(_ context.Context, _ string, out any) error {
	raw, _ := json.Marshal(p.state)
	return json.Unmarshal(raw, out)
}

func (p *fakePage) PrintPDF(context.Context, string, float64, float64) ([]byte, error) {
	return nil, errors.New("not used")
}

func (p *fakePage) PrintURL(_ context.Context, url string, width, height float64, wait time.Duration) ([]byte, error) {
	p.url, p.width, p.height, p.wait = url, width, height, wait
	return p.pdf, p.err
}

// plainPage cannot load external URLs.
type plainPage struct{}

func (plainPage) Evaluate(context.Context, string, any) error { return nil }

func (plainPage) PrintPDF(context.Context, string, float64, float64) ([]byte, error) {
	return nil, nil
}

func parsed(t *testing.T) export.Record {
	t.Helper()
	var rec export.Record
	require.NoError(t, Parse(map[string]any{"url": "https://plot.ly/dashboard/1"}, nil, &rec))
	return rec
}

func TestRender(t *testing.T) {
	t.Parallel()

	page := &fakePage{pdf: []byte("%PDF-1.7")}
	res, err := Render(context.Background(), page, parsed(t), export.Options{OptLoadWaitMS: 250.0})
	require.NoError(t, err)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.7")), res.ImgData)
	require.Equal(t, "https://plot.ly/dashboard/1", page.url)
	require.Equal(t, DefaultWidth, page.width)
	require.Equal(t, DefaultHeight, page.height)
	require.Equal(t, 250*time.Millisecond, page.wait)

	_, err = Render(context.Background(), page, parsed(t), nil)
	require.NoError(t, err)
	require.Equal(t, DefaultLoadWait, page.wait)
}

func TestRenderFailures(t *testing.T) {
	t.Parallel()

	res, err := Render(context.Background(), &fakePage{err: errors.New("net::ERR_NAME_NOT_RESOLVED")}, parsed(t), nil)
	require.Equal(t, export.CodeRendererError, export.CodeOf(err, 0))
	require.Equal(t, "print to PDF error", res.Msg)
	require.Equal(t, "net::ERR_NAME_NOT_RESOLVED", res.Error)

	_, err = Render(context.Background(), plainPage{}, parsed(t), nil)
	require.Equal(t, export.CodeRendererError, export.CodeOf(err, 0))
}

func TestConvert(t *testing.T) {
	t.Parallel()

	rec := export.Record{ImgData: base64.StdEncoding.EncodeToString([]byte("%PDF"))}
	require.NoError(t, Convert(context.Background(), &rec, nil))
	require.Equal(t, "%PDF", string(rec.Body))
	require.Equal(t, "application/pdf", rec.Head.Get("Content-Type"))
	require.Equal(t, "4", rec.Head.Get("Content-Length"))

	enc := export.Record{Encoded: true, ImgData: "JVBERg=="}
	require.NoError(t, Convert(context.Background(), &enc, nil))
	require.Equal(t, "data:application/pdf;base64,JVBERg==", string(enc.Body))

	bad := export.Record{ImgData: "%%%"}
	require.Equal(t, export.CodeConvertError, export.CodeOf(Convert(context.Background(), &bad, nil), 0))
}

func TestPing(t *testing.T) {
	t.Parallel()

	require.NoError(t, Ping(context.Background(), &fakePage{state: "complete"}))
	require.Error(t, Ping(context.Background(), &fakePage{state: "loading"}))
}

func TestModuleResolves(t *testing.T) {
	t.Parallel()

	comp, err := component.NewRegistry(Module()).Resolve(map[string]any{"path": "components/plotly-dashboard", "route": "dashboard"})
	require.NoError(t, err)
	require.Equal(t, Name, comp.Name)
	require.Equal(t, "/dashboard", comp.Route)
	require.Empty(t, comp.Snippets())
}
