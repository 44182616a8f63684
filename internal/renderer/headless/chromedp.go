// Package headless hosts rendering windows in headless Chrome via chromedp.
// One browser process backs the host; every window is a tab that loads a
// component's index page from a temp file.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/renderer"
)

// Config controls the behavior of the headless host.
type Config struct {
	// ChromePath overrides the browser binary; empty uses chromedp's lookup.
	ChromePath string
	// NavigationTimeout bounds loading an index page.
	NavigationTimeout time.Duration
	// BuildDir holds the generated index files; empty uses os.TempDir.
	BuildDir string
	// Debug shows the browser instead of running headless.
	Debug bool
}

// Host implements renderer.Host using a single Chrome process.
type Host struct {
	cfg           Config
	logger        *zap.Logger
	allocator     context.Context
	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc
	startOnce     sync.Once
	startErr      error
	seq           atomic.Int64
}

// New creates a host; the browser starts on the first Open.
func New(cfg Config, logger *zap.Logger) *Host {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	headless := any("new")
	if cfg.Debug {
		headless = false
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("ignore-gpu-blocklist", true),
		chromedp.Flag("allow-file-access-from-files", true),
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))
	return &Host{
		cfg:           cfg,
		logger:        logger,
		allocator:     allocCtx,
		allocCancel:   allocCancel,
		browser:       browserCtx,
		browserCancel: browserCancel,
	}
}

// Close shuts the browser down.
func (h *Host) Close() error {
	h.browserCancel()
	h.allocCancel()
	return nil
}

func (h *Host) start() error {
	h.startOnce.Do(func() {
		if err := chromedp.Run(h.browser); err != nil {
			h.startErr = fmt.Errorf("start browser: %w", err)
		}
	})
	return h.startErr
}

// Open writes index to disk, opens a tab on it and waits for the readiness
// marker.
func (h *Host) Open(ctx context.Context, name string, index string) (renderer.Window, error) {
	if err := h.start(); err != nil {
		return nil, err
	}
	path, err := h.writeIndex(name, index)
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(h.browser)
	w := &window{
		id:        fmt.Sprintf("%s-%d", name, h.seq.Add(1)),
		tab:       tabCtx,
		cancel:    tabCancel,
		indexPath: path,
		done:      make(chan struct{}),
		logger:    h.logger,
	}
	// allocate the tab with its own lifetime before deriving timeouts from it
	if err := chromedp.Run(tabCtx); err != nil {
		w.release()
		return nil, fmt.Errorf("open tab for %s: %w", name, err)
	}
	chromedp.ListenTarget(tabCtx, w.onEvent)
	go func() {
		<-tabCtx.Done()
		w.markDone()
	}()

	navCtx, navCancel := context.WithTimeout(tabCtx, h.cfg.NavigationTimeout)
	defer navCancel()
	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	var ready bool
	err = chromedp.Run(navCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := inspector.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable inspector domain: %w", err)
			}
			return nil
		}),
		chromedp.Navigate("file://"+path),
		chromedp.Poll(renderer.ReadyExpression, &ready),
	)
	if err != nil {
		w.release()
		return nil, fmt.Errorf("load index for %s: %w", name, err)
	}
	return w, nil
}

func (h *Host) writeIndex(name, index string) (string, error) {
	f, err := os.CreateTemp(h.cfg.BuildDir, "index-"+name+"-*.html")
	if err != nil {
		return "", fmt.Errorf("create index file: %w", err)
	}
	if _, err := f.WriteString(index); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write index file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close index file: %w", err)
	}
	return f.Name(), nil
}

type window struct {
	id        string
	tab       context.Context
	cancel    context.CancelFunc
	indexPath string
	logger    *zap.Logger

	printMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
	closed   atomic.Bool
}

func (w *window) ID() string            { return w.id }
func (w *window) Done() <-chan struct{} { return w.done }

func (w *window) Close() error {
	w.closed.Store(true)
	w.release()
	return nil
}

func (w *window) release() {
	w.cancel()
	w.markDone()
	if err := os.Remove(w.indexPath); err != nil && !os.IsNotExist(err) {
		w.logger.Debug("remove index file failed", zap.String("path", w.indexPath), zap.Error(err))
	}
}

func (w *window) markDone() {
	w.doneOnce.Do(func() { close(w.done) })
}

func (w *window) onEvent(ev any) {
	switch e := ev.(type) {
	case *inspector.EventTargetCrashed:
		w.logger.Warn("renderer window crashed", zap.String("window", w.id))
		w.markDone()
	case *inspector.EventDetached:
		w.logger.Warn("renderer window detached", zap.String("window", w.id), zap.String("reason", string(e.Reason)))
		w.markDone()
	}
}

// run executes actions on the tab, bounded by ctx without tying the tab's
// own lifetime to it.
func (w *window) run(ctx context.Context, actions ...chromedp.Action) error {
	if w.closed.Load() {
		return renderer.ErrWindowClosed
	}
	select {
	case <-w.done:
		return renderer.ErrWindowClosed
	default:
	}
	runCtx, cancel := context.WithCancel(w.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("window %s: %w", w.id, context.Cause(ctx))
		}
		return fmt.Errorf("window %s: %w", w.id, err)
	}
	return nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// Evaluate runs expression in the page and decodes the result into out.
func (w *window) Evaluate(ctx context.Context, expression string, out any) error {
	return w.run(ctx, chromedp.Evaluate(expression, out, awaitPromise))
}

const pxPerInch = 96.0

// PrintPDF shows svg alone on the page and prints it at width x height
// pixels. Prints are serialized per window since they capture the whole page.
func (w *window) PrintPDF(ctx context.Context, svg string, width, height float64) ([]byte, error) {
	w.printMu.Lock()
	defer w.printMu.Unlock()

	src, err := json.Marshal("data:image/svg+xml;charset=utf-8," + svg)
	if err != nil {
		return nil, fmt.Errorf("encode svg: %w", err)
	}
	show := fmt.Sprintf(`new Promise(function (resolve, reject) {
  var root = document.getElementById('print-root');
  var img = new Image(%[2]g, %[3]g);
  img.onload = function () { resolve(true); };
  img.onerror = function () { reject(new Error('svg failed to load')); };
  root.innerHTML = '';
  root.appendChild(img);
  document.body.classList.add('printing');
  img.src = encodeURI(%[1]s).replace(/#/g, '%%23');
})`, src, width, height)
	hide := `(function () {
  document.body.classList.remove('printing');
  document.getElementById('print-root').innerHTML = '';
  return true;
})()`

	var (
		shown  bool
		hidden bool
		pdf    []byte
	)
	err = w.run(ctx,
		chromedp.Evaluate(show, &shown, awaitPromise),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(width / pxPerInch).
				WithPaperHeight(height / pxPerInch).
				WithMarginTop(0).
				WithMarginBottom(0).
				WithMarginLeft(0).
				WithMarginRight(0).
				WithPageRanges("1").
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = data
			return nil
		}),
		chromedp.Evaluate(hide, &hidden),
	)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

// PrintURL opens a scratch tab next to the window, loads url at width x
// height, waits for embedded frames to settle and prints the page to PDF.
// The scratch tab is closed before returning.
func (w *window) PrintURL(ctx context.Context, url string, width, height float64, wait time.Duration) ([]byte, error) {
	if w.closed.Load() {
		return nil, renderer.ErrWindowClosed
	}
	scratch, cancel := chromedp.NewContext(w.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var pdf []byte
	err := chromedp.Run(scratch,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(url),
		chromedp.Sleep(wait),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(width / pxPerInch).
				WithPaperHeight(height / pxPerInch).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = data
			return nil
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("window %s: print %s: %w", w.id, url, context.Cause(ctx))
		}
		return nil, fmt.Errorf("window %s: print %s: %w", w.id, url, err)
	}
	return pdf, nil
}
