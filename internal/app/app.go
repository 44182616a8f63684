// Package app builds the exporter's long-lived services from configuration
// and runs the two entry points: the export server and the batch graph
// command.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/api"
	"github.com/JakeFAU/figure-exporter/internal/backoff"
	"github.com/JakeFAU/figure-exporter/internal/batch"
	"github.com/JakeFAU/figure-exporter/internal/clock/system"
	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/component/plotlydashboard"
	"github.com/JakeFAU/figure-exporter/internal/component/plotlygraph"
	"github.com/JakeFAU/figure-exporter/internal/component/plotlythumbnail"
	"github.com/JakeFAU/figure-exporter/internal/config"
	"github.com/JakeFAU/figure-exporter/internal/export"
	collyfetcher "github.com/JakeFAU/figure-exporter/internal/fetcher/colly"
	"github.com/JakeFAU/figure-exporter/internal/hash/sha256"
	"github.com/JakeFAU/figure-exporter/internal/id/uuid"
	"github.com/JakeFAU/figure-exporter/internal/input"
	"github.com/JakeFAU/figure-exporter/internal/ipc"
	"github.com/JakeFAU/figure-exporter/internal/lifecycle"
	"github.com/JakeFAU/figure-exporter/internal/metrics"
	"github.com/JakeFAU/figure-exporter/internal/policy/ratelimit"
	"github.com/JakeFAU/figure-exporter/internal/pool"
	"github.com/JakeFAU/figure-exporter/internal/progress"
	progresssinks "github.com/JakeFAU/figure-exporter/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/figure-exporter/internal/publisher/pubsub"
	"github.com/JakeFAU/figure-exporter/internal/renderer"
	"github.com/JakeFAU/figure-exporter/internal/renderer/headless"
	gcsstorage "github.com/JakeFAU/figure-exporter/internal/storage/gcs"
	localstorage "github.com/JakeFAU/figure-exporter/internal/storage/local"
	pgstore "github.com/JakeFAU/figure-exporter/internal/storage/postgres"
	"github.com/JakeFAU/figure-exporter/internal/supervisor"
	"github.com/JakeFAU/figure-exporter/internal/telemetry"
)

// ServiceName identifies the exporter in traces and notifications.
const ServiceName = "figure-exporter"

// Version is stamped into the tracer resource.
var Version = "dev"

// Option customizes Build.
type Option func(*App)

// WithHost replaces the headless Chrome host.
func WithHost(h renderer.Host) Option {
	return func(a *App) { a.host = h }
}

// WithStdout redirects streamed batch output.
func WithStdout(w io.Writer) Option {
	return func(a *App) { a.stdout = w }
}

// WithStdin replaces the reader behind the "-" input.
func WithStdin(r io.Reader) Option {
	return func(a *App) { a.stdin = r }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	table    *component.Table
	host     renderer.Host
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	hub      *progress.Hub
	emitter  progress.Emitter

	ids    export.IDGenerator
	clock  export.Clock
	hasher export.Hasher

	gcs       *gcsstorage.BlobStore
	exportLog *pgstore.ExportLogStore
	publisher *gcppublisher.Publisher

	stdout io.Writer
	stdin  io.Reader
	addr   atomic.Value

	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. Optional backends (GCS,
// Postgres, Pub/Sub) are connected only when configured.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(),
		hasher: sha256.New(),
		stdout: os.Stdout,
		stdin:  os.Stdin,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("max_windows", cfg.Server.MaxWindows),
		zap.Bool("keep_alive", cfg.Server.KeepAlive),
	)

	tp, err := telemetry.InitTracerProvider(ctx, ServiceName, Version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	reg := component.NewRegistry(plotlygraph.Module(), plotlythumbnail.Module(), plotlydashboard.Module())
	a.table, err = reg.ResolveAll(cfg.Components, logger.Named("registry"))
	if err != nil {
		return nil, fmt.Errorf("component registry: %w", err)
	}
	for _, comp := range a.table.Components() {
		applyRendererOptions(comp, cfg)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics, err = metrics.New(a.registry, a.registry)
	if err != nil {
		return nil, fmt.Errorf("metrics init failed: %w", err)
	}

	if a.host == nil {
		a.host = headless.New(headless.Config{
			ChromePath:        cfg.Renderer.ChromePath,
			NavigationTimeout: cfg.NavTimeout(),
			Debug:             cfg.Server.Debug || cfg.Batch.Debug,
		}, logger.Named("renderer"))
	}

	if err := a.setupDatabase(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.setupProgress(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// applyRendererOptions fills component options from the renderer section
// without overriding options given in the component descriptor.
func applyRendererOptions(comp *component.Component, cfg config.Config) {
	defaults := map[string]string{
		plotlygraph.OptPlotlyJS:          cfg.Renderer.PlotlyJS,
		plotlygraph.OptMathJax:           cfg.Renderer.MathJax,
		plotlygraph.OptTopojson:          cfg.Renderer.Topojson,
		plotlygraph.OptMapboxAccessToken: cfg.Renderer.MapboxAccessToken,
		plotlygraph.OptMinPlotlyVersion:  cfg.Renderer.MinPlotlyVersion,
		plotlygraph.OptPdftops:           cfg.Convert.PdftopsPath,
	}
	for key, val := range defaults {
		if val == "" {
			continue
		}
		if _, set := comp.Options[key]; !set {
			comp.Options[key] = val
		}
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn configured, export audit log disabled")
		return nil
	}
	store, err := pgstore.NewExportLogStore(ctx, pgstore.ExportLogStoreConfig{
		DSN:   a.cfg.DB.DSN,
		Table: a.cfg.DB.Table,
	})
	if err != nil {
		return fmt.Errorf("export log store init failed: %w", err)
	}
	a.exportLog = store
	a.logger.Info("export log store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, notifications disabled")
		return nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	if a.exportLog != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.exportLog, a.logger.Named("progress_store")))
		a.logger.Debug("added export log sink")
	}
	if a.publisher != nil {
		sinkList = append(sinkList, progresssinks.NewPublisherSink(a.publisher, a.cfg.PubSub.TopicName, a.logger.Named("progress_pubsub")))
		a.logger.Debug("added publisher sink")
	}
	a.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	a.emitter = a.hub
	return nil
}

// Table returns the resolved component table.
func (a *App) Table() *component.Table {
	return a.table
}

// Addr reports the address the export server is bound to, or "" before
// the first listen.
func (a *App) Addr() string {
	addr, _ := a.addr.Load().(string)
	return addr
}

func (a *App) restartPolicy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts: a.cfg.Supervisor.MaxRestarts,
		BaseDelay:   time.Duration(a.cfg.Supervisor.BackoffMs) * time.Millisecond,
	}
}

func (a *App) newPool() *pool.Pool {
	return pool.New(a.host, ipc.New(), pool.Options{
		MaxWindows: a.cfg.Server.MaxWindows,
		Replace: backoff.Policy{
			BaseDelay: time.Duration(a.cfg.Supervisor.BackoffMs) * time.Millisecond,
		},
		Emitter: a.emitter,
		Clock:   a.clock,
		Logger:  a.logger.Named("pool"),
	})
}

// Serve runs the export server until ctx ends or the request limit is
// reached. With keep-alive a fault relaunches the whole server.
func (a *App) Serve(ctx context.Context) error {
	sup := &supervisor.Supervisor{
		KeepAlive: a.cfg.Server.KeepAlive,
		Backoff:   a.restartPolicy(),
		Logger:    a.logger.Named("supervisor"),
	}
	return sup.Run(ctx, a.launchServer)
}

func (a *App) launchServer(ctx context.Context) error {
	start := a.clock.Now()
	p := a.newPool()
	defer func() {
		if err := p.Close(); err != nil {
			a.logger.Warn("pool close failed", zap.Error(err))
		}
	}()
	if err := p.Provision(ctx, a.table.Components()); err != nil {
		return err
	}

	apiKey := ""
	if a.cfg.Auth.Enabled {
		apiKey = a.cfg.Auth.APIKey
	}
	srv := api.NewServer(api.Deps{
		Table:   a.table,
		Pool:    p,
		IDs:     a.ids,
		Clock:   a.clock,
		Hasher:  a.hasher,
		Metrics: a.metrics,
		Emitter: a.emitter,
		Logger:  a.logger.Named("api"),
	}, api.Config{
		RequestTimeout: a.cfg.RequestTimeout(),
		BodyLimit:      a.cfg.Server.BodyLimitBytes,
		CORS:           a.cfg.Server.CORS,
		APIKey:         apiKey,
		RequestLimit:   a.cfg.Server.RequestLimit,
	})

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	a.addr.Store(ln.Addr().String())
	return srv.Serve(ctx, ln, a.clock.Now().Sub(start))
}

// Graph exports items through the first configured component and reports
// the aggregate outcome. An error means no window could be opened.
func (a *App) Graph(ctx context.Context, items []string) (batch.Summary, error) {
	comps := a.table.Components()
	comp := graphComponent(comps[0], a.cfg.Batch)

	p := a.newPool()
	defer func() {
		if err := p.Close(); err != nil {
			a.logger.Warn("pool close failed", zap.Error(err))
		}
	}()
	if err := p.Provision(ctx, []*component.Component{comp}); err != nil {
		return batch.Summary{Code: export.BatchFailed, Msg: export.BatchText(export.BatchFailed)}, err
	}
	w, ok := p.Worker(comp.Route)
	if !ok {
		return batch.Summary{Code: export.BatchFailed, Msg: export.BatchText(export.BatchFailed)},
			errors.New("no renderer window for " + comp.Name)
	}

	expanded := input.ExpandGlobs(items)
	resolver := &input.Resolver{
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent: a.cfg.Fetch.UserAgent,
			Timeout:   a.cfg.FetchTimeout(),
		}),
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Fetch.RPS,
			DefaultBurst: a.cfg.Fetch.Burst,
			OnDelay:      a.metrics.ObserveRateLimitDelay,
		}),
		Observe: a.metrics.ObserveFetch,
		Stdin:   a.stdin,
		Logger:  a.logger.Named("input"),
	}

	writer, err := a.batchWriter(ctx, expanded)
	if err != nil {
		return batch.Summary{Code: export.BatchFailed, Msg: export.BatchText(export.BatchFailed)}, err
	}

	anyItems := make([]any, len(expanded))
	for i, item := range expanded {
		anyItems[i] = item
	}
	runner := &batch.Runner{
		Controller: lifecycle.Controller{
			Component: comp,
			Renderer:  w,
			Bus:       p.Bus(),
			Clock:     a.clock,
			IDs:       a.ids,
			Hasher:    a.hasher,
			Logger:    a.logger.Named("lifecycle"),
		},
		Load: func(item any) lifecycle.Loader {
			return resolver.Loader(item)
		},
		Writer:        writer,
		ParallelLimit: a.cfg.Batch.ParallelLimit,
		Emitter:       a.emitter,
		Logger:        a.logger.Named("batch"),
	}
	sum := runner.Run(ctx, anyItems)
	a.logger.Info("batch finished",
		zap.Int("code", int(sum.Code)),
		zap.String("msg", sum.Msg),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("total", sum.Total),
	)
	return sum, nil
}

// graphComponent copies comp with the batch request defaults as component
// options, so bare figures pick them up.
func graphComponent(comp *component.Component, cfg config.BatchConfig) *component.Component {
	c := *comp
	c.Options = comp.Options.Clone()
	set := func(key string, val any) {
		if _, ok := c.Options[key]; !ok {
			c.Options[key] = val
		}
	}
	if cfg.Format != "" {
		set("format", cfg.Format)
	}
	if cfg.Scale > 0 {
		set("scale", cfg.Scale)
	}
	if cfg.Width > 0 {
		set("width", cfg.Width)
	}
	if cfg.Height > 0 {
		set("height", cfg.Height)
	}
	return &c
}

// batchWriter streams to stdout unless an output location is configured.
// A GCS bucket takes precedence over the local output directory.
func (a *App) batchWriter(ctx context.Context, items []string) (batch.Writer, error) {
	out := a.cfg.Batch.Output
	if a.cfg.Storage.GCSBucket == "" && a.cfg.Batch.OutputDir == "" && out == "" {
		return &batch.StreamWriter{Out: a.stdout}, nil
	}
	prefix := batch.OutputPrefix(out)
	var store export.BlobStore
	if a.cfg.Storage.GCSBucket != "" {
		gcs, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.gcs = gcs
		store = gcs
		a.logger.Debug("GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
	} else {
		baseDir := a.cfg.Batch.OutputDir
		if baseDir == "" {
			baseDir = "."
		}
		local, err := localstorage.New(localstorage.Config{BaseDir: baseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		store = local
		if a.cfg.Storage.Prefix != "" {
			prefix = path.Join(a.cfg.Storage.Prefix, prefix)
		}
		a.logger.Debug("local storage backend", zap.String("path", baseDir))
	}
	return batch.BlobWriter{
		Store:  store,
		Prefix: prefix,
		Name:   batch.Namer(items, out),
	}, nil
}

// Close drains the event hub and releases every backend.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.exportLog != nil {
		a.exportLog.Close()
	}
	if a.host != nil {
		if err := a.host.Close(); err != nil {
			a.logger.Warn("renderer host close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}
