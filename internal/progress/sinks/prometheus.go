package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/figure-exporter/internal/progress"
)

// PrometheusSink exports export-pipeline metrics via Prometheus.
type PrometheusSink struct {
	exportsStarted  *prometheus.CounterVec
	exportsDone     *prometheus.CounterVec
	exportDuration  *prometheus.HistogramVec
	exportBytes     *prometheus.CounterVec
	pending         prometheus.Gauge
	batchRuns       *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	rendererErrors  *prometheus.CounterVec
	serverStartTime prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		exportsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exporter_exports_started_total",
			Help: "Exports that entered the lifecycle, by component.",
		}, []string{"component"}),
		exportsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exporter_exports_completed_total",
			Help: "Exports completed partitioned by component, result and code.",
		}, []string{"component", "result", "code"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exporter_export_duration_seconds",
			Help:    "Processing time per export.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"component", "result"}),
		exportBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exporter_export_bytes_total",
			Help: "Bytes produced per component and format.",
		}, []string{"component", "format"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exporter_pending_tasks",
			Help: "In-flight tasks as last reported by a dispatcher.",
		}),
		batchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exporter_batch_runs_total",
			Help: "Batch runs by aggregate result.",
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exporter_batch_duration_seconds",
			Help:    "Wall time per batch run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		rendererErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exporter_renderer_errors_total",
			Help: "Renderer window losses by component.",
		}, []string{"component"}),
		serverStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exporter_server_startup_seconds",
			Help: "Time from launch until the listener was bound.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.exportsStarted,
		s.exportsDone,
		s.exportDuration,
		s.exportBytes,
		s.pending,
		s.batchRuns,
		s.batchDuration,
		s.rendererErrors,
		s.serverStartTime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	component := evt.Component
	if component == "" {
		component = "unknown"
	}
	switch evt.Stage {
	case progress.StageBeforeExport:
		s.exportsStarted.WithLabelValues(component).Inc()
		s.pending.Set(float64(evt.Pending))
	case progress.StageAfterExport, progress.StageExportError:
		result := evt.Result()
		s.exportsDone.WithLabelValues(component, result, strconv.Itoa(int(evt.Code))).Inc()
		if evt.Dur > 0 {
			s.exportDuration.WithLabelValues(component, result).Observe(evt.Dur.Seconds())
		}
		if evt.Bytes > 0 {
			s.exportBytes.WithLabelValues(component, evt.Format).Add(float64(evt.Bytes))
		}
		s.pending.Set(float64(evt.Pending))
	case progress.StageAfterExportAll:
		s.batchRuns.WithLabelValues(evt.Result()).Inc()
		if evt.Dur > 0 {
			s.batchDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageRendererError:
		s.rendererErrors.WithLabelValues(component).Inc()
	case progress.StageAfterConnect:
		s.serverStartTime.Set(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
