package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/export"
	"github.com/JakeFAU/figure-exporter/internal/health"
	"github.com/JakeFAU/figure-exporter/internal/input"
	"github.com/JakeFAU/figure-exporter/internal/lifecycle"
	"github.com/JakeFAU/figure-exporter/internal/progress"
	"github.com/JakeFAU/figure-exporter/internal/telemetry"
)

func (s *Server) controller(comp *component.Component) lifecycle.Controller {
	ctrl := lifecycle.Controller{
		Component: comp,
		Bus:       s.deps.Pool.Bus(),
		Clock:     s.deps.Clock,
		IDs:       s.deps.IDs,
		Pending:   s.pending,
		Hasher:    s.deps.Hasher,
		Logger:    s.logger,
	}
	if w, ok := s.deps.Pool.Worker(comp.Route); ok && w.Ready() {
		ctrl.Renderer = w
	}
	return ctrl
}

func (s *Server) exportHandler(comp *component.Component) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.Tracer().Start(r.Context(), "export "+comp.Name)
		defer span.End()

		ctrl := s.controller(comp)
		task := ctrl.Start(export.Record{Route: comp.Route, Method: r.Method})
		s.emit(progress.StageBeforeExport, task.Record())
		span.SetAttributes(
			attribute.String("export.id", task.Record().ID),
			attribute.String("export.component", comp.Name),
		)

		var out lifecycle.Outcome
		switch {
		case ctrl.Renderer == nil:
			out = task.Fail(export.Fail(export.CodeWindowMissing, "%s", export.StatusText(export.CodeWindowMissing)))
		default:
			if err := s.deps.Pool.Admit(); err != nil {
				out = task.Fail(err)
				break
			}
			runCtx, cancel := context.WithTimeoutCause(ctx, s.cfg.RequestTimeout, errSocketTimeout)
			out = task.Run(runCtx, s.bodyLoader(w, r))
			if out.Abandoned && errors.Is(context.Cause(runCtx), errSocketTimeout) {
				out.Record.Code = export.CodeSocketTimeout
				out.Record.Msg = export.StatusText(export.CodeSocketTimeout)
			}
			cancel()
		}

		rec := out.Record
		span.SetAttributes(attribute.Int("export.code", int(rec.Code)))
		if !out.OK() {
			span.SetStatus(codes.Error, rec.Msg)
			s.logger.Debug("export failed",
				zap.String("id", rec.ID),
				zap.String("route", rec.Route),
				zap.Int("code", int(rec.Code)),
				zap.String("error", rec.Error),
			)
			s.emit(progress.StageExportError, rec)
			simpleReply(w, rec.Code, rec.Msg)
			s.countServed()
			return
		}

		for k, vals := range rec.Head {
			for _, v := range vals {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(rec.Body); err != nil {
			rec.Code = export.CodeClientClosed
			rec.Msg = export.StatusText(export.CodeClientClosed)
			rec.Error = err.Error()
			s.emit(progress.StageExportError, rec)
			s.countServed()
			return
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		s.emit(progress.StageAfterExport, rec)
		s.countServed()
	}
}

// bodyLoader reads and decodes the request body under the request deadline.
// A stalled body is a socket timeout, an oversized body is a json parse
// error and any other read failure is a request error.
func (s *Server) bodyLoader(w http.ResponseWriter, r *http.Request) lifecycle.Loader {
	return func(ctx context.Context) (any, error) {
		rc := http.NewResponseController(w)
		if deadline, ok := ctx.Deadline(); ok {
			if err := rc.SetReadDeadline(deadline); err == nil {
				defer func() { _ = rc.SetReadDeadline(time.Time{}) }()
			}
		}
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.BodyLimit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				return nil, export.Wrap(export.CodeJSONParse, err)
			case isTimeout(err) || errors.Is(context.Cause(ctx), errSocketTimeout):
				return nil, export.Wrap(export.CodeSocketTimeout, err)
			default:
				return nil, export.Wrap(export.CodeRequestError, err)
			}
		}
		return input.Decode(raw)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	workers := s.deps.Pool.Workers()
	pingers := make([]health.Pinger, 0, len(workers))
	for _, wk := range workers {
		pingers = append(pingers, wk)
	}
	ctx, cancel := context.WithTimeoutCause(r.Context(), s.cfg.RequestTimeout, errSocketTimeout)
	defer cancel()

	err := health.Ping(ctx, s.deps.Pool.Bus(), s.deps.IDs, pingers...)
	switch {
	case err == nil:
		simpleReply(w, export.CodeOK, export.StatusText(export.CodeOK))
	case errors.Is(err, errSocketTimeout):
		simpleReply(w, export.CodeSocketTimeout, "")
	default:
		s.logger.Warn("ping failed", zap.Error(err))
		simpleReply(w, export.CodeInternal, err.Error())
	}
}

func (s *Server) emit(stage progress.Stage, rec export.Record) {
	s.deps.Emitter.Emit(progress.FromRecord(stage, rec, s.deps.Clock.Now()))
}
