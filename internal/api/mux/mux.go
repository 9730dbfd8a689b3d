// Package mux assembles the HTTP handler with every route bound.
package mux

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stc-sync/internal/api/health"
	"github.com/ahrav/stc-sync/internal/api/mid"
	"github.com/ahrav/stc-sync/internal/api/provisioning"
	"github.com/ahrav/stc-sync/internal/domain/events"
	"github.com/ahrav/stc-sync/pkg/common/logger"
	"github.com/ahrav/stc-sync/pkg/web"
)

// Options represent optional parameters.
type Options struct {
	corsOrigin []string
}

// WithCORS provides configuration options for CORS.
func WithCORS(origins []string) func(opts *Options) {
	return func(opts *Options) {
		opts.corsOrigin = origins
	}
}

// Metrics is what the HTTP layer records.
type Metrics interface {
	mid.RequestMetrics
	provisioning.StreamMetrics
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build     string
	Log       *logger.Logger
	Tracer    trace.Tracer
	Sync      provisioning.JobFactory
	EventBus  events.DomainEventPublisher
	Metrics   Metrics
	Keepalive time.Duration
	Ready     health.Checker
}

// WebAPI constructs a http.Handler with all application routes bound.
func WebAPI(cfg Config, options ...func(opts *Options)) http.Handler {
	logger := func(ctx context.Context, msg string, args ...any) {
		cfg.Log.Info(ctx, msg, args...)
	}

	mw := []web.MidFunc{
		mid.Otel(cfg.Tracer),
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
	}
	if cfg.Metrics != nil {
		mw = append(mw, mid.Metrics(cfg.Metrics))
	}
	mw = append(mw, mid.Panics())

	app := web.NewApp(logger, cfg.Tracer, mw...)

	var opts Options
	for _, option := range options {
		option(&opts)
	}

	if len(opts.corsOrigin) > 0 {
		app.EnableCORS(opts.corsOrigin)
	}

	health.Routes(app, health.Config{Build: cfg.Build, Log: cfg.Log, Ready: cfg.Ready})

	var streamMetrics provisioning.StreamMetrics
	if cfg.Metrics != nil {
		streamMetrics = cfg.Metrics
	}
	provisioning.Routes(app, provisioning.Config{
		Log:       cfg.Log,
		Tracer:    cfg.Tracer,
		Service:   cfg.Sync,
		Publisher: cfg.EventBus,
		Metrics:   streamMetrics,
		Keepalive: cfg.Keepalive,
	})

	return app
}
