package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ahrav/stc-sync/pkg/web"
)

// RequestMetrics records per-route request counts and latencies.
type RequestMetrics interface {
	IncRequestsTotal(ctx context.Context, method, route string, status int)
	ObserveRequestDuration(ctx context.Context, method, route string, duration time.Duration)
}

// Metrics records the request after the handler, and any stream it wrote,
// returns. Routes are recorded by pattern so ids don't explode cardinality.
func Metrics(m RequestMetrics) web.MidFunc {
	mw := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			start := time.Now()
			resp := next(ctx, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}

			m.IncRequestsTotal(ctx, r.Method, route, statusOf(resp))
			m.ObserveRequestDuration(ctx, r.Method, route, time.Since(start))

			return resp
		}

		return h
	}

	return mw
}
