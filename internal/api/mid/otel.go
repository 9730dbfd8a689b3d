package mid

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stc-sync/pkg/common/otel"
	"github.com/ahrav/stc-sync/pkg/web"
)

// Otel stores the tracer in the context and tags the request span with the
// route parameters (tenant, equipment, driver).
func Otel(tracer trace.Tracer) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			ctx = otel.InjectTracing(ctx, tracer)

			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				span := trace.SpanFromContext(ctx)
				for i, key := range rctx.URLParams.Keys {
					if key == "*" || i >= len(rctx.URLParams.Values) {
						continue
					}
					span.SetAttributes(attribute.String("http.route.param."+key, rctx.URLParams.Values[i]))
				}
			}

			return next(ctx, r)
		}

		return h
	}

	return m
}
