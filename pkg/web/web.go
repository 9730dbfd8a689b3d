// Package web contains a small web framework extension over chi.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Encoder defines behavior that can encode a data model and provide
// the content type for that encoding.
type Encoder interface {
	Encode() (data []byte, contentType string, err error)
}

// HandlerFunc represents a function that handles a http request within our own
// little mini framework.
type HandlerFunc func(ctx context.Context, r *http.Request) Encoder

// StreamHandlerFunc handles requests that write their own long-lived response
// body (server-sent events). Returning a non-nil Encoder is only valid before
// anything was written to w.
type StreamHandlerFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request) Encoder

// Logger represents a function that will be called to add information
// to the logs.
type Logger func(ctx context.Context, msg string, args ...any)

// App is the entrypoint into our application and what configures our context
// object for each of our http handlers.
type App struct {
	log     Logger
	tracer  trace.Tracer
	mux     *chi.Mux
	mw      []MidFunc
	origins []string
}

// NewApp creates an App value that handle a set of routes for the application.
func NewApp(log Logger, tracer trace.Tracer, mw ...MidFunc) *App {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)

	return &App{
		log:    log,
		tracer: tracer,
		mux:    mux,
		mw:     mw,
	}
}

// ServeHTTP implements the http.Handler interface.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// EnableCORS enables CORS preflight requests to work in the middleware. It
// prevents the MethodNotAllowedHandler from being called.
func (a *App) EnableCORS(origins []string) {
	a.origins = origins

	handler := func(ctx context.Context, r *http.Request) Encoder {
		return cors{Status: "OK"}
	}
	handler = wrapMiddleware([]MidFunc{a.corsHandler}, handler)

	a.HandlerFuncNoMid(http.MethodOptions, "", "/*", handler)
}

func (a *App) corsHandler(webHandler HandlerFunc) HandlerFunc {
	h := func(ctx context.Context, r *http.Request) Encoder {
		w := GetWriter(ctx)

		reqOrigin := r.Header.Get("Origin")
		for _, origin := range a.origins {
			if origin == "*" || origin == reqOrigin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "POST, PATCH, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Last-Event-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		return webHandler(ctx, r)
	}

	return h
}

// HandlerFuncNoMid sets a handler function for a given HTTP method and path
// pair to the application server mux. Does not include the application
// middleware.
func (a *App) HandlerFuncNoMid(method string, group string, path string, handlerFunc HandlerFunc) {
	a.register(method, group, path, func(ctx context.Context, w http.ResponseWriter, r *http.Request) Encoder {
		return handlerFunc(ctx, r)
	}, nil)
}

// HandlerFunc sets a handler function for a given HTTP method and path pair
// to the application server mux.
func (a *App) HandlerFunc(method string, group string, path string, handlerFunc HandlerFunc, mw ...MidFunc) {
	a.register(method, group, path, func(ctx context.Context, w http.ResponseWriter, r *http.Request) Encoder {
		return handlerFunc(ctx, r)
	}, a.chain(mw))
}

// StreamFunc sets a streaming handler for a given HTTP method and path pair.
// Application middleware still runs around the handler.
func (a *App) StreamFunc(method string, group string, path string, handlerFunc StreamHandlerFunc, mw ...MidFunc) {
	a.register(method, group, path, handlerFunc, a.chain(mw))
}

// chain places the application middleware outside any route middleware.
func (a *App) chain(mw []MidFunc) []MidFunc {
	all := make([]MidFunc, 0, len(a.mw)+len(mw))
	all = append(all, a.mw...)
	return append(all, mw...)
}

func (a *App) register(method, group, path string, handlerFunc StreamHandlerFunc, mw []MidFunc) {
	h := func(w http.ResponseWriter, r *http.Request) {
		ctx, span := a.startSpan(w, r)
		defer span.End()

		ctx = setWriter(ctx, w)
		ctx = setValues(ctx, &Values{
			TraceID: span.SpanContext().TraceID().String(),
			Now:     timeNow(),
		})

		inner := func(ctx context.Context, r *http.Request) Encoder {
			return handlerFunc(ctx, w, r)
		}
		inner = wrapMiddleware(mw, inner)

		resp := inner(ctx, r)
		if err := Respond(ctx, w, resp); err != nil {
			a.log(ctx, "web-respond", "ERROR", err)
		}
	}

	finalPath := path
	if group != "" {
		finalPath = "/" + strings.Trim(group, "/") + path
	}

	a.mux.MethodFunc(method, finalPath, h)
}

// startSpan initializes the request by adding a span and writing otel
// related information into the response writer for the response.
func (a *App) startSpan(w http.ResponseWriter, r *http.Request) (context.Context, trace.Span) {
	ctx := r.Context()

	// There are times when the handler is called without a tracer, such
	// as with tests. We need a span for the trace id.
	span := trace.SpanFromContext(ctx)

	// If a tracer exists, then replace the span for the one currently
	// found in the context. This may have come from over the wire.
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "pkg.web.handle")
		span.SetAttributes(attribute.String("endpoint", r.RequestURI))
	}

	w.Header().Set("Traceparent", span.SpanContext().TraceID().String())

	return ctx, span
}

// Param returns the web call parameters from the request.
func Param(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

// NoResponse tells Respond not to touch the response writer.
type NoResponse struct{}

// Encode implements the Encoder interface.
func (NoResponse) Encode() ([]byte, string, error) { return nil, "", nil }

// HTTPStatusSetter lets an Encoder choose its status code.
type HTTPStatusSetter interface {
	HTTPStatus() int
}

// Respond sends a response to the client.
func Respond(ctx context.Context, w http.ResponseWriter, resp Encoder) error {
	if resp == nil {
		return nil
	}
	if _, ok := resp.(NoResponse); ok {
		return nil
	}

	// If the context has been canceled, it means the client is no longer
	// waiting for a response.
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("client disconnected, do not send response")
		}
	}

	statusCode := http.StatusOK
	if v, ok := resp.(HTTPStatusSetter); ok {
		statusCode = v.HTTPStatus()
	}

	if statusCode == http.StatusNoContent {
		w.WriteHeader(statusCode)
		return nil
	}

	data, contentType, err := resp.Encode()
	if err != nil {
		return fmt.Errorf("respond: encode: %w", err)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("respond: write: %w", err)
	}

	return nil
}

type cors struct {
	Status string
}

func (c cors) Encode() ([]byte, string, error) {
	return []byte(`{"status":"` + c.Status + `"}`), "application/json", nil
}
