// Package health binds the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ahrav/stc-sync/internal/api/errs"
	"github.com/ahrav/stc-sync/pkg/common/logger"
	"github.com/ahrav/stc-sync/pkg/web"
)

// Checker reports whether a dependency can serve requests.
type Checker func(ctx context.Context) error

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	// Ready is consulted by the readiness probe. Nil means always ready.
	Ready Checker
}

// Routes binds all the health check endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	app.HandlerFuncNoMid(http.MethodGet, version, "/health", health(cfg))
	app.HandlerFuncNoMid(http.MethodGet, version, "/readiness", readiness(cfg))
}

// statusResponse represents the response for health checks.
type statusResponse struct {
	Status string `json:"status"`
	Build  string `json:"build,omitempty"`
}

// Encode implements the web.Encoder interface.
func (sr statusResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(sr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func health(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		return statusResponse{Status: "ok", Build: cfg.Build}
	}
}

func readiness(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		if cfg.Ready == nil {
			return statusResponse{Status: "ready"}
		}

		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := cfg.Ready(ctx); err != nil {
			cfg.Log.Warn(ctx, "readiness check failed", "error", err)
			return errs.Newf(errs.Unavailable, "not ready")
		}
		return statusResponse{Status: "ready"}
	}
}
