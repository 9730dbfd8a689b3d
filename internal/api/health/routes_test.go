package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/stc-sync/pkg/common/logger"
	"github.com/ahrav/stc-sync/pkg/web"
)

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		ready  Checker
		status int
		body   string
	}{
		{name: "health", path: "/v1/health", status: http.StatusOK, body: `{"status":"ok","build":"test"}`},
		{name: "ready without checker", path: "/v1/readiness", status: http.StatusOK, body: `{"status":"ready"}`},
		{
			name:   "ready",
			path:   "/v1/readiness",
			ready:  func(context.Context) error { return nil },
			status: http.StatusOK,
			body:   `{"status":"ready"}`,
		},
		{
			name:   "not ready",
			path:   "/v1/readiness",
			ready:  func(context.Context) error { return errors.New("db down") },
			status: http.StatusServiceUnavailable,
			body:   `{"code":"unavailable","message":"not ready"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := web.NewApp(func(context.Context, string, ...any) {}, nil)
			Routes(app, Config{Build: "test", Log: logger.Noop(), Ready: tt.ready})

			rec := httptest.NewRecorder()
			app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}
