package mid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/stc-sync/internal/api/errs"
	"github.com/ahrav/stc-sync/pkg/common/logger"
	"github.com/ahrav/stc-sync/pkg/web"
)

type recordedRequest struct {
	method, route string
	status        int
}

type fakeMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
	observed int
}

func (f *fakeMetrics) IncRequestsTotal(_ context.Context, method, route string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method: method, route: route, status: status})
}

func (f *fakeMetrics) ObserveRequestDuration(context.Context, string, string, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed++
}

func newApp(m RequestMetrics) *web.App {
	log := logger.Noop()
	a := web.NewApp(func(context.Context, string, ...any) {}, nil,
		Logger(log), Errors(log), Metrics(m), Panics())

	a.HandlerFunc(http.MethodGet, "v1", "/boom/{id}", func(context.Context, *http.Request) web.Encoder {
		panic("kaboom")
	})
	a.HandlerFunc(http.MethodGet, "v1", "/reject/{id}", func(context.Context, *http.Request) web.Encoder {
		return errs.Newf(errs.InvalidArgument, "bad id")
	})
	return a
}

func TestPanics_RecoversAsInternalError(t *testing.T) {
	t.Parallel()

	m := new(fakeMetrics)
	rec := httptest.NewRecorder()
	newApp(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/boom/7", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "PANIC [kaboom]")

	require.Len(t, m.requests, 1)
	assert.Equal(t, recordedRequest{method: http.MethodGet, route: "/v1/boom/{id}", status: http.StatusInternalServerError}, m.requests[0])
	assert.Equal(t, 1, m.observed)
}

func TestErrors_PassesAppErrorsThrough(t *testing.T) {
	t.Parallel()

	m := new(fakeMetrics)
	rec := httptest.NewRecorder()
	newApp(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reject/7", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"code":"invalid_argument","message":"bad id"}`, rec.Body.String())
	require.Len(t, m.requests, 1)
	assert.Equal(t, http.StatusBadRequest, m.requests[0].status)
}
