package common

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugMux_Routes(t *testing.T) {
	t.Parallel()

	mux, err := DebugMux()
	require.NoError(t, err)

	for _, path := range []string{"/metrics", "/debug/pprof/", "/debug/statsviz/"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}
