package common

import (
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DebugMux returns a mux exposing the prometheus registry on /metrics, the
// pprof handlers under /debug/pprof and the statsviz runtime dashboard under
// /debug/statsviz.
func DebugMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if err := statsviz.Register(mux); err != nil {
		return nil, err
	}
	return mux, nil
}

// NewMetricsServer returns an HTTP server serving DebugMux on addr. The caller
// owns ListenAndServe and Shutdown.
func NewMetricsServer(addr string) (*http.Server, error) {
	mux, err := DebugMux()
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}
