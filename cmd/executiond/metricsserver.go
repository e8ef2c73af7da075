package main

import (
	"net/http"
	"time"

	"github.com/web3guy0/execengine/metrics"
)

// newMetricsServer builds the standalone prometheus listener, separate
// from the admin surface.
func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}
