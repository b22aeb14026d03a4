package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/banshee-data/darkframes/internal/monitoring"
)

// startServer serves h on addr in the background. The returned func shuts
// the server down.
func startServer(addr string, h http.Handler) (stop func()) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("HTTP server on %s failed: %v", addr, err)
		}
	}()
	monitoring.Logf("listening on %s", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
		}
	}
}
