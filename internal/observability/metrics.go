package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the provider's Prometheus registry on its own
// listener, away from the rate limit API.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer serves the registry at path on port, plus a plain /livez
// so scrapers and probes can reach the listener without touching the API.
func NewMetricsServer(port int, path string, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()

	if provider != nil && provider.registry != nil {
		mux.Handle(path, promhttp.HandlerFor(provider.registry, promhttp.HandlerOpts{
			ErrorLog: slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		}))
	}
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the metrics mux, for tests.
func (ms *MetricsServer) Handler() http.Handler {
	return ms.server.Handler
}

// Start blocks until the listener fails or Shutdown is called, in which case
// it returns http.ErrServerClosed.
func (ms *MetricsServer) Start() error {
	slog.Info("Serving metrics", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

// Shutdown stops accepting scrapes and waits for in-flight ones.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
