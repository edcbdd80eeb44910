package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/revstore/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics and health checks",
	Long: `Run an HTTP server exposing Prometheus metrics on /metrics and a
health check on /healthz. The listen address defaults to metrics_listen
from the workspace config.`,
	Run: runServe,
}

var serveListen string

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default: configured metrics_listen)")
}

func runServe(cmd *cobra.Command, args []string) {
	c := initContext()
	defer closeContext(c)

	logger := c.Logger
	listen := pick(serveListen, c.Config.MetricsListen)

	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := &http.Server{
		Addr:         listen,
		Handler:      newServeMux(c.Registry, c.Store),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting revstore server", "listen", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

// healthStatus is the /healthz response body.
type healthStatus struct {
	Status   string `json:"status"`
	Branches int    `json:"branches"`
	Error    string `json:"error,omitempty"`
}

func newServeMux(reg *prometheus.Registry, st *store.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		branches, err := st.ListBranches()
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(healthStatus{Status: "unavailable", Error: err.Error()})
			return
		}
		json.NewEncoder(w).Encode(healthStatus{Status: "ok", Branches: len(branches)})
	})
	return mux
}
