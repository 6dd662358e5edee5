package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "asyncblocks"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	blockRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block",
			Name:      "runs_total",
			Help:      "Number of block command runs by outcome (ok, io_error, internal_error).",
		}, []string{"block", "result"},
	)
	blockRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "block",
			Name:      "run_duration_seconds",
			Help:      "Wall time of block command runs.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"block"},
	)
	blockClicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block",
			Name:      "clicks_total",
			Help:      "Number of runs caused by a button click.",
		}, []string{"block", "button"},
	)
	blocksConfigured = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "block",
			Name:      "configured",
			Help:      "Number of blocks on the status bar.",
		},
	)

	ipcConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "connections_total",
			Help:      "Accepted IPC connections per transport.",
		}, []string{"transport"},
	)
	ipcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "requests_total",
			Help:      "Decoded IPC records by result (accepted, malformed, dropped).",
		}, []string{"result"},
	)

	statusPublishes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "publishes_total",
			Help:      "Number of joined status strings handed to the publisher.",
		},
	)
	statusPublishErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "publish_errors_total",
			Help:      "Number of failed publisher invocations.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		blockRuns, blockRunDuration, blockClicks, blocksConfigured,
		ipcConnections, ipcRequests,
		statusPublishes, statusPublishErrors,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered collectors are kept (double Register on the default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// Block run results.
const (
	ResultOK            = "ok"
	ResultIOError       = "io_error"
	ResultInternalError = "internal_error"
)

func ObserveBlockRun(name, result string, seconds float64) {
	if regOK.Load() {
		blockRuns.WithLabelValues(name, result).Inc()
		blockRunDuration.WithLabelValues(name).Observe(seconds)
	}
}

func IncClick(name, button string) {
	if regOK.Load() {
		blockClicks.WithLabelValues(name, button).Inc()
	}
}

func SetBlocks(n int) {
	if regOK.Load() {
		blocksConfigured.Set(float64(n))
	}
}

// IPC record results.
const (
	RequestAccepted  = "accepted"
	RequestMalformed = "malformed"
	RequestDropped   = "dropped"
)

func IncConnection(transport string) {
	if regOK.Load() {
		ipcConnections.WithLabelValues(transport).Inc()
	}
}

func IncRequest(result string) {
	if regOK.Load() {
		ipcRequests.WithLabelValues(result).Inc()
	}
}

func IncPublish(failed bool) {
	if !regOK.Load() {
		return
	}
	statusPublishes.Inc()
	if failed {
		statusPublishErrors.Inc()
	}
}
