// Package monitor exposes pipeline health over HTTP.
//
// GET /healthz reports the last run of every registered pipeline as JSON;
// GET /metrics serves prometheus counters for run outcomes, durations, and
// delta sizes. The monitor reports pipeline health only — it is not a query
// API over the store.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chai-pm/chai/pkg/pipeline"
)

// Status is the last observed run of one pipeline.
type Status struct {
	Pipeline string         `json:"pipeline"`
	LastRun  time.Time      `json:"last_run"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Stats    pipeline.Stats `json:"stats"`
}

// Registry collects pipeline run outcomes.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	statuses map[string]Status

	prom        *prometheus.Registry
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	deltaRows   *prometheus.GaugeVec
}

// NewRegistry creates a registry with its own prometheus namespace.
func NewRegistry() *Registry {
	prom := prometheus.NewRegistry()
	r := &Registry{
		statuses: make(map[string]Status),
		prom:     prom,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chai_pipeline_runs_total",
			Help: "Completed pipeline runs by outcome.",
		}, []string{"pipeline", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chai_pipeline_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"pipeline"}),
		deltaRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chai_pipeline_delta_rows",
			Help: "Rows staged by the most recent run, by entity.",
		}, []string{"pipeline", "entity"}),
	}
	prom.MustRegister(r.runsTotal, r.runDuration, r.deltaRows)
	return r
}

// Record stores the outcome of one run and updates the metrics.
func (r *Registry) Record(name string, stats pipeline.Stats, err error) {
	status := Status{
		Pipeline: name,
		LastRun:  time.Now().UTC(),
		Success:  err == nil,
		Stats:    stats,
	}
	outcome := "success"
	if err != nil {
		status.Error = err.Error()
		outcome = "failure"
	}

	r.mu.Lock()
	r.statuses[name] = status
	r.mu.Unlock()

	r.runsTotal.WithLabelValues(name, outcome).Inc()
	r.runDuration.WithLabelValues(name).Observe(stats.Duration.Seconds())
	for entity, count := range map[string]int{
		"new_packages":     stats.NewPackages,
		"updated_packages": stats.UpdatedPackages,
		"new_urls":         stats.NewURLs,
		"new_links":        stats.NewLinks,
		"new_deps":         stats.NewDeps,
		"removed_deps":     stats.RemovedDeps,
		"deleted_packages": stats.DeletedPackages,
	} {
		r.deltaRows.WithLabelValues(name, entity).Set(float64(count))
	}
}

// Snapshot returns the current status of every registered pipeline.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s)
	}
	return out
}

// Healthy reports whether every recorded pipeline's last run succeeded.
// An empty registry is healthy: nothing has run yet.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.statuses {
		if !s.Success {
			return false
		}
	}
	return true
}

// NewServer builds the monitor HTTP server.
func NewServer(addr string, reg *Registry, logger *log.Logger) *http.Server {
	if logger == nil {
		logger = log.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !reg.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(map[string]any{
			"healthy":   reg.Healthy(),
			"pipelines": reg.Snapshot(),
		}); err != nil {
			logger.Error("writing healthz response", "err", err)
		}
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg.prom, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
