// Package metrics exposes Prometheus counters for the mining loop.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instrument set for one autolauncher process.
type Metrics struct {
	registry *prometheus.Registry

	JobsMined      prometheus.Counter
	JobsRequeued   prometheus.Counter
	JobsExhausted  prometheus.Counter
	UploadFailures prometheus.Counter
	ActiveJob      prometheus.Gauge
}

// New registers the autolauncher instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		JobsMined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bfm_jobs_mined_total",
			Help: "Jobs completed and uploaded successfully.",
		}),
		JobsRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bfm_jobs_requeued_total",
			Help: "Jobs released back to the server for other clients.",
		}),
		JobsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bfm_jobs_exhausted_total",
			Help: "Jobs whose search space was fully consumed without a result.",
		}),
		UploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bfm_upload_failures_total",
			Help: "Upload attempts the server did not acknowledge.",
		}),
		ActiveJob: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bfm_active_job",
			Help: "1 while a job's worker process is running.",
		}),
	}
	reg.MustRegister(m.JobsMined, m.JobsRequeued, m.JobsExhausted, m.UploadFailures, m.ActiveJob)
	return m
}

// Serve starts the /metrics listener on addr. It runs in its own goroutine
// and is best-effort: a listener failure is logged, never fatal.
func (m *Metrics) Serve(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		log.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("metrics server stopped", "error", err)
		}
	}()
}
