// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/mqc3/scheduler/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_jobs_submitted_total",
		Help: "Total number of jobs submitted, by backend and role",
	}, []string{"backend", "role"})
	JobsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_jobs_dispatched_total",
		Help: "Total number of jobs dispatched to an execution worker, by backend",
	}, []string{"backend"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_jobs_completed_total",
		Help: "Total number of jobs that reached a terminal state, by backend and status",
	}, []string{"backend", "status"})
	JobsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_jobs_cancelled_total",
		Help: "Total number of jobs cancelled before dispatch",
	})
	JobsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_jobs_rejected_total",
		Help: "Total number of submissions rejected, by reason",
	}, []string{"reason"})
	JobQueueDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_job_queue_duration_seconds",
		Help:    "Histogram of time a job spent queued before dispatch",
		Buckets: prometheus.DefBuckets,
	})
	JobExecutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_job_execution_duration_seconds",
		Help:    "Histogram of time a job spent executing before finalize",
		Buckets: prometheus.DefBuckets,
	})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scheduler_queue_length",
		Help: "Current number of queued jobs, by backend",
	}, []string{"backend"})
	QueueBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scheduler_queue_bytes",
		Help: "Current byte accounting of a backend's queue, by backend",
	}, []string{"backend"})
	BurstTableSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_burst_table_size",
		Help: "Number of tokens currently tracked in the burst-score table",
	})
	BackendAvailability = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scheduler_backend_availability",
		Help: "1 if a backend is available, 0 otherwise, by backend",
	}, []string{"backend"})
)

func init() {
	prometheus.MustRegister(
		JobsSubmitted, JobsDispatched, JobsCompleted, JobsCancelled, JobsRejected,
		JobQueueDuration, JobExecutionDuration, QueueLength, QueueBytes,
		BurstTableSize, BackendAvailability,
	)
}

// StartMetricsServer exposes /metrics and returns a server for controlled
// shutdown. Retained for compatibility; StartHTTPServer also registers
// health endpoints and is preferred for new callers.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
