// Package metrics exposes Prometheus collectors for conversion jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job metrics
var (
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dv_converter_jobs_submitted_total",
			Help: "Total number of accepted conversion jobs",
		},
		[]string{"color_mode", "encoder"},
	)

	JobsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dv_converter_jobs_rejected_total",
			Help: "Total number of submissions rejected before any subprocess started",
		},
		[]string{"reason"}, // "invalid_input", "invalid_parameter", "busy"
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dv_converter_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"state"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dv_converter_job_duration_seconds",
			Help:    "Wall-clock time from submission to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200, 14400},
		},
		[]string{"state"},
	)

	JobActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dv_converter_job_active",
			Help: "Whether a conversion job currently owns a subprocess slot (1 = active, 0 = idle)",
		},
	)

	JobProgressPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dv_converter_job_progress_percent",
			Help: "Last delivered progress percentage of the active job",
		},
	)
)

// Prober metrics
var (
	ProbeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dv_converter_probe_failures_total",
			Help: "Total number of duration probes that fell back to unknown duration",
		},
	)
)
