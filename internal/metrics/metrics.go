// Package metrics exposes the worker's Prometheus collectors, served at
// /metrics on the operational HTTP listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScrapesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricebox_scrapes_total",
		Help: "Scrape attempts by marketplace and terminal status.",
	}, []string{"marketplace", "status"})

	ScrapeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricebox_scrape_duration_seconds",
		Help:    "Duration of one scrape attempt.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
	}, []string{"marketplace"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricebox_queue_depth",
		Help: "Jobs waiting in the backlog.",
	})

	QueueInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricebox_queue_in_flight",
		Help: "Jobs currently being processed.",
	})

	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricebox_job_retries_total",
		Help: "Job retry re-enqueues.",
	})

	AlertsTriggeredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricebox_alerts_triggered_total",
		Help: "Alert rule firings by kind.",
	}, []string{"kind"})
)
