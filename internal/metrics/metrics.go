// Package metrics exposes scanner counters to Prometheus and fans the same
// events out to in-process handlers.
//
// Registers:
//
//	signalpulse_scans_total{venue,outcome}
//	signalpulse_scan_duration_seconds{venue}
//	signalpulse_symbol_fetch_total{venue,outcome}
//	signalpulse_publish_total{sink,outcome}
//	signalpulse_active_sessions
//	go_* and process_* runtime metrics
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signalpulse/logger"
	"signalpulse/models"
)

const namespace = "signalpulse"

// Collector owns a private Prometheus registry.
type Collector struct {
	registry     *prometheus.Registry
	scans        *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	fetches      *prometheus.CounterVec
	published    *prometheus.CounterVec
	sessions     prometheus.Gauge
	log          *logger.Log
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scan requests by venue and outcome",
		}, []string{"venue", "outcome"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Latency of scan requests to the backend",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"venue"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbol_fetch_total",
			Help:      "Symbol listing requests by venue and outcome",
		}, []string{"venue", "outcome"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Scan reports published by sink and outcome",
		}, []string{"sink", "outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Scan sessions currently held by the server",
		}),
		log: logger.GetLogger(),
	}

	c.registry.MustRegister(
		c.scans,
		c.scanDuration,
		c.fetches,
		c.published,
		c.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry for gathering in tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveFetch(venue models.Venue, outcome string) {
	c.fetches.WithLabelValues(string(venue), outcome).Inc()
	if outcome == "error" {
		EmitMetric(c.log, "session", "symbol_fetch_failed", int64(1), "counter", logger.Fields{"venue": string(venue)})
	}
}

func (c *Collector) ObserveScan(venue models.Venue, outcome string, d time.Duration) {
	c.scans.WithLabelValues(string(venue), outcome).Inc()
	if outcome == "superseded" {
		return
	}
	c.scanDuration.WithLabelValues(string(venue)).Observe(d.Seconds())

	name := "scan_completed"
	if outcome == "error" {
		name = "scan_failed"
	}
	EmitMetric(c.log, "session", name, int64(1), "counter", logger.Fields{
		"venue":   string(venue),
		"outcome": outcome,
	})
}

func (c *Collector) ObservePublish(sink, outcome string) {
	c.published.WithLabelValues(sink, outcome).Inc()
}

func (c *Collector) SetSessions(n int) {
	c.sessions.Set(float64(n))
}
