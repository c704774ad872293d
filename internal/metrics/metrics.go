// Package metrics exports the proxy's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sunbk201/speedreader/internal/whitelist"
	"github.com/sunbk201/speedreader/internal/worker"
)

const namespace = "speedreader"

type Metrics struct {
	registry *prometheus.Registry

	Rewrites          *prometheus.CounterVec
	RewriteBytes      *prometheus.CounterVec
	RewriteDuration   *prometheus.HistogramVec
	PassThroughs      *prometheus.CounterVec
	ActiveConnections *prometheus.GaugeVec
	WhitelistVersion  prometheus.Gauge
	WhitelistEntries  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrites_total",
			Help:      "Rewrite attempts by rewriter type and outcome.",
		}, []string{"type", "outcome"}),
		RewriteBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrite_bytes_total",
			Help:      "Body bytes into and out of successful rewrites.",
		}, []string{"direction"}),
		RewriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rewrite_duration_seconds",
			Help:      "Time spent rewriting one body.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"type"}),
		PassThroughs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passthrough_total",
			Help:      "Responses forwarded without a rewrite attempt, by reason.",
		}, []string{"reason"}),
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Proxied connections currently open, by protocol.",
		}, []string{"protocol"}),
		WhitelistVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "whitelist_version",
			Help:      "Version of the whitelist in use.",
		}),
		WhitelistEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "whitelist_entries",
			Help:      "Entries in the whitelist in use.",
		}),
	}
	m.registry.MustRegister(
		m.Rewrites,
		m.RewriteBytes,
		m.RewriteDuration,
		m.PassThroughs,
		m.ActiveConnections,
		m.WhitelistVersion,
		m.WhitelistEntries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRewrite(typ string, rewritten bool, in, out int, took time.Duration) {
	outcome := "fallback"
	if rewritten {
		outcome = "rewritten"
		m.RewriteBytes.WithLabelValues("in").Add(float64(in))
		m.RewriteBytes.WithLabelValues("out").Add(float64(out))
	}
	m.Rewrites.WithLabelValues(typ, outcome).Inc()
	m.RewriteDuration.WithLabelValues(typ).Observe(took.Seconds())
}

func (m *Metrics) ObservePassThrough(reason string) {
	m.PassThroughs.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnectionOpened(protocol string) {
	m.ActiveConnections.WithLabelValues(protocol).Inc()
}

func (m *Metrics) ConnectionClosed(protocol string) {
	m.ActiveConnections.WithLabelValues(protocol).Dec()
}

// WatchWhitelist keeps the whitelist gauges in step with the store.
func (m *Metrics) WatchWhitelist(store *whitelist.Store) {
	set := func(w *whitelist.Whitelist) {
		m.WhitelistVersion.Set(float64(w.Version))
		m.WhitelistEntries.Set(float64(w.Len()))
	}
	set(store.Current())
	store.Subscribe(set)
}

// WatchPool exports the rewrite pool's occupancy.
func (m *Metrics) WatchPool(p *worker.Pool) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "running",
			Help:      "Rewrites running on the worker pool.",
		}, func() float64 { return float64(p.Running()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "waiting",
			Help:      "Rewrites waiting for a worker.",
		}, func() float64 { return float64(p.Waiting()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "size",
			Help:      "Maximum concurrent rewrites.",
		}, func() float64 { return float64(p.Size()) }),
	)
}
