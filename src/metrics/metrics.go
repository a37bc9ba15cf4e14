// Package metrics exposes the presence core's operational counters on a
// private Prometheus registry, served alongside the health probe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry is the presence core's private metric registry. Components
// register against it at init time rather than using prometheus' global
// default registry, so tests can spin up isolated instances.
var Registry = prometheus.NewRegistry()

var (
	HeartbeatsAccepted = counter("presence_heartbeats_accepted_total", "Heartbeats that refreshed or created a liveness record.")
	HeartbeatsDropped  = counter("presence_heartbeats_dropped_total", "Heartbeats dropped by the per-user rate limiter.")
	TransitionsTotal   = counterVec("presence_transitions_total", "Status transitions published, by resulting status.", "status")
	ReaperTicks        = counter("presence_reaper_ticks_total", "Reaper loop ticks executed.")
	ReaperTickErrors   = counter("presence_reaper_tick_errors_total", "Reaper ticks aborted by a transient KV error.")
	ReaperAborted      = counter("presence_reaper_aborted_total", "Reaper conditional removes aborted by a racing heartbeat.")
	BusPublishFailures = counter("presence_bus_publish_failures_total", "Envelope publishes that failed or were dropped.")
	ActiveSessions     = gauge("presence_active_sessions", "Currently connected session sockets.")
	SubscribeDenied    = counterVec("presence_subscribe_denied_total", "Subscribe requests denied, by reason.", "reason")
	HTTPRequestLatency = histogramVec("presence_http_request_duration_seconds", "HTTP handler latency.", "route")
)

func counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	Registry.MustRegister(c)
	return c
}

func counterVec(name, help string, label string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{label})
	Registry.MustRegister(c)
	return c
}

func gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	Registry.MustRegister(g)
	return g
}

func histogramVec(name, help string, label string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help}, []string{label})
	Registry.MustRegister(h)
	return h
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
