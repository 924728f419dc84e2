// Package metrics exposes run, session and proxy counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles every metric the application records. Construct one per
// process; the registerer argument keeps tests isolated from the default
// registry.
type Collector struct {
	runsTotal       *prometheus.CounterVec
	sessionsTotal   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	activeSessions  prometheus.Gauge

	proxyProbes    *prometheus.CounterVec
	workingProxies prometheus.Gauge

	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

// NewCollector registers all metrics under the given namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of orchestration runs",
			},
			[]string{"target", "result"},
		),
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of sessions by outcome",
			},
			[]string{"result"},
		),
		sessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session duration from launch to teardown",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Sessions currently executing",
			},
		),
		proxyProbes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_probes_total",
				Help:      "Total number of proxy validation probes",
			},
			[]string{"result"},
		),
		workingProxies: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "working_proxies",
				Help:      "Proxies currently ranked as working",
			},
		),
		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

func (c *Collector) RecordRun(target string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.runsTotal.WithLabelValues(target, result).Inc()
}

func (c *Collector) RecordSession(success bool, seconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.sessionsTotal.WithLabelValues(result).Inc()
	c.sessionDuration.Observe(seconds)
}

func (c *Collector) SessionStarted()  { c.activeSessions.Inc() }
func (c *Collector) SessionFinished() { c.activeSessions.Dec() }

func (c *Collector) RecordProxyProbe(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.proxyProbes.WithLabelValues(result).Inc()
}

func (c *Collector) SetWorkingProxies(count int) {
	c.workingProxies.Set(float64(count))
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
