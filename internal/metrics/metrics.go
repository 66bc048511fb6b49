// Package metrics exposes prometheus collectors for the download queue and
// the resolution pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "watchy"

// Manager owns a private registry. All methods are safe on a nil receiver so
// components can run without metrics.
type Manager struct {
	registry *prometheus.Registry

	activeJobs  prometheus.Gauge
	waitingJobs prometheus.Gauge
	finished    *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	remoteCalls *prometheus.CounterVec
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "active_jobs",
			Help:      "Downloads currently handed to the host subsystem.",
		}),
		waitingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "waiting_jobs",
			Help:      "Downloads waiting for a free slot.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "finished_jobs_total",
			Help:      "Downloads that reached a terminal state.",
		}, []string{"state"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Resolve calls by outcome.",
		}, []string{"outcome"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "remote_calls_total",
			Help:      "Calls made to the unlock service by step.",
		}, []string{"step"}),
	}
	registry.MustRegister(m.activeJobs, m.waitingJobs, m.finished, m.resolutions, m.remoteCalls)
	return m
}

func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Manager) SetQueueDepth(active, waiting int) {
	if m == nil {
		return
	}
	m.activeJobs.Set(float64(active))
	m.waitingJobs.Set(float64(waiting))
}

func (m *Manager) JobFinished(state string) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(state).Inc()
}

func (m *Manager) Resolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

func (m *Manager) RemoteCall(step string) {
	if m == nil {
		return
	}
	m.remoteCalls.WithLabelValues(step).Inc()
}
