// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus collectors for audit activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/scout/internal/audit"
)

const namespace = "scout"

// Collector holds every scout metric on its own registry.
type Collector struct {
	registry *prometheus.Registry

	routed        *prometheus.CounterVec
	routeDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	appended      *prometheus.CounterVec
	rotations     prometheus.Counter
	generation    prometheus.Gauge
	segmentBytes  prometheus.Gauge
	gitFailures   prometheus.Counter
	hourlySpend   prometheus.Gauge
	accuracyMean  prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_routed_total",
			Help:      "Events handled by the router, by type and outcome.",
		}, []string{"event_type", "outcome"}),
		routeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "Time from receiving a raw event to finishing dispatch.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"event_type"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "router_in_flight",
			Help:      "Route calls currently dispatching.",
		}),
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Records durably appended to the audit log.",
		}, []string{"event_type"}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_rotations_total",
			Help:      "Audit segment rotations.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_segment_generation",
			Help:      "Generation of the active audit segment.",
		}),
		segmentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_segment_bytes",
			Help:      "Size of the active audit segment.",
		}),
		gitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "git_lookup_failures_total",
			Help:      "Commit events stored with git_metadata unavailable.",
		}),
		hourlySpend: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hourly_spend",
			Help:      "Spend of the last complete hour at the last status refresh.",
		}),
		accuracyMean: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accuracy_mean",
			Help:      "Mean accuracy score at the last status refresh.",
		}),
	}
	c.registry.MustRegister(
		c.routed, c.routeDuration, c.inFlight, c.appended, c.rotations,
		c.generation, c.segmentBytes, c.gitFailures, c.hourlySpend, c.accuracyMean,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry holding the collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRoute records the outcome of one Route call.
func (c *Collector) ObserveRoute(t audit.EventType, outcome string, d time.Duration) {
	c.routed.WithLabelValues(string(t), outcome).Inc()
	c.routeDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}

// SetInFlight reports the number of Route calls in progress.
func (c *Collector) SetInFlight(n int64) {
	c.inFlight.Set(float64(n))
}

// GitLookupFailed counts a commit stored without git metadata.
func (c *Collector) GitLookupFailed() {
	c.gitFailures.Inc()
}

// ObserveAppend is an audit.Options.OnAppend hook.
func (c *Collector) ObserveAppend(e audit.Event) {
	c.appended.WithLabelValues(string(e.Type)).Inc()
}

// ObserveRotate is an audit.Options.OnRotate hook.
func (c *Collector) ObserveRotate(_, active audit.Segment) {
	c.rotations.Inc()
	c.generation.Set(float64(active.Generation))
	c.segmentBytes.Set(0)
}

// ObserveSegment records the state of the active segment.
func (c *Collector) ObserveSegment(active audit.Segment) {
	c.generation.Set(float64(active.Generation))
	c.segmentBytes.Set(float64(active.SizeBytes))
}

// ObserveDerived records the latest derived figures.
func (c *Collector) ObserveDerived(hourlySpend, accuracyMean float64) {
	c.hourlySpend.Set(hourlySpend)
	c.accuracyMean.Set(accuracyMean)
}
