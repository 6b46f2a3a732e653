package observability

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"engagement/core/events"
)

type eventMetrics struct {
	published *prometheus.CounterVec
	dropOnce  sync.Once
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking published domain events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "engagement",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of domain events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.published)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.published.WithLabelValues(normalized).Inc()
}

// WatchDropped exports the drop counter of the event bus. Only the first
// source is registered.
func (m *eventMetrics) WatchDropped(source func() uint64) {
	if m == nil || source == nil {
		return
	}
	m.dropOnce.Do(func() {
		prometheus.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "engagement",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Count of event deliveries dropped because a subscriber buffer was full.",
		}, func() float64 { return float64(source()) }))
	})
}

// HandleEvent is a bus handler counting every delivered event.
func (m *eventMetrics) HandleEvent(_ context.Context, evt events.Event) error {
	m.RecordEvent(evt.EventType())
	return nil
}
