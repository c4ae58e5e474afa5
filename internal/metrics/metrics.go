// Package metrics exposes allocation counters to Prometheus. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service counters.
type Metrics struct {
	decisions            *prometheus.CounterVec
	conflicts            prometheus.Counter
	superseded           prometheus.Counter
	cacheWriteFailures   prometheus.Counter
	rebuilds             *prometheus.CounterVec
	notificationsSent    prometheus.Counter
	notificationsFailed  prometheus.Counter
	notificationsDropped prometheus.Counter

	registerOnce sync.Once
}

// New returns unregistered metrics; call Register to expose them.
func New() *Metrics {
	return &Metrics{}
}

// Register registers the counters with registry. Subsequent calls are no-ops.
func (m *Metrics) Register(registry prometheus.Registerer) {
	if m == nil || registry == nil {
		return
	}

	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.decisions = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "allocator_decisions_total",
			Help: "Hospital decisions committed to the ledger, by resulting candidacy status",
		}, []string{"status"})

		m.conflicts = factory.NewCounter(prometheus.CounterOpts{
			Name: "allocator_decision_conflicts_total",
			Help: "Decisions that lost a first-writer race and returned the persisted status",
		})

		m.superseded = factory.NewCounter(prometheus.CounterOpts{
			Name: "allocator_candidacies_superseded_total",
			Help: "Pending candidacies rejected because another hospital won the request",
		})

		m.cacheWriteFailures = factory.NewCounter(prometheus.CounterOpts{
			Name: "allocator_cache_write_failures_total",
			Help: "Dashboard deltas that could not be written",
		})

		m.rebuilds = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "allocator_dashboard_rebuilds_total",
			Help: "Dashboard rebuilds, by result",
		}, []string{"result"})

		m.notificationsSent = factory.NewCounter(prometheus.CounterOpts{
			Name: "allocator_notifications_sent_total",
			Help: "Notifications handed to the transport",
		})

		m.notificationsFailed = factory.NewCounter(prometheus.CounterOpts{
			Name: "allocator_notifications_failed_total",
			Help: "Notifications the transport rejected or timed out on",
		})

		m.notificationsDropped = factory.NewCounter(prometheus.CounterOpts{
			Name: "allocator_notifications_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full or closed",
		})
	})
}

func (m *Metrics) ObserveDecision(status string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) AddSuperseded(n int) {
	if m == nil || m.superseded == nil {
		return
	}
	m.superseded.Add(float64(n))
}

func (m *Metrics) IncCacheWriteFailure() {
	if m == nil || m.cacheWriteFailures == nil {
		return
	}
	m.cacheWriteFailures.Inc()
}

func (m *Metrics) ObserveRebuild(ok bool) {
	if m == nil || m.rebuilds == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.rebuilds.WithLabelValues(result).Inc()
}

func (m *Metrics) IncNotificationSent() {
	if m == nil || m.notificationsSent == nil {
		return
	}
	m.notificationsSent.Inc()
}

func (m *Metrics) IncNotificationFailed() {
	if m == nil || m.notificationsFailed == nil {
		return
	}
	m.notificationsFailed.Inc()
}

func (m *Metrics) IncNotificationDropped() {
	if m == nil || m.notificationsDropped == nil {
		return
	}
	m.notificationsDropped.Inc()
}
