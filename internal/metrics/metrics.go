package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/service"
	"github.com/notifyhub/stock-alerts/internal/worker"
)

const namespace = "stock_alerts"

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); the dispatcher and the retry worker
// receive plain callbacks so they stay free of the prometheus import.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
	RetryOutcomes   *prometheus.CounterVec
	RetryScans      *prometheus.CounterVec
}

// New registers all instruments with reg. A dedicated registry keeps tests
// isolated from the global one.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Notification policy decisions by reason.",
		}, []string{"reason"}),

		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-target delivery attempts by channel and result.",
		}, []string{"channel", "result"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_seconds",
			Help:      "Channel adapter latency including transport retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),

		RetryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_outcomes_total",
			Help:      "Deferred notifications processed by the retry worker, by outcome.",
		}, []string{"outcome"}),

		RetryScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_scans_total",
			Help:      "Retry worker scans by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.Decisions,
		m.Deliveries,
		m.DeliveryLatency,
		m.RetryOutcomes,
		m.RetryScans,
	)

	return m
}

func (m *Metrics) DispatcherHooks() service.DispatchHooks {
	return service.DispatchHooks{
		OnDecision: func(reason domain.Reason) {
			m.Decisions.WithLabelValues(string(reason)).Inc()
		},
		OnDelivery: func(ch domain.Channel, ok bool, latency time.Duration) {
			result := "ok"
			if !ok {
				result = "error"
			}
			m.Deliveries.WithLabelValues(string(ch), result).Inc()
			m.DeliveryLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
		},
	}
}

func (m *Metrics) WorkerHooks() worker.Hooks {
	return worker.Hooks{
		OnScan: func(result string) {
			m.RetryScans.WithLabelValues(result).Inc()
		},
		OnOutcome: func(outcome string) {
			m.RetryOutcomes.WithLabelValues(outcome).Inc()
		},
	}
}
