package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BrokerMetrics wraps the prometheus collectors for broker activity.
type BrokerMetrics struct {
	registry *prometheus.Registry

	messagesPublishedTotal   *prometheus.CounterVec
	messagesLeasedTotal      *prometheus.CounterVec
	messagesAckedTotal       *prometheus.CounterVec
	messagesNackedTotal      *prometheus.CounterVec
	messagesDLQedTotal       *prometheus.CounterVec
	messagesReprocessedTotal *prometheus.CounterVec

	sweepRunsTotal     *prometheus.CounterVec
	sweepAffectedTotal *prometheus.CounterVec

	circuitBreakerState prometheus.Gauge

	uptime prometheus.GaugeFunc
}

var promMetrics *BrokerMetrics

// InitPrometheus initializes the Prometheus metrics subsystem under namespace.
func InitPrometheus(namespace string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &BrokerMetrics{
		registry: registry,

		messagesPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_published_total",
				Help:      "Total number of messages fanned out to subscriptions by topic",
			},
			[]string{"topic"},
		),

		messagesLeasedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_leased_total",
				Help:      "Total number of messages leased to consumers by subscription",
			},
			[]string{"subscription"},
		),

		messagesAckedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_acked_total",
				Help:      "Total number of messages acknowledged by subscription",
			},
			[]string{"subscription"},
		),

		messagesNackedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_nacked_total",
				Help:      "Total number of messages negatively acknowledged by subscription",
			},
			[]string{"subscription"},
		),

		messagesDLQedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dlq_total",
				Help:      "Total number of messages promoted to the dead-letter queue by subscription",
			},
			[]string{"subscription"},
		),

		messagesReprocessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_reprocessed_total",
				Help:      "Total number of dead-lettered messages returned to circulation by subscription",
			},
			[]string{"subscription"},
		),

		sweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Total number of sweeper invocations by sweep name",
			},
			[]string{"sweep"},
		),

		sweepAffectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_messages_affected_total",
				Help:      "Total number of messages affected by a sweeper run by sweep name",
			},
			[]string{"sweep"},
		),

		circuitBreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "postgres_circuit_breaker_state",
				Help:      "Current state of the Postgres readiness breaker (0=closed, 1=open, 2=half_open)",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the broker process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.messagesPublishedTotal,
		pm.messagesLeasedTotal,
		pm.messagesAckedTotal,
		pm.messagesNackedTotal,
		pm.messagesDLQedTotal,
		pm.messagesReprocessedTotal,
		pm.sweepRunsTotal,
		pm.sweepAffectedTotal,
		pm.circuitBreakerState,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordPublish records count messages published to topicID.
func RecordPublish(topicID string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesPublishedTotal.WithLabelValues(topicID).Add(float64(count))
}

// RecordLease records count messages leased to a consumer of subscriptionID.
func RecordLease(subscriptionID string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesLeasedTotal.WithLabelValues(subscriptionID).Add(float64(count))
}

// RecordAck records count messages acknowledged on subscriptionID.
func RecordAck(subscriptionID string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesAckedTotal.WithLabelValues(subscriptionID).Add(float64(count))
}

// RecordNack records count messages negatively acknowledged on subscriptionID.
func RecordNack(subscriptionID string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesNackedTotal.WithLabelValues(subscriptionID).Add(float64(count))
}

// RecordDLQPromotion records count messages promoted to the dead-letter queue
// on subscriptionID.
func RecordDLQPromotion(subscriptionID string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesDLQedTotal.WithLabelValues(subscriptionID).Add(float64(count))
}

// RecordDLQReprocess records count dead-lettered messages returned to
// circulation on subscriptionID.
func RecordDLQReprocess(subscriptionID string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesReprocessedTotal.WithLabelValues(subscriptionID).Add(float64(count))
}

// RecordSweep records one sweeper run of the given name and the number of
// messages it affected.
func RecordSweep(sweep string, affected int) {
	if promMetrics == nil {
		return
	}
	promMetrics.sweepRunsTotal.WithLabelValues(sweep).Inc()
	promMetrics.sweepAffectedTotal.WithLabelValues(sweep).Add(float64(affected))
}

// SetCircuitBreakerState sets the Postgres readiness breaker state gauge.
// state: 0=closed, 1=open, 2=half_open.
func SetCircuitBreakerState(state int) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerState.Set(float64(state))
}

// PrometheusHandler returns an HTTP handler for Prometheus scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}
