package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Итоговые решения: кто решил (pdp/local/none) и что
	Decisions *prometheus.CounterVec

	// Исходы обращения к PDP: allow, deny, unavailable, timeout, bad_status, malformed, circuit_open
	PDPOutcomes *prometheus.CounterVec

	// Latency PDP (только реальные сетевые вызовы)
	PDPDuration prometheus.Histogram

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Фоновая синхронизация с PDP
	SyncQueueFill prometheus.Gauge
	SyncFailures  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "medrec_access_decisions_total",
			Help: "Final access decisions by deciding source.",
		}, []string{"source", "decision"}),

		PDPOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "medrec_pdp_outcomes_total",
			Help: "Outcomes of remote policy decision calls.",
		}, []string{"outcome"}),

		PDPDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "medrec_pdp_request_duration_seconds",
			Help:    "Histogram of remote policy decision latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "medrec_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		SyncQueueFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "medrec_pdp_sync_queue_depth",
			Help: "Current number of pending PDP registration tasks.",
		}),

		SyncFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "medrec_pdp_sync_failures_total",
			Help: "PDP registration tasks that failed or were dropped.",
		}, []string{"kind", "reason"}),
	}
}
