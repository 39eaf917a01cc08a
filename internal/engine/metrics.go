package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность полного цикла пайплайна
	CycleDuration *prometheus.HistogramVec

	// Traffic: решения по действиям
	DecisionsTotal *prometheus.CounterVec

	// Классификации governance (allowed/restricted/forbidden)
	GovernanceTotal *prometheus.CounterVec

	// Исходы approvals (approved/rejected/timed_out/cancelled)
	ApprovalsTotal *prometheus.CounterVec

	// Исполнения по статусу (succeeded/failed)
	ExecutionsTotal *prometheus.CounterVec

	// Rollback-и и эскалации
	RollbacksTotal   *prometheus.CounterVec
	EscalationsTotal *prometheus.CounterVec

	// Saturation: состояние per-service breaker (0 - closed, 1 - open)
	BreakerState *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern: без регистра используем локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		CycleDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scalegov_cycle_duration_seconds",
			Help:    "Histogram of full pipeline cycle latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"service"}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scalegov_decisions_total",
			Help: "Total number of scaling decisions by action.",
		}, []string{"service", "action"}),

		GovernanceTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scalegov_governance_checks_total",
			Help: "Total number of governance classifications.",
		}, []string{"service", "classification"}),

		ApprovalsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scalegov_approvals_total",
			Help: "Total number of approval request outcomes.",
		}, []string{"service", "status"}),

		ExecutionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scalegov_executions_total",
			Help: "Total number of actuator executions by status.",
		}, []string{"service", "status"}),

		RollbacksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scalegov_rollbacks_total",
			Help: "Total number of automatic rollbacks.",
		}, []string{"service"}),

		EscalationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scalegov_escalations_total",
			Help: "Total number of manual-intervention escalations.",
		}, []string{"service", "reason"}),

		BreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "scalegov_breaker_state",
			Help: "Per-service circuit breaker state (0=closed, 1=open).",
		}, []string{"service"}),
	}
}
