package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Metrics holds the engine's prometheus instruments. Services take it
// as an optional dependency; a nil receiver is safe everywhere.
type Metrics struct {
	walletDeductions   *prometheus.CounterVec
	meterDecisions     *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)

func New() *Metrics {
	factory := promauto.With(prometheus.DefaultRegisterer)
	return &Metrics{
		walletDeductions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgate",
			Subsystem: "wallet",
			Name:      "deductions_total",
			Help:      "Whole-credit wallet deductions by transaction type.",
		}, []string{"type"}),
		meterDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgate",
			Subsystem: "meter",
			Name:      "decisions_total",
			Help:      "Execution meter decisions by warning level.",
		}, []string{"level"}),
		breakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgate",
			Subsystem: "breaker",
			Name:      "state_transitions_total",
			Help:      "Circuit breaker state transitions by name, from-state, and to-state.",
		}, []string{"name", "from_state", "to_state"}),
	}
}

func (m *Metrics) RecordWalletDeduction(txType string) {
	if m == nil {
		return
	}
	m.walletDeductions.WithLabelValues(txType).Inc()
}

func (m *Metrics) RecordMeterDecision(level string) {
	if m == nil {
		return
	}
	m.meterDecisions.WithLabelValues(level).Inc()
}

func (m *Metrics) RecordBreakerTransition(name, from, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(name, from, to).Inc()
}
