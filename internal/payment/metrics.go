package payment

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fixpoint-app/fixpoint/internal/metrics"
)

var (
	// SettlementsTotal counts settlement operations by kind.
	SettlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fixpoint",
		Subsystem: "settlement",
		Name:      "operations_total",
		Help:      "Total settlement operations by kind.",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(SettlementsTotal)
}

func observeSettlement(op string) {
	SettlementsTotal.WithLabelValues(op).Inc()
}

func escrowHeldAdd(amount int64) { metrics.EscrowHeld.Add(float64(amount)) }
func escrowHeldSub(amount int64) { metrics.EscrowHeld.Sub(float64(amount)) }
