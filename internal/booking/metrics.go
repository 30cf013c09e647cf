package booking

import "github.com/prometheus/client_golang/prometheus"

var (
	// TransitionsTotal counts committed booking status transitions.
	TransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fixpoint",
		Subsystem: "booking",
		Name:      "transitions_total",
		Help:      "Total committed booking status transitions by from/to status.",
	}, []string{"from", "to"})
)

func init() {
	prometheus.MustRegister(TransitionsTotal)
}

func observeTransition(from, to Status) {
	TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}
