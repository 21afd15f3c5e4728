// Package metrics exposes prometheus counters for verification decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Haven-Lv/students-checkin-sytem/internal/checkin"
)

var decisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "checkin_decisions_total",
		Help: "Check-in and check-out outcomes by operation and result.",
	},
	[]string{"op", "result"},
)

func init() {
	prometheus.MustRegister(decisions)
}

// ObserveDecision records the outcome of a verification operation. Typed
// rejections count under their kind; anything else is an internal error.
func ObserveDecision(op string, err error) {
	result := "accepted"
	if err != nil {
		if rej, ok := checkin.AsRejection(err); ok {
			result = string(rej.Kind)
		} else {
			result = "error"
		}
	}
	decisions.WithLabelValues(op, result).Inc()
}
