package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Breaker collectors. They are registered with the default registerer on
// package load; a collector already registered under the same name is reused.
var (
	BreakerState = registerVec(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pos",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Breaker state per target: 0=closed, 1=open, 2=half-open.",
	}, []string{"target"}))

	BreakerTransitions = registerVec(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Breaker state transitions by target and edge.",
	}, []string{"target", "from", "to"}))

	BreakerOpenedTotal = registerVec(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos",
		Subsystem: "breaker",
		Name:      "opened_total",
		Help:      "Times a breaker tripped open.",
	}, []string{"target"}))

	BreakerRejectedTotal = registerVec(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos",
		Subsystem: "breaker",
		Name:      "rejected_total",
		Help:      "Requests refused without reaching the dependency.",
	}, []string{"target"}))
)

func registerVec[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
