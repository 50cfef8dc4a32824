package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	emergenciesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "emergencies_total",
			Help:      "Total emergencies handled, partitioned by severity and terminal status.",
		},
		[]string{"severity", "status"},
	)

	recoverySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "remedy",
			Name:      "recovery_seconds",
			Help:      "End-to-end recovery latency per emergency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	fallbackStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "fallback_steps_total",
			Help:      "Fallback steps executed, partitioned by action kind and outcome.",
		},
		[]string{"action", "outcome"},
	)

	breakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions, partitioned by new state.",
		},
		[]string{"state"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "escalations_total",
			Help:      "Emergencies that exhausted all recovery options and were escalated.",
		},
	)

	notificationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "notification_failures_total",
			Help:      "Notification sends that failed and were logged.",
		},
	)
)

// Register attaches remedy collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		emergenciesTotal,
		recoverySeconds,
		fallbackStepsTotal,
		breakerTransitionsTotal,
		escalationsTotal,
		notificationFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEmergency records a completed emergency with its terminal status.
func ObserveEmergency(severity, status string, duration time.Duration) {
	emergenciesTotal.WithLabelValues(severity, status).Inc()
	if duration < 0 {
		duration = 0
	}
	recoverySeconds.Observe(duration.Seconds())
}

// ObserveStep records one executed fallback step.
func ObserveStep(action string, success bool) {
	outcome := "failed"
	if success {
		outcome = "success"
	}
	fallbackStepsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveBreakerTransition records a circuit breaker entering a new state.
func ObserveBreakerTransition(state string) {
	breakerTransitionsTotal.WithLabelValues(state).Inc()
}

// ObserveEscalation counts an exhausted emergency.
func ObserveEscalation() {
	escalationsTotal.Inc()
}

// ObserveNotificationFailure counts a failed notification send.
func ObserveNotificationFailure() {
	notificationFailuresTotal.Inc()
}
