package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notifydispatch"

var (
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Delivery records reaching a final or scheduled state",
		},
		[]string{"channel", "state"},
	)

	recipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "recipients_total",
			Help:      "Recipients processed by outcome",
		},
		[]string{"channel", "outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver one delivery record",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"channel"},
	)

	sweepRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sweep_records_total",
			Help:      "Scheduled records processed by the sweep",
		},
		[]string{"outcome"},
	)

	providerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "provider_errors_total",
			Help:      "Provider calls that failed as a whole",
		},
		[]string{"channel"},
	)
)

func recordDelivery(channel, state string) {
	deliveriesTotal.WithLabelValues(channel, state).Inc()
}

func recordRecipients(channel string, delivered, failed int) {
	recipientsTotal.WithLabelValues(channel, "delivered").Add(float64(delivered))
	recipientsTotal.WithLabelValues(channel, "failed").Add(float64(failed))
}

func recordSendDuration(channel string, d time.Duration) {
	sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func recordSweep(outcome string) {
	sweepRecords.WithLabelValues(outcome).Inc()
}

// RecordProviderError counts a provider call that failed for every recipient
// it carried. Channel senders call it.
func RecordProviderError(channel string) {
	providerErrors.WithLabelValues(channel).Inc()
}
