package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckoutsStarted counts checkout attempts handed to the workflow.
	CheckoutsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_checkouts_started_total",
		Help: "Number of checkout attempts started",
	})

	// CheckoutOutcomes counts terminal states by outcome: success, declined,
	// transport_error, timeout, cancelled, validation_error.
	CheckoutOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_checkout_outcomes_total",
		Help: "Terminal checkout outcomes by reason",
	}, []string{"outcome"})

	// ConfirmationDuration observes time from checkout start to a terminal
	// state for polled (non-redirect) flows.
	ConfirmationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_confirmation_duration_seconds",
		Help:    "Duration of polled payment confirmations",
		Buckets: prometheus.LinearBuckets(3, 9, 10),
	})
)
