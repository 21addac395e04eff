package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders inserted awaiting payment",
		},
	)

	PaymentsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_applied_total",
			Help: "Orders moved from pending_payment to pending",
		},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stripe_webhook_events_total",
			Help: "Verified Stripe webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	OrdersFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_finished_total",
			Help: "Orders that reached a terminal status",
		},
		[]string{"status"},
	)

	RowsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rows_generated_total",
			Help: "Contact rows processed by outcome",
		},
		[]string{"outcome"},
	)

	GenerationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generation_call_seconds",
			Help:    "Latency of one generation call",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
		},
	)

	DeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_failures_total",
			Help: "Results emails that could not be sent",
		},
	)
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(OrdersCreated)
		prometheus.MustRegister(PaymentsApplied)
		prometheus.MustRegister(WebhookEvents)
		prometheus.MustRegister(OrdersFinished)
		prometheus.MustRegister(RowsGenerated)
		prometheus.MustRegister(GenerationSeconds)
		prometheus.MustRegister(DeliveryFailures)
	})
}
