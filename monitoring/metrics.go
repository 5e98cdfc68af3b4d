package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PurchasesTotal counts purchase attempts by outcome
	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftc_purchases_total",
			Help: "Total number of purchase attempts",
		},
		[]string{"ticket_type", "outcome"},
	)

	// ReconciliationsTotal counts payment reconciliation runs by trigger
	// channel and outcome
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftc_reconciliations_total",
			Help: "Total number of payment reconciliation runs",
		},
		[]string{"trigger", "outcome"},
	)

	// ScansTotal counts entry validation attempts by outcome
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftc_scans_total",
			Help: "Total number of entry scan attempts",
		},
		[]string{"outcome"},
	)

	// NotificationFailuresTotal counts confirmation emails that could not
	// be delivered
	NotificationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ftc_notification_failures_total",
			Help: "Total number of failed ticket confirmation emails",
		},
	)

	// TicketsSold tracks the derived sold counter per tier
	TicketsSold = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ftc_tickets_sold",
			Help: "Paid tickets per ticket type",
		},
		[]string{"ticket_type"},
	)

	// GatewayRequestDuration observes payment gateway call latency
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ftc_gateway_request_duration_seconds",
			Help:    "Payment gateway request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
