package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_reservations_total",
			Help: "Inventory reservation outcomes",
		},
		[]string{"outcome"},
	)

	payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_payments_total",
			Help: "Payment status transitions",
		},
		[]string{"status"},
	)

	webhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_webhooks_total",
			Help: "Processor webhooks by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	refunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_refunds_total",
			Help: "Refund attempts by outcome",
		},
		[]string{"outcome"},
	)

	ticketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_tickets_issued_total",
			Help: "Tickets issued after settlement",
		},
	)

	ticketsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_tickets_cancelled_total",
			Help: "Tickets voided by their holder or an organizer",
		},
	)

	waitlist = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_waitlist_total",
			Help: "Waitlist entry transitions",
		},
		[]string{"action"},
	)

	outbox = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_outbox_messages_total",
			Help: "Outbox relay results",
		},
		[]string{"outcome"},
	)

	processorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_processor_call_duration_seconds",
			Help:    "Latency of payment processor calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)
)

// RecordReservation counts a reservation outcome such as reserved or out_of_stock
func RecordReservation(outcome string) {
	reservations.WithLabelValues(outcome).Inc()
}

// RecordReservations counts n reservations with the same outcome
func RecordReservations(outcome string, n int) {
	reservations.WithLabelValues(outcome).Add(float64(n))
}

// RecordPayment counts a payment reaching status
func RecordPayment(status string) {
	payments.WithLabelValues(status).Inc()
}

// RecordWebhook counts a webhook delivery
func RecordWebhook(eventType, outcome string) {
	webhooks.WithLabelValues(eventType, outcome).Inc()
}

// RecordRefund counts a refund attempt
func RecordRefund(outcome string) {
	refunds.WithLabelValues(outcome).Inc()
}

// RecordTicketsIssued counts issued tickets
func RecordTicketsIssued(n int) {
	ticketsIssued.Add(float64(n))
}

// RecordTicketsCancelled counts tickets cancelled outside a refund
func RecordTicketsCancelled(n int) {
	ticketsCancelled.Add(float64(n))
}

// RecordWaitlist counts n waitlist transitions
func RecordWaitlist(action string, n int) {
	waitlist.WithLabelValues(action).Add(float64(n))
}

// RecordOutbox counts an outbox relay result
func RecordOutbox(outcome string) {
	outbox.WithLabelValues(outcome).Inc()
}

// ObserveProcessorCall records how long a processor call took
func ObserveProcessorCall(operation string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	processorDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// Middleware records request duration per route template
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus scrape endpoint
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
