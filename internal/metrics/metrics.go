package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WAIncomingMessages *prometheus.CounterVec
	WAOutgoingMessages *prometheus.CounterVec
	WARequests         *prometheus.CounterVec
	WALatency          *prometheus.HistogramVec
	BilledSends        *prometheus.CounterVec
	BilledCost         prometheus.Counter
	StateTransitions   *prometheus.CounterVec
	OrdersCreated      prometheus.Counter
	PaymentEvents      *prometheus.CounterVec
	GatewayRequests    *prometheus.CounterVec
	GatewayLatency     *prometheus.HistogramVec
	RecoveryNudges     *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WAIncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_incoming_messages_total",
				Help:      "Total incoming WhatsApp messages processed.",
			}, []string{"type"}),
			WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_outgoing_messages_total",
				Help:      "Total outgoing WhatsApp messages sent.",
			}, []string{"type"}),
			WARequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_requests_total",
				Help:      "Total WhatsApp Cloud API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			WALatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wa_request_duration_seconds",
				Help:      "Latency distribution for WhatsApp Cloud API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			BilledSends: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "billed_sends_total",
				Help:      "Billed outbound sends by message type and outcome.",
			}, []string{"type", "outcome"}),
			BilledCost: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "billed_cost_total",
				Help:      "Sum of wallet debits for successful billed sends.",
			}),
			StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_transitions_total",
				Help:      "Conversation state transitions by source and target state.",
			}, []string{"from", "to"}),
			OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_created_total",
				Help:      "Orders created through the chat checkout.",
			}),
			PaymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_events_total",
				Help:      "Payment gateway webhook events by type and result.",
			}, []string{"event", "result"}),
			GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "razorpay_requests_total",
				Help:      "Total Razorpay API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "razorpay_request_duration_seconds",
				Help:      "Latency distribution for Razorpay API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			RecoveryNudges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_nudges_total",
				Help:      "Abandoned cart reminders by outcome.",
			}, []string{"outcome"}),
			SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recovery_sweep_duration_seconds",
				Help:      "Duration of abandoned cart recovery sweeps.",
				Buckets:   prometheus.DefBuckets,
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.WAIncomingMessages,
			metricsInstance.WAOutgoingMessages,
			metricsInstance.WARequests,
			metricsInstance.WALatency,
			metricsInstance.BilledSends,
			metricsInstance.BilledCost,
			metricsInstance.StateTransitions,
			metricsInstance.OrdersCreated,
			metricsInstance.PaymentEvents,
			metricsInstance.GatewayRequests,
			metricsInstance.GatewayLatency,
			metricsInstance.RecoveryNudges,
			metricsInstance.SweepDuration,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// IncError bumps the error counter for component. Safe on a nil receiver.
func (m *Metrics) IncError(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
