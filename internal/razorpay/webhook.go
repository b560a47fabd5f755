package razorpay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chatshop/internal/metrics"
)

// Webhook event types acted upon.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventPaymentLinkPaid = "payment_link.paid"
	EventOrderPaid       = "order.paid"
)

const maxWebhookBody = 1 << 20

// Event contains the fields of a Razorpay webhook the order service needs.
type Event struct {
	Type             string
	StoreID          string
	PaymentID        string
	PaymentStatus    string
	GatewayOrderID   string
	PaymentLinkID    string
	OrderNumber      string
	ErrorDescription string
	Signature        string
	Payload          json.RawMessage
	ReceivedAt       time.Time
}

// Known reports whether the event type is one the processor handles.
func (e Event) Known() bool {
	switch e.Type {
	case EventPaymentCaptured, EventPaymentFailed, EventPaymentLinkPaid, EventOrderPaid:
		return true
	}
	return false
}

// EventProcessor handles verified payment events.
type EventProcessor interface {
	HandlePaymentEvent(ctx context.Context, event Event) error
}

// SecretResolver returns the webhook secret of a store, or "" when it has none.
type SecretResolver interface {
	WebhookSecret(ctx context.Context, storeID string) (string, error)
}

// WebhookHandler verifies Razorpay webhook signatures and forwards events.
type WebhookHandler struct {
	logger       *slog.Logger
	metrics      *metrics.Metrics
	globalSecret string
	secrets      SecretResolver
	processor    EventProcessor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, m *metrics.Metrics, globalSecret string, secrets SecretResolver, processor EventProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:       logger.With("component", "razorpay_webhook"),
		metrics:      m,
		globalSecret: globalSecret,
		secrets:      secrets,
		processor:    processor,
	}
}

// ServeHTTP handles the platform-wide webhook verified with the global secret.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeStore(w, r, "")
}

// ServeStore handles a webhook addressed to one store. The store secret is
// preferred and the global secret is the fallback.
func (h *WebhookHandler) ServeStore(w http.ResponseWriter, r *http.Request, storeID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.metrics.IncError("razorpay_webhook")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	secret, err := h.secretFor(r.Context(), storeID)
	if err != nil {
		h.logger.Warn("cannot resolve webhook secret", "store_id", storeID, "error", err)
	}
	signature := r.Header.Get("X-Razorpay-Signature")
	if !VerifySignature(secret, body, signature) {
		h.metrics.IncError("razorpay_webhook_signature")
		h.logger.Warn("rejected webhook with invalid signature", "store_id", storeID)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	event, err := ParseEvent(body)
	if err != nil {
		h.metrics.IncError("razorpay_webhook_parse")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	event.StoreID = storeID
	event.Signature = signature

	if !event.Known() {
		h.countEvent(event.Type, "ignored")
		h.logger.Info("ignoring webhook event", "event", event.Type)
		writeOK(w)
		return
	}

	if h.processor != nil {
		if err := h.processor.HandlePaymentEvent(r.Context(), event); err != nil {
			h.countEvent(event.Type, "error")
			h.metrics.IncError("razorpay_webhook_process")
			h.logger.Error("failed processing webhook", "error", err, "event", event.Type, "payment_id", event.PaymentID)
			http.Error(w, "failed to process", http.StatusInternalServerError)
			return
		}
	}
	h.countEvent(event.Type, "ok")
	writeOK(w)
}

func (h *WebhookHandler) secretFor(ctx context.Context, storeID string) (string, error) {
	if storeID == "" || h.secrets == nil {
		return h.globalSecret, nil
	}
	secret, err := h.secrets.WebhookSecret(ctx, storeID)
	if err != nil || secret == "" {
		return h.globalSecret, err
	}
	return secret, nil
}

func (h *WebhookHandler) countEvent(event, result string) {
	if h.metrics != nil {
		h.metrics.PaymentEvents.WithLabelValues(event, result).Inc()
	}
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type entityEnvelope[T any] struct {
	Entity T `json:"entity"`
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *entityEnvelope[struct {
			ID               string          `json:"id"`
			Status           string          `json:"status"`
			OrderID          string          `json:"order_id"`
			ErrorDescription string          `json:"error_description"`
			Notes            json.RawMessage `json:"notes"`
		}] `json:"payment"`
		PaymentLink *entityEnvelope[struct {
			ID          string          `json:"id"`
			ReferenceID string          `json:"reference_id"`
			Notes       json.RawMessage `json:"notes"`
		}] `json:"payment_link"`
		Order *entityEnvelope[struct {
			ID      string `json:"id"`
			Receipt string `json:"receipt"`
		}] `json:"order"`
	} `json:"payload"`
}

// ParseEvent extracts payment, link and order references from a webhook body.
func ParseEvent(body []byte) (Event, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return Event{}, fmt.Errorf("decode webhook: %w", err)
	}
	evt := Event{Type: wb.Event, Payload: body, ReceivedAt: time.Now().UTC()}
	p := wb.Payload
	if p.Payment != nil {
		e := p.Payment.Entity
		evt.PaymentID = e.ID
		evt.PaymentStatus = e.Status
		evt.GatewayOrderID = e.OrderID
		evt.ErrorDescription = e.ErrorDescription
		if n := orderNumberFromNotes(e.Notes); n != "" {
			evt.OrderNumber = n
		}
	}
	if p.PaymentLink != nil {
		e := p.PaymentLink.Entity
		evt.PaymentLinkID = e.ID
		if evt.OrderNumber == "" {
			evt.OrderNumber = orderNumberFromNotes(e.Notes)
		}
		if evt.OrderNumber == "" {
			evt.OrderNumber = e.ReferenceID
		}
	}
	if p.Order != nil {
		e := p.Order.Entity
		if evt.GatewayOrderID == "" {
			evt.GatewayOrderID = e.ID
		}
		if evt.OrderNumber == "" {
			evt.OrderNumber = e.Receipt
		}
	}
	return evt, nil
}

// notes is an object when set and an empty array when not.
func orderNumberFromNotes(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var notes map[string]any
	if err := json.Unmarshal(raw, &notes); err != nil {
		return ""
	}
	if v, ok := notes["order_number"].(string); ok {
		return v
	}
	return ""
}
