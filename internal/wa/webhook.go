package wa

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatshop/internal/metrics"
)

// Inbound message kinds after normalisation.
const (
	KindText        = "text"
	KindButton      = "button"
	KindList        = "list"
	KindUnsupported = "unsupported"
)

const maxWebhookBody = 1 << 20

// InboundEvent is a transport message normalised for the conversation engine.
type InboundEvent struct {
	RoutingID      string
	MessageID      string
	From           string
	ProfileName    string
	Kind           string
	RawType        string
	Text           string
	SelectionID    string
	SelectionTitle string
	Timestamp      time.Time
}

// Body returns the human readable content of the event for logging.
func (e InboundEvent) Body() string {
	switch e.Kind {
	case KindText:
		return e.Text
	case KindButton, KindList:
		if e.SelectionTitle != "" {
			return e.SelectionTitle
		}
		return e.SelectionID
	default:
		return "[" + e.RawType + "]"
	}
}

// InboundProcessor handles inbound WhatsApp messages.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, evt InboundEvent) error
}

// WebhookConfig controls verification and dispatch of the Cloud API webhook.
type WebhookConfig struct {
	VerifyToken string
	AppSecret   string
	// Sync processes events before responding. Intended for tests.
	Sync bool
}

// WebhookHandler verifies and parses Cloud API webhooks and forwards each
// message to the processor. Delivery is always acknowledged with 200 once the
// request is authentic.
type WebhookHandler struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	verifyToken string
	appSecret   string
	sync        bool
	processor   InboundProcessor
	wg          sync.WaitGroup
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, m *metrics.Metrics, cfg WebhookConfig, processor InboundProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:      logger.With("component", "wa_webhook"),
		metrics:     m,
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		sync:        cfg.Sync,
		processor:   processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verify(w, r)
	case http.MethodPost:
		h.receive(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Wait blocks until all in-flight events have been processed.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}

func (h *WebhookHandler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")
	if mode == "subscribe" && h.verifyToken != "" && hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		h.logger.Info("webhook verified")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}
	h.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(w, "forbidden", http.StatusForbidden)
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.metrics.IncError("wa_webhook")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if h.appSecret != "" && !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.metrics.IncError("wa_webhook_signature")
		h.logger.Warn("rejected webhook with invalid signature")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	events, err := ParsePayload(body)
	if err != nil {
		h.metrics.IncError("wa_webhook_parse")
		h.logger.Warn("ignoring malformed webhook payload", "error", err)
	}

	if h.processor != nil && len(events) > 0 {
		ctx := context.WithoutCancel(r.Context())
		if h.sync {
			h.dispatchAll(ctx, events)
		} else {
			// Events of one delivery stay in payload order.
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.dispatchAll(ctx, events)
			}()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *WebhookHandler) dispatchAll(ctx context.Context, events []InboundEvent) {
	for _, evt := range events {
		h.dispatch(ctx, evt)
	}
}

func (h *WebhookHandler) dispatch(ctx context.Context, evt InboundEvent) {
	if err := h.processor.HandleInbound(ctx, evt); err != nil {
		h.metrics.IncError("wa_inbound")
		h.logger.Error("failed processing inbound message", "error", err, "routing_id", evt.RoutingID, "from", evt.From, "message_id", evt.MessageID)
	}
}

// VerifySignature checks an X-Hub-Signature-256 header against body.
func VerifySignature(secret string, body []byte, header string) bool {
	sig := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if sig == "" {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string      `json:"field"`
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []inboundMessage `json:"messages"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// ParsePayload extracts every message of every entry and change. Status
// callbacks carry no messages and yield nothing.
func ParsePayload(body []byte) ([]InboundEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	var events []InboundEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range v.Messages {
				evt := normalise(m)
				evt.RoutingID = v.Metadata.PhoneNumberID
				evt.ProfileName = names[m.From]
				events = append(events, evt)
			}
		}
	}
	return events, nil
}

func normalise(m inboundMessage) InboundEvent {
	evt := InboundEvent{
		MessageID: m.ID,
		From:      m.From,
		RawType:   m.Type,
		Kind:      KindUnsupported,
		Timestamp: parseUnix(m.Timestamp),
	}
	switch m.Type {
	case "text":
		if m.Text != nil {
			evt.Kind = KindText
			evt.Text = m.Text.Body
		}
	case "button":
		if m.Button != nil {
			evt.Kind = KindButton
			evt.SelectionID = m.Button.Payload
			evt.SelectionTitle = m.Button.Text
		}
	case "interactive":
		if m.Interactive == nil {
			break
		}
		switch {
		case m.Interactive.ButtonReply != nil:
			evt.Kind = KindButton
			evt.SelectionID = m.Interactive.ButtonReply.ID
			evt.SelectionTitle = m.Interactive.ButtonReply.Title
		case m.Interactive.ListReply != nil:
			evt.Kind = KindList
			evt.SelectionID = m.Interactive.ListReply.ID
			evt.SelectionTitle = m.Interactive.ListReply.Title
		}
	}
	return evt
}

func parseUnix(s string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
