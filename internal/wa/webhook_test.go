package wa

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"chatshop/internal/logging"
	"chatshop/internal/metrics"
)

type recordingProcessor struct {
	mu     sync.Mutex
	events []InboundEvent
	err    error
}

func (p *recordingProcessor) HandleInbound(_ context.Context, evt InboundEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "metadata": {"display_phone_number": "15550000000", "phone_number_id": "PNID-1"},
        "contacts": [{"wa_id": "919800000001", "profile": {"name": "Asha"}}],
        "messages": [
          {"from": "919800000001", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "hi"}},
          {"from": "919800000001", "id": "wamid.2", "timestamp": "1700000001", "type": "interactive",
           "interactive": {"type": "button_reply", "button_reply": {"id": "browse_products", "title": "Browse"}}},
          {"from": "919800000001", "id": "wamid.3", "timestamp": "1700000002", "type": "interactive",
           "interactive": {"type": "list_reply", "list_reply": {"id": "product_p1", "title": "Kurta"}}},
          {"from": "919800000001", "id": "wamid.4", "timestamp": "1700000003", "type": "image", "image": {"id": "media"}}
        ]
      }
    }]
  }]
}`

func TestParsePayloadNormalisesMessageKinds(t *testing.T) {
	events, err := ParsePayload([]byte(samplePayload))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	want := []struct{ kind, text, selection string }{
		{KindText, "hi", ""},
		{KindButton, "", "browse_products"},
		{KindList, "", "product_p1"},
		{KindUnsupported, "", ""},
	}
	for i, w := range want {
		e := events[i]
		if e.Kind != w.kind || e.Text != w.text || e.SelectionID != w.selection {
			t.Fatalf("event %d: got %+v", i, e)
		}
		if e.RoutingID != "PNID-1" || e.ProfileName != "Asha" {
			t.Fatalf("event %d missing routing or profile: %+v", i, e)
		}
	}
	if events[0].Timestamp.Unix() != 1700000000 {
		t.Fatalf("unexpected timestamp %v", events[0].Timestamp)
	}
}

func TestWebhookVerificationHandshake(t *testing.T) {
	h := NewWebhookHandler(logging.Discard(), nil, WebhookConfig{VerifyToken: "tok"}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=42", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "42" {
		t.Fatalf("expected challenge echo, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=bad&hub.challenge=42", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestWebhookAcknowledgesEvenWhenProcessingFails(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("boom")}
	h := NewWebhookHandler(logging.Discard(), nil, WebhookConfig{Sync: true}, proc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(samplePayload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(proc.events) != 4 {
		t.Fatalf("expected 4 dispatched events, got %d", len(proc.events))
	}
}

func TestWebhookAcknowledgesMalformedBody(t *testing.T) {
	proc := &recordingProcessor{}
	h := NewWebhookHandler(logging.Discard(), nil, WebhookConfig{Sync: true}, proc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json")))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(proc.events) != 0 {
		t.Fatal("malformed payload must not dispatch events")
	}
}

func TestWebhookAsyncDispatchCompletesOnWait(t *testing.T) {
	proc := &recordingProcessor{}
	h := NewWebhookHandler(logging.Discard(), nil, WebhookConfig{}, proc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(samplePayload)))
	h.Wait()

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.events) != 4 {
		t.Fatalf("expected 4 events after Wait, got %d", len(proc.events))
	}
}

type slowFirstProcessor struct {
	recordingProcessor
}

func (p *slowFirstProcessor) HandleInbound(ctx context.Context, evt InboundEvent) error {
	if evt.MessageID == "wamid.1" {
		time.Sleep(20 * time.Millisecond)
	}
	return p.recordingProcessor.HandleInbound(ctx, evt)
}

func TestWebhookAsyncDispatchKeepsPayloadOrder(t *testing.T) {
	proc := &slowFirstProcessor{}
	h := NewWebhookHandler(logging.Discard(), nil, WebhookConfig{}, proc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(samplePayload)))
	h.Wait()

	proc.mu.Lock()
	defer proc.mu.Unlock()
	var got []string
	for _, e := range proc.events {
		got = append(got, e.MessageID)
	}
	want := []string{"wamid.1", "wamid.2", "wamid.3", "wamid.4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestWebhookDoesNotCountIncomingMessages(t *testing.T) {
	m := metrics.Registry("")
	before := testutil.ToFloat64(m.WAIncomingMessages.WithLabelValues(KindText))

	h := NewWebhookHandler(logging.Discard(), m, WebhookConfig{Sync: true}, &recordingProcessor{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(samplePayload)))

	if got := testutil.ToFloat64(m.WAIncomingMessages.WithLabelValues(KindText)); got != before {
		t.Fatalf("webhook counted incoming messages: before %v after %v", before, got)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	proc := &recordingProcessor{}
	h := NewWebhookHandler(logging.Discard(), nil, WebhookConfig{AppSecret: "app-secret", Sync: true}, proc)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(samplePayload))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(proc.events) != 0 {
		t.Fatal("forged payload must not be processed")
	}

	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(samplePayload))
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(samplePayload))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || len(proc.events) != 4 {
		t.Fatalf("expected signed payload to be processed, got %d with %d events", rec.Code, len(proc.events))
	}
}
