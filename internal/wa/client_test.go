package wa

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatshop/internal/logging"
)

type capturedRequest struct {
	Path    string
	Auth    string
	Payload map[string]any
}

func newTestClient(t *testing.T, status int, response string) (*Client, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		captured = append(captured, capturedRequest{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Payload: payload})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIVersion: "v21.0"}, logging.Discard(), nil)
	return c, &captured
}

var testCreds = Credentials{PhoneNumberID: "1234", AccessToken: "secret"}

func TestSendTextUsesTenantCredentials(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, `{"messages":[{"id":"wamid.abc"}]}`)

	resp, err := c.SendText(context.Background(), testCreds, "919800000001", "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if resp.MessageID != "wamid.abc" {
		t.Fatalf("expected message id, got %q", resp.MessageID)
	}
	req := (*captured)[0]
	if req.Path != "/v21.0/1234/messages" {
		t.Fatalf("unexpected path %s", req.Path)
	}
	if req.Auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", req.Auth)
	}
	if req.Payload["to"] != "919800000001" || req.Payload["type"] != "text" {
		t.Fatalf("unexpected payload %v", req.Payload)
	}
}

func TestSendButtonsCapsAtThree(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, `{"messages":[{"id":"wamid.b"}]}`)
	buttons := []Button{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}, {ID: "c", Title: "C"}, {ID: "d", Title: "D"}}

	if _, err := c.SendButtons(context.Background(), testCreds, "91", "pick", buttons); err != nil {
		t.Fatalf("SendButtons: %v", err)
	}
	interactive := (*captured)[0].Payload["interactive"].(map[string]any)
	action := interactive["action"].(map[string]any)
	if n := len(action["buttons"].([]any)); n != MaxButtons {
		t.Fatalf("expected %d buttons, got %d", MaxButtons, n)
	}
}

func TestSendListTruncatesRows(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, `{"messages":[{"id":"wamid.l"}]}`)
	sections := []Section{{
		Title: "Apparel",
		Rows: []Row{{
			ID:          "product_1",
			Title:       strings.Repeat("x", 40),
			Description: strings.Repeat("y", 100),
		}},
	}}

	if _, err := c.SendList(context.Background(), testCreds, "91", "catalog", "View Products", sections); err != nil {
		t.Fatalf("SendList: %v", err)
	}
	interactive := (*captured)[0].Payload["interactive"].(map[string]any)
	secs := interactive["action"].(map[string]any)["sections"].([]any)
	row := secs[0].(map[string]any)["rows"].([]any)[0].(map[string]any)
	if got := len([]rune(row["title"].(string))); got != MaxRowTitle {
		t.Fatalf("expected title of %d runes, got %d", MaxRowTitle, got)
	}
	if got := len([]rune(row["description"].(string))); got != MaxRowDescription {
		t.Fatalf("expected description of %d runes, got %d", MaxRowDescription, got)
	}
}

func TestSendReturnsAPIError(t *testing.T) {
	c, _ := newTestClient(t, http.StatusBadRequest, `{"error":{"message":"Invalid parameter","code":100}}`)

	_, err := c.SendText(context.Background(), testCreds, "91", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 100 || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestSendRequiresCredentials(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, `{}`)

	_, err := c.SendText(context.Background(), Credentials{PhoneNumberID: "1"}, "91", "hi")
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if len(*captured) != 0 {
		t.Fatal("no request should be made without credentials")
	}
}

func TestMarkReadPayload(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, `{"success":true}`)

	if err := c.MarkRead(context.Background(), testCreds, "wamid.in"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	p := (*captured)[0].Payload
	if p["status"] != "read" || p["message_id"] != "wamid.in" {
		t.Fatalf("unexpected payload %v", p)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"abcdefghij", 8, "abcde..."},
		{"₹₹₹₹₹", 4, "₹..."},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.limit); got != tc.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}
