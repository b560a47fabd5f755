package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatshop/internal/metrics"
)

// WhatsApp interactive message limits.
const (
	MaxButtons          = 3
	MaxButtonTitle      = 20
	MaxListRows         = 10
	MaxRowTitle         = 24
	MaxRowDescription   = 72
	MaxSectionTitle     = 24
	MaxListButtonLabel  = 20
	defaultAPIVersion   = "v21.0"
	defaultGraphBaseURL = "https://graph.facebook.com"
)

// ErrMissingCredentials is returned when a tenant has no usable WhatsApp credentials.
var ErrMissingCredentials = errors.New("wa: missing phone number id or access token")

// APIError is a non-2xx response from the Cloud API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("whatsapp api error: status=%d code=%d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp api error: status=%d: %s", e.Status, e.Message)
}

// Credentials identify the tenant number a message is sent from.
type Credentials struct {
	PhoneNumberID string
	AccessToken   string
}

// Button is a quick reply button.
type Button struct {
	ID    string
	Title string
}

// Row is one selectable entry of a list message.
type Row struct {
	ID          string
	Title       string
	Description string
}

// Section groups list rows under a title.
type Section struct {
	Title string
	Rows  []Row
}

// SendResponse carries the transport message id of an accepted send.
type SendResponse struct {
	MessageID string
}

// Sender is the outbound surface used by the conversation engine.
type Sender interface {
	SendText(ctx context.Context, creds Credentials, to, body string) (SendResponse, error)
	SendButtons(ctx context.Context, creds Credentials, to, body string, buttons []Button) (SendResponse, error)
	SendList(ctx context.Context, creds Credentials, to, body, buttonLabel string, sections []Section) (SendResponse, error)
	SendImage(ctx context.Context, creds Credentials, to, imageURL, caption string) (SendResponse, error)
	MarkRead(ctx context.Context, creds Credentials, messageID string) error
}

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// Client sends messages through the WhatsApp Cloud API on behalf of any tenant.
type Client struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	baseURL string
	version string
	http    *http.Client
}

var _ Sender = (*Client)(nil)

// New creates a new Cloud API client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultGraphBaseURL
	}
	version := strings.Trim(cfg.APIVersion, "/")
	if version == "" {
		version = defaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "wa"),
		metrics: m,
		baseURL: base,
		version: version,
		http:    &http.Client{Timeout: timeout},
	}
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, creds Credentials, to, body string) (SendResponse, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": body},
	}
	return c.send(ctx, creds, "text", payload)
}

// SendButtons sends up to three quick reply buttons. Extra buttons are dropped.
func (c *Client) SendButtons(ctx context.Context, creds Credentials, to, body string, buttons []Button) (SendResponse, error) {
	if len(buttons) > MaxButtons {
		buttons = buttons[:MaxButtons]
	}
	items := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		items = append(items, map[string]any{
			"type":  "reply",
			"reply": map[string]any{"id": b.ID, "title": Truncate(b.Title, MaxButtonTitle)},
		})
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": body},
			"action": map[string]any{"buttons": items},
		},
	}
	return c.send(ctx, creds, "button", payload)
}

// SendList sends a list message. Titles and descriptions are truncated to the
// platform limits.
func (c *Client) SendList(ctx context.Context, creds Credentials, to, body, buttonLabel string, sections []Section) (SendResponse, error) {
	secs := make([]map[string]any, 0, len(sections))
	for _, s := range sections {
		rows := make([]map[string]any, 0, len(s.Rows))
		for _, r := range s.Rows {
			row := map[string]any{"id": r.ID, "title": Truncate(r.Title, MaxRowTitle)}
			if r.Description != "" {
				row["description"] = Truncate(r.Description, MaxRowDescription)
			}
			rows = append(rows, row)
		}
		sec := map[string]any{"rows": rows}
		if s.Title != "" {
			sec["title"] = Truncate(s.Title, MaxSectionTitle)
		}
		secs = append(secs, sec)
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "list",
			"body": map[string]any{"text": body},
			"action": map[string]any{
				"button":   Truncate(buttonLabel, MaxListButtonLabel),
				"sections": secs,
			},
		},
	}
	return c.send(ctx, creds, "list", payload)
}

// SendImage sends an image by public link with an optional caption.
func (c *Client) SendImage(ctx context.Context, creds Credentials, to, imageURL, caption string) (SendResponse, error) {
	image := map[string]any{"link": imageURL}
	if caption != "" {
		image["caption"] = caption
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "image",
		"image":             image,
	}
	return c.send(ctx, creds, "image", payload)
}

// MarkRead flags an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, creds Credentials, messageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	_, err := c.post(ctx, creds, "read", payload)
	return err
}

func (c *Client) send(ctx context.Context, creds Credentials, kind string, payload map[string]any) (SendResponse, error) {
	resp, err := c.post(ctx, creds, kind, payload)
	if err != nil {
		return SendResponse{}, err
	}
	if c.metrics != nil {
		c.metrics.WAOutgoingMessages.WithLabelValues(kind).Inc()
	}
	return resp, nil
}

type sendResult struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, creds Credentials, endpoint string, payload map[string]any) (SendResponse, error) {
	if creds.PhoneNumberID == "" || creds.AccessToken == "" {
		return SendResponse{}, ErrMissingCredentials
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResponse{}, fmt.Errorf("marshal payload: %w", err)
	}
	reqURL := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, creds.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return SendResponse{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.WARequests.WithLabelValues(endpoint, "error").Inc()
		}
		return SendResponse{}, fmt.Errorf("whatsapp request: %w", err)
	}
	defer res.Body.Close()

	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.WARequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.metrics.WALatency.WithLabelValues(endpoint, statusLabel).Observe(time.Since(start).Seconds())
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return SendResponse{}, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 300 {
		apiErr := &APIError{Status: res.StatusCode, Message: strings.TrimSpace(string(raw))}
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
			apiErr.Message = env.Error.Message
			apiErr.Code = env.Error.Code
		}
		c.logger.Warn("whatsapp send rejected", "endpoint", endpoint, "status", res.StatusCode, "error", apiErr.Message)
		return SendResponse{}, apiErr
	}

	var result sendResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return SendResponse{}, fmt.Errorf("decode response: %w", err)
		}
	}
	out := SendResponse{}
	if len(result.Messages) > 0 {
		out.MessageID = result.Messages[0].ID
	}
	return out, nil
}

// Truncate shortens s to at most limit runes, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}
