package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chatshop/internal/metrics"
)

// placeholderKeyID is the sample key shipped in onboarding docs.
const placeholderKeyID = "rzp_test_your_key_id"

var (
	// ErrInvalidCredential indicates Razorpay rejected the provided credentials.
	ErrInvalidCredential = errors.New("razorpay invalid credential")
	// ErrNoCredentials is returned when a tenant has no key and demo links are disabled.
	ErrNoCredentials = errors.New("razorpay credentials not configured")
)

// Credentials are the per-tenant API keys.
type Credentials struct {
	KeyID     string
	KeySecret string
}

// IsPlaceholder reports whether the credentials cannot reach the real gateway.
func (c Credentials) IsPlaceholder() bool {
	id := strings.TrimSpace(c.KeyID)
	return id == "" || id == placeholderKeyID
}

// Config holds Razorpay client configuration.
type Config struct {
	BaseURL      string
	Currency     string
	CallbackURL  string
	Timeout      time.Duration
	DemoFallback bool
}

// Client provides typed access to the Razorpay REST API.
type Client struct {
	logger       *slog.Logger
	metrics      *metrics.Metrics
	baseURL      string
	currency     string
	callbackURL  string
	demoFallback bool
	http         *http.Client
	now          func() time.Time
}

// New creates a new Razorpay client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.razorpay.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "INR"
	}
	return &Client{
		logger:       logger.With("component", "razorpay"),
		metrics:      m,
		baseURL:      base,
		currency:     currency,
		callbackURL:  cfg.CallbackURL,
		demoFallback: cfg.DemoFallback,
		http:         &http.Client{Timeout: timeout},
		now:          time.Now,
	}
}

// LinkRequest describes a payment link to create.
type LinkRequest struct {
	Amount       decimal.Decimal
	PayerName    string
	PayerContact string
	Description  string
	Reference    string
}

// PaymentLink is the created link.
type PaymentLink struct {
	ID       string `json:"id"`
	ShortURL string `json:"short_url"`
	Status   string `json:"status"`
	Demo     bool   `json:"-"`
}

// Payment is the subset of a payment entity used for reconciliation.
type Payment struct {
	ID       string          `json:"id"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
	OrderID  string          `json:"order_id"`
	Method   string          `json:"method"`
	Notes    json.RawMessage `json:"notes"`
}

// OrderNumber returns the order number stored in the payment notes.
func (p *Payment) OrderNumber() string {
	if p == nil {
		return ""
	}
	return orderNumberFromNotes(p.Notes)
}

// Captured reports whether the funds were captured.
func (p *Payment) Captured() bool {
	return p != nil && p.Status == "captured"
}

// CreatePaymentLink creates a payment link for the given amount in major units.
func (c *Client) CreatePaymentLink(ctx context.Context, creds Credentials, req LinkRequest) (*PaymentLink, error) {
	if creds.IsPlaceholder() {
		if !c.demoFallback {
			return nil, ErrNoCredentials
		}
		c.logger.Warn("using demo payment link", "reference", req.Reference)
		return &PaymentLink{
			ID:       fmt.Sprintf("plink_demo_%d", c.now().UnixMilli()),
			ShortURL: "https://rzp.io/i/demo_payment_link",
			Status:   "created",
			Demo:     true,
		}, nil
	}

	description := req.Description
	if description == "" {
		description = "Product Purchase"
	}
	payload := map[string]any{
		"amount":         ToMinorUnits(req.Amount),
		"currency":       c.currency,
		"accept_partial": false,
		"description":    description,
		"reference_id":   req.Reference,
		"customer": map[string]any{
			"name":    req.PayerName,
			"contact": req.PayerContact,
		},
		"notify":          map[string]any{"sms": true, "email": false},
		"reminder_enable": true,
		"notes":           map[string]string{"order_number": req.Reference},
	}
	if c.callbackURL != "" {
		payload["callback_url"] = c.callbackURL
		payload["callback_method"] = "get"
	}

	var link PaymentLink
	if err := c.do(ctx, creds, http.MethodPost, "/v1/payment_links", payload, &link); err != nil {
		return nil, err
	}
	if link.ShortURL == "" {
		return nil, fmt.Errorf("razorpay payment link response missing short_url")
	}
	return &link, nil
}

// FetchPayment retrieves a payment by id.
func (c *Client) FetchPayment(ctx context.Context, creds Credentials, paymentID string) (*Payment, error) {
	if creds.IsPlaceholder() {
		return nil, ErrNoCredentials
	}
	var p Payment
	if err := c.do(ctx, creds, http.MethodGet, "/v1/payments/"+paymentID, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, creds Credentials, method, endpoint string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(creds.KeyID, creds.KeySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	label := metricEndpoint(endpoint)
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.GatewayRequests.WithLabelValues(label, "error").Inc()
		}
		return fmt.Errorf("razorpay request: %w", err)
	}
	defer res.Body.Close()

	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.GatewayRequests.WithLabelValues(label, statusLabel).Inc()
		c.metrics.GatewayLatency.WithLabelValues(label, statusLabel).Observe(time.Since(start).Seconds())
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		return classifyHTTPError(res.StatusCode, raw)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func metricEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "/v1/payments/") {
		return "/v1/payments/:id"
	}
	return endpoint
}

func classifyHTTPError(status int, body []byte) error {
	var env struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &env) == nil && env.Error.Description != "" {
		message = env.Error.Description
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrInvalidCredential, message)
	}
	if len(message) > 256 {
		message = message[:256]
	}
	return fmt.Errorf("razorpay http %d: %s", status, message)
}

// ToMinorUnits converts an amount in rupees to paise.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// VerifySignature checks a webhook signature: hex HMAC-SHA256 of the raw body.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign returns the hex signature Razorpay would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
