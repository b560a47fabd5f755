package razorpay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatshop/internal/logging"
)

var liveCreds = Credentials{KeyID: "rzp_test_abc", KeySecret: "shh"}

func TestCreatePaymentLinkSendsPaiseAndReference(t *testing.T) {
	var got map[string]any
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_links", r.URL.Path)
		user, pass, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"id":"plink_1","short_url":"https://rzp.io/i/x","status":"created"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, CallbackURL: "https://shop.example/api/payment/callback"}, logging.Discard(), nil)
	link, err := c.CreatePaymentLink(context.Background(), liveCreds, LinkRequest{
		Amount:       decimal.RequireFromString("1797.50"),
		PayerName:    "Asha",
		PayerContact: "919800000001",
		Description:  "Order ORD-1 from Kurta House",
		Reference:    "ORD-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "plink_1", link.ID)
	assert.Equal(t, "https://rzp.io/i/x", link.ShortURL)
	assert.False(t, link.Demo)

	assert.Equal(t, "rzp_test_abc", user)
	assert.Equal(t, "shh", pass)
	assert.EqualValues(t, 179750, got["amount"])
	assert.Equal(t, "INR", got["currency"])
	assert.Equal(t, "ORD-1", got["reference_id"])
	assert.Equal(t, "ORD-1", got["notes"].(map[string]any)["order_number"])
	assert.Equal(t, "get", got["callback_method"])
}

func TestCreatePaymentLinkDemoFallback(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0", DemoFallback: true}, logging.Discard(), nil)

	link, err := c.CreatePaymentLink(context.Background(), Credentials{KeyID: placeholderKeyID}, LinkRequest{Amount: decimal.NewFromInt(10), Reference: "ORD-2"})
	require.NoError(t, err)
	assert.True(t, link.Demo)
	assert.Contains(t, link.ID, "plink_demo_")

	strict := New(Config{BaseURL: "http://127.0.0.1:0"}, logging.Discard(), nil)
	_, err = strict.CreatePaymentLink(context.Background(), Credentials{}, LinkRequest{Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestUnauthorizedIsInvalidCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logging.Discard(), nil)
	_, err := c.CreatePaymentLink(context.Background(), liveCreds, LinkRequest{Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCredential))
}

func TestFetchPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pay_1","amount":59900,"currency":"INR","status":"captured","order_id":"order_9","notes":{"order_number":"ORD-9"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logging.Discard(), nil)
	p, err := c.FetchPayment(context.Background(), liveCreds, "pay_1")
	require.NoError(t, err)
	assert.True(t, p.Captured())
	assert.Equal(t, "ORD-9", p.OrderNumber())
	assert.Equal(t, "order_9", p.OrderID)
}

func TestFetchPaymentWithEmptyNotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pay_2","amount":100,"currency":"INR","status":"captured","order_id":"","notes":[]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logging.Discard(), nil)
	p, err := c.FetchPayment(context.Background(), liveCreds, "pay_2")
	require.NoError(t, err)
	assert.True(t, p.Captured())
	assert.Empty(t, p.OrderNumber())
}

func TestToMinorUnitsRounds(t *testing.T) {
	assert.EqualValues(t, 59900, ToMinorUnits(decimal.NewFromInt(599)))
	assert.EqualValues(t, 1000, ToMinorUnits(decimal.RequireFromString("9.999")))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := Sign("secret", body)
	assert.True(t, VerifySignature("secret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("", body, sig))
	assert.False(t, VerifySignature("secret", body, "zz"))
}
