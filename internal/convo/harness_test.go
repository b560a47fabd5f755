package convo_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"chatshop/internal/billing"
	"chatshop/internal/catalog"
	"chatshop/internal/config"
	"chatshop/internal/convo"
	"chatshop/internal/logging"
	"chatshop/internal/metrics"
	"chatshop/internal/orders"
	"chatshop/internal/razorpay"
	"chatshop/internal/repo"
	"chatshop/internal/repo/repotest"
	"chatshop/internal/tenant"
	"chatshop/internal/wa"
	"chatshop/internal/wa/watest"
)

const (
	routingID = "PNID-100"
	customer  = "919800000001"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	linkErr error
}

func (g *fakeGateway) CreatePaymentLink(_ context.Context, _ razorpay.Credentials, req razorpay.LinkRequest) (*razorpay.PaymentLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.linkErr != nil {
		return nil, g.linkErr
	}
	return &razorpay.PaymentLink{ID: "plink_" + req.Reference, ShortURL: "https://rzp.io/i/" + req.Reference}, nil
}

func (g *fakeGateway) FetchPayment(context.Context, razorpay.Credentials, string) (*razorpay.Payment, error) {
	return nil, errors.New("not implemented")
}

type harness struct {
	t       *testing.T
	repo    *repo.SQLiteRepository
	sender  *watest.Sender
	gateway *fakeGateway
	engine  *convo.Engine
	proc    *convo.Processor
	storeID string
	seq     int
}

type harnessOption func(*harnessDeps)

type harnessDeps struct {
	dedupe  convo.Deduper
	metrics *metrics.Metrics
}

func withMetrics(m *metrics.Metrics) harnessOption {
	return func(h *harnessDeps) { h.metrics = m }
}

func withDeduper(d convo.Deduper) harnessOption {
	return func(h *harnessDeps) { h.dedupe = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	deps := &harnessDeps{}
	for _, opt := range opts {
		opt(deps)
	}

	r := repotest.NewSQLite(t)
	storeID := repotest.SeedStore(t, r, repotest.Store{Name: "Tee Shop", RoutingID: routingID, Balance: "100", MessageCost: "1"})

	logger := logging.Discard()
	dir := tenant.NewDirectory(r, decimal.NewFromInt(1), logger)
	sender := &watest.Sender{}
	messenger := billing.NewMessenger(billing.NewLedger(r, config.BillingModeAdvisory, logger, nil), sender)
	gateway := &fakeGateway{}
	orderSvc := orders.New(r, dir, gateway, messenger, "₹", logger, nil)
	cat := catalog.New(r, nil, logger)

	engine := convo.NewEngine(r, cat, orderSvc, messenger, nil, convo.Config{MaxQuantity: 100, CurrencySymbol: "₹"}, logger, nil)
	proc := convo.NewProcessor(dir, r, deps.dedupe, sender, engine, convo.ProcessorConfig{EventTimeout: 5 * time.Second}, logger, deps.metrics)

	return &harness{t: t, repo: r, sender: sender, gateway: gateway, engine: engine, proc: proc, storeID: storeID}
}

func (h *harness) deliver(evt wa.InboundEvent) error {
	h.seq++
	if evt.MessageID == "" {
		evt.MessageID = fmt.Sprintf("wamid.in.%d", h.seq)
	}
	if evt.RoutingID == "" {
		evt.RoutingID = routingID
	}
	if evt.From == "" {
		evt.From = customer
	}
	evt.ProfileName = "Asha"
	evt.Timestamp = time.Now()
	return h.proc.HandleInbound(context.Background(), evt)
}

func (h *harness) text(body string) error {
	return h.deliver(wa.InboundEvent{Kind: wa.KindText, RawType: "text", Text: body})
}

func (h *harness) tap(id string) error {
	return h.deliver(wa.InboundEvent{Kind: wa.KindButton, RawType: "interactive", SelectionID: id})
}

func (h *harness) pick(id string) error {
	return h.deliver(wa.InboundEvent{Kind: wa.KindList, RawType: "interactive", SelectionID: id})
}

func (h *harness) mustText(body string) {
	h.t.Helper()
	require.NoError(h.t, h.text(body))
}

func (h *harness) mustTap(id string) {
	h.t.Helper()
	require.NoError(h.t, h.tap(id))
}

func (h *harness) mustPick(id string) {
	h.t.Helper()
	require.NoError(h.t, h.pick(id))
}

func (h *harness) conversation() *repo.Conversation {
	h.t.Helper()
	conv, err := h.repo.GetConversation(context.Background(), h.storeID, customer)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	require.NoError(h.t, err)
	return conv
}

func (h *harness) state() string {
	h.t.Helper()
	if conv := h.conversation(); conv != nil {
		return conv.State
	}
	return convo.StateIdle
}

func (h *harness) dialog() convo.DialogContext {
	h.t.Helper()
	conv := h.conversation()
	if conv == nil {
		return convo.DialogContext{}
	}
	dc, err := convo.DecodeContext(conv.Context)
	require.NoError(h.t, err)
	return dc
}

func (h *harness) usageRows() int {
	return repotest.Count(h.t, h.repo, "usage_logs", "store_id = ?", h.storeID)
}

func (h *harness) stock(variantID string) int {
	h.t.Helper()
	v, err := h.repo.GetVariant(context.Background(), h.storeID, variantID)
	require.NoError(h.t, err)
	return v.StockQuantity
}

// toQuantity walks a fresh customer to the quantity prompt of a one-variant product.
func (h *harness) toQuantity(price string, stock int) (productID, variantID string) {
	h.t.Helper()
	productID = repotest.SeedProduct(h.t, h.repo, h.storeID, "Classic Tee", price, "Shirts")
	variantID = repotest.SeedVariant(h.t, h.repo, h.storeID, productID, "M", price, stock)
	h.mustTap(convo.ButtonBrowse)
	h.mustPick(catalog.ProductPrefix + productID)
	require.Equal(h.t, convo.StateAwaitingVariant, h.state())
	h.mustPick(catalog.VariantPrefix + variantID)
	require.Equal(h.t, convo.StateAwaitingQuantity, h.state())
	return productID, variantID
}

func repoEvent(routing string) wa.InboundEvent {
	return wa.InboundEvent{RoutingID: routing, Kind: wa.KindText, RawType: "text", Text: "hi"}
}
