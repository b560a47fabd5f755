package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatshop/internal/metrics"
	"chatshop/internal/orders"
	"chatshop/internal/razorpay"
	"chatshop/internal/repo"
	"chatshop/internal/tenant"
	"chatshop/internal/wa"
)

const defaultMaxQuantity = 100

// Conversations is the dialog state store.
type Conversations interface {
	GetConversation(ctx context.Context, storeID, phone string) (*repo.Conversation, error)
	SaveConversation(ctx context.Context, conv repo.Conversation) (*repo.Conversation, error)
	ClearConversation(ctx context.Context, storeID, phone string) error
}

// Catalog is the product lookup and stock service.
type Catalog interface {
	ListProducts(ctx context.Context, storeID string) ([]repo.Product, error)
	Search(ctx context.Context, storeID, query string) ([]repo.Product, error)
	Product(ctx context.Context, storeID, productID string) (*repo.Product, error)
	Variant(ctx context.Context, storeID, variantID string) (*repo.Variant, error)
	Reserve(ctx context.Context, storeID, variantID string, qty int) (int, error)
	Release(ctx context.Context, storeID, variantID string, qty int) error
}

// Orders is the order service used at checkout.
type Orders interface {
	CreateOrder(ctx context.Context, tc tenant.Context, d orders.Draft) (*repo.Order, error)
	CreatePaymentLink(ctx context.Context, tc tenant.Context, order *repo.Order) (*razorpay.PaymentLink, error)
	Cancel(ctx context.Context, order *repo.Order, reason string) error
	Annotate(ctx context.Context, orderID, note string) error
	RecentOrders(ctx context.Context, storeID, phone string) ([]repo.OrderSummary, error)
}

// Outbound sends billed messages to customers.
type Outbound interface {
	Text(ctx context.Context, tc tenant.Context, to, body, label string) error
	Buttons(ctx context.Context, tc tenant.Context, to, body string, buttons []wa.Button, label string) error
	List(ctx context.Context, tc tenant.Context, to, body, buttonLabel string, sections []wa.Section, label string) error
	Image(ctx context.Context, tc tenant.Context, to, imageURL, caption, label string) error
}

// Config tunes the dialog.
type Config struct {
	MaxQuantity    int
	CurrencySymbol string
}

// Engine is the conversation state machine.
type Engine struct {
	convs   Conversations
	catalog Catalog
	orders  Orders
	out     Outbound
	locks   *KeyLock
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine wires the state machine. locks may be shared with the recovery sweep.
func NewEngine(convs Conversations, cat Catalog, ord Orders, out Outbound, locks *KeyLock, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = defaultMaxQuantity
	}
	if locks == nil {
		locks = NewKeyLock()
	}
	return &Engine{
		convs:   convs,
		catalog: cat,
		orders:  ord,
		out:     out,
		locks:   locks,
		cfg:     cfg,
		logger:  logger.With("component", "convo"),
		metrics: m,
		now:     time.Now,
	}
}

// Locks exposes the per-contact lock table.
func (e *Engine) Locks() *KeyLock {
	return e.locks
}

// turn is one inbound event being handled against the loaded dialog.
type turn struct {
	tc       tenant.Context
	customer *repo.Customer
	evt      wa.InboundEvent
	state    string
	dc       DialogContext
}

func (t *turn) to() string {
	return t.customer.Phone
}

// result is the transition chosen by a handler.
type result struct {
	state   string
	dc      DialogContext
	persist bool
	clear   bool
}

func stay() result {
	return result{}
}

func moveTo(state string, dc DialogContext) result {
	return result{state: state, dc: dc, persist: true}
}

func cleared() result {
	return result{state: StateIdle, clear: true}
}

// Process handles one inbound event for a customer. Events of the same
// customer are handled one at a time. On error no state change is persisted.
func (e *Engine) Process(ctx context.Context, tc tenant.Context, customer *repo.Customer, evt wa.InboundEvent) error {
	unlock, err := e.locks.Lock(ctx, ContactKey(tc.StoreID, customer.Phone))
	if err != nil {
		return fmt.Errorf("wait for contact lock: %w", err)
	}
	defer unlock()

	t := &turn{tc: tc, customer: customer, evt: evt, state: StateIdle}
	conv, err := e.convs.GetConversation(ctx, tc.StoreID, customer.Phone)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load conversation: %w", err)
	default:
		t.state = conv.State
		t.dc, err = DecodeContext(conv.Context)
		if err != nil {
			e.logger.Warn("discarding unreadable dialog context", "store_id", tc.StoreID, "contact", customer.Phone, "error", err)
			t.state = StateIdle
			t.dc = DialogContext{}
		}
	}

	res, err := e.dispatch(ctx, t)
	if err != nil {
		return err
	}
	return e.apply(ctx, t, res)
}

func (e *Engine) apply(ctx context.Context, t *turn, res result) error {
	switch {
	case res.clear:
		if err := e.convs.ClearConversation(ctx, t.tc.StoreID, t.to()); err != nil {
			return err
		}
	case res.persist:
		raw, err := res.dc.Encode()
		if err != nil {
			return err
		}
		_, err = e.convs.SaveConversation(ctx, repo.Conversation{
			StoreID:       t.tc.StoreID,
			CustomerPhone: t.to(),
			State:         res.state,
			Context:       raw,
			UpdatedAt:     e.now().UTC(),
		})
		if err != nil {
			return err
		}
	default:
		return nil
	}

	if e.metrics != nil {
		e.metrics.StateTransitions.WithLabelValues(t.state, res.state).Inc()
	}
	e.logger.Debug("conversation transition", "store_id", t.tc.StoreID, "contact", t.to(), "from", t.state, "to", res.state)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, t *turn) (result, error) {
	switch t.evt.Kind {
	case wa.KindButton, wa.KindList:
		return e.onSelection(ctx, t, t.evt.SelectionID)
	case wa.KindText:
		return e.onText(ctx, t)
	default:
		return e.sendMainMenu(ctx, t)
	}
}
