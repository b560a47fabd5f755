// Package orders creates orders, drives their status and records payments.
package orders

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chatshop/internal/metrics"
	"chatshop/internal/razorpay"
	"chatshop/internal/repo"
	"chatshop/internal/tenant"
)

const (
	recentOrdersLimit = 5
	topStoresLimit    = 5
	usageLimitDefault = 50
	usageLimitMax     = 500
	orderSuffixChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	orderSuffixLength = 4
)

var (
	// ErrInvalidStatus is returned for a status outside the order status set.
	ErrInvalidStatus = errors.New("orders: invalid status")
	// ErrInvalidTransition is returned when a status change would move an order backwards.
	ErrInvalidTransition = errors.New("orders: invalid status transition")
	// ErrOrderNotFound is returned for unknown or foreign orders.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrPaymentNotCaptured is returned by Reconcile for payments that are not captured.
	ErrPaymentNotCaptured = errors.New("orders: payment not captured")
)

var statusRank = map[string]int{
	repo.OrderStatusPending:   0,
	repo.OrderStatusConfirmed: 1,
	repo.OrderStatusPaid:      2,
	repo.OrderStatusShipped:   3,
	repo.OrderStatusDelivered: 4,
	repo.OrderStatusCancelled: 5,
}

// Store is the persistence the order service needs.
type Store interface {
	InsertOrder(ctx context.Context, order repo.Order) (*repo.Order, error)
	GetOrderByID(ctx context.Context, storeID, id string) (*repo.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*repo.Order, error)
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*repo.Order, error)
	ListOrdersByCustomer(ctx context.Context, storeID, phone string, limit int) ([]repo.OrderSummary, error)
	UpdateOrderStatus(ctx context.Context, storeID, id, from, to string, at time.Time) (bool, error)
	SetOrderPaymentLink(ctx context.Context, id, linkID, linkURL string, at time.Time) error
	AppendOrderNote(ctx context.Context, id, note string, at time.Time) error
	MarkOrderPaid(ctx context.Context, payment repo.PaymentRecord) (bool, error)
	GetOrderStats(ctx context.Context, storeID string, window repo.StatsWindow) (*repo.OrderStats, error)
	GetPlatformStats(ctx context.Context, limit int) (*repo.PlatformStats, error)
	ListUsage(ctx context.Context, storeID string, limit int) ([]repo.UsageLogEntry, error)
}

// Gateway is the payment gateway.
type Gateway interface {
	CreatePaymentLink(ctx context.Context, creds razorpay.Credentials, req razorpay.LinkRequest) (*razorpay.PaymentLink, error)
	FetchPayment(ctx context.Context, creds razorpay.Credentials, paymentID string) (*razorpay.Payment, error)
}

// Tenants loads stores by id.
type Tenants interface {
	ByID(ctx context.Context, storeID string) (tenant.Context, error)
}

// Notifier sends a billed text message to a customer.
type Notifier interface {
	Text(ctx context.Context, tc tenant.Context, to, body, label string) error
}

// Draft is an order about to be placed.
type Draft struct {
	CustomerID    string
	CustomerPhone string
	CustomerName  string
	ProductID     string
	VariantID     string
	Quantity      int
	UnitPrice     decimal.Decimal
	Address       string
}

// Total is the order amount.
func (d Draft) Total() decimal.Decimal {
	return d.UnitPrice.Mul(decimal.NewFromInt(int64(d.Quantity)))
}

// Service implements order creation, status changes and payment recording.
type Service struct {
	store    Store
	tenants  Tenants
	gateway  Gateway
	notifier Notifier
	currency string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates an order service. currency is the display symbol used in notifications.
func New(store Store, tenants Tenants, gateway Gateway, notifier Notifier, currency string, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:    store,
		tenants:  tenants,
		gateway:  gateway,
		notifier: notifier,
		currency: currency,
		logger:   logger.With("component", "orders"),
		metrics:  m,
		now:      time.Now,
	}
}

// NewOrderNumber returns an order number of the form ORD-<unix millis>-<suffix>.
func NewOrderNumber(now time.Time) string {
	suffix := make([]byte, orderSuffixLength)
	limit := big.NewInt(int64(len(orderSuffixChars)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			n = big.NewInt(now.UnixNano() % int64(len(orderSuffixChars)))
		}
		suffix[i] = orderSuffixChars[n.Int64()]
	}
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix)
}

// CreateOrder persists a pending order for the draft.
func (s *Service) CreateOrder(ctx context.Context, tc tenant.Context, d Draft) (*repo.Order, error) {
	if d.Quantity <= 0 {
		return nil, fmt.Errorf("create order: quantity %d must be positive", d.Quantity)
	}
	now := s.now().UTC()
	order := repo.Order{
		StoreID:       tc.StoreID,
		OrderNumber:   NewOrderNumber(now),
		CustomerID:    d.CustomerID,
		CustomerPhone: d.CustomerPhone,
		CustomerName:  d.CustomerName,
		ProductID:     d.ProductID,
		Quantity:      d.Quantity,
		TotalAmount:   d.Total(),
		Status:        repo.OrderStatusPending,
		Address:       strings.TrimSpace(d.Address),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if d.VariantID != "" {
		v := d.VariantID
		order.VariantID = &v
	}

	created, err := s.store.InsertOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if s.metrics != nil {
		s.metrics.OrdersCreated.Inc()
	}
	s.logger.Info("order created", "store_id", tc.StoreID, "order_number", created.OrderNumber, "total", created.TotalAmount.String())
	return created, nil
}

// CreatePaymentLink requests a payment link for order and stores it on the order.
func (s *Service) CreatePaymentLink(ctx context.Context, tc tenant.Context, order *repo.Order) (*razorpay.PaymentLink, error) {
	link, err := s.gateway.CreatePaymentLink(ctx, tc.Payment, razorpay.LinkRequest{
		Amount:       order.TotalAmount,
		PayerName:    order.CustomerName,
		PayerContact: order.CustomerPhone,
		Description:  fmt.Sprintf("Order %s from %s", order.OrderNumber, tc.StoreName),
		Reference:    order.OrderNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment link: %w", err)
	}
	if err := s.store.SetOrderPaymentLink(ctx, order.ID, link.ID, link.ShortURL, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("store payment link: %w", err)
	}
	order.PaymentLinkID = link.ID
	order.PaymentLinkURL = link.ShortURL
	order.GatewayOrderID = link.ID
	return link, nil
}

// Cancel moves a pending order to cancelled and records why.
func (s *Service) Cancel(ctx context.Context, order *repo.Order, reason string) error {
	ok, err := s.store.UpdateOrderStatus(ctx, order.StoreID, order.ID, order.Status, repo.OrderStatusCancelled, s.now().UTC())
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if !ok {
		return fmt.Errorf("cancel order %s: %w", order.OrderNumber, ErrInvalidTransition)
	}
	order.Status = repo.OrderStatusCancelled
	if reason != "" {
		if err := s.store.AppendOrderNote(ctx, order.ID, reason, s.now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

// Annotate appends an operator note to an order.
func (s *Service) Annotate(ctx context.Context, orderID, note string) error {
	return s.store.AppendOrderNote(ctx, orderID, note, s.now().UTC())
}

// RecentOrders returns the latest orders of a customer, newest first.
func (s *Service) RecentOrders(ctx context.Context, storeID, phone string) ([]repo.OrderSummary, error) {
	return s.store.ListOrdersByCustomer(ctx, storeID, phone, recentOrdersLimit)
}

// ValidStatus reports whether status belongs to the order status set.
func ValidStatus(status string) bool {
	_, ok := statusRank[status]
	return ok
}

// CanTransition reports whether an order may move from one status to another.
// Statuses only move forward; cancelled is reachable from any status before
// delivered.
func CanTransition(from, to string) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	if from == repo.OrderStatusCancelled || from == repo.OrderStatusDelivered {
		return false
	}
	if to == repo.OrderStatusCancelled {
		return true
	}
	return tr > fr
}

// UpdateStatus changes the status of an order and notifies the customer for
// confirmed, shipped, delivered and cancelled.
func (s *Service) UpdateStatus(ctx context.Context, storeID, orderID, status string) (*repo.Order, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	order, err := s.store.GetOrderByID(ctx, storeID, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.Status == status {
		return order, nil
	}
	if !CanTransition(order.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, status)
	}

	ok, err := s.store.UpdateOrderStatus(ctx, storeID, orderID, order.Status, status, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, order.OrderNumber)
	}
	order.Status = status
	s.logger.Info("order status updated", "store_id", storeID, "order_number", order.OrderNumber, "status", status)

	if body, ok := statusMessage(order, s.currency); ok {
		s.notify(ctx, order, body, "Order "+status)
	}
	return order, nil
}

// RecordPayment marks the order paid once per gateway payment id and sends a
// single confirmation. It reports whether this call applied the payment.
func (s *Service) RecordPayment(ctx context.Context, rec repo.PaymentRecord) (bool, error) {
	if rec.PaymentID == "" || rec.OrderNumber == "" {
		return false, fmt.Errorf("record payment: payment id and order number are required")
	}
	if rec.At.IsZero() {
		rec.At = s.now().UTC()
	}
	applied, err := s.store.MarkOrderPaid(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("record payment: %w", err)
	}
	if !applied {
		s.logger.Info("payment already recorded or order not payable", "order_number", rec.OrderNumber, "payment_id", rec.PaymentID)
		return false, nil
	}

	order, err := s.store.GetOrderByNumber(ctx, rec.OrderNumber)
	if err != nil {
		return true, fmt.Errorf("load paid order: %w", err)
	}
	s.logger.Info("order paid", "store_id", order.StoreID, "order_number", order.OrderNumber, "payment_id", rec.PaymentID)
	s.notify(ctx, order, paidMessage(order, s.currency), "Payment confirmation")
	return true, nil
}

// HandlePaymentEvent implements razorpay.EventProcessor.
func (s *Service) HandlePaymentEvent(ctx context.Context, ev razorpay.Event) error {
	order, err := s.orderForEvent(ctx, ev)
	if errors.Is(err, ErrOrderNotFound) {
		s.logger.Warn("payment event for unknown order", "event", ev.Type, "order_number", ev.OrderNumber, "gateway_order_id", ev.GatewayOrderID)
		return nil
	}
	if err != nil {
		return err
	}
	if ev.StoreID != "" && ev.StoreID != order.StoreID {
		s.logger.Warn("payment event store mismatch", "event", ev.Type, "store_id", ev.StoreID, "order_store_id", order.StoreID)
		return nil
	}

	switch ev.Type {
	case razorpay.EventPaymentCaptured, razorpay.EventPaymentLinkPaid:
		paymentID := ev.PaymentID
		if paymentID == "" {
			paymentID = "link:" + ev.PaymentLinkID
		}
		_, err := s.RecordPayment(ctx, repo.PaymentRecord{
			OrderNumber:    order.OrderNumber,
			PaymentID:      paymentID,
			GatewayOrderID: ev.GatewayOrderID,
			Signature:      ev.Signature,
			Event:          ev.Type,
			At:             ev.ReceivedAt,
		})
		return err
	case razorpay.EventOrderPaid:
		paymentID := ev.PaymentID
		if paymentID == "" {
			paymentID = "order:" + ev.GatewayOrderID
		}
		_, err := s.RecordPayment(ctx, repo.PaymentRecord{
			OrderNumber:    order.OrderNumber,
			PaymentID:      paymentID,
			GatewayOrderID: ev.GatewayOrderID,
			Signature:      ev.Signature,
			Event:          ev.Type,
			At:             ev.ReceivedAt,
		})
		return err
	case razorpay.EventPaymentFailed:
		s.logger.Info("payment failed", "store_id", order.StoreID, "order_number", order.OrderNumber, "reason", ev.ErrorDescription)
		s.notify(ctx, order, failedMessage(order), "Payment failed")
		return nil
	}
	return nil
}

func (s *Service) orderForEvent(ctx context.Context, ev razorpay.Event) (*repo.Order, error) {
	if ev.OrderNumber != "" {
		order, err := s.store.GetOrderByNumber(ctx, ev.OrderNumber)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("load order: %w", err)
		}
	}
	for _, ref := range []string{ev.PaymentLinkID, ev.GatewayOrderID} {
		if ref == "" {
			continue
		}
		order, err := s.store.GetOrderByGatewayOrderID(ctx, ref)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("load order: %w", err)
		}
	}
	return nil, ErrOrderNotFound
}

// ReconcileResult reports the outcome of a manual reconciliation.
type ReconcileResult struct {
	OrderNumber string `json:"order_number"`
	PaymentID   string `json:"payment_id"`
	Status      string `json:"payment_status"`
	Applied     bool   `json:"applied"`
}

// Reconcile fetches a payment from the gateway and records it when captured.
func (s *Service) Reconcile(ctx context.Context, storeID, paymentID string) (*ReconcileResult, error) {
	tc, err := s.tenants.ByID(ctx, storeID)
	if err != nil {
		return nil, err
	}
	payment, err := s.gateway.FetchPayment(ctx, tc.Payment, paymentID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment: %w", err)
	}
	res := &ReconcileResult{PaymentID: payment.ID, Status: payment.Status, OrderNumber: payment.OrderNumber()}
	if !payment.Captured() {
		return res, fmt.Errorf("%w: status %s", ErrPaymentNotCaptured, payment.Status)
	}
	if res.OrderNumber == "" {
		return res, fmt.Errorf("%w: payment %s carries no order number", ErrOrderNotFound, payment.ID)
	}
	order, err := s.store.GetOrderByNumber(ctx, res.OrderNumber)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && order.StoreID != storeID) {
		return res, ErrOrderNotFound
	}
	if err != nil {
		return res, fmt.Errorf("load order: %w", err)
	}

	res.Applied, err = s.RecordPayment(ctx, repo.PaymentRecord{
		OrderNumber:    order.OrderNumber,
		PaymentID:      payment.ID,
		GatewayOrderID: payment.OrderID,
		Event:          "reconcile",
	})
	return res, err
}

// Stats returns the order statistics of a store.
func (s *Service) Stats(ctx context.Context, storeID string) (*repo.OrderStats, error) {
	return s.store.GetOrderStats(ctx, storeID, repo.NewStatsWindow(s.now()))
}

// PlatformStats returns statistics across all stores.
func (s *Service) PlatformStats(ctx context.Context) (*repo.PlatformStats, error) {
	return s.store.GetPlatformStats(ctx, topStoresLimit)
}

// Usage returns recent wallet debits of a store.
func (s *Service) Usage(ctx context.Context, storeID string, limit int) ([]repo.UsageLogEntry, error) {
	if limit <= 0 {
		limit = usageLimitDefault
	}
	if limit > usageLimitMax {
		limit = usageLimitMax
	}
	return s.store.ListUsage(ctx, storeID, limit)
}

func (s *Service) notify(ctx context.Context, order *repo.Order, body, label string) {
	if s.notifier == nil || order.CustomerPhone == "" {
		return
	}
	tc, err := s.tenants.ByID(ctx, order.StoreID)
	if err != nil {
		s.logger.Error("load store for notification", "store_id", order.StoreID, "error", err)
		return
	}
	if err := s.notifier.Text(ctx, tc, order.CustomerPhone, body, label); err != nil {
		s.metrics.IncError("orders_notify")
		s.logger.Error("order notification failed", "store_id", order.StoreID, "order_number", order.OrderNumber, "error", err)
	}
}
