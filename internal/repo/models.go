package repo

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repo: not found")
	// ErrInsufficientStock is returned when a stock decrement would go negative.
	ErrInsufficientStock = errors.New("repo: insufficient stock")
)

// Order statuses.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Store is a tenant: one merchant with its own WhatsApp number, gateway
// credentials and prepaid wallet.
type Store struct {
	ID                    string
	Name                  string
	WhatsAppPhoneNumberID string
	WhatsAppAccessToken   string
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	WalletBalance         decimal.Decimal
	// MessageCost is nil when the store relies on the platform default.
	MessageCost *decimal.Decimal
	IsActive    bool
	CreatedAt   time.Time
}

// Customer is an end user of one store, keyed by (StoreID, Phone).
type Customer struct {
	ID              string
	StoreID         string
	Phone           string
	Name            string
	WhatsAppID      string
	LastInteraction time.Time
	CreatedAt       time.Time
}

// CustomerProfile carries the fields refreshed on every inbound message.
type CustomerProfile struct {
	StoreID    string
	Phone      string
	Name       string
	WhatsAppID string
	At         time.Time
}

// MessageRecord is one row of the per-store message log.
type MessageRecord struct {
	StoreID       string
	CustomerPhone string
	Direction     string
	Body          string
	Type          string
	MessageID     string
	CreatedAt     time.Time
}

// BilledSend describes a successful outbound send to be recorded and charged.
type BilledSend struct {
	StoreID            string
	CustomerPhone      string
	Body               string
	MessageType        string
	TransportMessageID string
	Cost               decimal.Decimal
	UsageType          string
	Details            string
	At                 time.Time
}

// UsageLogEntry is one wallet debit.
type UsageLogEntry struct {
	ID           string
	StoreID      string
	Type         string
	Cost         decimal.Decimal
	BalanceAfter decimal.Decimal
	Details      string
	CreatedAt    time.Time
}

// Conversation holds the dialog state of one customer with one store.
type Conversation struct {
	ID            string
	StoreID       string
	CustomerPhone string
	State         string
	Context       json.RawMessage
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Product is a catalog item. Variants is only populated by GetProduct.
type Product struct {
	ID          string
	StoreID     string
	Name        string
	Description string
	BasePrice   decimal.Decimal
	ImageURL    string
	Category    string
	IsActive    bool
	Variants    []Variant
}

// Variant is a purchasable option of a product with its own price and stock.
type Variant struct {
	ID            string
	ProductID     string
	StoreID       string
	Name          string
	SKU           string
	Price         decimal.Decimal
	StockQuantity int
}

// Order is a committed purchase.
type Order struct {
	ID               string
	StoreID          string
	OrderNumber      string
	CustomerID       string
	CustomerPhone    string
	CustomerName     string
	ProductID        string
	VariantID        *string
	Quantity         int
	TotalAmount      decimal.Decimal
	Status           string
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	PaymentLinkID    string
	PaymentLinkURL   string
	Address          string
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderSummary is an order joined with its product and variant names.
type OrderSummary struct {
	Order
	ProductName string
	VariantName string
}

// PaymentRecord is a confirmed payment reported by the gateway. PaymentID is
// the idempotency key.
type PaymentRecord struct {
	OrderNumber    string
	PaymentID      string
	GatewayOrderID string
	Signature      string
	Event          string
	At             time.Time
}

// PeriodStats aggregates orders created in a time window.
type PeriodStats struct {
	Count   int64
	Revenue decimal.Decimal
}

// OrderStats summarises one store's orders.
type OrderStats struct {
	Today    PeriodStats
	Week     PeriodStats
	Month    PeriodStats
	ByStatus map[string]int64
}

// StoreRevenue ranks a store by order revenue.
type StoreRevenue struct {
	StoreID    string
	Name       string
	OrderCount int64
	Revenue    decimal.Decimal
}

// PlatformStats summarises activity across all stores.
type PlatformStats struct {
	TotalStores  int64
	ActiveStores int64
	TotalOrders  int64
	Revenue      decimal.Decimal
	TopStores    []StoreRevenue
}

// StatsWindow holds the cutoffs used by GetOrderStats.
type StatsWindow struct {
	DayStart   time.Time
	WeekStart  time.Time
	MonthStart time.Time
}

// NewStatsWindow derives the day, 7 day and 30 day cutoffs from now.
func NewStatsWindow(now time.Time) StatsWindow {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return StatsWindow{
		DayStart:   day,
		WeekStart:  now.Add(-7 * 24 * time.Hour),
		MonthStart: now.Add(-30 * 24 * time.Hour),
	}
}
