package repo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context) error

	// Stores
	GetStoreByRoutingID(ctx context.Context, routingID string) (*Store, error)
	GetStoreByID(ctx context.Context, id string) (*Store, error)
	GetWalletBalance(ctx context.Context, storeID string) (decimal.Decimal, error)

	// Customers
	UpsertCustomer(ctx context.Context, profile CustomerProfile) (*Customer, error)
	GetCustomer(ctx context.Context, storeID, phone string) (*Customer, error)

	// Messages and billing
	InsertMessage(ctx context.Context, msg MessageRecord) error
	RecordBilledSend(ctx context.Context, send BilledSend) (decimal.Decimal, error)
	ListUsage(ctx context.Context, storeID string, limit int) ([]UsageLogEntry, error)

	// Conversations
	GetConversation(ctx context.Context, storeID, phone string) (*Conversation, error)
	SaveConversation(ctx context.Context, conv Conversation) (*Conversation, error)
	ClearConversation(ctx context.Context, storeID, phone string) error
	ListIdleConversations(ctx context.Context, state string, updatedBefore, updatedAfter time.Time, limit int) ([]Conversation, error)
	TransitionConversation(ctx context.Context, id, from, to string, version int64, at time.Time) (bool, error)

	// Catalog
	ListActiveProducts(ctx context.Context, storeID string, limit int) ([]Product, error)
	GetProduct(ctx context.Context, storeID, productID string) (*Product, error)
	GetVariant(ctx context.Context, storeID, variantID string) (*Variant, error)
	AdjustStock(ctx context.Context, storeID, variantID string, delta int) (int, error)

	// Orders
	InsertOrder(ctx context.Context, order Order) (*Order, error)
	GetOrderByID(ctx context.Context, storeID, id string) (*Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*Order, error)
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error)
	ListOrdersByCustomer(ctx context.Context, storeID, phone string, limit int) ([]OrderSummary, error)
	UpdateOrderStatus(ctx context.Context, storeID, id, from, to string, at time.Time) (bool, error)
	SetOrderPaymentLink(ctx context.Context, id, linkID, linkURL string, at time.Time) error
	AppendOrderNote(ctx context.Context, id, note string, at time.Time) error
	MarkOrderPaid(ctx context.Context, payment PaymentRecord) (bool, error)
	GetOrderStats(ctx context.Context, storeID string, window StatsWindow) (*OrderStats, error)
	GetPlatformStats(ctx context.Context, limit int) (*PlatformStats, error)
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*SQLiteRepository)(nil)
)
