package repo_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"chatshop/internal/logging"
	"chatshop/internal/repo"
	"chatshop/internal/repo/repotest"
)

func TestRecordBilledSendDebitsWalletAndLogsUsage(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{Balance: "10.00"})

	balance, err := r.RecordBilledSend(ctx, repo.BilledSend{
		StoreID:            storeID,
		CustomerPhone:      "919800000001",
		Body:               "hello",
		MessageType:        "text",
		TransportMessageID: "wamid.1",
		Cost:               decimal.RequireFromString("1.50"),
		UsageType:          "message",
		Details:            "text to 919800000001",
	})
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("8.5")), "balance %s", balance)

	stored, err := r.GetWalletBalance(ctx, storeID)
	require.NoError(t, err)
	require.True(t, stored.Equal(balance))

	usage, err := r.ListUsage(ctx, storeID, 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	require.True(t, usage[0].BalanceAfter.Equal(balance))
	require.True(t, usage[0].Cost.Equal(decimal.RequireFromString("1.5")))

	require.Equal(t, 1, repotest.Count(t, r, "messages", "direction = ? AND message_id = ?", repo.DirectionOutbound, "wamid.1"))
}

func TestRecordBilledSendAllowsNegativeBalance(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{Balance: "0.50"})

	balance, err := r.RecordBilledSend(ctx, repo.BilledSend{StoreID: storeID, Cost: decimal.NewFromInt(1), UsageType: "message"})
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("-0.5")), "balance %s", balance)
}

func TestRecordBilledSendUnknownStoreRollsBack(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()

	_, err := r.RecordBilledSend(ctx, repo.BilledSend{StoreID: "missing", Cost: decimal.NewFromInt(1), UsageType: "message"})
	require.Error(t, err)
	require.Zero(t, repotest.Count(t, r, "messages", ""))
}

func TestRecordBilledSendIsAtomicAcrossConnections(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	first, err := repo.NewSQLite(ctx, path, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(first.Close)
	require.NoError(t, first.RunMigrations(ctx))
	second, err := repo.NewSQLite(ctx, path, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(second.Close)

	storeID := repotest.SeedStore(t, first, repotest.Store{Balance: "50"})

	const perConn = 15
	var wg sync.WaitGroup
	errs := make(chan error, 2*perConn)
	for _, r := range []*repo.SQLiteRepository{first, second} {
		for i := 0; i < perConn; i++ {
			wg.Add(1)
			go func(r *repo.SQLiteRepository) {
				defer wg.Done()
				_, err := r.RecordBilledSend(ctx, repo.BilledSend{
					StoreID:     storeID,
					MessageType: "text",
					Cost:        decimal.RequireFromString("0.25"),
					UsageType:   "message",
				})
				errs <- err
			}(r)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	balance, err := second.GetWalletBalance(ctx, storeID)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("42.5")), "balance %s", balance)
	require.Equal(t, 2*perConn, repotest.Count(t, first, "usage_logs", "store_id = ?", storeID))
}

func TestRecordBilledSendRejectsSubUnitCost(t *testing.T) {
	r := repotest.NewSQLite(t)
	storeID := repotest.SeedStore(t, r, repotest.Store{Balance: "10"})

	_, err := r.RecordBilledSend(context.Background(), repo.BilledSend{StoreID: storeID, Cost: decimal.RequireFromString("0.00001"), UsageType: "message"})
	require.Error(t, err)
	require.Zero(t, repotest.Count(t, r, "usage_logs", ""))
}

func TestGetStoreByRoutingID(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{RoutingID: "PNID-1", MessageCost: "0.25"})
	repotest.SeedStore(t, r, repotest.Store{RoutingID: "PNID-2"})

	store, err := r.GetStoreByRoutingID(ctx, "PNID-1")
	require.NoError(t, err)
	require.Equal(t, storeID, store.ID)
	require.NotNil(t, store.MessageCost)
	require.True(t, store.MessageCost.Equal(decimal.RequireFromString("0.25")))

	other, err := r.GetStoreByRoutingID(ctx, "PNID-2")
	require.NoError(t, err)
	require.Nil(t, other.MessageCost)

	_, err = r.GetStoreByRoutingID(ctx, "PNID-3")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpsertCustomerKeepsNameWhenProfileEmpty(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{})

	first, err := r.UpsertCustomer(ctx, repo.CustomerProfile{StoreID: storeID, Phone: "911", Name: "Asha"})
	require.NoError(t, err)

	second, err := r.UpsertCustomer(ctx, repo.CustomerProfile{StoreID: storeID, Phone: "911"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "Asha", second.Name)

	anon, err := r.UpsertCustomer(ctx, repo.CustomerProfile{StoreID: storeID, Phone: "912"})
	require.NoError(t, err)
	require.Equal(t, "Customer", anon.Name)
}

func TestSaveConversationUpsertsAndVersions(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{})

	first, err := r.SaveConversation(ctx, repo.Conversation{StoreID: storeID, CustomerPhone: "911", State: "main_menu"})
	require.NoError(t, err)
	require.EqualValues(t, 1, first.Version)

	ctxJSON, _ := json.Marshal(map[string]string{"product_id": "p1"})
	second, err := r.SaveConversation(ctx, repo.Conversation{StoreID: storeID, CustomerPhone: "911", State: "browsing", Context: ctxJSON})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.EqualValues(t, 2, second.Version)
	require.JSONEq(t, string(ctxJSON), string(second.Context))
	require.Equal(t, 1, repotest.Count(t, r, "conversations", "store_id = ?", storeID))

	require.NoError(t, r.ClearConversation(ctx, storeID, "911"))
	_, err = r.GetConversation(ctx, storeID, "911")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTransitionConversationRequiresCurrentVersion(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{})

	conv, err := r.SaveConversation(ctx, repo.Conversation{StoreID: storeID, CustomerPhone: "911", State: "cart_active"})
	require.NoError(t, err)

	// A customer message lands between the read and the claim.
	_, err = r.SaveConversation(ctx, repo.Conversation{StoreID: storeID, CustomerPhone: "911", State: "cart_active"})
	require.NoError(t, err)

	ok, err := r.TransitionConversation(ctx, conv.ID, "cart_active", "recovery_sent", conv.Version, time.Now())
	require.NoError(t, err)
	require.False(t, ok)

	fresh, err := r.GetConversation(ctx, storeID, "911")
	require.NoError(t, err)
	ok, err = r.TransitionConversation(ctx, fresh.ID, "cart_active", "recovery_sent", fresh.Version, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestListIdleConversationsHonoursWindow(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{})
	now := time.Now().UTC()

	save := func(phone, state string, age time.Duration) {
		_, err := r.SaveConversation(ctx, repo.Conversation{StoreID: storeID, CustomerPhone: phone, State: state, UpdatedAt: now.Add(-age)})
		require.NoError(t, err)
	}
	save("fresh", "cart_active", 10*time.Minute)
	save("idle", "cart_active", 2*time.Hour)
	save("stale", "cart_active", 30*time.Hour)
	save("other", "browsing", 2*time.Hour)

	convs, err := r.ListIdleConversations(ctx, "cart_active", now.Add(-time.Hour), now.Add(-24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "idle", convs[0].CustomerPhone)
}

func TestAdjustStockNeverGoesNegative(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{})
	productID := repotest.SeedProduct(t, r, storeID, "Kurta", "499", "Apparel")
	variantID := repotest.SeedVariant(t, r, storeID, productID, "M", "499", 3)

	stock, err := r.AdjustStock(ctx, storeID, variantID, -3)
	require.NoError(t, err)
	require.Equal(t, 0, stock)

	_, err = r.AdjustStock(ctx, storeID, variantID, -1)
	require.ErrorIs(t, err, repo.ErrInsufficientStock)

	stock, err = r.AdjustStock(ctx, storeID, variantID, 2)
	require.NoError(t, err)
	require.Equal(t, 2, stock)

	_, err = r.AdjustStock(ctx, storeID, "missing", -1)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestGetProductLoadsVariantsScopedToStore(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{})
	otherID := repotest.SeedStore(t, r, repotest.Store{})
	productID := repotest.SeedProduct(t, r, storeID, "Kurta", "499", "Apparel")
	repotest.SeedVariant(t, r, storeID, productID, "L", "599", 1)
	repotest.SeedVariant(t, r, storeID, productID, "M", "99.50", 1)

	p, err := r.GetProduct(ctx, storeID, productID)
	require.NoError(t, err)
	require.Len(t, p.Variants, 2)
	require.Equal(t, "M", p.Variants[0].Name)

	_, err = r.GetProduct(ctx, otherID, productID)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func seedOrder(t *testing.T, r *repo.SQLiteRepository, storeID, phone, number string, at time.Time) *repo.Order {
	t.Helper()
	ctx := context.Background()
	cust, err := r.UpsertCustomer(ctx, repo.CustomerProfile{StoreID: storeID, Phone: phone, Name: "Asha"})
	require.NoError(t, err)
	productID := repotest.SeedProduct(t, r, storeID, "Kurta", "499", "Apparel")
	order, err := r.InsertOrder(ctx, repo.Order{
		StoreID:       storeID,
		OrderNumber:   number,
		CustomerID:    cust.ID,
		CustomerPhone: phone,
		CustomerName:  cust.Name,
		ProductID:     productID,
		Quantity:      2,
		TotalAmount:   decimal.RequireFromString("998.00"),
		Address:       "12 MG Road",
		CreatedAt:     at,
	})
	require.NoError(t, err)
	return order
}

func TestMarkOrderPaidIsIdempotent(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{})
	order := seedOrder(t, r, storeID, "911", "ORD-1", time.Now())
	require.Equal(t, repo.OrderStatusPending, order.Status)
	require.Nil(t, order.VariantID)

	payment := repo.PaymentRecord{OrderNumber: "ORD-1", PaymentID: "pay_1", GatewayOrderID: "plink_1", Event: "payment_link.paid"}
	applied, err := r.MarkOrderPaid(ctx, payment)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = r.MarkOrderPaid(ctx, payment)
	require.NoError(t, err)
	require.False(t, applied)

	paid, err := r.GetOrderByNumber(ctx, "ORD-1")
	require.NoError(t, err)
	require.Equal(t, repo.OrderStatusPaid, paid.Status)
	require.Equal(t, "pay_1", paid.GatewayPaymentID)
	require.Equal(t, "plink_1", paid.GatewayOrderID)
	require.Equal(t, 1, repotest.Count(t, r, "payment_events", ""))
}

func TestUpdateOrderStatusIsConditional(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{})
	order := seedOrder(t, r, storeID, "911", "ORD-2", time.Now())

	ok, err := r.UpdateOrderStatus(ctx, storeID, order.ID, repo.OrderStatusConfirmed, repo.OrderStatusShipped, time.Now())
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = r.UpdateOrderStatus(ctx, storeID, order.ID, repo.OrderStatusPending, repo.OrderStatusConfirmed, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.AppendOrderNote(ctx, order.ID, "first", time.Now()))
	require.NoError(t, r.AppendOrderNote(ctx, order.ID, "second", time.Now()))
	got, err := r.GetOrderByID(ctx, storeID, order.ID)
	require.NoError(t, err)
	require.Equal(t, "first\nsecond", got.Notes)
}

func TestListOrdersByCustomerNewestFirst(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	storeID := repotest.SeedStore(t, r, repotest.Store{})
	base := time.Now().Add(-time.Hour)
	for i, number := range []string{"ORD-A", "ORD-B", "ORD-C"} {
		seedOrder(t, r, storeID, "911", number, base.Add(time.Duration(i)*time.Minute))
	}

	orders, err := r.ListOrdersByCustomer(ctx, storeID, "911", 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "ORD-C", orders[0].OrderNumber)
	require.Equal(t, "Kurta", orders[0].ProductName)
}

func TestOrderAndPlatformStats(t *testing.T) {
	r := repotest.NewSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()
	storeID := repotest.SeedStore(t, r, repotest.Store{Name: "Alpha"})
	repotest.SeedStore(t, r, repotest.Store{Name: "Pending", RoutingID: "PENDING_abc"})

	seedOrder(t, r, storeID, "911", "ORD-T", now)
	seedOrder(t, r, storeID, "912", "ORD-W", now.Add(-3*24*time.Hour))
	seedOrder(t, r, storeID, "913", "ORD-M", now.Add(-20*24*time.Hour))

	stats, err := r.GetOrderStats(ctx, storeID, repo.NewStatsWindow(now))
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Today.Count)
	require.EqualValues(t, 2, stats.Week.Count)
	require.EqualValues(t, 3, stats.Month.Count)
	require.True(t, stats.Month.Revenue.Equal(decimal.RequireFromString("2994")))
	require.EqualValues(t, 3, stats.ByStatus[repo.OrderStatusPending])

	platform, err := r.GetPlatformStats(ctx, 5)
	require.NoError(t, err)
	require.EqualValues(t, 2, platform.TotalStores)
	require.EqualValues(t, 1, platform.ActiveStores)
	require.EqualValues(t, 3, platform.TotalOrders)
	require.Len(t, platform.TopStores, 1)
	require.Equal(t, "Alpha", platform.TopStores[0].Name)
}
