package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -- Conversations --

func (r *SQLiteRepository) GetConversation(ctx context.Context, storeID, phone string) (*Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE store_id = ? AND customer_phone = ? LIMIT 1;`
	conv, err := scanSQLiteConversation(r.db.QueryRowContext(ctx, q, storeID, phone))
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", sqlErr(err))
	}
	return conv, nil
}

func (r *SQLiteRepository) SaveConversation(ctx context.Context, conv Conversation) (*Conversation, error) {
	q := `
INSERT INTO conversations (id, store_id, customer_phone, state, context, version, created_at, updated_at)
VALUES (?1, ?2, ?3, ?4, ?5, 1, ?6, ?6)
ON CONFLICT (store_id, customer_phone) DO UPDATE SET
    state = excluded.state,
    context = excluded.context,
    version = conversations.version + 1,
    updated_at = excluded.updated_at
RETURNING ` + conversationColumns + `;`
	row := r.db.QueryRowContext(ctx, q,
		uuid.NewString(),
		conv.StoreID,
		conv.CustomerPhone,
		conv.State,
		jsonParam(conv.Context),
		sqliteTime(conv.UpdatedAt),
	)
	saved, err := scanSQLiteConversation(row)
	if err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	return saved, nil
}

func (r *SQLiteRepository) ClearConversation(ctx context.Context, storeID, phone string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE store_id = ? AND customer_phone = ?;`, storeID, phone)
	if err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListIdleConversations(ctx context.Context, state string, updatedBefore, updatedAfter time.Time, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `
SELECT ` + conversationColumns + `
FROM conversations
WHERE state = ? AND updated_at <= ? AND updated_at >= ?
ORDER BY updated_at ASC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, state, sqliteTime(updatedBefore), sqliteTime(updatedAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("list idle conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanSQLiteConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idle conversation: %w", err)
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle conversations: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) TransitionConversation(ctx context.Context, id, from, to string, version int64, at time.Time) (bool, error) {
	const q = `
UPDATE conversations
SET state = ?, version = version + 1, updated_at = ?
WHERE id = ? AND state = ? AND version = ?;
`
	res, err := r.db.ExecContext(ctx, q, to, sqliteTime(at), id, from, version)
	if err != nil {
		return false, fmt.Errorf("transition conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition conversation: %w", err)
	}
	return n == 1, nil
}

func scanSQLiteConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var raw sql.NullString
	var created, updated string
	if err := row.Scan(&c.ID, &c.StoreID, &c.CustomerPhone, &c.State, &raw, &c.Version, &created, &updated); err != nil {
		return nil, err
	}
	if raw.Valid && raw.String != "" {
		c.Context = []byte(raw.String)
	}
	var err error
	if c.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}

// -- Catalog --

func (r *SQLiteRepository) ListActiveProducts(ctx context.Context, storeID string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, store_id, name, description, base_price, image_url, category, is_active
FROM products
WHERE store_id = ? AND is_active = 1
ORDER BY name ASC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.Description, &p.BasePrice, &p.ImageURL, &p.Category, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (r *SQLiteRepository) GetProduct(ctx context.Context, storeID, productID string) (*Product, error) {
	const q = `
SELECT id, store_id, name, description, base_price, image_url, category, is_active
FROM products
WHERE id = ? AND store_id = ?
LIMIT 1;
`
	var p Product
	err := r.db.QueryRowContext(ctx, q, productID, storeID).
		Scan(&p.ID, &p.StoreID, &p.Name, &p.Description, &p.BasePrice, &p.ImageURL, &p.Category, &p.IsActive)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", sqlErr(err))
	}

	const vq = `
SELECT id, product_id, store_id, name, sku, price, stock_quantity
FROM variants
WHERE product_id = ? AND store_id = ?
ORDER BY CAST(price AS REAL) ASC, name ASC;
`
	rows, err := r.db.QueryContext(ctx, vq, productID, storeID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.StoreID, &v.Name, &v.SKU, &v.Price, &v.StockQuantity); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		p.Variants = append(p.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return &p, nil
}

func (r *SQLiteRepository) GetVariant(ctx context.Context, storeID, variantID string) (*Variant, error) {
	const q = `
SELECT id, product_id, store_id, name, sku, price, stock_quantity
FROM variants
WHERE id = ? AND store_id = ?
LIMIT 1;
`
	var v Variant
	err := r.db.QueryRowContext(ctx, q, variantID, storeID).
		Scan(&v.ID, &v.ProductID, &v.StoreID, &v.Name, &v.SKU, &v.Price, &v.StockQuantity)
	if err != nil {
		return nil, fmt.Errorf("get variant: %w", sqlErr(err))
	}
	return &v, nil
}

func (r *SQLiteRepository) AdjustStock(ctx context.Context, storeID, variantID string, delta int) (int, error) {
	const q = `
UPDATE variants
SET stock_quantity = stock_quantity + ?1
WHERE id = ?2 AND store_id = ?3 AND stock_quantity + ?1 >= 0
RETURNING stock_quantity;
`
	var stock int
	err := r.db.QueryRowContext(ctx, q, delta, variantID, storeID).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}
	if _, lookupErr := r.GetVariant(ctx, storeID, variantID); lookupErr != nil {
		return 0, fmt.Errorf("adjust stock: %w", lookupErr)
	}
	return 0, ErrInsufficientStock
}

// -- Orders --

func (r *SQLiteRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = OrderStatusPending
	}
	at := sqliteTime(order.CreatedAt)
	const q = `
INSERT INTO orders (id, store_id, order_number, customer_id, customer_phone, customer_name, product_id,
    variant_id, quantity, total_amount, status, address, notes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := r.db.ExecContext(ctx, q,
		order.ID,
		order.StoreID,
		order.OrderNumber,
		order.CustomerID,
		order.CustomerPhone,
		order.CustomerName,
		order.ProductID,
		order.VariantID,
		order.Quantity,
		order.TotalAmount.String(),
		order.Status,
		order.Address,
		order.Notes,
		at,
		at,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return r.GetOrderByID(ctx, order.StoreID, order.ID)
}

func (r *SQLiteRepository) GetOrderByID(ctx context.Context, storeID, id string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = ? AND store_id = ? LIMIT 1;`
	order, err := scanSQLiteOrder(r.db.QueryRowContext(ctx, q, id, storeID))
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", sqlErr(err))
	}
	return order, nil
}

func (r *SQLiteRepository) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE order_number = ? LIMIT 1;`
	order, err := scanSQLiteOrder(r.db.QueryRowContext(ctx, q, number))
	if err != nil {
		return nil, fmt.Errorf("get order by number: %w", sqlErr(err))
	}
	return order, nil
}

func (r *SQLiteRepository) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = ? AND gateway_order_id <> '' LIMIT 1;`
	order, err := scanSQLiteOrder(r.db.QueryRowContext(ctx, q, gatewayOrderID))
	if err != nil {
		return nil, fmt.Errorf("get order by gateway order id: %w", sqlErr(err))
	}
	return order, nil
}

func (r *SQLiteRepository) ListOrdersByCustomer(ctx context.Context, storeID, phone string, limit int) ([]OrderSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	const q = `
SELECT o.id, o.store_id, o.order_number, o.customer_id, o.customer_phone, o.customer_name, o.product_id,
    o.variant_id, o.quantity, o.total_amount, o.status, o.gateway_order_id, o.gateway_payment_id,
    o.gateway_signature, o.payment_link_id, o.payment_link_url, o.address, o.notes, o.created_at, o.updated_at,
    COALESCE(p.name, ''), COALESCE(v.name, '')
FROM orders o
LEFT JOIN products p ON p.id = o.product_id
LEFT JOIN variants v ON v.id = o.variant_id
WHERE o.store_id = ? AND o.customer_phone = ?
ORDER BY o.created_at DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, storeID, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("list customer orders: %w", err)
	}
	defer rows.Close()

	var out []OrderSummary
	for rows.Next() {
		var productName, variantName string
		order, err := scanSQLiteOrder(rows, &productName, &variantName)
		if err != nil {
			return nil, fmt.Errorf("scan customer order: %w", err)
		}
		out = append(out, OrderSummary{Order: *order, ProductName: productName, VariantName: variantName})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customer orders: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) UpdateOrderStatus(ctx context.Context, storeID, id, from, to string, at time.Time) (bool, error) {
	const q = `
UPDATE orders
SET status = ?, updated_at = ?
WHERE id = ? AND store_id = ? AND status = ?;
`
	res, err := r.db.ExecContext(ctx, q, to, sqliteTime(at), id, storeID, from)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) SetOrderPaymentLink(ctx context.Context, id, linkID, linkURL string, at time.Time) error {
	const q = `
UPDATE orders
SET payment_link_id = ?1, payment_link_url = ?2, gateway_order_id = ?1, updated_at = ?3
WHERE id = ?4;
`
	res, err := r.db.ExecContext(ctx, q, linkID, linkURL, sqliteTime(at), id)
	if err != nil {
		return fmt.Errorf("set payment link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set payment link: %w", ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) AppendOrderNote(ctx context.Context, id, note string, at time.Time) error {
	const q = `
UPDATE orders
SET notes = CASE WHEN notes = '' THEN ?1 ELSE notes || char(10) || ?1 END, updated_at = ?2
WHERE id = ?3;
`
	res, err := r.db.ExecContext(ctx, q, note, sqliteTime(at), id)
	if err != nil {
		return fmt.Errorf("append order note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("append order note: %w", ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) MarkOrderPaid(ctx context.Context, payment PaymentRecord) (bool, error) {
	applied := false
	at := sqliteTime(payment.At)
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO payment_events (payment_id, order_number, event, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (payment_id) DO NOTHING;
`, payment.PaymentID, payment.OrderNumber, payment.Event, at)
		if err != nil {
			return fmt.Errorf("claim payment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx, `
UPDATE orders
SET status = 'paid',
    gateway_payment_id = ?2,
    gateway_order_id = CASE WHEN ?3 = '' THEN gateway_order_id ELSE ?3 END,
    gateway_signature = ?4,
    updated_at = ?5
WHERE order_number = ?1 AND status IN ('pending', 'confirmed');
`, payment.OrderNumber, payment.PaymentID, payment.GatewayOrderID, payment.Signature, at)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		applied = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// GetOrderStats sums amounts in Go since SQLite arithmetic on TEXT money is floating point.
func (r *SQLiteRepository) GetOrderStats(ctx context.Context, storeID string, window StatsWindow) (*OrderStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT total_amount, status, created_at FROM orders WHERE store_id = ?;`, storeID)
	if err != nil {
		return nil, fmt.Errorf("order stats: %w", err)
	}
	defer rows.Close()

	stats := &OrderStats{ByStatus: map[string]int64{}}
	for rows.Next() {
		var amount decimal.Decimal
		var status, created string
		if err := rows.Scan(&amount, &status, &created); err != nil {
			return nil, fmt.Errorf("scan order stats: %w", err)
		}
		at, err := parseSQLiteTime(created)
		if err != nil {
			return nil, err
		}
		stats.ByStatus[status]++
		if !at.Before(window.MonthStart) {
			stats.Month.add(amount)
		}
		if !at.Before(window.WeekStart) {
			stats.Week.add(amount)
		}
		if !at.Before(window.DayStart) {
			stats.Today.add(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order stats: %w", err)
	}
	return stats, nil
}

func (r *SQLiteRepository) GetPlatformStats(ctx context.Context, limit int) (*PlatformStats, error) {
	if limit <= 0 {
		limit = 5
	}
	stats := &PlatformStats{}
	const totals = `
SELECT
    (SELECT COUNT(*) FROM stores),
    (SELECT COUNT(*) FROM stores WHERE whatsapp_phone_number_id NOT LIKE 'PENDING_%');
`
	if err := r.db.QueryRowContext(ctx, totals).Scan(&stats.TotalStores, &stats.ActiveStores); err != nil {
		return nil, fmt.Errorf("platform totals: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT s.id, s.name, o.total_amount
FROM orders o
JOIN stores s ON s.id = o.store_id;
`)
	if err != nil {
		return nil, fmt.Errorf("platform orders: %w", err)
	}
	defer rows.Close()

	byStore := map[string]*StoreRevenue{}
	for rows.Next() {
		var id, name string
		var amount decimal.Decimal
		if err := rows.Scan(&id, &name, &amount); err != nil {
			return nil, fmt.Errorf("scan platform order: %w", err)
		}
		stats.TotalOrders++
		stats.Revenue = stats.Revenue.Add(amount)
		sr, ok := byStore[id]
		if !ok {
			sr = &StoreRevenue{StoreID: id, Name: name}
			byStore[id] = sr
		}
		sr.OrderCount++
		sr.Revenue = sr.Revenue.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate platform orders: %w", err)
	}

	for _, sr := range byStore {
		stats.TopStores = append(stats.TopStores, *sr)
	}
	sort.Slice(stats.TopStores, func(i, j int) bool {
		a, b := stats.TopStores[i], stats.TopStores[j]
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c > 0
		}
		return a.Name < b.Name
	})
	if len(stats.TopStores) > limit {
		stats.TopStores = stats.TopStores[:limit]
	}
	return stats, nil
}

func (p *PeriodStats) add(amount decimal.Decimal) {
	p.Count++
	p.Revenue = p.Revenue.Add(amount)
}

func scanSQLiteOrder(row rowScanner, extra ...any) (*Order, error) {
	var o Order
	var variantID sql.NullString
	var created, updated string
	dest := []any{&o.ID, &o.StoreID, &o.OrderNumber, &o.CustomerID, &o.CustomerPhone, &o.CustomerName, &o.ProductID,
		&variantID, &o.Quantity, &o.TotalAmount, &o.Status, &o.GatewayOrderID, &o.GatewayPaymentID, &o.GatewaySignature,
		&o.PaymentLinkID, &o.PaymentLinkURL, &o.Address, &o.Notes, &created, &updated}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if variantID.Valid {
		o.VariantID = &variantID.String
	}
	var err error
	if o.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, err
	}
	return &o, nil
}
