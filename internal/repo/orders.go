package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, store_id, order_number, customer_id, customer_phone, customer_name, product_id,
    variant_id, quantity, total_amount, status, gateway_order_id, gateway_payment_id, gateway_signature,
    payment_link_id, payment_link_url, address, notes, created_at, updated_at`

// InsertOrder stores a new order record.
func (r *PostgresRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = OrderStatusPending
	}
	at := timeOrNow(order.CreatedAt)
	q := `
INSERT INTO orders (id, store_id, order_number, customer_id, customer_phone, customer_name, product_id,
    variant_id, quantity, total_amount, status, address, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
RETURNING ` + orderColumns + `;`
	row := r.pool.QueryRow(ctx, q,
		order.ID,
		order.StoreID,
		order.OrderNumber,
		order.CustomerID,
		order.CustomerPhone,
		order.CustomerName,
		order.ProductID,
		order.VariantID,
		order.Quantity,
		order.TotalAmount,
		order.Status,
		order.Address,
		order.Notes,
		at,
	)
	inserted, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return inserted, nil
}

// GetOrderByID returns an order of the store.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, storeID, id string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND store_id = $2 LIMIT 1;`
	order, err := scanOrder(r.pool.QueryRow(ctx, q, id, storeID))
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", pgErr(err))
	}
	return order, nil
}

// GetOrderByNumber retrieves an order by its human readable number.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1 LIMIT 1;`
	order, err := scanOrder(r.pool.QueryRow(ctx, q, number))
	if err != nil {
		return nil, fmt.Errorf("get order by number: %w", pgErr(err))
	}
	return order, nil
}

// GetOrderByGatewayOrderID retrieves an order by the gateway order reference.
func (r *PostgresRepository) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1 AND gateway_order_id <> '' LIMIT 1;`
	order, err := scanOrder(r.pool.QueryRow(ctx, q, gatewayOrderID))
	if err != nil {
		return nil, fmt.Errorf("get order by gateway order id: %w", pgErr(err))
	}
	return order, nil
}

// ListOrdersByCustomer returns the latest orders of a customer with product names.
func (r *PostgresRepository) ListOrdersByCustomer(ctx context.Context, storeID, phone string, limit int) ([]OrderSummary, error) {
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
WHERE o.store_id = $1 AND o.customer_phone = $2
ORDER BY o.created_at DESC
LIMIT $3;
`
	rows, err := r.pool.Query(ctx, q, storeID, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("list customer orders: %w", err)
	}
	defer rows.Close()

	var out []OrderSummary
	for rows.Next() {
		var s OrderSummary
		o := &s.Order
		if err := rows.Scan(&o.ID, &o.StoreID, &o.OrderNumber, &o.CustomerID, &o.CustomerPhone, &o.CustomerName, &o.ProductID,
			&o.VariantID, &o.Quantity, &o.TotalAmount, &o.Status, &o.GatewayOrderID, &o.GatewayPaymentID,
			&o.GatewaySignature, &o.PaymentLinkID, &o.PaymentLinkURL, &o.Address, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
			&s.ProductName, &s.VariantName); err != nil {
			return nil, fmt.Errorf("scan customer order: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customer orders: %w", err)
	}
	return out, nil
}

// UpdateOrderStatus moves an order from one status to another. It reports
// false when the order was not in the expected status.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, storeID, id, from, to string, at time.Time) (bool, error) {
	const q = `
UPDATE orders
SET status = $4, updated_at = $5
WHERE id = $1 AND store_id = $2 AND status = $3;
`
	ct, err := r.pool.Exec(ctx, q, id, storeID, from, to, timeOrNow(at))
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// SetOrderPaymentLink stores the gateway payment link of an order.
func (r *PostgresRepository) SetOrderPaymentLink(ctx context.Context, id, linkID, linkURL string, at time.Time) error {
	const q = `
UPDATE orders
SET payment_link_id = $2, payment_link_url = $3, gateway_order_id = $2, updated_at = $4
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, linkID, linkURL, timeOrNow(at))
	if err != nil {
		return fmt.Errorf("set payment link: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set payment link: %w", ErrNotFound)
	}
	return nil
}

// AppendOrderNote appends a line to the order notes.
func (r *PostgresRepository) AppendOrderNote(ctx context.Context, id, note string, at time.Time) error {
	const q = `
UPDATE orders
SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END, updated_at = $3
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, note, timeOrNow(at))
	if err != nil {
		return fmt.Errorf("append order note: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("append order note: %w", ErrNotFound)
	}
	return nil
}

// MarkOrderPaid records a gateway payment and flips the order to paid. The
// payment id is claimed first, so a replayed event returns false and changes nothing.
func (r *PostgresRepository) MarkOrderPaid(ctx context.Context, payment PaymentRecord) (bool, error) {
	applied := false
	at := timeOrNow(payment.At)
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const claim = `
INSERT INTO payment_events (payment_id, order_number, event, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (payment_id) DO NOTHING;
`
		ct, err := tx.Exec(ctx, claim, payment.PaymentID, payment.OrderNumber, payment.Event, at)
		if err != nil {
			return fmt.Errorf("claim payment: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil
		}

		const update = `
UPDATE orders
SET status = 'paid',
    gateway_payment_id = $2,
    gateway_order_id = CASE WHEN $3 = '' THEN gateway_order_id ELSE $3 END,
    gateway_signature = $4,
    updated_at = $5
WHERE order_number = $1 AND status IN ('pending', 'confirmed');
`
		ct, err = tx.Exec(ctx, update, payment.OrderNumber, payment.PaymentID, payment.GatewayOrderID, payment.Signature, at)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		applied = ct.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// GetOrderStats aggregates order counts and revenue of a store.
func (r *PostgresRepository) GetOrderStats(ctx context.Context, storeID string, window StatsWindow) (*OrderStats, error) {
	const q = `
SELECT
    COUNT(*) FILTER (WHERE created_at >= $2),
    COALESCE(SUM(total_amount) FILTER (WHERE created_at >= $2), 0),
    COUNT(*) FILTER (WHERE created_at >= $3),
    COALESCE(SUM(total_amount) FILTER (WHERE created_at >= $3), 0),
    COUNT(*) FILTER (WHERE created_at >= $4),
    COALESCE(SUM(total_amount) FILTER (WHERE created_at >= $4), 0)
FROM orders
WHERE store_id = $1;
`
	stats := &OrderStats{ByStatus: map[string]int64{}}
	err := r.pool.QueryRow(ctx, q, storeID, window.DayStart, window.WeekStart, window.MonthStart).Scan(
		&stats.Today.Count, &stats.Today.Revenue,
		&stats.Week.Count, &stats.Week.Revenue,
		&stats.Month.Count, &stats.Month.Revenue,
	)
	if err != nil {
		return nil, fmt.Errorf("order stats: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM orders WHERE store_id = $1 GROUP BY status;`, storeID)
	if err != nil {
		return nil, fmt.Errorf("order status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return stats, nil
}

// GetPlatformStats aggregates store and order totals across tenants.
func (r *PostgresRepository) GetPlatformStats(ctx context.Context, limit int) (*PlatformStats, error) {
	if limit <= 0 {
		limit = 5
	}
	stats := &PlatformStats{}
	const totals = `
SELECT
    (SELECT COUNT(*) FROM stores),
    (SELECT COUNT(*) FROM stores WHERE whatsapp_phone_number_id NOT LIKE 'PENDING_%'),
    (SELECT COUNT(*) FROM orders),
    (SELECT COALESCE(SUM(total_amount), 0) FROM orders);
`
	if err := r.pool.QueryRow(ctx, totals).Scan(&stats.TotalStores, &stats.ActiveStores, &stats.TotalOrders, &stats.Revenue); err != nil {
		return nil, fmt.Errorf("platform totals: %w", err)
	}

	const top = `
SELECT s.id, s.name, COUNT(o.id), COALESCE(SUM(o.total_amount), 0) AS revenue
FROM stores s
JOIN orders o ON o.store_id = s.id
GROUP BY s.id, s.name
ORDER BY revenue DESC, s.name ASC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, top, limit)
	if err != nil {
		return nil, fmt.Errorf("top stores: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sr StoreRevenue
		if err := rows.Scan(&sr.StoreID, &sr.Name, &sr.OrderCount, &sr.Revenue); err != nil {
			return nil, fmt.Errorf("scan top store: %w", err)
		}
		stats.TopStores = append(stats.TopStores, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top stores: %w", err)
	}
	return stats, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var total decimal.Decimal
	if err := row.Scan(&o.ID, &o.StoreID, &o.OrderNumber, &o.CustomerID, &o.CustomerPhone, &o.CustomerName, &o.ProductID,
		&o.VariantID, &o.Quantity, &total, &o.Status, &o.GatewayOrderID, &o.GatewayPaymentID, &o.GatewaySignature,
		&o.PaymentLinkID, &o.PaymentLinkURL, &o.Address, &o.Notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.TotalAmount = total
	return &o, nil
}
