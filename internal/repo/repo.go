package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"chatshop/migrations"
)

// PostgresRepository provides typed access to the Postgres database.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies the embedded Postgres migrations.
func (r *PostgresRepository) RunMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()
	return applyMigrations(ctx, db, "postgres", migrations.PostgresDir)
}

// WithTx executes fn within a database transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, fn)
}

const storeColumns = `id, name, whatsapp_phone_number_id, whatsapp_access_token, razorpay_key_id,
    razorpay_key_secret, razorpay_webhook_secret, wallet_balance, message_cost, is_active, created_at`

// GetStoreByRoutingID resolves the store owning a WhatsApp phone_number_id.
func (r *PostgresRepository) GetStoreByRoutingID(ctx context.Context, routingID string) (*Store, error) {
	q := `SELECT ` + storeColumns + ` FROM stores WHERE whatsapp_phone_number_id = $1 LIMIT 1;`
	store, err := scanStore(r.pool.QueryRow(ctx, q, routingID))
	if err != nil {
		return nil, fmt.Errorf("get store by routing id: %w", pgErr(err))
	}
	return store, nil
}

// GetStoreByID returns a store by its identifier.
func (r *PostgresRepository) GetStoreByID(ctx context.Context, id string) (*Store, error) {
	q := `SELECT ` + storeColumns + ` FROM stores WHERE id = $1 LIMIT 1;`
	store, err := scanStore(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get store by id: %w", pgErr(err))
	}
	return store, nil
}

// GetWalletBalance reads the current wallet balance of a store.
func (r *PostgresRepository) GetWalletBalance(ctx context.Context, storeID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT wallet_balance FROM stores WHERE id = $1;`, storeID).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get wallet balance: %w", pgErr(err))
	}
	return balance, nil
}

// UpsertCustomer creates the customer or refreshes name and last interaction.
func (r *PostgresRepository) UpsertCustomer(ctx context.Context, profile CustomerProfile) (*Customer, error) {
	const q = `
INSERT INTO customers (id, store_id, phone, name, whatsapp_id, last_interaction, created_at)
VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'Customer'), $5, $6, $6)
ON CONFLICT (store_id, phone) DO UPDATE SET
    name = CASE WHEN $4 = '' THEN customers.name ELSE EXCLUDED.name END,
    whatsapp_id = EXCLUDED.whatsapp_id,
    last_interaction = EXCLUDED.last_interaction
RETURNING id, store_id, phone, name, whatsapp_id, last_interaction, created_at;
`
	row := r.pool.QueryRow(ctx, q,
		uuid.NewString(),
		profile.StoreID,
		profile.Phone,
		profile.Name,
		profile.WhatsAppID,
		timeOrNow(profile.At),
	)
	var c Customer
	if err := row.Scan(&c.ID, &c.StoreID, &c.Phone, &c.Name, &c.WhatsAppID, &c.LastInteraction, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return &c, nil
}

// GetCustomer returns a customer by store and phone.
func (r *PostgresRepository) GetCustomer(ctx context.Context, storeID, phone string) (*Customer, error) {
	const q = `
SELECT id, store_id, phone, name, whatsapp_id, last_interaction, created_at
FROM customers
WHERE store_id = $1 AND phone = $2
LIMIT 1;
`
	var c Customer
	err := r.pool.QueryRow(ctx, q, storeID, phone).
		Scan(&c.ID, &c.StoreID, &c.Phone, &c.Name, &c.WhatsAppID, &c.LastInteraction, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", pgErr(err))
	}
	return &c, nil
}

// InsertMessage stores a message record for auditing purposes.
func (r *PostgresRepository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	_, err := r.pool.Exec(ctx, insertMessageSQL, messageArgs(msg)...)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const insertMessageSQL = `
INSERT INTO messages (id, store_id, customer_phone, direction, body, type, message_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`

func messageArgs(msg MessageRecord) []any {
	return []any{
		uuid.NewString(),
		msg.StoreID,
		msg.CustomerPhone,
		msg.Direction,
		msg.Body,
		msg.Type,
		msg.MessageID,
		timeOrNow(msg.CreatedAt),
	}
}

// RecordBilledSend writes the outbound message, debits the wallet and logs the
// usage in one transaction. It returns the balance after the debit.
func (r *PostgresRepository) RecordBilledSend(ctx context.Context, send BilledSend) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		msg := MessageRecord{
			StoreID:       send.StoreID,
			CustomerPhone: send.CustomerPhone,
			Direction:     DirectionOutbound,
			Body:          send.Body,
			Type:          send.MessageType,
			MessageID:     send.TransportMessageID,
			CreatedAt:     send.At,
		}
		if _, err := tx.Exec(ctx, insertMessageSQL, messageArgs(msg)...); err != nil {
			return fmt.Errorf("insert outbound message: %w", err)
		}

		const debit = `UPDATE stores SET wallet_balance = wallet_balance - $2 WHERE id = $1 RETURNING wallet_balance;`
		if err := tx.QueryRow(ctx, debit, send.StoreID, send.Cost).Scan(&balance); err != nil {
			return fmt.Errorf("debit wallet: %w", pgErr(err))
		}

		const usage = `
INSERT INTO usage_logs (id, store_id, type, cost, balance_after, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
		if _, err := tx.Exec(ctx, usage, uuid.NewString(), send.StoreID, send.UsageType, send.Cost, balance, send.Details, timeOrNow(send.At)); err != nil {
			return fmt.Errorf("insert usage log: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("record billed send: %w", err)
	}
	return balance, nil
}

// ListUsage returns the most recent wallet debits of a store.
func (r *PostgresRepository) ListUsage(ctx context.Context, storeID string, limit int) ([]UsageLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, store_id, type, cost, balance_after, details, created_at
FROM usage_logs
WHERE store_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var entries []UsageLogEntry
	for rows.Next() {
		var e UsageLogEntry
		if err := rows.Scan(&e.ID, &e.StoreID, &e.Type, &e.Cost, &e.BalanceAfter, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return entries, nil
}

func scanStore(row pgx.Row) (*Store, error) {
	var s Store
	var cost decimal.NullDecimal
	if err := row.Scan(&s.ID, &s.Name, &s.WhatsAppPhoneNumberID, &s.WhatsAppAccessToken, &s.RazorpayKeyID,
		&s.RazorpayKeySecret, &s.RazorpayWebhookSecret, &s.WalletBalance, &cost, &s.IsActive, &s.CreatedAt); err != nil {
		return nil, err
	}
	if cost.Valid {
		s.MessageCost = &cost.Decimal
	}
	return &s, nil
}

func pgErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
