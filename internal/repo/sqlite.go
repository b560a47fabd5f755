package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"chatshop/migrations"
)

// sqliteTimeLayout is fixed width so TEXT timestamps sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// walletScale is the number of decimal places kept by wallet_balance_minor.
const walletScale = 4

const sqliteStoreColumns = `id, name, whatsapp_phone_number_id, whatsapp_access_token, razorpay_key_id,
    razorpay_key_secret, razorpay_webhook_secret, wallet_balance_minor, message_cost, is_active, created_at`

// WalletMinorUnits converts an amount into wallet_balance_minor units. It fails
// when the amount carries more than four decimal places.
func WalletMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.Equal(amount.Truncate(walletScale)) {
		return 0, fmt.Errorf("amount %s exceeds %d decimal places", amount, walletScale)
	}
	return amount.Shift(walletScale).IntPart(), nil
}

func walletFromMinor(units int64) decimal.Decimal {
	return decimal.New(units, -walletScale)
}

// SQLiteRepository provides access to a local SQLite database.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens a new connection to the SQLite database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteRepository, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection per process; writers in other processes wait on busy_timeout.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
	}, nil
}

// Close releases the database connection.
func (r *SQLiteRepository) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

// Ping ensures the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies the embedded SQLite migrations.
func (r *SQLiteRepository) RunMigrations(ctx context.Context) error {
	return applyMigrations(ctx, r.db, "sqlite3", migrations.SQLiteDir)
}

// WithTx executes fn within a database transaction.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// -- Stores --

func (r *SQLiteRepository) GetStoreByRoutingID(ctx context.Context, routingID string) (*Store, error) {
	q := `SELECT ` + sqliteStoreColumns + ` FROM stores WHERE whatsapp_phone_number_id = ? LIMIT 1;`
	store, err := scanSQLiteStore(r.db.QueryRowContext(ctx, q, routingID))
	if err != nil {
		return nil, fmt.Errorf("get store by routing id: %w", sqlErr(err))
	}
	return store, nil
}

func (r *SQLiteRepository) GetStoreByID(ctx context.Context, id string) (*Store, error) {
	q := `SELECT ` + sqliteStoreColumns + ` FROM stores WHERE id = ? LIMIT 1;`
	store, err := scanSQLiteStore(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get store by id: %w", sqlErr(err))
	}
	return store, nil
}

func (r *SQLiteRepository) GetWalletBalance(ctx context.Context, storeID string) (decimal.Decimal, error) {
	var units int64
	err := r.db.QueryRowContext(ctx, `SELECT wallet_balance_minor FROM stores WHERE id = ?;`, storeID).Scan(&units)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get wallet balance: %w", sqlErr(err))
	}
	return walletFromMinor(units), nil
}

// -- Customers --

func (r *SQLiteRepository) UpsertCustomer(ctx context.Context, profile CustomerProfile) (*Customer, error) {
	const q = `
INSERT INTO customers (id, store_id, phone, name, whatsapp_id, last_interaction, created_at)
VALUES (?1, ?2, ?3, COALESCE(NULLIF(?4, ''), 'Customer'), ?5, ?6, ?6)
ON CONFLICT (store_id, phone) DO UPDATE SET
    name = CASE WHEN ?4 = '' THEN customers.name ELSE excluded.name END,
    whatsapp_id = excluded.whatsapp_id,
    last_interaction = excluded.last_interaction
RETURNING id, store_id, phone, name, whatsapp_id, last_interaction, created_at;
`
	row := r.db.QueryRowContext(ctx, q,
		uuid.NewString(),
		profile.StoreID,
		profile.Phone,
		profile.Name,
		profile.WhatsAppID,
		sqliteTime(profile.At),
	)
	c, err := scanSQLiteCustomer(row)
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetCustomer(ctx context.Context, storeID, phone string) (*Customer, error) {
	const q = `
SELECT id, store_id, phone, name, whatsapp_id, last_interaction, created_at
FROM customers
WHERE store_id = ? AND phone = ?
LIMIT 1;
`
	c, err := scanSQLiteCustomer(r.db.QueryRowContext(ctx, q, storeID, phone))
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", sqlErr(err))
	}
	return c, nil
}

// -- Messages and billing --

const sqliteInsertMessageSQL = `
INSERT INTO messages (id, store_id, customer_phone, direction, body, type, message_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`

func sqliteMessageArgs(msg MessageRecord) []any {
	return []any{
		uuid.NewString(),
		msg.StoreID,
		msg.CustomerPhone,
		msg.Direction,
		msg.Body,
		msg.Type,
		msg.MessageID,
		sqliteTime(msg.CreatedAt),
	}
}

func (r *SQLiteRepository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	if _, err := r.db.ExecContext(ctx, sqliteInsertMessageSQL, sqliteMessageArgs(msg)...); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RecordBilledSend(ctx context.Context, send BilledSend) (decimal.Decimal, error) {
	cost, err := WalletMinorUnits(send.Cost)
	if err != nil {
		return decimal.Zero, fmt.Errorf("record billed send: %w", err)
	}
	var balance decimal.Decimal
	err = r.WithTx(ctx, func(tx *sql.Tx) error {
		msg := MessageRecord{
			StoreID:       send.StoreID,
			CustomerPhone: send.CustomerPhone,
			Direction:     DirectionOutbound,
			Body:          send.Body,
			Type:          send.MessageType,
			MessageID:     send.TransportMessageID,
			CreatedAt:     send.At,
		}
		if _, err := tx.ExecContext(ctx, sqliteInsertMessageSQL, sqliteMessageArgs(msg)...); err != nil {
			return fmt.Errorf("insert outbound message: %w", err)
		}

		const debit = `UPDATE stores SET wallet_balance_minor = wallet_balance_minor - ? WHERE id = ? RETURNING wallet_balance_minor;`
		var after int64
		if err := tx.QueryRowContext(ctx, debit, cost, send.StoreID).Scan(&after); err != nil {
			return fmt.Errorf("debit wallet: %w", sqlErr(err))
		}
		balance = walletFromMinor(after)

		const usage = `
INSERT INTO usage_logs (id, store_id, type, cost, balance_after, details, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
		if _, err := tx.ExecContext(ctx, usage, uuid.NewString(), send.StoreID, send.UsageType, send.Cost.String(), balance.String(), send.Details, sqliteTime(send.At)); err != nil {
			return fmt.Errorf("insert usage log: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("record billed send: %w", err)
	}
	return balance, nil
}

func (r *SQLiteRepository) ListUsage(ctx context.Context, storeID string, limit int) ([]UsageLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, store_id, type, cost, balance_after, details, created_at
FROM usage_logs
WHERE store_id = ?
ORDER BY created_at DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var entries []UsageLogEntry
	for rows.Next() {
		var e UsageLogEntry
		var created string
		if err := rows.Scan(&e.ID, &e.StoreID, &e.Type, &e.Cost, &e.BalanceAfter, &e.Details, &created); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		if e.CreatedAt, err = parseSQLiteTime(created); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return entries, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteStore(row rowScanner) (*Store, error) {
	var s Store
	var cost decimal.NullDecimal
	var wallet int64
	var created string
	if err := row.Scan(&s.ID, &s.Name, &s.WhatsAppPhoneNumberID, &s.WhatsAppAccessToken, &s.RazorpayKeyID,
		&s.RazorpayKeySecret, &s.RazorpayWebhookSecret, &wallet, &cost, &s.IsActive, &created); err != nil {
		return nil, err
	}
	s.WalletBalance = walletFromMinor(wallet)
	if cost.Valid {
		s.MessageCost = &cost.Decimal
	}
	var err error
	if s.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSQLiteCustomer(row rowScanner) (*Customer, error) {
	var c Customer
	var last, created string
	if err := row.Scan(&c.ID, &c.StoreID, &c.Phone, &c.Name, &c.WhatsAppID, &last, &created); err != nil {
		return nil, err
	}
	var err error
	if c.LastInteraction, err = parseSQLiteTime(last); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	return &c, nil
}

func sqlErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func sqliteTime(t time.Time) string {
	return timeOrNow(t).Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse sqlite time %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// DB exposes the underlying handle for fixtures and maintenance tasks.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}
