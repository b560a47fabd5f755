// Package repotest builds migrated SQLite repositories and seed data for tests.
package repotest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"chatshop/internal/logging"
	"chatshop/internal/repo"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// NewSQLite opens a migrated SQLite repository in a temp directory.
func NewSQLite(t testing.TB) *repo.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	r, err := repo.NewSQLite(ctx, path, logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return r
}

// Store describes a tenant fixture. Empty fields get usable defaults.
type Store struct {
	ID            string
	Name          string
	RoutingID     string
	AccessToken   string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Balance       string
	MessageCost   string
}

// SeedStore inserts a store and returns its id.
func SeedStore(t testing.TB, r *repo.SQLiteRepository, s Store) string {
	t.Helper()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Name == "" {
		s.Name = "Test Store"
	}
	if s.RoutingID == "" {
		s.RoutingID = "PNID-" + s.ID[:8]
	}
	if s.AccessToken == "" {
		s.AccessToken = "token-" + s.ID[:8]
	}
	if s.Balance == "" {
		s.Balance = "100"
	}
	var cost any
	if s.MessageCost != "" {
		cost = s.MessageCost
	}
	_, err := r.DB().Exec(`
INSERT INTO stores (id, name, whatsapp_phone_number_id, whatsapp_access_token, razorpay_key_id,
    razorpay_key_secret, razorpay_webhook_secret, wallet_balance_minor, message_cost, is_active, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?);`,
		s.ID, s.Name, s.RoutingID, s.AccessToken, s.KeyID, s.KeySecret, s.WebhookSecret, walletUnits(t, s.Balance), cost, now())
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return s.ID
}

// SeedProduct inserts an active product and returns its id.
func SeedProduct(t testing.TB, r *repo.SQLiteRepository, storeID, name, price, category string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := r.DB().Exec(`
INSERT INTO products (id, store_id, name, description, base_price, image_url, category, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, '', ?, 1, ?, ?);`,
		id, storeID, name, name+" description", price, category, now(), now())
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return id
}

// SeedVariant inserts a variant and returns its id.
func SeedVariant(t testing.TB, r *repo.SQLiteRepository, storeID, productID, name, price string, stock int) string {
	t.Helper()
	id := uuid.NewString()
	_, err := r.DB().Exec(`
INSERT INTO variants (id, product_id, store_id, name, sku, price, stock_quantity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		id, productID, storeID, name, "SKU-"+id[:6], price, stock, now())
	if err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return id
}

// SetWalletBalance overwrites the wallet balance of a store.
func SetWalletBalance(t testing.TB, r *repo.SQLiteRepository, storeID, balance string) {
	t.Helper()
	if _, err := r.DB().Exec(`UPDATE stores SET wallet_balance_minor = ? WHERE id = ?;`, walletUnits(t, balance), storeID); err != nil {
		t.Fatalf("set wallet balance: %v", err)
	}
}

func walletUnits(t testing.TB, balance string) int64 {
	t.Helper()
	units, err := repo.WalletMinorUnits(decimal.RequireFromString(balance))
	if err != nil {
		t.Fatalf("wallet balance %q: %v", balance, err)
	}
	return units
}

// Count returns the number of rows in table matching where.
func Count(t testing.TB, r *repo.SQLiteRepository, table, where string, args ...any) int {
	t.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := r.DB().QueryRow(q, args...).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}
