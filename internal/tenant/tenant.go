// Package tenant resolves inbound routing ids to stores and carries the
// resolved credentials explicitly through every call.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"chatshop/internal/razorpay"
	"chatshop/internal/repo"
	"chatshop/internal/wa"
)

// ErrUnknownRoutingID is returned when no store owns the inbound routing id.
var ErrUnknownRoutingID = errors.New("tenant: unknown routing id")

// ErrUnknownStore is returned when a store id does not exist.
var ErrUnknownStore = errors.New("tenant: unknown store")

// Context is the per-request view of a store.
type Context struct {
	StoreID       string
	StoreName     string
	RoutingID     string
	WhatsApp      wa.Credentials
	Payment       razorpay.Credentials
	WebhookSecret string
	WalletBalance decimal.Decimal
	// MessageCost is the effective cost of one billed send.
	MessageCost decimal.Decimal
}

// FromStore builds a Context, applying defaultCost when the store has none.
func FromStore(s *repo.Store, defaultCost decimal.Decimal) Context {
	cost := defaultCost
	if s.MessageCost != nil {
		cost = *s.MessageCost
	}
	return Context{
		StoreID:   s.ID,
		StoreName: s.Name,
		RoutingID: s.WhatsAppPhoneNumberID,
		WhatsApp: wa.Credentials{
			PhoneNumberID: s.WhatsAppPhoneNumberID,
			AccessToken:   s.WhatsAppAccessToken,
		},
		Payment: razorpay.Credentials{
			KeyID:     s.RazorpayKeyID,
			KeySecret: s.RazorpayKeySecret,
		},
		WebhookSecret: s.RazorpayWebhookSecret,
		WalletBalance: s.WalletBalance,
		MessageCost:   cost,
	}
}

// StoreReader is the slice of the repository the directory needs.
type StoreReader interface {
	GetStoreByRoutingID(ctx context.Context, routingID string) (*repo.Store, error)
	GetStoreByID(ctx context.Context, id string) (*repo.Store, error)
}

// Directory resolves stores into tenant contexts.
type Directory struct {
	stores      StoreReader
	defaultCost decimal.Decimal
	logger      *slog.Logger
}

// NewDirectory creates a store directory.
func NewDirectory(stores StoreReader, defaultCost decimal.Decimal, logger *slog.Logger) *Directory {
	return &Directory{
		stores:      stores,
		defaultCost: defaultCost,
		logger:      logger.With("component", "tenant"),
	}
}

// ResolveByRoutingID maps an inbound phone_number_id to its store.
func (d *Directory) ResolveByRoutingID(ctx context.Context, routingID string) (Context, error) {
	if routingID == "" {
		return Context{}, ErrUnknownRoutingID
	}
	s, err := d.stores.GetStoreByRoutingID(ctx, routingID)
	if errors.Is(err, repo.ErrNotFound) {
		return Context{}, fmt.Errorf("%w: %s", ErrUnknownRoutingID, routingID)
	}
	if err != nil {
		return Context{}, fmt.Errorf("resolve routing id: %w", err)
	}
	return FromStore(s, d.defaultCost), nil
}

// ByID loads a store by id.
func (d *Directory) ByID(ctx context.Context, storeID string) (Context, error) {
	s, err := d.stores.GetStoreByID(ctx, storeID)
	if errors.Is(err, repo.ErrNotFound) {
		return Context{}, fmt.Errorf("%w: %s", ErrUnknownStore, storeID)
	}
	if err != nil {
		return Context{}, fmt.Errorf("load store: %w", err)
	}
	return FromStore(s, d.defaultCost), nil
}

// WebhookSecret implements razorpay.SecretResolver.
func (d *Directory) WebhookSecret(ctx context.Context, storeID string) (string, error) {
	tc, err := d.ByID(ctx, storeID)
	if err != nil {
		return "", err
	}
	return tc.WebhookSecret, nil
}
