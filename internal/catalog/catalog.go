// Package catalog serves the product catalog of a store and owns stock moves.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatshop/internal/cache"
	"chatshop/internal/repo"
)

const (
	defaultListCacheTTL = 5 * time.Minute
	// MaxListedProducts is the most rows a WhatsApp list message can show.
	MaxListedProducts = 10
)

var (
	// ErrProductNotFound is returned for unknown or foreign products.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrVariantNotFound is returned for unknown or foreign variants.
	ErrVariantNotFound = errors.New("catalog: variant not found")
	// ErrOutOfStock is returned when a reservation exceeds the available stock.
	ErrOutOfStock = errors.New("catalog: insufficient stock")
)

// Store is the persistence the catalog reads from.
type Store interface {
	ListActiveProducts(ctx context.Context, storeID string, limit int) ([]repo.Product, error)
	GetProduct(ctx context.Context, storeID, productID string) (*repo.Product, error)
	GetVariant(ctx context.Context, storeID, variantID string) (*repo.Variant, error)
	AdjustStock(ctx context.Context, storeID, variantID string, delta int) (int, error)
}

// Cache is the optional JSON cache for product lists.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Service provides catalog lookups. Variants and stock are always read fresh.
type Service struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a catalog service. cache may be nil.
func New(store Store, c Cache, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		cache:  c,
		ttl:    defaultListCacheTTL,
		logger: logger.With("component", "catalog"),
	}
}

func listKey(storeID string) string {
	return cache.Key("catalog", storeID, "products")
}

// ListProducts returns up to MaxListedProducts active products.
func (s *Service) ListProducts(ctx context.Context, storeID string) ([]repo.Product, error) {
	key := listKey(storeID)
	if s.cache != nil {
		var cached []repo.Product
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("catalog cache read failed", "store_id", storeID, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	products, err := s.store.ListActiveProducts(ctx, storeID, MaxListedProducts)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, products, s.ttl); err != nil {
			s.logger.Warn("catalog cache write failed", "store_id", storeID, "error", err)
		}
	}
	return products, nil
}

// Invalidate drops the cached product list of a store.
func (s *Service) Invalidate(ctx context.Context, storeID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, listKey(storeID))
}

// Product returns an active product with its variants.
func (s *Service) Product(ctx context.Context, storeID, productID string) (*repo.Product, error) {
	p, err := s.store.GetProduct(ctx, storeID, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// Variant returns a variant with its current stock.
func (s *Service) Variant(ctx context.Context, storeID, variantID string) (*repo.Variant, error) {
	v, err := s.store.GetVariant(ctx, storeID, variantID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrVariantNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Reserve decrements stock by qty. It never drives stock negative.
func (s *Service) Reserve(ctx context.Context, storeID, variantID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("reserve stock: quantity %d must be positive", qty)
	}
	left, err := s.store.AdjustStock(ctx, storeID, variantID, -qty)
	switch {
	case errors.Is(err, repo.ErrInsufficientStock):
		return 0, ErrOutOfStock
	case errors.Is(err, repo.ErrNotFound):
		return 0, ErrVariantNotFound
	case err != nil:
		return 0, fmt.Errorf("reserve stock: %w", err)
	}
	return left, nil
}

// Release returns qty units to stock.
func (s *Service) Release(ctx context.Context, storeID, variantID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	if _, err := s.store.AdjustStock(ctx, storeID, variantID, qty); err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	return nil
}
