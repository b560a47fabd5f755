package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ListActiveProducts returns up to limit active products of a store ordered by name.
func (r *PostgresRepository) ListActiveProducts(ctx context.Context, storeID string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, store_id, name, description, base_price, image_url, category, is_active
FROM products
WHERE store_id = $1 AND is_active
ORDER BY name ASC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, storeID, limit)
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

// GetProduct returns a product of the store together with its variants.
func (r *PostgresRepository) GetProduct(ctx context.Context, storeID, productID string) (*Product, error) {
	const q = `
SELECT id, store_id, name, description, base_price, image_url, category, is_active
FROM products
WHERE id = $1 AND store_id = $2
LIMIT 1;
`
	var p Product
	err := r.pool.QueryRow(ctx, q, productID, storeID).
		Scan(&p.ID, &p.StoreID, &p.Name, &p.Description, &p.BasePrice, &p.ImageURL, &p.Category, &p.IsActive)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", pgErr(err))
	}

	const vq = `
SELECT id, product_id, store_id, name, sku, price, stock_quantity
FROM variants
WHERE product_id = $1 AND store_id = $2
ORDER BY price ASC, name ASC;
`
	rows, err := r.pool.Query(ctx, vq, productID, storeID)
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

// GetVariant returns a single variant with fresh stock.
func (r *PostgresRepository) GetVariant(ctx context.Context, storeID, variantID string) (*Variant, error) {
	const q = `
SELECT id, product_id, store_id, name, sku, price, stock_quantity
FROM variants
WHERE id = $1 AND store_id = $2
LIMIT 1;
`
	var v Variant
	err := r.pool.QueryRow(ctx, q, variantID, storeID).
		Scan(&v.ID, &v.ProductID, &v.StoreID, &v.Name, &v.SKU, &v.Price, &v.StockQuantity)
	if err != nil {
		return nil, fmt.Errorf("get variant: %w", pgErr(err))
	}
	return &v, nil
}

// AdjustStock adds delta to the variant stock and returns the new quantity.
// A decrement that would go below zero fails with ErrInsufficientStock.
func (r *PostgresRepository) AdjustStock(ctx context.Context, storeID, variantID string, delta int) (int, error) {
	const q = `
UPDATE variants
SET stock_quantity = stock_quantity + $3
WHERE id = $1 AND store_id = $2 AND stock_quantity + $3 >= 0
RETURNING stock_quantity;
`
	var stock int
	err := r.pool.QueryRow(ctx, q, variantID, storeID, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}
	if _, lookupErr := r.GetVariant(ctx, storeID, variantID); lookupErr != nil {
		return 0, fmt.Errorf("adjust stock: %w", lookupErr)
	}
	return 0, ErrInsufficientStock
}
