package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
)

const variantColumns = `id, product_id, sku, flavor, size, price, sale_price,
	quantity_on_hand, created_at, updated_at, version`

func (t *pgTx) InsertVariant(ctx context.Context, variant *models.Variant) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO variants (product_id, sku, flavor, size, price, sale_price, quantity_on_hand,
		                       created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), 1)
		 RETURNING id, created_at, updated_at, version`,
		variant.ProductID, variant.SKU, variant.Flavor, variant.Size, variant.Price,
		variant.SalePrice, variant.QuantityOnHand).
		Scan(&variant.ID, &variant.CreatedAt, &variant.UpdatedAt, &variant.Version)
	if err != nil {
		return fmt.Errorf("create variant: %w", err)
	}
	if entry := models.OpeningStockEntry(variant); entry != nil {
		return t.InsertInventoryLog(ctx, entry)
	}
	return nil
}

// LockVariants takes row locks in ascending id order so that concurrent
// checkouts over overlapping variants cannot deadlock each other.
func (t *pgTx) LockVariants(ctx context.Context, variantIDs []int64) (map[int64]*models.Variant, error) {
	var variants []models.Variant
	err := t.tx.SelectContext(ctx, &variants,
		`SELECT `+variantColumns+`
		 FROM variants
		 WHERE id = ANY($1)
		 ORDER BY id
		 FOR UPDATE`,
		pq.Array(variantIDs))
	if err != nil {
		return nil, fmt.Errorf("lock variants: %w", err)
	}
	return indexVariants(variants), nil
}

func (t *pgTx) AdjustStock(ctx context.Context, variantID int64, delta int) (int, int, error) {
	var next int
	err := t.tx.QueryRowxContext(ctx,
		`UPDATE variants
		 SET quantity_on_hand = quantity_on_hand + $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		   AND quantity_on_hand + $1 >= 0
		 RETURNING quantity_on_hand`,
		delta, variantID).Scan(&next)
	if err == nil {
		return next - delta, next, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("update stock: %w", err)
	}

	var exists bool
	if err := t.tx.QueryRowxContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM variants WHERE id = $1)", variantID).Scan(&exists); err != nil {
		return 0, 0, fmt.Errorf("check variant exists: %w", err)
	}
	if !exists {
		return 0, 0, database.ErrNotFound
	}
	return 0, 0, database.ErrInsufficientStock
}

func (t *pgTx) InsertInventoryLog(ctx context.Context, entry *models.InventoryLogEntry) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO inventory_logs (variant_id, quantity_change, reason, reference_id,
		                             previous_quantity, new_quantity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 RETURNING id, created_at`,
		entry.VariantID, entry.QuantityChange, entry.Reason, entry.ReferenceID,
		entry.PreviousQuantity, entry.NewQuantity).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append inventory log: %w", err)
	}
	return nil
}

func (s *Postgres) GetVariant(ctx context.Context, variantID int64) (*models.Variant, error) {
	variant := &models.Variant{}
	err := s.db.GetContext(ctx, variant,
		`SELECT `+variantColumns+` FROM variants WHERE id = $1`, variantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}
	return variant, nil
}

func (s *Postgres) GetVariants(ctx context.Context, variantIDs []int64) (map[int64]*models.Variant, error) {
	var variants []models.Variant
	err := s.db.SelectContext(ctx, &variants,
		`SELECT `+variantColumns+` FROM variants WHERE id = ANY($1)`,
		pq.Array(variantIDs))
	if err != nil {
		return nil, fmt.Errorf("get variants: %w", err)
	}
	return indexVariants(variants), nil
}

func (s *Postgres) ListInventoryLog(ctx context.Context, variantID int64) ([]models.InventoryLogEntry, error) {
	var entries []models.InventoryLogEntry
	err := sqlx.SelectContext(ctx, s.db, &entries,
		`SELECT id, variant_id, quantity_change, reason, reference_id,
		        previous_quantity, new_quantity, created_at
		 FROM inventory_logs
		 WHERE variant_id = $1
		 ORDER BY id`,
		variantID)
	if err != nil {
		return nil, fmt.Errorf("list inventory log: %w", err)
	}
	return entries, nil
}

func indexVariants(variants []models.Variant) map[int64]*models.Variant {
	byID := make(map[int64]*models.Variant, len(variants))
	for i := range variants {
		byID[variants[i].ID] = &variants[i]
	}
	return byID
}
