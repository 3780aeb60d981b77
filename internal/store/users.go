package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
)

func (t *pgTx) InsertUser(ctx context.Context, user *models.User) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO users (email, name, created_at)
		 VALUES ($1, $2, NOW())
		 RETURNING id, created_at`,
		user.Email, user.Name).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (t *pgTx) InsertAddress(ctx context.Context, address *models.Address) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO addresses (user_id, line1, city, postal_code, country, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id, created_at`,
		address.UserID, address.Line1, address.City, address.PostalCode, address.Country).
		Scan(&address.ID, &address.CreatedAt)
	if err != nil {
		return fmt.Errorf("create address: %w", err)
	}
	return nil
}

func (t *pgTx) GetAddress(ctx context.Context, userID, addressID int64) (*models.Address, error) {
	return getAddress(ctx, t.tx, userID, addressID)
}

func (s *Postgres) GetAddress(ctx context.Context, userID, addressID int64) (*models.Address, error) {
	return getAddress(ctx, s.db, userID, addressID)
}

func getAddress(ctx context.Context, q sqlx.QueryerContext, userID, addressID int64) (*models.Address, error) {
	address := &models.Address{}
	err := sqlx.GetContext(ctx, q, address,
		`SELECT id, user_id, line1, city, postal_code, country, created_at
		 FROM addresses
		 WHERE id = $1 AND user_id = $2`,
		addressID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("get address: %w", err)
	}
	return address, nil
}

func (t *pgTx) UpsertSelection(ctx context.Context, selection *models.Selection) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO cart_items (user_id, variant_id, quantity, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, variant_id) DO UPDATE SET quantity = EXCLUDED.quantity
		 RETURNING created_at`,
		selection.UserID, selection.VariantID, selection.Quantity).Scan(&selection.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert selection: %w", err)
	}
	return nil
}

// LockSelections locks the caller's cart rows. A concurrent checkout of the
// same cart blocks here until the first one commits, and statements it runs
// afterwards see that commit.
func (t *pgTx) LockSelections(ctx context.Context, userID int64) ([]models.Selection, error) {
	var selections []models.Selection
	err := sqlx.SelectContext(ctx, t.tx, &selections,
		`SELECT user_id, variant_id, quantity, created_at
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY variant_id
		 FOR UPDATE`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("lock selections: %w", err)
	}
	return selections, nil
}

func (t *pgTx) ClearSelections(ctx context.Context, userID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear selections: %w", err)
	}
	return nil
}

func (s *Postgres) ListSelections(ctx context.Context, userID int64) ([]models.Selection, error) {
	var selections []models.Selection
	err := s.db.SelectContext(ctx, &selections,
		`SELECT user_id, variant_id, quantity, created_at
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY variant_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list selections: %w", err)
	}
	return selections, nil
}
