// Package inventory is the stock ledger. Every change to a variant's
// quantity on hand goes through here and is journaled in the same unit of
// work as the change itself.
package inventory

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/store"
)

// Debit removes quantity units for a sale of orderID.
func Debit(ctx context.Context, tx store.Tx, variantID int64, quantity int, orderID int64) (*models.InventoryLogEntry, error) {
	if quantity <= 0 {
		return nil, apperrors.Validation("debit quantity must be positive").With("variant_id", variantID)
	}
	return apply(ctx, tx, variantID, -quantity, models.InventoryReasonSale, &orderID)
}

// Credit returns quantity units to stock when orderID is cancelled.
func Credit(ctx context.Context, tx store.Tx, variantID int64, quantity int, orderID int64) (*models.InventoryLogEntry, error) {
	if quantity <= 0 {
		return nil, apperrors.Validation("credit quantity must be positive").With("variant_id", variantID)
	}
	return apply(ctx, tx, variantID, quantity, models.InventoryReasonCancellation, &orderID)
}

func apply(ctx context.Context, tx store.Tx, variantID int64, change int, reason models.InventoryReason, referenceID *int64) (*models.InventoryLogEntry, error) {
	previous, next, err := tx.AdjustStock(ctx, variantID, change)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrInsufficientStock):
			available := 0
			if locked, lockErr := tx.LockVariants(ctx, []int64{variantID}); lockErr == nil {
				if v, ok := locked[variantID]; ok {
					available = v.QuantityOnHand
				}
			}
			return nil, apperrors.InsufficientStock(variantID, -change, available)
		case errors.Is(err, database.ErrNotFound):
			return nil, apperrors.NotFound("variant").With("variant_id", variantID)
		}
		return nil, apperrors.Storage("adjust stock", err)
	}

	entry := &models.InventoryLogEntry{
		VariantID:        variantID,
		QuantityChange:   change,
		Reason:           reason,
		ReferenceID:      referenceID,
		PreviousQuantity: previous,
		NewQuantity:      next,
	}
	if err := tx.InsertInventoryLog(ctx, entry); err != nil {
		return nil, apperrors.Storage("append inventory log", err)
	}
	return entry, nil
}

type Ledger struct {
	store store.Store
}

func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// Restock adds quantity units received from a supplier.
func (l *Ledger) Restock(ctx context.Context, variantID int64, quantity int) (*models.InventoryLogEntry, error) {
	if quantity <= 0 {
		return nil, apperrors.Validation("restock quantity must be positive")
	}

	var entry *models.InventoryLogEntry
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		entry, err = apply(ctx, tx, variantID, quantity, models.InventoryReasonRestock, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("variantId", variantID).
		Int("quantity", quantity).
		Int("newQuantity", entry.NewQuantity).
		Msg("variant restocked")
	return entry, nil
}

// AuditReport is the result of replaying a variant's ledger.
type AuditReport struct {
	VariantID      int64                      `json:"variant_id"`
	QuantityOnHand int                        `json:"quantity_on_hand"`
	Replayed       int                        `json:"replayed"`
	Consistent     bool                       `json:"consistent"`
	BrokenAt       *int64                     `json:"broken_at,omitempty"`
	Entries        []models.InventoryLogEntry `json:"entries"`
}

// Audit replays the variant's entries from an opening balance of zero and
// checks that each entry starts where the previous one ended.
func (l *Ledger) Audit(ctx context.Context, variantID int64) (*AuditReport, error) {
	variant, err := l.store.GetVariant(ctx, variantID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NotFound("variant").With("variant_id", variantID)
		}
		return nil, apperrors.Storage("get variant", err)
	}
	entries, err := l.store.ListInventoryLog(ctx, variantID)
	if err != nil {
		return nil, apperrors.Storage("list inventory log", err)
	}

	report := &AuditReport{
		VariantID:      variantID,
		QuantityOnHand: variant.QuantityOnHand,
		Entries:        entries,
	}
	if report.Entries == nil {
		report.Entries = []models.InventoryLogEntry{}
	}

	running := 0
	for _, e := range entries {
		if report.BrokenAt == nil && (e.PreviousQuantity != running || e.NewQuantity != e.PreviousQuantity+e.QuantityChange) {
			id := e.ID
			report.BrokenAt = &id
		}
		running += e.QuantityChange
	}
	report.Replayed = running
	report.Consistent = report.BrokenAt == nil && running == variant.QuantityOnHand

	if !report.Consistent {
		log.Warn().
			Int64("variantId", variantID).
			Int("quantityOnHand", variant.QuantityOnHand).
			Int("replayed", running).
			Msg("inventory ledger does not reproduce stock")
	}
	return report, nil
}
