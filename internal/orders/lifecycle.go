package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/inventory"
	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/notify"
	"github.com/safar/settlement-core/internal/store"
)

// transitions lists the legal status changes driven by status-set calls.
// CANCELLED is reached only through Cancel.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusPaid},
	models.OrderStatusPaid:       {models.OrderStatusProcessing},
	models.OrderStatusProcessing: {models.OrderStatusShipped},
	models.OrderStatusShipped:    {models.OrderStatusDelivered},
	models.OrderStatusDelivered:  {models.OrderStatusRefunded},
	models.OrderStatusCancelled:  {models.OrderStatusRefunded},
}

func CanTransition(from, to models.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func Cancellable(status models.OrderStatus) bool {
	return status == models.OrderStatusPending || status == models.OrderStatusProcessing
}

// Attributor credits partner earnings for a delivered order inside the
// caller's unit of work. It must be idempotent per (partner, order).
type Attributor interface {
	Attribute(ctx context.Context, tx store.Tx, order *models.Order) ([]models.PartnerEarning, error)
}

// Actor identifies who is acting on an order. Non-admins may only touch
// their own orders.
type Actor struct {
	UserID int64
	Admin  bool
}

func (a Actor) owns(order *models.Order) bool {
	return a.Admin || order.UserID == a.UserID
}

type Lifecycle struct {
	store         store.Store
	attributor    Attributor
	notifier      notify.Sender
	notifyTimeout time.Duration
	now           func() time.Time
}

func NewLifecycle(s store.Store, attributor Attributor, notifier notify.Sender) *Lifecycle {
	return &Lifecycle{
		store:         s,
		attributor:    attributor,
		notifier:      notifier,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
	}
}

// Get returns the order if the actor may see it.
func (l *Lifecycle) Get(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NotFound("order").With("order_id", orderID)
		}
		return nil, apperrors.Storage("get order", err)
	}
	if !actor.owns(order) {
		return nil, apperrors.NotFound("order").With("order_id", orderID)
	}
	return order, nil
}

// Cancel restocks every item, marks the order cancelled and flags its
// payment for refund, all in one unit of work.
func (l *Lifecycle) Cancel(ctx context.Context, actor Actor, orderID int64, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.Validation("cancel reason is required")
	}

	var order *models.Order
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !actor.owns(o) {
			return apperrors.NotFound("order").With("order_id", orderID)
		}
		if !Cancellable(o.Status) {
			return apperrors.InvalidTransition(string(o.Status), string(models.OrderStatusCancelled)).
				With("order_id", orderID)
		}

		items, err := tx.OrderItems(ctx, orderID)
		if err != nil {
			return apperrors.Storage("get order items", err)
		}
		for _, item := range items {
			if _, err := inventory.Credit(ctx, tx, item.VariantID, item.Quantity, orderID); err != nil {
				return err
			}
		}

		at := l.now().UTC()
		if err := tx.MarkOrderCancelled(ctx, orderID, reason, at); err != nil {
			return apperrors.Storage("cancel order", err)
		}
		if err := tx.SetPaymentStatus(ctx, orderID, models.PaymentStatusRefundPending); err != nil && !errors.Is(err, database.ErrNotFound) {
			return apperrors.Storage("flag payment for refund", err)
		}

		o.Status = models.OrderStatusCancelled
		o.CancelReason = &reason
		o.CancelledAt = &at
		o.Items = items
		order = o
		return nil
	})
	if err != nil {
		return nil, apperrors.OrStorage("cancel order", err)
	}

	log.Info().
		Int64("orderId", orderID).
		Int64("actorId", actor.UserID).
		Str("reason", reason).
		Msg("order cancelled")
	notify.Dispatch(ctx, l.notifier, l.notifyTimeout, notify.OrderEvent(notify.EventOrderCancelled, order))
	return order, nil
}

// SetStatus applies an external fulfillment signal. Repeating the current
// status is a no-op, except that a repeated DELIVERED re-runs attribution,
// which creates nothing that already exists.
func (l *Lifecycle) SetStatus(ctx context.Context, orderID int64, status models.OrderStatus, trackingNumber *string) (*models.Order, error) {
	if _, ok := models.ParseOrderStatus(string(status)); !ok {
		return nil, apperrors.Validation("unknown order status").With("status", string(status))
	}
	if trackingNumber != nil {
		tn := strings.TrimSpace(*trackingNumber)
		if tn == "" {
			trackingNumber = nil
		} else {
			trackingNumber = &tn
		}
	}

	var (
		order      *models.Order
		changed    bool
		attributed []models.PartnerEarning
	)
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		changed, attributed = false, nil

		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if o.Status != status {
			if status == models.OrderStatusCancelled || !CanTransition(o.Status, status) {
				return apperrors.InvalidTransition(string(o.Status), string(status)).With("order_id", orderID)
			}
			var tracking *string
			if status == models.OrderStatusShipped {
				tracking = trackingNumber
			}
			if err := tx.UpdateOrderStatus(ctx, orderID, status, tracking); err != nil {
				return apperrors.Storage("update order status", err)
			}
			if status == models.OrderStatusRefunded {
				if err := tx.SetPaymentStatus(ctx, orderID, models.PaymentStatusRefunded); err != nil && !errors.Is(err, database.ErrNotFound) {
					return apperrors.Storage("mark payment refunded", err)
				}
			}
			o.Status = status
			if tracking != nil {
				o.TrackingNumber = tracking
			}
			changed = true
		}

		if o.Status == models.OrderStatusDelivered && l.attributor != nil {
			earnings, err := l.attributor.Attribute(ctx, tx, o)
			if err != nil {
				return err
			}
			attributed = earnings
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, apperrors.OrStorage("set order status", err)
	}

	if changed {
		log.Info().
			Int64("orderId", orderID).
			Str("status", string(order.Status)).
			Int("earningsCreated", len(attributed)).
			Msg("order status updated")
		if order.Status == models.OrderStatusDelivered {
			notify.Dispatch(ctx, l.notifier, l.notifyTimeout, notify.OrderEvent(notify.EventOrderDelivered, order))
		}
	}
	return order, nil
}

func lockOrder(ctx context.Context, tx store.Tx, orderID int64) (*models.Order, error) {
	o, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NotFound("order").With("order_id", orderID)
		}
		return nil, apperrors.Storage("lock order", err)
	}
	return o, nil
}
