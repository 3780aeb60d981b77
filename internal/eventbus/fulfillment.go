package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/models"
	"github.com/streadway/amqp"
)

// FulfillmentSignal is the message body on the fulfillment queue.
type FulfillmentSignal struct {
	OrderID        int64   `json:"orderId"`
	Status         string  `json:"status"`
	TrackingNumber *string `json:"trackingNumber,omitempty"`
}

type StatusSetter interface {
	SetStatus(ctx context.Context, orderID int64, status models.OrderStatus, trackingNumber *string) (*models.Order, error)
}

// FulfillmentHandler applies fulfillment signals to the order lifecycle.
// Malformed signals and rejected transitions are permanent failures;
// anything else is retried.
func FulfillmentHandler(setter StatusSetter) MessageHandler {
	return func(ctx context.Context, delivery amqp.Delivery) error {
		var signal FulfillmentSignal
		if err := json.Unmarshal(delivery.Body, &signal); err != nil {
			log.Error().Err(err).Str("messageId", delivery.MessageId).Msg("failed to unmarshal fulfillment signal")
			return fmt.Errorf("%w: %v", ErrPermanentFailure, err)
		}
		status, ok := models.ParseOrderStatus(signal.Status)
		if signal.OrderID <= 0 || !ok {
			return fmt.Errorf("%w: invalid fulfillment signal for order %d with status %q",
				ErrPermanentFailure, signal.OrderID, signal.Status)
		}

		order, err := setter.SetStatus(ctx, signal.OrderID, status, signal.TrackingNumber)
		if err != nil {
			switch apperrors.KindOf(err) {
			case apperrors.KindInvalidTransition, apperrors.KindNotFound, apperrors.KindValidation:
				return fmt.Errorf("%w: %v", ErrPermanentFailure, err)
			}
			return err
		}

		log.Info().
			Int64("orderId", order.ID).
			Str("status", string(order.Status)).
			Str("messageId", delivery.MessageId).
			Msg("fulfillment signal applied")
		return nil
	}
}
