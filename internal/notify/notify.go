// Package notify dispatches order events after their unit of work has
// committed. Delivery is best-effort: callers log failures and move on.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/models"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderConfirmed EventType = "order.confirmed"
	EventOrderCancelled EventType = "order.cancelled"
	EventOrderDelivered EventType = "order.delivered"
)

type Event struct {
	ID             string             `json:"event_id"`
	Type           EventType          `json:"type"`
	OccurredAt     time.Time          `json:"occurred_at"`
	OrderID        int64              `json:"order_id"`
	OrderNumber    string             `json:"order_number"`
	UserID         int64              `json:"user_id"`
	Status         models.OrderStatus `json:"status"`
	Total          decimal.Decimal    `json:"total"`
	Reason         string             `json:"reason,omitempty"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
}

func OrderEvent(eventType EventType, order *models.Order) Event {
	e := Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		OccurredAt:  time.Now().UTC(),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Total,
	}
	if order.CancelReason != nil {
		e.Reason = *order.CancelReason
	}
	if order.TrackingNumber != nil {
		e.TrackingNumber = *order.TrackingNumber
	}
	return e
}

type Sender interface {
	Send(ctx context.Context, event Event) error
}

// LogSender writes events to the application log instead of delivering
// them anywhere.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, event Event) error {
	log.Info().
		Str("eventId", event.ID).
		Str("type", string(event.Type)).
		Int64("orderId", event.OrderID).
		Str("orderNumber", event.OrderNumber).
		Int64("userId", event.UserID).
		Str("total", event.Total.StringFixed(2)).
		Msg("order notification")
	return nil
}

type Publisher interface {
	PublishMessage(ctx context.Context, routingKey, messageID string, payload any) error
}

// AMQPSender publishes each event on the events exchange with its type as
// the routing key.
type AMQPSender struct {
	publisher Publisher
}

func NewAMQPSender(p Publisher) *AMQPSender {
	return &AMQPSender{publisher: p}
}

func (s *AMQPSender) Send(ctx context.Context, event Event) error {
	return s.publisher.PublishMessage(ctx, string(event.Type), event.ID, event)
}

// Dispatch sends event with its own deadline, detached from the caller's
// cancellation, and logs any failure.
func Dispatch(ctx context.Context, sender Sender, timeout time.Duration, event Event) {
	if sender == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := sender.Send(ctx, event); err != nil {
		log.Error().Err(err).
			Str("eventId", event.ID).
			Str("type", string(event.Type)).
			Int64("orderId", event.OrderID).
			Msg("failed to send order notification")
	}
}
