package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/safar/settlement-core/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	routingKey string
	messageID  string
	payload    any
	err        error
}

func (p *recordingPublisher) PublishMessage(ctx context.Context, routingKey, messageID string, payload any) error {
	p.routingKey, p.messageID, p.payload = routingKey, messageID, payload
	return p.err
}

func TestOrderEvent(t *testing.T) {
	reason := "changed my mind"
	order := &models.Order{
		ID:           7,
		OrderNumber:  "ORD-20260101-ABCDEF12",
		UserID:       3,
		Status:       models.OrderStatusCancelled,
		Total:        decimal.RequireFromString("155.00"),
		CancelReason: &reason,
	}

	e := OrderEvent(EventOrderCancelled, order)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventOrderCancelled, e.Type)
	assert.Equal(t, int64(7), e.OrderID)
	assert.Equal(t, reason, e.Reason)
	assert.Empty(t, e.TrackingNumber)

	other := OrderEvent(EventOrderCancelled, order)
	assert.NotEqual(t, e.ID, other.ID)
}

func TestAMQPSenderRoutesByType(t *testing.T) {
	pub := &recordingPublisher{}
	sender := NewAMQPSender(pub)
	e := OrderEvent(EventOrderConfirmed, &models.Order{ID: 1, Status: models.OrderStatusPaid})

	require.NoError(t, sender.Send(context.Background(), e))
	assert.Equal(t, "order.confirmed", pub.routingKey)
	assert.Equal(t, e.ID, pub.messageID)

	body, err := json.Marshal(pub.payload)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"type":"order.confirmed"`)
}

func TestDispatchSwallowsErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NotPanics(t, func() {
		Dispatch(ctx, NewAMQPSender(pub), time.Second, OrderEvent(EventOrderDelivered, &models.Order{ID: 2}))
		Dispatch(ctx, nil, time.Second, Event{})
	})
	assert.Equal(t, "order.delivered", pub.routingKey)
}
