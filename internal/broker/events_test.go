package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sambatan-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessageRoutesPaymentCaptured(t *testing.T) {
	handler := NewEventHandler()

	var got *models.PaymentCapturedEvent
	handler.OnPaymentCaptured(func(_ context.Context, e *models.PaymentCapturedEvent) error {
		got = e
		return nil
	})
	handler.OnPaymentFailed(func(_ context.Context, _ *models.PaymentFailedEvent) error {
		t.Fatal("failed handler should not fire")
		return nil
	})

	msg := message(t, &models.PaymentCapturedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypePaymentCaptured,
			Timestamp: time.Now(),
		},
		OrderID: "order-1",
		TxID:    "tx-9",
		Amount:  150000,
	})

	require.NoError(t, handler.HandleMessage(context.Background(), msg))
	require.NotNil(t, got)
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, int64(150000), got.Amount)
}

func TestHandleMessageRoutesPaymentFailed(t *testing.T) {
	handler := NewEventHandler()

	var got *models.PaymentFailedEvent
	handler.OnPaymentFailed(func(_ context.Context, e *models.PaymentFailedEvent) error {
		got = e
		return nil
	})

	msg := message(t, &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-2",
			EventType: models.EventTypePaymentFailed,
			Timestamp: time.Now(),
		},
		OrderID: "order-2",
		Reason:  "card_declined",
	})

	require.NoError(t, handler.HandleMessage(context.Background(), msg))
	require.NotNil(t, got)
	assert.Equal(t, "card_declined", got.Reason)
}

func TestHandleMessageIgnoresUnknownEventType(t *testing.T) {
	handler := NewEventHandler()
	handler.OnPaymentCaptured(func(_ context.Context, _ *models.PaymentCapturedEvent) error {
		t.Fatal("captured handler should not fire")
		return nil
	})

	msg := message(t, &models.BaseEvent{
		EventID:   "evt-3",
		EventType: "SOMETHING_ELSE",
		Timestamp: time.Now(),
	})

	assert.NoError(t, handler.HandleMessage(context.Background(), msg))
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	handler := NewEventHandler()
	err := handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}
