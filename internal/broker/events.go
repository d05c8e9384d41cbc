package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"sambatan-service/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func newBase(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// PublishPoolFilled publishes PoolFilled
func (ep *EventPublisher) PublishPoolFilled(ctx context.Context, poolID, offeringID string, participants int) error {
	event := &models.PoolFilledEvent{
		BaseEvent:    newBase(models.EventTypePoolFilled),
		PoolID:       poolID,
		OfferingID:   offeringID,
		Participants: participants,
	}
	return ep.producer.PublishEvent(ctx, poolKey(poolID), event)
}

// PublishPoolExpired publishes PoolExpired with its outcome
func (ep *EventPublisher) PublishPoolExpired(ctx context.Context, poolID, offeringID, outcome string, participants int) error {
	event := &models.PoolExpiredEvent{
		BaseEvent:    newBase(models.EventTypePoolExpired),
		PoolID:       poolID,
		OfferingID:   offeringID,
		Outcome:      outcome,
		Participants: participants,
	}
	return ep.producer.PublishEvent(ctx, poolKey(poolID), event)
}

// PublishPoolCancelled publishes PoolCancelled
func (ep *EventPublisher) PublishPoolCancelled(ctx context.Context, poolID, reason string) error {
	event := &models.PoolCancelledEvent{
		BaseEvent: newBase(models.EventTypePoolCancelled),
		PoolID:    poolID,
		Reason:    reason,
	}
	return ep.producer.PublishEvent(ctx, poolKey(poolID), event)
}

// PublishPoolFinalized publishes PoolFinalized
func (ep *EventPublisher) PublishPoolFinalized(ctx context.Context, poolID, kind string, orderIDs, failedBuyers []string) error {
	event := &models.PoolFinalizedEvent{
		BaseEvent:    newBase(models.EventTypePoolFinalized),
		PoolID:       poolID,
		Kind:         kind,
		OrderIDs:     orderIDs,
		FailedBuyers: failedBuyers,
	}
	return ep.producer.PublishEvent(ctx, poolKey(poolID), event)
}

// PublishOrderCreated publishes OrderCreated
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, order models.Order) error {
	event := &models.OrderCreatedEvent{
		BaseEvent:   newBase(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		PoolID:      order.PoolID,
		TotalAmount: order.TotalAmount,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderShipped publishes OrderShipped
func (ep *EventPublisher) PublishOrderShipped(ctx context.Context, order models.Order) error {
	event := &models.OrderShippedEvent{
		BaseEvent:      newBase(models.EventTypeOrderShipped),
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		Carrier:        order.Carrier,
		TrackingNumber: order.TrackingNumber,
	}
	if order.ShippedAt != nil {
		event.ShippedAt = *order.ShippedAt
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderDisputed publishes OrderDisputed
func (ep *EventPublisher) PublishOrderDisputed(ctx context.Context, order models.Order) error {
	event := &models.OrderDisputedEvent{
		BaseEvent: newBase(models.EventTypeOrderDisputed),
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		Reason:    order.DisputeReason,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderCompleted publishes OrderCompleted
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, order models.Order) error {
	event := &models.OrderCompletedEvent{
		BaseEvent: newBase(models.EventTypeOrderCompleted),
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderCancelled publishes OrderCancelled
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, order models.Order) error {
	event := &models.OrderCancelledEvent{
		BaseEvent: newBase(models.EventTypeOrderCancelled),
		OrderID:   order.ID,
		Reason:    order.CancelReason,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishPaymentCaptureRequested publishes PaymentCaptureRequested
func (ep *EventPublisher) PublishPaymentCaptureRequested(ctx context.Context, order models.Order) error {
	event := &models.PaymentCaptureRequestedEvent{
		BaseEvent: newBase(models.EventTypePaymentCaptureReq),
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		Amount:    order.TotalAmount,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishRefundRequested publishes RefundRequested
func (ep *EventPublisher) PublishRefundRequested(ctx context.Context, buyerID, poolID, orderID string, amount int64) error {
	event := &models.RefundRequestedEvent{
		BaseEvent: newBase(models.EventTypeRefundRequested),
		BuyerID:   buyerID,
		PoolID:    poolID,
		OrderID:   orderID,
		Amount:    amount,
	}
	key := orderKey(orderID)
	if orderID == "" {
		key = poolKey(poolID)
	}
	return ep.producer.PublishEvent(ctx, key, event)
}

func poolKey(poolID string) string   { return fmt.Sprintf("pool-%s", poolID) }
func orderKey(orderID string) string { return fmt.Sprintf("order-%s", orderID) }

// EventHandler routes inbound payment events to registered handlers
type EventHandler struct {
	onPaymentCaptured func(context.Context, *models.PaymentCapturedEvent) error
	onPaymentFailed   func(context.Context, *models.PaymentFailedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentCaptured registers a handler for PaymentCaptured events
func (eh *EventHandler) OnPaymentCaptured(handler func(context.Context, *models.PaymentCapturedEvent) error) {
	eh.onPaymentCaptured = handler
}

// OnPaymentFailed registers a handler for PaymentFailed events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypePaymentCaptured:
		if eh.onPaymentCaptured != nil {
			var event models.PaymentCapturedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentCaptured event: %w", err)
			}
			return eh.onPaymentCaptured(ctx, &event)
		}

	case models.EventTypePaymentFailed:
		if eh.onPaymentFailed != nil {
			var event models.PaymentFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
			}
			return eh.onPaymentFailed(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
