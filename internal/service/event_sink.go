package service

import (
	"context"

	"sambatan-service/internal/broker"
	"sambatan-service/internal/models"
	"sambatan-service/internal/util"

	"go.uber.org/zap"
)

// publisherSink adapts the Kafka event publisher to the coordinator's
// EventSink. Publishing happens after the state mutation commits; failures
// are logged for the broker's retry machinery, never bubbled back into the
// mutation path.
type publisherSink struct {
	publisher *broker.EventPublisher
	logger    *zap.Logger
}

func newPublisherSink(publisher *broker.EventPublisher) *publisherSink {
	return &publisherSink{publisher: publisher, logger: util.GetLogger()}
}

func (s *publisherSink) OrderCreated(ctx context.Context, order models.Order) {
	util.OrdersCreatedTotal.Inc()
	if err := s.publisher.PublishOrderCreated(ctx, order); err != nil {
		s.logger.Error("Failed to publish OrderCreated event",
			zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (s *publisherSink) PaymentCaptureRequested(ctx context.Context, order models.Order) {
	if err := s.publisher.PublishPaymentCaptureRequested(ctx, order); err != nil {
		s.logger.Error("Failed to publish PaymentCaptureRequested event",
			zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (s *publisherSink) RefundRequested(ctx context.Context, buyerID, poolID, orderID string, amount int64) {
	util.RefundsRequestedTotal.Inc()
	if err := s.publisher.PublishRefundRequested(ctx, buyerID, poolID, orderID, amount); err != nil {
		s.logger.Error("Failed to publish RefundRequested event",
			zap.String("buyer_id", buyerID),
			zap.String("pool_id", poolID),
			zap.Error(err))
	}
}

func (s *publisherSink) PoolFinalized(ctx context.Context, poolID, kind string, orderIDs, failedBuyers []string) {
	util.FinalizationsTotal.WithLabelValues(kind).Inc()
	if err := s.publisher.PublishPoolFinalized(ctx, poolID, kind, orderIDs, failedBuyers); err != nil {
		s.logger.Error("Failed to publish PoolFinalized event",
			zap.String("pool_id", poolID), zap.Error(err))
	}
}
