package worker

import (
	"context"

	"sambatan-service/internal/broker"
	"sambatan-service/internal/service"
	"sambatan-service/internal/util"

	"go.uber.org/zap"
)

// PaymentWorker consumes payment-events and feeds them to the order service.
type PaymentWorker struct {
	consumer *broker.Consumer
	handler  *broker.EventHandler
	logger   *zap.Logger
}

// NewPaymentWorker wires the payment topic to the order service's
// idempotent event handlers.
func NewPaymentWorker(consumer *broker.Consumer, orders *service.OrderService) *PaymentWorker {
	handler := broker.NewEventHandler()
	handler.OnPaymentCaptured(orders.HandlePaymentCaptured)
	handler.OnPaymentFailed(orders.HandlePaymentFailed)

	return &PaymentWorker{
		consumer: consumer,
		handler:  handler,
		logger:   util.GetLogger(),
	}
}

// Start blocks consuming until the context is cancelled.
func (w *PaymentWorker) Start(ctx context.Context) {
	w.logger.Info("Payment worker starting")
	if err := w.consumer.StartConsuming(ctx, w.handler.HandleMessage); err != nil && ctx.Err() == nil {
		w.logger.Error("Payment worker stopped", zap.Error(err))
	}
}

// Stop closes the underlying consumer.
func (w *PaymentWorker) Stop() error {
	return w.consumer.Close()
}
