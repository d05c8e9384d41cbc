package service

import (
	"context"
	"errors"
	"time"

	"sambatan-service/internal/broker"
	"sambatan-service/internal/fulfillment"
	"sambatan-service/internal/models"
	"sambatan-service/internal/store"
	"sambatan-service/internal/util"

	"go.uber.org/zap"
)

// OrderService drives the fulfillment state machine from the outside:
// HTTP transitions, payment events off the broker, and deadline sweeps.
// The ledger entity mutates first; the durable row and outbound events
// follow the committed transition.
type OrderService struct {
	ledger    *fulfillment.Ledger
	store     *store.Store
	publisher *broker.EventPublisher
	logger    *zap.Logger
	rules     fulfillment.Rules
}

// NewOrderService creates a new order service
func NewOrderService(
	ledger *fulfillment.Ledger,
	st *store.Store,
	publisher *broker.EventPublisher,
	rules fulfillment.Rules,
) *OrderService {
	return &OrderService{
		ledger:    ledger,
		store:     st,
		publisher: publisher,
		logger:    util.GetLogger(),
		rules:     rules,
	}
}

// Transition applies one fulfillment action to an order.
func (os *OrderService) Transition(ctx context.Context, orderID string, action fulfillment.Action, payload fulfillment.Payload) (models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Transition")
	defer span.End()

	order, err := os.ledger.Get(orderID)
	if err != nil {
		util.OrderTransitionsRejectedTotal.WithLabelValues("not_found").Inc()
		return models.Order{}, err
	}

	tr, err := order.Apply(action, payload, time.Now(), os.rules)
	if err != nil {
		util.OrderTransitionsRejectedTotal.WithLabelValues(transitionRejectReason(err)).Inc()
		util.SpanError(span, err)
		// The rejection still carries the authoritative record so a stale
		// caller can resync.
		return tr.Record, err
	}

	os.commit(ctx, tr)
	return tr.Record, nil
}

// commit persists and announces a committed transition, then retires the
// entity from the ledger if it reached a terminal state.
func (os *OrderService) commit(ctx context.Context, tr fulfillment.Transition) {
	if err := os.store.SaveOrder(ctx, &tr.Record); err != nil {
		os.logger.Error("Failed to persist order transition",
			zap.String("order_id", tr.OrderID),
			zap.String("to", tr.To),
			zap.Error(err))
	}
	util.OrderTransitionsTotal.WithLabelValues(string(tr.Action), tr.To).Inc()

	var pubErr error
	switch tr.To {
	case models.OrderStatusShipped:
		pubErr = os.publisher.PublishOrderShipped(ctx, tr.Record)
	case models.OrderStatusDisputed:
		pubErr = os.publisher.PublishOrderDisputed(ctx, tr.Record)
	case models.OrderStatusCompleted:
		pubErr = os.publisher.PublishOrderCompleted(ctx, tr.Record)
	case models.OrderStatusCancelled:
		pubErr = os.publisher.PublishOrderCancelled(ctx, tr.Record)
		if tr.Record.PaymentStatus == models.PaymentStatusCaptured {
			util.RefundsRequestedTotal.Inc()
			if err := os.publisher.PublishRefundRequested(ctx,
				tr.Record.BuyerID, tr.Record.PoolID, tr.Record.ID, tr.Record.TotalAmount); err != nil {
				os.logger.Error("Failed to publish refund request",
					zap.String("order_id", tr.OrderID), zap.Error(err))
			}
		}
	}
	if pubErr != nil {
		os.logger.Error("Failed to publish order event",
			zap.String("order_id", tr.OrderID),
			zap.String("to", tr.To),
			zap.Error(pubErr))
	}

	if tr.To == models.OrderStatusCompleted || tr.To == models.OrderStatusCancelled {
		os.ledger.Remove(tr.OrderID)
	}

	os.logger.Info("Order transitioned",
		zap.String("order_id", tr.OrderID),
		zap.String("action", string(tr.Action)),
		zap.String("from", tr.From),
		zap.String("to", tr.To))
}

// HandlePaymentCaptured processes a PAYMENT_CAPTURED event. The broker
// delivers at least once; the processed_events table absorbs the repeats.
func (os *OrderService) HandlePaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error {
	ctx, span := util.StartSpan(ctx, "OrderService.HandlePaymentCaptured")
	defer span.End()

	done, err := os.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	order, err := os.ledger.Get(event.OrderID)
	if err != nil {
		// The order may be terminal already; the marker still has to land
		// so the consumer can commit the offset.
		os.logger.Warn("Payment captured for unknown or retired order",
			zap.String("order_id", event.OrderID))
		return os.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
	}

	rec, changed := order.MarkPaymentCaptured(time.Now())
	if changed {
		if err := os.store.SaveOrder(ctx, &rec); err != nil {
			return err
		}
		os.logger.Info("Payment captured", zap.String("order_id", event.OrderID))
	}
	return os.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

// HandlePaymentFailed cancels the order if it has not progressed past CREATED.
func (os *OrderService) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "OrderService.HandlePaymentFailed")
	defer span.End()

	done, err := os.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	order, err := os.ledger.Get(event.OrderID)
	if err != nil {
		os.logger.Warn("Payment failed for unknown or retired order",
			zap.String("order_id", event.OrderID))
		return os.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
	}

	tr, changed := order.MarkPaymentFailed(event.Reason, time.Now())
	if changed {
		os.commit(ctx, tr)
	} else {
		// Failure arrived after acceptance; record the state but leave the
		// order to the dispute path.
		rec, _ := order.Snapshot()
		if err := os.store.SaveOrder(ctx, &rec); err != nil {
			os.logger.Error("Failed to persist payment status",
				zap.String("order_id", event.OrderID), zap.Error(err))
		}
	}
	return os.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

// SweepDeadlines fires every due timer-driven transition across the ledger.
func (os *OrderService) SweepDeadlines(ctx context.Context, now time.Time) int {
	swept := 0
	for _, order := range os.ledger.All() {
		tr, changed := order.SweepDeadlines(now, os.rules)
		if !changed {
			continue
		}
		os.commit(ctx, tr)
		swept++
	}
	return swept
}

// GetOrder returns the order with its items, serving retired orders from
// the durable record.
func (os *OrderService) GetOrder(ctx context.Context, orderID string) (models.Order, []models.OrderItem, error) {
	order, err := os.ledger.Get(orderID)
	if err == nil {
		rec, items := order.Snapshot()
		return rec, items, nil
	}

	rec, serr := os.store.GetOrderByID(ctx, orderID)
	if serr != nil {
		return models.Order{}, nil, fulfillment.ErrOrderNotFound
	}
	items, serr := os.store.GetOrderItemsByOrderID(ctx, orderID)
	if serr != nil {
		return models.Order{}, nil, serr
	}
	return *rec, items, nil
}

// ListByBuyer returns every order a buyer has placed, live or retired.
func (os *OrderService) ListByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	return os.store.GetOrdersByBuyerID(ctx, buyerID)
}

// Hydrate reloads live orders into the ledger at startup.
func (os *OrderService) Hydrate(ctx context.Context) error {
	rows, err := os.store.GetLiveOrders(ctx)
	if err != nil {
		return err
	}
	for i := range rows {
		items, err := os.store.GetOrderItemsByOrderID(ctx, rows[i].ID)
		if err != nil {
			return err
		}
		os.ledger.Add(fulfillment.Restore(rows[i], items))
	}
	os.logger.Info("Order ledger hydrated", zap.Int("orders", len(rows)))
	return nil
}

// transitionRejectReason maps a machine rejection to a metric label. The
// machine wraps its sentinels with context, so match with errors.Is.
func transitionRejectReason(err error) string {
	switch {
	case errors.Is(err, fulfillment.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, fulfillment.ErrPaymentNotCaptured):
		return "payment_not_captured"
	case errors.Is(err, fulfillment.ErrMissingShippingInfo):
		return "missing_shipping_info"
	case errors.Is(err, fulfillment.ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, fulfillment.ErrBadOutcome):
		return "bad_outcome"
	default:
		return "other"
	}
}
