package fulfillment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"sambatan-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Catalog is the read-only view of the external offering catalog. This core
// never mutates catalog inventory; it only reads pricing and SLA terms and
// asks the catalog to vet a buyer's allocation.
type Catalog interface {
	Offering(ctx context.Context, offeringID string) (*models.Offering, error)
	CheckAvailability(ctx context.Context, offeringID, buyerID string, qty int) error
}

// EventSink receives the coordinator's outbound events. Implementations must
// be safe to call after the state mutation commits; failures are theirs to
// log and retry, never the coordinator's to block on.
type EventSink interface {
	OrderCreated(ctx context.Context, order models.Order)
	PaymentCaptureRequested(ctx context.Context, order models.Order)
	RefundRequested(ctx context.Context, buyerID, poolID, orderID string, amount int64)
	PoolFinalized(ctx context.Context, poolID, kind string, orderIDs, failedBuyers []string)
}

// PoolOutcome is what a terminal pool hands over for fulfillment: either the
// reservations to materialize into orders, or the ones to refund.
type PoolOutcome struct {
	PoolID       string
	OfferingID   string
	SellerID     string
	Kind         string // FILLED | EXPIRED_SUCCESS | EXPIRED_FAILED | CANCELLED
	UnitPrice    int64
	Reservations map[string]int
}

// Refund is a queued refund intent.
type Refund struct {
	BuyerID string
	PoolID  string
	OrderID string
	Amount  int64
}

// FinalizeResult reports what a finalization did. Replayed means the pool was
// already finalized and nothing was done again.
type FinalizeResult struct {
	PoolID       string
	Kind         string
	Orders       []models.Order
	Refunds      []Refund
	FailedBuyers []string
	Replayed     bool
}

// Coordinator bridges pool completion to order creation. Finalization is
// de-duplicated by pool ID so at-least-once delivery of pool-terminal events
// never double-creates orders or double-queues refunds.
type Coordinator struct {
	ledger  *Ledger
	catalog Catalog
	events  EventSink
	rules   Rules
	logger  *zap.Logger

	mu        sync.Mutex
	finalized map[string]*FinalizeResult
}

// NewCoordinator creates a fulfillment coordinator.
func NewCoordinator(ledger *Ledger, catalog Catalog, events EventSink, rules Rules, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		ledger:    ledger,
		catalog:   catalog,
		events:    events,
		rules:     rules,
		logger:    logger,
		finalized: make(map[string]*FinalizeResult),
	}
}

// MarkFinalized seeds the dedup set during hydration from the store.
func (c *Coordinator) MarkFinalized(poolID, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.finalized[poolID]; !ok {
		c.finalized[poolID] = &FinalizeResult{PoolID: poolID, Kind: kind, Replayed: true}
	}
}

// Finalized returns the retained result of a pool's finalization, when one
// happened in this process. Hydration-seeded entries are marked replayed and
// carry no orders.
func (c *Coordinator) Finalized(poolID string) (*FinalizeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.finalized[poolID]
	return result, ok
}

// FinalizePool materializes a terminal pool. Successful kinds spawn one
// CREATED order per reservation; a per-buyer catalog failure is isolated to
// that buyer, who is queued for refund while the rest proceed. Failed kinds
// queue a refund for every released reservation and create nothing.
func (c *Coordinator) FinalizePool(ctx context.Context, outcome PoolOutcome, now time.Time) (*FinalizeResult, error) {
	c.mu.Lock()
	if prev, ok := c.finalized[outcome.PoolID]; ok {
		c.mu.Unlock()
		c.logger.Info("Pool already finalized, skipping",
			zap.String("pool_id", outcome.PoolID),
			zap.String("kind", prev.Kind))
		return &FinalizeResult{PoolID: prev.PoolID, Kind: prev.Kind, Replayed: true}, nil
	}
	// Reserve the slot before doing the work so a concurrent retry replays
	// instead of racing; filled in below.
	result := &FinalizeResult{PoolID: outcome.PoolID, Kind: outcome.Kind}
	c.finalized[outcome.PoolID] = result
	c.mu.Unlock()

	switch outcome.Kind {
	case models.PoolStateFilled, models.PoolStateExpiredSuccess:
		c.materialize(ctx, outcome, now, result)
	case models.PoolStateExpiredFailed, models.PoolStateCancelled:
		for _, buyer := range sortedBuyers(outcome.Reservations) {
			qty := outcome.Reservations[buyer]
			c.queueRefund(ctx, result, Refund{
				BuyerID: buyer,
				PoolID:  outcome.PoolID,
				Amount:  int64(qty) * outcome.UnitPrice,
			})
		}
	default:
		c.mu.Lock()
		delete(c.finalized, outcome.PoolID)
		c.mu.Unlock()
		return nil, errors.New("pool is not terminal: " + outcome.Kind)
	}

	orderIDs := make([]string, 0, len(result.Orders))
	for _, o := range result.Orders {
		orderIDs = append(orderIDs, o.ID)
	}
	c.events.PoolFinalized(ctx, outcome.PoolID, outcome.Kind, orderIDs, result.FailedBuyers)

	c.logger.Info("Pool finalized",
		zap.String("pool_id", outcome.PoolID),
		zap.String("kind", outcome.Kind),
		zap.Int("orders", len(result.Orders)),
		zap.Int("refunds", len(result.Refunds)))
	return result, nil
}

func (c *Coordinator) materialize(ctx context.Context, outcome PoolOutcome, now time.Time, result *FinalizeResult) {
	offering, err := c.catalog.Offering(ctx, outcome.OfferingID)
	if err != nil {
		// The whole pool cannot be priced; every participant is refunded and
		// the pool stays finalized, never half-materialized.
		c.logger.Error("Catalog lookup failed, refunding whole pool",
			zap.String("pool_id", outcome.PoolID),
			zap.Error(err))
		for _, buyer := range sortedBuyers(outcome.Reservations) {
			qty := outcome.Reservations[buyer]
			result.FailedBuyers = append(result.FailedBuyers, buyer)
			c.queueRefund(ctx, result, Refund{
				BuyerID: buyer,
				PoolID:  outcome.PoolID,
				Amount:  int64(qty) * outcome.UnitPrice,
			})
		}
		return
	}

	sla := c.rules.SellerSLA
	if offering.SellerSLAHours > 0 {
		sla = time.Duration(offering.SellerSLAHours) * time.Hour
	}

	for _, buyer := range sortedBuyers(outcome.Reservations) {
		qty := outcome.Reservations[buyer]

		if err := c.catalog.CheckAvailability(ctx, outcome.OfferingID, buyer, qty); err != nil {
			c.logger.Warn("Buyer failed availability check, refunding",
				zap.String("pool_id", outcome.PoolID),
				zap.String("buyer_id", buyer),
				zap.Error(err))
			result.FailedBuyers = append(result.FailedBuyers, buyer)
			c.queueRefund(ctx, result, Refund{
				BuyerID: buyer,
				PoolID:  outcome.PoolID,
				Amount:  int64(qty) * outcome.UnitPrice,
			})
			continue
		}

		rec := c.newOrderRecord(buyer, outcome.SellerID, outcome.PoolID, now, now.Add(sla))
		rec.TotalAmount = int64(qty) * outcome.UnitPrice
		items := []models.OrderItem{{
			ID:         uuid.New().String(),
			OrderID:    rec.ID,
			OfferingID: outcome.OfferingID,
			Quantity:   qty,
			UnitPrice:  outcome.UnitPrice,
		}}

		c.ledger.Add(NewOrder(rec, items))
		result.Orders = append(result.Orders, rec)

		c.events.OrderCreated(ctx, rec)
		c.events.PaymentCaptureRequested(ctx, rec)
	}
}

// CreateDirectOrder materializes a plain purchase that skips pooling; the
// order enters the same machine with no pool back-pointer.
func (c *Coordinator) CreateDirectOrder(ctx context.Context, buyerID, offeringID string, qty int, now time.Time) (models.Order, error) {
	if qty < 1 {
		return models.Order{}, errors.New("quantity must be positive")
	}

	offering, err := c.catalog.Offering(ctx, offeringID)
	if err != nil {
		return models.Order{}, err
	}
	if err := c.catalog.CheckAvailability(ctx, offeringID, buyerID, qty); err != nil {
		return models.Order{}, err
	}

	sla := c.rules.SellerSLA
	if offering.SellerSLAHours > 0 {
		sla = time.Duration(offering.SellerSLAHours) * time.Hour
	}

	rec := c.newOrderRecord(buyerID, offering.SellerID, "", now, now.Add(sla))
	rec.TotalAmount = int64(qty) * offering.UnitPrice
	items := []models.OrderItem{{
		ID:         uuid.New().String(),
		OrderID:    rec.ID,
		OfferingID: offeringID,
		Quantity:   qty,
		UnitPrice:  offering.UnitPrice,
	}}

	c.ledger.Add(NewOrder(rec, items))
	c.events.OrderCreated(ctx, rec)
	c.events.PaymentCaptureRequested(ctx, rec)
	return rec, nil
}

func (c *Coordinator) newOrderRecord(buyerID, sellerID, poolID string, now, shipBy time.Time) models.Order {
	return models.Order{
		ID:               uuid.New().String(),
		BuyerID:          buyerID,
		SellerID:         sellerID,
		PoolID:           poolID,
		Status:           models.OrderStatusCreated,
		PaymentStatus:    models.PaymentStatusPending,
		ShippingDeadline: shipBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (c *Coordinator) queueRefund(ctx context.Context, result *FinalizeResult, r Refund) {
	result.Refunds = append(result.Refunds, r)
	c.events.RefundRequested(ctx, r.BuyerID, r.PoolID, r.OrderID, r.Amount)
}

func sortedBuyers(reservations map[string]int) []string {
	buyers := make([]string, 0, len(reservations))
	for b := range reservations {
		buyers = append(buyers, b)
	}
	sort.Strings(buyers)
	return buyers
}
