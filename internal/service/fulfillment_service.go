package service

import (
	"context"
	"fmt"
	"time"

	"sambatan-service/internal/broker"
	"sambatan-service/internal/fulfillment"
	"sambatan-service/internal/models"
	"sambatan-service/internal/store"
	"sambatan-service/internal/util"

	"go.uber.org/zap"
)

// FulfillmentService wraps the coordinator with durable dedup and order
// persistence. The coordinator's in-memory dedup absorbs same-process
// retries; the pool_finalizations row absorbs retries across restarts.
type FulfillmentService struct {
	coordinator *fulfillment.Coordinator
	ledger      *fulfillment.Ledger
	store       *store.Store
	logger      *zap.Logger
}

// NewFulfillmentService creates the coordinator and its service wrapper.
func NewFulfillmentService(
	ledger *fulfillment.Ledger,
	catalog *CatalogClient,
	publisher *broker.EventPublisher,
	st *store.Store,
	rules fulfillment.Rules,
) *FulfillmentService {
	logger := util.GetLogger()
	coordinator := fulfillment.NewCoordinator(ledger, catalog, newPublisherSink(publisher), rules, logger)
	return &FulfillmentService{
		coordinator: coordinator,
		ledger:      ledger,
		store:       st,
		logger:      logger,
	}
}

// FinalizePool drives a terminal pool through the coordinator and commits
// the marker plus the spawned orders in one transaction. A replay whose
// earlier commit was lost, because the process died between the state write
// and the commit, re-asserts the same orders from the retained result.
func (fs *FulfillmentService) FinalizePool(ctx context.Context, outcome fulfillment.PoolOutcome, now time.Time) (*fulfillment.FinalizeResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.FinalizePool")
	defer span.End()

	result, err := fs.coordinator.FinalizePool(ctx, outcome, now)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	commit := result
	if result.Replayed {
		prev, ok := fs.coordinator.Finalized(outcome.PoolID)
		if !ok || prev.Replayed {
			// Hydration-seeded replay: the marker is already durable.
			return result, nil
		}
		commit = prev
	}

	first, err := fs.store.CommitFinalization(ctx, commit.PoolID, commit.Kind, commit.Orders, fs.orderItems(commit.Orders))
	if err != nil {
		util.SpanError(span, err)
		return result, fmt.Errorf("failed to commit finalization: %w", err)
	}
	if !first && !result.Replayed {
		fs.logger.Warn("Pool finalization already recorded",
			zap.String("pool_id", outcome.PoolID),
			zap.String("kind", outcome.Kind))
	}
	return result, nil
}

// orderItems snapshots each order's line items from the ledger for the
// finalization commit.
func (fs *FulfillmentService) orderItems(orders []models.Order) map[string][]models.OrderItem {
	items := make(map[string][]models.OrderItem, len(orders))
	for _, rec := range orders {
		entity, err := fs.ledger.Get(rec.ID)
		if err != nil {
			continue
		}
		_, its := entity.Snapshot()
		items[rec.ID] = its
	}
	return items
}

// CreateDirectOrder materializes a purchase that skips pooling.
func (fs *FulfillmentService) CreateDirectOrder(ctx context.Context, buyerID, offeringID string, qty int) (models.Order, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.CreateDirectOrder")
	defer span.End()

	rec, err := fs.coordinator.CreateDirectOrder(ctx, buyerID, offeringID, qty, time.Now())
	if err != nil {
		return models.Order{}, err
	}
	fs.persistOrder(ctx, rec)
	return rec, nil
}

// Hydrate seeds the coordinator's dedup set from persisted finalization
// markers so a restart cannot re-finalize old pools.
func (fs *FulfillmentService) Hydrate(ctx context.Context) error {
	marks, err := fs.store.GetPoolFinalizations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pool finalizations: %w", err)
	}
	for _, m := range marks {
		fs.coordinator.MarkFinalized(m.PoolID, m.Kind)
	}
	fs.logger.Info("Fulfillment hydrated", zap.Int("finalizations", len(marks)))
	return nil
}

func (fs *FulfillmentService) persistOrder(ctx context.Context, rec models.Order) {
	if err := fs.store.CreateOrder(ctx, &rec); err != nil {
		fs.logger.Error("Failed to persist order",
			zap.String("order_id", rec.ID),
			zap.Error(err))
		return
	}

	entity, err := fs.ledger.Get(rec.ID)
	if err != nil {
		return
	}
	_, items := entity.Snapshot()
	for i := range items {
		if err := fs.store.CreateOrderItem(ctx, &items[i]); err != nil {
			fs.logger.Error("Failed to persist order item",
				zap.String("order_id", rec.ID),
				zap.Error(err))
		}
	}
}
