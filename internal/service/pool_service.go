package service

import (
	"context"
	"fmt"
	"time"

	"sambatan-service/internal/broker"
	"sambatan-service/internal/fulfillment"
	"sambatan-service/internal/models"
	"sambatan-service/internal/redisclient"
	"sambatan-service/internal/sambatan"
	"sambatan-service/internal/store"
	"sambatan-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	poolStatusCacheTTL = time.Minute
	joinIdempotencyTTL = time.Hour
)

// PoolService exposes the pool registry to the outside world and keeps the
// durable record, the Redis counters and the event stream in step with the
// in-memory engine. Engine mutations commit first; everything else follows
// and is logged on failure rather than rolled back into the caller.
type PoolService struct {
	registry    *sambatan.Registry
	fulfillment *FulfillmentService
	catalog     *CatalogClient
	store       *store.Store
	redis       *redisclient.Client
	publisher   *broker.EventPublisher
	logger      *zap.Logger
	minViable   float64
}

// NewPoolService creates a new pool service
func NewPoolService(
	registry *sambatan.Registry,
	fulfillmentSvc *FulfillmentService,
	catalog *CatalogClient,
	st *store.Store,
	redis *redisclient.Client,
	publisher *broker.EventPublisher,
	defaultMinViable float64,
) *PoolService {
	return &PoolService{
		registry:    registry,
		fulfillment: fulfillmentSvc,
		catalog:     catalog,
		store:       st,
		redis:       redis,
		publisher:   publisher,
		logger:      util.GetLogger(),
		minViable:   defaultMinViable,
	}
}

// CreatePoolRequest is a seller activating group-buy mode on an offering.
type CreatePoolRequest struct {
	OfferingID string    `json:"offering_id" binding:"required"`
	Target     int       `json:"target_participants" binding:"required,min=1"`
	Deadline   time.Time `json:"deadline" binding:"required"`
}

// CreatePool starts a new group-buy run for an offering.
func (ps *PoolService) CreatePool(ctx context.Context, req *CreatePoolRequest) (sambatan.Snapshot, error) {
	ctx, span := util.StartSpan(ctx, "PoolService.CreatePool")
	defer span.End()

	offering, err := ps.catalog.Offering(ctx, req.OfferingID)
	if err != nil {
		return sambatan.Snapshot{}, err
	}
	if !offering.SambatanEnabled {
		return sambatan.Snapshot{}, fmt.Errorf("offering %s does not allow group buys", req.OfferingID)
	}

	unitPrice := offering.SambatanPrice
	if unitPrice == 0 {
		unitPrice = offering.UnitPrice
	}
	minViable := offering.MinViableFrac
	if minViable == 0 {
		minViable = ps.minViable
	}

	cfg := sambatan.Config{
		ID:            uuid.New().String(),
		OfferingID:    offering.ID,
		SellerID:      offering.SellerID,
		Target:        req.Target,
		MinPerBuyer:   offering.MinPerBuyer,
		MaxPerBuyer:   offering.MaxPerBuyer,
		UnitPrice:     unitPrice,
		MinViableFrac: minViable,
		Deadline:      req.Deadline,
	}

	pool, err := ps.registry.Create(cfg)
	if err != nil {
		return sambatan.Snapshot{}, err
	}
	snap := pool.Snapshot()

	row := &models.Pool{
		ID:            cfg.ID,
		OfferingID:    cfg.OfferingID,
		SellerID:      cfg.SellerID,
		Target:        cfg.Target,
		MinPerBuyer:   cfg.MinPerBuyer,
		MaxPerBuyer:   cfg.MaxPerBuyer,
		UnitPrice:     cfg.UnitPrice,
		MinViableFrac: cfg.MinViableFrac,
		Deadline:      cfg.Deadline,
		State:         snap.State,
	}
	if err := ps.store.CreatePool(ctx, row); err != nil {
		ps.registry.Remove(cfg.ID)
		return sambatan.Snapshot{}, fmt.Errorf("failed to persist pool: %w", err)
	}

	if err := ps.redis.InitPoolSlots(ctx, cfg.ID, cfg.Target, 0); err != nil {
		ps.logger.Warn("Failed to seed pool slot counter", zap.String("pool_id", cfg.ID), zap.Error(err))
	}
	ps.cacheStatus(ctx, snap)

	util.PoolsCreatedTotal.Inc()
	ps.logger.Info("Pool created",
		zap.String("pool_id", cfg.ID),
		zap.String("offering_id", cfg.OfferingID),
		zap.Int("target", cfg.Target))
	return snap, nil
}

// Join reserves slots for a buyer. The idempotency key, when supplied by the
// client, makes a retried request a no-op that returns the live snapshot.
func (ps *PoolService) Join(ctx context.Context, poolID, buyerID string, qty int, idempotencyKey string) (sambatan.Receipt, sambatan.Snapshot, error) {
	ctx, span := util.StartSpan(ctx, "PoolService.Join")
	defer span.End()

	pool, err := ps.registry.Get(poolID)
	if err != nil {
		util.PoolJoinsRejectedTotal.WithLabelValues("not_found").Inc()
		return sambatan.Receipt{}, sambatan.Snapshot{}, err
	}

	if idempotencyKey != "" {
		seen, err := ps.redis.CheckIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			ps.logger.Warn("Idempotency check failed, continuing", zap.Error(err))
		} else if seen {
			snap := pool.Snapshot()
			return sambatan.Receipt{
				PoolID:   poolID,
				BuyerID:  buyerID,
				Quantity: snap.Reservations[buyerID],
				Filled:   snap.State == models.PoolStateFilled,
			}, snap, nil
		}
	}

	// Advisory fast-reject in front of the serialization point. Joins count
	// against the counter by the slots they add, so an amend only claims the
	// difference over the buyer's standing reservation and an amend down
	// skips the counter, letting the resync below shrink it. A false "full"
	// from counter drift self-heals the same way; the engine remains the
	// authority either way.
	delta := reserveDelta(pool.Snapshot(), buyerID, qty)
	if delta > 0 {
		admitted, err := ps.redis.TryReserveSlots(ctx, poolID, delta)
		if err != nil {
			ps.logger.Warn("Slot counter unavailable, skipping fast path",
				zap.String("pool_id", poolID), zap.Error(err))
			admitted = true
		}
		if !admitted {
			util.PoolJoinsRejectedTotal.WithLabelValues("capacity").Inc()
			return sambatan.Receipt{}, pool.Snapshot(), sambatan.ErrCapacityExceeded
		}
	}

	receipt, snap, err := pool.Join(buyerID, qty, time.Now())
	if err != nil {
		// Undo the advisory increment the fast path just took.
		if delta > 0 {
			if rerr := ps.redis.ReleaseSlots(ctx, poolID, delta); rerr != nil {
				ps.logger.Warn("Failed to release advisory slots", zap.String("pool_id", poolID), zap.Error(rerr))
			}
		}
		util.PoolJoinsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		util.SpanError(span, err)
		return receipt, snap, err
	}
	ps.resyncSlots(ctx, snap)

	res := &models.Reservation{
		ID:       uuid.New().String(),
		PoolID:   poolID,
		BuyerID:  buyerID,
		Quantity: qty,
	}
	if err := ps.store.UpsertReservation(ctx, res); err != nil {
		ps.logger.Error("Failed to persist reservation",
			zap.String("pool_id", poolID),
			zap.String("buyer_id", buyerID),
			zap.Error(err))
	}
	ps.cacheStatus(ctx, snap)
	util.PoolJoinsTotal.Inc()

	if idempotencyKey != "" {
		if err := ps.redis.SetIdempotencyKey(ctx, idempotencyKey, poolID, joinIdempotencyTTL); err != nil {
			ps.logger.Warn("Failed to store idempotency key", zap.Error(err))
		}
	}

	if receipt.Filled {
		ps.onFilled(ctx, snap)
	}
	return receipt, snap, nil
}

// onFilled runs synchronously after the filling join commits, as the engine
// promises the fulfillment coordinator.
func (ps *PoolService) onFilled(ctx context.Context, snap sambatan.Snapshot) {
	util.PoolsFilledTotal.Inc()
	if err := ps.store.UpdatePoolState(ctx, snap.ID, models.PoolStateFilled); err != nil {
		ps.logger.Error("Failed to persist FILLED state", zap.String("pool_id", snap.ID), zap.Error(err))
	}
	if err := ps.publisher.PublishPoolFilled(ctx, snap.ID, snap.OfferingID, snap.Participants); err != nil {
		ps.logger.Error("Failed to publish PoolFilled event", zap.String("pool_id", snap.ID), zap.Error(err))
	}

	if _, err := ps.fulfillment.FinalizePool(ctx, fulfillment.PoolOutcome{
		PoolID:       snap.ID,
		OfferingID:   snap.OfferingID,
		SellerID:     snap.SellerID,
		Kind:         models.PoolStateFilled,
		UnitPrice:    snap.UnitPrice,
		Reservations: snap.Reservations,
	}, time.Now()); err != nil {
		ps.logger.Error("Failed to finalize filled pool", zap.String("pool_id", snap.ID), zap.Error(err))
	}
}

// Leave releases the buyer's reservation.
func (ps *PoolService) Leave(ctx context.Context, poolID, buyerID string) (sambatan.Snapshot, error) {
	ctx, span := util.StartSpan(ctx, "PoolService.Leave")
	defer span.End()

	pool, err := ps.registry.Get(poolID)
	if err != nil {
		return sambatan.Snapshot{}, err
	}

	snap, err := pool.Leave(buyerID)
	if err != nil {
		return snap, err
	}

	if err := ps.store.DeleteReservation(ctx, poolID, buyerID); err != nil {
		ps.logger.Error("Failed to delete reservation",
			zap.String("pool_id", poolID),
			zap.String("buyer_id", buyerID),
			zap.Error(err))
	}
	ps.resyncSlots(ctx, snap)
	ps.cacheStatus(ctx, snap)
	util.PoolLeavesTotal.Inc()
	return snap, nil
}

// Cancel terminates a pool early. Reservations not yet materialized into
// orders are refunded through finalization; orders spawned by an earlier fill
// keep their own lifecycle.
func (ps *PoolService) Cancel(ctx context.Context, poolID, reason string) (sambatan.Snapshot, error) {
	ctx, span := util.StartSpan(ctx, "PoolService.Cancel")
	defer span.End()

	pool, err := ps.registry.Get(poolID)
	if err != nil {
		return sambatan.Snapshot{}, err
	}

	released, snap, err := pool.Cancel(reason)
	if err != nil {
		return snap, err
	}

	if err := ps.store.UpdatePoolState(ctx, poolID, models.PoolStateCancelled); err != nil {
		ps.logger.Error("Failed to persist CANCELLED state", zap.String("pool_id", poolID), zap.Error(err))
	}
	if err := ps.redis.DropPoolSlots(ctx, poolID); err != nil {
		ps.logger.Warn("Failed to drop slot counter", zap.String("pool_id", poolID), zap.Error(err))
	}
	ps.cacheStatus(ctx, snap)
	util.PoolsCancelledTotal.Inc()

	if err := ps.publisher.PublishPoolCancelled(ctx, poolID, reason); err != nil {
		ps.logger.Error("Failed to publish PoolCancelled event", zap.String("pool_id", poolID), zap.Error(err))
	}

	if _, err := ps.fulfillment.FinalizePool(ctx, fulfillment.PoolOutcome{
		PoolID:       snap.ID,
		OfferingID:   snap.OfferingID,
		SellerID:     snap.SellerID,
		Kind:         models.PoolStateCancelled,
		UnitPrice:    snap.UnitPrice,
		Reservations: released,
	}, time.Now()); err != nil {
		ps.logger.Error("Failed to finalize cancelled pool", zap.String("pool_id", poolID), zap.Error(err))
	} else if err := ps.store.DeleteReservationsByPool(ctx, poolID); err != nil {
		// Reservation rows stay until the refunds are durably recorded.
		ps.logger.Error("Failed to release reservations", zap.String("pool_id", poolID), zap.Error(err))
	}
	return snap, nil
}

// Expire closes one due pool. Called by the deadline sweeper, at-least-once.
func (ps *PoolService) Expire(ctx context.Context, pool *sambatan.Pool, now time.Time) {
	result, changed := pool.Expire(now)
	if !changed {
		return
	}
	snap := result.Snapshot
	util.PoolsExpiredTotal.WithLabelValues(result.Outcome).Inc()

	if err := ps.store.UpdatePoolState(ctx, snap.ID, result.Outcome); err != nil {
		ps.logger.Error("Failed to persist expired state", zap.String("pool_id", snap.ID), zap.Error(err))
	}

	reservations := snap.Reservations
	if result.Outcome == models.PoolStateExpiredFailed {
		reservations = result.Released
	}
	if err := ps.redis.DropPoolSlots(ctx, snap.ID); err != nil {
		ps.logger.Warn("Failed to drop slot counter", zap.String("pool_id", snap.ID), zap.Error(err))
	}
	ps.cacheStatus(ctx, snap)

	if err := ps.publisher.PublishPoolExpired(ctx, snap.ID, snap.OfferingID, result.Outcome, snap.Participants); err != nil {
		ps.logger.Error("Failed to publish PoolExpired event", zap.String("pool_id", snap.ID), zap.Error(err))
	}

	if _, err := ps.fulfillment.FinalizePool(ctx, fulfillment.PoolOutcome{
		PoolID:       snap.ID,
		OfferingID:   snap.OfferingID,
		SellerID:     snap.SellerID,
		Kind:         result.Outcome,
		UnitPrice:    snap.UnitPrice,
		Reservations: reservations,
	}, now); err != nil {
		ps.logger.Error("Failed to finalize expired pool", zap.String("pool_id", snap.ID), zap.Error(err))
	} else if result.Outcome == models.PoolStateExpiredFailed {
		// Reservation rows stay until the refunds are durably recorded.
		if err := ps.store.DeleteReservationsByPool(ctx, snap.ID); err != nil {
			ps.logger.Error("Failed to release reservations", zap.String("pool_id", snap.ID), zap.Error(err))
		}
	}

	ps.logger.Info("Pool expired",
		zap.String("pool_id", snap.ID),
		zap.String("outcome", result.Outcome),
		zap.Int("participants", snap.Participants))
}

// ExpireDue expires every pool whose deadline has passed.
func (ps *PoolService) ExpireDue(ctx context.Context, now time.Time) int {
	due := ps.registry.Due(now)
	for _, pool := range due {
		ps.Expire(ctx, pool, now)
	}
	return len(due)
}

// ReconcileFinalizations re-drives pools that left OPEN without a durable
// finalization, which happens when the process dies between the pool state
// write and the finalization commit. Runs at startup and on every sweep;
// pools already finalized replay and write nothing.
func (ps *PoolService) ReconcileFinalizations(ctx context.Context, now time.Time) int {
	rows, err := ps.store.GetUnfinalizedPools(ctx)
	if err != nil {
		ps.logger.Error("Failed to list unfinalized pools", zap.Error(err))
		return 0
	}

	for i := range rows {
		reservations, err := ps.store.GetReservationsByPool(ctx, rows[i].ID)
		if err != nil {
			ps.logger.Error("Failed to load reservations for reconcile",
				zap.String("pool_id", rows[i].ID), zap.Error(err))
			continue
		}
		outcome := outcomeFromRow(&rows[i], reservations)
		if _, err := ps.fulfillment.FinalizePool(ctx, outcome, now); err != nil {
			ps.logger.Error("Failed to re-finalize pool",
				zap.String("pool_id", outcome.PoolID),
				zap.String("kind", outcome.Kind),
				zap.Error(err))
			continue
		}
		ps.logger.Info("Recovered missed finalization",
			zap.String("pool_id", outcome.PoolID),
			zap.String("kind", outcome.Kind))
		if outcome.Kind == models.PoolStateExpiredFailed || outcome.Kind == models.PoolStateCancelled {
			if err := ps.store.DeleteReservationsByPool(ctx, outcome.PoolID); err != nil {
				ps.logger.Error("Failed to release reservations", zap.String("pool_id", outcome.PoolID), zap.Error(err))
			}
		}
	}
	return len(rows)
}

// UpdateDeadline moves a pool's join window; the engine refuses once any
// buyer has committed.
func (ps *PoolService) UpdateDeadline(ctx context.Context, poolID string, deadline time.Time) error {
	pool, err := ps.registry.Get(poolID)
	if err != nil {
		return err
	}
	if err := pool.SetDeadline(deadline); err != nil {
		return err
	}
	if err := ps.store.UpdatePoolDeadline(ctx, poolID, deadline); err != nil {
		ps.logger.Error("Failed to persist new deadline", zap.String("pool_id", poolID), zap.Error(err))
	}
	ps.cacheStatus(ctx, pool.Snapshot())
	return nil
}

// Status returns the live snapshot of a pool, falling back to the durable
// record for pools the registry no longer holds.
func (ps *PoolService) Status(ctx context.Context, poolID string) (sambatan.Snapshot, error) {
	pool, err := ps.registry.Get(poolID)
	if err == nil {
		return pool.Snapshot(), nil
	}

	var cached sambatan.Snapshot
	if found, cerr := ps.redis.GetCachedPoolStatus(ctx, poolID, &cached); cerr == nil && found {
		return cached, nil
	}

	row, err := ps.store.GetPoolByID(ctx, poolID)
	if err != nil {
		return sambatan.Snapshot{}, sambatan.ErrNotFound
	}
	rows, err := ps.store.GetReservationsByPool(ctx, poolID)
	if err != nil {
		return sambatan.Snapshot{}, err
	}
	return snapshotFromRow(row, rows), nil
}

// List snapshots the registry's pools, optionally filtered by state.
func (ps *PoolService) List(state string) []sambatan.Snapshot {
	return ps.registry.List(state)
}

// Hydrate rebuilds the registry from the durable record at startup.
func (ps *PoolService) Hydrate(ctx context.Context) error {
	rows, err := ps.store.GetLivePools(ctx)
	if err != nil {
		return fmt.Errorf("failed to load live pools: %w", err)
	}

	for _, row := range rows {
		reservations, err := ps.store.GetReservationsByPool(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("failed to load reservations for pool %s: %w", row.ID, err)
		}
		resMap := make(map[string]int, len(reservations))
		for _, r := range reservations {
			resMap[r.BuyerID] = r.Quantity
		}

		pool := sambatan.Restore(sambatan.Config{
			ID:            row.ID,
			OfferingID:    row.OfferingID,
			SellerID:      row.SellerID,
			Target:        row.Target,
			MinPerBuyer:   row.MinPerBuyer,
			MaxPerBuyer:   row.MaxPerBuyer,
			UnitPrice:     row.UnitPrice,
			MinViableFrac: row.MinViableFrac,
			Deadline:      row.Deadline,
		}, row.State, resMap)
		ps.registry.Adopt(pool)

		snap := pool.Snapshot()
		if err := ps.redis.InitPoolSlots(ctx, row.ID, row.Target, snap.Participants); err != nil {
			ps.logger.Warn("Failed to seed slot counter on hydration",
				zap.String("pool_id", row.ID), zap.Error(err))
		}
	}

	ps.logger.Info("Pool registry hydrated", zap.Int("pools", len(rows)))
	return nil
}

func (ps *PoolService) cacheStatus(ctx context.Context, snap sambatan.Snapshot) {
	if err := ps.redis.CachePoolStatus(ctx, snap.ID, snap, poolStatusCacheTTL); err != nil {
		ps.logger.Warn("Failed to cache pool status", zap.String("pool_id", snap.ID), zap.Error(err))
	}
}

// resyncSlots overwrites the advisory counter with the authoritative count,
// healing any drift the fast path accumulated.
func (ps *PoolService) resyncSlots(ctx context.Context, snap sambatan.Snapshot) {
	if err := ps.redis.InitPoolSlots(ctx, snap.ID, snap.Target, snap.Participants); err != nil {
		ps.logger.Warn("Failed to resync slot counter", zap.String("pool_id", snap.ID), zap.Error(err))
	}
}

func snapshotFromRow(row *models.Pool, reservations []models.Reservation) sambatan.Snapshot {
	resMap := make(map[string]int, len(reservations))
	participants := 0
	for _, r := range reservations {
		resMap[r.BuyerID] = r.Quantity
		participants += r.Quantity
	}
	return sambatan.Snapshot{
		ID:           row.ID,
		OfferingID:   row.OfferingID,
		SellerID:     row.SellerID,
		State:        row.State,
		Target:       row.Target,
		Participants: participants,
		SlotsLeft:    row.Target - participants,
		MinPerBuyer:  row.MinPerBuyer,
		MaxPerBuyer:  row.MaxPerBuyer,
		UnitPrice:    row.UnitPrice,
		Deadline:     row.Deadline,
		Reservations: resMap,
	}
}

// outcomeFromRow rebuilds the terminal handover from the durable record for
// a finalization that has to be replayed after a restart.
func outcomeFromRow(row *models.Pool, reservations []models.Reservation) fulfillment.PoolOutcome {
	resMap := make(map[string]int, len(reservations))
	for _, r := range reservations {
		resMap[r.BuyerID] = r.Quantity
	}
	return fulfillment.PoolOutcome{
		PoolID:       row.ID,
		OfferingID:   row.OfferingID,
		SellerID:     row.SellerID,
		Kind:         row.State,
		UnitPrice:    row.UnitPrice,
		Reservations: resMap,
	}
}

// reserveDelta is how many slots a join adds over the buyer's standing
// reservation. A first join adds its full quantity; an amend adds only the
// difference, which is negative when the buyer is shrinking.
func reserveDelta(snap sambatan.Snapshot, buyerID string, qty int) int {
	return qty - snap.Reservations[buyerID]
}

func rejectReason(err error) string {
	switch err {
	case sambatan.ErrCapacityExceeded:
		return "capacity"
	case sambatan.ErrWindowClosed:
		return "window_closed"
	case sambatan.ErrOutOfBounds:
		return "out_of_bounds"
	case sambatan.ErrInvalidState:
		return "invalid_state"
	default:
		return "other"
	}
}
