package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sambatan-service/internal/models"
)

// CreatePool persists a new pool row
func (s *Store) CreatePool(ctx context.Context, pool *models.Pool) error {
	query := `
		INSERT INTO pools (id, offering_id, seller_id, target_participants,
			min_per_buyer, max_per_buyer, unit_price, min_viable_frac, deadline, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, pool, query,
		pool.ID, pool.OfferingID, pool.SellerID, pool.Target,
		pool.MinPerBuyer, pool.MaxPerBuyer, pool.UnitPrice,
		pool.MinViableFrac, pool.Deadline, pool.State)
}

// GetPoolByID retrieves a pool row
func (s *Store) GetPoolByID(ctx context.Context, id string) (*models.Pool, error) {
	var pool models.Pool
	err := s.db.GetContext(ctx, &pool, "SELECT * FROM pools WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pool not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

// GetLivePools retrieves OPEN and FILLED pools for hydration at startup
func (s *Store) GetLivePools(ctx context.Context) ([]models.Pool, error) {
	var pools []models.Pool
	err := s.db.SelectContext(ctx, &pools,
		"SELECT * FROM pools WHERE state IN ($1, $2) ORDER BY created_at",
		models.PoolStateOpen, models.PoolStateFilled)
	return pools, err
}

// UpdatePoolState updates a pool's state
func (s *Store) UpdatePoolState(ctx context.Context, poolID, state string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pools SET state = $1, updated_at = NOW() WHERE id = $2",
		state, poolID)
	return err
}

// UpdatePoolDeadline moves the join window end for a pool without reservations
func (s *Store) UpdatePoolDeadline(ctx context.Context, poolID string, deadline time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pools SET deadline = $1, updated_at = NOW() WHERE id = $2",
		deadline, poolID)
	return err
}

// UpsertReservation writes a buyer's slot count, amending any existing row
func (s *Store) UpsertReservation(ctx context.Context, res *models.Reservation) error {
	query := `
		INSERT INTO reservations (id, pool_id, buyer_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pool_id, buyer_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		res.ID, res.PoolID, res.BuyerID, res.Quantity)
	return err
}

// DeleteReservation removes a buyer's reservation
func (s *Store) DeleteReservation(ctx context.Context, poolID, buyerID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM reservations WHERE pool_id = $1 AND buyer_id = $2",
		poolID, buyerID)
	return err
}

// DeleteReservationsByPool removes every reservation of a released pool
func (s *Store) DeleteReservationsByPool(ctx context.Context, poolID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM reservations WHERE pool_id = $1", poolID)
	return err
}

// GetReservationsByPool retrieves a pool's reservations for hydration
func (s *Store) GetReservationsByPool(ctx context.Context, poolID string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations,
		"SELECT * FROM reservations WHERE pool_id = $1", poolID)
	return reservations, err
}

// CommitFinalization writes the finalization marker and the orders it
// spawned in one transaction, so a crash can never leave one without the
// other. Returns false without writing anything when the pool already
// carries a marker.
func (s *Store) CommitFinalization(ctx context.Context, poolID, kind string, orders []models.Order, items map[string][]models.OrderItem) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO pool_finalizations (pool_id, kind) VALUES ($1, $2) ON CONFLICT (pool_id) DO NOTHING",
		poolID, kind)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	for i := range orders {
		o := &orders[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, buyer_id, seller_id, pool_id, total_amount,
				status, payment_status, shipping_deadline)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`,
			o.ID, o.BuyerID, o.SellerID, o.PoolID,
			o.TotalAmount, o.Status, o.PaymentStatus, o.ShippingDeadline)
		if err != nil {
			return false, fmt.Errorf("failed to persist order %s: %w", o.ID, err)
		}
		for j := range items[o.ID] {
			item := &items[o.ID][j]
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, offering_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5)`,
				item.ID, item.OrderID, item.OfferingID, item.Quantity, item.UnitPrice)
			if err != nil {
				return false, fmt.Errorf("failed to persist items for order %s: %w", o.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetUnfinalizedPools retrieves pools that left OPEN without a finalization
// marker, so the sweeper can re-drive the finalization they missed.
func (s *Store) GetUnfinalizedPools(ctx context.Context) ([]models.Pool, error) {
	var pools []models.Pool
	err := s.db.SelectContext(ctx, &pools, `
		SELECT p.* FROM pools p
		LEFT JOIN pool_finalizations f ON f.pool_id = p.id
		WHERE p.state <> $1 AND f.pool_id IS NULL`,
		models.PoolStateOpen)
	return pools, err
}

// GetPoolFinalizations retrieves all finalization markers for hydration
func (s *Store) GetPoolFinalizations(ctx context.Context) ([]models.PoolFinalization, error) {
	var marks []models.PoolFinalization
	err := s.db.SelectContext(ctx, &marks, "SELECT * FROM pool_finalizations")
	return marks, err
}
