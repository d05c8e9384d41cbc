package sambatan

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"sambatan-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(target, min, max int) Config {
	return Config{
		ID:          "pool-1",
		OfferingID:  "offering-1",
		SellerID:    "seller-1",
		Target:      target,
		MinPerBuyer: min,
		MaxPerBuyer: max,
		UnitPrice:   250000,
		Deadline:    time.Now().Add(24 * time.Hour),
	}
}

func TestJoinFillsPoolExactly(t *testing.T) {
	pool, err := NewPool(testConfig(10, 1, 2))
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 9; i++ {
		receipt, snap, err := pool.Join(fmt.Sprintf("buyer-%d", i), 1, now)
		require.NoError(t, err)
		assert.False(t, receipt.Filled)
		assert.Equal(t, models.PoolStateOpen, snap.State)
	}

	receipt, snap, err := pool.Join("buyer-9", 1, now)
	require.NoError(t, err)
	assert.True(t, receipt.Filled)
	assert.Equal(t, models.PoolStateFilled, snap.State)
	assert.Equal(t, 10, snap.Participants)
	assert.Equal(t, 0, snap.SlotsLeft)
}

func TestJoinQuantityOutOfBounds(t *testing.T) {
	pool, err := NewPool(testConfig(10, 1, 2))
	require.NoError(t, err)

	_, snap, err := pool.Join("buyer-1", 3, time.Now())
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.Equal(t, models.PoolStateOpen, snap.State)
	assert.Equal(t, 0, snap.Participants)

	_, _, err = pool.Join("buyer-1", 0, time.Now())
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestJoinAfterDeadlineRejected(t *testing.T) {
	cfg := testConfig(10, 1, 2)
	cfg.Deadline = time.Now().Add(-time.Minute)
	pool, err := NewPool(cfg)
	require.NoError(t, err)

	_, snap, err := pool.Join("buyer-1", 1, time.Now())
	assert.ErrorIs(t, err, ErrWindowClosed)
	assert.Equal(t, 0, snap.Participants)
}

func TestJoinAtExactDeadlineRejected(t *testing.T) {
	cfg := testConfig(10, 1, 2)
	deadline := time.Now().Add(time.Hour)
	cfg.Deadline = deadline
	pool, err := NewPool(cfg)
	require.NoError(t, err)

	_, _, err = pool.Join("buyer-1", 1, deadline)
	assert.ErrorIs(t, err, ErrWindowClosed)
}

func TestJoinAmendsExistingReservation(t *testing.T) {
	pool, err := NewPool(testConfig(10, 1, 3))
	require.NoError(t, err)

	now := time.Now()
	_, snap, err := pool.Join("buyer-1", 2, now)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Participants)

	// Second join by the same buyer amends to the new total.
	receipt, snap, err := pool.Join("buyer-1", 3, now)
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.Quantity)
	assert.Equal(t, 3, snap.Participants)
	assert.Equal(t, 3, snap.Reservations["buyer-1"])

	// Amending down releases slots.
	_, snap, err = pool.Join("buyer-1", 1, now)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Participants)
}

func TestLeaveReleasesSlots(t *testing.T) {
	pool, err := NewPool(testConfig(10, 1, 2))
	require.NoError(t, err)

	now := time.Now()
	_, _, err = pool.Join("buyer-1", 2, now)
	require.NoError(t, err)

	snap, err := pool.Leave("buyer-1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Participants)
	assert.Equal(t, 10, snap.SlotsLeft)

	_, err = pool.Leave("buyer-1")
	assert.ErrorIs(t, err, ErrNoReservation)
}

func TestLeaveRefusedOnceFilled(t *testing.T) {
	pool, err := NewPool(testConfig(2, 1, 1))
	require.NoError(t, err)

	now := time.Now()
	_, _, err = pool.Join("buyer-1", 1, now)
	require.NoError(t, err)
	_, _, err = pool.Join("buyer-2", 1, now)
	require.NoError(t, err)

	_, err = pool.Leave("buyer-1")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExpireUnderfilledWithoutMinimumSucceeds(t *testing.T) {
	cfg := testConfig(10, 1, 2)
	pool, err := NewPool(cfg)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 3; i++ {
		_, _, err := pool.Join(fmt.Sprintf("buyer-%d", i), 1, now)
		require.NoError(t, err)
	}

	res, changed := pool.Expire(cfg.Deadline.Add(time.Second))
	assert.True(t, changed)
	assert.Equal(t, models.PoolStateExpiredSuccess, res.Outcome)
	assert.Nil(t, res.Released)
	assert.Equal(t, 3, res.Snapshot.Participants)
}

func TestExpireBelowMinimumViableFractionFails(t *testing.T) {
	cfg := testConfig(10, 1, 2)
	cfg.MinViableFrac = 0.5
	pool, err := NewPool(cfg)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 4; i++ {
		_, _, err := pool.Join(fmt.Sprintf("buyer-%d", i), 1, now)
		require.NoError(t, err)
	}

	res, changed := pool.Expire(cfg.Deadline.Add(time.Second))
	assert.True(t, changed)
	assert.Equal(t, models.PoolStateExpiredFailed, res.Outcome)
	assert.Len(t, res.Released, 4)
	assert.Equal(t, 0, res.Snapshot.Participants)
}

func TestExpireAtMinimumViableFractionSucceeds(t *testing.T) {
	cfg := testConfig(10, 1, 2)
	cfg.MinViableFrac = 0.5
	pool, err := NewPool(cfg)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 5; i++ {
		_, _, err := pool.Join(fmt.Sprintf("buyer-%d", i), 1, now)
		require.NoError(t, err)
	}

	res, changed := pool.Expire(cfg.Deadline.Add(time.Second))
	assert.True(t, changed)
	assert.Equal(t, models.PoolStateExpiredSuccess, res.Outcome)
}

func TestExpireEmptyPoolFails(t *testing.T) {
	cfg := testConfig(10, 1, 2)
	pool, err := NewPool(cfg)
	require.NoError(t, err)

	res, changed := pool.Expire(cfg.Deadline.Add(time.Second))
	assert.True(t, changed)
	assert.Equal(t, models.PoolStateExpiredFailed, res.Outcome)
}

func TestExpireIsIdempotent(t *testing.T) {
	cfg := testConfig(10, 1, 2)
	pool, err := NewPool(cfg)
	require.NoError(t, err)

	_, _, err = pool.Join("buyer-1", 1, time.Now())
	require.NoError(t, err)

	res1, changed := pool.Expire(cfg.Deadline.Add(time.Second))
	assert.True(t, changed)

	// At-least-once delivery: the second expire is a no-op, not an error.
	res2, changed := pool.Expire(cfg.Deadline.Add(time.Minute))
	assert.False(t, changed)
	assert.Equal(t, res1.Outcome, res2.Outcome)
}

func TestExpireBeforeDeadlineAbsorbed(t *testing.T) {
	cfg := testConfig(10, 1, 2)
	pool, err := NewPool(cfg)
	require.NoError(t, err)

	_, changed := pool.Expire(cfg.Deadline.Add(-time.Hour))
	assert.False(t, changed)
	assert.Equal(t, models.PoolStateOpen, pool.Snapshot().State)
}

func TestCancelReleasesAllReservations(t *testing.T) {
	pool, err := NewPool(testConfig(10, 1, 2))
	require.NoError(t, err)

	now := time.Now()
	_, _, err = pool.Join("buyer-1", 2, now)
	require.NoError(t, err)
	_, _, err = pool.Join("buyer-2", 1, now)
	require.NoError(t, err)

	released, snap, err := pool.Cancel("seller closed shop")
	require.NoError(t, err)
	assert.Equal(t, models.PoolStateCancelled, snap.State)
	assert.Equal(t, map[string]int{"buyer-1": 2, "buyer-2": 1}, released)

	_, _, err = pool.Cancel("again")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDeadlineImmutableOnceReserved(t *testing.T) {
	pool, err := NewPool(testConfig(10, 1, 2))
	require.NoError(t, err)

	later := time.Now().Add(48 * time.Hour)
	require.NoError(t, pool.SetDeadline(later))
	assert.Equal(t, later, pool.Deadline())

	_, _, err = pool.Join("buyer-1", 1, time.Now())
	require.NoError(t, err)

	err = pool.SetDeadline(time.Now().Add(72 * time.Hour))
	assert.ErrorIs(t, err, ErrDeadlineLocked)
	assert.Equal(t, later, pool.Deadline())
}

func TestConcurrentJoinsLastSlot(t *testing.T) {
	pool, err := NewPool(testConfig(2, 1, 1))
	require.NoError(t, err)

	now := time.Now()
	_, _, err = pool.Join("buyer-0", 1, now)
	require.NoError(t, err)

	// Two buyers race for the single remaining slot: exactly one wins.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = pool.Join(fmt.Sprintf("racer-%d", i), 1, now)
		}(i)
	}
	wg.Wait()

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
		} else {
			assert.ErrorIs(t, err, ErrCapacityExceeded)
		}
	}
	assert.Equal(t, 1, success)

	snap := pool.Snapshot()
	assert.Equal(t, 2, snap.Participants)
	assert.Equal(t, models.PoolStateFilled, snap.State)
}

func TestCapacityInvariantUnderConcurrentChurn(t *testing.T) {
	const (
		target = 25
		buyers = 80
		rounds = 50
	)
	cfg := testConfig(target, 1, 3)
	pool, err := NewPool(cfg)
	require.NoError(t, err)

	now := time.Now()
	var wg sync.WaitGroup
	for b := 0; b < buyers; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(b)))
			buyer := fmt.Sprintf("buyer-%d", b)
			for i := 0; i < rounds; i++ {
				if rng.Intn(3) == 0 {
					_, _ = pool.Leave(buyer)
				} else {
					_, snap, err := pool.Join(buyer, 1+rng.Intn(3), now)
					if err == nil || err == ErrCapacityExceeded {
						assert.LessOrEqual(t, snap.Participants, target)
					}
				}
			}
		}(b)
	}
	wg.Wait()

	snap := pool.Snapshot()
	assert.LessOrEqual(t, snap.Participants, target)

	total := 0
	for buyer, qty := range snap.Reservations {
		assert.GreaterOrEqual(t, qty, cfg.MinPerBuyer, "buyer %s below min", buyer)
		assert.LessOrEqual(t, qty, cfg.MaxPerBuyer, "buyer %s above max", buyer)
		total += qty
	}
	assert.Equal(t, snap.Participants, total)
}

func TestLateJoinRacingExpire(t *testing.T) {
	cfg := testConfig(10, 1, 2)
	cfg.Deadline = time.Now().Add(-time.Millisecond)
	pool, err := NewPool(cfg)
	require.NoError(t, err)

	now := time.Now()
	var wg sync.WaitGroup
	joinErrs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, joinErrs[i] = pool.Join(fmt.Sprintf("late-%d", i), 1, now)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Expire(now)
	}()
	wg.Wait()

	// Every join carried a clock reading at or past the deadline, so every
	// one must have been rejected with WindowClosed or InvalidState,
	// regardless of how it interleaved with expire.
	for _, err := range joinErrs {
		assert.Error(t, err)
		assert.True(t, err == ErrWindowClosed || err == ErrInvalidState, "got %v", err)
	}
	assert.Equal(t, 0, pool.Snapshot().Participants)
}

func TestNewPoolRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero target", func(c *Config) { c.Target = 0 }},
		{"max below min", func(c *Config) { c.MinPerBuyer = 3; c.MaxPerBuyer = 2 }},
		{"max above target", func(c *Config) { c.MaxPerBuyer = 11 }},
		{"fraction above one", func(c *Config) { c.MinViableFrac = 1.5 }},
		{"missing offering", func(c *Config) { c.OfferingID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(10, 1, 2)
			tc.mut(&cfg)
			_, err := NewPool(cfg)
			assert.ErrorIs(t, err, ErrBadConfig)
		})
	}
}
