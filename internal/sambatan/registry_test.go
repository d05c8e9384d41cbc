package sambatan

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"sambatan-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOneActivePoolPerOffering(t *testing.T) {
	reg := NewRegistry()

	cfg := testConfig(10, 1, 2)
	_, err := reg.Create(cfg)
	require.NoError(t, err)

	cfg2 := cfg
	cfg2.ID = "pool-2"
	_, err = reg.Create(cfg2)
	assert.ErrorIs(t, err, ErrDuplicatePool)

	// A terminal run no longer blocks a new one for the same offering.
	pool, err := reg.Get(cfg.ID)
	require.NoError(t, err)
	_, _, err = pool.Cancel("restock")
	require.NoError(t, err)

	created, err := reg.Create(cfg2)
	require.NoError(t, err)
	assert.Equal(t, "pool-2", created.ID())
}

func TestRegistryGetUnknownPool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryAdoptHydratesLivePool(t *testing.T) {
	reg := NewRegistry()

	cfg := testConfig(10, 1, 2)
	restored := Restore(cfg, models.PoolStateOpen, map[string]int{"buyer-1": 2})
	reg.Adopt(restored)

	pool, err := reg.Get(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Snapshot().Participants)

	// Adopted live pool still blocks a second run on the offering.
	cfg2 := cfg
	cfg2.ID = "pool-2"
	_, err = reg.Create(cfg2)
	assert.ErrorIs(t, err, ErrDuplicatePool)
}

func TestRegistryListByState(t *testing.T) {
	reg := NewRegistry()

	for i := 0; i < 3; i++ {
		cfg := testConfig(10, 1, 2)
		cfg.ID = fmt.Sprintf("pool-%d", i)
		cfg.OfferingID = fmt.Sprintf("offering-%d", i)
		_, err := reg.Create(cfg)
		require.NoError(t, err)
	}
	pool, err := reg.Get("pool-1")
	require.NoError(t, err)
	_, _, err = pool.Cancel("out of stock")
	require.NoError(t, err)

	assert.Len(t, reg.List(""), 3)
	assert.Len(t, reg.List(models.PoolStateOpen), 2)
	assert.Len(t, reg.List(models.PoolStateCancelled), 1)
}

func TestRegistryDue(t *testing.T) {
	reg := NewRegistry()

	past := testConfig(10, 1, 2)
	past.ID = "pool-past"
	past.OfferingID = "offering-past"
	past.Deadline = time.Now().Add(-time.Minute)
	_, err := reg.Create(past)
	require.NoError(t, err)

	future := testConfig(10, 1, 2)
	future.ID = "pool-future"
	future.OfferingID = "offering-future"
	_, err = reg.Create(future)
	require.NoError(t, err)

	due := reg.Due(time.Now())
	require.Len(t, due, 1)
	assert.Equal(t, "pool-past", due[0].ID())

	// Expired pools drop out of the due set.
	due[0].Expire(time.Now())
	assert.Empty(t, reg.Due(time.Now()))
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()

	cfg := testConfig(10, 1, 2)
	_, err := reg.Create(cfg)
	require.NoError(t, err)

	reg.Remove(cfg.ID)
	_, err = reg.Get(cfg.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Offering slot is free again.
	_, err = reg.Create(cfg)
	require.NoError(t, err)
}

func TestRegistryConcurrentOperationsOnDistinctPools(t *testing.T) {
	reg := NewRegistry()

	const pools = 16
	for i := 0; i < pools; i++ {
		cfg := testConfig(50, 1, 2)
		cfg.ID = fmt.Sprintf("pool-%d", i)
		cfg.OfferingID = fmt.Sprintf("offering-%d", i)
		_, err := reg.Create(cfg)
		require.NoError(t, err)
	}

	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < pools; i++ {
		for b := 0; b < 10; b++ {
			wg.Add(1)
			go func(i, b int) {
				defer wg.Done()
				pool, err := reg.Get(fmt.Sprintf("pool-%d", i))
				if err != nil {
					return
				}
				_, _, _ = pool.Join(fmt.Sprintf("buyer-%d", b), 1, now)
			}(i, b)
		}
	}
	wg.Wait()

	for _, snap := range reg.List(models.PoolStateOpen) {
		assert.Equal(t, 10, snap.Participants)
	}
}
