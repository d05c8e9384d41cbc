package service

import (
	"testing"
	"time"

	"sambatan-service/internal/models"
	"sambatan-service/internal/sambatan"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotFromRow(t *testing.T) {
	deadline := time.Now().Add(24 * time.Hour)
	row := &models.Pool{
		ID:          "pool-1",
		OfferingID:  "off-1",
		SellerID:    "seller-1",
		Target:      10,
		MinPerBuyer: 1,
		MaxPerBuyer: 3,
		UnitPrice:   75000,
		Deadline:    deadline,
		State:       models.PoolStateOpen,
	}
	reservations := []models.Reservation{
		{PoolID: "pool-1", BuyerID: "b1", Quantity: 2},
		{PoolID: "pool-1", BuyerID: "b2", Quantity: 3},
	}

	snap := snapshotFromRow(row, reservations)

	assert.Equal(t, "pool-1", snap.ID)
	assert.Equal(t, 5, snap.Participants)
	assert.Equal(t, 5, snap.SlotsLeft)
	assert.Equal(t, 2, snap.Reservations["b1"])
	assert.Equal(t, deadline, snap.Deadline)
}

func TestReserveDeltaCountsOnlyAddedSlots(t *testing.T) {
	snap := sambatan.Snapshot{
		Target:       10,
		Participants: 9,
		Reservations: map[string]int{"b1": 2},
	}

	// A buyer amending 2 -> 3 adds one slot, not three. With nine taken the
	// advisory counter must still admit the amend.
	assert.Equal(t, 1, reserveDelta(snap, "b1", 3))
	assert.LessOrEqual(t, snap.Participants+reserveDelta(snap, "b1", 3), snap.Target)

	// First join claims the full quantity.
	assert.Equal(t, 4, reserveDelta(snap, "b2", 4))

	// Amend down releases slots; the fast path skips the counter entirely.
	assert.Equal(t, -1, reserveDelta(snap, "b1", 1))
}

func TestOutcomeFromRow(t *testing.T) {
	row := &models.Pool{
		ID:         "pool-1",
		OfferingID: "off-1",
		SellerID:   "seller-1",
		UnitPrice:  75000,
		State:      models.PoolStateFilled,
	}
	reservations := []models.Reservation{
		{PoolID: "pool-1", BuyerID: "b1", Quantity: 2},
		{PoolID: "pool-1", BuyerID: "b2", Quantity: 3},
	}

	outcome := outcomeFromRow(row, reservations)

	assert.Equal(t, "pool-1", outcome.PoolID)
	assert.Equal(t, models.PoolStateFilled, outcome.Kind)
	assert.Equal(t, int64(75000), outcome.UnitPrice)
	assert.Equal(t, map[string]int{"b1": 2, "b2": 3}, outcome.Reservations)
}

func TestRejectReasonLabels(t *testing.T) {
	assert.Equal(t, "capacity", rejectReason(sambatan.ErrCapacityExceeded))
	assert.Equal(t, "window_closed", rejectReason(sambatan.ErrWindowClosed))
	assert.Equal(t, "out_of_bounds", rejectReason(sambatan.ErrOutOfBounds))
	assert.Equal(t, "invalid_state", rejectReason(sambatan.ErrInvalidState))
	assert.Equal(t, "other", rejectReason(assert.AnError))
}

func TestJoinWriteThrough(t *testing.T) {
	// This would require Postgres, Redis and Kafka doubles
	t.Skip("Requires backing services")
}
