package fulfillment

import (
	"testing"
	"time"

	"sambatan-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules() Rules {
	return Rules{
		SellerSLA:          48 * time.Hour,
		ConfirmationGrace:  72 * time.Hour,
		AutoCompleteGrace:  48 * time.Hour,
		MissedAcceptPolicy: MissedAcceptCancel,
	}
}

func testOrder(now time.Time) *Order {
	rec := models.Order{
		ID:               "order-1",
		BuyerID:          "buyer-1",
		SellerID:         "seller-1",
		PoolID:           "pool-1",
		TotalAmount:      500000,
		Status:           models.OrderStatusCreated,
		PaymentStatus:    models.PaymentStatusCaptured,
		ShippingDeadline: now.Add(48 * time.Hour),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	items := []models.OrderItem{{
		ID: "item-1", OrderID: "order-1", OfferingID: "offering-1", Quantity: 2, UnitPrice: 250000,
	}}
	return NewOrder(rec, items)
}

func shipPayload() Payload {
	return Payload{Carrier: "JNE", TrackingNumber: "JNE123456"}
}

func TestHappyPathToCompleted(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rules := testRules()

	tr, err := o.Apply(ActionAccept, Payload{}, now, rules)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAccepted, tr.To)

	tr, err = o.Apply(ActionShip, shipPayload(), now, rules)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, tr.To)
	assert.Equal(t, "JNE", tr.Record.Carrier)
	require.NotNil(t, tr.Record.ConfirmationDeadline)
	assert.Equal(t, now.Add(rules.ConfirmationGrace), *tr.Record.ConfirmationDeadline)

	tr, err = o.Apply(ActionConfirmReceipt, Payload{}, now, rules)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, tr.To)
}

func TestDisputeBlocksConfirm(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rules := testRules()

	_, err := o.Apply(ActionAccept, Payload{}, now, rules)
	require.NoError(t, err)
	_, err = o.Apply(ActionShip, shipPayload(), now, rules)
	require.NoError(t, err)

	tr, err := o.Apply(ActionReportProblem, Payload{Reason: "box arrived empty"}, now, rules)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDisputed, tr.To)
	assert.Equal(t, "box arrived empty", tr.Record.DisputeReason)
	assert.Nil(t, tr.Record.ConfirmationDeadline, "dispute freezes the confirmation clock")

	// Once disputed, confirmation is off the table until resolution.
	tr, err = o.Apply(ActionConfirmReceipt, Payload{}, now, rules)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, models.OrderStatusDisputed, tr.Record.Status)
}

func TestResolveDisputeOutcomes(t *testing.T) {
	now := time.Now()
	rules := testRules()

	for _, tc := range []struct {
		outcome string
		want    string
	}{
		{OutcomeCompleted, models.OrderStatusCompleted},
		{OutcomeCancelled, models.OrderStatusCancelled},
	} {
		o := testOrder(now)
		_, err := o.Apply(ActionAccept, Payload{}, now, rules)
		require.NoError(t, err)
		_, err = o.Apply(ActionReportProblem, Payload{Reason: "wrong variant"}, now, rules)
		require.NoError(t, err)

		tr, err := o.Apply(ActionResolveDispute, Payload{Outcome: tc.outcome}, now, rules)
		require.NoError(t, err)
		assert.Equal(t, tc.want, tr.To)

		// Resolved disputes are terminal.
		_, err = o.Apply(ActionReportProblem, Payload{Reason: "again"}, now, rules)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	}

	o := testOrder(now)
	_, err := o.Apply(ActionAccept, Payload{}, now, rules)
	require.NoError(t, err)
	_, err = o.Apply(ActionReportProblem, Payload{Reason: "x"}, now, rules)
	require.NoError(t, err)
	_, err = o.Apply(ActionResolveDispute, Payload{Outcome: "split-the-difference"}, now, rules)
	assert.ErrorIs(t, err, ErrBadOutcome)
}

func TestAcceptRequiresCapturedPayment(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rec, _ := o.Snapshot()
	o = NewOrder(models.Order{
		ID:               rec.ID,
		Status:           models.OrderStatusCreated,
		PaymentStatus:    models.PaymentStatusPending,
		ShippingDeadline: rec.ShippingDeadline,
	}, nil)

	tr, err := o.Apply(ActionAccept, Payload{}, now, testRules())
	assert.ErrorIs(t, err, ErrPaymentNotCaptured)
	assert.Equal(t, models.OrderStatusCreated, tr.Record.Status)
}

func TestAcceptAfterShippingDeadlineRejected(t *testing.T) {
	now := time.Now()
	o := testOrder(now)

	_, err := o.Apply(ActionAccept, Payload{}, now.Add(49*time.Hour), testRules())
	assert.ErrorIs(t, err, ErrDeadlinePassed)
}

func TestShipRequiresShippingInfo(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rules := testRules()

	_, err := o.Apply(ActionAccept, Payload{}, now, rules)
	require.NoError(t, err)

	tr, err := o.Apply(ActionShip, Payload{Carrier: "JNE"}, now, rules)
	assert.ErrorIs(t, err, ErrMissingShippingInfo)
	assert.Equal(t, models.OrderStatusAccepted, tr.Record.Status)
	assert.Nil(t, tr.Record.ShippedAt)
}

// Exhaustive closure over the full state x action matrix: every pair not in
// the transition table must be rejected and must leave the order unchanged.
func TestTransitionMatrixClosure(t *testing.T) {
	states := []string{
		models.OrderStatusCreated,
		models.OrderStatusAccepted,
		models.OrderStatusShipped,
		models.OrderStatusAwaitingConfirmation,
		models.OrderStatusCompleted,
		models.OrderStatusDisputed,
		models.OrderStatusCancelled,
	}
	actions := []Action{
		ActionAccept, ActionShip, ActionConfirmReceipt,
		ActionReportProblem, ActionResolveDispute, ActionCancel,
	}

	legal := map[string][]Action{
		models.OrderStatusCreated:              {ActionAccept, ActionCancel},
		models.OrderStatusAccepted:             {ActionShip, ActionReportProblem, ActionCancel},
		models.OrderStatusShipped:              {ActionConfirmReceipt, ActionReportProblem},
		models.OrderStatusAwaitingConfirmation: {ActionConfirmReceipt, ActionReportProblem},
		models.OrderStatusDisputed:             {ActionResolveDispute},
	}

	now := time.Now()
	rules := testRules()
	for _, state := range states {
		for _, action := range actions {
			isLegal := false
			for _, a := range legal[state] {
				if a == action {
					isLegal = true
				}
			}
			assert.Equal(t, isLegal, Allowed(state, action), "table mismatch for (%s, %s)", state, action)
			if isLegal {
				continue
			}

			o := NewOrder(models.Order{
				ID:               "order-m",
				Status:           state,
				PaymentStatus:    models.PaymentStatusCaptured,
				ShippingDeadline: now.Add(time.Hour),
			}, nil)
			tr, err := o.Apply(action, Payload{Carrier: "JNE", TrackingNumber: "X", Outcome: OutcomeCompleted}, now, rules)
			assert.ErrorIs(t, err, ErrIllegalTransition, "(%s, %s) must be illegal", state, action)
			assert.Equal(t, state, tr.Record.Status, "(%s, %s) must not move the order", state, action)

			rec, _ := o.Snapshot()
			assert.Equal(t, state, rec.Status)
		}
	}
}

func TestItemsAndTotalImmutable(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rules := testRules()

	origRec, origItems := o.Snapshot()

	_, err := o.Apply(ActionAccept, Payload{}, now, rules)
	require.NoError(t, err)
	_, err = o.Apply(ActionShip, shipPayload(), now, rules)
	require.NoError(t, err)
	_, err = o.Apply(ActionConfirmReceipt, Payload{}, now, rules)
	require.NoError(t, err)

	rec, items := o.Snapshot()
	assert.Equal(t, origRec.TotalAmount, rec.TotalAmount)
	assert.Equal(t, origItems, items)

	// Mutating the returned slice must not touch the entity.
	items[0].Quantity = 99
	_, again := o.Snapshot()
	assert.Equal(t, 2, again[0].Quantity)
}

func TestSweepMissedAcceptCancelPolicy(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rules := testRules()

	tr, changed := o.SweepDeadlines(now.Add(48*time.Hour), rules)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusCancelled, tr.To)
	assert.Contains(t, tr.Record.CancelReason, "acceptance deadline")

	// At-least-once: the repeat sweep finds nothing due.
	_, changed = o.SweepDeadlines(now.Add(49*time.Hour), rules)
	assert.False(t, changed)
}

func TestSweepMissedAcceptDisputePolicy(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rules := testRules()
	rules.MissedAcceptPolicy = MissedAcceptDispute

	tr, changed := o.SweepDeadlines(now.Add(48*time.Hour), rules)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusDisputed, tr.To)
}

func TestSweepAcceptedButNeverShipped(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rules := testRules()

	_, err := o.Apply(ActionAccept, Payload{}, now, rules)
	require.NoError(t, err)

	tr, changed := o.SweepDeadlines(now.Add(48*time.Hour), rules)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusDisputed, tr.To)
}

func TestSweepAutoConfirmChain(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rules := testRules()

	_, err := o.Apply(ActionAccept, Payload{}, now, rules)
	require.NoError(t, err)
	_, err = o.Apply(ActionShip, shipPayload(), now, rules)
	require.NoError(t, err)

	// Nothing due before the confirmation window closes.
	_, changed := o.SweepDeadlines(now.Add(rules.ConfirmationGrace-time.Minute), rules)
	assert.False(t, changed)

	shipped := now.Add(rules.ConfirmationGrace)
	tr, changed := o.SweepDeadlines(shipped, rules)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusAwaitingConfirmation, tr.To)

	// Buyer can still confirm or dispute inside the grace state.
	assert.True(t, Allowed(models.OrderStatusAwaitingConfirmation, ActionConfirmReceipt))
	assert.True(t, Allowed(models.OrderStatusAwaitingConfirmation, ActionReportProblem))

	tr, changed = o.SweepDeadlines(shipped.Add(rules.AutoCompleteGrace), rules)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusCompleted, tr.To)
}

func TestSweepDisputeFrozenByDefault(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rules := testRules()

	_, err := o.Apply(ActionAccept, Payload{}, now, rules)
	require.NoError(t, err)
	_, err = o.Apply(ActionReportProblem, Payload{Reason: "no news from seller"}, now, rules)
	require.NoError(t, err)

	// DisputeAutoResolve unset: disputes wait for mediation forever.
	_, changed := o.SweepDeadlines(now.Add(10000*time.Hour), rules)
	assert.False(t, changed)
}

func TestSweepDisputeAutoResolveWhenConfigured(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	rules := testRules()
	rules.DisputeAutoResolve = 14 * 24 * time.Hour

	_, err := o.Apply(ActionAccept, Payload{}, now, rules)
	require.NoError(t, err)
	_, err = o.Apply(ActionReportProblem, Payload{Reason: "stale"}, now, rules)
	require.NoError(t, err)

	_, changed := o.SweepDeadlines(now.Add(13*24*time.Hour), rules)
	assert.False(t, changed)

	tr, changed := o.SweepDeadlines(now.Add(15*24*time.Hour), rules)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusCompleted, tr.To)
}

func TestPaymentCapturedIdempotent(t *testing.T) {
	now := time.Now()
	o := NewOrder(models.Order{
		ID:            "order-1",
		Status:        models.OrderStatusCreated,
		PaymentStatus: models.PaymentStatusPending,
	}, nil)

	rec, changed := o.MarkPaymentCaptured(now)
	assert.True(t, changed)
	assert.Equal(t, models.PaymentStatusCaptured, rec.PaymentStatus)

	_, changed = o.MarkPaymentCaptured(now)
	assert.False(t, changed)
}

func TestPaymentFailedCancelsCreatedOrder(t *testing.T) {
	now := time.Now()
	o := NewOrder(models.Order{
		ID:            "order-1",
		Status:        models.OrderStatusCreated,
		PaymentStatus: models.PaymentStatusPending,
	}, nil)

	tr, changed := o.MarkPaymentFailed("card declined", now)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusCancelled, tr.To)
	assert.Contains(t, tr.Record.CancelReason, "card declined")
}

func TestPaymentFailedAfterAcceptLeavesStatus(t *testing.T) {
	now := time.Now()
	o := testOrder(now)
	_, err := o.Apply(ActionAccept, Payload{}, now, testRules())
	require.NoError(t, err)

	tr, changed := o.MarkPaymentFailed("chargeback", now)
	assert.False(t, changed)
	assert.Equal(t, models.OrderStatusAccepted, tr.Record.Status)
	assert.Equal(t, models.PaymentStatusFailed, tr.Record.PaymentStatus)
}
