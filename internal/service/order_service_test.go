package service

import (
	"errors"
	"fmt"
	"testing"

	"sambatan-service/internal/fulfillment"
	"sambatan-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestTransitionRejectReasonMatchesWrappedErrors(t *testing.T) {
	// The machine wraps ErrIllegalTransition with the action and state; the
	// metric label must still come out as illegal_transition.
	wrapped := fmt.Errorf("%w: %s in state %s",
		fulfillment.ErrIllegalTransition, fulfillment.ActionShip, models.OrderStatusCompleted)
	assert.Equal(t, "illegal_transition", transitionRejectReason(wrapped))

	assert.Equal(t, "illegal_transition", transitionRejectReason(fulfillment.ErrIllegalTransition))
	assert.Equal(t, "payment_not_captured", transitionRejectReason(fulfillment.ErrPaymentNotCaptured))
	assert.Equal(t, "payment_not_captured",
		transitionRejectReason(fmt.Errorf("%w: order o1", fulfillment.ErrPaymentNotCaptured)))
	assert.Equal(t, "missing_shipping_info", transitionRejectReason(fulfillment.ErrMissingShippingInfo))
	assert.Equal(t, "deadline_passed", transitionRejectReason(fulfillment.ErrDeadlinePassed))
	assert.Equal(t, "bad_outcome", transitionRejectReason(fulfillment.ErrBadOutcome))
	assert.Equal(t, "other", transitionRejectReason(errors.New("boom")))
}
