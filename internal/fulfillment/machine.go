package fulfillment

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"sambatan-service/internal/models"
)

// Action is a caller-initiated order transition.
type Action string

const (
	ActionAccept         Action = "accept"
	ActionShip           Action = "ship"
	ActionConfirmReceipt Action = "confirmReceipt"
	ActionReportProblem  Action = "reportProblem"
	ActionResolveDispute Action = "resolveDispute"
	ActionCancel         Action = "cancel"
)

// Dispute resolution outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
)

// Missed-accept policies: what happens to a CREATED order whose seller never
// acknowledged it before the shipping deadline.
const (
	MissedAcceptCancel  = "cancel"
	MissedAcceptDispute = "dispute"
)

var (
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrOrderNotFound       = errors.New("order not found")
	ErrPaymentNotCaptured  = errors.New("payment not captured")
	ErrMissingShippingInfo = errors.New("shipping info required")
	ErrBadOutcome          = errors.New("unknown dispute outcome")
	ErrDeadlinePassed      = errors.New("shipping deadline passed")
)

// transitions is the single authoritative state x action -> next state table.
// Anything not listed here is an IllegalTransition; callers never get to
// improvise an edge.
var transitions = map[string]map[Action]string{
	models.OrderStatusCreated: {
		ActionAccept: models.OrderStatusAccepted,
		ActionCancel: models.OrderStatusCancelled,
	},
	models.OrderStatusAccepted: {
		ActionShip:          models.OrderStatusShipped,
		ActionReportProblem: models.OrderStatusDisputed,
		ActionCancel:        models.OrderStatusCancelled,
	},
	models.OrderStatusShipped: {
		ActionConfirmReceipt: models.OrderStatusCompleted,
		ActionReportProblem:  models.OrderStatusDisputed,
	},
	models.OrderStatusAwaitingConfirmation: {
		ActionConfirmReceipt: models.OrderStatusCompleted,
		ActionReportProblem:  models.OrderStatusDisputed,
	},
	models.OrderStatusDisputed: {
		ActionResolveDispute: models.OrderStatusCompleted, // or CANCELLED, per outcome
	},
}

// Allowed reports whether the table contains an edge for (state, action).
func Allowed(state string, action Action) bool {
	_, ok := transitions[state][action]
	return ok
}

// Rules carries the operator-chosen deadline policies.
type Rules struct {
	SellerSLA          time.Duration // shipping deadline offset when the offering has none
	ConfirmationGrace  time.Duration // SHIPPED -> buyer confirmation window
	AutoCompleteGrace  time.Duration // AWAITING_CONFIRMATION -> auto COMPLETED
	MissedAcceptPolicy string        // cancel | dispute
	DisputeAutoResolve time.Duration // 0 = disputes never auto-resolve
}

// Payload carries the action-specific arguments of a transition request.
type Payload struct {
	Carrier        string
	TrackingNumber string
	Reason         string
	Outcome        string
}

// Transition describes a committed state change, with the full record after
// the change so callers can persist and publish from it.
type Transition struct {
	OrderID string
	From    string
	To      string
	Action  Action
	Record  models.Order
	Items   []models.OrderItem
}

// Order is the single-writer entity for one order. Same contract as the pool
// engine: mutations serialize on the order's mutex, no I/O under the lock.
type Order struct {
	mu    sync.Mutex
	rec   models.Order
	items []models.OrderItem
}

// NewOrder wraps a freshly created record. The record must already be in
// CREATED with its items and total set; both are immutable from here on.
func NewOrder(rec models.Order, items []models.OrderItem) *Order {
	return &Order{rec: rec, items: items}
}

// Restore rebuilds an order entity from persisted state during hydration.
func Restore(rec models.Order, items []models.OrderItem) *Order {
	return &Order{rec: rec, items: items}
}

// ID returns the order's identity.
func (o *Order) ID() string { return o.rec.ID }

// Snapshot returns the current record and items.
func (o *Order) Snapshot() (models.Order, []models.OrderItem) {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := make([]models.OrderItem, len(o.items))
	copy(items, o.items)
	return o.rec, items
}

// Apply performs a caller-initiated transition. On rejection the returned
// Transition still carries the authoritative current record, so a stale UI
// can resync from the error response.
func (o *Order) Apply(action Action, payload Payload, now time.Time, rules Rules) (Transition, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	from := o.rec.Status
	next, ok := transitions[from][action]
	if !ok {
		return o.transitionLocked(from, from, action),
			fmt.Errorf("%w: %s in state %s", ErrIllegalTransition, action, from)
	}

	switch action {
	case ActionAccept:
		if o.rec.PaymentStatus != models.PaymentStatusCaptured {
			return o.transitionLocked(from, from, action), ErrPaymentNotCaptured
		}
		if !now.Before(o.rec.ShippingDeadline) {
			return o.transitionLocked(from, from, action), ErrDeadlinePassed
		}

	case ActionShip:
		if payload.Carrier == "" || payload.TrackingNumber == "" {
			return o.transitionLocked(from, from, action), ErrMissingShippingInfo
		}
		shippedAt := now
		confirmBy := now.Add(rules.ConfirmationGrace)
		o.rec.Carrier = payload.Carrier
		o.rec.TrackingNumber = payload.TrackingNumber
		o.rec.ShippedAt = &shippedAt
		o.rec.ConfirmationDeadline = &confirmBy

	case ActionReportProblem:
		// A dispute freezes the deadline clocks until resolution.
		o.rec.DisputeReason = payload.Reason
		o.rec.ConfirmationDeadline = nil
		o.rec.AutoCompleteAt = nil

	case ActionResolveDispute:
		switch payload.Outcome {
		case OutcomeCompleted:
			next = models.OrderStatusCompleted
		case OutcomeCancelled:
			next = models.OrderStatusCancelled
			o.rec.CancelReason = payload.Reason
		default:
			return o.transitionLocked(from, from, action), ErrBadOutcome
		}

	case ActionCancel:
		o.rec.CancelReason = payload.Reason
	}

	o.rec.Status = next
	o.rec.UpdatedAt = now
	return o.transitionLocked(from, next, action), nil
}

// MarkPaymentCaptured records a successful capture reported by the payment
// system. Idempotent.
func (o *Order) MarkPaymentCaptured(now time.Time) (models.Order, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.rec.PaymentStatus == models.PaymentStatusCaptured {
		return o.rec, false
	}
	o.rec.PaymentStatus = models.PaymentStatusCaptured
	o.rec.UpdatedAt = now
	return o.rec, true
}

// MarkPaymentFailed records a failed capture. A CREATED order is cancelled on
// the spot; anything later is left for mediation via the dispute path.
func (o *Order) MarkPaymentFailed(reason string, now time.Time) (Transition, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.rec.PaymentStatus = models.PaymentStatusFailed
	from := o.rec.Status
	if from != models.OrderStatusCreated {
		return o.transitionLocked(from, from, ActionCancel), false
	}
	o.rec.Status = models.OrderStatusCancelled
	o.rec.CancelReason = "payment_failed: " + reason
	o.rec.UpdatedAt = now
	return o.transitionLocked(from, models.OrderStatusCancelled, ActionCancel), true
}

// SweepDeadlines applies every clock-driven transition that is due at now.
// It is idempotent and at-least-once safe: a repeat call on an order it
// already moved finds nothing due and reports changed=false.
func (o *Order) SweepDeadlines(now time.Time, rules Rules) (Transition, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	from := o.rec.Status
	switch from {
	case models.OrderStatusCreated:
		if now.Before(o.rec.ShippingDeadline) {
			break
		}
		if rules.MissedAcceptPolicy == MissedAcceptDispute {
			o.rec.Status = models.OrderStatusDisputed
			o.rec.DisputeReason = "seller missed acceptance deadline"
		} else {
			o.rec.Status = models.OrderStatusCancelled
			o.rec.CancelReason = "seller missed acceptance deadline"
		}
		o.rec.UpdatedAt = now
		return o.transitionLocked(from, o.rec.Status, ""), true

	case models.OrderStatusAccepted:
		if now.Before(o.rec.ShippingDeadline) {
			break
		}
		// Seller accepted but never shipped: needs mediation, not silent
		// cancellation, because money was already captured.
		o.rec.Status = models.OrderStatusDisputed
		o.rec.DisputeReason = "seller missed shipping deadline"
		o.rec.UpdatedAt = now
		return o.transitionLocked(from, o.rec.Status, ""), true

	case models.OrderStatusShipped:
		if o.rec.ConfirmationDeadline == nil || now.Before(*o.rec.ConfirmationDeadline) {
			break
		}
		autoAt := now.Add(rules.AutoCompleteGrace)
		o.rec.Status = models.OrderStatusAwaitingConfirmation
		o.rec.AutoCompleteAt = &autoAt
		o.rec.UpdatedAt = now
		return o.transitionLocked(from, o.rec.Status, ""), true

	case models.OrderStatusAwaitingConfirmation:
		if o.rec.AutoCompleteAt == nil || now.Before(*o.rec.AutoCompleteAt) {
			break
		}
		o.rec.Status = models.OrderStatusCompleted
		o.rec.UpdatedAt = now
		return o.transitionLocked(from, o.rec.Status, ""), true

	case models.OrderStatusDisputed:
		if rules.DisputeAutoResolve <= 0 {
			break
		}
		if now.Before(o.rec.UpdatedAt.Add(rules.DisputeAutoResolve)) {
			break
		}
		o.rec.Status = models.OrderStatusCompleted
		o.rec.UpdatedAt = now
		return o.transitionLocked(from, o.rec.Status, ""), true
	}

	return o.transitionLocked(from, from, ""), false
}

func (o *Order) transitionLocked(from, to string, action Action) Transition {
	items := make([]models.OrderItem, len(o.items))
	copy(items, o.items)
	return Transition{
		OrderID: o.rec.ID,
		From:    from,
		To:      to,
		Action:  action,
		Record:  o.rec,
		Items:   items,
	}
}
