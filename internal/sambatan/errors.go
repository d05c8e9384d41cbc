package sambatan

import "errors"

// User-correctable capacity/window errors are surfaced to the caller as-is
// and never retried automatically. State errors mean the caller acted on a
// stale view of the pool.
var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrWindowClosed     = errors.New("join window closed")
	ErrOutOfBounds      = errors.New("quantity out of per-buyer bounds")
	ErrInvalidState     = errors.New("invalid pool state")
	ErrNotFound         = errors.New("pool not found")
	ErrNoReservation    = errors.New("buyer has no reservation")
	ErrDuplicatePool    = errors.New("offering already has an active pool")
	ErrDeadlineLocked   = errors.New("deadline is immutable once reservations exist")
	ErrBadConfig        = errors.New("invalid pool configuration")
)
