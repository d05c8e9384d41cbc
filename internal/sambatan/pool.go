package sambatan

import (
	"math"
	"sync"
	"time"

	"sambatan-service/internal/models"
)

// Config carries the immutable parameters of a group-buy run, read from the
// offering catalog when the seller activates sambatan mode.
type Config struct {
	ID            string
	OfferingID    string
	SellerID      string
	Target        int
	MinPerBuyer   int
	MaxPerBuyer   int
	UnitPrice     int64
	MinViableFrac float64 // 0 means any participant counts as success at deadline
	Deadline      time.Time
}

// Snapshot is a consistent read of a pool, taken under the pool's lock.
// Every rejection is returned together with one so callers can resync
// ("2 slots left") instead of seeing a generic failure.
type Snapshot struct {
	ID           string         `json:"id"`
	OfferingID   string         `json:"offering_id"`
	SellerID     string         `json:"seller_id"`
	State        string         `json:"state"`
	Target       int            `json:"target_participants"`
	Participants int            `json:"current_participants"`
	SlotsLeft    int            `json:"slots_left"`
	MinPerBuyer  int            `json:"min_per_buyer"`
	MaxPerBuyer  int            `json:"max_per_buyer"`
	UnitPrice    int64          `json:"unit_price"`
	Deadline     time.Time      `json:"deadline"`
	Reservations map[string]int `json:"-"`
}

// Receipt acknowledges a successful join or amend.
type Receipt struct {
	PoolID   string `json:"pool_id"`
	BuyerID  string `json:"buyer_id"`
	Quantity int    `json:"quantity"`
	Filled   bool   `json:"filled"`
}

// ExpireResult reports what a deadline expiry did. Released holds buyer ->
// quantity for every reservation let go on failure; it is nil on success.
type ExpireResult struct {
	Outcome  string
	Released map[string]int
	Snapshot Snapshot
}

// Pool is the single-writer engine for one group-buy run. All mutating
// operations serialize on the pool's own mutex, so the capacity check and the
// reservation write are one atomic step. Pools never perform I/O under the
// lock; persistence and events are the caller's business after the mutation
// returns.
type Pool struct {
	mu           sync.Mutex
	cfg          Config
	state        string
	reservations map[string]int
}

// NewPool validates the configuration and returns an OPEN pool.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.ID == "" || cfg.OfferingID == "" || cfg.Target <= 0 {
		return nil, ErrBadConfig
	}
	if cfg.MinPerBuyer < 1 {
		cfg.MinPerBuyer = 1
	}
	if cfg.MaxPerBuyer < cfg.MinPerBuyer || cfg.MaxPerBuyer > cfg.Target {
		return nil, ErrBadConfig
	}
	if cfg.MinViableFrac < 0 || cfg.MinViableFrac > 1 {
		return nil, ErrBadConfig
	}
	return &Pool{
		cfg:          cfg,
		state:        models.PoolStateOpen,
		reservations: make(map[string]int),
	}, nil
}

// Restore rebuilds a pool from persisted state during hydration.
func Restore(cfg Config, state string, reservations map[string]int) *Pool {
	res := make(map[string]int, len(reservations))
	for buyer, qty := range reservations {
		res[buyer] = qty
	}
	return &Pool{cfg: cfg, state: state, reservations: res}
}

// Join reserves qty slots for buyerID, or amends an existing reservation to
// the new total. The deadline guard runs inside the lock: a late join racing
// with expiry is rejected here, not by any external pre-check.
func (p *Pool) Join(buyerID string, qty int, now time.Time) (Receipt, Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != models.PoolStateOpen {
		return Receipt{}, p.snapshotLocked(), ErrInvalidState
	}
	if !now.Before(p.cfg.Deadline) {
		return Receipt{}, p.snapshotLocked(), ErrWindowClosed
	}
	if qty < p.cfg.MinPerBuyer || qty > p.cfg.MaxPerBuyer {
		return Receipt{}, p.snapshotLocked(), ErrOutOfBounds
	}

	existing := p.reservations[buyerID]
	delta := qty - existing
	if p.participantsLocked()+delta > p.cfg.Target {
		return Receipt{}, p.snapshotLocked(), ErrCapacityExceeded
	}

	p.reservations[buyerID] = qty

	filled := p.participantsLocked() == p.cfg.Target
	if filled {
		p.state = models.PoolStateFilled
	}

	return Receipt{
		PoolID:   p.cfg.ID,
		BuyerID:  buyerID,
		Quantity: qty,
		Filled:   filled,
	}, p.snapshotLocked(), nil
}

// Leave releases the buyer's reservation entirely. Withdrawal is refused once
// the pool has filled or expired, to protect the other participants.
func (p *Pool) Leave(buyerID string) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != models.PoolStateOpen {
		return p.snapshotLocked(), ErrInvalidState
	}
	if _, ok := p.reservations[buyerID]; !ok {
		return p.snapshotLocked(), ErrNoReservation
	}
	delete(p.reservations, buyerID)
	return p.snapshotLocked(), nil
}

// Expire closes an OPEN pool whose deadline has passed. Delivery is
// at-least-once, so a second call on an already-terminal pool reports
// changed=false rather than an error. A call before the deadline is a
// scheduling artifact and is likewise absorbed.
func (p *Pool) Expire(now time.Time) (ExpireResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != models.PoolStateOpen || now.Before(p.cfg.Deadline) {
		return ExpireResult{Outcome: p.state, Snapshot: p.snapshotLocked()}, false
	}

	if p.participantsLocked() >= p.minViableLocked() {
		p.state = models.PoolStateExpiredSuccess
		return ExpireResult{
			Outcome:  p.state,
			Snapshot: p.snapshotLocked(),
		}, true
	}

	p.state = models.PoolStateExpiredFailed
	released := p.releaseAllLocked()
	return ExpireResult{
		Outcome:  p.state,
		Released: released,
		Snapshot: p.snapshotLocked(),
	}, true
}

// Cancel terminates the pool early and releases every reservation. Allowed
// from any non-terminal state.
func (p *Pool) Cancel(reason string) (map[string]int, Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case models.PoolStateOpen, models.PoolStateFilled:
	default:
		return nil, p.snapshotLocked(), ErrInvalidState
	}

	p.state = models.PoolStateCancelled
	released := p.releaseAllLocked()
	return released, p.snapshotLocked(), nil
}

// SetDeadline moves the join window of a pool that nobody has committed to
// yet. Once any reservation exists the deadline is locked.
func (p *Pool) SetDeadline(t time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != models.PoolStateOpen {
		return ErrInvalidState
	}
	if len(p.reservations) > 0 {
		return ErrDeadlineLocked
	}
	p.cfg.Deadline = t
	return nil
}

// Snapshot returns a consistent view of the pool.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// ID returns the pool's identity.
func (p *Pool) ID() string { return p.cfg.ID }

// OfferingID returns the offering this run belongs to.
func (p *Pool) OfferingID() string { return p.cfg.OfferingID }

// Deadline returns the current join window end.
func (p *Pool) Deadline() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Deadline
}

func (p *Pool) participantsLocked() int {
	total := 0
	for _, qty := range p.reservations {
		total += qty
	}
	return total
}

func (p *Pool) minViableLocked() int {
	if p.cfg.MinViableFrac == 0 {
		return 1
	}
	return int(math.Ceil(p.cfg.MinViableFrac * float64(p.cfg.Target)))
}

func (p *Pool) releaseAllLocked() map[string]int {
	released := make(map[string]int, len(p.reservations))
	for buyer, qty := range p.reservations {
		released[buyer] = qty
	}
	p.reservations = make(map[string]int)
	return released
}

func (p *Pool) snapshotLocked() Snapshot {
	res := make(map[string]int, len(p.reservations))
	for buyer, qty := range p.reservations {
		res[buyer] = qty
	}
	participants := p.participantsLocked()
	return Snapshot{
		ID:           p.cfg.ID,
		OfferingID:   p.cfg.OfferingID,
		SellerID:     p.cfg.SellerID,
		State:        p.state,
		Target:       p.cfg.Target,
		Participants: participants,
		SlotsLeft:    p.cfg.Target - participants,
		MinPerBuyer:  p.cfg.MinPerBuyer,
		MaxPerBuyer:  p.cfg.MaxPerBuyer,
		UnitPrice:    p.cfg.UnitPrice,
		Deadline:     p.cfg.Deadline,
		Reservations: res,
	}
}
