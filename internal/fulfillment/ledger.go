package fulfillment

import (
	"sync"

	"sambatan-service/internal/models"
)

// Ledger owns the live order entities. Like the pool registry, its lock
// guards only the map; each order serializes on its own mutex.
type Ledger struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{orders: make(map[string]*Order)}
}

// Add registers an order entity.
func (l *Ledger) Add(o *Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[o.ID()] = o
}

// Get routes to an order by ID.
func (l *Ledger) Get(id string) (*Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// Remove drops an archived order. Only terminal orders should be removed.
func (l *Ledger) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.orders, id)
}

// ByBuyer snapshots every order belonging to a buyer.
func (l *Ledger) ByBuyer(buyerID string) []models.Order {
	out := make([]models.Order, 0)
	for _, o := range l.all() {
		rec, _ := o.Snapshot()
		if rec.BuyerID == buyerID {
			out = append(out, rec)
		}
	}
	return out
}

// All returns every live order entity, for the deadline sweeper.
func (l *Ledger) All() []*Order {
	return l.all()
}

func (l *Ledger) all() []*Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o)
	}
	return out
}
