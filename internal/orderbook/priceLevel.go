package orderbook

import (
	"sync"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
)

// PriceLevel holds all live orders at a single price, in strict FIFO
// submission order (spec.md §4.2 "Tie-breaks"). It is protected by its own
// mutex so read-heavy snapshot calls don't contend with the whole book,
// mirroring pincex_unified's orderbook.PriceLevel fine-grained locking —
// simplified here to a plain slice since the market-writer serialization in
// spec.md §5 removes the need for the teacher's lock-free ring-buffer
// chunking, which exists purely as a throughput optimization orthogonal to
// matching semantics.
type PriceLevel struct {
	mu     sync.Mutex
	Price  int64
	orders []*models.Order
}

func newPriceLevel(price int64) *PriceLevel {
	return &PriceLevel{Price: price}
}

func (pl *PriceLevel) push(o *models.Order) {
	pl.mu.Lock()
	pl.orders = append(pl.orders, o)
	pl.mu.Unlock()
}

// front returns the resting order at the head of the queue, skipping any
// already-terminal orders left behind by a race with a direct cancel.
func (pl *PriceLevel) front() *models.Order {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for len(pl.orders) > 0 {
		o := pl.orders[0]
		if o.IsTerminal() {
			pl.orders = pl.orders[1:]
			continue
		}
		return o
	}
	return nil
}

// frontSkipping returns the first non-terminal, non-excluded order — used to
// implement self-trade prevention by skipping a specific user's resting
// order without removing it.
func (pl *PriceLevel) frontSkipping(excludeUser func(*models.Order) bool) (*models.Order, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	skipped := false
	for _, o := range pl.orders {
		if o.IsTerminal() {
			continue
		}
		if excludeUser != nil && excludeUser(o) {
			skipped = true
			continue
		}
		return o, skipped
	}
	return nil, skipped
}

func (pl *PriceLevel) removeFilled() {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	kept := pl.orders[:0]
	for _, o := range pl.orders {
		if !o.IsTerminal() {
			kept = append(kept, o)
		}
	}
	pl.orders = kept
}

func (pl *PriceLevel) remove(id uuid.UUID) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for i, o := range pl.orders {
		if o.ID == id {
			pl.orders = append(pl.orders[:i], pl.orders[i+1:]...)
			return true
		}
	}
	return false
}

func (pl *PriceLevel) isEmpty() bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.orders) == 0
}

func (pl *PriceLevel) snapshot() []*models.Order {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	out := make([]*models.Order, len(pl.orders))
	copy(out, pl.orders)
	return out
}
