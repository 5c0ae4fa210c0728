package orderbook

import (
	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// bookKey identifies one (market, outcome) order book; spec.md §4.2 "One
// book per (market, outcome)".
type bookKey struct {
	MarketID     uuid.UUID
	OutcomeIndex int
}

// Book is the central limit order book for a single (market, outcome) pair:
// two price-ordered trees, bids descending and asks ascending, each tree
// keyed by the integer tick price exactly as pincex_unified's
// orderbook.OrderBook keys its btree.Map — but by the integer price itself
// rather than a stringified decimal, which sidesteps the lexical-ordering
// trap a string key has for multi-digit prices.
type Book struct {
	bids *btree.Map[int64, *PriceLevel]
	asks *btree.Map[int64, *PriceLevel]

	// orderLoc lets Cancel find an order's side/price in O(log n) instead of
	// scanning both trees.
	orderLoc map[uuid.UUID]orderLocation
}

type orderLocation struct {
	side  models.Side
	price int64
}

func newBook() *Book {
	return &Book{
		bids:     btree.NewMap[int64, *PriceLevel](32),
		asks:     btree.NewMap[int64, *PriceLevel](32),
		orderLoc: make(map[uuid.UUID]orderLocation),
	}
}

func (b *Book) treeFor(side models.Side) *btree.Map[int64, *PriceLevel] {
	if side == models.Buy {
		return b.bids
	}
	return b.asks
}

func (b *Book) levelAt(side models.Side, price int64) (*PriceLevel, bool) {
	return b.treeFor(side).Get(price)
}

func (b *Book) levelOrCreate(side models.Side, price int64) *PriceLevel {
	tree := b.treeFor(side)
	if lvl, ok := tree.Get(price); ok {
		return lvl
	}
	lvl := newPriceLevel(price)
	tree.Set(price, lvl)
	return lvl
}

func (b *Book) dropIfEmpty(side models.Side, price int64) {
	tree := b.treeFor(side)
	if lvl, ok := tree.Get(price); ok && lvl.isEmpty() {
		tree.Delete(price)
	}
}

// rest places the residual of o on its side at its limit price and records
// its location for O(log n) cancellation.
func (b *Book) rest(o *models.Order) {
	lvl := b.levelOrCreate(o.Side, o.Price)
	lvl.push(o)
	b.orderLoc[o.ID] = orderLocation{side: o.Side, price: o.Price}
}

// unrest removes an order from its resting location, if any.
func (b *Book) unrest(id uuid.UUID) bool {
	loc, ok := b.orderLoc[id]
	if !ok {
		return false
	}
	delete(b.orderLoc, id)
	lvl, ok := b.levelAt(loc.side, loc.price)
	if !ok {
		return false
	}
	removed := lvl.remove(id)
	b.dropIfEmpty(loc.side, loc.price)
	return removed
}

// bestOpposite returns the best resting price level on the side opposite to
// side, or nil if that side is empty. Bids iterate in descending price
// order (best bid = highest price); asks iterate ascending (best ask =
// lowest price).
func (b *Book) bestOpposite(side models.Side) *PriceLevel {
	var best *PriceLevel
	if side == models.Buy {
		b.asks.Scan(func(_ int64, level *PriceLevel) bool {
			best = level
			return false
		})
	} else {
		b.bids.Reverse(func(_ int64, level *PriceLevel) bool {
			best = level
			return false
		})
	}
	return best
}

// Crossed reports whether the top bid price is >= the top ask price. After
// Submit returns this holds only where self-trade prevention left an order
// resting across the same user's opposite order.
func (b *Book) Crossed() bool {
	var bestBid, bestAsk int64 = -1, -1
	b.bids.Reverse(func(price int64, _ *PriceLevel) bool { bestBid = price; return false })
	b.asks.Scan(func(price int64, _ *PriceLevel) bool { bestAsk = price; return false })
	if bestBid == -1 || bestAsk == -1 {
		return false
	}
	return bestBid >= bestAsk
}

// Snapshot returns up to depth price levels per side as (price, totalSize)
// pairs, bids descending then asks ascending.
func (b *Book) Snapshot(depth int) (bids, asks []LevelView) {
	b.bids.Reverse(func(price int64, level *PriceLevel) bool {
		bids = append(bids, levelView(price, level))
		return len(bids) < depth
	})
	b.asks.Scan(func(price int64, level *PriceLevel) bool {
		asks = append(asks, levelView(price, level))
		return len(asks) < depth
	})
	return bids, asks
}

// LevelView is a read-only price/size pair for API consumers.
type LevelView struct {
	Price int64
	Size  int64
}

func levelView(price int64, level *PriceLevel) LevelView {
	var total int64
	for _, o := range level.snapshot() {
		total += o.Residual()
	}
	return LevelView{Price: price, Size: total}
}
