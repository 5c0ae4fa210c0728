// Package orderbook implements C2, the central limit order book engine:
// price-time priority matching with per-(market,outcome) books, grounded on
// pincex_unified's internal/trading/orderbook.OrderBook (same btree-backed
// price levels, same match-then-rest flow) but generalized to prediction
// markets' integer-tick probability prices and binary/categorical/scalar
// outcome indices.
package orderbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger is the collateral/settlement dependency the engine needs. It is
// satisfied by *ledger.Ledger; declared narrowly here so the engine can be
// tested against a fake.
type Ledger interface {
	Reserve(user uuid.UUID, amount int64) error
	Release(user uuid.UUID, amount int64) error
	SettleTrade(buyerID, sellerID uuid.UUID, marketID uuid.UUID, outcomeIndex int, priceTicks, size int64) error
}

// SelfTradePolicy controls how a user's own resting order is treated when
// it would otherwise cross with their own incoming order.
type SelfTradePolicy string

const (
	SelfTradePrevent SelfTradePolicy = "prevent"
	SelfTradeAllow   SelfTradePolicy = "allow"
)

// Config bundles the §6 book-related configuration options.
type Config struct {
	PriceTickBound    int64
	MarketOrderPolicy models.MarketOrderPolicy
	SelfTrade         SelfTradePolicy
}

// Engine owns one Book per (market, outcome) and implements Submit/Cancel.
// It is not safe for concurrent use by multiple callers for the *same*
// market — spec.md §5 assigns that serialization to the market writer
// goroutine in package coordinator; Engine itself assumes single-threaded
// access per market and is safe across *different* markets running on
// separate goroutines because each gets its own bookKey entries and the
// books map itself is guarded by booksMu.
type Engine struct {
	logger *zap.Logger
	ledger Ledger
	cfg    Config

	booksMu sync.Mutex
	books   map[bookKey]*Book
}

// NewEngine constructs an order-book engine backed by ledger for collateral
// movements.
func NewEngine(logger *zap.Logger, ledger Ledger, cfg Config) *Engine {
	if cfg.PriceTickBound == 0 {
		cfg.PriceTickBound = models.PriceTickBound
	}
	if cfg.MarketOrderPolicy == "" {
		cfg.MarketOrderPolicy = models.PolicyPartialOK
	}
	if cfg.SelfTrade == "" {
		cfg.SelfTrade = SelfTradePrevent
	}
	return &Engine{
		logger: logger,
		ledger: ledger,
		cfg:    cfg,
		books:  make(map[bookKey]*Book),
	}
}

func (e *Engine) bookFor(marketID uuid.UUID, outcome int) *Book {
	key := bookKey{MarketID: marketID, OutcomeIndex: outcome}
	e.booksMu.Lock()
	defer e.booksMu.Unlock()
	b, ok := e.books[key]
	if !ok {
		b = newBook()
		e.books[key] = b
	}
	return b
}

// Collateral computes the reservation an order requires under the binary
// convention of spec.md §4.2: a buy of size s at price p ticks reserves
// p*s; a sell reserves (TicksPerUnit-p)*s.
func Collateral(side models.Side, price, size int64) int64 {
	if side == models.Buy {
		return price * size
	}
	return (models.TicksPerUnit - price) * size
}

// Submit runs the match loop for an incoming order: it assumes the Risk
// Gate has already approved the order (spec.md §4.2 step 1 happens in
// package risk, called by the coordinator before Submit).
func (e *Engine) Submit(order *models.Order) ([]*models.Trade, error) {
	if order.Size <= 0 {
		return nil, fmt.Errorf("orderbook: %w", models.ErrInvalidSize)
	}
	if order.Kind == models.KindLimit && (order.Price <= 0 || order.Price >= models.TicksPerUnit) {
		return nil, fmt.Errorf("orderbook: %w", models.ErrInvalidPrice)
	}

	reserve := e.projectedReservation(order)
	if err := e.ledger.Reserve(order.UserID, reserve); err != nil {
		order.State = models.OrderRejected
		return nil, err
	}

	book := e.bookFor(order.MarketID, order.OutcomeIndex)
	trades, _, err := e.match(book, order)
	if err != nil {
		// Unwind the untouched reservation before surfacing the error.
		_ = e.ledger.Release(order.UserID, reserve)
		order.State = models.OrderRejected
		return nil, err
	}

	// match already refunded, fill by fill, the gap between what this order
	// reserved (its own rate) and what it actually paid (the maker's rate);
	// what's left reserved now is exactly reservationPrice * residual.
	residual := order.Residual()
	if order.Kind == models.KindMarket {
		// All-or-none liquidity is checked up front in match(). A market
		// order never rests, so whatever collateral is still held against
		// its residual (unmatched book depth under partial-ok) goes back
		// now.
		if residual == 0 {
			order.State = models.OrderFilled
			return trades, nil
		}
		_ = e.ledger.Release(order.UserID, e.reservationPrice(order)*residual)
		order.State = stateFor(order)
		if residual == order.Size {
			order.State = models.OrderRejected
			return trades, fmt.Errorf("orderbook: market order unfilled: %w", models.ErrInsufficientLiquidity)
		}
		return trades, nil
	}

	// Limit order: any residual rests on the book; the reservation for the
	// resting portion stays reserved (it was sized for the full order).
	if residual > 0 {
		book.rest(order)
		order.State = stateFor(order)
	} else {
		order.State = models.OrderFilled
	}
	return trades, nil
}

func stateFor(o *models.Order) models.OrderState {
	if o.FilledSize == 0 {
		return models.OrderOpen
	}
	if o.Residual() == 0 {
		return models.OrderFilled
	}
	return models.OrderPartiallyFilled
}

func (e *Engine) projectedReservation(o *models.Order) int64 {
	return Collateral(o.Side, e.reservationPrice(o), o.Size)
}

// reservationPrice is the per-unit rate an order's collateral was reserved
// at: its own limit price for a limit order, or the worst-case tick bound
// for a market order (refunded per fill as reservationPrice below).
func (e *Engine) reservationPrice(o *models.Order) int64 {
	if o.Kind != models.KindMarket {
		return o.Price
	}
	if o.Side == models.Buy {
		return e.cfg.PriceTickBound
	}
	return 1
}

// match runs the price-time-priority loop for incoming against book. It
// returns the trades produced and the collateral actually consumed at trade
// prices (informational — the per-trade price-improvement refund is applied
// internally as each fill settles).
func (e *Engine) match(book *Book, incoming *models.Order) ([]*models.Trade, int64, error) {
	var trades []*models.Trade
	var consumed int64

	if incoming.Kind == models.KindMarket && e.cfg.MarketOrderPolicy == models.PolicyAllOrNone {
		if book.availableSize(oppositeSide(incoming.Side), incoming.Side, incoming.Price, incoming.Kind) < incoming.Size {
			return nil, 0, fmt.Errorf("orderbook: %w", models.ErrInsufficientLiquidity)
		}
	}

	for incoming.Residual() > 0 {
		lvl := book.bestOpposite(incoming.Side)
		if lvl == nil {
			break
		}
		if incoming.Kind == models.KindLimit && !crosses(incoming.Side, incoming.Price, lvl.Price) {
			break
		}

		resting, skippedSelf := lvl.frontSkipping(func(o *models.Order) bool {
			return e.cfg.SelfTrade == SelfTradePrevent && o.UserID == incoming.UserID
		})
		if resting == nil {
			if skippedSelf {
				// Only the incoming user's own orders are left at this best
				// level: matching stops here without looking at the
				// worse-priced levels behind it, and the incoming order
				// rests untouched (spec.md §4.2 "Tie-breaks").
				break
			}
			lvl.removeFilled()
			book.dropIfEmpty(oppositeSide(incoming.Side), lvl.Price)
			continue
		}

		size := min64(incoming.Residual(), resting.Residual())
		price := resting.Price // maker gets the price

		trade := &models.Trade{
			ID:           uuid.New(),
			MarketID:     incoming.MarketID,
			OutcomeIndex: incoming.OutcomeIndex,
			Price:        price,
			Size:         size,
			Timestamp:    time.Now().UTC(),
		}
		buyer, seller := incoming, resting
		if incoming.Side == models.Sell {
			buyer, seller = resting, incoming
		}
		trade.BuyerOrderID = buyer.ID
		trade.SellerOrderID = seller.ID

		if err := e.ledger.SettleTrade(buyer.UserID, seller.UserID, incoming.MarketID, incoming.OutcomeIndex, price, size); err != nil {
			return trades, consumed, err
		}

		incoming.FilledSize += size
		incoming.LastUpdateTime = trade.Timestamp
		resting.FilledSize += size
		resting.LastUpdateTime = trade.Timestamp
		if resting.Residual() == 0 {
			resting.State = models.OrderFilled
		} else {
			resting.State = models.OrderPartiallyFilled
		}

		fillCost := Collateral(incoming.Side, price, size)
		consumed += fillCost

		// The incoming order reserved at its own rate (its limit price, or
		// the worst-case tick bound for a market order); the maker's resting
		// price may be better than that rate, in which case the difference
		// was over-reserved and must go back to the incoming user now, not
		// just at the end — the residual portion still needs its own
		// reservation left untouched at the incoming rate.
		if refund := Collateral(incoming.Side, e.reservationPrice(incoming), size) - fillCost; refund > 0 {
			if err := e.ledger.Release(incoming.UserID, refund); err != nil {
				return trades, consumed, err
			}
		}

		trades = append(trades, trade)

		if resting.Residual() == 0 {
			book.unrest(resting.ID)
		}
	}

	return trades, consumed, nil
}

// availableSize sums residual size across the opposite side up to (and
// including, for limit orders) the incoming order's limit price. Used only
// for the all-or-none pre-check.
func (b *Book) availableSize(oppSide, incomingSide models.Side, limitPrice int64, kind models.OrderKind) int64 {
	var total int64
	scan := func(price int64, level *PriceLevel) bool {
		if kind == models.KindLimit && !crosses(incomingSide, limitPrice, price) {
			return false
		}
		for _, o := range level.snapshot() {
			total += o.Residual()
		}
		return true
	}
	if oppSide == models.Buy {
		b.bids.Reverse(scan)
	} else {
		b.asks.Scan(scan)
	}
	return total
}

func crosses(incomingSide models.Side, incomingPrice, restingPrice int64) bool {
	if incomingSide == models.Buy {
		return incomingPrice >= restingPrice
	}
	return incomingPrice <= restingPrice
}

func oppositeSide(s models.Side) models.Side {
	if s == models.Buy {
		return models.Sell
	}
	return models.Buy
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// CancelResult reports the collateral released by a cancel.
type CancelResult struct {
	ReleasedAmount int64
	NoOp           bool
}

// Cancel removes an order from its book and releases its unfilled
// collateral. Cancelling an already-terminal order is idempotent
// (spec.md §4.2, §8 property 7).
func (e *Engine) Cancel(order *models.Order) (CancelResult, error) {
	if order.IsTerminal() {
		return CancelResult{NoOp: true}, nil
	}
	book := e.bookFor(order.MarketID, order.OutcomeIndex)
	book.unrest(order.ID)

	released := Collateral(order.Side, order.Price, order.Residual())
	order.State = models.OrderCancelled
	order.LastUpdateTime = time.Now().UTC()

	if err := e.ledger.Release(order.UserID, released); err != nil {
		return CancelResult{}, fmt.Errorf("orderbook: cancel release: %w", err)
	}
	return CancelResult{ReleasedAmount: released}, nil
}

// Snapshot exposes the current book state for a (market, outcome) pair.
func (e *Engine) Snapshot(marketID uuid.UUID, outcome int, depth int) (bids, asks []LevelView) {
	return e.bookFor(marketID, outcome).Snapshot(depth)
}

// Crossed reports whether the named book is currently crossed. After Submit
// returns it is false, except where self-trade prevention left an order
// resting across the same user's opposite order.
func (e *Engine) Crossed(marketID uuid.UUID, outcome int) bool {
	return e.bookFor(marketID, outcome).Crossed()
}
