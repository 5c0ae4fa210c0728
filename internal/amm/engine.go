package amm

import (
	"fmt"
	"time"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger is the collateral dependency this engine needs: moving the buyer's
// input into the pool's account and the pool's payout to the user, plus
// position accounting for the shares credited. Reserve/Release mirror
// orderbook.Ledger; PoolSettle is AMM-specific since the counterparty is the
// pool's own reserves, not another user.
type Ledger interface {
	Reserve(user uuid.UUID, amount int64) error
	Release(user uuid.UUID, amount int64) error
	PoolSettle(user uuid.UUID, marketID uuid.UUID, outcomeIndex int, sharesDelta int64, collateralDelta int64) error
}

// Engine owns one Pool per market. Like orderbook.Engine it assumes
// single-threaded access per market (the coordinator's per-market writer
// goroutine) and is safe across different markets.
type Engine struct {
	logger *zap.Logger
	ledger Ledger

	pools map[uuid.UUID]*Pool
}

func NewEngine(logger *zap.Logger, ledger Ledger) *Engine {
	return &Engine{logger: logger, ledger: ledger, pools: make(map[uuid.UUID]*Pool)}
}

// InitPool seeds a fresh, empty pool for marketID. Quotes and swaps for a
// market fail with ErrUnknownMarket until it has been called; the
// coordinator's market transitions do not call it.
func (e *Engine) InitPool(marketID uuid.UUID, feeBps int64) *Pool {
	p := newPool(marketID, feeBps)
	e.pools[marketID] = p
	return p
}

func (e *Engine) poolFor(marketID uuid.UUID) (*Pool, error) {
	p, ok := e.pools[marketID]
	if !ok {
		return nil, fmt.Errorf("amm: %w", models.ErrUnknownMarket)
	}
	return p, nil
}

func (e *Engine) checkOutcome(outcomeIndex int) error {
	if outcomeIndex != 0 && outcomeIndex != 1 {
		return fmt.Errorf("amm: outcome index %d out of range: %w", outcomeIndex, models.ErrInvalidSize)
	}
	return nil
}

// Quote returns the collateral side.Buy requires to receive size shares of
// outcomeIndex, or the collateral side.Sell would pay out for size shares
// sold back, without mutating any state (spec.md §4.3 "Quote").
func (e *Engine) Quote(marketID uuid.UUID, outcomeIndex int, size int64, side models.Side) (int64, error) {
	p, err := e.poolFor(marketID)
	if err != nil {
		return 0, err
	}
	if err := e.checkOutcome(outcomeIndex); err != nil {
		return 0, err
	}
	other := 1 - outcomeIndex
	if side == models.Buy {
		return quoteBuy(p.Reserves[outcomeIndex], p.Reserves[other], size, p.FeeBps)
	}
	return quoteSell(p.Reserves[outcomeIndex], p.Reserves[other], size, p.FeeBps)
}

// Swap trades size shares of outcomeIndex against marketID's pool for
// userID, atomically updating pool reserves and the user's ledger position
// (spec.md §4.3 "Swap"). For side.Buy the user pays the quoted collateral
// in; for side.Sell they deliver size shares and receive the quoted payout,
// opening or extending a short position if they didn't already hold size
// shares — the same shorting-via-collateral model orderbook.Engine uses,
// bounded by the Risk Gate's position cap rather than a pre-owned-shares
// check.
func (e *Engine) Swap(userID, marketID uuid.UUID, outcomeIndex int, size int64, side models.Side) (*models.Trade, error) {
	p, err := e.poolFor(marketID)
	if err != nil {
		return nil, err
	}
	if err := e.checkOutcome(outcomeIndex); err != nil {
		return nil, err
	}
	other := 1 - outcomeIndex

	if side == models.Buy {
		cost, err := quoteBuy(p.Reserves[outcomeIndex], p.Reserves[other], size, p.FeeBps)
		if err != nil {
			return nil, err
		}
		if err := e.ledger.Reserve(userID, cost); err != nil {
			return nil, err
		}
		if err := e.ledger.PoolSettle(userID, marketID, outcomeIndex, size, cost); err != nil {
			_ = e.ledger.Release(userID, cost)
			return nil, err
		}
		p.Reserves[outcomeIndex] -= size
		p.Reserves[other] += cost
		return e.tradeRecord(marketID, outcomeIndex, cost, size), nil
	}

	payout, err := quoteSell(p.Reserves[outcomeIndex], p.Reserves[other], size, p.FeeBps)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.PoolSettle(userID, marketID, outcomeIndex, -size, -payout); err != nil {
		return nil, err
	}
	p.Reserves[outcomeIndex] += size
	p.Reserves[other] -= payout
	return e.tradeRecord(marketID, outcomeIndex, payout, size), nil
}

func (e *Engine) tradeRecord(marketID uuid.UUID, outcomeIndex int, collateral, size int64) *models.Trade {
	return &models.Trade{
		ID:                uuid.New(),
		MarketID:          marketID,
		BuyerOrderID:      uuid.Nil,
		SellerOrderID:     uuid.Nil,
		IsAMMCounterparty: true,
		OutcomeIndex:      outcomeIndex,
		Price:             impliedPriceTicks(collateral, size),
		Size:              size,
		Timestamp:         time.Now().UTC(),
	}
}

// impliedPriceTicks converts a swap's (cost, size) into the equivalent
// order-book tick price for event/reporting consistency across engines —
// cost/size scaled to the TicksPerUnit grid, rounded to nearest tick.
func impliedPriceTicks(cost, size int64) int64 {
	if size == 0 {
		return 0
	}
	ticks := (cost*models.TicksPerUnit + size/2) / size
	if ticks < 1 {
		ticks = 1
	}
	if ticks > models.PriceTickBound {
		ticks = models.PriceTickBound
	}
	return ticks
}

// AddLiquidity deposits amounts proportional to current reserves (or sets
// the initial ratio for the first provider) and mints pro-rata shares
// (spec.md §4.3 "AddLiquidity / RemoveLiquidity"). amounts must already be
// in the pool's current ratio for every provider after the first; the
// caller (coordinator) is responsible for computing a ratio-matching
// amounts pair from a single-sided deposit request, same as the Swap caller
// is responsible for risk-gate approval.
func (e *Engine) AddLiquidity(providerID, marketID uuid.UUID, amounts [2]int64) (sharesMinted int64, err error) {
	p, err := e.poolFor(marketID)
	if err != nil {
		return 0, err
	}
	if amounts[0] <= 0 || amounts[1] <= 0 {
		return 0, fmt.Errorf("amm: %w", models.ErrInvalidSize)
	}

	if p.TotalShares == 0 {
		sharesMinted = initialShares(amounts[0], amounts[1])
	} else {
		// Pro-rata to the smaller of the two ratios, so a provider can never
		// mint more than their weakest-side deposit justifies.
		s0 := mulDiv(p.TotalShares, amounts[0], p.Reserves[0])
		s1 := mulDiv(p.TotalShares, amounts[1], p.Reserves[1])
		sharesMinted = min64(s0, s1)
	}
	if sharesMinted <= 0 {
		return 0, fmt.Errorf("amm: deposit too small to mint shares: %w", models.ErrInvalidSize)
	}

	for i, amt := range amounts {
		if err := e.ledger.Reserve(providerID, amt); err != nil {
			return 0, err
		}
		p.Reserves[i] += amt
	}
	p.TotalShares += sharesMinted
	p.ProviderShares[providerID] += sharesMinted
	return sharesMinted, nil
}

// RemoveLiquidity burns shares and returns the provider's pro-rata slice of
// current reserves, releasing the corresponding collateral back to the
// provider's available balance.
func (e *Engine) RemoveLiquidity(providerID, marketID uuid.UUID, shares int64) (amounts [2]int64, err error) {
	p, err := e.poolFor(marketID)
	if err != nil {
		return amounts, err
	}
	have := p.ProviderShares[providerID]
	if shares <= 0 || shares > have {
		return amounts, fmt.Errorf("amm: burn %d exceeds held shares %d: %w", shares, have, models.ErrInvalidSize)
	}

	amounts[0] = mulDiv(p.Reserves[0], shares, p.TotalShares)
	amounts[1] = mulDiv(p.Reserves[1], shares, p.TotalShares)

	for i, amt := range amounts {
		if amt > 0 {
			if err := e.ledger.Release(providerID, amt); err != nil {
				return amounts, err
			}
			p.Reserves[i] -= amt
		}
	}
	p.TotalShares -= shares
	p.ProviderShares[providerID] = have - shares
	if p.ProviderShares[providerID] == 0 {
		delete(p.ProviderShares, providerID)
	}
	return amounts, nil
}

// Snapshot exposes current pool state.
func (e *Engine) Snapshot(marketID uuid.UUID) (Snapshot, error) {
	p, err := e.poolFor(marketID)
	if err != nil {
		return Snapshot{}, err
	}
	return p.snapshot(), nil
}

func mulDiv(a, b, c int64) int64 {
	if c == 0 {
		return 0
	}
	num := int64(a) * int64(b)
	return num / c
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
