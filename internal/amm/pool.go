// Package amm implements C3, the constant-product automated market maker
// for binary outcome markets (spec.md §4.3). It is grounded on the same
// collateral-through-Ledger pattern as internal/orderbook (it holds no mutex)
// rather than any single pincex_unified file — the teacher has no AMM, so
// this package follows internal/trading/orderbook's shape (an Engine owning
// per-market state, a narrow Ledger dependency, integer arithmetic only)
// generalized to the swap-pricing formula spec.md §4.3 specifies.
package amm

import (
	"fmt"
	"math/big"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
)

// Pool is one binary-outcome constant-product pool: k = Reserves[0]*Reserves[1].
// Only two-outcome pools are supported; spec.md §4.3 describes the AMM in
// exactly those terms ("for a binary market the pool holds (R_yes, R_no)"),
// and generalizing the swap formula to N>2 reserves is a materially
// different invariant (weighted geometric mean, Balancer-style) that the
// spec doesn't ask for — tracked as a non-goal in DESIGN.md.
type Pool struct {
	MarketID       uuid.UUID
	Reserves       [2]int64
	FeeBps         int64
	TotalShares    int64
	ProviderShares map[uuid.UUID]int64
}

func newPool(marketID uuid.UUID, feeBps int64) *Pool {
	return &Pool{
		MarketID:       marketID,
		FeeBps:         feeBps,
		ProviderShares: make(map[uuid.UUID]int64),
	}
}

// K is the constant-product invariant.
func (p *Pool) K() int64 {
	return p.Reserves[0] * p.Reserves[1]
}

// Snapshot is a read-only view of pool state for API consumers.
type Snapshot struct {
	MarketID    uuid.UUID
	Reserves    [2]int64
	FeeBps      int64
	TotalShares int64
}

func (p *Pool) snapshot() Snapshot {
	return Snapshot{MarketID: p.MarketID, Reserves: p.Reserves, FeeBps: p.FeeBps, TotalShares: p.TotalShares}
}

// quoteBuy solves (Ri - size)*(Rj + x*(1-fee)) = k for x, the input required
// to buy size shares of outcome i, rounding up in favor of the pool
// (spec.md §4.3). i and j are the bought and unbought reserve indices.
//
//	x = Rj * size * 10000 / ((Ri - size) * (10000 - feeBps))
//
// computed in big.Int to avoid overflow for large reserves, then checked to
// fit back into int64.
func quoteBuy(ri, rj, size, feeBps int64) (int64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("amm: %w", models.ErrInvalidSize)
	}
	if ri <= size {
		return 0, fmt.Errorf("amm: pool reserve %d <= requested size %d: %w", ri, size, models.ErrInsufficientLiquidity)
	}

	num := new(big.Int).Mul(big.NewInt(rj), big.NewInt(size))
	num.Mul(num, big.NewInt(models.TicksPerUnit))

	denom := new(big.Int).Mul(big.NewInt(ri-size), big.NewInt(models.TicksPerUnit-feeBps))
	if denom.Sign() <= 0 {
		return 0, fmt.Errorf("amm: non-positive denominator: %w", models.ErrInvalidPrice)
	}

	x := ceilDiv(num, denom)
	if !x.IsInt64() {
		return 0, fmt.Errorf("amm: quote overflow")
	}
	return x.Int64(), nil
}

// quoteSell solves (Ri + size)*(Rj - x) = k for x, the output paid out for
// selling size shares of outcome i back into the pool, rounding down in
// favor of the pool on both the pre-fee amount and the fee deduction:
//
//	x0 = Rj * size / (Ri + size)
//	x  = x0 * (10000 - feeBps) / 10000
func quoteSell(ri, rj, size, feeBps int64) (int64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("amm: %w", models.ErrInvalidSize)
	}

	num := new(big.Int).Mul(big.NewInt(rj), big.NewInt(size))
	denom := big.NewInt(ri + size)
	x0 := new(big.Int).Quo(num, denom)

	x0.Mul(x0, big.NewInt(models.TicksPerUnit-feeBps))
	x := new(big.Int).Quo(x0, big.NewInt(models.TicksPerUnit))

	if !x.IsInt64() {
		return 0, fmt.Errorf("amm: quote overflow")
	}
	payout := x.Int64()
	if payout >= rj {
		return 0, fmt.Errorf("amm: payout %d would drain pool reserve %d: %w", payout, rj, models.ErrInsufficientLiquidity)
	}
	return payout, nil
}

func ceilDiv(num, denom *big.Int) *big.Int {
	q, r := new(big.Int), new(big.Int)
	q.DivMod(num, denom, r)
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// initialShares is sqrt(Reserves[0]*Reserves[1]) for the first liquidity
// provider (spec.md §4.3 "receives sqrt(prod(reserves)) shares").
func initialShares(r0, r1 int64) int64 {
	k := new(big.Int).Mul(big.NewInt(r0), big.NewInt(r1))
	return new(big.Int).Sqrt(k).Int64()
}
