package models

import "github.com/google/uuid"

// AMMPool is the constant-product pool backing an AMM-engine market.
// Reserves holds one entry per outcome; FeeBps is the swap fee in basis
// points (1bp = 0.01%), applied to the non-pool side of a swap.
type AMMPool struct {
	MarketID       uuid.UUID
	Reserves       []int64 // one per outcome
	FeeBps         int64
	TotalShares    int64 // liquidity-provider shares outstanding
	ProviderShares map[uuid.UUID]int64
}

// K returns the constant-product invariant, the product of all reserves.
func (p *AMMPool) K() int64 {
	k := int64(1)
	for _, r := range p.Reserves {
		k *= r
	}
	return k
}
