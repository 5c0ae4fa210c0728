// Package models holds the domain types shared across the matching and
// settlement core: markets, orders, trades, positions, and the ledger's
// account row. These are plain data types; behaviour lives in the owning
// component packages (ledger, orderbook, amm, coordinator).
package models

import (
	"time"

	"github.com/google/uuid"
)

// MarketKind distinguishes the outcome structure of a market.
type MarketKind string

const (
	MarketBinary      MarketKind = "binary"
	MarketCategorical MarketKind = "categorical"
	MarketScalar      MarketKind = "scalar"
)

// EngineKind selects which matching engine a market is routed to.
type EngineKind string

const (
	EngineOrderBook EngineKind = "order-book"
	EngineAMM       EngineKind = "amm"
)

// MarketState is the lifecycle state of a market (spec.md §4.3).
type MarketState string

const (
	MarketDraft     MarketState = "draft"
	MarketActive    MarketState = "active"
	MarketPaused    MarketState = "paused"
	MarketResolved  MarketState = "resolved"
	MarketCancelled MarketState = "cancelled"
)

// Market is the authoritative description of a tradable prediction market.
// Outcome-set is indexed 0..N-1; binary markets always have exactly two
// outcomes, conventionally {YES, NO} at indices {0, 1}.
type Market struct {
	ID         uuid.UUID
	Kind       MarketKind
	Engine     EngineKind
	State      MarketState
	Outcomes   []string
	PositionCap int64 // per-user, per-outcome share cap; 0 = unlimited
	AccreditedOnly bool
	CloseTime  time.Time
	ResolverID uuid.UUID
	Outcome    *int // resolved outcome index, nil until resolved
	// ScalarLowerBound/ScalarUpperBound bound the payoff curve for scalar
	// markets (linear interpolation, see SPEC_FULL.md Open Questions).
	ScalarLowerBound int64
	ScalarUpperBound int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsTradable reports whether the market currently accepts new orders.
func (m *Market) IsTradable() bool {
	return m.State == MarketActive
}

// OutcomeCount returns the number of distinct outcomes.
func (m *Market) OutcomeCount() int {
	return len(m.Outcomes)
}

// MarketSpec is the input to CreateMarket (spec.md §6 Command API).
type MarketSpec struct {
	Kind             MarketKind
	Engine           EngineKind
	Outcomes         []string
	PositionCap      int64
	AccreditedOnly   bool
	CloseTime        time.Time
	ResolverID       uuid.UUID
	ScalarLowerBound int64
	ScalarUpperBound int64
}
