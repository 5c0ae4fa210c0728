package models

import "github.com/google/uuid"

// PositionKey is the composite key (user, market, outcome) for a Position.
type PositionKey struct {
	UserID       uuid.UUID
	MarketID     uuid.UUID
	OutcomeIndex int
}

// Position tracks a user's exposure to a single outcome of a single market.
// Size may be negative: per SPEC_FULL.md's Open Questions decision, short
// exposure is represented as a negative signed share count rather than a
// separate opposite-outcome bucket.
type Position struct {
	Key          PositionKey
	Size         int64 // signed share count
	CostBasis    int64 // ticks*shares, weighted-average cost of the open size
	RealizedPnL  int64 // ticks, accumulated at trade/settlement time
}

// LedgerAccount is the authoritative per-user balance row.
// Invariant L2: Reserved >= 0, Available >= 0.
type LedgerAccount struct {
	UserID    uuid.UUID
	Available int64 // ticks
	Reserved  int64 // ticks
}

// Total returns available+reserved.
func (a *LedgerAccount) Total() int64 {
	return a.Available + a.Reserved
}

// Snapshot is the read-only view returned by Ledger.Snapshot.
type Snapshot struct {
	UserID    uuid.UUID
	Available int64
	Reserved  int64
	Positions []Position
}
