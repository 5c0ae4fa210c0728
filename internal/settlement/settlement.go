// Package settlement implements C6: consuming resolution events, computing
// per-user payouts against the resolved outcome, and writing an immutable
// audit trail. Grounded on pincex_unified's
// internal/trading/settlement.SettlementEngine — same
// capture/net/clear-and-settle shape — but the teacher's netting and
// clearing stages are collapsed here because a prediction-market resolution
// pays out a position directly against a single resolved outcome rather
// than netting a stream of individual fills first.
//
// A winning share is claimed at full face value (models.TicksPerUnit ticks
// per share), matching the price grid orders trade on. But a matched
// order-book trade only ever leaves the LOSING side's collateral reserved —
// the winning side's own contribution to that trade left the ledger as
// plain Available cash for the counterparty the moment the trade settled
// (Ledger.SettleTrade). So the collateral actually recoverable at
// resolution time is capped at what losing positions still have reserved:
// claims are assessed at full face value but paid pro-rata out of that
// pool, never created from nothing. See DESIGN.md's "Payout scale" decision.
package settlement

import (
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/predictmarket/internal/ledger"
	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger is the balance dependency: enumerate positions for a market and
// apply the computed payouts. Settlement reuses ledger.Payout directly
// rather than declaring its own equivalent type.
type Ledger interface {
	PositionsForMarket(marketID uuid.UUID) []models.Position
	ReservedForUser(user uuid.UUID) int64
	ApplyResolution(marketID uuid.UUID, payouts []ledger.Payout, releaseReserved map[uuid.UUID]int64, forfeitReserved map[uuid.UUID]int64)
}

// AuditRecord is an immutable settlement line (spec.md §4.6 "emit an
// immutable audit record per payout").
type AuditRecord struct {
	MarketID  uuid.UUID
	UserID    uuid.UUID
	Outcome   int
	Position  int64
	Payout    int64
	Released  int64
	Forfeited int64
	Timestamp time.Time
}

// Engine settles resolved markets. Idempotence (spec.md §8 property 6) is
// tracked per (market, user): once a user's line has been paid, replays are
// no-ops.
type Engine struct {
	logger *zap.Logger
	ledger Ledger

	mu        sync.Mutex
	completed map[settledKey]bool
	audit     []AuditRecord
}

type settledKey struct {
	MarketID uuid.UUID
	UserID   uuid.UUID
}

func New(logger *zap.Logger, ledger Ledger) *Engine {
	return &Engine{logger: logger, ledger: ledger, completed: make(map[settledKey]bool)}
}

// SettleMarket computes and applies the full resolution payout batch for
// market (spec.md §4.6). Calling it again for an already-settled market is
// a no-op that changes nothing (S6's "running settlement a second time").
//
// Positions with Size < 0 are the order-book's model of a short (e.g. "sold
// YES"): they hold the reserved collateral this market's claims are funded
// from, and forfeit into a pool sized by how wrong they were. Positions with
// Size >= 0 are longs: their claim is assessed at full face value but paid
// out of that same pool, haircut pro-rata if the pool can't cover every
// claim in full (spec.md §8 property 1: this call never changes
// TotalBalance).
func (e *Engine) SettleMarket(market *models.Market) error {
	if market.State != models.MarketResolved || market.Outcome == nil {
		return fmt.Errorf("settlement: market not resolved: %w", models.ErrInvalidTransition)
	}

	positions := e.ledger.PositionsForMarket(market.ID)

	e.mu.Lock()
	defer e.mu.Unlock()

	type short struct {
		userID  uuid.UUID
		nominal int64 // forfeitable ticks at full haircut: reserved * fraction / TicksPerUnit
	}
	type long struct {
		userID  uuid.UUID
		nominal int64 // claim ticks at full face value: fraction * size
	}
	type settled struct {
		userID uuid.UUID
		size   int64
	}
	var shorts []short
	var longs []long
	var toRecord []settled
	now := time.Now().UTC()

	for _, p := range positions {
		key := settledKey{MarketID: market.ID, UserID: p.Key.UserID}
		if e.completed[key] {
			continue
		}
		e.completed[key] = true
		toRecord = append(toRecord, settled{userID: p.Key.UserID, size: p.Size})

		fraction := payoutShare(market, p.Key.OutcomeIndex)
		if p.Size < 0 {
			reserved := e.ledger.ReservedForUser(p.Key.UserID)
			shorts = append(shorts, short{userID: p.Key.UserID, nominal: reserved * fraction / models.TicksPerUnit})
		} else {
			longs = append(longs, long{userID: p.Key.UserID, nominal: fraction * p.Size})
		}
	}

	if len(toRecord) == 0 {
		return nil
	}

	var pool, totalClaim int64
	for _, s := range shorts {
		pool += s.nominal
	}
	for _, l := range longs {
		totalClaim += l.nominal
	}
	distributed := totalClaim
	if distributed > pool {
		distributed = pool
	}

	// Split distributed pro-rata across claims, and forfeit exactly
	// distributed out of the pool (never more, never less) so
	// sum(payouts) == sum(forfeitReserved) by construction. The last entry
	// in each pass absorbs the integer-division remainder so nothing is
	// left over or double-counted.
	payoutByUser := make(map[uuid.UUID]int64, len(longs))
	var paid int64
	for i, l := range longs {
		var amount int64
		if totalClaim > 0 {
			if i == len(longs)-1 {
				amount = distributed - paid
			} else {
				amount = l.nominal * distributed / totalClaim
			}
		}
		paid += amount
		payoutByUser[l.userID] += amount
	}

	releaseReserved := make(map[uuid.UUID]int64, len(shorts))
	forfeitReserved := make(map[uuid.UUID]int64, len(shorts))
	var forfeited int64
	for i, s := range shorts {
		var amount int64
		if pool > 0 {
			if i == len(shorts)-1 {
				amount = distributed - forfeited
			} else {
				amount = s.nominal * distributed / pool
			}
		}
		forfeited += amount
		forfeitReserved[s.userID] += amount
		releaseReserved[s.userID] += e.ledger.ReservedForUser(s.userID) - amount
	}

	payouts := make([]ledger.Payout, 0, len(payoutByUser))
	for user, amount := range payoutByUser {
		payouts = append(payouts, ledger.Payout{UserID: user, Amount: amount})
	}

	for _, r := range toRecord {
		e.audit = append(e.audit, AuditRecord{
			MarketID: market.ID, UserID: r.userID, Outcome: *market.Outcome,
			Position: r.size, Payout: payoutByUser[r.userID], Released: releaseReserved[r.userID],
			Forfeited: forfeitReserved[r.userID], Timestamp: now,
		})
	}

	e.ledger.ApplyResolution(market.ID, payouts, releaseReserved, forfeitReserved)
	e.logger.Info("settlement: market settled",
		zap.String("market", market.ID.String()),
		zap.Int("positions", len(toRecord)),
		zap.Int64("pool", pool), zap.Int64("distributed", distributed))
	return nil
}

// AuditTrail returns a copy of every audit record written so far. Intended
// for reconciliation and tests, not the hot path.
func (e *Engine) AuditTrail() []AuditRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AuditRecord, len(e.audit))
	copy(out, e.audit)
	return out
}

// payoutShare returns outcomeIndex's resolved value in ticks per share, on
// the same 0..TicksPerUnit grid a price ticks on: TicksPerUnit for a full
// winner, 0 for a full loser, and a linear interpolation between the two for
// a scalar market's complementary outcomes (spec.md §9 Open Questions).
func payoutShare(market *models.Market, outcomeIndex int) int64 {
	if market.Outcome == nil {
		return 0
	}
	switch market.Kind {
	case models.MarketScalar:
		lo, hi := market.ScalarLowerBound, market.ScalarUpperBound
		if hi <= lo {
			return 0
		}
		v := int64(*market.Outcome)
		frac := clamp((v-lo)*models.TicksPerUnit/(hi-lo), 0, models.TicksPerUnit)
		if outcomeIndex == 0 {
			return frac
		}
		return models.TicksPerUnit - frac
	default: // binary, categorical
		if *market.Outcome == outcomeIndex {
			return models.TicksPerUnit
		}
		return 0
	}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
