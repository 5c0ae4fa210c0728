// Package risk implements C5, the pre-trade Risk Gate: a pure function of
// (user snapshot, market metadata, order) to Ok/typed-rejection, grounded on
// pincex_unified's internal/trading/risk.PositionManager — generalized from
// that package's single per-symbol limit check into the full five-step
// sequence spec.md §4.5 requires, and made allocation-light/IO-free so the
// Market Coordinator can call it inline before handing an order to an
// engine.
package risk

import (
	"fmt"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
)

// UserProfile is the subset of user state the gate needs, supplied by the
// caller — no database or network lookups happen inside this package.
type UserProfile struct {
	Accredited bool
}

// Input bundles everything Check needs to decide. ProjectedReservation is
// the collateral the engine would request for this order (computed by the
// caller using orderbook.Collateral or amm.Engine.Quote, since the Risk
// Gate itself has no engine-specific pricing logic); ProjectedPositionDelta
// is the signed share-count change this order would cause if fully filled.
type Input struct {
	Market                *models.Market
	User                  UserProfile
	Snapshot              models.Snapshot
	Order                 *models.Order
	ProjectedReservation  int64
	ProjectedPositionDelta int64
}

// Check runs the five ordered checks of spec.md §4.5, returning the first
// failure. A nil return means the order may proceed to the engine.
func Check(in Input) error {
	if in.Market == nil || !in.Market.IsTradable() {
		return fmt.Errorf("risk: %w", models.ErrMarketNotTradable)
	}

	if in.Market.AccreditedOnly && !in.User.Accredited {
		return fmt.Errorf("risk: %w", models.ErrNotAccredited)
	}

	if in.Order.Size <= 0 {
		return fmt.Errorf("risk: %w", models.ErrInvalidSize)
	}
	if in.Order.Kind == models.KindLimit && (in.Order.Price <= 0 || in.Order.Price >= models.TicksPerUnit) {
		return fmt.Errorf("risk: %w", models.ErrInvalidPrice)
	}

	if in.Market.PositionCap > 0 {
		current := currentPosition(in.Snapshot, in.Order.MarketID, in.Order.OutcomeIndex)
		projected := current + in.ProjectedPositionDelta
		if abs64(projected) > in.Market.PositionCap {
			return fmt.Errorf("risk: projected position %d exceeds cap %d: %w", projected, in.Market.PositionCap, models.ErrOverLimit)
		}
	}

	if in.Snapshot.Available < in.ProjectedReservation {
		return fmt.Errorf("risk: available %d below required reservation %d: %w", in.Snapshot.Available, in.ProjectedReservation, models.ErrInsufficientFunds)
	}

	return nil
}

// currentPosition scopes the per-user cap to one market: Snapshot carries
// positions across every market the user holds, so matching on OutcomeIndex
// alone would count a position in an unrelated market against this one.
func currentPosition(snap models.Snapshot, marketID uuid.UUID, outcomeIndex int) int64 {
	for _, p := range snap.Positions {
		if p.Key.MarketID == marketID && p.Key.OutcomeIndex == outcomeIndex {
			return p.Size
		}
	}
	return 0
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
