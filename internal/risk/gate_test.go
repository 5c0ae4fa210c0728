package risk

import (
	"testing"
	"time"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func activeMarket() *models.Market {
	return &models.Market{
		ID:       uuid.New(),
		State:    models.MarketActive,
		Outcomes: []string{"YES", "NO"},
	}
}

func limitOrder(size, price int64) *models.Order {
	return &models.Order{
		ID: uuid.New(), Kind: models.KindLimit, Side: models.Buy,
		Size: size, Price: price, SubmitTime: time.Now(),
	}
}

func TestCheckRejectsWhenMarketNotTradable(t *testing.T) {
	m := activeMarket()
	m.State = models.MarketPaused
	err := Check(Input{Market: m, Order: limitOrder(1, 5000)})
	require.ErrorIs(t, err, models.ErrMarketNotTradable)
}

func TestCheckRejectsUnaccreditedUser(t *testing.T) {
	m := activeMarket()
	m.AccreditedOnly = true
	err := Check(Input{Market: m, User: UserProfile{Accredited: false}, Order: limitOrder(1, 5000)})
	require.ErrorIs(t, err, models.ErrNotAccredited)
}

func TestCheckRejectsInvalidSize(t *testing.T) {
	err := Check(Input{Market: activeMarket(), Order: limitOrder(0, 5000)})
	require.ErrorIs(t, err, models.ErrInvalidSize)
}

func TestCheckRejectsInvalidPrice(t *testing.T) {
	err := Check(Input{Market: activeMarket(), Order: limitOrder(1, 0)})
	require.ErrorIs(t, err, models.ErrInvalidPrice)

	err = Check(Input{Market: activeMarket(), Order: limitOrder(1, models.TicksPerUnit)})
	require.ErrorIs(t, err, models.ErrInvalidPrice)
}

func TestCheckRejectsOverPositionCap(t *testing.T) {
	m := activeMarket()
	m.PositionCap = 100
	order := limitOrder(50, 5000)
	order.MarketID = m.ID
	err := Check(Input{
		Market:                 m,
		Order:                  order,
		ProjectedPositionDelta: 50,
		Snapshot: models.Snapshot{
			Available: 1_000_000,
			Positions: []models.Position{{Key: models.PositionKey{MarketID: m.ID, OutcomeIndex: 0}, Size: 60}},
		},
	})
	require.ErrorIs(t, err, models.ErrOverLimit)
}

func TestCheckIgnoresPositionsInOtherMarkets(t *testing.T) {
	m := activeMarket()
	m.PositionCap = 100
	order := limitOrder(50, 5000)
	order.MarketID = m.ID
	err := Check(Input{
		Market:                 m,
		Order:                  order,
		ProjectedPositionDelta: 50,
		Snapshot: models.Snapshot{
			Available: 1_000_000,
			// A large position in a different market must not count against
			// this market's cap.
			Positions: []models.Position{{Key: models.PositionKey{MarketID: uuid.New(), OutcomeIndex: 0}, Size: 1_000}},
		},
	})
	require.NoError(t, err)
}

func TestCheckRejectsInsufficientFunds(t *testing.T) {
	err := Check(Input{
		Market:               activeMarket(),
		Order:                limitOrder(10, 5000),
		ProjectedReservation: 1000,
		Snapshot:             models.Snapshot{Available: 500},
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
}

func TestCheckPassesWhenEverythingIsWithinLimits(t *testing.T) {
	err := Check(Input{
		Market:               activeMarket(),
		Order:                limitOrder(10, 5000),
		ProjectedReservation: 1000,
		Snapshot:             models.Snapshot{Available: 5000},
	})
	require.NoError(t, err)
}
