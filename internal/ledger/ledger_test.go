package ledger

import (
	"testing"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDepositWithdrawReserveRelease(t *testing.T) {
	l := New(zap.NewNop(), true)
	user := uuid.New()

	require.NoError(t, l.Deposit(user, 1000))
	require.NoError(t, l.Reserve(user, 400))

	snap := l.Snapshot(user)
	require.Equal(t, int64(600), snap.Available)
	require.Equal(t, int64(400), snap.Reserved)

	require.NoError(t, l.Release(user, 400))
	snap = l.Snapshot(user)
	require.Equal(t, int64(1000), snap.Available)
	require.Equal(t, int64(0), snap.Reserved)

	require.NoError(t, l.Withdraw(user, 1000))
	require.Equal(t, int64(0), l.Snapshot(user).Available)
}

func TestReserveFailsWhenInsufficientFunds(t *testing.T) {
	l := New(zap.NewNop(), true)
	user := uuid.New()
	require.NoError(t, l.Deposit(user, 100))
	err := l.Reserve(user, 200)
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
}

func TestWithdrawFailsWhenInsufficientFunds(t *testing.T) {
	l := New(zap.NewNop(), true)
	user := uuid.New()
	require.NoError(t, l.Deposit(user, 50))
	require.ErrorIs(t, l.Withdraw(user, 100), models.ErrInsufficientFunds)
}

func TestReleaseBeyondReservedIsInvariantViolation(t *testing.T) {
	l := New(zap.NewNop(), true)
	user := uuid.New()
	require.NoError(t, l.Deposit(user, 100))
	err := l.Release(user, 10)
	require.ErrorIs(t, err, models.ErrInvariantViolation)
}

func TestSettleTradeMovesCollateralAndPositions(t *testing.T) {
	l := New(zap.NewNop(), true)
	buyer, seller := uuid.New(), uuid.New()
	market := uuid.New()

	require.NoError(t, l.Deposit(buyer, 100_000))
	require.NoError(t, l.Deposit(seller, 100_000))
	require.NoError(t, l.Reserve(buyer, 5_000*10))

	require.NoError(t, l.SettleTrade(buyer, seller, market, 0, 5_000, 10))

	buyerSnap := l.Snapshot(buyer)
	sellerSnap := l.Snapshot(seller)
	require.Equal(t, int64(0), buyerSnap.Reserved)
	require.Equal(t, int64(150_000), sellerSnap.Available)

	require.Len(t, buyerSnap.Positions, 1)
	require.Equal(t, int64(10), buyerSnap.Positions[0].Size)
	require.Len(t, sellerSnap.Positions, 1)
	require.Equal(t, int64(-10), sellerSnap.Positions[0].Size)
}

func TestSettleTradeConservesTotalBalance(t *testing.T) {
	l := New(zap.NewNop(), true)
	buyer, seller := uuid.New(), uuid.New()
	market := uuid.New()

	require.NoError(t, l.Deposit(buyer, 100_000))
	require.NoError(t, l.Deposit(seller, 100_000))
	before := l.TotalBalance()

	require.NoError(t, l.Reserve(buyer, 5_000*10))
	require.NoError(t, l.SettleTrade(buyer, seller, market, 0, 5_000, 10))

	require.Equal(t, before, l.TotalBalance())
}

func TestApplyResolutionPaysOnceAndEmptyRepeatChangesNothing(t *testing.T) {
	l := New(zap.NewNop(), true)
	winner := uuid.New()
	market := uuid.New()
	require.NoError(t, l.Deposit(winner, 1000))
	require.NoError(t, l.Reserve(winner, 0))

	payouts := []Payout{{UserID: winner, Amount: 1000}}
	l.ApplyResolution(market, payouts, map[uuid.UUID]int64{}, map[uuid.UUID]int64{})
	require.Equal(t, int64(2000), l.Snapshot(winner).Available)

	l.ApplyResolution(market, []Payout{}, map[uuid.UUID]int64{}, map[uuid.UUID]int64{})
	require.Equal(t, int64(2000), l.Snapshot(winner).Available)
}

func TestPositionsForMarketFiltersByMarketAndNonZero(t *testing.T) {
	l := New(zap.NewNop(), true)
	buyer, seller := uuid.New(), uuid.New()
	marketA, marketB := uuid.New(), uuid.New()

	require.NoError(t, l.Deposit(buyer, 100_000))
	require.NoError(t, l.Deposit(seller, 100_000))
	require.NoError(t, l.Reserve(buyer, 5_000*10))
	require.NoError(t, l.SettleTrade(buyer, seller, marketA, 0, 5_000, 10))

	positions := l.PositionsForMarket(marketA)
	require.Len(t, positions, 2)

	require.Empty(t, l.PositionsForMarket(marketB))
}
