package orderbook

import (
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLedger tracks reservations per user without any real balance limit,
// so tests can assert on Reserve/Release/SettleTrade call effects directly.
// SettleTrade consumes price*size of the buyer's reservation, as the real
// ledger does.
type fakeLedger struct {
	mu       sync.Mutex
	reserved map[uuid.UUID]int64
	settled  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{reserved: make(map[uuid.UUID]int64)}
}

func (f *fakeLedger) Reserve(user uuid.UUID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserved[user] += amount
	return nil
}

func (f *fakeLedger) Release(user uuid.UUID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserved[user] -= amount
	return nil
}

func (f *fakeLedger) SettleTrade(buyerID, sellerID uuid.UUID, marketID uuid.UUID, outcomeIndex int, priceTicks, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserved[buyerID] -= priceTicks * size
	f.settled++
	return nil
}

func newOrder(user uuid.UUID, side models.Side, kind models.OrderKind, price, size int64) *models.Order {
	return &models.Order{
		ID: uuid.New(), MarketID: uuid.New(), UserID: user,
		Side: side, Kind: kind, Price: price, Size: size,
		SubmitTime: time.Now(),
	}
}

func TestSubmitRestsLimitOrderWhenNothingCrosses(t *testing.T) {
	l := newFakeLedger()
	e := NewEngine(zap.NewNop(), l, Config{})
	o := newOrder(uuid.New(), models.Buy, models.KindLimit, 4000, 10)

	trades, err := e.Submit(o)
	require.NoError(t, err)
	require.Empty(t, trades)
	require.Equal(t, models.OrderOpen, o.State)
	require.Equal(t, int64(40000), l.reserved[o.UserID])
}

func TestSubmitMatchesCrossingLimitOrdersAtMakerPrice(t *testing.T) {
	l := newFakeLedger()
	e := NewEngine(zap.NewNop(), l, Config{})
	market := uuid.New()

	maker := newOrder(uuid.New(), models.Sell, models.KindLimit, 4000, 10)
	maker.MarketID = market
	_, err := e.Submit(maker)
	require.NoError(t, err)

	taker := newOrder(uuid.New(), models.Buy, models.KindLimit, 4500, 10)
	taker.MarketID = market
	trades, err := e.Submit(taker)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, int64(4000), trades[0].Price) // maker's price, not taker's
	require.Equal(t, models.OrderFilled, taker.State)
	require.Equal(t, models.OrderFilled, maker.State)
	require.Equal(t, 1, l.settled)
}

func TestSubmitRefundsPriceImprovementToTaker(t *testing.T) {
	l := newFakeLedger()
	e := NewEngine(zap.NewNop(), l, Config{})
	market := uuid.New()

	maker := newOrder(uuid.New(), models.Sell, models.KindLimit, 4000, 10)
	maker.MarketID = market
	_, err := e.Submit(maker)
	require.NoError(t, err)

	taker := newOrder(uuid.New(), models.Buy, models.KindLimit, 4500, 10)
	taker.MarketID = market
	_, err = e.Submit(taker)
	require.NoError(t, err)

	// Taker reserved 4500*10=45000 up front, but the trade cleared at 4000,
	// so 500*10=5000 should have been refunded, leaving 0 reserved (fully
	// filled, no residual).
	require.Equal(t, int64(0), l.reserved[taker.UserID])
}

func TestSubmitAllOrNoneMarketOrderRejectsWhenInsufficientLiquidity(t *testing.T) {
	l := newFakeLedger()
	e := NewEngine(zap.NewNop(), l, Config{MarketOrderPolicy: models.PolicyAllOrNone})
	market := uuid.New()

	maker := newOrder(uuid.New(), models.Sell, models.KindLimit, 4000, 5)
	maker.MarketID = market
	_, err := e.Submit(maker)
	require.NoError(t, err)

	taker := newOrder(uuid.New(), models.Buy, models.KindMarket, 0, 10)
	taker.MarketID = market
	_, err = e.Submit(taker)
	require.ErrorIs(t, err, models.ErrInsufficientLiquidity)
	require.Equal(t, models.OrderRejected, taker.State)
}

func TestSubmitPartialOKMarketOrderFillsWhatItCan(t *testing.T) {
	l := newFakeLedger()
	e := NewEngine(zap.NewNop(), l, Config{MarketOrderPolicy: models.PolicyPartialOK})
	market := uuid.New()

	maker := newOrder(uuid.New(), models.Sell, models.KindLimit, 4000, 5)
	maker.MarketID = market
	_, err := e.Submit(maker)
	require.NoError(t, err)

	taker := newOrder(uuid.New(), models.Buy, models.KindMarket, 0, 10)
	taker.MarketID = market
	trades, err := e.Submit(taker)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, int64(5), trades[0].Size)
	require.Equal(t, models.OrderPartiallyFilled, taker.State)
}

func TestSubmitSelfTradePreventionSkipsOwnRestingOrder(t *testing.T) {
	l := newFakeLedger()
	e := NewEngine(zap.NewNop(), l, Config{SelfTrade: SelfTradePrevent})
	market := uuid.New()
	user := uuid.New()

	maker := newOrder(user, models.Sell, models.KindLimit, 4000, 10)
	maker.MarketID = market
	_, err := e.Submit(maker)
	require.NoError(t, err)

	taker := newOrder(user, models.Buy, models.KindLimit, 4500, 10)
	taker.MarketID = market
	trades, err := e.Submit(taker)
	require.NoError(t, err)
	require.Empty(t, trades)
	require.Equal(t, models.OrderOpen, taker.State)
}

func TestCancelIsIdempotentOnTerminalOrder(t *testing.T) {
	l := newFakeLedger()
	e := NewEngine(zap.NewNop(), l, Config{})
	o := newOrder(uuid.New(), models.Buy, models.KindLimit, 4000, 10)
	_, err := e.Submit(o)
	require.NoError(t, err)

	res, err := e.Cancel(o)
	require.NoError(t, err)
	require.False(t, res.NoOp)
	require.Equal(t, models.OrderCancelled, o.State)

	res2, err := e.Cancel(o)
	require.NoError(t, err)
	require.True(t, res2.NoOp)
}

func TestCollateralBuyAndSell(t *testing.T) {
	require.Equal(t, int64(4000*10), Collateral(models.Buy, 4000, 10))
	require.Equal(t, int64((models.TicksPerUnit-4000)*10), Collateral(models.Sell, 4000, 10))
}
