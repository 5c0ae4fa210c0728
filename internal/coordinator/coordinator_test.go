package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/predictmarket/internal/amm"
	"github.com/Aidin1998/predictmarket/internal/orderbook"
	"github.com/Aidin1998/predictmarket/internal/persistence"
	"github.com/Aidin1998/predictmarket/internal/risk"
	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLedger satisfies orderbook.Ledger, amm.Ledger, and coordinator.Ledger
// at once so a single fake can back every dependency the engines and the
// coordinator need in these tests.
type fakeLedger struct {
	mu        sync.Mutex
	available int64
	reserved  int64
	positions []models.Position
}

func newFakeLedger(available int64) *fakeLedger {
	return &fakeLedger{available: available}
}

func (f *fakeLedger) Reserve(user uuid.UUID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available -= amount
	f.reserved += amount
	return nil
}

func (f *fakeLedger) Release(user uuid.UUID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserved -= amount
	f.available += amount
	return nil
}

func (f *fakeLedger) SettleTrade(buyerID, sellerID, marketID uuid.UUID, outcomeIndex int, priceTicks, size int64) error {
	return nil
}

func (f *fakeLedger) PoolSettle(user, marketID uuid.UUID, outcomeIndex int, sharesDelta, collateralDelta int64) error {
	return nil
}

func (f *fakeLedger) Snapshot(user uuid.UUID) models.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.Snapshot{UserID: user, Available: f.available, Reserved: f.reserved, Positions: f.positions}
}

func (f *fakeLedger) PositionsForMarket(marketID uuid.UUID) []models.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Position
	for _, p := range f.positions {
		if p.Key.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out
}

// fakeQueue records every settlement task enqueued, standing in for
// *taskqueue.Queue in tests that exercise resolution wiring.
type fakeQueue struct {
	mu   sync.Mutex
	kind []string
}

func (q *fakeQueue) Enqueue(id uuid.UUID, kind string, payload any, priority models.TaskPriority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.kind = append(q.kind, kind)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.kind)
}

type fakeMarketStore struct {
	mu      sync.Mutex
	markets map[uuid.UUID]*models.Market
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{markets: map[uuid.UUID]*models.Market{}}
}

func (s *fakeMarketStore) Get(id uuid.UUID) (*models.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return nil, models.ErrUnknownMarket
	}
	return m, nil
}

func (s *fakeMarketStore) Save(m *models.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
	return nil
}

type fakeUserStore struct{}

func (fakeUserStore) Profile(user uuid.UUID) risk.UserProfile {
	return risk.UserProfile{Accredited: true}
}

func newTestCoordinator(t *testing.T, markets *fakeMarketStore, ledger *fakeLedger, journal Journal) *Coordinator {
	t.Helper()
	logger := zap.NewNop()
	book := orderbook.NewEngine(logger, ledger, orderbook.Config{})
	pool := amm.NewEngine(logger, ledger)
	return New(logger, ledger, markets, fakeUserStore{}, book, pool, nil, journal, nil)
}

func activeMarket() *models.Market {
	return &models.Market{ID: uuid.New(), State: models.MarketActive, Engine: models.EngineOrderBook, Outcomes: []string{"YES", "NO"}}
}

func TestSubmitOrderRestsOnEmptyBook(t *testing.T) {
	markets := newFakeMarketStore()
	m := activeMarket()
	require.NoError(t, markets.Save(m))
	ledger := newFakeLedger(1_000_000)
	c := newTestCoordinator(t, markets, ledger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	order := &models.Order{ID: uuid.New(), MarketID: m.ID, UserID: uuid.New(), Side: models.Buy, Kind: models.KindLimit, Price: 4000, Size: 10, SubmitTime: time.Now()}

	trades, err := c.SubmitOrder(ctx, order)
	require.NoError(t, err)
	require.Empty(t, trades)
	require.Equal(t, models.OrderOpen, order.State)
}

func TestSubmitOrderRejectedByRiskGateOnUntradableMarket(t *testing.T) {
	markets := newFakeMarketStore()
	m := activeMarket()
	m.State = models.MarketPaused
	require.NoError(t, markets.Save(m))
	ledger := newFakeLedger(1_000_000)
	c := newTestCoordinator(t, markets, ledger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	order := &models.Order{ID: uuid.New(), MarketID: m.ID, UserID: uuid.New(), Side: models.Buy, Kind: models.KindLimit, Price: 4000, Size: 10, SubmitTime: time.Now()}

	_, err := c.SubmitOrder(ctx, order)
	require.ErrorIs(t, err, models.ErrMarketNotTradable)
	require.Equal(t, models.OrderRejected, order.State)
}

func TestTransitionMarketFollowsValidStateMachine(t *testing.T) {
	markets := newFakeMarketStore()
	m := &models.Market{ID: uuid.New(), State: models.MarketDraft}
	require.NoError(t, markets.Save(m))
	ledger := newFakeLedger(0)
	c := newTestCoordinator(t, markets, ledger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.TransitionMarket(ctx, m.ID, models.MarketActive, 0))
	updated, err := markets.Get(m.ID)
	require.NoError(t, err)
	require.Equal(t, models.MarketActive, updated.State)

	err = c.TransitionMarket(ctx, m.ID, models.MarketDraft, 0)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestTransitionMarketToResolvedEnqueuesSettlementPerAffectedUser(t *testing.T) {
	markets := newFakeMarketStore()
	m := &models.Market{ID: uuid.New(), State: models.MarketActive}
	require.NoError(t, markets.Save(m))

	ledger := newFakeLedger(0)
	ledger.positions = []models.Position{
		{Key: models.PositionKey{MarketID: m.ID, UserID: uuid.New(), OutcomeIndex: 0}, Size: 10},
		{Key: models.PositionKey{MarketID: m.ID, UserID: uuid.New(), OutcomeIndex: 1}, Size: -10},
	}

	logger := zap.NewNop()
	book := orderbook.NewEngine(logger, ledger, orderbook.Config{})
	pool := amm.NewEngine(logger, ledger)
	queue := &fakeQueue{}
	c := New(logger, ledger, markets, fakeUserStore{}, book, pool, nil, nil, queue)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.TransitionMarket(ctx, m.ID, models.MarketResolved, 0))

	require.Equal(t, 2, queue.count())
}

func TestTransitionMarketRejectsReResolvingAResolvedMarket(t *testing.T) {
	markets := newFakeMarketStore()
	outcome := 0
	m := &models.Market{ID: uuid.New(), State: models.MarketResolved, Outcome: &outcome}
	require.NoError(t, markets.Save(m))
	ledger := newFakeLedger(0)
	c := newTestCoordinator(t, markets, ledger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.TransitionMarket(ctx, m.ID, models.MarketCancelled, 0)
	require.ErrorIs(t, err, models.ErrMarketAlreadyResolved)
}

// fakeJournal is a minimal in-memory Journal for recovery tests.
type fakeJournal struct {
	mu      sync.Mutex
	entries []persistence.JournalEntry
}

func (j *fakeJournal) AppendCommand(ctx context.Context, marketID uuid.UUID, seq uint64, kind string, payload any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	j.entries = append(j.entries, persistence.JournalEntry{MarketID: marketID, Seq: seq, Kind: kind, Payload: blob})
	return nil
}

func (j *fakeJournal) JournalSince(ctx context.Context, marketID uuid.UUID, afterSeq uint64) ([]persistence.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []persistence.JournalEntry
	for _, e := range j.entries {
		if e.MarketID == marketID && e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *fakeJournal) LatestCheckpoint(ctx context.Context, marketID uuid.UUID) (*persistence.Checkpoint, error) {
	return nil, nil
}

func TestJournalCommandThenRecoverReplaysSubmit(t *testing.T) {
	markets := newFakeMarketStore()
	m := activeMarket()
	require.NoError(t, markets.Save(m))
	ledger := newFakeLedger(1_000_000)
	journal := &fakeJournal{}
	c := newTestCoordinator(t, markets, ledger, journal)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	order := &models.Order{ID: uuid.New(), MarketID: m.ID, UserID: uuid.New(), Side: models.Buy, Kind: models.KindLimit, Price: 4000, Size: 10, SubmitTime: time.Now()}

	_, err := c.SubmitOrder(ctx, order)
	require.NoError(t, err)
	require.Len(t, journal.entries, 1)

	// Recovering against a second coordinator sharing the same journal
	// should replay the submit and rest a new order on the fresh book.
	c2 := newTestCoordinator(t, markets, newFakeLedger(1_000_000), journal)
	require.NoError(t, c2.Recover(ctx, []uuid.UUID{m.ID}))

	bids, _ := c2.book.Snapshot(m.ID, order.OutcomeIndex, 10)
	require.Len(t, bids, 1)
}
