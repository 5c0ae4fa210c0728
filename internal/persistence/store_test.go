package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store, err := Open(db)
	require.NoError(t, err)
	return store
}

func TestJournalSinceOrdersAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	market := uuid.New()
	other := uuid.New()

	require.NoError(t, s.AppendCommand(ctx, market, 1, "submit", map[string]any{"a": 1}))
	require.NoError(t, s.AppendCommand(ctx, market, 2, "submit", map[string]any{"a": 2}))
	require.NoError(t, s.AppendCommand(ctx, other, 1, "submit", map[string]any{"a": 3}))

	entries, err := s.JournalSince(ctx, market, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(1), entries[0].Seq)
	require.Equal(t, uint64(2), entries[1].Seq)

	entries, err = s.JournalSince(ctx, market, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(2), entries[0].Seq)
}

func TestCheckpointPruneKeepsOnlyMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	market := uuid.New()

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, s.SaveCheckpoint(ctx, market, seq, map[string]any{"seq": seq}, 2))
	}

	latest, err := s.LatestCheckpoint(ctx, market)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, uint64(5), latest.Seq)

	var count int64
	require.NoError(t, s.db.Model(&Checkpoint{}).Where("market_id = ?", market).Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestLatestCheckpointNilWhenNoneExists(t *testing.T) {
	s := newTestStore(t)
	cp, err := s.LatestCheckpoint(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestRecordTradeAndSettlement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	market := uuid.New()

	require.NoError(t, s.RecordTrade(ctx, TradeRecord{
		TradeID: uuid.New(), MarketID: market, Price: 6000, Size: 10,
	}))
	require.NoError(t, s.RecordSettlement(ctx, SettlementAuditRecord{
		MarketID: market, UserID: uuid.New(), Outcome: 0, Position: 10, Payout: 1000,
	}))

	var trades int64
	require.NoError(t, s.db.Model(&TradeRecord{}).Count(&trades).Error)
	require.Equal(t, int64(1), trades)

	var settlements int64
	require.NoError(t, s.db.Model(&SettlementAuditRecord{}).Count(&settlements).Error)
	require.Equal(t, int64(1), settlements)
}
