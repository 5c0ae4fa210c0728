// Package persistence implements spec.md §6's "Persisted state layout":
// an append-only command journal for crash recovery, periodic checkpoints
// of book/pool/ledger state, and immutable trade/settlement audit logs.
// Grounded on the teacher's internal/bookkeeper.Service — same
// constructor-injected *gorm.DB, same Create/Find/transaction shape —
// generalized from bookkeeper's account/transaction tables to this
// package's journal/checkpoint/audit tables. SQLite (gorm.io/driver/sqlite)
// stands in for the teacher's Postgres driver so the module carries no
// external DB dependency for tests; Store accepts any gorm.Dialector.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JournalEntry is one accepted command for a market, appended before the
// command is applied (spec.md §6 "Append-only journal of accepted
// commands per market ... replay reconstructs books").
type JournalEntry struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID   uuid.UUID `gorm:"index:idx_journal_market_seq"`
	Seq        uint64    `gorm:"index:idx_journal_market_seq"`
	Kind       string
	Payload    []byte
	RecordedAt time.Time
}

// Checkpoint is a periodic snapshot of one market's engine state (spec.md
// §6 "Checkpoint of book state, AMM reserves, and Ledger balances ...
// recovery = load latest checkpoint + replay journal from its sequence").
type Checkpoint struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID    uuid.UUID `gorm:"index"`
	Seq         uint64
	StateBlob   []byte
	RecordedAt  time.Time
}

// TradeRecord is the immutable trade log (spec.md §6 "Immutable trade log
// and settlement audit log").
type TradeRecord struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	TradeID       uuid.UUID `gorm:"uniqueIndex"`
	MarketID      uuid.UUID `gorm:"index"`
	BuyerOrderID  uuid.UUID
	SellerOrderID uuid.UUID
	OutcomeIndex  int
	Price         int64
	Size          int64
	RecordedAt    time.Time
}

// SettlementAuditRecord is one payout line from a market resolution.
type SettlementAuditRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID   uuid.UUID `gorm:"index"`
	UserID     uuid.UUID
	Outcome    int
	Position   int64
	Payout     int64
	Released   int64
	RecordedAt time.Time
}

// Store is the persistence dependency the coordinator and settlement
// engine write through. All writes are append-only except checkpoints,
// which are pruned to the most recent N per market.
type Store struct {
	db *gorm.DB
}

// Open runs auto-migration for every table this package owns, the same
// bootstrap step the teacher's service constructors perform against their
// injected *gorm.DB before serving traffic.
func Open(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&JournalEntry{}, &Checkpoint{}, &TradeRecord{}, &SettlementAuditRecord{}); err != nil {
		return nil, fmt.Errorf("persistence: automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

// AppendCommand journals one accepted command before it is applied to the
// in-memory engine, so a crash between journal-write and engine-apply is
// safe to replay (replay is idempotent through the same Submit/Cancel/
// Transition entry points, per SPEC_FULL.md C.2).
func (s *Store) AppendCommand(ctx context.Context, marketID uuid.UUID, seq uint64, kind string, payload any) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("persistence: encode journal payload: %w", err)
	}
	entry := JournalEntry{MarketID: marketID, Seq: seq, Kind: kind, Payload: blob, RecordedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("persistence: append journal: %w", err)
	}
	return nil
}

// JournalSince returns every journal entry for marketID with sequence
// strictly greater than afterSeq, in sequence order — the replay set for
// recovery.
func (s *Store) JournalSince(ctx context.Context, marketID uuid.UUID, afterSeq uint64) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := s.db.WithContext(ctx).
		Where("market_id = ? AND seq > ?", marketID, afterSeq).
		Order("seq asc").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("persistence: journal since: %w", err)
	}
	return entries, nil
}

// SaveCheckpoint records a new checkpoint and prunes older ones for the
// market beyond keep, keeping the journal replay window bounded.
func (s *Store) SaveCheckpoint(ctx context.Context, marketID uuid.UUID, seq uint64, state any, keep int) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("persistence: encode checkpoint: %w", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&Checkpoint{MarketID: marketID, Seq: seq, StateBlob: blob, RecordedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("persistence: save checkpoint: %w", err)
		}
		var ids []uint64
		if err := tx.Model(&Checkpoint{}).
			Where("market_id = ?", marketID).
			Order("seq desc").
			Offset(keep).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("persistence: list stale checkpoints: %w", err)
		}
		if len(ids) > 0 {
			if err := tx.Delete(&Checkpoint{}, ids).Error; err != nil {
				return fmt.Errorf("persistence: prune checkpoints: %w", err)
			}
		}
		return nil
	})
}

// LatestCheckpoint returns the most recent checkpoint for marketID, or
// (nil, nil) if none exists yet.
func (s *Store) LatestCheckpoint(ctx context.Context, marketID uuid.UUID) (*Checkpoint, error) {
	var cp Checkpoint
	err := s.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("seq desc").
		First(&cp).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: latest checkpoint: %w", err)
	}
	return &cp, nil
}

// RecordTrade appends one fill to the immutable trade log.
func (s *Store) RecordTrade(ctx context.Context, t TradeRecord) error {
	t.RecordedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		return fmt.Errorf("persistence: record trade: %w", err)
	}
	return nil
}

// RecordSettlement appends one payout line to the immutable settlement
// audit log.
func (s *Store) RecordSettlement(ctx context.Context, r SettlementAuditRecord) error {
	r.RecordedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("persistence: record settlement: %w", err)
	}
	return nil
}
