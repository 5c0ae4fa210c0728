package persistence

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

// LocalSnapshotStore caches a market's latest checkpoint blob in an
// embedded BadgerDB keyed by market and sequence, a fast local read path
// that sits in front of SaveCheckpoint/LatestCheckpoint's SQL round trip.
// It is a cache, not a replacement: the SQL-backed Checkpoint table remains
// the durable record SPEC_FULL.md's recovery path relies on, and a
// LocalSnapshotStore miss simply falls back to it. Grounded on
// pincex_unified's internal/orderqueue.BadgerSnapshotStore, generalized from
// one global snapshot key to one key per market.
type LocalSnapshotStore struct {
	db *badger.DB
}

// OpenLocalSnapshotStore opens (or creates) a BadgerDB at path.
func OpenLocalSnapshotStore(path string) (*LocalSnapshotStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persistence: open local snapshot store: %w", err)
	}
	return &LocalSnapshotStore{db: db}, nil
}

func (s *LocalSnapshotStore) Close() error {
	return s.db.Close()
}

func snapshotKey(marketID uuid.UUID, seq uint64) []byte {
	return []byte(fmt.Sprintf("checkpoint:%s:%020d", marketID, seq))
}

// Save writes state under marketID's latest key. Badger's key ordering
// (lexicographic) combined with the zero-padded sequence in snapshotKey
// means the largest key Load finds under the market's prefix is always the
// highest seq.
func (s *LocalSnapshotStore) Save(ctx context.Context, marketID uuid.UUID, seq uint64, state []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(snapshotKey(marketID, seq), state).WithMeta(0)
		return txn.SetEntry(e)
	})
}

// Load returns the most recent cached snapshot for marketID, or
// (nil, 0, false) if none has been cached yet — the caller should then
// fall back to Store.LatestCheckpoint.
func (s *LocalSnapshotStore) Load(ctx context.Context, marketID uuid.UUID) ([]byte, uint64, bool) {
	prefix := []byte(fmt.Sprintf("checkpoint:%s:", marketID))
	var (
		latestKey []byte
		state     []byte
		found     bool
	)
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			if latestKey == nil || string(k) > string(latestKey) {
				latestKey = k
				found = true
			}
		}
		if !found {
			return nil
		}
		item, err := txn.Get(latestKey)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			state = append([]byte(nil), v...)
			return nil
		})
	})
	if !found {
		return nil, 0, false
	}
	var seq uint64
	if _, err := fmt.Sscanf(string(latestKey), fmt.Sprintf("checkpoint:%s:%%020d", marketID), &seq); err != nil {
		return nil, 0, false
	}
	return state, seq, true
}
