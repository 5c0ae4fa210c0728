package main

import (
	"os"
	"sync"

	"github.com/Aidin1998/predictmarket/internal/risk"
	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// inMemoryMarketStore is a minimal coordinator.MarketStore for running the
// core outside of a full deployment (e.g. local development, integration
// tests against the binary). A real deployment backs this with the same
// gorm.DB the persistence package already uses.
type inMemoryMarketStore struct {
	mu      sync.RWMutex
	markets map[uuid.UUID]*models.Market
}

func newInMemoryMarketStore() *inMemoryMarketStore {
	return &inMemoryMarketStore{markets: make(map[uuid.UUID]*models.Market)}
}

func (s *inMemoryMarketStore) Get(id uuid.UUID) (*models.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return nil, models.ErrUnknownMarket
	}
	return m, nil
}

func (s *inMemoryMarketStore) Save(m *models.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
	return nil
}

func (s *inMemoryMarketStore) allIDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	return ids
}

// inMemoryUserStore is a minimal coordinator.UserStore stand-in; a real
// deployment resolves this against the identities service the way the
// teacher's api.NewServer wires identitiesSvc into the trading service.
type inMemoryUserStore struct {
	mu         sync.RWMutex
	accredited map[uuid.UUID]bool
}

func newInMemoryUserStore() *inMemoryUserStore {
	return &inMemoryUserStore{accredited: make(map[uuid.UUID]bool)}
}

func (s *inMemoryUserStore) Profile(user uuid.UUID) risk.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return risk.UserProfile{Accredited: s.accredited[user]}
}

// newOptionalRedisClient returns a Redis client if PREDICTMARKET_REDIS_ADDR
// is set, otherwise nil — the cache then runs L1-only, per cache.New's
// documented degraded mode.
func newOptionalRedisClient() redis.UniversalClient {
	addr := os.Getenv("PREDICTMARKET_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}
