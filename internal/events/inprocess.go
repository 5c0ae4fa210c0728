package events

import (
	"sync"

	"go.uber.org/zap"
)

// InProcessBus fans out events to subscribers synchronously in the calling
// (market-writer) goroutine, which is what preserves per-market causal
// order: a market's writer publishes serially, so subscribers see exactly
// that order for that market.
type InProcessBus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs []Subscriber
}

func NewInProcessBus(logger *zap.Logger) *InProcessBus {
	return &InProcessBus{logger: logger}
}

func (b *InProcessBus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

func (b *InProcessBus) Publish(e Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(e)
	}
	return nil
}
