// Package events defines the per-market causal event stream (spec.md §6
// "Event stream") and its publishers, grounded on pincex_unified's
// internal/messaging.Producer/KafkaConfig shape: a narrow Publisher
// interface with an in-process fan-out implementation for tests and single-
// process deployments, plus a Kafka-backed implementation for the same
// interface using the teacher's segmentio/kafka-go stack.
package events

import (
	"time"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
)

// Kind names one of the event types spec.md §6 enumerates.
type Kind string

const (
	KindOrderAccepted      Kind = "order_accepted"
	KindOrderRejected      Kind = "order_rejected"
	KindTrade              Kind = "trade"
	KindOrderCancelled     Kind = "order_cancelled"
	KindMarketStateChanged Kind = "market_state_changed"
	KindMarketResolved     Kind = "market_resolved"
)

// Event is one entry in a market's causal stream. Seq is monotonic per
// market (spec.md §6 "monotonic per-market sequence numbers"), assigned by
// the market writer in package coordinator.
type Event struct {
	Kind      Kind
	MarketID  uuid.UUID
	Seq       uint64
	Timestamp time.Time

	Order          *models.Order
	Trade          *models.Trade
	RejectReason   string
	FromState      models.MarketState
	ToState        models.MarketState
	ResolvedOutcome int
}

// Publisher delivers events for a market in the order they're published.
// Implementations must preserve per-market causal order (spec.md §4.4);
// cross-market ordering is not guaranteed.
type Publisher interface {
	Publish(e Event) error
}

// Subscriber receives events pushed by an in-process Publisher.
type Subscriber func(Event)
