package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig mirrors the throughput-relevant subset of pincex_unified's
// messaging.KafkaConfig: batching and acknowledgment knobs tuned for a
// high-fanout event stream, without the HTTP-facing consumer-group prefix
// concerns this core has no use for.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
}

func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "predictmarket.events",
		BatchSize:    500,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: 1,
	}
}

// KafkaPublisher publishes events keyed by market ID, so kafka-go's
// partitioner routes every event for a given market to the same partition —
// the mechanism that gives per-market causal order downstream, matching
// spec.md §4.4's ordering requirement without needing a single global
// writer.
type KafkaPublisher struct {
	logger *zap.Logger
	writer *kafka.Writer
}

func NewKafkaPublisher(logger *zap.Logger, cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		logger: logger,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		},
	}
}

func (p *KafkaPublisher) Publish(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.MarketID.String()),
		Value: payload,
		Time:  e.Timestamp,
	}); err != nil {
		p.logger.Warn("events: kafka publish failed", zap.String("market", e.MarketID.String()), zap.Error(err))
		return fmt.Errorf("events: kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
