// Package kafka wraps the franz-go producer used for the external bulletin
// (checkpoint publication) and audit event fan-out. The broker side is a
// collaborator; this package only guarantees produce-or-error semantics.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"veil/pkg/platform/circuit"
)

// Topics used by the engine.
const (
	TopicCheckpoints = "veil.checkpoints.v1"
	TopicAuditTrail  = "veil.audit.v1"
)

// Publisher is a thin synchronous producer. A circuit breaker sheds
// publishes during broker outages so request paths never queue behind a
// sick connection; every publish here is a copy of durable trail state.
type Publisher struct {
	client  *kgo.Client
	breaker *circuit.Breaker
	dropped atomic.Uint64
	logger  *slog.Logger
}

// probeInterval is how many shed publishes pass between recovery probes
// while the circuit is open.
const probeInterval = 16

// NewPublisher connects to the brokers and ensures the engine's topics
// exist. Returns nil when no brokers are configured (publication disabled).
func NewPublisher(ctx context.Context, brokers []string, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, TopicCheckpoints, TopicAuditTrail)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create topics: %w", err)
	}
	for _, res := range resp.Sorted() {
		if res.Err != nil && !kgo.IsRetryableBrokerErr(res.Err) {
			// Already-exists is the normal case on restart.
			logger.Debug("topic create result", "topic", res.Topic, "err", res.Err)
		}
	}

	return &Publisher{
		client:  client,
		breaker: circuit.New("kafka-bulletin"),
		logger:  logger,
	}, nil
}

// Publish produces one record synchronously. Callers treat errors as
// best-effort signals; durable state already lives in the trail store.
// While the breaker is open, publishes are dropped and probed at a low rate
// by the breaker's success threshold.
func (p *Publisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if p == nil {
		return nil
	}
	if p.breaker.IsOpen() {
		// Shed most traffic while open, letting every probeInterval-th
		// publish through so the breaker can observe recovery.
		if p.dropped.Add(1)%probeInterval != 0 {
			return nil
		}
	}
	return p.produce(ctx, topic, key, value)
}

func (p *Publisher) produce(ctx context.Context, topic, key string, value []byte) error {
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.logger.Warn("bulletin circuit opened", "breaker", p.breaker.Name())
		}
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.Info("bulletin circuit closed", "breaker", p.breaker.Name())
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() {
	if p != nil {
		p.client.Close()
	}
}
