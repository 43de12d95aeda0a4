package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisherConfig configures the Kafka event transport.
type KafkaPublisherConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic receives every lifecycle event, keyed by deployment id so a
	// deployment's events stay ordered within a partition.
	Topic string

	// MaxAttempts bounds produce retries on transient errors. Defaults to 3.
	MaxAttempts int

	// WriteTimeout is passed to the Kafka writer as its write timeout.
	// Defaults to 10s. Each produce attempt is also cut off after 5s.
	WriteTimeout time.Duration
}

// KafkaPublisher forwards bus events to a Kafka topic. It is a transport:
// failures are logged and dropped, never surfaced back into the controller.
type KafkaPublisher struct {
	writer      *kafka.Writer
	maxAttempts int
	unsubscribe func()
}

// NewKafkaPublisher constructs the publisher.
func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaPublisher{
		writer:      w,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Attach subscribes the publisher to bus. Delivery runs on the subscriber
// goroutine the bus provides.
func (p *KafkaPublisher) Attach(bus *Bus) {
	p.unsubscribe = bus.Subscribe(func(ev Event) {
		if err := p.publish(context.Background(), ev); err != nil {
			log.Printf("[events.kafka] drop %s for %s: %v", ev.Type, ev.DeploymentID, err)
		}
	})
}

func (p *KafkaPublisher) publish(ctx context.Context, ev Event) error {
	value, err := marshalEnvelope(ev)
	if err != nil {
		return err
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.writer.WriteMessages(attemptCtx, kafka.Message{
			Key:   []byte(ev.DeploymentID),
			Value: value,
			Time:  ev.Timestamp,
		})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// Close detaches from the bus and shuts the writer down.
func (p *KafkaPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
