package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/config"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to per-type topics, keyed by checkout request
// so every change of one session lands on the same partition.
type KafkaPublisher struct {
	writer        messageWriter
	statusTopic   string
	purchaseTopic string
	logger        *zap.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to publish events to Kafka",
					zap.Int("count", len(messages)),
					zap.Error(err))
			}
		},
	}
	return newKafkaPublisher(writer, cfg, logger)
}

func newKafkaPublisher(w messageWriter, cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:        w,
		statusTopic:   cfg.StatusTopic,
		purchaseTopic: cfg.PurchaseTopic,
		logger:        logger,
	}
}

func (p *KafkaPublisher) StatusChanged(ctx context.Context, e StatusChanged) error {
	return p.publish(ctx, p.statusTopic, e.CheckoutRequestID, newEnvelope(TypeStatusChanged, e))
}

func (p *KafkaPublisher) PurchaseCompleted(ctx context.Context, e PurchaseCompleted) error {
	return p.publish(ctx, p.purchaseTopic, e.CheckoutRequestID, newEnvelope(TypePurchaseCompleted, e))
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key string, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(env.Type)},
			{Key: "event-id", Value: []byte(env.ID)},
		},
	}); err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}

	p.logger.Debug("event published",
		zap.String("type", env.Type),
		zap.String("topic", topic),
		zap.String("key", key))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
