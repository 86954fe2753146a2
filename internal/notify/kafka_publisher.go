// Package notify delivers committed outbox events to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/applyflow/autofill-service/internal/models"
)

// SyncProducer is the subset of sarama.SyncProducer the publisher needs,
// kept narrow so tests can stub it.
type SyncProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
}

// NewSyncProducer builds a sarama sync producer suitable for the publisher:
// full acks and success returns, since outbox completion must only follow a
// confirmed write.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("notify: create kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaPublisher is the outbox handler for completion events: it forwards
// the payload to a Kafka topic, keyed for downstream deduplication.
type KafkaPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

func NewKafkaPublisher(producer SyncProducer, topic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With().Str("component", "kafka_publisher").Logger(),
	}
}

// Handle publishes the entry payload. The message key prefers the payload's
// natural message_id so redelivered triggers keep a stable key; the log ID
// is the fallback.
func (p *KafkaPublisher) Handle(_ context.Context, entry models.OutboxEntry) error {
	key := entry.LogID
	var natural struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(entry.Payload, &natural); err == nil && natural.MessageID != "" {
		key = natural.MessageID
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(entry.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/json")},
			{Key: []byte("kind"), Value: []byte(entry.Kind)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("notify: publish %s event %s: %w", entry.Kind, entry.LogID, err)
	}
	p.logger.Info().
		Str("log_id", entry.LogID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("event published")
	return nil
}
