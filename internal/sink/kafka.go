package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Header values telling consumers how to treat a record.
const (
	OpPublish = "publish"
	OpCache   = "cache"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes every message to one Kafka topic keyed by the market topic.
// Keying keeps an instrument's messages in one partition, in order, and
// lets a compacted topic serve as the latest-value cache.
type Kafka struct {
	writer kafkaWriter
}

func NewKafka(writer kafkaWriter) *Kafka {
	return &Kafka{writer: writer}
}

// NewKafkaWriter creates a hash-balanced writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func (k *Kafka) Publish(ctx context.Context, topic string, payload []byte) error {
	return k.write(ctx, OpPublish, topic, payload, 0)
}

func (k *Kafka) SetCache(ctx context.Context, topic string, payload []byte, ttl time.Duration) error {
	return k.write(ctx, OpCache, topic, payload, ttl)
}

func (k *Kafka) write(ctx context.Context, op, topic string, payload []byte, ttl time.Duration) error {
	msg := kafka.Message{
		Key:   []byte(topic),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "op", Value: []byte(op)},
		},
	}
	if ttl > 0 {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "ttl", Value: []byte(ttl.String())})
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka %s %s: %w", op, topic, err)
	}
	return nil
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
