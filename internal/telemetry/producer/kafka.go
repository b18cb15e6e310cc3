package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

const writeTimeout = 5 * time.Second

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaProducer creates a producer writing violations to topic. It returns
// nil when brokers or topic are empty; a nil producer's methods are no-ops.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaProducer{writer: writer, topic: topic}
}

// Message encodes v as a Kafka message keyed by tenant, so one tenant's
// violations stay ordered within a partition.
func Message(v *vdomain.Violation) (kafka.Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, err
	}
	key := v.TenantID
	if key == "" {
		key = "platform"
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  v.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(v.Kind)},
			{Key: "severity", Value: []byte(v.Severity)},
		},
	}, nil
}

// Emit writes v to the topic, bounded by a short timeout so a slow broker
// does not hold the caller.
func (p *KafkaProducer) Emit(ctx context.Context, v *vdomain.Violation) error {
	if p == nil || p.writer == nil || v == nil {
		return nil
	}
	msg, err := Message(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, msg)
}

// Close closes the Kafka writer. Safe to call multiple times.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
