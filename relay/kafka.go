package relay

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaPublisher publishes events to Kafka topics through a synchronous
// producer. Messages are keyed by aggregate id, so all events of one
// aggregate land on one partition and keep their order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher creates a publisher over a sarama synchronous producer.
func NewKafkaPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish sends the encoded event to the topic named by subject.
func (p *KafkaPublisher) Publish(ctx context.Context, subject, aggregateID string, data []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: subject,
		Key:   sarama.StringEncoder(aggregateID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(aggregateHeader), Value: []byte(aggregateID)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka send: %w", err)
	}
	return nil
}

// Compile-time check.
var _ Publisher = (*KafkaPublisher)(nil)
