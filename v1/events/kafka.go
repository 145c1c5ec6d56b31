package events

import (
	"context"

	sarama "github.com/IBM/sarama"
)

// DefaultKafkaTopic is used when no topic is configured.
const DefaultKafkaTopic = "aside-events"

// Kafka publishes events to a topic, keyed by cache key so all events of a
// key land on one partition. It does not implement Watcher.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafka connects a synchronous producer to brokers. cfg may be nil.
func NewKafka(brokers []string, topic string, cfg *sarama.Config) (*Kafka, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaProducer(p, topic), nil
}

// NewKafkaProducer wraps an existing producer.
func NewKafkaProducer(p sarama.SyncProducer, topic string) *Kafka {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &Kafka{producer: p, topic: topic}
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(ev)
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.Key),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

// Close closes the producer.
func (k *Kafka) Close() error {
	return k.producer.Close()
}
