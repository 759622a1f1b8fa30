package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"
)

// KafkaPublisher публикует события безопасности в Kafka через
// синхронного продюсера. Ключ сообщения — user_id, поэтому события
// одного пользователя попадают в одну партицию и сохраняют порядок.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher создаёт продюсера и проверяет доступность брокеров.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	const op = "events.kafka.NewKafkaPublisher"

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	// Идемпотентный продюсер требует не более одного запроса в полёте.
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
	}, nil
}

// Publish сериализует событие и синхронно отправляет его в топик.
func (p *KafkaPublisher) Publish(ctx context.Context, event SecurityEvent) error {
	const op = "events.kafka.Publish"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(payload),
	}
	if event.UserID != "" {
		msg.Key = sarama.StringEncoder(event.UserID)
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Close закрывает продюсера.
func (p *KafkaPublisher) Close() error {
	const op = "events.kafka.Close"

	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
