package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rewired-gh/marketpulse/internal/models"
)

// reversalEnvelope is the published form of a reversal notification.
type reversalEnvelope struct {
	ID          string                      `json:"id"`
	Type        string                      `json:"type"`
	PublishedAt int64                       `json:"published_at"`
	Reversal    models.ReversalNotification `json:"reversal"`
}

// Publisher sends reversal events to a topic, keyed by session id.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher connects a synchronous producer.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return NewPublisherWithProducer(producer, topic), nil
}

func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// NotifyReversal publishes n.
func (p *Publisher) NotifyReversal(n models.ReversalNotification) error {
	data, err := json.Marshal(reversalEnvelope{
		ID:          uuid.NewString(),
		Type:        "reversal",
		PublishedAt: time.Now().UnixMilli(),
		Reversal:    n,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reversal event: %w", err)
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(n.SessionID, 10)),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("failed to publish reversal event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
