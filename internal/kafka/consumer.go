// Package kafka connects the engine to the KeyZone and market signal topics
// and publishes reversal events.
package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/rewired-gh/marketpulse/internal/logger"
)

// Consumer wraps a Sarama consumer group feeding a Board.
type Consumer struct {
	client       sarama.ConsumerGroup
	keyZoneTopic string
	signalsTopic string
	board        *Board
	ready        chan bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewConsumer creates a consumer group over the two input topics.
func NewConsumer(brokers []string, groupID, keyZoneTopic, signalsTopic string, board *Board) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Version = sarama.V2_8_0_0

	client, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return &Consumer{
		client:       client,
		keyZoneTopic: keyZoneTopic,
		signalsTopic: signalsTopic,
		board:        board,
		ready:        make(chan bool),
	}, nil
}

// Start begins consuming and returns once the first session is set up.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	topics := []string{c.keyZoneTopic, c.signalsTopic}

	ready := c.ready
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{consumer: c, ready: ready}
			if err := c.client.Consume(ctx, topics, handler); err != nil {
				logger.Error("Kafka consumer error: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
			ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		logger.Info("Kafka consumer ready (topics: %s, %s)", c.keyZoneTopic, c.signalsTopic)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the consumer gracefully.
func (c *Consumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.client.Close()
}

// dispatch routes a message to the board. Malformed messages are dropped.
func (c *Consumer) dispatch(topic string, value []byte) {
	var err error
	switch topic {
	case c.keyZoneTopic:
		err = c.board.HandleKeyZone(value)
	case c.signalsTopic:
		err = c.board.HandleSignals(value)
	default:
		return
	}
	if err != nil {
		logger.Warn("Dropping message from %s: %v", topic, err)
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	select {
	case <-h.ready:
	default:
		close(h.ready)
	}
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.dispatch(message.Topic, message.Value)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
