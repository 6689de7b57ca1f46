package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/guildxp/guildxp/config"
	"github.com/guildxp/guildxp/pkg/logger"
)

// MessageHandler processes one consumed message. A returned error sends
// the message to the dead-letter topic; retrying is the handler's job.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// DeadLetterer stores messages the handler gave up on.
type DeadLetterer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) (int32, int64, error)
}

// Consumer reads the events topic as a member of a consumer group.
// Messages of one partition are handled in order, one at a time.
type Consumer struct {
	group    sarama.ConsumerGroup
	handler  MessageHandler
	dlq      DeadLetterer
	dlqTopic string
	topics   []string
	log      *logger.Logger

	readyOnce sync.Once
	ready     chan struct{}
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewConsumer joins the group in cfg. dlq may be nil to drop failures
// after logging them.
func NewConsumer(cfg config.KafkaConfig, handler MessageHandler, dlq DeadLetterer, log *logger.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Version = sarama.V2_6_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true
	applyNetDefaults(sc)

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	return newConsumer(group, []string{cfg.Topics.Events}, handler, dlq, cfg.Topics.DLQ, log), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, dlq DeadLetterer, dlqTopic string, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{
		group:    group,
		handler:  handler,
		dlq:      dlq,
		dlqTopic: dlqTopic,
		topics:   topics,
		log:      log.WithComponent("kafka_consumer"),
		ready:    make(chan struct{}),
	}
}

// Start consumes in the background until ctx is done or Stop is called.
// It returns once the first group session is set up.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		handler := &groupHandler{consumer: c}
		for {
			if err := c.group.Consume(ctx, c.topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.log.Error("consume session ended", zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			select {
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.log.Warn("consumer group error", zap.Error(err))
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once the first session is set up.
func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

// Stop leaves the group and waits for in-flight messages.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	return nil
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.readyOnce.Do(func() { close(h.consumer.ready) })
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			h.consumer.process(session.Context(), message)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) {
	err := c.safeHandle(ctx, message)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Rebalance or shutdown: leave it to the next owner of the partition.
		return
	}

	log := c.log.WithFields(
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.ByteString("key", message.Key),
	)
	if c.dlq == nil || c.dlqTopic == "" {
		log.Error("message dropped", zap.Error(err))
		return
	}
	headers := map[string]string{
		HeaderError:        err.Error(),
		HeaderSourceTopic:  message.Topic,
		HeaderSourceOffset: strconv.FormatInt(message.Offset, 10),
	}
	dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, _, dlqErr := c.dlq.Produce(dctx, c.dlqTopic, message.Key, message.Value, headers); dlqErr != nil {
		log.Error("failed to dead-letter message", zap.NamedError("cause", err), zap.Error(dlqErr))
		return
	}
	log.Warn("message dead-lettered", zap.Error(err))
}

func (c *Consumer) safeHandle(ctx context.Context, message *sarama.ConsumerMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("message handler panic: %v", r)
		}
	}()
	return c.handler(ctx, message)
}
