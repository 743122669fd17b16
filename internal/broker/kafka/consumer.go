package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r          messageReader
	logger     *otelzap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithBackoff bounds the wait between attempts on a failing message.
func WithBackoff(initial, limit time.Duration) ConsumerOption {
	return func(c *Consumer) { c.minBackoff, c.maxBackoff = initial, limit }
}

// WithLogger logs handler and commit retries.
func WithLogger(logger *otelzap.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = logger }
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg), opts...)
}

func newConsumerWithReader(r messageReader, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		r:          r,
		logger:     otelzap.New(zap.NewNop()),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands every message to handler and commits it once handled. A
// failing message is retried with backoff and never skipped, so the offset
// only moves past messages the handler accepted. Consume returns when ctx
// is done or a fetch fails.
func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := c.retry(ctx, msg, "handle", func() error { return handler(ctx, msg.Key, msg.Value) }); err != nil {
			return err
		}
		if err := c.retry(ctx, msg, "commit", func() error { return c.r.CommitMessages(ctx, msg) }); err != nil {
			return err
		}
	}
}

func (c *Consumer) retry(ctx context.Context, msg kafka.Message, op string, fn func() error) error {
	backoff := c.minBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		c.logger.Ctx(ctx).Warn("Message "+op+" failed, retrying",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%s message at offset %d", op, msg.Offset)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}
