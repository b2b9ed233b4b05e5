package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type ConsumerConfig struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int
	MaxBytes       int
	CommitInterval time.Duration
}

// Consumer reads a topic as a member of a consumer group and commits each
// message after its handler returns.
type Consumer struct {
	reader *kafkago.Reader
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       cfg.MinBytes,
			MaxBytes:       cfg.MaxBytes,
			CommitInterval: cfg.CommitInterval,
			StartOffset:    kafkago.FirstOffset,
		}),
	}
}

// Run fetches messages until ctx is done. The handler context carries the
// producer's trace context. A handler error stops the loop without
// committing, so the message is redelivered.
func (c *Consumer) Run(ctx context.Context, fn func(context.Context, Message) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		headers := fromRecordHeaders(msg.Headers)
		if err := fn(extractTrace(ctx, headers), Message{Key: msg.Key, Value: msg.Value, Headers: headers, Offset: msg.Offset}); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
