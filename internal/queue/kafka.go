// Package queue provides the durable job transports.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/jobs"
	"github.com/your-org/eventsphere/pkg/kafka"
)

const (
	headerJobID   = "job_id"
	headerJobType = "job_type"
)

type kafkaPublisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
	Close(ctx context.Context) error
}

type kafkaConsumer interface {
	Run(ctx context.Context, fn func(context.Context, kafka.Message) error) error
	Close() error
}

// Kafka carries jobs on one topic keyed by job type, so every job of a type
// lands on the same partition in enqueue order.
type Kafka struct {
	producer    kafkaPublisher
	newConsumer func() kafkaConsumer
	logger      *zap.Logger
}

// NewKafka builds a transport. newConsumer may be nil for producer-only use.
func NewKafka(producer *kafka.Producer, consumerCfg *kafka.ConsumerConfig, logger *zap.Logger) *Kafka {
	k := &Kafka{producer: producer, logger: logger.Named("queue.kafka")}
	if consumerCfg != nil {
		cfg := *consumerCfg
		k.newConsumer = func() kafkaConsumer { return kafka.NewConsumer(cfg) }
	}
	return k
}

func (k *Kafka) Publish(ctx context.Context, job jobs.Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return k.producer.Publish(ctx, kafka.Message{
		Key:   []byte(job.Type),
		Value: value,
		Headers: map[string]string{
			headerJobID:   job.ID,
			headerJobType: string(job.Type),
		},
	})
}

// Consume joins the consumer group with its own reader. Undecodable records
// are logged and committed.
func (k *Kafka) Consume(ctx context.Context, fn func(context.Context, jobs.Job) error) error {
	if k.newConsumer == nil {
		return fmt.Errorf("kafka transport has no consumer configuration")
	}
	consumer := k.newConsumer()
	defer consumer.Close() //nolint:errcheck

	return consumer.Run(ctx, func(ctx context.Context, msg kafka.Message) error {
		var job jobs.Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			k.logger.Warn("skipping undecodable job record",
				zap.Int64("offset", msg.Offset),
				zap.String("job_id", msg.Headers[headerJobID]),
				zap.Error(err),
			)
			return nil
		}
		return fn(ctx, job)
	})
}

func (k *Kafka) Close(ctx context.Context) error {
	return k.producer.Close(ctx)
}
