package queue

import (
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/jobs"
	"github.com/your-org/eventsphere/pkg/bus"
	"github.com/your-org/eventsphere/pkg/config"
	"github.com/your-org/eventsphere/pkg/kafka"
)

// Role tells New whether the transport will also consume.
type Role int

const (
	RoleProducer Role = iota
	RoleConsumer
)

// New builds the transport selected by QUEUE_PROVIDER.
func New(cfg *config.Config, role Role, logger *zap.Logger) (jobs.Transport, error) {
	switch cfg.Queue.Provider {
	case "kafka":
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.JobsTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
			RequiredAcks: kafkago.RequireAll,
			MaxAttempts:  cfg.Kafka.Retries,
		})
		var consumerCfg *kafka.ConsumerConfig
		if role == RoleConsumer {
			consumerCfg = &kafka.ConsumerConfig{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.JobsTopic,
				GroupID: cfg.Kafka.GroupID,
			}
		}
		return NewKafka(producer, consumerCfg, logger), nil

	case "nats":
		b, err := bus.New(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		b.SetAckWait(cfg.NATS.AckWait)
		n := NewNATS(b, cfg.NATS.SubjectPrefix, cfg.NATS.Durable, logger)
		if err := b.EnsureStream(cfg.NATS.Stream, n.Subjects()); err != nil {
			b.Close()
			return nil, err
		}
		return n, nil

	case "memory":
		return jobs.NewMemoryTransport(0), nil

	default:
		return nil, fmt.Errorf("unsupported queue provider: %s", cfg.Queue.Provider)
	}
}
