package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/jobs"
)

type natsBus interface {
	Publish(ctx context.Context, subj string, data []byte, headers map[string]string) error
	Pull(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) error
	Close()
}

// NATS carries jobs on JetStream, one subject per job type under a common
// prefix.
type NATS struct {
	bus     natsBus
	prefix  string
	durable string
	logger  *zap.Logger
}

func NewNATS(bus natsBus, subjectPrefix, durable string, logger *zap.Logger) *NATS {
	return &NATS{bus: bus, prefix: subjectPrefix, durable: durable, logger: logger.Named("queue.nats")}
}

// Subject returns the subject carrying jobs of type t.
func (n *NATS) Subject(t jobs.Type) string {
	return n.prefix + "." + string(t)
}

// Subjects returns the wildcard covering every job type.
func (n *NATS) Subjects() string {
	return n.prefix + ".>"
}

func (n *NATS) Publish(ctx context.Context, job jobs.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return n.bus.Publish(ctx, n.Subject(job.Type), data, map[string]string{
		headerJobID:   job.ID,
		headerJobType: string(job.Type),
	})
}

func (n *NATS) Consume(ctx context.Context, fn func(context.Context, jobs.Job) error) error {
	return n.bus.Pull(ctx, n.Subjects(), n.durable, func(ctx context.Context, data []byte) error {
		var job jobs.Job
		if err := json.Unmarshal(data, &job); err != nil {
			n.logger.Warn("skipping undecodable job message", zap.Error(err))
			return nil
		}
		return fn(ctx, job)
	})
}

func (n *NATS) Close(context.Context) error {
	n.bus.Close()
	return nil
}
