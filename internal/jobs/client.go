package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/metrics"
)

// Option tweaks a single enqueue.
type Option func(*Job)

// WithMaxAttempts overrides the type policy for this job.
func WithMaxAttempts(n int) Option {
	return func(j *Job) { j.MaxAttempts = n }
}

// WithID sets an explicit job id.
func WithID(id string) Option {
	return func(j *Job) { j.ID = id }
}

// Client enqueues jobs. It never waits for a worker.
type Client struct {
	transport Transport
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewClient(t Transport, m *metrics.Metrics, logger *zap.Logger) *Client {
	return &Client{transport: t, metrics: m, logger: logger.Named("jobs")}
}

// Enqueue marshals payload and hands the job to the transport.
func (c *Client) Enqueue(ctx context.Context, t Type, payload any, opts ...Option) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return c.EnqueueRaw(ctx, t, raw, opts...)
}

// EnqueueRaw enqueues an already encoded payload.
func (c *Client) EnqueueRaw(ctx context.Context, t Type, payload json.RawMessage, opts ...Option) (string, error) {
	job := Job{
		ID:         uuid.NewString(),
		Type:       t,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&job)
	}

	if err := c.transport.Publish(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", t, err)
	}
	c.metrics.JobEnqueued(string(t))
	c.logger.Debug("job enqueued", zap.String("job_id", job.ID), zap.String("type", string(t)))
	return job.ID, nil
}

// Close releases the transport.
func (c *Client) Close(ctx context.Context) error {
	return c.transport.Close(ctx)
}
