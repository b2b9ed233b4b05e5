package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/eventsphere/internal/metrics"
)

// ErrUnknownType is reported for jobs whose type has no handler.
var ErrUnknownType = errors.New("unknown job type")

const payloadLogLimit = 256

type PoolParams struct {
	Transport   Transport
	Registry    *Registry
	Failures    *FailureLog
	Concurrency int
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Pool consumes jobs and dispatches them to registered handlers.
type Pool struct {
	transport   Transport
	registry    *Registry
	failures    *FailureLog
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewPool(p PoolParams) *Pool {
	if p.Concurrency <= 0 {
		p.Concurrency = 1
	}
	if p.Failures == nil {
		p.Failures = NewFailureLog()
	}
	return &Pool{
		transport:   p.Transport,
		registry:    p.Registry,
		failures:    p.Failures,
		concurrency: p.Concurrency,
		metrics:     p.Metrics,
		logger:      p.Logger.Named("worker"),
	}
}

// Failures exposes retained failed jobs.
func (p *Pool) Failures() *FailureLog {
	return p.failures
}

// Run starts the consumers and blocks until ctx is done or a transport
// fails.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		zap.Int("concurrency", p.concurrency),
		zap.Any("types", p.registry.Types()),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			err := p.transport.Consume(gctx, func(ctx context.Context, job Job) error {
				p.Dispatch(ctx, job)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consumer %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Dispatch runs one job to completion, including retries. It never panics
// and never returns an error: the outcome is logged, counted and, when the
// job is exhausted, kept in the failure log.
func (p *Pool) Dispatch(ctx context.Context, job Job) {
	reg, ok := p.registry.lookup(job.Type)
	if !ok {
		p.logger.Warn("dropping job with unknown type",
			zap.String("job_id", job.ID),
			zap.String("type", string(job.Type)),
		)
		p.metrics.JobProcessed(string(job.Type), "dropped", 0)
		return
	}

	policy := reg.policy
	maxAttempts := policy.MaxAttempts
	if job.MaxAttempts > 0 {
		maxAttempts = job.MaxAttempts
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialBackoff
	eb.MaxInterval = policy.MaxBackoff

	started := time.Now()
	attempts := job.Attempts
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		current := job
		current.Attempts = attempts
		if err := p.invoke(ctx, reg.handler, current); err != nil {
			if IsPermanent(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("job attempt failed, retrying",
				zap.String("job_id", job.ID),
				zap.String("type", string(job.Type)),
				zap.Int("attempt", attempts),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	took := time.Since(started)
	job.Attempts = attempts

	if err != nil {
		p.logger.Error("job failed",
			zap.String("job_id", job.ID),
			zap.String("type", string(job.Type)),
			zap.Int("attempts", attempts),
			zap.String("payload", summarize(job.Payload)),
			zap.Error(err),
		)
		p.failures.Add(job, err, policy.KeepFailed)
		p.metrics.JobProcessed(string(job.Type), "failed", took)
		return
	}

	p.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.Int("attempts", attempts),
		zap.Duration("took", took),
	)
	p.metrics.JobProcessed(string(job.Type), "completed", took)
}

func (p *Pool) invoke(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job handler panicked",
				zap.String("job_id", job.ID),
				zap.String("type", string(job.Type)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h.Handle(ctx, job)
}

func summarize(payload []byte) string {
	if len(payload) <= payloadLogLimit {
		return string(payload)
	}
	return string(payload[:payloadLogLimit]) + "..."
}
