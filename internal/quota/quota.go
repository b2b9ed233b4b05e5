// Package quota enforces the per-identity daily upload allowance.
package quota

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/domain"
	"github.com/your-org/eventsphere/internal/metrics"
)

// Count is the raw counter state returned by a Counter.
type Count struct {
	Allowed bool
	Used    int64
	TTL     time.Duration
}

// Counter is the durable store behind the tracker. Increment must check and
// increment atomically on the server side.
type Counter interface {
	Increment(ctx context.Context, key string, limit int64, window time.Duration) (Count, error)
	Peek(ctx context.Context, key string) (Count, error)
}

// Limits maps a role to its allowance per window.
type Limits map[domain.Role]int64

// DefaultLimits are used when no limits are configured.
var DefaultLimits = Limits{
	domain.RoleAttendee:  10,
	domain.RoleOrganizer: 50,
	domain.RoleAdmin:     999999,
}

// For returns the limit for role, falling back to the attendee tier.
func (l Limits) For(role domain.Role) int64 {
	if v, ok := l[role]; ok {
		return v
	}
	if v, ok := l[domain.RoleAttendee]; ok {
		return v
	}
	return DefaultLimits[domain.RoleAttendee]
}

type Config struct {
	Limits    Limits
	Window    time.Duration
	KeyPrefix string
}

// Decision is the outcome of a check-and-increment.
type Decision struct {
	Allowed   bool
	Limit     int64
	Used      int64
	Remaining int64
	ResetsIn  time.Duration
	// Degraded is set when the store failed and the upload was let through.
	Degraded bool
}

// Stats is a read-only view of an identity's allowance.
type Stats struct {
	Limit     int64         `json:"limit"`
	Used      int64         `json:"used"`
	Remaining int64         `json:"remaining"`
	ResetsIn  time.Duration `json:"-"`
}

type Tracker struct {
	cfg     Config
	counter Counter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewTracker(cfg Config, counter Counter, m *metrics.Metrics, logger *zap.Logger) *Tracker {
	if cfg.Limits == nil {
		cfg.Limits = DefaultLimits
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "upload_limit:"
	}
	return &Tracker{cfg: cfg, counter: counter, metrics: m, logger: logger.Named("quota")}
}

func (t *Tracker) key(userID string) string {
	return t.cfg.KeyPrefix + userID
}

// CheckAndIncrement consumes one upload slot for id. A refused attempt does
// not consume a slot. Store errors fail open.
func (t *Tracker) CheckAndIncrement(ctx context.Context, id domain.Identity) Decision {
	limit := t.cfg.Limits.For(id.Role)

	c, err := t.counter.Increment(ctx, t.key(id.UserID), limit, t.cfg.Window)
	if err != nil {
		t.logger.Warn("quota store unavailable, allowing upload",
			zap.String("user_id", id.UserID),
			zap.Error(err),
		)
		t.metrics.QuotaDegraded()
		return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetsIn: t.cfg.Window, Degraded: true}
	}

	d := Decision{
		Allowed:   c.Allowed,
		Limit:     limit,
		Used:      c.Used,
		Remaining: max(limit-c.Used, 0),
		ResetsIn:  c.TTL,
	}
	if !d.Allowed {
		t.logger.Info("upload quota exceeded",
			zap.String("user_id", id.UserID),
			zap.String("role", string(id.Role)),
			zap.Int64("limit", limit),
		)
	}
	return d
}

// Stats reports usage without consuming a slot. Store errors report the
// full allowance.
func (t *Tracker) Stats(ctx context.Context, id domain.Identity) Stats {
	limit := t.cfg.Limits.For(id.Role)
	c, err := t.counter.Peek(ctx, t.key(id.UserID))
	if err != nil {
		t.logger.Warn("read upload stats", zap.String("user_id", id.UserID), zap.Error(err))
		return Stats{Limit: limit, Remaining: limit, ResetsIn: t.cfg.Window}
	}
	resets := c.TTL
	if c.Used == 0 {
		resets = t.cfg.Window
	}
	return Stats{
		Limit:     limit,
		Used:      c.Used,
		Remaining: max(limit-c.Used, 0),
		ResetsIn:  resets,
	}
}
