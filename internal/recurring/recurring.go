// Package recurring extends recurring event series with their next
// occurrence.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/domain"
	"github.com/your-org/eventsphere/internal/metrics"
	"github.com/your-org/eventsphere/internal/store"
)

// EventStore is the persistence the sweep needs.
type EventStore interface {
	ListRecurringParents(ctx context.Context) ([]domain.Event, error)
	// LatestInSeries returns the instance of parentID with the latest start,
	// or store.ErrNotFound when the series has no instances yet.
	LatestInSeries(ctx context.Context, parentID string) (*domain.Event, error)
	ExistsByOrganizerTitleStart(ctx context.Context, organizerID, title string, start time.Time) (bool, error)
	// CreateEvent stores e and sets e.ID.
	CreateEvent(ctx context.Context, e *domain.Event) error
}

type UserReader interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// Notifier enqueues the organizer notification for a new instance.
type Notifier interface {
	RecurringCreated(ctx context.Context, to, name, eventTitle string, start time.Time) (string, error)
}

// Report summarizes one sweep.
type Report struct {
	Parents  int
	Created  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

type Params struct {
	Events   EventStore
	Users    UserReader
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Generator creates the next instance of every recurring series.
type Generator struct {
	events   EventStore
	users    UserReader
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu sync.Mutex // one sweep at a time
}

func New(p Params) *Generator {
	return &Generator{
		events:   p.Events,
		users:    p.Users,
		notifier: p.Notifier,
		metrics:  p.Metrics,
		logger:   p.Logger.Named("recurring"),
		now:      time.Now,
	}
}

// NextStart returns the start following from under rule. ok is false for
// rules that do not advance.
func NextStart(from time.Time, rule domain.RecurringRule) (time.Time, bool) {
	switch rule {
	case domain.RecurWeekly:
		return from.AddDate(0, 0, 7), true
	case domain.RecurMonthly:
		return from.AddDate(0, 1, 0), true
	default:
		return from, false
	}
}

// Sweep visits every recurring parent once. Per-series failures are logged
// and counted; the error is only set when the parents cannot be listed.
func (g *Generator) Sweep(ctx context.Context) (Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	started := g.now()
	var rep Report

	parents, err := g.events.ListRecurringParents(ctx)
	if err != nil {
		return rep, fmt.Errorf("list recurring parents: %w", err)
	}
	rep.Parents = len(parents)

	for i := range parents {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		result, err := g.extend(ctx, &parents[i])
		if err != nil {
			g.logger.Error("extend recurring series",
				zap.String("parent_id", parents[i].ID),
				zap.String("title", parents[i].Title),
				zap.Error(err),
			)
			result = "failed"
		}
		g.metrics.RecurringResult(result)
		switch result {
		case "created":
			rep.Created++
		case "failed":
			rep.Failed++
		default:
			rep.Skipped++
		}
	}

	rep.Duration = g.now().Sub(started)
	g.logger.Info("recurring sweep finished",
		zap.Int("parents", rep.Parents),
		zap.Int("created", rep.Created),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
		zap.Duration("took", rep.Duration),
	)
	return rep, nil
}

func (g *Generator) extend(ctx context.Context, parent *domain.Event) (string, error) {
	anchor := parent
	latest, err := g.events.LatestInSeries(ctx, parent.ID)
	switch {
	case err == nil:
		if latest.StartTime.After(anchor.StartTime) {
			anchor = latest
		}
	case !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("latest instance: %w", err)
	}

	if anchor.StartTime.After(g.now()) {
		return "not_due", nil
	}

	next, ok := NextStart(anchor.StartTime, parent.RecurringRule)
	if !ok {
		return "unsupported_rule", nil
	}

	exists, err := g.events.ExistsByOrganizerTitleStart(ctx, parent.OrganizerID, parent.Title, next)
	if err != nil {
		return "", fmt.Errorf("check existing instance: %w", err)
	}
	if exists {
		return "exists", nil
	}

	instance := newInstance(parent, next)
	if err := g.events.CreateEvent(ctx, instance); err != nil {
		// Another sweep inserted the same occurrence first.
		if errors.Is(err, store.ErrDuplicate) {
			return "exists", nil
		}
		return "", fmt.Errorf("create instance: %w", err)
	}
	g.logger.Info("recurring instance created",
		zap.String("parent_id", parent.ID),
		zap.String("event_id", instance.ID),
		zap.Time("start", instance.StartTime),
	)

	g.notifyOrganizer(ctx, parent, instance)
	return "created", nil
}

func newInstance(parent *domain.Event, start time.Time) *domain.Event {
	duration := parent.EndTime.Sub(parent.StartTime)
	return &domain.Event{
		Title:         parent.Title,
		Description:   parent.Description,
		StartTime:     start,
		EndTime:       start.Add(duration),
		Location:      parent.Location,
		Category:      parent.Category,
		Visibility:    parent.Visibility,
		Capacity:      parent.Capacity,
		OrganizerID:   parent.OrganizerID,
		CommunityID:   parent.CommunityID,
		AttendeeCount: 0,
		Photos:        []string{},
		RecurringRule: domain.RecurNone,
		ParentID:      parent.ID,
	}
}

// notifyOrganizer is best effort; the instance stays either way.
func (g *Generator) notifyOrganizer(ctx context.Context, parent, instance *domain.Event) {
	organizer, err := g.users.GetUser(ctx, parent.OrganizerID)
	if err != nil {
		g.logger.Warn("load organizer for recurring notification",
			zap.String("organizer_id", parent.OrganizerID),
			zap.Error(err),
		)
		return
	}
	if organizer.Email == "" {
		return
	}
	if _, err := g.notifier.RecurringCreated(ctx, organizer.Email, organizer.Name, instance.Title, instance.StartTime); err != nil {
		g.logger.Error("enqueue recurring notification",
			zap.String("event_id", instance.ID),
			zap.Error(err),
		)
	}
}
