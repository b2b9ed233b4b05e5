package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/domain"
	"github.com/your-org/eventsphere/internal/email"
	"github.com/your-org/eventsphere/internal/jobs"
	"github.com/your-org/eventsphere/internal/metrics"
	"github.com/your-org/eventsphere/internal/store"
)

// Mailer sends the rendered notifications.
type Mailer interface {
	Welcome(ctx context.Context, to, name string) error
	Verification(ctx context.Context, to, name, code string) error
	EventUpdate(ctx context.Context, to, name, eventTitle, eventID string, changes map[string]email.Change) error
	RSVPConfirmation(ctx context.Context, to, name, eventTitle, ticketCode, qrDataURL string) error
	Invitation(ctx context.Context, to, name, inviterName, eventTitle, eventID string) error
	RecurringCreated(ctx context.Context, to, name, eventTitle, date string) error
	CommunityEvent(ctx context.Context, to, name, communityName, eventTitle, eventID string) error
	CommunityInvite(ctx context.Context, to, communityName, inviterName string) error
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
}

// AttendeeLister returns the users with a GOING RSVP for an event.
type AttendeeLister interface {
	ListAttendees(ctx context.Context, eventID string) ([]domain.Recipient, error)
}

type CommunityReader interface {
	GetCommunity(ctx context.Context, id string) (*domain.Community, error)
	ListMembers(ctx context.Context, communityID string) ([]domain.Recipient, error)
}

type HandlerParams struct {
	Mailer      Mailer
	Events      EventReader
	Attendees   AttendeeLister
	Communities CommunityReader
	Queue       Enqueuer
	BatchSize   int
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Handlers implements one jobs.Handler per notification type.
type Handlers struct {
	mailer      Mailer
	events      EventReader
	attendees   AttendeeLister
	communities CommunityReader
	queue       Enqueuer
	batchSize   int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewHandlers(p HandlerParams) *Handlers {
	if p.BatchSize <= 0 {
		p.BatchSize = 50
	}
	return &Handlers{
		mailer:      p.Mailer,
		events:      p.Events,
		attendees:   p.Attendees,
		communities: p.Communities,
		queue:       p.Queue,
		batchSize:   p.BatchSize,
		metrics:     p.Metrics,
		logger:      p.Logger.Named("notify"),
	}
}

// Register binds every notification type to reg. single applies to the
// per-recipient job types.
func (h *Handlers) Register(reg *jobs.Registry, single jobs.Policy) {
	reg.Register(jobs.TypeEventUpdate, jobs.HandlerFunc(h.eventUpdate), jobs.Policy{})
	reg.Register(jobs.TypeEventUpdateSingle, jobs.HandlerFunc(h.eventUpdateSingle), single)
	reg.Register(jobs.TypeRSVPConfirmation, jobs.HandlerFunc(h.rsvpConfirmation), jobs.Policy{})
	reg.Register(jobs.TypeWelcome, jobs.HandlerFunc(h.welcome), jobs.Policy{})
	reg.Register(jobs.TypeVerification, jobs.HandlerFunc(h.verification), jobs.Policy{})
	reg.Register(jobs.TypeInvitation, jobs.HandlerFunc(h.invitation), jobs.Policy{})
	reg.Register(jobs.TypeRecurringCreated, jobs.HandlerFunc(h.recurringCreated), jobs.Policy{})
	reg.Register(jobs.TypeCommunityEventNew, jobs.HandlerFunc(h.communityEventNew), jobs.Policy{})
	reg.Register(jobs.TypeCommunityEventSingle, jobs.HandlerFunc(h.communityEventSingle), single)
	reg.Register(jobs.TypeCommunityInvite, jobs.HandlerFunc(h.communityInvite), jobs.Policy{})
}

func (h *Handlers) eventUpdate(ctx context.Context, job jobs.Job) error {
	var p EventUpdatePayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	event, err := h.events.GetEvent(ctx, p.EventID)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Info("event gone, skipping update fan-out", zap.String("event_id", p.EventID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load event %s: %w", p.EventID, err)
	}

	attendees, err := h.attendees.ListAttendees(ctx, p.EventID)
	if err != nil {
		return fmt.Errorf("list attendees of %s: %w", p.EventID, err)
	}
	recipients := withEmail(attendees)

	h.logger.Info("fanning out event update",
		zap.String("event_id", p.EventID),
		zap.Int("recipients", len(recipients)),
	)
	return h.fanOut(ctx, job, recipients, func(ctx context.Context, r domain.Recipient) error {
		_, err := h.queue.Enqueue(ctx, jobs.TypeEventUpdateSingle, EventUpdateSinglePayload{
			Email:      r.Email,
			Name:       r.Name,
			EventTitle: event.Title,
			Changes:    p.Changes,
			EventID:    p.EventID,
		})
		return err
	})
}

func (h *Handlers) eventUpdateSingle(ctx context.Context, job jobs.Job) error {
	var p EventUpdateSinglePayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if err := h.mailer.EventUpdate(ctx, p.Email, p.Name, p.EventTitle, p.EventID, p.Changes); err != nil {
		return err
	}
	h.logger.Info("event update email sent", zap.String("to", p.Email), zap.String("event_id", p.EventID))
	return nil
}

func (h *Handlers) rsvpConfirmation(ctx context.Context, job jobs.Job) error {
	var p RSVPConfirmationPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	var qr string
	if p.TicketCode != "" {
		png, err := qrcode.Encode(p.TicketCode, qrcode.Medium, 256)
		if err != nil {
			h.logger.Error("generate ticket qr code", zap.String("ticket_code", p.TicketCode), zap.Error(err))
		} else {
			qr = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		}
	}

	if err := h.mailer.RSVPConfirmation(ctx, p.Email, p.Name, p.EventTitle, p.TicketCode, qr); err != nil {
		return err
	}
	h.logger.Info("rsvp confirmation sent", zap.String("to", p.Email), zap.String("event_title", p.EventTitle))
	return nil
}

func (h *Handlers) welcome(ctx context.Context, job jobs.Job) error {
	var p WelcomePayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	return h.mailer.Welcome(ctx, p.Email, p.Name)
}

func (h *Handlers) verification(ctx context.Context, job jobs.Job) error {
	var p VerificationPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	return h.mailer.Verification(ctx, p.Email, p.Name, p.Token)
}

func (h *Handlers) invitation(ctx context.Context, job jobs.Job) error {
	var p InvitationPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	return h.mailer.Invitation(ctx, p.Email, p.Name, p.InviterName, p.EventTitle, p.EventID)
}

func (h *Handlers) recurringCreated(ctx context.Context, job jobs.Job) error {
	var p RecurringCreatedPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	return h.mailer.RecurringCreated(ctx, p.Email, p.Name, p.EventTitle, p.Date)
}

func (h *Handlers) communityEventNew(ctx context.Context, job jobs.Job) error {
	var p CommunityEventNewPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	community, err := h.communities.GetCommunity(ctx, p.CommunityID)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Info("community gone, skipping event fan-out", zap.String("community_id", p.CommunityID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load community %s: %w", p.CommunityID, err)
	}

	members, err := h.communities.ListMembers(ctx, p.CommunityID)
	if err != nil {
		return fmt.Errorf("list members of %s: %w", p.CommunityID, err)
	}

	return h.fanOut(ctx, job, withEmail(members), func(ctx context.Context, r domain.Recipient) error {
		_, err := h.queue.Enqueue(ctx, jobs.TypeCommunityEventSingle, CommunityEventSinglePayload{
			Email:         r.Email,
			Name:          r.Name,
			CommunityName: community.Name,
			EventTitle:    p.EventTitle,
			EventID:       p.EventID,
		})
		return err
	})
}

func (h *Handlers) communityEventSingle(ctx context.Context, job jobs.Job) error {
	var p CommunityEventSinglePayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	return h.mailer.CommunityEvent(ctx, p.Email, p.Name, p.CommunityName, p.EventTitle, p.EventID)
}

func (h *Handlers) communityInvite(ctx context.Context, job jobs.Job) error {
	var p CommunityInvitePayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	return h.mailer.CommunityInvite(ctx, p.Email, p.CommunityName, p.InviterName)
}

// fanOut enqueues one item per recipient in batches. Individual enqueue
// failures are logged and do not fail the parent job.
func (h *Handlers) fanOut(ctx context.Context, parent jobs.Job, recipients []domain.Recipient, enqueue func(context.Context, domain.Recipient) error) error {
	res, err := jobs.FanOut(ctx, recipients, h.batchSize, func(ctx context.Context, r domain.Recipient) error {
		if err := enqueue(ctx, r); err != nil {
			h.logger.Warn("fan-out enqueue failed",
				zap.String("parent_job_id", parent.ID),
				zap.String("type", string(parent.Type)),
				zap.String("to", r.Email),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
	h.metrics.FanOutItems(string(parent.Type), res.Succeeded, res.Failed)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		h.logger.Warn("fan-out finished with failures",
			zap.String("parent_job_id", parent.ID),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
		)
	}
	return nil
}

func withEmail(rs []domain.Recipient) []domain.Recipient {
	out := rs[:0:0]
	for _, r := range rs {
		if r.Email != "" {
			out = append(out, r)
		}
	}
	return out
}
