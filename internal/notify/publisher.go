// Package notify turns domain happenings into notification jobs and
// handles those jobs in the worker.
package notify

import (
	"context"
	"time"

	"github.com/your-org/eventsphere/internal/email"
	"github.com/your-org/eventsphere/internal/jobs"
)

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, t jobs.Type, payload any, opts ...jobs.Option) (string, error)
}

// Publisher offers one typed method per notification. Each call enqueues
// exactly one job; fan-out happens in the worker.
type Publisher struct {
	q Enqueuer
}

func NewPublisher(q Enqueuer) *Publisher {
	return &Publisher{q: q}
}

func (p *Publisher) EventUpdated(ctx context.Context, eventID string, changes map[string]email.Change) (string, error) {
	return p.q.Enqueue(ctx, jobs.TypeEventUpdate, EventUpdatePayload{EventID: eventID, Changes: changes})
}

func (p *Publisher) RSVPConfirmed(ctx context.Context, to, name, eventTitle, ticketCode string) (string, error) {
	return p.q.Enqueue(ctx, jobs.TypeRSVPConfirmation, RSVPConfirmationPayload{
		Email: to, Name: name, EventTitle: eventTitle, TicketCode: ticketCode,
	})
}

func (p *Publisher) Welcome(ctx context.Context, to, name string) (string, error) {
	return p.q.Enqueue(ctx, jobs.TypeWelcome, WelcomePayload{Email: to, Name: name})
}

func (p *Publisher) Verification(ctx context.Context, to, name, token string) (string, error) {
	return p.q.Enqueue(ctx, jobs.TypeVerification, VerificationPayload{Email: to, Name: name, Token: token})
}

func (p *Publisher) Invitation(ctx context.Context, to, name, inviterName, eventTitle, eventID string) (string, error) {
	return p.q.Enqueue(ctx, jobs.TypeInvitation, InvitationPayload{
		Email: to, Name: name, InviterName: inviterName, EventTitle: eventTitle, EventID: eventID,
	})
}

func (p *Publisher) RecurringCreated(ctx context.Context, to, name, eventTitle string, start time.Time) (string, error) {
	return p.q.Enqueue(ctx, jobs.TypeRecurringCreated, RecurringCreatedPayload{
		Email: to, Name: name, EventTitle: eventTitle, Date: start.UTC().Format("Mon, Jan 2 2006 15:04 MST"),
	})
}

func (p *Publisher) CommunityEventCreated(ctx context.Context, communityID, eventID, eventTitle string) (string, error) {
	return p.q.Enqueue(ctx, jobs.TypeCommunityEventNew, CommunityEventNewPayload{
		CommunityID: communityID, EventID: eventID, EventTitle: eventTitle,
	})
}

func (p *Publisher) CommunityInvite(ctx context.Context, to, communityName, inviterName string) (string, error) {
	return p.q.Enqueue(ctx, jobs.TypeCommunityInvite, CommunityInvitePayload{
		Email: to, CommunityName: communityName, InviterName: inviterName,
	})
}
