// Package jobs defines the asynchronous job model, the client used by
// producers and the worker pool that dispatches jobs to typed handlers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Type names a kind of job.
type Type string

const (
	TypeEventUpdate          Type = "event-update"
	TypeEventUpdateSingle    Type = "event-update-single"
	TypeRSVPConfirmation     Type = "rsvp-confirmation"
	TypeWelcome              Type = "welcome"
	TypeVerification         Type = "verification"
	TypeInvitation           Type = "invitation"
	TypeRecurringCreated     Type = "recurring-created"
	TypeCommunityEventNew    Type = "community-event-new"
	TypeCommunityEventSingle Type = "community-event-single"
	TypeCommunityInvite      Type = "community-invite"
)

// KnownTypes lists every job type the worker must be able to handle.
func KnownTypes() []Type {
	return []Type{
		TypeEventUpdate,
		TypeEventUpdateSingle,
		TypeRSVPConfirmation,
		TypeWelcome,
		TypeVerification,
		TypeInvitation,
		TypeRecurringCreated,
		TypeCommunityEventNew,
		TypeCommunityEventSingle,
		TypeCommunityInvite,
	}
}

// Job is the unit carried by the transport.
type Job struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return Permanent(errors.New("empty payload"))
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(err)
	}
	return nil
}

// Handler processes one job type.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// Transport moves jobs from producers to the worker pool. Consume blocks
// until ctx is done and may be called concurrently; a job is acknowledged
// once fn returns.
type Transport interface {
	Publish(ctx context.Context, job Job) error
	Consume(ctx context.Context, fn func(context.Context, Job) error) error
	Close(ctx context.Context) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must not be retried. Errors exposing
// Temporary() false are treated as permanent too.
func IsPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return !t.Temporary()
	}
	return false
}
