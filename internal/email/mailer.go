// Package email renders and delivers the platform's notification emails.
package email

import (
	"context"
	"fmt"
	"html/template"
	"sort"
	"time"
)

// Change is one modified field of an event, as recorded by the producer.
type Change struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type changeLine struct {
	Field, Old, New string
}

// Mailer composes each notification and hands it to a Sender.
type Mailer struct {
	renderer  *Renderer
	sender    Sender
	appName   string
	clientURL string
}

func NewMailer(r *Renderer, s Sender, appName, clientURL string) *Mailer {
	return &Mailer{renderer: r, sender: s, appName: appName, clientURL: clientURL}
}

func (m *Mailer) send(ctx context.Context, to, subject, tmpl string, data any) error {
	html, err := m.renderer.Render(tmpl, data)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{To: to, Subject: subject, HTML: html})
}

func (m *Mailer) eventLink(eventID string) string {
	return fmt.Sprintf("%s/events/%s", m.clientURL, eventID)
}

func (m *Mailer) Welcome(ctx context.Context, to, name string) error {
	return m.send(ctx, to, fmt.Sprintf("Welcome to %s!", m.appName), TemplateWelcome, struct {
		Name, ClientURL string
	}{name, m.clientURL})
}

func (m *Mailer) Verification(ctx context.Context, to, name, code string) error {
	return m.send(ctx, to, fmt.Sprintf("Verify your %s account", m.appName), TemplateVerification, struct {
		Name, Code string
	}{name, code})
}

func (m *Mailer) EventUpdate(ctx context.Context, to, name, eventTitle, eventID string, changes map[string]Change) error {
	return m.send(ctx, to, "Update: "+eventTitle, TemplateEventUpdate, struct {
		Name, EventTitle, Link string
		Changes             []changeLine
	}{name, eventTitle, m.eventLink(eventID), formatChanges(changes)})
}

// RSVPConfirmation sends the ticket. qrDataURL, when set, must be a
// data:image/png;base64 URL.
func (m *Mailer) RSVPConfirmation(ctx context.Context, to, name, eventTitle, ticketCode, qrDataURL string) error {
	return m.send(ctx, to, "Ticket: "+eventTitle, TemplateRSVPConfirmation, struct {
		Name, EventTitle, TicketCode string
		QRCode                       template.URL
	}{name, eventTitle, ticketCode, template.URL(qrDataURL)})
}

func (m *Mailer) Invitation(ctx context.Context, to, name, inviterName, eventTitle, eventID string) error {
	return m.send(ctx, to, "Invitation: "+eventTitle, TemplateInvitation, struct {
		Name, InviterName, EventTitle, Link string
	}{name, inviterName, eventTitle, m.eventLink(eventID)})
}

func (m *Mailer) RecurringCreated(ctx context.Context, to, name, eventTitle, date string) error {
	return m.send(ctx, to, "New Event: "+eventTitle, TemplateRecurringCreated, struct {
		Name, EventTitle, Date string
	}{name, eventTitle, date})
}

func (m *Mailer) CommunityEvent(ctx context.Context, to, name, communityName, eventTitle, eventID string) error {
	return m.send(ctx, to, "New Event in "+communityName, TemplateCommunityEvent, struct {
		Name, CommunityName, EventTitle, Link string
	}{name, communityName, eventTitle, m.eventLink(eventID)})
}

func (m *Mailer) CommunityInvite(ctx context.Context, to, communityName, inviterName string) error {
	return m.send(ctx, to, "Invitation: Join "+communityName, TemplateCommunityInvite, struct {
		CommunityName, InviterName, ClientURL string
	}{communityName, inviterName, m.clientURL})
}

// formatChanges sorts fields and renders time values readably.
func formatChanges(changes map[string]Change) []changeLine {
	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make([]changeLine, 0, len(fields))
	for _, f := range fields {
		c := changes[f]
		if f == "time" || f == "startTime" || f == "endTime" {
			c.Old, c.New = formatTime(c.Old), formatTime(c.New)
		}
		out = append(out, changeLine{Field: f, Old: c.Old, New: c.New})
	}
	return out
}

func formatTime(v string) string {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return v
	}
	return t.UTC().Format("Mon, Jan 2 2006 15:04 MST")
}
