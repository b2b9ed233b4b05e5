package notify

import "github.com/your-org/eventsphere/internal/email"

type EventUpdatePayload struct {
	EventID string                  `json:"eventId"`
	Changes map[string]email.Change `json:"changes"`
}

type EventUpdateSinglePayload struct {
	Email      string                  `json:"email"`
	Name       string                  `json:"name"`
	EventTitle string                  `json:"eventTitle"`
	Changes    map[string]email.Change `json:"changes"`
	EventID    string                  `json:"eventId"`
}

type RSVPConfirmationPayload struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	EventTitle string `json:"eventTitle"`
	TicketCode string `json:"ticketCode,omitempty"`
}

type WelcomePayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type VerificationPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

type InvitationPayload struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	InviterName string `json:"inviterName"`
	EventTitle  string `json:"eventTitle"`
	EventID     string `json:"eventId"`
}

type RecurringCreatedPayload struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	EventTitle string `json:"eventTitle"`
	Date       string `json:"date"`
}

type CommunityEventNewPayload struct {
	CommunityID string `json:"communityId"`
	EventID     string `json:"eventId"`
	EventTitle  string `json:"eventTitle"`
}

type CommunityEventSinglePayload struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	CommunityName string `json:"communityName"`
	EventTitle    string `json:"eventTitle"`
	EventID       string `json:"eventId"`
}

type CommunityInvitePayload struct {
	Email         string `json:"email"`
	CommunityName string `json:"communityName"`
	InviterName   string `json:"inviterName"`
}
