package domain

import "time"

// Role is the platform role of an authenticated user.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleOrganizer Role = "ORGANIZER"
	RoleAttendee  Role = "ATTENDEE"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOrganizer, RoleAttendee:
		return true
	}
	return false
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

// RecurringRule controls how the recurring sweep extends a series.
type RecurringRule string

const (
	RecurNone    RecurringRule = "NONE"
	RecurDaily   RecurringRule = "DAILY"
	RecurWeekly  RecurringRule = "WEEKLY"
	RecurMonthly RecurringRule = "MONTHLY"
)

type Location struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
	Address     string    `json:"address,omitempty"`
}

type Event struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	StartTime     time.Time     `json:"startDateTime"`
	EndTime       time.Time     `json:"endDateTime"`
	Location      Location      `json:"location"`
	Category      string        `json:"category"`
	Visibility    string        `json:"visibility,omitempty"`
	Capacity      int           `json:"capacity"`
	OrganizerID   string        `json:"organizer"`
	CommunityID   string        `json:"community,omitempty"`
	AttendeeCount int           `json:"attendeeCount"`
	Photos        []string      `json:"photos"`
	RecurringRule RecurringRule `json:"recurringRule"`
	ParentID      string        `json:"parentEvent,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// IsRecurringParent reports whether e seeds a recurring series.
func (e Event) IsRecurringParent() bool {
	return e.ParentID == "" && e.RecurringRule != "" && e.RecurringRule != RecurNone
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Recipient is a resolved mail recipient.
type Recipient struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type Community struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// RSVPStatus values mirror the attendance states of an RSVP.
type RSVPStatus string

const (
	RSVPGoing      RSVPStatus = "GOING"
	RSVPInterested RSVPStatus = "INTERESTED"
	RSVPNotGoing   RSVPStatus = "NOT_GOING"
)
