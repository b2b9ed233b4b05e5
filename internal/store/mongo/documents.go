package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/your-org/eventsphere/internal/domain"
)

type locationDoc struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
	Address     string    `bson:"address,omitempty"`
}

type eventDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Title         string             `bson:"title"`
	Description   string             `bson:"description"`
	Category      string             `bson:"category"`
	Visibility    string             `bson:"visibility,omitempty"`
	Organizer     primitive.ObjectID `bson:"organizer"`
	Community     primitive.ObjectID `bson:"community,omitempty"`
	StartDateTime time.Time          `bson:"startDateTime"`
	EndDateTime   time.Time          `bson:"endDateTime"`
	Location      locationDoc        `bson:"location"`
	Capacity      int                `bson:"capacity"`
	AttendeeCount int                `bson:"attendeeCount"`
	RecurringRule string             `bson:"recurringRule"`
	Photos        []string           `bson:"photos"`
	ParentEvent   primitive.ObjectID `bson:"parentEvent,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt"`
}

func (d eventDoc) toDomain() domain.Event {
	photos := d.Photos
	if photos == nil {
		photos = []string{}
	}
	rule := domain.RecurringRule(d.RecurringRule)
	if rule == "" {
		rule = domain.RecurNone
	}
	return domain.Event{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		StartTime:   d.StartDateTime.UTC(),
		EndTime:     d.EndDateTime.UTC(),
		Location: domain.Location{
			Type:        d.Location.Type,
			Coordinates: d.Location.Coordinates,
			Address:     d.Location.Address,
		},
		Category:      d.Category,
		Visibility:    d.Visibility,
		Capacity:      d.Capacity,
		OrganizerID:   hexOrEmpty(d.Organizer),
		CommunityID:   hexOrEmpty(d.Community),
		AttendeeCount: d.AttendeeCount,
		Photos:        photos,
		RecurringRule: rule,
		ParentID:      hexOrEmpty(d.ParentEvent),
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
}

func eventFromDomain(e domain.Event) eventDoc {
	photos := e.Photos
	if photos == nil {
		photos = []string{}
	}
	return eventDoc{
		ID:            optionalID(e.ID),
		Title:         e.Title,
		Description:   e.Description,
		Category:      e.Category,
		Visibility:    e.Visibility,
		Organizer:     optionalID(e.OrganizerID),
		Community:     optionalID(e.CommunityID),
		StartDateTime: e.StartTime,
		EndDateTime:   e.EndTime,
		Location: locationDoc{
			Type:        e.Location.Type,
			Coordinates: e.Location.Coordinates,
			Address:     e.Location.Address,
		},
		Capacity:      e.Capacity,
		AttendeeCount: e.AttendeeCount,
		RecurringRule: string(e.RecurringRule),
		Photos:        photos,
		ParentEvent:   optionalID(e.ParentID),
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

type userDoc struct {
	ID    primitive.ObjectID `bson:"_id"`
	Name  string             `bson:"name"`
	Email string             `bson:"email"`
	Role  string             `bson:"role"`
}

func (d userDoc) toDomain() domain.User {
	return domain.User{ID: d.ID.Hex(), Name: d.Name, Email: d.Email, Role: domain.Role(d.Role)}
}

func (d userDoc) recipient() domain.Recipient {
	return domain.Recipient{UserID: d.ID.Hex(), Name: d.Name, Email: d.Email}
}

type communityDoc struct {
	ID      primitive.ObjectID   `bson:"_id"`
	Name    string               `bson:"name"`
	Members []primitive.ObjectID `bson:"members"`
}

func (d communityDoc) toDomain() domain.Community {
	members := make([]string, 0, len(d.Members))
	for _, m := range d.Members {
		members = append(members, m.Hex())
	}
	return domain.Community{ID: d.ID.Hex(), Name: d.Name, Members: members}
}
