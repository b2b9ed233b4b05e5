package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/your-org/eventsphere/internal/domain"
	"github.com/your-org/eventsphere/internal/store"
)

func (s *Store) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var doc eventDoc
	if err := s.events.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	e := doc.toDomain()
	return &e, nil
}

// recurringParentsFilter matches series seeds: a rule other than NONE and
// no parent of their own.
func recurringParentsFilter() bson.M {
	return bson.M{
		"recurringRule": bson.M{"$nin": bson.A{string(domain.RecurNone), ""}},
		"parentEvent":   bson.M{"$exists": false},
	}
}

func (s *Store) ListRecurringParents(ctx context.Context) ([]domain.Event, error) {
	cur, err := s.events.Find(ctx, recurringParentsFilter())
	if err != nil {
		return nil, fmt.Errorf("find recurring parents: %w", err)
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode recurring parents: %w", err)
	}
	out := make([]domain.Event, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *Store) LatestInSeries(ctx context.Context, parentID string) (*domain.Event, error) {
	oid, err := objectID(parentID)
	if err != nil {
		return nil, err
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "startDateTime", Value: -1}})
	var doc eventDoc
	if err := s.events.FindOne(ctx, bson.M{"parentEvent": oid}, opts).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	e := doc.toDomain()
	return &e, nil
}

func (s *Store) ExistsByOrganizerTitleStart(ctx context.Context, organizerID, title string, start time.Time) (bool, error) {
	filter := bson.M{
		"organizer":     optionalID(organizerID),
		"title":         title,
		"startDateTime": start,
	}
	n, err := s.events.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count events: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CreateEvent(ctx context.Context, e *domain.Event) error {
	now := s.now()
	e.CreatedAt, e.UpdatedAt = now, now

	doc := eventFromDomain(*e)
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	if _, err := s.events.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert event: %w", store.ErrDuplicate)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	e.ID = doc.ID.Hex()
	return nil
}

// AppendPhoto adds url to the event gallery.
func (s *Store) AppendPhoto(ctx context.Context, eventID, url string) error {
	oid, err := objectID(eventID)
	if err != nil {
		return err
	}
	res, err := s.events.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{
			"$push": bson.M{"photos": url},
			"$set":  bson.M{"updatedAt": s.now()},
		},
	)
	if err != nil {
		return fmt.Errorf("append photo: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
