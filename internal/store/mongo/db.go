// Package mongo implements the document store adapters used by the upload
// API, the notification handlers and the recurring sweep.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/your-org/eventsphere/internal/store"
)

const (
	eventsCollection      = "events"
	usersCollection       = "users"
	rsvpsCollection       = "rsvps"
	communitiesCollection = "communities"
)

// Connect dials uri and verifies the primary answers within timeout.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		_ = client.Disconnect(dctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Store reads and writes the collections shared with the rest of the
// platform.
type Store struct {
	db          *mongo.Database
	events      *mongo.Collection
	users       *mongo.Collection
	rsvps       *mongo.Collection
	communities *mongo.Collection
	now         func() time.Time
}

func New(db *mongo.Database) *Store {
	return &Store{
		db:          db,
		events:      db.Collection(eventsCollection),
		users:       db.Collection(usersCollection),
		rsvps:       db.Collection(rsvpsCollection),
		communities: db.Collection(communitiesCollection),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Ping reports whether the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the indexes the sweep and the fan-out queries rely
// on. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	models := map[*mongo.Collection][]mongo.IndexModel{
		s.events: eventIndexes(),
		s.rsvps: {
			{Keys: bson.D{{Key: "event", Value: 1}, {Key: "status", Value: 1}}},
		},
	}
	for coll, idx := range models {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// eventIndexes lists the events collection indexes. Generated instances are
// unique per organizer, title and start so two concurrent sweeps cannot both
// insert the same occurrence; the loser gets store.ErrDuplicate.
func eventIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "recurringRule", Value: 1}}},
		{Keys: bson.D{{Key: "parentEvent", Value: 1}, {Key: "startDateTime", Value: -1}}},
		{
			Keys: bson.D{{Key: "organizer", Value: 1}, {Key: "title", Value: 1}, {Key: "startDateTime", Value: 1}},
			Options: options.Index().
				SetName("occurrence_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "parentEvent", Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
	}
}

// objectID parses a hex id. Malformed ids cannot match any document.
func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("id %q: %w", id, store.ErrNotFound)
	}
	return oid, nil
}

func optionalID(id string) primitive.ObjectID {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID
	}
	return oid
}

func hexOrEmpty(oid primitive.ObjectID) string {
	if oid.IsZero() {
		return ""
	}
	return oid.Hex()
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
