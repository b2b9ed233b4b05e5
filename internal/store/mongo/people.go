package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/your-org/eventsphere/internal/domain"
)

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	u := doc.toDomain()
	return &u, nil
}

// attendeesPipeline joins the GOING rsvps of an event with their users.
func attendeesPipeline(eventID any) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"event": eventID, "status": string(domain.RSVPGoing)}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         usersCollection,
			"localField":   "user",
			"foreignField": "_id",
			"as":           "user",
		}}},
		{{Key: "$unwind", Value: "$user"}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$user"}}},
		{{Key: "$project", Value: bson.M{"_id": 1, "name": 1, "email": 1, "role": 1}}},
	}
}

func (s *Store) ListAttendees(ctx context.Context, eventID string) ([]domain.Recipient, error) {
	oid, err := objectID(eventID)
	if err != nil {
		return nil, err
	}
	cur, err := s.rsvps.Aggregate(ctx, attendeesPipeline(oid))
	if err != nil {
		return nil, fmt.Errorf("aggregate attendees: %w", err)
	}
	return decodeRecipients(ctx, cur)
}

func (s *Store) GetCommunity(ctx context.Context, id string) (*domain.Community, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var doc communityDoc
	if err := s.communities.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	c := doc.toDomain()
	return &c, nil
}

func (s *Store) ListMembers(ctx context.Context, communityID string) ([]domain.Recipient, error) {
	oid, err := objectID(communityID)
	if err != nil {
		return nil, err
	}
	var doc communityDoc
	if err := s.communities.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	if len(doc.Members) == 0 {
		return nil, nil
	}
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": doc.Members}})
	if err != nil {
		return nil, fmt.Errorf("find members: %w", err)
	}
	return decodeRecipients(ctx, cur)
}

func decodeRecipients(ctx context.Context, cur *mongo.Cursor) ([]domain.Recipient, error) {
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	out := make([]domain.Recipient, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.recipient())
	}
	return out, nil
}
