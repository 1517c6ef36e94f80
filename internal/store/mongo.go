package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/your-org/proctor/internal/session"
)

const sessionsCollection = "sessions"

// mongoStore persists sessions as single documents, one per session,
// with optimistic concurrency via a version field.
type mongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func newMongoStore(ctx context.Context, cfg Config) (Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &mongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(sessionsCollection),
	}, nil
}

func (m *mongoStore) Insert(ctx context.Context, s *session.Session) error {
	if _, err := m.coll.InsertOne(ctx, s); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (m *mongoStore) Get(ctx context.Context, id string) (*session.Session, error) {
	var s session.Session
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &s, nil
}

func (m *mongoStore) Update(ctx context.Context, s *session.Session) error {
	// Filter on the version read by the caller; a concurrent writer
	// bumps it and this update matches nothing.
	filter := bson.M{"_id": s.ID, "version": s.Version}
	next := *s
	next.Version = s.Version + 1

	res, err := m.coll.ReplaceOne(ctx, filter, &next)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if res.MatchedCount == 0 {
		// Distinguish a missing document from a stale version.
		n, err := m.coll.CountDocuments(ctx, bson.M{"_id": s.ID})
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	s.Version = next.Version
	return nil
}

func (m *mongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
