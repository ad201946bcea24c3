package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	TreatmentsCollection    = "treatments"
	UsersCollection         = "users"
	RefreshTokensCollection = "refresh_tokens"
)

// Store owns the MongoDB client and the application database handle.  It is
// created once at startup and passed to every repository.
type Store struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// Open connects to MongoDB and verifies the connection.
func Open(ctx context.Context, uri, name string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(25).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	// Ping with timeout
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Store{Client: client, DB: client.Database(name)}, nil
}

// EnsureIndexes creates the indexes the repositories rely on.  The unique
// email index is what turns a duplicate registration into ErrEmailExists.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName("email_unique").SetUnique(true)},
		},
		TreatmentsCollection: {
			{Keys: bson.D{{Key: "machineType", Value: 1}}, Options: options.Index().SetName("machine_type")},
		},
		RefreshTokensCollection: {
			{Keys: bson.D{{Key: "tokenHash", Value: 1}}, Options: options.Index().SetName("token_hash_unique").SetUnique(true)},
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetName("expires_at_ttl").SetExpireAfterSeconds(0)},
		},
	}
	for _, coll := range []string{UsersCollection, TreatmentsCollection, RefreshTokensCollection} {
		if _, err := s.DB.Collection(coll).Indexes().CreateMany(ctx, indexes[coll]); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}
