package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/iliyamo/machine-treatments/internal/database"
	"github.com/iliyamo/machine-treatments/internal/model"
)

// TokenRepo persists and validates refresh token hashes.
type TokenRepo struct{ coll *mongo.Collection }

func NewTokenRepo(db *mongo.Database) *TokenRepo {
	return &TokenRepo{coll: db.Collection(database.RefreshTokensCollection)}
}

// StoreRefresh inserts a refresh token hash.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID primitive.ObjectID, tokenHash string, exp time.Time) error {
	_, err := r.coll.InsertOne(ctx, model.RefreshToken{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: exp,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// ValidateRefresh returns the owner of a non-revoked, non-expired token.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (primitive.ObjectID, error) {
	var tok model.RefreshToken
	if err := r.coll.FindOne(ctx, bson.M{"tokenHash": tokenHash}).Decode(&tok); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return primitive.NilObjectID, ErrTokenNotFound
		}
		return primitive.NilObjectID, fmt.Errorf("find refresh token: %w", err)
	}
	if tok.RevokedAt != nil || time.Now().UTC().After(tok.ExpiresAt) {
		return primitive.NilObjectID, ErrTokenNotFound
	}
	return tok.UserID, nil
}

// RevokeByHash marks a token as revoked.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"tokenHash": tokenHash, "revokedAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"revokedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes all of a user's active tokens.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID primitive.ObjectID) error {
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"userId": userID, "revokedAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"revokedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}
