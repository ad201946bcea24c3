package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents an account document in the `users` collection.  Email is
// stored normalized (trimmed, lower case) and is unique through an index.
// PasswordHash holds the bcrypt hash and is never serialized to JSON.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"passwordHash" json:"-"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
}

// RefreshToken models a document in the `refresh_tokens` collection.  Only
// the SHA-256 hash of the raw token is stored.
//
// Fields:
//
//	UserID    – owner of the token.
//	TokenHash – SHA-256 hex digest of the token value.
//	ExpiresAt – expiration timestamp; a TTL index purges expired documents.
//	RevokedAt – when the token was revoked (nil while active).
type RefreshToken struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"userId"`
	TokenHash string             `bson:"tokenHash"`
	ExpiresAt time.Time          `bson:"expiresAt"`
	RevokedAt *time.Time         `bson:"revokedAt,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
}
