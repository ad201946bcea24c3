package handler

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/iliyamo/machine-treatments/internal/model"
	"github.com/iliyamo/machine-treatments/internal/queue"
)

// storeTimeout bounds every store call made by a handler.
const storeTimeout = 5 * time.Second

// TreatmentStore is implemented by repository.TreatmentRepo.
type TreatmentStore interface {
	Create(ctx context.Context, t *model.Treatment) error
	ListByMachineType(ctx context.Context, machineType string) ([]model.Treatment, error)
	ListAll(ctx context.Context) ([]model.Treatment, error)
	UpdateText(ctx context.Context, id primitive.ObjectID, text string) (model.Treatment, error)
	Delete(ctx context.Context, id primitive.ObjectID) (model.Treatment, error)
}

// UserStore is implemented by repository.UserRepo.
type UserStore interface {
	Create(ctx context.Context, email, password string, cost int) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (model.User, error)
}

// TokenStore is implemented by repository.TokenRepo.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID primitive.ObjectID, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (primitive.ObjectID, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID primitive.ObjectID) error
}

// EventPublisher is implemented by service.Publisher and service.NopPublisher.
type EventPublisher interface {
	PublishTreatmentEvent(ctx context.Context, ev queue.TreatmentEvent) error
	PublishUserRegistered(ctx context.Context, ev queue.UserRegisteredEvent) error
}

// CacheInvalidator is implemented by middleware.CacheInvalidator.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// parseID converts a path id to an ObjectID.  Strings that are not 24 hex
// characters cannot name a stored record.
func parseID(raw string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return id, true
}
