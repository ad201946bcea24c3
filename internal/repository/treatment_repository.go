package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iliyamo/machine-treatments/internal/database"
	"github.com/iliyamo/machine-treatments/internal/model"
)

// TreatmentRepo encapsulates all queries against the treatments collection.
// Every method performs exactly one store operation.
type TreatmentRepo struct {
	coll *mongo.Collection
}

func NewTreatmentRepo(db *mongo.Database) *TreatmentRepo {
	return &TreatmentRepo{coll: db.Collection(database.TreatmentsCollection)}
}

// Create inserts t and fills in the id assigned by the driver.
func (r *TreatmentRepo) Create(ctx context.Context, t *model.Treatment) error {
	t.ID = primitive.NilObjectID
	res, err := r.coll.InsertOne(ctx, t)
	if err != nil {
		return fmt.Errorf("insert treatment: %w", err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		t.ID = id
	}
	return nil
}

// ListByMachineType returns every treatment for the machine type in
// insertion order.  An unknown type yields an empty, non-nil slice.
func (r *TreatmentRepo) ListByMachineType(ctx context.Context, machineType string) ([]model.Treatment, error) {
	return r.find(ctx, bson.M{"machineType": machineType})
}

// ListAll returns every treatment.
func (r *TreatmentRepo) ListAll(ctx context.Context) ([]model.Treatment, error) {
	return r.find(ctx, bson.M{})
}

func (r *TreatmentRepo) find(ctx context.Context, filter bson.M) ([]model.Treatment, error) {
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find treatments: %w", err)
	}
	items := []model.Treatment{}
	if err := cur.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode treatments: %w", err)
	}
	return items, nil
}

// UpdateText replaces the treatment text of one record and returns the
// updated document.  machineType and id are never modified.
func (r *TreatmentRepo) UpdateText(ctx context.Context, id primitive.ObjectID, text string) (model.Treatment, error) {
	var out model.Treatment
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"treatment": text}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Treatment{}, ErrTreatmentNotFound
		}
		return model.Treatment{}, fmt.Errorf("update treatment: %w", err)
	}
	return out, nil
}

// Delete removes one record and returns what was removed.
func (r *TreatmentRepo) Delete(ctx context.Context, id primitive.ObjectID) (model.Treatment, error) {
	var out model.Treatment
	if err := r.coll.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Treatment{}, ErrTreatmentNotFound
		}
		return model.Treatment{}, fmt.Errorf("delete treatment: %w", err)
	}
	return out, nil
}
