package model

import "go.mongodb.org/mongo-driver/bson/primitive"

// Treatment is a free-text maintenance note attached to a machine type.
// Documents live in the `treatments` collection; the ObjectID is assigned on
// insert and travels over the wire as a hex string under "id".
type Treatment struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MachineType string             `bson:"machineType" json:"machineType"`
	Treatment   string             `bson:"treatment" json:"treatment"`
}
