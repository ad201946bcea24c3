// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// Queue names.  Both are durable and fed through the default exchange, so the
// routing key equals the queue name.
const (
	TreatmentsQueue = "treatments.changed"
	UsersQueue      = "users.registered"
)

// Treatment event actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// TreatmentEvent is published after a treatment is created, edited or
// deleted.  It carries the treatment as it looked after the change (or
// right before removal) so consumers never need to query the database.
type TreatmentEvent struct {
	Action      string    `json:"action"`
	ID          string    `json:"id"`
	MachineType string    `json:"machineType"`
	Treatment   string    `json:"treatment"`
	UserID      string    `json:"userId,omitempty"`
	At          time.Time `json:"at"`
}

// UserRegisteredEvent is published once per successful registration.
type UserRegisteredEvent struct {
	UserID string    `json:"userId"`
	Email  string    `json:"email"`
	At     time.Time `json:"at"`
}
