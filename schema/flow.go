package schema

import "time"

// FlowStatus represents the execution status of a flow.
type FlowStatus string

const (
	FlowStatusRunning FlowStatus = "RUNNING"
	FlowStatusStopped FlowStatus = "STOPPED"
)

// Flow represents a user-owned function definition mirrored into the external
// execution system.
type Flow struct {
	ID         string     `bson:"_id,omitempty" json:"id"`
	Name       string     `bson:"name" json:"name"`
	OwnerEmail string     `bson:"owner_email" json:"owner_email"`
	UserID     string     `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Function   string     `bson:"function" json:"function"`
	Packages   []string   `bson:"packages" json:"packages"`
	Status     FlowStatus `bson:"status" json:"status"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updated_at"`
}

// NewFlow creates a new Flow with required fields and sensible defaults.
// Flows start stopped; the store assigns the ID on first persist.
func NewFlow(name, ownerEmail, function string, packages []string) *Flow {
	now := time.Now()
	return &Flow{
		Name:       name,
		OwnerEmail: ownerEmail,
		Function:   function,
		Packages:   packages,
		Status:     FlowStatusStopped,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
