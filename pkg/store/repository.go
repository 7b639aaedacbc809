package store

import (
	"context"

	"github.com/sbtg-data/flowmirror/schema"
)

// FlowRepository defines the entity-store operations for flows.
type FlowRepository interface {
	// FindByID returns the flow with the given id, or nil when absent.
	FindByID(ctx context.Context, id string) (*schema.Flow, error)
	FindByOwnerEmail(ctx context.Context, ownerEmail string) ([]schema.Flow, error)
	FindByUserID(ctx context.Context, userID string) ([]schema.Flow, error)
	FindAll(ctx context.Context) ([]schema.Flow, error)
	// Save upserts the flow and assigns an id on first persist.
	Save(ctx context.Context, flow *schema.Flow) error
	Delete(ctx context.Context, id string) error
}

// UserRepository defines the entity-store operations for users.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*schema.User, error)
	FindByEmail(ctx context.Context, email string) (*schema.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	FindAll(ctx context.Context) ([]schema.User, error)
	Save(ctx context.Context, user *schema.User) error
	Delete(ctx context.Context, id string) error
}

// FlowErrorRepository defines the entity-store operations for runtime error
// records reported by the external execution system.
type FlowErrorRepository interface {
	FindByID(ctx context.Context, id string) (*schema.FlowError, error)
	FindByFlowID(ctx context.Context, flowID string) ([]schema.FlowError, error)
	FindAll(ctx context.Context) ([]schema.FlowError, error)
	Save(ctx context.Context, flowError *schema.FlowError) error
	Delete(ctx context.Context, id string) error
	DeleteByFlowID(ctx context.Context, flowID string) error
}

// Stores bundles the repositories of one entity-store backend.
type Stores struct {
	Flows      FlowRepository
	Users      UserRepository
	FlowErrors FlowErrorRepository
}
