package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/sbtg-data/flowmirror/schema"
)

// NewMemoryStores builds the in-process repository set used by tests and
// single-node deployments without a database.
func NewMemoryStores() Stores {
	return Stores{
		Flows:      &MemoryFlowRepository{flows: make(map[string]schema.Flow)},
		Users:      &MemoryUserRepository{users: make(map[string]schema.User)},
		FlowErrors: &MemoryFlowErrorRepository{flowErrors: make(map[string]schema.FlowError)},
	}
}

type MemoryFlowRepository struct {
	mu    sync.Mutex
	flows map[string]schema.Flow
}

func (m *MemoryFlowRepository) FindByID(ctx context.Context, id string) (*schema.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flow, ok := m.flows[id]
	if !ok {
		return nil, nil
	}
	return &flow, nil
}

func (m *MemoryFlowRepository) FindByOwnerEmail(ctx context.Context, ownerEmail string) ([]schema.Flow, error) {
	return m.filter(func(f schema.Flow) bool { return f.OwnerEmail == ownerEmail }), nil
}

func (m *MemoryFlowRepository) FindByUserID(ctx context.Context, userID string) ([]schema.Flow, error) {
	return m.filter(func(f schema.Flow) bool { return f.UserID == userID }), nil
}

func (m *MemoryFlowRepository) FindAll(ctx context.Context) ([]schema.Flow, error) {
	return m.filter(func(schema.Flow) bool { return true }), nil
}

func (m *MemoryFlowRepository) filter(match func(schema.Flow) bool) []schema.Flow {
	m.mu.Lock()
	defer m.mu.Unlock()

	flows := []schema.Flow{}
	for _, flow := range m.flows {
		if match(flow) {
			flows = append(flows, flow)
		}
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].CreatedAt.Before(flows[j].CreatedAt) })
	return flows
}

func (m *MemoryFlowRepository) Save(ctx context.Context, flow *schema.Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flow.ID == "" {
		flow.ID = primitive.NewObjectID().Hex()
	}
	flow.UpdatedAt = time.Now()
	m.flows[flow.ID] = *flow
	return nil
}

func (m *MemoryFlowRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.flows, id)
	return nil
}

type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[string]schema.User
}

func (m *MemoryUserRepository) FindByID(ctx context.Context, id string) (*schema.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (m *MemoryUserRepository) FindByEmail(ctx context.Context, email string) (*schema.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	user, err := m.FindByEmail(ctx, email)
	return user != nil, err
}

func (m *MemoryUserRepository) FindAll(ctx context.Context) ([]schema.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := []schema.User{}
	for _, user := range m.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (m *MemoryUserRepository) Save(ctx context.Context, user *schema.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.ID == "" {
		user.ID = primitive.NewObjectID().Hex()
	}
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryUserRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, id)
	return nil
}

type MemoryFlowErrorRepository struct {
	mu         sync.Mutex
	flowErrors map[string]schema.FlowError
}

func (m *MemoryFlowErrorRepository) FindByID(ctx context.Context, id string) (*schema.FlowError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flowError, ok := m.flowErrors[id]
	if !ok {
		return nil, nil
	}
	return &flowError, nil
}

func (m *MemoryFlowErrorRepository) FindByFlowID(ctx context.Context, flowID string) ([]schema.FlowError, error) {
	return m.filter(func(e schema.FlowError) bool { return e.FlowID == flowID }), nil
}

func (m *MemoryFlowErrorRepository) FindAll(ctx context.Context) ([]schema.FlowError, error) {
	return m.filter(func(schema.FlowError) bool { return true }), nil
}

func (m *MemoryFlowErrorRepository) filter(match func(schema.FlowError) bool) []schema.FlowError {
	m.mu.Lock()
	defer m.mu.Unlock()

	flowErrors := []schema.FlowError{}
	for _, flowError := range m.flowErrors {
		if match(flowError) {
			flowErrors = append(flowErrors, flowError)
		}
	}
	sort.Slice(flowErrors, func(i, j int) bool { return flowErrors[i].Date.Before(flowErrors[j].Date) })
	return flowErrors
}

func (m *MemoryFlowErrorRepository) Save(ctx context.Context, flowError *schema.FlowError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flowError.ID == "" {
		flowError.ID = primitive.NewObjectID().Hex()
	}
	m.flowErrors[flowError.ID] = *flowError
	return nil
}

func (m *MemoryFlowErrorRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.flowErrors, id)
	return nil
}

func (m *MemoryFlowErrorRepository) DeleteByFlowID(ctx context.Context, flowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, flowError := range m.flowErrors {
		if flowError.FlowID == flowID {
			delete(m.flowErrors, id)
		}
	}
	return nil
}
