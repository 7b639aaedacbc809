package lifecycle

import (
	"context"
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/sbtg-data/flowmirror/pkg/apikey"
	"github.com/sbtg-data/flowmirror/pkg/config"
	"github.com/sbtg-data/flowmirror/pkg/errorbus"
	"github.com/sbtg-data/flowmirror/pkg/store"
	"github.com/sbtg-data/flowmirror/pkg/webhook"
	"github.com/sbtg-data/flowmirror/schema"
)

const defaultRole = "USER"

// RegisterSpec is the caller-supplied definition of a new user.
type RegisterSpec struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
	Role     string `validate:"omitempty"`
}

// UserService orchestrates the user lifecycle with the same saga discipline
// as FlowService. Deleting a user cascades through the flow delete path so
// that every owned flow fires its own notifications and compensations.
type UserService struct {
	users     store.UserRepository
	flows     store.FlowRepository
	flowSvc   *FlowService
	gateway   *webhook.Gateway
	publisher *errorbus.Publisher
	webhooks  config.WebhookSettings
	validate  *validator.Validate
	tracer    trace.Tracer
}

func NewUserService(stores store.Stores, flowSvc *FlowService, gateway *webhook.Gateway, publisher *errorbus.Publisher, webhooks config.WebhookSettings) *UserService {
	return &UserService{
		users:     stores.Users,
		flows:     stores.Flows,
		flowSvc:   flowSvc,
		gateway:   gateway,
		publisher: publisher,
		webhooks:  webhooks,
		validate:  validator.New(),
		tracer:    otel.Tracer("flowmirror"),
	}
}

// Register validates and persists the user, then notifies the user-creation
// target. The target is mandatory for registration: without it the external
// system would never receive the account's API key, so registration fails
// before anything is persisted. On target failure the stored record is
// deleted again.
func (s *UserService) Register(ctx context.Context, spec RegisterSpec) (*schema.User, error) {
	correlationID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "RegisterUser",
		trace.WithAttributes(attribute.String("correlation_id", correlationID)))
	defer span.End()

	if err := s.validate.Struct(spec); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	exists, err := s.users.ExistsByEmail(ctx, spec.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &ValidationError{Reason: "a user with this email already exists"}
	}

	target := webhook.Target{Name: "user-create", URL: s.webhooks.UserCreate}
	if !target.Enabled() {
		return nil, ErrNoCreateTarget
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(spec.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	key, err := apikey.Generate()
	if err != nil {
		return nil, err
	}

	role := spec.Role
	if role == "" {
		role = defaultRole
	}

	user := &schema.User{
		Email:        spec.Email,
		PasswordHash: string(hash),
		Roles:        []string{role},
		APIKey:       key,
	}

	if err := s.users.Save(ctx, user); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to persist user: %w", err)
	}

	payload := map[string]any{
		"user_id": user.ID,
		"API_KEY": user.APIKey,
	}
	if err := s.gateway.Notify(ctx, target, payload); err != nil {
		span.RecordError(err)
		if user.ID != "" {
			if deleteErr := s.users.Delete(ctx, user.ID); deleteErr != nil {
				log.Printf("Failed to compensate user %s: %v", user.ID, deleteErr)
			}
		}
		s.reportError(ctx, correlationID, "", user.ID, err.Error())
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	return user, nil
}

// Delete removes the user and every flow they own. Each flow goes through
// the regular flow delete path first; a failing flow-delete target aborts
// the cascade with the remaining flows and the user record untouched. The
// user-delete target is then notified before the record is removed.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	correlationID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "DeleteUser",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return &NotFoundError{Kind: "user", ID: userID}
	}

	flows, err := s.flows.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}
	for _, flow := range flows {
		if err := s.flowSvc.Delete(ctx, flow.ID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to delete flow %s: %w", flow.ID, err)
		}
	}

	target := webhook.Target{Name: "user-delete", URL: s.webhooks.UserDelete}
	if target.Enabled() {
		if err := s.gateway.Notify(ctx, target, map[string]any{"user_id": userID}); err != nil {
			span.RecordError(err)
			s.reportError(ctx, correlationID, "", userID, err.Error())
			return fmt.Errorf("user deletion failed: %w", err)
		}
	}

	return s.users.Delete(ctx, userID)
}

// Validate reports whether the email and password identify a registered
// user.
func (s *UserService) Validate(ctx context.Context, email, password string) (bool, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil, nil
}

// RegenerateAPIKey replaces the user's API key with a fresh one.
func (s *UserService) RegenerateAPIKey(ctx context.Context, userID string) (string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", &NotFoundError{Kind: "user", ID: userID}
	}

	key, err := apikey.Generate()
	if err != nil {
		return "", err
	}
	user.APIKey = key
	if err := s.users.Save(ctx, user); err != nil {
		return "", err
	}
	return key, nil
}

// APIKey returns the user's current API key.
func (s *UserService) APIKey(ctx context.Context, userID string) (string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", &NotFoundError{Kind: "user", ID: userID}
	}
	return user.APIKey, nil
}

func (s *UserService) FindByEmail(ctx context.Context, email string) (*schema.User, error) {
	return s.users.FindByEmail(ctx, email)
}

func (s *UserService) FindAll(ctx context.Context) ([]schema.User, error) {
	return s.users.FindAll(ctx)
}

func (s *UserService) reportError(ctx context.Context, correlationID, flowID, userID, message string) {
	if err := s.publisher.Publish(ctx, correlationID, flowID, userID, message); err != nil {
		log.Printf("Failed to publish error event: %v", err)
	}
}
