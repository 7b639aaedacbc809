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

	"github.com/sbtg-data/flowmirror/pkg/config"
	"github.com/sbtg-data/flowmirror/pkg/errorbus"
	"github.com/sbtg-data/flowmirror/pkg/store"
	"github.com/sbtg-data/flowmirror/pkg/webhook"
	"github.com/sbtg-data/flowmirror/schema"
)

// FlowSpec is the caller-supplied definition of a new flow.
type FlowSpec struct {
	Name       string   `validate:"required"`
	OwnerEmail string   `validate:"required,email"`
	Function   string   `validate:"required"`
	Packages   []string `validate:"omitempty"`
}

// FlowService orchestrates the flow lifecycle. Every mutating operation
/// follows the same saga: persist, notify the external targets in a fixed
// order, then commit or compensate. Webhook failures are reported to the
// caller synchronously and to the owning user asynchronously via the error
// bus; bus failures are logged and discarded so that reporting can never
// fail the operation being reported on.
type FlowService struct {
	flows      store.FlowRepository
	users      store.UserRepository
	flowErrors store.FlowErrorRepository
	gateway    *webhook.Gateway
	publisher  *errorbus.Publisher
	webhooks   config.WebhookSettings
	validate   *validator.Validate
	tracer     trace.Tracer
}

func NewFlowService(stores store.Stores, gateway *webhook.Gateway, publisher *errorbus.Publisher, webhooks config.WebhookSettings) *FlowService {
	return &FlowService{
		flows:      stores.Flows,
		users:      stores.Users,
		flowErrors: stores.FlowErrors,
		gateway:    gateway,
		publisher:  publisher,
		webhooks:   webhooks,
		validate:   validator.New(),
		tracer:     otel.Tracer("flowmirror"),
	}
}

// Create validates and persists the flow, then notifies the creation
// targets in order. If any target fails, the persisted record is deleted
// again and the caller receives the failure; the store never retains a
// half-created flow.
func (s *FlowService) Create(ctx context.Context, spec FlowSpec) (*schema.Flow, error) {
	correlationID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "CreateFlow",
		trace.WithAttributes(attribute.String("correlation_id", correlationID)))
	defer span.End()

	if err := s.validate.Struct(spec); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	targets := s.createTargets()
	if len(targets) == 0 {
		return nil, ErrNoCreateTarget
	}

	userID, err := s.resolveOwnerID(ctx, spec.OwnerEmail)
	if err != nil {
		return nil, err
	}

	flow := schema.NewFlow(spec.Name, spec.OwnerEmail, spec.Function, spec.Packages)
	flow.UserID = userID

	if err := s.flows.Save(ctx, flow); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to persist flow: %w", err)
	}

	for _, target := range targets {
		payload := map[string]any{
			"flow_id":  flow.ID,
			"function": flow.Function,
			"packages": flow.Packages,
		}
		// Only the first creation endpoint receives the owner id.
		if target.Name == "flow-create" {
			payload["user_id"] = userID
		}

		if err := s.gateway.Notify(ctx, target, payload); err != nil {
			span.RecordError(err)
			if flow.ID != "" {
				if deleteErr := s.flows.Delete(ctx, flow.ID); deleteErr != nil {
					log.Printf("Failed to compensate flow %s: %v", flow.ID, deleteErr)
				}
			}
			s.reportError(ctx, correlationID, flow.ID, userID, err.Error())
			return nil, fmt.Errorf("flow creation failed: %w", err)
		}
	}

	return flow, nil
}

// Delete notifies the deletion targets before touching the store: if any
// configured target rejects the deletion, the flow stays. Once notification
// succeeds, local deletion is unconditional and removes the flow's runtime
// error records with it. Deleting an unknown id is a no-op.
func (s *FlowService) Delete(ctx context.Context, id string) error {
	correlationID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "DeleteFlow",
		trace.WithAttributes(attribute.String("flow_id", id)))
	defer span.End()

	flow, err := s.flows.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if flow == nil {
		return nil
	}

	userID, err := s.resolveOwnerID(ctx, flow.OwnerEmail)
	if err != nil {
		return err
	}
	if flow.UserID != "" {
		userID = flow.UserID
	}

	for _, target := range s.deleteTargets() {
		payload := map[string]any{"flow_id": flow.ID}
		if target.Name == "flow-delete" {
			payload["user_id"] = userID
		}

		if err := s.gateway.Notify(ctx, target, payload); err != nil {
			span.RecordError(err)
			s.reportError(ctx, correlationID, flow.ID, userID, err.Error())
			return fmt.Errorf("flow deletion failed: %w", err)
		}
	}

	if err := s.flowErrors.DeleteByFlowID(ctx, flow.ID); err != nil {
		return err
	}
	return s.flows.Delete(ctx, flow.ID)
}

// Start marks the flow running and notifies the optional start target.
func (s *FlowService) Start(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, schema.FlowStatusRunning, webhook.Target{Name: "flow-start", URL: s.webhooks.FlowStart})
}

// Stop marks the flow stopped and notifies the optional stop target.
func (s *FlowService) Stop(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, schema.FlowStatusStopped, webhook.Target{Name: "flow-stop", URL: s.webhooks.FlowStop})
}

func (s *FlowService) setStatus(ctx context.Context, id string, status schema.FlowStatus, target webhook.Target) error {
	ctx, span := s.tracer.Start(ctx, "SetFlowStatus",
		trace.WithAttributes(
			attribute.String("flow_id", id),
			attribute.String("status", string(status)),
		))
	defer span.End()

	flow, err := s.flows.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if flow == nil {
		return &NotFoundError{Kind: "flow", ID: id}
	}

	flow.Status = status
	if err := s.flows.Save(ctx, flow); err != nil {
		span.RecordError(err)
		return err
	}

	if !target.Enabled() {
		return nil
	}
	if err := s.gateway.Notify(ctx, target, map[string]any{"flow_id": flow.ID}); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *FlowService) FindByID(ctx context.Context, id string) (*schema.Flow, error) {
	return s.flows.FindByID(ctx, id)
}

func (s *FlowService) FindByOwner(ctx context.Context, ownerEmail string) ([]schema.Flow, error) {
	return s.flows.FindByOwnerEmail(ctx, ownerEmail)
}

func (s *FlowService) FindAll(ctx context.Context) ([]schema.Flow, error) {
	return s.flows.FindAll(ctx)
}

func (s *FlowService) createTargets() []webhook.Target {
	return enabledTargets(
		webhook.Target{Name: "flow-create", URL: s.webhooks.FlowCreate},
		webhook.Target{Name: "flow-create2", URL: s.webhooks.FlowCreate2},
	)
}

func (s *FlowService) deleteTargets() []webhook.Target {
	return enabledTargets(
		webhook.Target{Name: "flow-delete", URL: s.webhooks.FlowDelete},
		webhook.Target{Name: "flow-delete2", URL: s.webhooks.FlowDelete2},
	)
}

// resolveOwnerID maps an owner email to the owning user id, falling back to
// the email itself when no account exists yet.
func (s *FlowService) resolveOwnerID(ctx context.Context, ownerEmail string) (string, error) {
	user, err := s.users.FindByEmail(ctx, ownerEmail)
	if err != nil {
		return "", err
	}
	if user == nil {
		return ownerEmail, nil
	}
	return user.ID, nil
}

func (s *FlowService) reportError(ctx context.Context, correlationID, flowID, userID, message string) {
	if err := s.publisher.Publish(ctx, correlationID, flowID, userID, message); err != nil {
		log.Printf("Failed to publish error event: %v", err)
	}
}

func enabledTargets(targets ...webhook.Target) []webhook.Target {
	enabled := make([]webhook.Target, 0, len(targets))
	for _, target := range targets {
		if target.Enabled() {
			enabled = append(enabled, target)
		}
	}
	return enabled
}
