package flowerrors

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sbtg-data/flowmirror/pkg/config"
	"github.com/sbtg-data/flowmirror/pkg/store"
	"github.com/sbtg-data/flowmirror/pkg/webhook"
	"github.com/sbtg-data/flowmirror/schema"
)

// Service reads and removes the runtime error records that the external
// execution system reported for flows. Removal follows the notify-first
// rule: the error-delete target is told before the local record goes away,
// and a target failure leaves the record in place.
type Service struct {
	flowErrors store.FlowErrorRepository
	flows      store.FlowRepository
	gateway    *webhook.Gateway
	webhooks   config.WebhookSettings
	tracer     trace.Tracer
}

func NewService(stores store.Stores, gateway *webhook.Gateway, webhooks config.WebhookSettings) *Service {
	return &Service{
		flowErrors: stores.FlowErrors,
		flows:      stores.Flows,
		gateway:    gateway,
		webhooks:   webhooks,
		tracer:     otel.Tracer("flowmirror"),
	}
}

// ErrorsByFlow returns every recorded error for the flow, oldest first.
func (s *Service) ErrorsByFlow(ctx context.Context, flowID string) ([]schema.FlowError, error) {
	return s.flowErrors.FindByFlowID(ctx, flowID)
}

// UniqueErrorsByFlow returns the flow's errors with repeated messages
// collapsed to their first occurrence, keeping the original order.
func (s *Service) UniqueErrorsByFlow(ctx context.Context, flowID string) ([]schema.FlowError, error) {
	all, err := s.flowErrors.FindByFlowID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(all))
	unique := make([]schema.FlowError, 0, len(all))
	for _, flowError := range all {
		if _, ok := seen[flowError.Message]; ok {
			continue
		}
		seen[flowError.Message] = struct{}{}
		unique = append(unique, flowError)
	}
	return unique, nil
}

// ErrorsByOwner returns the errors of every flow owned by the user.
func (s *Service) ErrorsByOwner(ctx context.Context, userID string) ([]schema.FlowError, error) {
	flows, err := s.flows.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var errors []schema.FlowError
	for _, flow := range flows {
		flowErrors, err := s.flowErrors.FindByFlowID(ctx, flow.ID)
		if err != nil {
			return nil, err
		}
		errors = append(errors, flowErrors...)
	}
	return errors, nil
}

// Delete removes one error record. The error-delete target, when enabled,
// is notified first and a failing call aborts the removal.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "DeleteFlowError",
		trace.WithAttributes(attribute.String("error_id", id)))
	defer span.End()

	flowError, err := s.flowErrors.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if flowError == nil {
		return nil
	}

	target := webhook.Target{Name: "error-delete", URL: s.webhooks.ErrorDelete}
	if target.Enabled() {
		payload := map[string]any{
			"error_id": flowError.ID,
			"flow_id":  flowError.FlowID,
		}
		if err := s.gateway.Notify(ctx, target, payload); err != nil {
			span.RecordError(err)
			return fmt.Errorf("error deletion failed: %w", err)
		}
	}

	return s.flowErrors.Delete(ctx, id)
}

// DeleteAllByFlow removes every error record of the flow, one by one so
// that each removal notifies the error-delete target.
func (s *Service) DeleteAllByFlow(ctx context.Context, flowID string) error {
	all, err := s.flowErrors.FindByFlowID(ctx, flowID)
	if err != nil {
		return err
	}
	for _, flowError := range all {
		if err := s.Delete(ctx, flowError.ID); err != nil {
			return err
		}
	}
	return nil
}
