package lifecycle

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sbtg-data/flowmirror/pkg/config"
	"github.com/sbtg-data/flowmirror/pkg/errorbus"
	"github.com/sbtg-data/flowmirror/pkg/store"
	"github.com/sbtg-data/flowmirror/pkg/webhook"
	"github.com/sbtg-data/flowmirror/schema"
)

func newUserService(bus errorbus.Bus, webhooks config.WebhookSettings) (*UserService, store.Stores) {
	stores := store.NewMemoryStores()
	gateway := webhook.NewGateway(5 * time.Second)
	publisher := errorbus.NewPublisher(bus)
	flowSvc := NewFlowService(stores, gateway, publisher, webhooks)
	return NewUserService(stores, flowSvc, gateway, publisher, webhooks), stores
}

func validRegisterSpec() RegisterSpec {
	return RegisterSpec{
		Email:    "new@example.com",
		Password: "correct horse battery",
	}
}

func TestRegister_Commits(t *testing.T) {
	target := newWebhookRecorder(t, "user-create", http.StatusOK, nil)
	svc, stores := newUserService(&recordingBus{}, config.WebhookSettings{UserCreate: target.URL()})
	ctx := context.Background()

	user, err := svc.Register(ctx, validRegisterSpec())
	assert.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotEmpty(t, user.APIKey)
	assert.Equal(t, []string{"USER"}, user.Roles)

	stored, err := stores.Users.FindByEmail(ctx, "new@example.com")
	assert.NoError(t, err)
	assert.NotNil(t, stored)
	// The password is stored hashed, never verbatim.
	assert.NotEqual(t, "correct horse battery", stored.PasswordHash)

	calls := target.calls()
	assert.Len(t, calls, 1)
	assert.Equal(t, user.ID, calls[0]["user_id"])
	assert.Equal(t, user.APIKey, calls[0]["API_KEY"])
}

func TestRegister_RejectsDuplicateEmail(t *testing.T) {
	target := newWebhookRecorder(t, "user-create", http.StatusOK, nil)
	svc, stores := newUserService(&recordingBus{}, config.WebhookSettings{UserCreate: target.URL()})
	ctx := context.Background()

	assert.NoError(t, stores.Users.Save(ctx, &schema.User{Email: "new@example.com"}))

	_, err := svc.Register(ctx, validRegisterSpec())

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Empty(t, target.calls())
}

func TestRegister_RejectsShortPassword(t *testing.T) {
	svc, stores := newUserService(&recordingBus{}, config.WebhookSettings{UserCreate: "http://example.com/hook"})

	spec := validRegisterSpec()
	spec.Password = "short"
	_, err := svc.Register(context.Background(), spec)

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)

	users, _ := stores.Users.FindAll(context.Background())
	assert.Empty(t, users)
}

func TestRegister_FailsWithoutCreateTarget(t *testing.T) {
	svc, stores := newUserService(&recordingBus{}, config.WebhookSettings{})

	_, err := svc.Register(context.Background(), validRegisterSpec())
	assert.ErrorIs(t, err, ErrNoCreateTarget)

	users, _ := stores.Users.FindAll(context.Background())
	assert.Empty(t, users)
}

func TestRegister_CompensatesOnTargetFailure(t *testing.T) {
	bus := &recordingBus{}
	target := newWebhookRecorder(t, "user-create", http.StatusInternalServerError, nil)
	svc, stores := newUserService(bus, config.WebhookSettings{UserCreate: target.URL()})

	_, err := svc.Register(context.Background(), validRegisterSpec())

	var failure *webhook.TargetFailure
	assert.ErrorAs(t, err, &failure)

	users, _ := stores.Users.FindAll(context.Background())
	assert.Empty(t, users)
	assert.Len(t, bus.events(t), 1)
}

func TestDeleteUser_CascadesThroughOwnedFlows(t *testing.T) {
	var hits []string
	flowDelete := newWebhookRecorder(t, "flow-delete", http.StatusOK, &hits)
	userDelete := newWebhookRecorder(t, "user-delete", http.StatusOK, &hits)
	svc, stores := newUserService(&recordingBus{}, config.WebhookSettings{
		FlowDelete: flowDelete.URL(),
		UserDelete: userDelete.URL(),
	})
	ctx := context.Background()

	user := &schema.User{Email: "owner@example.com"}
	assert.NoError(t, stores.Users.Save(ctx, user))
	for _, name := range []string{"first", "second"} {
		flow := schema.NewFlow(name, user.Email, "f", nil)
		flow.UserID = user.ID
		assert.NoError(t, stores.Flows.Save(ctx, flow))
	}

	assert.NoError(t, svc.Delete(ctx, user.ID))

	// Every owned flow fires its delete notification before the user's own.
	assert.Equal(t, []string{"flow-delete", "flow-delete", "user-delete"}, hits)

	flows, _ := stores.Flows.FindByUserID(ctx, user.ID)
	assert.Empty(t, flows)
	stored, _ := stores.Users.FindByID(ctx, user.ID)
	assert.Nil(t, stored)
}

func TestDeleteUser_AbortsWhenFlowTargetFails(t *testing.T) {
	flowDelete := newWebhookRecorder(t, "flow-delete", http.StatusBadGateway, nil)
	userDelete := newWebhookRecorder(t, "user-delete", http.StatusOK, nil)
	svc, stores := newUserService(&recordingBus{}, config.WebhookSettings{
		FlowDelete: flowDelete.URL(),
		UserDelete: userDelete.URL(),
	})
	ctx := context.Background()

	user := &schema.User{Email: "owner@example.com"}
	assert.NoError(t, stores.Users.Save(ctx, user))
	flow := schema.NewFlow("ingest", user.Email, "f", nil)
	flow.UserID = user.ID
	assert.NoError(t, stores.Flows.Save(ctx, flow))

	err := svc.Delete(ctx, user.ID)
	assert.Error(t, err)

	// The cascade stopped before touching anything locally.
	storedFlow, _ := stores.Flows.FindByID(ctx, flow.ID)
	assert.NotNil(t, storedFlow)
	storedUser, _ := stores.Users.FindByID(ctx, user.ID)
	assert.NotNil(t, storedUser)
	assert.Empty(t, userDelete.calls())
}

func TestDeleteUser_UnknownIDIsNotFound(t *testing.T) {
	svc, _ := newUserService(&recordingBus{}, config.WebhookSettings{})

	err := svc.Delete(context.Background(), "missing")

	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestValidateCredentials(t *testing.T) {
	target := newWebhookRecorder(t, "user-create", http.StatusOK, nil)
	svc, _ := newUserService(&recordingBus{}, config.WebhookSettings{UserCreate: target.URL()})
	ctx := context.Background()

	_, err := svc.Register(ctx, validRegisterSpec())
	assert.NoError(t, err)

	ok, err := svc.Validate(ctx, "new@example.com", "correct horse battery")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Validate(ctx, "new@example.com", "wrong password")
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Validate(ctx, "unknown@example.com", "correct horse battery")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRegenerateAPIKey(t *testing.T) {
	target := newWebhookRecorder(t, "user-create", http.StatusOK, nil)
	svc, _ := newUserService(&recordingBus{}, config.WebhookSettings{UserCreate: target.URL()})
	ctx := context.Background()

	user, err := svc.Register(ctx, validRegisterSpec())
	assert.NoError(t, err)

	fresh, err := svc.RegenerateAPIKey(ctx, user.ID)
	assert.NoError(t, err)
	assert.NotEqual(t, user.APIKey, fresh)

	current, err := svc.APIKey(ctx, user.ID)
	assert.NoError(t, err)
	assert.Equal(t, fresh, current)

	_, err = svc.RegenerateAPIKey(ctx, "missing")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
