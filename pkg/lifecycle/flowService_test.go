package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sbtg-data/flowmirror/pkg/config"
	"github.com/sbtg-data/flowmirror/pkg/errorbus"
	"github.com/sbtg-data/flowmirror/pkg/mailbox"
	"github.com/sbtg-data/flowmirror/pkg/store"
	"github.com/sbtg-data/flowmirror/pkg/webhook"
	"github.com/sbtg-data/flowmirror/schema"
)

// recordingBus captures published error events in-process.
type recordingBus struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *recordingBus) Publish(ctx context.Context, payload []byte, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, handler errorbus.Handler) error { return nil }
func (b *recordingBus) Close() error                                                  { return nil }

func (b *recordingBus) events(t *testing.T) []schema.ErrorEvent {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var events []schema.ErrorEvent
	for _, payload := range b.payloads {
		var event schema.ErrorEvent
		assert.NoError(t, json.Unmarshal(payload, &event))
		events = append(events, event)
	}
	return events
}

type failingBus struct{}

func (failingBus) Publish(ctx context.Context, payload []byte, headers map[string]string) error {
	return errors.New("broker unavailable")
}
func (failingBus) Subscribe(ctx context.Context, handler errorbus.Handler) error { return nil }
func (failingBus) Close() error                                                  { return nil }

// webhookRecorder is an httptest target that records the payloads it
// receives and answers with a fixed status.
type webhookRecorder struct {
	mu       sync.Mutex
	server   *httptest.Server
	status   int
	payloads []map[string]any
	hits     *[]string
	name     string
}

func newWebhookRecorder(t *testing.T, name string, status int, hits *[]string) *webhookRecorder {
	rec := &webhookRecorder{status: status, hits: hits, name: name}
	rec.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		rec.mu.Lock()
		rec.payloads = append(rec.payloads, payload)
		if rec.hits != nil {
			*rec.hits = append(*rec.hits, rec.name)
		}
		rec.mu.Unlock()
		w.WriteHeader(rec.status)
	}))
	t.Cleanup(rec.server.Close)
	return rec
}

func (r *webhookRecorder) URL() string { return r.server.URL }

func (r *webhookRecorder) calls() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.payloads...)
}

func newFlowService(bus errorbus.Bus, webhooks config.WebhookSettings) (*FlowService, store.Stores) {
	stores := store.NewMemoryStores()
	gateway := webhook.NewGateway(5 * time.Second)
	publisher := errorbus.NewPublisher(bus)
	return NewFlowService(stores, gateway, publisher, webhooks), stores
}

func validFlowSpec() FlowSpec {
	return FlowSpec{
		Name:       "ingest",
		OwnerEmail: "owner@example.com",
		Function:   "def run(): pass",
		Packages:   []string{"requests"},
	}
}

func TestCreateFlow_Commits(t *testing.T) {
	target := newWebhookRecorder(t, "flow-create", http.StatusOK, nil)
	svc, stores := newFlowService(&recordingBus{}, config.WebhookSettings{FlowCreate: target.URL()})
	ctx := context.Background()

	owner := &schema.User{Email: "owner@example.com"}
	assert.NoError(t, stores.Users.Save(ctx, owner))

	flow, err := svc.Create(ctx, validFlowSpec())
	assert.NoError(t, err)
	assert.NotEmpty(t, flow.ID)
	assert.Equal(t, owner.ID, flow.UserID)
	assert.Equal(t, schema.FlowStatusStopped, flow.Status)

	stored, err := stores.Flows.FindByID(ctx, flow.ID)
	assert.NoError(t, err)
	assert.NotNil(t, stored)

	calls := target.calls()
	assert.Len(t, calls, 1)
	assert.Equal(t, flow.ID, calls[0]["flow_id"])
	assert.Equal(t, owner.ID, calls[0]["user_id"])
	assert.Equal(t, "def run(): pass", calls[0]["function"])
}

func TestCreateFlow_OwnerWithoutAccountFallsBackToEmail(t *testing.T) {
	target := newWebhookRecorder(t, "flow-create", http.StatusOK, nil)
	svc, _ := newFlowService(&recordingBus{}, config.WebhookSettings{FlowCreate: target.URL()})

	flow, err := svc.Create(context.Background(), validFlowSpec())
	assert.NoError(t, err)
	assert.Equal(t, "owner@example.com", flow.UserID)
}

func TestCreateFlow_ValidationFailsFast(t *testing.T) {
	target := newWebhookRecorder(t, "flow-create", http.StatusOK, nil)
	svc, stores := newFlowService(&recordingBus{}, config.WebhookSettings{FlowCreate: target.URL()})

	spec := validFlowSpec()
	spec.Function = ""
	_, err := svc.Create(context.Background(), spec)

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)

	flows, err := stores.Flows.FindAll(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, flows)
	assert.Empty(t, target.calls())
}

func TestCreateFlow_FailsWithoutCreateTarget(t *testing.T) {
	svc, stores := newFlowService(&recordingBus{}, config.WebhookSettings{})

	_, err := svc.Create(context.Background(), validFlowSpec())
	assert.ErrorIs(t, err, ErrNoCreateTarget)

	flows, _ := stores.Flows.FindAll(context.Background())
	assert.Empty(t, flows)
}

func TestCreateFlow_CompensatesOnTargetFailure(t *testing.T) {
	bus := &recordingBus{}
	target := newWebhookRecorder(t, "flow-create", http.StatusInternalServerError, nil)
	svc, stores := newFlowService(bus, config.WebhookSettings{FlowCreate: target.URL()})

	_, err := svc.Create(context.Background(), validFlowSpec())

	var failure *webhook.TargetFailure
	assert.ErrorAs(t, err, &failure)
	assert.Equal(t, http.StatusInternalServerError, failure.StatusCode)

	// No orphaned half-created entity remains.
	flows, _ := stores.Flows.FindAll(context.Background())
	assert.Empty(t, flows)

	events := bus.events(t)
	assert.Len(t, events, 1)
	assert.NotEmpty(t, events[0].FlowID)
	assert.Equal(t, "owner@example.com", events[0].UserID)
	assert.Contains(t, events[0].Message, "500")
}

func TestCreateFlow_FanOutOrder(t *testing.T) {
	var hits []string
	first := newWebhookRecorder(t, "flow-create", http.StatusOK, &hits)
	second := newWebhookRecorder(t, "flow-create2", http.StatusOK, &hits)
	svc, _ := newFlowService(&recordingBus{}, config.WebhookSettings{
		FlowCreate:  first.URL(),
		FlowCreate2: second.URL(),
	})

	_, err := svc.Create(context.Background(), validFlowSpec())
	assert.NoError(t, err)
	assert.Equal(t, []string{"flow-create", "flow-create2"}, hits)

	// The second endpoint never receives the owner id.
	assert.Contains(t, first.calls()[0], "user_id")
	assert.NotContains(t, second.calls()[0], "user_id")
}

func TestCreateFlow_FullCompensationDespitePartialSuccess(t *testing.T) {
	var hits []string
	first := newWebhookRecorder(t, "flow-create", http.StatusOK, &hits)
	second := newWebhookRecorder(t, "flow-create2", http.StatusServiceUnavailable, &hits)
	svc, stores := newFlowService(&recordingBus{}, config.WebhookSettings{
		FlowCreate:  first.URL(),
		FlowCreate2: second.URL(),
	})

	_, err := svc.Create(context.Background(), validFlowSpec())
	assert.Error(t, err)
	assert.Equal(t, []string{"flow-create", "flow-create2"}, hits)

	// Target 1 succeeded, target 2 failed: the store must still be empty.
	flows, _ := stores.Flows.FindAll(context.Background())
	assert.Empty(t, flows)
}

// failingSaveFlowRepo makes the persist step itself fail.
type failingSaveFlowRepo struct {
	store.FlowRepository
}

func (f *failingSaveFlowRepo) Save(ctx context.Context, flow *schema.Flow) error {
	return errors.New("store unavailable")
}

func TestCreateFlow_PersistFailureSkipsCompensation(t *testing.T) {
	target := newWebhookRecorder(t, "flow-create", http.StatusOK, nil)
	svc, stores := newFlowService(&recordingBus{}, config.WebhookSettings{FlowCreate: target.URL()})
	svc.flows = &failingSaveFlowRepo{FlowRepository: stores.Flows}

	_, err := svc.Create(context.Background(), validFlowSpec())
	assert.Error(t, err)

	// The webhook is never called for an entity that was never stored.
	assert.Empty(t, target.calls())
}

func TestCreateFlow_SwallowsPublishFailure(t *testing.T) {
	target := newWebhookRecorder(t, "flow-create", http.StatusInternalServerError, nil)
	svc, stores := newFlowService(failingBus{}, config.WebhookSettings{FlowCreate: target.URL()})

	// The caller still sees the webhook failure, not the reporting failure.
	_, err := svc.Create(context.Background(), validFlowSpec())
	var failure *webhook.TargetFailure
	assert.ErrorAs(t, err, &failure)

	flows, _ := stores.Flows.FindAll(context.Background())
	assert.Empty(t, flows)
}

func TestDeleteFlow_NotifiesBeforeDeleting(t *testing.T) {
	target := newWebhookRecorder(t, "flow-delete", http.StatusOK, nil)
	svc, stores := newFlowService(&recordingBus{}, config.WebhookSettings{FlowDelete: target.URL()})
	ctx := context.Background()

	flow := schema.NewFlow("ingest", "owner@example.com", "f", nil)
	flow.UserID = "user-1"
	assert.NoError(t, stores.Flows.Save(ctx, flow))
	assert.NoError(t, stores.FlowErrors.Save(ctx, schema.NewFlowError(flow.ID, "old failure")))

	assert.NoError(t, svc.Delete(ctx, flow.ID))

	stored, _ := stores.Flows.FindByID(ctx, flow.ID)
	assert.Nil(t, stored)
	remaining, _ := stores.FlowErrors.FindByFlowID(ctx, flow.ID)
	assert.Empty(t, remaining)

	calls := target.calls()
	assert.Len(t, calls, 1)
	assert.Equal(t, flow.ID, calls[0]["flow_id"])
	assert.Equal(t, "user-1", calls[0]["user_id"])
}

func TestDeleteFlow_AbortsWhenTargetFails(t *testing.T) {
	bus := &recordingBus{}
	target := newWebhookRecorder(t, "flow-delete", http.StatusBadGateway, nil)
	svc, stores := newFlowService(bus, config.WebhookSettings{FlowDelete: target.URL()})
	ctx := context.Background()

	flow := schema.NewFlow("ingest", "owner@example.com", "f", nil)
	assert.NoError(t, stores.Flows.Save(ctx, flow))

	err := svc.Delete(ctx, flow.ID)
	assert.Error(t, err)

	// Local deletion never happened.
	stored, _ := stores.Flows.FindByID(ctx, flow.ID)
	assert.NotNil(t, stored)
	assert.Len(t, bus.events(t), 1)
}

func TestDeleteFlow_UnknownIDIsNoop(t *testing.T) {
	target := newWebhookRecorder(t, "flow-delete", http.StatusOK, nil)
	svc, _ := newFlowService(&recordingBus{}, config.WebhookSettings{FlowDelete: target.URL()})

	assert.NoError(t, svc.Delete(context.Background(), "missing"))
	assert.Empty(t, target.calls())
}

func TestStartAndStopFlow(t *testing.T) {
	start := newWebhookRecorder(t, "flow-start", http.StatusOK, nil)
	stop := newWebhookRecorder(t, "flow-stop", http.StatusOK, nil)
	svc, stores := newFlowService(&recordingBus{}, config.WebhookSettings{
		FlowStart: start.URL(),
		FlowStop:  stop.URL(),
	})
	ctx := context.Background()

	flow := schema.NewFlow("ingest", "owner@example.com", "f", nil)
	assert.NoError(t, stores.Flows.Save(ctx, flow))

	assert.NoError(t, svc.Start(ctx, flow.ID))
	stored, _ := stores.Flows.FindByID(ctx, flow.ID)
	assert.Equal(t, schema.FlowStatusRunning, stored.Status)
	assert.Len(t, start.calls(), 1)

	assert.NoError(t, svc.Stop(ctx, flow.ID))
	stored, _ = stores.Flows.FindByID(ctx, flow.ID)
	assert.Equal(t, schema.FlowStatusStopped, stored.Status)
	assert.Len(t, stop.calls(), 1)
}

func TestStartFlow_UnknownIDIsNotFound(t *testing.T) {
	svc, _ := newFlowService(&recordingBus{}, config.WebhookSettings{})

	err := svc.Start(context.Background(), "missing")

	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCreateFlow_FailureReachesOwnerMailbox(t *testing.T) {
	bus := errorbus.NewChannelBus(16)
	mailboxStore := mailbox.NewStore()

	consumerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		_ = errorbus.NewConsumer(bus, mailboxStore).Run(consumerCtx)
	}()

	target := newWebhookRecorder(t, "flow-create", http.StatusInternalServerError, nil)
	svc, stores := newFlowService(bus, config.WebhookSettings{FlowCreate: target.URL()})
	ctx := context.Background()

	owner := &schema.User{Email: "owner@example.com"}
	assert.NoError(t, stores.Users.Save(ctx, owner))

	_, err := svc.Create(ctx, validFlowSpec())
	assert.Error(t, err)

	// The owner's mailbox receives the failure within one poll interval.
	deadline := time.After(2 * time.Second)
	for !mailboxStore.HasPending(owner.ID) {
		select {
		case <-deadline:
			t.Fatal("no mailbox message within the poll interval")
		case <-time.After(10 * time.Millisecond):
		}
	}

	messages := mailboxStore.DrainAll(owner.ID)
	assert.Len(t, messages, 1)
	assert.Contains(t, messages[0], "500")

	cancel()
	<-consumerDone
}
