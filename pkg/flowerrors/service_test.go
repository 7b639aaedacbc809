package flowerrors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sbtg-data/flowmirror/pkg/config"
	"github.com/sbtg-data/flowmirror/pkg/store"
	"github.com/sbtg-data/flowmirror/pkg/webhook"
	"github.com/sbtg-data/flowmirror/schema"
)

func newService(t *testing.T, status int) (*Service, store.Stores, *int) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	stores := store.NewMemoryStores()
	gateway := webhook.NewGateway(5 * time.Second)
	svc := NewService(stores, gateway, config.WebhookSettings{ErrorDelete: server.URL})
	return svc, stores, &calls
}

func seedErrors(t *testing.T, stores store.Stores, flowID string, messages ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		flowError := schema.NewFlowError(flowID, message)
		assert.NoError(t, stores.FlowErrors.Save(context.Background(), flowError))
		ids = append(ids, flowError.ID)
		// Keep Date ordering deterministic.
		time.Sleep(time.Millisecond)
	}
	return ids
}

func TestErrorsByFlow(t *testing.T) {
	svc, stores, _ := newService(t, http.StatusOK)
	seedErrors(t, stores, "flow-1", "first", "second")
	seedErrors(t, stores, "flow-2", "other")

	errors, err := svc.ErrorsByFlow(context.Background(), "flow-1")
	assert.NoError(t, err)
	assert.Len(t, errors, 2)
	assert.Equal(t, "first", errors[0].Message)
	assert.Equal(t, "second", errors[1].Message)
}

func TestUniqueErrorsByFlow(t *testing.T) {
	svc, stores, _ := newService(t, http.StatusOK)
	seedErrors(t, stores, "flow-1", "timeout", "oom", "timeout", "timeout", "oom")

	unique, err := svc.UniqueErrorsByFlow(context.Background(), "flow-1")
	assert.NoError(t, err)
	assert.Len(t, unique, 2)
	assert.Equal(t, "timeout", unique[0].Message)
	assert.Equal(t, "oom", unique[1].Message)
}

func TestErrorsByOwner(t *testing.T) {
	svc, stores, _ := newService(t, http.StatusOK)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		flow := schema.NewFlow(name, "owner@example.com", "f", nil)
		flow.UserID = "user-1"
		assert.NoError(t, stores.Flows.Save(ctx, flow))
		seedErrors(t, stores, flow.ID, "failed in "+name)
	}
	other := schema.NewFlow("c", "other@example.com", "f", nil)
	other.UserID = "user-2"
	assert.NoError(t, stores.Flows.Save(ctx, other))
	seedErrors(t, stores, other.ID, "not yours")

	errors, err := svc.ErrorsByOwner(ctx, "user-1")
	assert.NoError(t, err)
	assert.Len(t, errors, 2)
	for _, flowError := range errors {
		assert.NotEqual(t, "not yours", flowError.Message)
	}
}

func TestDelete_NotifiesBeforeRemoving(t *testing.T) {
	svc, stores, calls := newService(t, http.StatusOK)
	ids := seedErrors(t, stores, "flow-1", "boom")

	assert.NoError(t, svc.Delete(context.Background(), ids[0]))
	assert.Equal(t, 1, *calls)

	remaining, _ := stores.FlowErrors.FindByFlowID(context.Background(), "flow-1")
	assert.Empty(t, remaining)
}

func TestDelete_AbortsWhenTargetFails(t *testing.T) {
	svc, stores, _ := newService(t, http.StatusInternalServerError)
	ids := seedErrors(t, stores, "flow-1", "boom")

	err := svc.Delete(context.Background(), ids[0])

	var failure *webhook.TargetFailure
	assert.ErrorAs(t, err, &failure)

	stored, _ := stores.FlowErrors.FindByID(context.Background(), ids[0])
	assert.NotNil(t, stored)
}

func TestDelete_UnknownIDIsNoop(t *testing.T) {
	svc, _, calls := newService(t, http.StatusOK)

	assert.NoError(t, svc.Delete(context.Background(), "missing"))
	assert.Equal(t, 0, *calls)
}

func TestDeleteAllByFlow(t *testing.T) {
	svc, stores, calls := newService(t, http.StatusOK)
	seedErrors(t, stores, "flow-1", "one", "two", "three")
	seedErrors(t, stores, "flow-2", "kept")

	assert.NoError(t, svc.DeleteAllByFlow(context.Background(), "flow-1"))
	assert.Equal(t, 3, *calls)

	remaining, _ := stores.FlowErrors.FindByFlowID(context.Background(), "flow-1")
	assert.Empty(t, remaining)
	kept, _ := stores.FlowErrors.FindByFlowID(context.Background(), "flow-2")
	assert.Len(t, kept, 1)
}
