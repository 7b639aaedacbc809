package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
)

// Target is one externally configured webhook endpoint. A blank URL means
// the target is disabled and must be skipped by callers.
type Target struct {
	Name string
	URL  string
}

func (t Target) Enabled() bool {
	return t.URL != ""
}

// TargetFailure reports a webhook call that did not succeed. StatusCode is
// zero for transport failures; callers treat both variants the same way.
type TargetFailure struct {
	Target     string
	StatusCode int
	Err        error
}

func (f *TargetFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("webhook target %s unreachable: %v", f.Target, f.Err)
	}
	return fmt.Sprintf("webhook target %s returned status %d", f.Target, f.StatusCode)
}

func (f *TargetFailure) Unwrap() error {
	return f.Err
}

// Gateway performs the synchronous HTTP calls to external webhook targets.
// It never mutates local state; a call is one attempt, with no retries.
type Gateway struct {
	client *http.Client
	tracer trace.Tracer
}

func NewGateway(timeout time.Duration) *Gateway {
	return &Gateway{
		client: &http.Client{Timeout: timeout},
		tracer: otel.Tracer("flowmirror"),
	}
}

// Notify posts the payload to the target as JSON. Any 2xx response is an
// ack; every other status and any transport error is a *TargetFailure.
func (g *Gateway) Notify(ctx context.Context, target Target, payload map[string]any) error {
	ctx, span := g.tracer.Start(ctx, "WebhookNotify",
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(http.MethodPost),
			semconv.HTTPURLKey.String(target.URL),
			attribute.String("webhook.target", target.Name),
		),
	)
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		failure := &TargetFailure{Target: target.Name, Err: err}
		span.RecordError(failure)
		return failure
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		failure := &TargetFailure{Target: target.Name, StatusCode: resp.StatusCode}
		span.RecordError(failure)
		return failure
	}

	return nil
}
