// Package telemetry holds the OpenTelemetry instruments for the login and media token flows.
//
// telemetry.go -- Counters and tracer. Uses the global providers unless given explicit ones,
// so everything is a no-op until an SDK is installed.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scope = "github.com/MGallo-Code/visio"

// Telemetry bundles the instruments. A nil *Telemetry is valid and records nothing.
type Telemetry struct {
	tracer        trace.Tracer
	loginStarted  metric.Int64Counter
	callbacks     metric.Int64Counter
	tokenRequests metric.Int64Counter
	mediaTokens   metric.Int64Counter
}

// New registers the instruments on mp and takes a tracer from tp.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Telemetry, error) {
	meter := mp.Meter(scope)
	t := &Telemetry{tracer: tp.Tracer(scope)}

	var err error
	t.loginStarted, err = meter.Int64Counter("visio.auth.login.started",
		metric.WithDescription("Login flows started"),
		metric.WithUnit("{flow}"))
	if err != nil {
		return nil, fmt.Errorf("creating login.started counter: %w", err)
	}
	t.callbacks, err = meter.Int64Counter("visio.auth.callback",
		metric.WithDescription("Provider callbacks processed, by result"),
		metric.WithUnit("{callback}"))
	if err != nil {
		return nil, fmt.Errorf("creating auth.callback counter: %w", err)
	}
	t.tokenRequests, err = meter.Int64Counter("visio.oauth.token.requests",
		metric.WithDescription("Token endpoint requests, by grant type and outcome"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("creating oauth.token.requests counter: %w", err)
	}
	t.mediaTokens, err = meter.Int64Counter("visio.media.token.issued",
		metric.WithDescription("Media access tokens issued"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, fmt.Errorf("creating media.token.issued counter: %w", err)
	}
	return t, nil
}

// Default builds Telemetry on the global otel providers, falling back to no-op instruments.
func Default() *Telemetry {
	t, err := New(otel.GetMeterProvider(), otel.GetTracerProvider())
	if err != nil {
		t, _ = New(noop.NewMeterProvider(), tracenoop.NewTracerProvider())
	}
	return t
}

// LoginStarted counts one login redirect.
func (t *Telemetry) LoginStarted(ctx context.Context) {
	if t == nil {
		return
	}
	t.loginStarted.Add(ctx, 1)
}

// CallbackProcessed counts one callback with its result code ("success", "invalid_state", ...).
func (t *Telemetry) CallbackProcessed(ctx context.Context, result string) {
	if t == nil {
		return
	}
	t.callbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// TokenRequest counts one logical token endpoint request (retries included).
func (t *Telemetry) TokenRequest(ctx context.Context, grantType, outcome string) {
	if t == nil {
		return
	}
	t.tokenRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("outcome", outcome),
	))
}

// MediaTokenIssued counts one issued media token.
func (t *Telemetry) MediaTokenIssued(ctx context.Context) {
	if t == nil {
		return
	}
	t.mediaTokens.Add(ctx, 1)
}

// StartSpan starts a span named name with attrs.
func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return tracenoop.NewTracerProvider().Tracer(scope).Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
