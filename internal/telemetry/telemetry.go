// Package telemetry wires OpenTelemetry traces, metrics and logs exported
// over OTLP gRPC.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Settings identifies the service to the collector.
type Settings struct {
	ServiceName  string
	Environment  string
	OTLPEndpoint string
}

// Providers holds the initialized providers and the bridged logger.
type Providers struct {
	Logger    *slog.Logger
	shutdowns []func(context.Context) error
}

// Shutdown flushes and stops every provider, in reverse start order.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdowns) - 1; i >= 0; i-- {
		if err := p.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Setup initializes tracer, meter and logger providers in that order; the
// logger comes last so log records carry trace context.
func Setup(ctx context.Context, s Settings) (*Providers, error) {
	p := &Providers{}

	tp, err := InitTracerProvider(ctx, s)
	if err != nil {
		return nil, err
	}
	p.shutdowns = append(p.shutdowns, tp.Shutdown)

	mp, err := InitMeterProvider(ctx, s)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	p.shutdowns = append(p.shutdowns, mp.Shutdown)

	lp, logger, err := InitLoggerProvider(ctx, s)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	p.shutdowns = append(p.shutdowns, lp.Shutdown)
	p.Logger = logger

	return p, nil
}

func newConn(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return conn, nil
}

func newResource(s Settings) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(s.ServiceName),
			semconv.DeploymentEnvironment(s.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
