// Package telemetry wires OpenTelemetry export for the process.
//
// New installs tracer and meter providers globally, so instrumented
// packages pull named tracers from the otel registry instead of
// threading a handle around. Export is off by default, and exporter
// failures degrade to no-op: a missing collector must never break a
// command.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/config"
)

// shutdownTimeout bounds provider shutdown when the caller's context
// carries no deadline.
const shutdownTimeout = 5 * time.Second

// Options configures telemetry setup.
type Options struct {
	Config config.TelemetryConfig

	// Version is stamped on the service resource.
	Version string

	Logger *zap.Logger
}

// Telemetry owns the tracer and meter providers for the process.
type Telemetry struct {
	cfg    config.TelemetryConfig
	logger *zap.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	degraded atomic.Bool
}

// New builds providers from opts and installs them globally. With
// export disabled it returns an inert instance and the otel globals
// stay no-op. An exporter that cannot be constructed marks the
// instance degraded rather than failing the caller; the config is
// assumed to have passed config.Validate.
func New(ctx context.Context, opts Options) *Telemetry {
	t := &Telemetry{
		cfg:    opts.Config,
		logger: opts.Logger,
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if !t.cfg.Enabled {
		return t
	}

	res := newResource(opts.Version)

	tp, err := newTracerProvider(ctx, t.cfg, res)
	if err != nil {
		t.setDegraded("traces", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, t.cfg, res)
	if err != nil {
		t.setDegraded("metrics", err)
	} else if mp != nil {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t
}

// Degraded reports whether any exporter failed to come up.
func (t *Telemetry) Degraded() bool {
	return t != nil && t.degraded.Load()
}

// Shutdown flushes pending telemetry and stops the providers. Safe on
// a nil or inert instance.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) setDegraded(what string, err error) {
	t.degraded.Store(true)
	t.logger.Warn("telemetry exporter unavailable, continuing without "+what, zap.Error(err))
}
