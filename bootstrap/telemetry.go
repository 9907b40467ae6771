package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/lexfront/connkit/component"
	"github.com/lexfront/connkit/observability"
)

// telemetry installs the OTLP providers on Start and flushes them on Stop.
// Instruments created earlier from the global provider start exporting once
// the providers are installed.
type telemetry struct {
	cfg                   observability.Config
	service, version, env string

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

func (t *telemetry) Name() string { return "telemetry" }

func (t *telemetry) Start(ctx context.Context) error {
	if !t.cfg.Enabled {
		return nil
	}
	tp, err := observability.InitTracer(ctx, t.cfg.TracerConfig(t.service, t.version, t.env))
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	mp, err := observability.InitMeter(ctx, t.cfg.MeterConfig(t.service, t.version, t.env))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("init meter: %w", err)
	}
	t.tp, t.mp = tp, mp
	return nil
}

func (t *telemetry) Stop(ctx context.Context) error {
	var errs []error
	if t.mp != nil {
		errs = append(errs, t.mp.Shutdown(ctx))
	}
	if t.tp != nil {
		errs = append(errs, t.tp.Shutdown(ctx))
	}
	t.tp, t.mp = nil, nil
	return stderrors.Join(errs...)
}

func (t *telemetry) Health(context.Context) component.Health {
	h := component.Health{Name: t.Name(), Status: component.StatusHealthy, Message: "disabled"}
	if t.cfg.Enabled {
		h.Message = t.cfg.Endpoint
	}
	return h
}

func (t *telemetry) Describe() component.Description {
	if !t.cfg.Enabled {
		return component.Description{Type: "telemetry", Details: "disabled"}
	}
	return component.Description{Type: "telemetry", Details: "otlp " + t.cfg.Endpoint}
}
