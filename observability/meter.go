package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/lexfront/connkit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Instruments holds the connkit metric instruments.
type Instruments struct {
	transitions    metric.Int64Counter
	reconnectDelay metric.Float64Histogram
	exhausted      metric.Int64Counter
	messages       metric.Int64Counter
	resolutions    metric.Int64Counter
	resolveTime    metric.Float64Histogram
	clientEvents   metric.Int64Counter
	observed       metric.Int64Counter
	incidents      metric.Int64Counter
	remedies       metric.Int64Counter
}

// NewInstruments creates the connkit instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&in.transitions, "connkit.connection.transitions", "Connection state transitions"},
		{&in.exhausted, "connkit.connection.exhausted", "Reconnect episodes that ran out of attempts"},
		{&in.messages, "connkit.connection.messages", "Inbound messages"},
		{&in.resolutions, "connkit.resolver.resolutions", "Module resolutions by serving tier"},
		{&in.clientEvents, "connkit.client.events", "Client registry events"},
		{&in.observed, "connkit.recovery.observed", "Errors observed by class and scope"},
		{&in.incidents, "connkit.recovery.incidents", "Recovery incidents"},
		{&in.remedies, "connkit.recovery.remedies", "Remedy outcomes"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	in.reconnectDelay, err = meter.Float64Histogram("connkit.connection.reconnect_delay",
		metric.WithDescription("Scheduled reconnect delay"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating reconnect_delay histogram: %w", err)
	}
	in.resolveTime, err = meter.Float64Histogram("connkit.resolver.duration",
		metric.WithDescription("Time to resolve a module across tiers"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resolver.duration histogram: %w", err)
	}
	return &in, nil
}

// RecordTransition counts a state change and, for reconnects, the delay.
func (in *Instruments) RecordTransition(ctx context.Context, from, to string, delay time.Duration) {
	in.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
	if delay > 0 {
		in.reconnectDelay.Record(ctx, delay.Seconds())
	}
}

// RecordExhausted counts a spent reconnect budget.
func (in *Instruments) RecordExhausted(ctx context.Context) {
	in.exhausted.Add(ctx, 1)
}

// RecordMessage counts one inbound message.
func (in *Instruments) RecordMessage(ctx context.Context) {
	in.messages.Add(ctx, 1)
}

// RecordResolution counts a resolution by serving tier.
func (in *Instruments) RecordResolution(ctx context.Context, source string, stub bool, d time.Duration) {
	in.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("stub", stub),
	))
	in.resolveTime.Record(ctx, d.Seconds())
}

// RecordClientEvent counts a client registry event.
func (in *Instruments) RecordClientEvent(ctx context.Context, event, key string) {
	in.clientEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("key", key),
	))
}

// RecordObserved counts a classified error.
func (in *Instruments) RecordObserved(ctx context.Context, class, scope string) {
	in.observed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("scope", scope),
	))
}

// RecordIncident counts an incident.
func (in *Instruments) RecordIncident(ctx context.Context, scope string, broad bool) {
	in.incidents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.Bool("broad", broad),
	))
}

// RecordRemedy counts a remedy outcome such as "applied" or "failed".
func (in *Instruments) RecordRemedy(ctx context.Context, scope, outcome string) {
	in.remedies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}
