package bootstrap

import (
	"net/http"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"

	"github.com/lexfront/connkit/connection"
	"github.com/lexfront/connkit/logger"
	"github.com/lexfront/connkit/resolver"
)

// Option configures the App during creation.
type Option func(*appOptions)

// appOptions collects all option values before applying to App.
type appOptions struct {
	logger          *logger.Logger
	gracefulTimeout *time.Duration
	transport       connection.Transport
	httpClient      *http.Client
	fs              afero.Fs
	meter           metric.Meter
	tiers           []resolver.Tier
}

// resolveOptions applies all options and returns the collected values.
func resolveOptions(opts []Option) *appOptions {
	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets a custom logger for the application.
// If not set, the logger is initialized from the config's Logging field.
func WithLogger(l *logger.Logger) Option {
	return func(o *appOptions) {
		o.logger = l
	}
}

// WithGracefulTimeout overrides Config.GracefulTimeout.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *appOptions) {
		o.gracefulTimeout = &d
	}
}

// WithTransport replaces the websocket transport.
func WithTransport(t connection.Transport) Option {
	return func(o *appOptions) {
		o.transport = t
	}
}

// WithHTTPClient sets the client used by the CDN tier.
func WithHTTPClient(c *http.Client) Option {
	return func(o *appOptions) {
		o.httpClient = c
	}
}

// WithFs sets the filesystem the mirror tier reads from.
func WithFs(fs afero.Fs) Option {
	return func(o *appOptions) {
		o.fs = fs
	}
}

// WithMeter sets the meter for connkit instruments. Defaults to the global
// provider's "connkit" meter.
func WithMeter(m metric.Meter) Option {
	return func(o *appOptions) {
		o.meter = m
	}
}

// WithTiers appends resolver tiers after the configured ones.
func WithTiers(tiers ...resolver.Tier) Option {
	return func(o *appOptions) {
		o.tiers = append(o.tiers, tiers...)
	}
}
