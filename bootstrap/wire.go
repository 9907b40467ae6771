package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lexfront/connkit/client"
	"github.com/lexfront/connkit/connection"
	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/observability"
	"github.com/lexfront/connkit/recovery"
	"github.com/lexfront/connkit/resolver"
	"github.com/lexfront/connkit/statusapi"
)

// wire connects the event streams of the connection, the resolver and the
// client registry to the coordinator and the instruments.
func (a *App) wire() {
	ctx := context.Background()
	in := a.instruments

	a.unsubscribe = append(a.unsubscribe, a.Connection.Subscribe(func(e connection.Event) {
		switch e.Type {
		case connection.EventStateChange:
			in.RecordTransition(ctx, e.From.String(), e.To.String(), e.Delay)
			a.stream("connection", stateEvent(e))
			if e.To == connection.StateOpen {
				a.Recovery.MarkRecovered(recovery.ScopeTransport)
			}
		case connection.EventTransportError:
			a.Recovery.Observe(e.Err)
		case connection.EventExhausted:
			in.RecordExhausted(ctx)
			a.Recovery.Observe(e.Err)
		case connection.EventMessage:
			in.RecordMessage(ctx)
		}
	}))

	a.unsubscribe = append(a.unsubscribe, a.Resolver.OnResolved(func(r resolver.Resolution) {
		in.RecordResolution(ctx, r.Source, r.Stub, r.Duration)
		for _, att := range r.Attempts {
			if att.Skipped || att.Error == "" || att.Error == resolver.ErrNotFound.Error() {
				continue
			}
			a.Recovery.Observe(errors.LoaderTierError(att.Tier, r.ID, stderrors.New(att.Error)))
		}
		if !r.Stub {
			a.Recovery.MarkRecovered(recovery.ScopeModule)
		}
	}))

	a.unsubscribe = append(a.unsubscribe, a.Clients.Subscribe(func(e client.Event) {
		in.RecordClientEvent(ctx, string(e.Type), e.Key)
		switch e.Type {
		case client.EventFailed:
			a.Recovery.Observe(e.Err)
		case client.EventCreated:
			a.Recovery.MarkRecovered(recovery.ScopeClient)
		}
	}))

	a.unsubscribe = append(a.unsubscribe, a.Recovery.Subscribe(func(e recovery.Event) {
		if e.Type != recovery.EventClassified {
			a.stream("recovery", recoveryEvent(e))
		}
		switch e.Type {
		case recovery.EventClassified:
			in.RecordObserved(ctx, e.Class.String(), e.Scope)
		case recovery.EventIncident:
			in.RecordIncident(ctx, e.Scope, e.Incident != nil && e.Incident.Broad)
		case recovery.EventRemedyApplied, recovery.EventRemedyFailed,
			recovery.EventBroadSuppressed, recovery.EventUnremedied:
			in.RecordRemedy(ctx, e.Scope, string(e.Type))
		}
	}))
}

// stream publishes to status API event clients when the API is enabled.
func (a *App) stream(name string, v any) {
	if a.events != nil {
		a.events.Publish(name, v)
	}
}

type streamedState struct {
	From    connection.State `json:"from"`
	To      connection.State `json:"to"`
	Attempt int              `json:"attempt,omitempty"`
	DelayMS int64            `json:"delay_ms,omitempty"`
	Code    int              `json:"code,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func stateEvent(e connection.Event) streamedState {
	s := streamedState{From: e.From, To: e.To, Attempt: e.Attempt, DelayMS: e.Delay.Milliseconds(), Code: e.Code}
	if e.Err != nil {
		s.Error = e.Err.Error()
	}
	return s
}

type streamedRecovery struct {
	Type     recovery.EventType `json:"type"`
	Scope    string             `json:"scope,omitempty"`
	Incident *recovery.Incident `json:"incident,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func recoveryEvent(e recovery.Event) streamedRecovery {
	s := streamedRecovery{Type: e.Type, Scope: e.Scope, Incident: e.Incident}
	if e.Err != nil {
		s.Error = e.Err.Error()
	}
	return s
}

// --- remedies ---

// reconnect leaves a connection alone that reopened after the incident's
// first error.
func (a *App) reconnect(ctx context.Context, inc recovery.Incident) error {
	if st := a.Connection.Status(); st.State == connection.StateOpen && st.LastTransition.After(inc.First) {
		return nil
	}
	return a.Connection.Reconnect(ctx)
}

func (a *App) bypassPrimary(context.Context, recovery.Incident) error {
	a.Resolver.SetBypassPrimary(true)
	return nil
}

// resetClient rebuilds the client named by the incident's last error.
func (a *App) resetClient(ctx context.Context, inc recovery.Incident) error {
	key := clientKey(inc.Last)
	if key == "" {
		return errors.Internal(fmt.Errorf("incident %s names no client key", inc.ID))
	}
	a.Clients.Reset(key)
	_, err := a.Clients.Client(ctx, key)
	return err
}

func (a *App) resetAll(ctx context.Context, _ recovery.Incident) error {
	a.Clients.ResetAll()
	return a.Connection.Reconnect(ctx)
}

func clientKey(err error) string {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.Detail("key")
	}
	return ""
}

func tracedRemedy(r recovery.Remedy) recovery.Remedy {
	return func(ctx context.Context, inc recovery.Incident) error {
		return observability.Traced(ctx, observability.SpanRemedy, func(ctx context.Context) error {
			return r(ctx, inc)
		},
			attribute.String(observability.AttrScope, inc.Scope),
			attribute.String(observability.AttrIncident, inc.ID),
			attribute.Bool(observability.AttrBroad, inc.Broad))
	}
}

// --- backend factory decorators ---

func (a *App) retrying(_ string, f client.Factory) client.Factory {
	return client.WithRetry(a.Cfg.Retry, f)
}

func traced(key string, f client.Factory) client.Factory {
	return func(ctx context.Context) (any, error) {
		var v any
		err := observability.Traced(ctx, observability.SpanConstruct, func(ctx context.Context) error {
			var err error
			v, err = f(ctx)
			return err
		}, attribute.String(observability.AttrKey, key))
		return v, err
	}
}

// --- status API ---

func (a *App) sources() statusapi.Sources {
	src := statusapi.Sources{
		Service:    a.Name,
		Health:     a.Components.HealthAll,
		Connection: a.Connection.Status,
		Modules:    a.Resolver.Resolutions,
		Recovery:   a.Recovery.Counters,
		Clients:    a.Clients.Statuses,
		Events:     a.events,
	}
	if a.Cfg.Status.AllowReset {
		src.HardReset = func(ctx context.Context) error {
			return observability.Traced(ctx, observability.SpanHardReset, a.Recovery.HardReset)
		}
	}
	return src
}
