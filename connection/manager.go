package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexfront/connkit/component"
	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/hooks"
	"github.com/lexfront/connkit/logger"
)

// ErrNotOpen is returned by Send outside StateOpen. The payload is dropped.
var ErrNotOpen = stderrors.New("connection: not open")

// timer is the part of *time.Timer the manager needs.
type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer { return time.AfterFunc(d, f) }

// Status is a point-in-time view of a Manager.
type Status struct {
	URL            string    `json:"url"`
	State          State     `json:"state"`
	Attempt        int       `json:"attempt"`
	Exhausted      bool      `json:"exhausted"`
	LastTransition time.Time `json:"last_transition"`
	LastError      string    `json:"last_error,omitempty"`
}

// Manager owns the lifecycle of one duplex connection.
type Manager struct {
	url       string
	transport Transport
	policy    Policy
	log       *logger.Logger
	hub       hooks.Hub[Event]
	after     afterFunc
	now       func() time.Time

	mu         sync.Mutex
	state      State
	attempt    int
	exhausted  bool
	epoch      uint64 // invalidates pending timers and in-flight dials
	gen        uint64 // invalidates callbacks of replaced connections
	conn       Conn
	timer      timer
	cancelDial context.CancelFunc
	early      *closeInfo // close reported while the dial was still in flight
	lastErr    error
	lastAt     time.Time

	queue    []Event
	flushing bool
}

type closeInfo struct {
	code   int
	reason string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates an Idle manager for url. The policy is used as given
// after ApplyDefaults.
func NewManager(url string, transport Transport, policy Policy, opts ...Option) *Manager {
	policy.ApplyDefaults()
	m := &Manager{
		url:       url,
		transport: transport,
		policy:    policy,
		after:     realAfterFunc,
		now:       time.Now,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.OrDefault(m.log, "connection").WithFields(logger.Fields(logger.FieldURL, url))
	m.lastAt = m.now()
	return m
}

// Subscribe registers fn for every Event and returns its unsubscribe func.
// Events are delivered in the order the manager produced them.
func (m *Manager) Subscribe(fn func(Event)) func() {
	return m.hub.Subscribe(fn)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot for diagnostics.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		URL:            m.url,
		State:          m.state,
		Attempt:        m.attempt,
		Exhausted:      m.exhausted,
		LastTransition: m.lastAt,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Connect starts a connection episode from Idle or Closed. It is a no-op in
// any other state. A failed open is not returned; it moves the manager to
// Reconnecting and is reported through events.
func (m *Manager) Connect(ctx context.Context) error {
	if m.url == "" {
		return errors.ConfigurationIssue("connection.url", "must not be empty")
	}
	m.mu.Lock()
	if m.state != StateIdle && m.state != StateClosed {
		m.mu.Unlock()
		return nil
	}
	ep := m.beginEpisodeLocked()
	m.setStateLocked(Event{To: StateConnecting})
	m.unlockAndFlush()

	m.dial(ctx, ep)
	return nil
}

// Reconnect drops the current connection, if any, and starts a fresh
// episode with the attempt count at zero. It is a no-op while Connecting,
// Reconnecting or Closing; a pending reconnect keeps its backoff and budget.
// From Closed it resumes after an exhausted episode.
func (m *Manager) Reconnect(ctx context.Context) error {
	if m.url == "" {
		return errors.ConfigurationIssue("connection.url", "must not be empty")
	}
	m.mu.Lock()
	switch m.state {
	case StateClosing, StateConnecting, StateReconnecting:
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	m.conn = nil
	ep := m.beginEpisodeLocked()
	if conn != nil {
		m.setStateLocked(Event{To: StateClosed, Code: CloseReconnect})
	}
	m.setStateLocked(Event{To: StateConnecting})
	m.unlockAndFlush()

	if conn != nil {
		if err := conn.Close(CloseReconnect, "reconnect"); err != nil {
			m.log.Debug("close before reconnect failed", logger.ErrorFields("close", err))
		}
	}
	m.dial(ctx, ep)
	return nil
}

// Disconnect closes the connection with CloseNormal and cancels any pending
// reconnect. The manager ends in Closed and does not reconnect.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateIdle || m.state == StateClosing || (m.state == StateClosed && m.conn == nil && m.timer == nil) {
		m.mu.Unlock()
		return nil
	}
	m.invalidateLocked()
	conn := m.conn
	m.conn = nil
	m.setStateLocked(Event{To: StateClosing})
	m.unlockAndFlush()

	var err error
	if conn != nil {
		err = conn.Close(CloseNormal, "client disconnect")
	}

	m.mu.Lock()
	m.setStateLocked(Event{To: StateClosed, Code: CloseNormal})
	m.unlockAndFlush()
	return err
}

// Send writes data on the open connection.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		return ErrNotOpen
	}
	conn := m.conn
	m.mu.Unlock()
	return conn.Send(ctx, data)
}

// beginEpisodeLocked invalidates everything from the previous episode.
func (m *Manager) beginEpisodeLocked() uint64 {
	m.invalidateLocked()
	m.attempt = 0
	m.exhausted = false
	return m.epoch
}

func (m *Manager) invalidateLocked() {
	m.epoch++
	m.gen++
	m.early = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
}

// dial runs one open attempt for episode ep. State must be Connecting.
func (m *Manager) dial(parent context.Context, ep uint64) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.policy.DialTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, m.policy.DialTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	m.mu.Lock()
	if ep != m.epoch {
		m.mu.Unlock()
		return
	}
	m.cancelDial = cancel
	m.gen++
	m.early = nil
	gen := m.gen
	m.mu.Unlock()

	conn, err := m.transport.Open(ctx, m.url, m.callbacks(gen))

	m.mu.Lock()
	if ep != m.epoch || m.state != StateConnecting {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal, "superseded")
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		m.failLocked(errors.TransportError(m.url, err), 0)
		m.unlockAndFlush()
		return
	}

	m.conn = conn
	m.attempt = 0
	m.exhausted = false
	m.lastErr = nil
	m.setStateLocked(Event{To: StateOpen})
	if early := m.early; early != nil {
		m.early = nil
		m.closedLocked(early.code, early.reason)
	}
	m.unlockAndFlush()
}

// failLocked records err and either schedules the next reconnect or, when
// the budget is spent, ends the episode.
func (m *Manager) failLocked(err error, code int) {
	m.lastErr = err
	if m.attempt >= m.policy.MaxAttempts {
		if m.state != StateClosed {
			m.setStateLocked(Event{To: StateClosed, Err: err, Code: code, Attempt: m.attempt, Terminal: true})
		}
		if !m.exhausted {
			m.exhausted = true
			m.emitLocked(Event{
				Type:    EventExhausted,
				Attempt: m.attempt,
				Err:     errors.MaxReconnectAttemptsExceeded(m.url, m.attempt, err),
			})
		}
		return
	}

	m.attempt++
	delay := m.policy.Delay(m.attempt)
	m.setStateLocked(Event{To: StateReconnecting, Attempt: m.attempt, Delay: delay, Err: err})
	ep := m.epoch
	m.timer = m.after(delay, func() { m.fire(ep) })
}

// fire runs when a reconnect timer elapses. Cancelled or superseded timers
// are detected here through the epoch.
func (m *Manager) fire(ep uint64) {
	m.mu.Lock()
	if ep != m.epoch || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.setStateLocked(Event{To: StateConnecting, Attempt: m.attempt})
	m.unlockAndFlush()

	m.dial(context.Background(), ep)
}

func (m *Manager) callbacks(gen uint64) Callbacks {
	return Callbacks{
		OnMessage: func(data []byte) {
			m.mu.Lock()
			if gen == m.gen && m.state == StateOpen {
				m.emitLocked(Event{Type: EventMessage, Data: data})
			}
			m.unlockAndFlush()
		},
		OnError: func(err error) {
			m.mu.Lock()
			if gen == m.gen {
				m.emitLocked(Event{Type: EventTransportError, Err: errors.TransportError(m.url, err)})
			}
			m.unlockAndFlush()
		},
		OnClose: func(code int, reason string) {
			m.mu.Lock()
			if gen == m.gen {
				switch m.state {
				case StateConnecting:
					m.early = &closeInfo{code: code, reason: reason}
				case StateOpen:
					m.closedLocked(code, reason)
				}
			}
			m.unlockAndFlush()
		},
	}
}

// closedLocked handles a remote close of the open connection.
func (m *Manager) closedLocked(code int, reason string) {
	m.conn = nil
	m.gen++
	if code == CloseNormal {
		m.setStateLocked(Event{To: StateClosed, Code: code})
		return
	}
	err := errors.TransportError(m.url, fmt.Errorf("closed with code %d: %s", code, reason)).WithDetail(logger.FieldCode, code)
	if m.attempt < m.policy.MaxAttempts {
		m.setStateLocked(Event{To: StateClosed, Code: code, Err: err})
	}
	// with the budget spent failLocked emits the one terminal Closed
	m.failLocked(err, code)
}

func (m *Manager) setStateLocked(e Event) {
	e.Type = EventStateChange
	e.From = m.state
	m.state = e.To
	m.lastAt = m.now()
	m.emitLocked(e)
}

func (m *Manager) emitLocked(e Event) {
	e.At = m.now()
	m.queue = append(m.queue, e)
}

// unlockAndFlush releases mu and delivers queued events outside the lock.
// Only one goroutine delivers at a time, so subscribers see events in the
// order they were produced and may call back into the manager.
func (m *Manager) unlockAndFlush() {
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.queue) > 0 {
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()
		for _, e := range batch {
			m.logEvent(e)
			m.hub.Publish(e)
		}
		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}

func (m *Manager) logEvent(e Event) {
	switch e.Type {
	case EventStateChange:
		fields := logger.Fields(logger.FieldFrom, e.From.String(), logger.FieldTo, e.To.String())
		if e.Attempt > 0 {
			fields[logger.FieldAttempt] = e.Attempt
		}
		if e.Delay > 0 {
			fields[logger.FieldDelay] = e.Delay.Milliseconds()
		}
		if e.Code != 0 {
			fields[logger.FieldCode] = e.Code
		}
		fields = logger.MergeWithError(fields, e.Err)
		if e.Terminal {
			m.log.Error("connection closed, reconnect budget spent", fields)
			return
		}
		m.log.Info("connection state changed", fields)
	case EventTransportError:
		m.log.Warn("transport error", logger.MergeWithError(nil, e.Err))
	case EventExhausted:
		m.log.Error("max reconnect attempts exceeded", logger.Fields(logger.FieldAttempt, e.Attempt))
	}
}

// --- component.Component ---

// Name implements component.Component.
func (m *Manager) Name() string { return "connection" }

// Start implements component.Component by calling Connect.
func (m *Manager) Start(ctx context.Context) error { return m.Connect(ctx) }

// Stop implements component.Component by calling Disconnect.
func (m *Manager) Stop(ctx context.Context) error { return m.Disconnect(ctx) }

// Health implements component.Component.
func (m *Manager) Health(ctx context.Context) component.Health {
	s := m.Status()
	h := component.Health{Name: m.Name(), Message: s.State.String()}
	switch {
	case s.State == StateOpen:
		h.Status = component.StatusHealthy
	case s.State == StateConnecting || s.State == StateReconnecting:
		h.Status = component.StatusDegraded
	case s.Exhausted:
		h.Status = component.StatusUnhealthy
		h.Message = s.LastError
	default:
		h.Status = component.StatusUnhealthy
	}
	return h
}

// Describe implements component.Describable.
func (m *Manager) Describe() component.Description {
	return component.Description{
		Type:    "connection",
		Details: fmt.Sprintf("%s max_attempts=%d base=%s", m.url, m.policy.MaxAttempts, m.policy.BaseInterval),
	}
}
