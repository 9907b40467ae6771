package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexfront/connkit/logger"
)

// ErrStaleConnection is reported when no frame arrives within PongTimeout.
var ErrStaleConnection = stderrors.New("connection: stale, no frames within pong timeout")

// WebSocketConfig configures WebSocketTransport.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout" validate:"gte=0"`
	WriteTimeout     time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gte=0"`
	// PingInterval is how often a keepalive ping is sent. Zero disables it.
	PingInterval time.Duration `yaml:"ping_interval" mapstructure:"ping_interval" validate:"gte=0"`
	// PongTimeout is how long the connection may stay silent before it is
	// considered stale and closed with CloseAbnormal.
	PongTimeout time.Duration     `yaml:"pong_timeout" mapstructure:"pong_timeout" validate:"gte=0"`
	ReadLimit   int64             `yaml:"read_limit" mapstructure:"read_limit" validate:"gte=0"`
	Headers     map[string]string `yaml:"headers" mapstructure:"headers"`
}

// ApplyDefaults fills zero durations.
func (c *WebSocketConfig) ApplyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval > 0 && c.PongTimeout <= 0 {
		c.PongTimeout = 3 * c.PingInterval
	}
}

// WebSocketTransport opens gorilla/websocket connections.
type WebSocketTransport struct {
	cfg    WebSocketConfig
	tokens TokenSource
	dialer *websocket.Dialer
	log    *logger.Logger
}

// NewWebSocketTransport creates a transport. tokens may be nil.
func NewWebSocketTransport(cfg WebSocketConfig, tokens TokenSource, log *logger.Logger) *WebSocketTransport {
	cfg.ApplyDefaults()
	return &WebSocketTransport{
		cfg:    cfg,
		tokens: tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: logger.OrDefault(log, "websocket"),
	}
}

// Open implements Transport.
func (t *WebSocketTransport) Open(ctx context.Context, url string, cb Callbacks) (Conn, error) {
	header := http.Header{}
	for k, v := range t.cfg.Headers {
		header.Set(k, v)
	}
	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("mint handshake token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if t.cfg.ReadLimit > 0 {
		ws.SetReadLimit(t.cfg.ReadLimit)
	}

	c := &wsConn{
		ws:       ws,
		cb:       cb,
		cfg:      t.cfg,
		log:      t.log,
		done:     make(chan struct{}),
		lastSeen: time.Now(),
	}
	ws.SetPingHandler(func(data string) error {
		c.touch()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	if t.cfg.PingInterval > 0 {
		go c.keepalive()
	}
	return c, nil
}

type wsConn struct {
	ws  *websocket.Conn
	cb  Callbacks
	cfg WebSocketConfig
	log *logger.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	lastSeen time.Time
	finished bool // set once by a local Close or the first failure
	done     chan struct{}
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *wsConn) silence() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSeen)
}

// finish marks the connection ended and reports whether the caller won.
func (c *wsConn) finish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return false
	}
	c.finished = true
	close(c.done)
	return true
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears the socket down. No callbacks fire
// after a local Close.
func (c *wsConn) Close(code int, reason string) error {
	if !c.finish() {
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		c.touch()
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(data)
		}
	}
}

// fail ends the connection after a read or keepalive failure. Close frames
// from the peer map to their own code; anything else is an abnormal close.
func (c *wsConn) fail(err error) {
	if !c.finish() {
		return
	}
	_ = c.ws.Close()

	var ce *websocket.CloseError
	if stderrors.As(err, &ce) {
		if c.cb.OnClose != nil {
			c.cb.OnClose(ce.Code, ce.Text)
		}
		return
	}
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
	if c.cb.OnClose != nil {
		c.cb.OnClose(CloseAbnormal, err.Error())
	}
}

func (c *wsConn) keepalive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.writeMu.Lock()
		err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		if err != nil {
			c.log.Debug("keepalive ping failed", logger.ErrorFields("ping", err))
		}

		if silent := c.silence(); silent > c.cfg.PongTimeout {
			c.log.Warn("connection stale", logger.Fields("silent_ms", silent.Milliseconds()))
			c.fail(ErrStaleConnection)
			return
		}
	}
}
