package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/lexfront/connkit/logger"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// echoServer echoes text frames and records the Authorization header.
func echoServer(t *testing.T, auth *string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth != nil {
			*auth = r.Header.Get("Authorization")
		}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "close" {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type closeRecord struct {
	code   int
	reason string
}

func TestWebSocketTransport_EchoAndRemoteClose(t *testing.T) {
	var auth string
	srv := echoServer(t, &auth)

	tokens, err := NewSignedTokenSource(TokenConfig{Secret: "s3cret", Issuer: "connkit", TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	tr := NewWebSocketTransport(WebSocketConfig{}, tokens, logger.Nop())

	msgs := make(chan string, 4)
	closed := make(chan closeRecord, 1)
	conn, err := tr.Open(context.Background(), wsURL(srv), Callbacks{
		OnMessage: func(data []byte) { msgs <- string(data) },
		OnClose:   func(code int, reason string) { closed <- closeRecord{code, reason} },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		t.Errorf("Authorization = %q, want bearer token", auth)
	}

	if err := conn.Send(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-msgs:
		if got != "ping" {
			t.Errorf("echo = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}

	_ = conn.Send(context.Background(), []byte("close"))
	select {
	case c := <-closed:
		if c.code != websocket.CloseGoingAway || c.reason != "shutdown" {
			t.Errorf("close = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no close callback")
	}
}

func TestWebSocketTransport_LocalCloseSuppressesCallbacks(t *testing.T) {
	srv := echoServer(t, nil)
	tr := NewWebSocketTransport(WebSocketConfig{}, nil, logger.Nop())

	var mu sync.Mutex
	calls := 0
	conn, err := tr.Open(context.Background(), wsURL(srv), Callbacks{
		OnClose: func(int, string) { mu.Lock(); calls++; mu.Unlock() },
		OnError: func(error) { mu.Lock(); calls++; mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := conn.Close(CloseNormal, "bye"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callbacks after local close = %d, want 0", calls)
	}
}

func TestWebSocketTransport_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	tr := NewWebSocketTransport(WebSocketConfig{HandshakeTimeout: time.Second}, nil, logger.Nop())

	if _, err := tr.Open(context.Background(), wsURL(srv), Callbacks{}); err == nil {
		t.Fatal("expected handshake error")
	}
}

func TestWebSocketTransport_WithManager(t *testing.T) {
	srv := echoServer(t, nil)
	tr := NewWebSocketTransport(WebSocketConfig{}, nil, logger.Nop())
	m := NewManager(wsURL(srv), tr, testPolicy(2), WithLogger(logger.Nop()))

	msgs := make(chan string, 1)
	m.Subscribe(func(e Event) {
		if e.Type == EventMessage {
			msgs <- string(e.Data)
		}
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.State() != StateOpen {
		t.Fatalf("state = %s, want open", m.State())
	}
	if err := m.Send(context.Background(), []byte("hello")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-msgs:
		if got != "hello" {
			t.Errorf("message = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.State() != StateClosed {
		t.Errorf("state = %s, want closed", m.State())
	}
}

func TestSignedTokenSource(t *testing.T) {
	if _, err := NewSignedTokenSource(TokenConfig{}); err == nil {
		t.Fatal("expected error for empty secret")
	}

	src, err := NewSignedTokenSource(TokenConfig{Secret: "k", Issuer: "connkit", Subject: "client-1", Audience: "gateway"})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := src.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	claims := &gojwt.RegisteredClaims{}
	_, err = gojwt.ParseWithClaims(raw, claims, func(*gojwt.Token) (any, error) { return []byte("k"), nil },
		gojwt.WithAudience("gateway"), gojwt.WithIssuer("connkit"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "client-1" || claims.ID == "" {
		t.Errorf("claims = %+v", claims)
	}

	second, _ := src.Token(context.Background())
	if second == raw {
		t.Error("tokens should be unique per dial")
	}
}
