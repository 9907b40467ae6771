package statusapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lexfront/connkit/logger"
)

// Stream event names.
const (
	StreamConnected = "connected"
	StreamKeepAlive = "keepalive"
)

// DefaultKeepAlive is shorter than common proxy idle timeouts.
const DefaultKeepAlive = 30 * time.Second

type streamEvent struct {
	name string
	data []byte
}

type subscriber struct {
	id     string
	events chan streamEvent
}

// EventStream fans lifecycle events out to server-sent-event clients. A
// slow client loses events instead of blocking publishers.
type EventStream struct {
	mu        sync.Mutex
	clients   map[string]*subscriber
	closed    bool
	buffer    int
	keepAlive time.Duration
	log       *logger.Logger
}

// NewEventStream creates an EventStream with per-client buffers of size
// buffer.
func NewEventStream(buffer int, log *logger.Logger) *EventStream {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventStream{
		clients:   make(map[string]*subscriber),
		buffer:    buffer,
		keepAlive: DefaultKeepAlive,
		log:       logger.OrDefault(log, "status-api"),
	}
}

// Publish encodes v as JSON and queues it for every client under name.
func (s *EventStream) Publish(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("stream event not encodable", logger.MergeWithError(logger.Fields("event", name), err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.events <- streamEvent{name: name, data: data}:
		default:
			s.log.Warn("stream client too slow, dropping event", logger.Fields("client_id", c.id, "event", name))
		}
	}
}

// Clients returns the number of connected clients.
func (s *EventStream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client. Later subscriptions end immediately.
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, c := range s.clients {
		close(c.events)
		delete(s.clients, id)
	}
}

func (s *EventStream) subscribe() (*subscriber, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	c := &subscriber{id: uuid.NewString(), events: make(chan streamEvent, s.buffer)}
	s.clients[c.id] = c
	return c, true
}

func (s *EventStream) unsubscribe(c *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.events)
	}
}

// handler streams events until the client leaves or the stream closes.
func (s *EventStream) handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, ok := s.subscribe()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream closed"})
			return
		}
		defer s.unsubscribe(sub)

		// Long-lived responses must outlive the server's WriteTimeout.
		if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
			s.log.Debug("could not clear write deadline", logger.ErrorFields("stream", err))
		}
		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		writeEvent(c, StreamConnected, fmt.Appendf(nil, `{"client_id":%q}`, sub.id))

		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = fmt.Fprintf(c.Writer, ": %s\n\n", StreamKeepAlive)
				c.Writer.Flush()
			case ev, ok := <-sub.events:
				if !ok {
					return
				}
				writeEvent(c, ev.name, ev.data)
			}
		}
	}
}

func writeEvent(c *gin.Context, name string, data []byte) {
	_, _ = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, data)
	c.Writer.Flush()
}
