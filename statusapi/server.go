package statusapi

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lexfront/connkit/component"
	"github.com/lexfront/connkit/logger"
)

// Server runs the status API as a component.
type Server struct {
	cfg    Config
	engine *gin.Engine
	http   *http.Server
	log    *logger.Logger
	addr   string
	events *EventStream
}

// New creates a Server for src.
func New(cfg Config, src Sources, log *logger.Logger) *Server {
	cfg.ApplyDefaults()
	log = logger.OrDefault(log, "status-api")
	engine := NewEngine(src, log)
	return &Server{
		cfg:    cfg,
		engine: engine,
		log:    log,
		events: src.Events,
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Engine exposes the gin engine for extra routes.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.addr != "" {
		return s.addr
	}
	return s.http.Addr
}

// Name implements component.Component.
func (s *Server) Name() string { return "status-api" }

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("status api failed to bind %s: %w", s.http.Addr, err)
	}
	s.addr = ln.Addr().String()

	go func() {
		if err := s.http.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.log.Error("status api stopped", logger.ErrorFields("serve", err))
		}
	}()
	s.log.Info("status api listening", logger.Fields("addr", s.addr))
	return nil
}

// Stop ends open event streams and shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.events != nil {
		s.events.Close()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("status api shutdown: %w", err)
	}
	return nil
}

// Health implements component.Component.
func (s *Server) Health(context.Context) component.Health {
	if s.addr == "" {
		return component.Health{Name: s.Name(), Status: component.StatusUnhealthy, Message: "not listening"}
	}
	return component.Health{Name: s.Name(), Status: component.StatusHealthy, Message: s.addr}
}

// Describe implements component.Describable.
func (s *Server) Describe() component.Description {
	return component.Description{Type: "http", Details: s.Addr()}
}
