package statusapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lexfront/connkit/client"
	"github.com/lexfront/connkit/component"
	"github.com/lexfront/connkit/connection"
	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/logger"
	"github.com/lexfront/connkit/resolver"
	"github.com/lexfront/connkit/version"
)

// Sources supplies the data each route serves. Nil sources answer 404.
type Sources struct {
	Service    string
	Health     func(ctx context.Context) []component.Health
	Connection func() connection.Status
	Modules    func() []resolver.Resolution
	Recovery   func() map[string]int
	Clients    func() []client.Status
	// HardReset backs POST /recovery/reset when enabled.
	HardReset func(ctx context.Context) error
	// Events backs GET /events.
	Events *EventStream
}

// NewEngine builds the gin engine serving src.
func NewEngine(src Sources, log *logger.Logger) *gin.Engine {
	log = logger.OrDefault(log, "status-api")
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(recovery(log), requestID(), requestLogger(log))

	r.GET("/healthz", healthHandler(src))
	r.GET("/version", func(c *gin.Context) { c.JSON(http.StatusOK, version.Get()) })

	r.GET("/status/connection", optional(src.Connection != nil, func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Connection())
	}))
	r.GET("/status/modules", optional(src.Modules != nil, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"modules": src.Modules()})
	}))
	r.GET("/status/recovery", optional(src.Recovery != nil, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"counters": src.Recovery()})
	}))
	r.GET("/status/clients", optional(src.Clients != nil, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"clients": src.Clients()})
	}))
	r.GET("/events", optional(src.Events != nil, src.Events.handler()))
	if src.HardReset != nil {
		r.POST("/recovery/reset", func(c *gin.Context) {
			if err := src.HardReset(c.Request.Context()); err != nil {
				appErr := errors.Wrap(err)
				c.JSON(appErr.HTTPStatus, appErr.ToResponse())
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "reset"})
		})
	}
	return r
}

func optional(ok bool, h gin.HandlerFunc) gin.HandlerFunc {
	if ok {
		return h
	}
	return func(c *gin.Context) {
		appErr := errors.NotFound("status source", c.FullPath())
		c.JSON(appErr.HTTPStatus, appErr.ToResponse())
	}
}

func healthHandler(src Sources) gin.HandlerFunc {
	return func(c *gin.Context) {
		var reports []component.Health
		if src.Health != nil {
			reports = src.Health(c.Request.Context())
		}
		status := component.Overall(reports)

		code := http.StatusOK
		if status == component.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":     status,
			"service":    src.Service,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"components": reports,
		})
	}
}
