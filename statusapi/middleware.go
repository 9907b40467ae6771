package statusapi

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/logger"
)

const headerRequestID = "X-Request-Id"

// recovery turns a handler panic into a 500 with an INTERNAL_ERROR body.
func recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				log.Error("panic recovered", logger.Fields(
					"error", fmt.Sprint(p),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
				))
				appErr := errors.Internal(fmt.Errorf("%v", p))
				c.AbortWithStatusJSON(http.StatusInternalServerError, appErr.ToResponse())
			}
		}()
		c.Next()
	}
}

// requestID propagates or mints an X-Request-Id.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// requestLogger logs every request except health probes at debug level,
// raising the level for client and server errors.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" && c.Writer.Status() < 500 {
			return
		}

		fields := logger.Fields(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			logger.FieldDuration, time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"),
		)
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("request completed", fields)
		case status >= 400:
			log.Warn("request completed", fields)
		default:
			log.Debug("request completed", fields)
		}
	}
}
