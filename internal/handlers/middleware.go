package handlers

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	loggerKey       = "logger"
	RequestIDHeader = "X-Request-ID"
)

// Logger returns the request-scoped logger, or a no-op logger outside a request.
func Logger(c *gin.Context) *zap.SugaredLogger {
	if v, ok := c.Get(loggerKey); ok {
		if log, ok := v.(*zap.SugaredLogger); ok {
			return log
		}
	}
	return zap.NewNop().Sugar()
}

// RequestLogger tags each request with an id and logs its outcome.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		log := base.With("request_id", id)
		c.Set(loggerKey, log)

		start := time.Now()
		c.Next()

		log.Infow("Request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

const (
	allowMethods = "DELETE, GET, HEAD, OPTIONS, PATCH, POST, PUT"
	allowHeaders = "Content-Type, Authorization, " + RequestIDHeader
)

// CORS allows the configured origins; "*" allows any. Every method is allowed,
// and a preflight gets back whatever headers it asks for. Preflight requests
// are answered here.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := slices.Contains(allowedOrigins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case origin == "" && allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && (allowAll || slices.Contains(allowedOrigins, origin)):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", allowMethods)

		if c.Request.Method != http.MethodOptions {
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Next()
			return
		}

		if requested := c.GetHeader("Access-Control-Request-Headers"); requested != "" {
			c.Header("Access-Control-Allow-Headers", requested)
			c.Writer.Header().Add("Vary", "Access-Control-Request-Headers")
		} else {
			c.Header("Access-Control-Allow-Headers", allowHeaders)
		}
		c.AbortWithStatus(http.StatusOK)
	}
}
