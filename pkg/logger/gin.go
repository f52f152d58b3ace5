package logger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
)

type middlewareConfig struct {
	quiet []string
}

type MiddlewareOption func(*middlewareConfig)

// QuietPaths logs successful requests under these path prefixes at debug.
// Provider webhooks and health probes would otherwise dominate the output.
func QuietPaths(prefixes ...string) MiddlewareOption {
	return func(c *middlewareConfig) { c.quiet = append(c.quiet, prefixes...) }
}

// Middleware injects a request-scoped logger (request_id and call_id when routed)
// and logs one summary line per request.
func Middleware(l *slog.Logger, opts ...MiddlewareOption) gin.HandlerFunc {
	var cfg middlewareConfig
	for _, o := range opts {
		o(&cfg)
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		if callID := c.Param("call_id"); callID != "" {
			reqLogger = reqLogger.With("call_id", callID)
		}
		c.Set(ginLoggerKey, reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		reqLogger.Log(context.Background(), cfg.level(c.Request.URL.Path, status, len(c.Errors) > 0), "request", attrs...)
	}
}

func (c middlewareConfig) level(path string, status int, hasErrors bool) slog.Level {
	switch {
	case hasErrors || status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	}
	for _, p := range c.quiet {
		if strings.HasPrefix(path, p) {
			return slog.LevelDebug
		}
	}
	return slog.LevelInfo
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
