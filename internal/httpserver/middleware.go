package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"checkout-engine/internal/service/session"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	sessionHeader     = "X-Session-ID"
	sessionCookie     = "session_id"
	sessionCtxKey     = "session_id"
	idempotencyHeader = "Idempotency-Key"
	sessionMaxAge     = 30 * 24 * 60 * 60
)

// sessionMiddleware resolves the caller's session from the header or the
// cookie, issuing a new one when neither carries a valid id. The id is echoed
// in both.
func sessionMiddleware(sessions *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(sessionHeader)
		if presented == "" {
			presented, _ = c.Cookie(sessionCookie)
		}
		id, _ := sessions.Resolve(presented)

		c.Set(sessionCtxKey, id)
		c.Header(sessionHeader, id)
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookie, id, sessionMaxAge, "/", "", false, true)
		c.Next()
	}
}

func sessionID(c *gin.Context) string {
	return c.GetString(sessionCtxKey)
}

// requestLogger logs one line per request once the handler chain is done.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			evt = logger.Error()
		case status >= http.StatusBadRequest:
			evt = logger.Warn()
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("error", c.Errors.String())
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("session_id", sessionID(c)).
			Str("client_ip", c.ClientIP()).
			Msg("request completed")
	}
}

// recovery turns a panic into a 500 envelope.
func recovery(logger zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		logger.Error().
			Str("method", c.Request.Method).
			Str("url", c.Request.URL.String()).
			Str("panic", fmt.Sprint(rec)).
			Msg("request panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, envelope{
			Status:  statusError,
			Message: "internal server error",
			Error:   &apiError{Kind: "Internal"},
		})
	})
}
