package middleware

import (
	"bitwise74/playground-api/internal/playground"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	SessionCookie = "session_id"
	AuthCookie    = "auth_token"
)

// NewSessionMiddleware attaches the playground session named by the
// session_id cookie, opening a new one when it's missing or expired. A new
// session resumes the identity of the auth_token cookie if present.
func NewSessionMiddleware(m *playground.Manager, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString("requestID")

		id, _ := c.Cookie(SessionCookie)
		token, _ := c.Cookie(AuthCookie)

		s, err := m.Open(id, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to open session", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		if s.ID != id {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, s.ID, 0, "/", "", secure, true)
		}

		c.Set("session", s)
		c.Set("sessionID", s.ID)
		c.Next()
	}
}

// Session returns the session attached by NewSessionMiddleware.
func Session(c *gin.Context) *playground.Session {
	return c.MustGet("session").(*playground.Session)
}
