package user

import (
	"bitwise74/playground-api/internal"
	"bitwise74/playground-api/pkg/middleware"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SessionFetch waits for the session's identity and returns it.
func SessionFetch(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	s := middleware.Session(c)

	u := s.Identity(c.Request.Context())
	if u == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "Preparing your session. Please try again in a moment.",
			"requestID": requestID,
		})
		return
	}

	setAuthCookie(c, d, s)
	c.JSON(http.StatusOK, gin.H{
		"sessionID": s.ID,
		"user":      u,
	})
}
