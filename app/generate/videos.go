package generate

import (
	"bitwise74/playground-api/internal"
	"bitwise74/playground-api/pkg/middleware"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// VideosFetch returns every video record stored for the session's identity.
func VideosFetch(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	s := middleware.Session(c)

	if s.Identity(c.Request.Context()) == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "Preparing your session. Please try again in a moment.",
			"requestID": requestID,
		})
		return
	}

	videos, err := s.Videos(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch videos", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
	})
}
