package generate

import (
	"bitwise74/playground-api/internal"
	"bitwise74/playground-api/pkg/middleware"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GenerateProgress returns the status of the session's generation.
func GenerateProgress(c *gin.Context, d *internal.Deps) {
	c.JSON(http.StatusOK, middleware.Session(c).Status())
}

// HistoryFetch returns the generations finished in this session, newest
// first.
func HistoryFetch(c *gin.Context, d *internal.Deps) {
	c.JSON(http.StatusOK, gin.H{
		"history": middleware.Session(c).History(),
	})
}
