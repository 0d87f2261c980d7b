// Package event contains the client event endpoint
package event

import (
	"bitwise74/playground-api/internal"
	"bitwise74/playground-api/pkg/middleware"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

var eventName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

type eventBody struct {
	Name string         `json:"name"`
	Meta map[string]any `json:"meta"`
}

// EventLog queues a client event in the session's ledger. The write happens
// in the background once the identity is ready.
func EventLog(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	var data eventBody
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	if !eventName.MatchString(data.Name) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid event name",
			"requestID": requestID,
		})
		return
	}

	middleware.Session(c).Log(data.Name, data.Meta)
	c.Status(http.StatusAccepted)
}
