// Package generate contains the video generation endpoints
package generate

import (
	"bitwise74/playground-api/internal"
	"bitwise74/playground-api/internal/generation"
	"bitwise74/playground-api/internal/playground"
	"bitwise74/playground-api/pkg/middleware"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type generateBody struct {
	Prompt string `json:"prompt"`
	// Duration is either a label like "15s" or a number
	Duration        any    `json:"duration"`
	Orientation     string `json:"orientation"`
	RemoveWatermark bool   `json:"removeWatermark"`
}

// GenerateStart starts a generation for the session's identity. The run
// continues in the background, progress is read from GenerateProgress.
func GenerateStart(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	s := middleware.Session(c)

	var data generateBody
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	duration := ""
	if data.Duration != nil {
		duration = fmt.Sprint(data.Duration)
	}

	settings := generation.ParseSettings(data.Prompt, duration, data.Orientation, data.RemoveWatermark)

	err := s.StartGenerate(c.Request.Context(), settings)
	if err == nil {
		c.JSON(http.StatusAccepted, s.Status())
		return
	}

	var genErr *generation.Error

	switch {
	case errors.Is(err, playground.ErrRegistrationRequired):
		c.JSON(http.StatusForbidden, gin.H{
			"error":     "Please register to generate videos.",
			"redirect":  "/register",
			"requestID": requestID,
		})
	case errors.Is(err, playground.ErrSessionClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "Your session has expired. Please reload the page.",
			"requestID": requestID,
		})
	case errors.Is(err, generation.ErrInFlight):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "A generation is already running",
			"requestID": requestID,
		})
	case errors.As(err, &genErr):
		status := http.StatusBadGateway
		switch genErr.Kind {
		case generation.KindValidation:
			status = http.StatusBadRequest
		case generation.KindAuth:
			status = http.StatusUnauthorized
		}

		c.JSON(status, gin.H{
			"error":     genErr.Message,
			"kind":      genErr.Kind,
			"requestID": requestID,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to start generation", zap.Error(err), zap.String("requestID", requestID))
	}
}
