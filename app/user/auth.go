package user

import (
	"bitwise74/playground-api/internal"
	"bitwise74/playground-api/internal/auth"
	"bitwise74/playground-api/internal/playground"
	"bitwise74/playground-api/pkg/middleware"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type authBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserRegister attaches email and password to the session's anonymous
// identity. The identity keeps its ID and counters.
func UserRegister(c *gin.Context, d *internal.Deps) {
	authenticate(c, d, playground.ModeRegister, http.StatusCreated)
}

// UserLogin signs the session into an existing account.
func UserLogin(c *gin.Context, d *internal.Deps) {
	authenticate(c, d, playground.ModeLogin, http.StatusOK)
}

func authenticate(c *gin.Context, d *internal.Deps, mode playground.Mode, okStatus int) {
	requestID := c.MustGet("requestID").(string)
	s := middleware.Session(c)

	var data authBody
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})

		zap.L().Debug("Can't bind request body", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	u, err := s.Authenticate(c.Request.Context(), mode, data.Email, data.Password)
	if err != nil {
		status := authStatus(err)
		c.JSON(status, gin.H{
			"error":     playground.AuthMessage(err, mode),
			"code":      auth.Code(err),
			"requestID": requestID,
		})

		if status == http.StatusInternalServerError {
			zap.L().Error("Authentication failed", zap.Error(err), zap.String("requestID", requestID))
		}
		return
	}

	setAuthCookie(c, d, s)
	c.JSON(okStatus, gin.H{
		"user": u,
	})
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, playground.ErrSessionNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, playground.ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, playground.ErrAlreadySignedIn):
		return http.StatusConflict
	}

	switch auth.Code(err) {
	case "unknown":
		return http.StatusInternalServerError
	case auth.ErrEmailInUse.Code, auth.ErrAlreadyLinked.Code:
		return http.StatusConflict
	case auth.ErrInvalidCredential.Code, auth.ErrUserNotFound.Code:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// UserLogout signs out. The session continues with a new anonymous identity.
func UserLogout(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	s := middleware.Session(c)

	if err := s.SignOut(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to sign out", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	clearAuthCookie(c, d)
	c.Status(http.StatusNoContent)
}
