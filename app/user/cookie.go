// Package user contains the identity endpoints of a session
package user

import (
	"bitwise74/playground-api/internal"
	"bitwise74/playground-api/internal/playground"
	"bitwise74/playground-api/pkg/middleware"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// setAuthCookie stores the identity's token so a new session can resume it.
func setAuthCookie(c *gin.Context, d *internal.Deps, s *playground.Session) {
	token, err := s.Token(c.Request.Context())
	if err != nil {
		zap.L().Debug("No token for session", zap.Error(err), zap.String("session", s.ID))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AuthCookie, token, int(d.Signer.TTL().Seconds()), "/", "", d.SecureCookies, true)
}

func clearAuthCookie(c *gin.Context, d *internal.Deps) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AuthCookie, "", -1, "/", "", d.SecureCookies, true)
}
