package playground

import (
	"bitwise74/playground-api/internal/auth"
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

type Mode string

const (
	ModeRegister Mode = "register"
	ModeLogin    Mode = "login"
)

var (
	ErrSessionNotReady    = errors.New("session is not ready")
	ErrMissingCredentials = errors.New("missing email or password")
	ErrAlreadySignedIn    = errors.New("already signed in")
)

// Authenticate registers or signs in the session's identity depending on mode.
func (s *Session) Authenticate(ctx context.Context, mode Mode, email, password string) (*auth.User, error) {
	if mode != ModeLogin {
		mode = ModeRegister
	}

	select {
	case <-s.gate.Ready():
	default:
		return nil, ErrSessionNotReady
	}

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	if u := s.gate.Current(); u != nil && !u.Anonymous {
		return nil, ErrAlreadySignedIn
	}

	s.ledger.Log("auth_submit", map[string]any{"mode": string(mode)})

	var (
		u   *auth.User
		err error
	)

	if mode == ModeLogin {
		u, err = s.gate.SignIn(ctx, email, password)
	} else {
		u, err = s.gate.Register(ctx, email, password)
	}

	if err != nil {
		s.ledger.Log("auth_error", map[string]any{
			"mode": string(mode),
			"code": auth.Code(err),
		})

		zap.L().Debug("Authentication failed", zap.String("session", s.ID), zap.String("mode", string(mode)), zap.Error(err))
		return nil, err
	}

	s.ledger.Log("auth_success", map[string]any{"mode": string(mode)})
	return u, nil
}

// SignOut signs the identity out. A fresh anonymous identity replaces it.
func (s *Session) SignOut(ctx context.Context) error {
	s.ledger.Log("sign_out", nil)
	return s.gate.SignOut(ctx)
}

// AuthMessage turns an Authenticate error into the message shown to the user.
func AuthMessage(err error, mode Mode) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotReady):
		return "Preparing your session. Please try again in a moment."
	case errors.Is(err, ErrMissingCredentials):
		return "Enter your email and password to continue."
	case errors.Is(err, ErrAlreadySignedIn):
		return "You are already signed in."
	}

	code := auth.Code(err)
	if code == "unknown" {
		return "Something went wrong. Please try again."
	}

	if mode == ModeLogin {
		switch code {
		case "auth/user-not-found", "auth/wrong-password", "auth/invalid-credential", "auth/invalid-login-credentials":
			return "Incorrect email or password."
		}
	}

	switch code {
	case "auth/email-already-in-use":
		return "This email is already in use. Try another one."
	case "auth/invalid-email":
		return "Please enter a valid email address."
	case "auth/weak-password":
		return "Password is too weak. Use at least 6 characters."
	case "auth/too-many-requests":
		return "Too many attempts. Please wait and try again."
	}

	if mode == ModeLogin {
		return "Unable to sign in. Please try again."
	}

	return "Unable to register. Please try again."
}
