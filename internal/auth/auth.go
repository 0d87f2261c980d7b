// Package auth is the identity provider behind the identity gate: anonymous
// sessions, email/password accounts, linking and ID tokens.
package auth

import (
	"context"
	"errors"
)

// User is the identity the provider currently reports for a session.
type User struct {
	ID        string `json:"id"`
	Anonymous bool   `json:"anonymous"`
	Email     string `json:"email,omitempty"`
}

// Provider is the contract of an identity provider.
type Provider interface {
	// CurrentUser returns the signed in user or nil.
	CurrentUser() *User
	// OnAuthStateChanged registers fn for sign in and sign out events. The
	// current state is delivered once asynchronously after registering.
	OnAuthStateChanged(fn func(*User)) (unsubscribe func())
	SignInAnonymously(ctx context.Context) (*User, error)
	SignInWithEmail(ctx context.Context, email, password string) (*User, error)
	// LinkWithEmail attaches credentials to the current anonymous user. The
	// user ID is preserved and no auth state event is emitted.
	LinkWithEmail(ctx context.Context, email, password string) (*User, error)
	SignOut(ctx context.Context) error
	// IDToken returns a bearer token for the current user.
	IDToken(ctx context.Context) (string, error)
}

// Error carries a provider error code alongside the message.
type Error struct {
	Code string
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

var (
	ErrNoSession         = &Error{Code: "auth/no-session", msg: "no active user session"}
	ErrEmailInUse        = &Error{Code: "auth/email-already-in-use", msg: "email already in use"}
	ErrInvalidEmail      = &Error{Code: "auth/invalid-email", msg: "invalid email"}
	ErrWeakPassword      = &Error{Code: "auth/weak-password", msg: "password is too weak"}
	ErrInvalidCredential = &Error{Code: "auth/invalid-credential", msg: "invalid credential"}
	ErrAlreadyLinked     = &Error{Code: "auth/provider-already-linked", msg: "user already has credentials"}
	ErrUserNotFound      = &Error{Code: "auth/user-not-found", msg: "user not found"}
)

// Code returns the provider code of err, or "unknown".
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return "unknown"
}
