// Package generation submits video generation jobs to the hosted API and
// polls them until they finish.
package generation

import "errors"

// ErrInFlight is returned by Run while another run is in progress.
var ErrInFlight = errors.New("generation already in progress")

type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuth            Kind = "auth"
	KindTransport       Kind = "transport"
	KindProtocol        Kind = "protocol"
	KindTerminalFailure Kind = "terminal_failure"
	KindBudgetExhausted Kind = "budget_exhausted"
)

// Error is a failed run. Message is safe to show to the user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the user facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}

	if err == nil {
		return ""
	}

	return "Generation failed."
}
