package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SessionAcquisitionError means no automation session could be opened.
type SessionAcquisitionError struct {
	Err error
}

func (e *SessionAcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire browser session: %v", e.Err)
}

func (e *SessionAcquisitionError) Unwrap() error { return e.Err }

// ElementTimeoutError means a locator did not match within its bound.
type ElementTimeoutError struct {
	Surface Surface
	Step    string
	Locator Locator
	Elapsed time.Duration
}

func (e *ElementTimeoutError) Error() string {
	return fmt.Sprintf("%s surface: step %s: %s not found after %s",
		e.Surface, e.Step, e.Locator, e.Elapsed.Round(time.Millisecond))
}

// AuthenticationRejectedError means the login surface showed its rejection
// signal.
type AuthenticationRejectedError struct {
	Surface Surface
	Signal  Locator
}

func (e *AuthenticationRejectedError) Error() string {
	return fmt.Sprintf("%s surface: authentication rejected (%s present)", e.Surface, e.Signal)
}

// RotationRejectedError means the rotation surface showed its rejection
// signal. The old secret is still live.
type RotationRejectedError struct {
	Surface Surface
	Signal  Locator
}

func (e *RotationRejectedError) Error() string {
	return fmt.Sprintf("%s surface: rotation rejected (%s present)", e.Surface, e.Signal)
}

// AmbiguousRotationStateError means the rotation form was submitted but no
// outcome was observed. Either secret may be live.
type AmbiguousRotationStateError struct {
	Surface Surface
	Elapsed time.Duration
	Err     error
}

func (e *AmbiguousRotationStateError) Error() string {
	msg := fmt.Sprintf("%s surface: rotation outcome unknown after %s", e.Surface, e.Elapsed.Round(time.Millisecond))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AmbiguousRotationStateError) Unwrap() error { return e.Err }

// StepError wraps a driver failure that is not a timeout or rejection.
type StepError struct {
	Surface Surface
	Step    string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s surface: step %s: %v", e.Surface, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ErrElementNotFound may be returned by Session.FindElement when its timeout
// expires. The procedure converts it to *ElementTimeoutError.
var ErrElementNotFound = errors.New("element not found")

// ErrorKind classifies procedure errors for exit codes and metric labels.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnknown
	KindInvalidInput
	KindSessionAcquisition
	KindElementTimeout
	KindAuthenticationRejected
	KindRotationRejected
	KindAmbiguous
	KindCanceled
)

var kindNames = map[ErrorKind]string{
	KindNone:                   "none",
	KindUnknown:                "unknown",
	KindInvalidInput:           "invalid_input",
	KindSessionAcquisition:     "session_acquisition",
	KindElementTimeout:         "element_timeout",
	KindAuthenticationRejected: "authentication_rejected",
	KindRotationRejected:       "rotation_rejected",
	KindAmbiguous:              "ambiguous",
	KindCanceled:               "canceled",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kind classifies err. Ambiguity takes precedence over whatever it wraps.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var (
		ambiguous *AmbiguousRotationStateError
		session   *SessionAcquisitionError
		timeout   *ElementTimeoutError
		authRej   *AuthenticationRejectedError
		rotRej    *RotationRejectedError
	)
	switch {
	case errors.As(err, &ambiguous):
		return KindAmbiguous
	case errors.As(err, &session):
		return KindSessionAcquisition
	case errors.As(err, &timeout):
		return KindElementTimeout
	case errors.As(err, &authRej):
		return KindAuthenticationRejected
	case errors.As(err, &rotRej):
		return KindRotationRejected
	case errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrInvalidPolicy):
		return KindInvalidInput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindUnknown
}

// StatusFor maps an error from Rotate to the run status it implies.
func StatusFor(err error) Status {
	switch Kind(err) {
	case KindNone:
		return StatusCompleted
	case KindAmbiguous:
		return StatusAmbiguous
	}
	return StatusFailed
}
