package commands

import (
	"errors"

	crerrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/pkg/rotation"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitConfig           = 2
	ExitSession          = 3
	ExitElementTimeout   = 4
	ExitAuthRejected     = 5
	ExitRotationRejected = 6
	ExitAmbiguous        = 7
	ExitCanceled         = 130
)

// CodedError carries an explicit exit code.
type CodedError struct {
	Code int
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }

func (e *CodedError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	if crerrors.IsConfigError(err) {
		return ExitConfig
	}

	switch rotation.Kind(err) {
	case rotation.KindInvalidInput:
		return ExitConfig
	case rotation.KindSessionAcquisition:
		return ExitSession
	case rotation.KindElementTimeout:
		return ExitElementTimeout
	case rotation.KindAuthenticationRejected:
		return ExitAuthRejected
	case rotation.KindRotationRejected:
		return ExitRotationRejected
	case rotation.KindAmbiguous:
		return ExitAmbiguous
	case rotation.KindCanceled:
		return ExitCanceled
	}
	return ExitError
}
