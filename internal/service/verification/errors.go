package verification

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition  = errors.New("invalid stage transition")
	ErrSessionBusy        = errors.New("verification in progress")
	ErrSessionReset       = errors.New("session was reset")
	ErrCameraAccessDenied = errors.New("camera access denied")
)

// DeviceAccessError aborts the current attempt back to Idle. The user can
// retry by starting again.
type DeviceAccessError struct {
	Err error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("camera access denied: %v", e.Err)
}

func (e *DeviceAccessError) Unwrap() []error {
	return []error{ErrCameraAccessDenied, e.Err}
}

// Failure reasons reported on a synthesized verdict.
const (
	FailureTimeout   = "timeout"
	FailureTransport = "transport"
)
