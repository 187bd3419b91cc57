package engine

import "errors"

var (
	// ErrSessionActive guards the one-session-per-agent invariant.
	ErrSessionActive = errors.New("engine: session already active")
	// ErrSessionClosed is returned when Leave was invoked while
	// initialization was still in flight.
	ErrSessionClosed = errors.New("engine: session closed during initialization")
)

// Initialization stages, in execution order.
const (
	StageCredential = "credential"
	StageProvider   = "provider"
	StageLogin      = "login"
	StageCapture    = "capture"
	StagePublish    = "publish"
)

// InitError reports which initialization stage failed so callers can
// tell "failed to connect" apart from "still connecting".
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return "engine: initialize " + e.Stage + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error { return e.Err }
