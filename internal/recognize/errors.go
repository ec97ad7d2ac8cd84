package recognize

import (
	"errors"
	"fmt"
)

// Failure taxonomy for one recognition attempt. Backend-specific failures
// collapse into these; callers match with errors.Is / errors.As and never
// see library exception types.
var (
	// ErrModelNotReady: offline mode requested before the model finished
	// loading (or after it failed).
	ErrModelNotReady = errors.New("offline model not loaded yet")

	// ErrServiceUnavailable: the online service could not be reached or
	// answered with a server error.
	ErrServiceUnavailable = errors.New("recognition service unavailable")

	// ErrUnintelligible: the backend completed but produced no confident
	// transcription.
	ErrUnintelligible = errors.New("could not understand audio")
)

// BackendError wraps an unexpected decoder or service failure.
type BackendError struct {
	Detail string
	Err    error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recognition backend: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("recognition backend: %s", e.Detail)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
