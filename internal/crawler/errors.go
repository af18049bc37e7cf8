package crawler

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the fetch, bootstrap and orchestration layers.
// An empty extraction result is not an error and has no sentinel.
var (
	// ErrTransientFetch marks a fetch whose attempt budget was exhausted.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrSessionExpired marks a URL that still failed after its origin
	// session was invalidated and re-bootstrapped once.
	ErrSessionExpired = errors.New("session expired")
	// ErrBootstrap marks an origin whose credentials could not be acquired.
	ErrBootstrap = errors.New("bootstrap failure")
	// ErrFatalRun marks an unanticipated failure of the whole run.
	ErrFatalRun = errors.New("fatal run failure")
)

// FetchError describes a URL that could not be fetched within its attempt budget.
type FetchError struct {
	URL      string
	Attempts int
	// Status is the last HTTP status observed, or 0 for transport errors.
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %d attempts, last status %d", e.URL, e.Attempts, e.Status)
	}
	return fmt.Sprintf("fetch %s: %d attempts: %v", e.URL, e.Attempts, e.Err)
}

// Unwrap exposes the last transport error.
func (e *FetchError) Unwrap() error { return e.Err }

// Is matches ErrTransientFetch.
func (e *FetchError) Is(target error) bool { return target == ErrTransientFetch }

// BootstrapError reports a failed credential bootstrap for one origin.
type BootstrapError struct {
	Origin Origin
	Reason string
	Err    error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap %s (%s): %v", e.Origin, e.Reason, e.Err)
}

// Unwrap exposes the underlying engine error.
func (e *BootstrapError) Unwrap() error { return e.Err }

// Is matches ErrBootstrap.
func (e *BootstrapError) Is(target error) bool { return target == ErrBootstrap }
