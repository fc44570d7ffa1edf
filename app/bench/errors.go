package bench

import (
	"fmt"
)

// benchmark phases, used in errors and logs
const (
	PhaseSetup   = "setup"
	PhaseSingle  = "single-threaded"
	PhaseMulti   = "multi-threaded"
	PhaseCleanup = "cleanup"
)

// StatusError is returned for a non-2xx response
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: unexpected status %d, %s", e.Method, e.URL, e.Code, e.Body)
}

// Retryable reports whether the session repeats the request, i.e. the status is in the retry list
// and the method is idempotent
func (e *StatusError) Retryable() bool { return retryStatuses[e.Code] && retryMethods[e.Method] }

// FatalError aborts the whole run, nothing is saved for it
type FatalError struct {
	Op    string // benchmarked operation name
	Phase string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("benchmark %q failed in %s phase: %v", e.Op, e.Phase, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
