package backend

import (
	"fmt"
	"time"
)

// StartupError is returned when the backend did not accept connections
// within the configured timeout (spec.md §7 BackendStartupError).
type StartupError struct {
	Timeout time.Duration
	LogTail string
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("backend: did not become ready within %s; log tail:\n%s", e.Timeout, e.LogTail)
}
