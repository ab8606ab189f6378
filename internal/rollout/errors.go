// File: internal/rollout/errors.go
// Brief: Rollout error taxonomy.

package rollout

import (
	"errors"
	"fmt"
)

// ValidationError reports bad user input; the run never starts.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// HardDependencyAbortError terminates the run: a unit that later units
// hard-depend on never became usable.
type HardDependencyAbortError struct {
	// Unit is the blocking unit that failed.
	Unit string
	// Blocked is the first downstream unit that cannot proceed.
	Blocked string
}

func (e *HardDependencyAbortError) Error() string {
	return fmt.Sprintf("hard dependency %s failed; %s cannot deploy", e.Unit, e.Blocked)
}

// IsHardDependencyAbort reports whether err is a hard-dependency abort.
func IsHardDependencyAbort(err error) bool {
	var abortErr *HardDependencyAbortError
	return errors.As(err, &abortErr)
}
