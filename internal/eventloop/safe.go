package eventloop

import (
	"errors"
	"fmt"
)

// ErrTaskPanicked marks an error converted from a recovered panic.
var ErrTaskPanicked = errors.New("eventloop: task panicked")

// RunSafely runs fn on behalf of scope and never lets a panic escape.
//
// Loop tasks, subscriber callbacks and conformance rules all run through it, so a
// faulty callback surfaces as an error matching ErrTaskPanicked instead of
// unwinding the loop goroutine. Errors returned by fn are prefixed with scope.
func RunSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: panic recovered: %v: %w", scope, recovered, ErrTaskPanicked)
		}
	}()

	if fnErr := fn(); fnErr != nil {
		return fmt.Errorf("%s: %w", scope, fnErr)
	}

	return nil
}
