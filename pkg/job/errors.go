package job

import "errors"

// ErrNotFound indicates a persisted document (request, result, log) is absent.
//
// Stores return it, wrapped, when the job's storage location never existed or
// was removed underneath the caller.
var ErrNotFound = errors.New("job state not found")

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
