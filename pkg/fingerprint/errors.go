package fingerprint

import (
	"errors"
	"fmt"
)

// InvalidFieldReferenceError reports a declared relevant field that does not
// resolve in the request's model mapping.
//
// It is a configuration-table bug and is never silently skipped: a wrong
// fingerprint would serve stale cached results.
type InvalidFieldReferenceError struct {
	SimType string
	Model   string
	Path    string
	Err     error
}

func (e *InvalidFieldReferenceError) Error() string {
	msg := fmt.Sprintf("invalid field reference %q for %s/%s", e.Path, e.SimType, e.Model)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidFieldReferenceError) Unwrap() error {
	return e.Err
}

// IsInvalidFieldReference reports whether err wraps an InvalidFieldReferenceError.
func IsInvalidFieldReference(err error) bool {
	var target *InvalidFieldReferenceError
	return errors.As(err, &target)
}
