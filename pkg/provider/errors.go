package provider

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrAccessDenied = errors.New("access denied")
	ErrNoBucket     = errors.New("bucket does not exist")
	// ErrUnavailable covers throttling and server-side faults; retrying later
	// may succeed.
	ErrUnavailable = errors.New("store unavailable")
)

// Store operations named in OpError.
const (
	OpList   = "list"
	OpStat   = "stat"
	OpRead   = "read"
	OpWrite  = "write"
	OpDelete = "delete"
	OpOpen   = "open"
)

// OpError is a failed store operation. Store names where the operation ran,
// for example "s3://bucket/prefix/" or a base directory.
type OpError struct {
	Op    string
	Store string
	Key   string
	Err   error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Store, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Store, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err is transient.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
