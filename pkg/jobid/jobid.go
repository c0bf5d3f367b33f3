// Package jobid derives the execution-slot key for a simulation job.
//
// An Identity names exactly one slot: at most one execution may occupy it at a
// time. It is composed of the owning user, the simulation instance and the
// compute model, joined by Separator.
package jobid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Separator joins the identity components. Components are restricted to word
// characters and dashes, so it can never appear inside one.
const Separator = "~"

// ErrInvalidComponent is returned when a component is empty or contains
// characters outside [A-Za-z0-9_-].
var ErrInvalidComponent = errors.New("invalid job identity component")

var componentRE = regexp.MustCompile(`^[\w-]+$`)

// Identity is an opaque execution-slot key.
type Identity string

// New builds the identity for (user, instance, computeModel).
func New(userID, instanceID, computeModel string) (Identity, error) {
	parts := []struct {
		name  string
		value string
	}{
		{"user id", userID},
		{"instance id", instanceID},
		{"compute model", computeModel},
	}
	for _, p := range parts {
		if !componentRE.MatchString(p.value) {
			return "", fmt.Errorf("%w: %s %q", ErrInvalidComponent, p.name, p.value)
		}
	}
	return Identity(userID + Separator + instanceID + Separator + computeModel), nil
}

// Parse splits an identity back into its components.
func Parse(s string) (userID, instanceID, computeModel string, err error) {
	parts := strings.Split(strings.TrimSpace(s), Separator)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: expected 3 components in %q", ErrInvalidComponent, s)
	}
	if _, err := New(parts[0], parts[1], parts[2]); err != nil {
		return "", "", "", err
	}
	return parts[0], parts[1], parts[2], nil
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return string(id)
}

// Valid reports whether id parses.
func (id Identity) Valid() bool {
	_, _, _, err := Parse(string(id))
	return err == nil
}
