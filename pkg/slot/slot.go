// Package slot provides execution-slot registries: at most one holder per
// job identity, claimed with an atomic check-and-set.
package slot

import (
	"context"
	"errors"

	"github.com/3leaps/simrun/pkg/jobid"
)

// ErrNotHeld is returned when updating a slot nobody holds.
var ErrNotHeld = errors.New("slot not held")

// Registry tracks which job identities are occupied.
//
// Holder values are opaque to the registry; backends encode whatever they
// need to find the execution again (host, pid, run id).
type Registry interface {
	// Acquire claims the slot for holder. It returns false, without error,
	// when the slot is already held.
	Acquire(ctx context.Context, id jobid.Identity, holder string) (bool, error)

	// Update replaces the holder of a held slot and refreshes its lease.
	Update(ctx context.Context, id jobid.Identity, holder string) error

	// Release frees the slot. Releasing a free slot is a no-op.
	Release(ctx context.Context, id jobid.Identity) error

	// ReleaseIf frees the slot only while holder still holds it. It reports
	// whether the slot was freed.
	ReleaseIf(ctx context.Context, id jobid.Identity, holder string) (bool, error)

	// Holder returns the current holder, if any.
	Holder(ctx context.Context, id jobid.Identity) (string, bool, error)

	// Occupied lists every held slot.
	Occupied(ctx context.Context) ([]jobid.Identity, error)
}
