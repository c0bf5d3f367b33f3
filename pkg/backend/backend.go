// Package backend defines the contracts the orchestration core requires of
// execution backends and of persisted job state.
//
// The core never learns how a backend runs a job. It only starts, kills and
// queries jobs by identity, and reads or writes persisted documents through
// a Store.
package backend

import (
	"context"
	"time"

	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
)

// StartOutcome is the result of a start attempt.
//
// AlreadyRunning is the benign collision outcome: another caller owns the
// execution slot. It is not an error.
type StartOutcome int

const (
	Started StartOutcome = iota + 1
	AlreadyRunning
)

func (o StartOutcome) String() string {
	switch o {
	case Started:
		return "started"
	case AlreadyRunning:
		return "already_running"
	default:
		return "unknown"
	}
}

// Occupancy is a backend's view of one execution slot.
//
// Phase comes from the authoritative process check. An occupied slot whose
// Phase is not Valid has desynchronized and must be reaped.
type Occupancy struct {
	Occupied bool
	Phase    job.Phase
}

// Backend is an execution driver.
type Backend interface {
	// IsProcessing reports whether the slot is occupied and its phase.
	IsProcessing(ctx context.Context, id jobid.Identity) (Occupancy, error)

	// Start atomically starts rec if the slot is free. The request must
	// already be fingerprinted.
	Start(ctx context.Context, id jobid.Identity, rec *job.Record) (StartOutcome, error)

	// Kill terminates the execution, best effort. Killing an idle slot is a
	// no-op.
	Kill(ctx context.Context, id jobid.Identity) error

	// Reap releases slot bookkeeping that no longer matches reality.
	Reap(ctx context.Context, id jobid.Identity) error
}

// Progress is a progress report from a long-running execution.
type Progress struct {
	PercentComplete *float64
	FrameCount      *int
	LastUpdate      time.Time
}

// ProgressReporter is implemented by backends that can report progress.
// Progress returns nil when nothing has been reported yet.
type ProgressReporter interface {
	Progress(ctx context.Context, id jobid.Identity) (*Progress, error)
}

// TerminalMarker is implemented by backends that remember how the last
// execution for a slot ended, independently of the persisted result.
type TerminalMarker interface {
	LastTerminalState(ctx context.Context, id jobid.Identity) (job.State, bool, error)
}

// Lister enumerates occupied slots, for periodic race repair.
type Lister interface {
	Occupied(ctx context.Context) ([]jobid.Identity, error)
}
