package backend

import (
	"context"
	"time"

	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
)

// Store persists job documents. Reads of absent documents return an error
// matching job.ErrNotFound.
type Store interface {
	ReadRequest(ctx context.Context, id jobid.Identity) (*job.Record, error)
	WriteRequest(ctx context.Context, id jobid.Identity, rec *job.Record) error

	ReadResult(ctx context.Context, id jobid.Identity) (*job.CachedResult, error)

	// WriteResult returns job.ErrNotFound when the job's persisted request
	// has been removed, so a late write never resurrects a cleaned-up job.
	WriteResult(ctx context.Context, id jobid.Identity, res *job.CachedResult) error

	ReadLog(ctx context.Context, id jobid.Identity) ([]byte, error)
	WriteLog(ctx context.Context, id jobid.Identity, log []byte) error

	// RecordMtime returns the modification time of a persisted document.
	RecordMtime(ctx context.Context, id jobid.Identity, kind job.RecordKind) (time.Time, error)
}

// Entry summarizes one persisted job.
type Entry struct {
	Identity       jobid.Identity
	SimulationType string
	ComputeModel   string
	Fingerprint    string
	State          job.State
	UpdatedAt      time.Time
}

// Inventory is implemented by stores that can enumerate and delete jobs.
type Inventory interface {
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, id jobid.Identity) error
}
