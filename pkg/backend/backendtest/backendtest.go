// Package backendtest provides in-memory implementations of the backend
// contracts for tests.
package backendtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/3leaps/simrun/pkg/backend"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
)

// Store is an in-memory backend.Store and backend.Inventory.
type Store struct {
	mu      sync.Mutex
	reqs    map[jobid.Identity]*job.Record
	results map[jobid.Identity]*job.CachedResult
	logs    map[jobid.Identity][]byte
	mtimes  map[jobid.Identity]map[job.RecordKind]time.Time

	// Now stamps document mtimes.
	Now func() time.Time
}

var (
	_ backend.Store     = (*Store)(nil)
	_ backend.Inventory = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		reqs:    make(map[jobid.Identity]*job.Record),
		results: make(map[jobid.Identity]*job.CachedResult),
		logs:    make(map[jobid.Identity][]byte),
		mtimes:  make(map[jobid.Identity]map[job.RecordKind]time.Time),
		Now:     time.Now,
	}
}

func (s *Store) touch(id jobid.Identity, kind job.RecordKind) {
	if s.mtimes[id] == nil {
		s.mtimes[id] = make(map[job.RecordKind]time.Time)
	}
	s.mtimes[id][kind] = s.Now()
}

func (s *Store) ReadRequest(_ context.Context, id jobid.Identity) (*job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.reqs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) WriteRequest(_ context.Context, id jobid.Identity, rec *job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.reqs[id] = &cp
	s.touch(id, job.KindRequest)
	return nil
}

func (s *Store) ReadResult(_ context.Context, id jobid.Identity) (*job.CachedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (s *Store) WriteResult(_ context.Context, id jobid.Identity, res *job.CachedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reqs[id]; !ok {
		return job.ErrNotFound
	}
	cp := *res
	s.results[id] = &cp
	s.touch(id, job.KindResult)
	return nil
}

func (s *Store) ReadLog(_ context.Context, id jobid.Identity) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return append([]byte(nil), l...), nil
}

func (s *Store) WriteLog(_ context.Context, id jobid.Identity, log []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[id] = append([]byte(nil), log...)
	return nil
}

func (s *Store) RecordMtime(_ context.Context, id jobid.Identity, kind job.RecordKind) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mt, ok := s.mtimes[id][kind]
	if !ok {
		return time.Time{}, job.ErrNotFound
	}
	return mt, nil
}

func (s *Store) List(_ context.Context) ([]backend.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.Entry, 0, len(s.reqs))
	for id, rec := range s.reqs {
		e := backend.Entry{
			Identity:       id,
			SimulationType: rec.Request.SimulationType,
			ComputeModel:   rec.Request.ComputeModel,
			Fingerprint:    rec.Fingerprint,
			State:          job.StateMissing,
			UpdatedAt:      s.mtimes[id][job.KindRequest],
		}
		if res, ok := s.results[id]; ok {
			e.State = res.State
			e.Fingerprint = res.Fingerprint
			if mt := s.mtimes[id][job.KindResult]; mt.After(e.UpdatedAt) {
				e.UpdatedAt = mt
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) Delete(_ context.Context, id jobid.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, id)
	delete(s.logs, id)
	delete(s.reqs, id)
	delete(s.mtimes, id)
	return nil
}

// RemoveRequest deletes only the persisted request, as a cleanup racing a
// running job would.
func (s *Store) RemoveRequest(id jobid.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reqs, id)
}

// Backend is a scriptable backend.Backend. Start claims the slot with a
// check-and-set and persists the record; executions then only change state
// when the test says so.
type Backend struct {
	mu       sync.Mutex
	store    backend.Store
	slots    map[jobid.Identity]job.Phase
	progress map[jobid.Identity]*backend.Progress
	terminal map[jobid.Identity]job.State

	starts int
	kills  int
	reaps  int

	// StartErr, when set, fails every Start.
	StartErr error
	// OnKill runs inside Kill before the slot is released.
	OnKill func(id jobid.Identity)
	// OnStart runs after a successful slot claim.
	OnStart func(id jobid.Identity)
}

var (
	_ backend.Backend          = (*Backend)(nil)
	_ backend.ProgressReporter = (*Backend)(nil)
	_ backend.TerminalMarker   = (*Backend)(nil)
	_ backend.Lister           = (*Backend)(nil)
)

func NewBackend(store backend.Store) *Backend {
	return &Backend{
		store:    store,
		slots:    make(map[jobid.Identity]job.Phase),
		progress: make(map[jobid.Identity]*backend.Progress),
		terminal: make(map[jobid.Identity]job.State),
	}
}

func (b *Backend) IsProcessing(_ context.Context, id jobid.Identity) (backend.Occupancy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	phase, ok := b.slots[id]
	if !ok {
		return backend.Occupancy{}, nil
	}
	return backend.Occupancy{Occupied: true, Phase: phase}, nil
}

func (b *Backend) Start(ctx context.Context, id jobid.Identity, rec *job.Record) (backend.StartOutcome, error) {
	b.mu.Lock()
	if b.StartErr != nil {
		b.mu.Unlock()
		return 0, b.StartErr
	}
	if _, held := b.slots[id]; held {
		b.mu.Unlock()
		return backend.AlreadyRunning, nil
	}
	if err := b.store.WriteRequest(ctx, id, rec); err != nil {
		b.mu.Unlock()
		return 0, err
	}
	b.slots[id] = job.PhasePending
	b.starts++
	delete(b.progress, id)
	delete(b.terminal, id)
	hook := b.OnStart
	b.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return backend.Started, nil
}

func (b *Backend) Kill(_ context.Context, id jobid.Identity) error {
	b.mu.Lock()
	b.kills++
	_, held := b.slots[id]
	hook := b.OnKill
	b.mu.Unlock()
	if !held {
		return nil
	}
	if hook != nil {
		hook(id)
	}
	b.mu.Lock()
	delete(b.slots, id)
	b.terminal[id] = job.StateCanceled
	b.mu.Unlock()
	return nil
}

func (b *Backend) Reap(_ context.Context, id jobid.Identity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reaps++
	delete(b.slots, id)
	return nil
}

func (b *Backend) Progress(_ context.Context, id jobid.Identity) (*backend.Progress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress[id], nil
}

func (b *Backend) LastTerminalState(_ context.Context, id jobid.Identity) (job.State, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.terminal[id]
	return s, ok, nil
}

func (b *Backend) Occupied(_ context.Context) ([]jobid.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]jobid.Identity, 0, len(b.slots))
	for id := range b.slots {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// SetPhase changes the reported phase of an occupied slot. An invalid phase
// simulates bookkeeping that has desynchronized from the execution.
func (b *Backend) SetPhase(id jobid.Identity, phase job.Phase) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[id] = phase
}

// SetProgress records a progress report for id.
func (b *Backend) SetProgress(id jobid.Identity, p *backend.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress[id] = p
}

// Finish ends the execution for id, writing res and freeing the slot.
func (b *Backend) Finish(ctx context.Context, id jobid.Identity, res *job.CachedResult) error {
	if err := b.store.WriteResult(ctx, id, res); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.slots, id)
	b.terminal[id] = res.State
	return nil
}

func (b *Backend) Starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts
}

func (b *Backend) Kills() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.kills
}

func (b *Backend) Reaps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reaps
}
