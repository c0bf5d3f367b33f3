package slot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/3leaps/simrun/pkg/jobid"
)

type memoryEntry struct {
	holder  string
	expires time.Time
}

// Memory is a process-local Registry. A zero TTL means leases never expire.
type Memory struct {
	mu    sync.Mutex
	slots map[jobid.Identity]memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

var _ Registry = (*Memory)(nil)

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		slots: make(map[jobid.Identity]memoryEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// live returns the entry for id, dropping it if its lease has lapsed.
// Callers hold m.mu.
func (m *Memory) live(id jobid.Identity) (memoryEntry, bool) {
	e, ok := m.slots[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.slots, id)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) lease(holder string) memoryEntry {
	e := memoryEntry{holder: holder}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	return e
}

func (m *Memory) Acquire(_ context.Context, id jobid.Identity, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.live(id); held {
		return false, nil
	}
	m.slots[id] = m.lease(holder)
	return true, nil
}

func (m *Memory) Update(_ context.Context, id jobid.Identity, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.live(id); !held {
		return ErrNotHeld
	}
	m.slots[id] = m.lease(holder)
	return nil
}

func (m *Memory) Release(_ context.Context, id jobid.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, id)
	return nil
}

func (m *Memory) ReleaseIf(_ context.Context, id jobid.Identity, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok || e.holder != holder {
		return false, nil
	}
	delete(m.slots, id)
	return true, nil
}

func (m *Memory) Holder(_ context.Context, id jobid.Identity) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	return e.holder, ok, nil
}

func (m *Memory) Occupied(_ context.Context) ([]jobid.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]jobid.Identity, 0, len(m.slots))
	for id := range m.slots {
		if _, ok := m.live(id); ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
