// Package jobstore persists job documents in object storage.
//
// Layout under the store prefix:
//
//	<identity>/in.json      request the execution runs against
//	<identity>/result.json  cached outcome
//	<identity>/run.log      execution log
package jobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/3leaps/simrun/pkg/backend"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
	"github.com/3leaps/simrun/pkg/provider"
)

const (
	requestFile = "in.json"
	resultFile  = "result.json"
	logFile     = "run.log"
)

// DefaultPrefix is the key prefix job documents live under.
const DefaultPrefix = "jobs/"

// Store implements backend.Store and backend.Inventory over a provider.
type Store struct {
	p      provider.ReadWriter
	prefix string
}

var (
	_ backend.Store     = (*Store)(nil)
	_ backend.Inventory = (*Store)(nil)
)

// New returns a Store. An empty prefix uses DefaultPrefix.
func New(p provider.ReadWriter, prefix string) *Store {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{p: p, prefix: prefix}
}

func (s *Store) key(id jobid.Identity, name string) string {
	return s.prefix + string(id) + "/" + name
}

func (s *Store) ReadRequest(ctx context.Context, id jobid.Identity) (*job.Record, error) {
	var rec job.Record
	if err := s.readJSON(ctx, id, requestFile, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) WriteRequest(ctx context.Context, id jobid.Identity, rec *job.Record) error {
	if rec == nil {
		return errors.New("job record is nil")
	}
	return s.writeJSON(ctx, id, requestFile, rec)
}

func (s *Store) ReadResult(ctx context.Context, id jobid.Identity) (*job.CachedResult, error) {
	var res job.CachedResult
	if err := s.readJSON(ctx, id, resultFile, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Store) WriteResult(ctx context.Context, id jobid.Identity, res *job.CachedResult) error {
	if res == nil {
		return errors.New("cached result is nil")
	}
	if _, err := s.p.Head(ctx, s.key(id, requestFile)); err != nil {
		return s.mapErr(id, requestFile, err)
	}
	return s.writeJSON(ctx, id, resultFile, res)
}

func (s *Store) ReadLog(ctx context.Context, id jobid.Identity) ([]byte, error) {
	return s.read(ctx, id, logFile)
}

func (s *Store) WriteLog(ctx context.Context, id jobid.Identity, log []byte) error {
	return s.put(ctx, id, logFile, log)
}

func (s *Store) RecordMtime(ctx context.Context, id jobid.Identity, kind job.RecordKind) (time.Time, error) {
	name := requestFile
	if kind == job.KindResult {
		name = resultFile
	}
	meta, err := s.p.Head(ctx, s.key(id, name))
	if err != nil {
		return time.Time{}, s.mapErr(id, name, err)
	}
	return meta.LastModified, nil
}

// List summarizes every job with a persisted request, newest first.
func (s *Store) List(ctx context.Context) ([]backend.Entry, error) {
	objects, err := provider.ListAll(ctx, s.p, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	updated := make(map[jobid.Identity]time.Time)
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, s.prefix)
		idPart, _, ok := strings.Cut(rel, "/")
		if !ok {
			continue
		}
		id := jobid.Identity(idPart)
		if !id.Valid() {
			continue
		}
		if obj.LastModified.After(updated[id]) {
			updated[id] = obj.LastModified
		}
	}

	out := make([]backend.Entry, 0, len(updated))
	for id, ts := range updated {
		rec, err := s.ReadRequest(ctx, id)
		if err != nil {
			continue
		}
		entry := backend.Entry{
			Identity:       id,
			SimulationType: rec.Request.SimulationType,
			ComputeModel:   rec.Request.ComputeModel,
			Fingerprint:    rec.Fingerprint,
			State:          job.StateMissing,
			UpdatedAt:      ts,
		}
		if res, err := s.ReadResult(ctx, id); err == nil {
			entry.State = res.State
			entry.Fingerprint = res.Fingerprint
		}
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Identity < out[j].Identity
	})
	return out, nil
}

// Delete removes every document of a job. Deleting an absent job is not an
// error.
func (s *Store) Delete(ctx context.Context, id jobid.Identity) error {
	objects, err := provider.ListAll(ctx, s.p, s.prefix+string(id)+"/")
	if err != nil {
		return fmt.Errorf("list job %s: %w", id, err)
	}
	// The request goes last so a concurrent WriteResult fails with NotFound
	// rather than recreating a half-deleted job.
	sort.Slice(objects, func(i, j int) bool {
		return !strings.HasSuffix(objects[i].Key, "/"+requestFile) && strings.HasSuffix(objects[j].Key, "/"+requestFile)
	})
	for _, obj := range objects {
		if err := s.p.DeleteObject(ctx, obj.Key); err != nil {
			return fmt.Errorf("delete %s: %w", obj.Key, err)
		}
	}
	return nil
}

func (s *Store) readJSON(ctx context.Context, id jobid.Identity, name string, v any) error {
	b, err := s.read(ctx, id, name)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return fmt.Errorf("%s/%s is empty", id, name)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s/%s: %w", id, name, err)
	}
	return nil
}

func (s *Store) writeJSON(ctx context.Context, id jobid.Identity, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	b = append(b, '\n')
	return s.put(ctx, id, name, b)
}

func (s *Store) read(ctx context.Context, id jobid.Identity, name string) ([]byte, error) {
	body, _, err := s.p.GetObject(ctx, s.key(id, name))
	if err != nil {
		return nil, s.mapErr(id, name, err)
	}
	defer func() { _ = body.Close() }()
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", id, name, err)
	}
	return b, nil
}

func (s *Store) put(ctx context.Context, id jobid.Identity, name string, b []byte) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %q", jobid.ErrInvalidComponent, id)
	}
	if err := s.p.PutObject(ctx, s.key(id, name), bytes.NewReader(b), int64(len(b))); err != nil {
		return fmt.Errorf("write %s/%s: %w", id, name, err)
	}
	return nil
}

func (s *Store) mapErr(id jobid.Identity, name string, err error) error {
	if provider.IsNotFound(err) {
		return fmt.Errorf("%s/%s: %w", id, name, job.ErrNotFound)
	}
	return err
}
