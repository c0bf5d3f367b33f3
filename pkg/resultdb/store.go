package resultdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/simrun/pkg/backend"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
)

// Store implements backend.Store and backend.Inventory over a database
// opened with Open.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ backend.Store     = (*Store)(nil)
	_ backend.Inventory = (*Store)(nil)
)

func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout is fixed-width so stored stamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func (s *Store) ReadRequest(ctx context.Context, id jobid.Identity) (*job.Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM job_requests WHERE identity = ?`, string(id)).Scan(&body)
	if err != nil {
		return nil, notFound(id, "request", err)
	}
	var rec job.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("parse request %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) WriteRequest(ctx context.Context, id jobid.Identity, rec *job.Record) error {
	if rec == nil {
		return errors.New("job record is nil")
	}
	if !id.Valid() {
		return fmt.Errorf("%w: %q", jobid.ErrInvalidComponent, id)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_requests (identity, run_id, fingerprint, sim_type, compute_model, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			run_id = excluded.run_id,
			fingerprint = excluded.fingerprint,
			sim_type = excluded.sim_type,
			compute_model = excluded.compute_model,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, string(id), rec.RunID, rec.Fingerprint, rec.Request.SimulationType, rec.Request.ComputeModel, string(body), s.stamp())
	if err != nil {
		return fmt.Errorf("write request %s: %w", id, err)
	}
	return nil
}

func (s *Store) ReadResult(ctx context.Context, id jobid.Identity) (*job.CachedResult, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM job_results WHERE identity = ?`, string(id)).Scan(&body)
	if err != nil {
		return nil, notFound(id, "result", err)
	}
	var res job.CachedResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("parse result %s: %w", id, err)
	}
	return &res, nil
}

// WriteResult upserts the result only while the job's request row exists.
func (s *Store) WriteResult(ctx context.Context, id jobid.Identity, res *job.CachedResult) error {
	if res == nil {
		return errors.New("cached result is nil")
	}
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	out, err := s.db.ExecContext(ctx, `
		INSERT INTO job_results (identity, run_id, fingerprint, state, body, updated_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM job_requests WHERE identity = ?)
		ON CONFLICT(identity) DO UPDATE SET
			run_id = excluded.run_id,
			fingerprint = excluded.fingerprint,
			state = excluded.state,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, string(id), res.RunID, res.Fingerprint, string(res.State), string(body), s.stamp(), string(id))
	if err != nil {
		return fmt.Errorf("write result %s: %w", id, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return fmt.Errorf("write result %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("request %s: %w", id, job.ErrNotFound)
	}
	return nil
}

func (s *Store) ReadLog(ctx context.Context, id jobid.Identity) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM job_logs WHERE identity = ?`, string(id)).Scan(&body)
	if err != nil {
		return nil, notFound(id, "log", err)
	}
	return body, nil
}

func (s *Store) WriteLog(ctx context.Context, id jobid.Identity, log []byte) error {
	if log == nil {
		log = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (identity, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, string(id), log, s.stamp())
	if err != nil {
		return fmt.Errorf("write log %s: %w", id, err)
	}
	return nil
}

func (s *Store) RecordMtime(ctx context.Context, id jobid.Identity, kind job.RecordKind) (time.Time, error) {
	query := `SELECT updated_at FROM job_requests WHERE identity = ?`
	if kind == job.KindResult {
		query = `SELECT updated_at FROM job_results WHERE identity = ?`
	}
	var raw string
	if err := s.db.QueryRowContext(ctx, query, string(id)).Scan(&raw); err != nil {
		return time.Time{}, notFound(id, string(kind), err)
	}
	ts, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s mtime for %s: %w", kind, id, err)
	}
	return ts, nil
}

// List summarizes every job with a persisted request, newest first.
func (s *Store) List(ctx context.Context) ([]backend.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.identity, q.sim_type, q.compute_model, q.fingerprint, q.updated_at,
			r.fingerprint, r.state, r.updated_at
		FROM job_requests q
		LEFT JOIN job_results r ON r.identity = q.identity
		ORDER BY MAX(q.updated_at, COALESCE(r.updated_at, '')) DESC, q.identity
	`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []backend.Entry
	for rows.Next() {
		var (
			e                        backend.Entry
			id, reqUpdated           string
			resFP, resState, resTime sql.NullString
		)
		if err := rows.Scan(&id, &e.SimulationType, &e.ComputeModel, &e.Fingerprint, &reqUpdated, &resFP, &resState, &resTime); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		e.Identity = jobid.Identity(id)
		e.State = job.StateMissing
		updated := reqUpdated
		if resState.Valid {
			e.State = job.State(resState.String)
			e.Fingerprint = resFP.String
			if resTime.String > updated {
				updated = resTime.String
			}
		}
		if ts, err := time.Parse(timeLayout, updated); err == nil {
			e.UpdatedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes every row of a job. The request row goes last.
func (s *Store) Delete(ctx context.Context, id jobid.Identity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"job_logs", "job_results", "job_requests"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE identity = ?`, string(id)); err != nil {
			return fmt.Errorf("delete %s from %s: %w", id, table, err)
		}
	}
	return tx.Commit()
}

func notFound(id jobid.Identity, what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, job.ErrNotFound)
	}
	return fmt.Errorf("read %s %s: %w", what, id, err)
}
