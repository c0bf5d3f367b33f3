// Package local runs simulations as child processes of the server.
//
// Each start claims an execution slot, persists the request, and spawns the
// command configured for the simulation type in a per-job working directory.
// A waiter goroutine records the outcome and frees the slot when the child
// exits.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/simrun/pkg/backend"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
	"github.com/3leaps/simrun/pkg/simtype"
	"github.com/3leaps/simrun/pkg/slot"
)

const (
	inputFile  = "input.json"
	outputFile = "output.json"
	logFile    = "run.log"

	// DefaultCommandKey selects the command for simulation types without
	// their own entry.
	DefaultCommandKey = "default"

	DefaultKillGrace = 30 * time.Second
)

// Config configures the local backend.
type Config struct {
	// WorkRoot holds one working directory per job identity.
	WorkRoot string

	// Commands maps a simulation type (or DefaultCommandKey) to the argv
	// that runs it. The child finds its input through SIMRUN_INPUT.
	Commands map[string][]string

	// KillGrace is how long Kill waits after SIGTERM before SIGKILL.
	KillGrace time.Duration

	// HeartbeatInterval refreshes the slot lease while a child runs.
	// Zero disables the heartbeat.
	HeartbeatInterval time.Duration

	// Host identifies this server in slot holders. Defaults to os.Hostname.
	Host string
}

type process struct {
	runID string
	rec   *job.Record
	pid   int
	// killed is set by Kill; the waiter then leaves the result alone since
	// cancel has already written it.
	killed bool
	done   chan struct{}
}

// Backend implements backend.Backend for local child processes.
type Backend struct {
	cfg     Config
	host    string
	store   backend.Store
	slots   slot.Registry
	catalog *simtype.Catalog
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	procs    map[jobid.Identity]*process
	terminal map[jobid.Identity]job.State
	wg       sync.WaitGroup
}

var (
	_ backend.Backend          = (*Backend)(nil)
	_ backend.ProgressReporter = (*Backend)(nil)
	_ backend.TerminalMarker   = (*Backend)(nil)
	_ backend.Lister           = (*Backend)(nil)
)

// New returns a local backend. logger may be nil.
func New(cfg Config, store backend.Store, slots slot.Registry, catalog *simtype.Catalog, logger *zap.Logger) (*Backend, error) {
	if strings.TrimSpace(cfg.WorkRoot) == "" {
		return nil, errors.New("local backend: work root is required")
	}
	if store == nil || slots == nil {
		return nil, errors.New("local backend: store and slot registry are required")
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return nil, fmt.Errorf("local backend: create work root: %w", err)
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			h = "localhost"
		}
		host = h
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		cfg:      cfg,
		host:     host,
		store:    store,
		slots:    slots,
		catalog:  catalog,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
		procs:    make(map[jobid.Identity]*process),
		terminal: make(map[jobid.Identity]job.State),
	}, nil
}

func (b *Backend) jobDir(id jobid.Identity) string {
	return filepath.Join(b.cfg.WorkRoot, string(id))
}

func (b *Backend) command(simType string) ([]string, error) {
	if argv, ok := b.cfg.Commands[simType]; ok && len(argv) > 0 {
		return argv, nil
	}
	if argv, ok := b.cfg.Commands[DefaultCommandKey]; ok && len(argv) > 0 {
		return argv, nil
	}
	return nil, fmt.Errorf("no command configured for simulation type %q", simType)
}

// IsProcessing reports occupancy from the slot registry and phase from the
// process table. A slot held for a dead process on this host reports an
// empty phase.
func (b *Backend) IsProcessing(ctx context.Context, id jobid.Identity) (backend.Occupancy, error) {
	raw, held, err := b.slots.Holder(ctx, id)
	if err != nil {
		return backend.Occupancy{}, err
	}
	if !held {
		return backend.Occupancy{}, nil
	}

	b.mu.Lock()
	p, owned := b.procs[id]
	var pid int
	if owned {
		pid = p.pid
	}
	b.mu.Unlock()

	if owned {
		if pid == 0 {
			return backend.Occupancy{Occupied: true, Phase: job.PhasePending}, nil
		}
		return backend.Occupancy{Occupied: true, Phase: job.PhaseRunning}, nil
	}

	h, err := parseHolder(raw)
	if err != nil {
		b.log.Warn("unreadable slot holder", zap.String("job_identity", string(id)), zap.Error(err))
		return backend.Occupancy{Occupied: true}, nil
	}
	if h.pid == 0 {
		// Mid-spawn somewhere; the lease TTL bounds a spawner that died.
		return backend.Occupancy{Occupied: true, Phase: job.PhasePending}, nil
	}
	if h.host != b.host {
		// Another server owns it; its liveness cannot be checked from here.
		return backend.Occupancy{Occupied: true, Phase: job.PhaseRunning}, nil
	}
	if isProcessAlive(h.pid) {
		return backend.Occupancy{Occupied: true, Phase: job.PhaseRunning}, nil
	}
	return backend.Occupancy{Occupied: true}, nil
}

// Start claims the slot and spawns the child.
func (b *Backend) Start(ctx context.Context, id jobid.Identity, rec *job.Record) (backend.StartOutcome, error) {
	if rec == nil {
		return 0, errors.New("job record is nil")
	}
	argv, err := b.command(rec.Request.SimulationType)
	if err != nil {
		return 0, err
	}

	p := &process{runID: rec.RunID, rec: rec, done: make(chan struct{})}

	claim := holder{host: b.host, runID: rec.RunID}.String()

	b.mu.Lock()
	ok, err := b.slots.Acquire(ctx, id, claim)
	if err != nil {
		b.mu.Unlock()
		return 0, err
	}
	if !ok {
		b.mu.Unlock()
		return backend.AlreadyRunning, nil
	}
	// Persist before anyone can observe the slot as ours.
	if err := b.store.WriteRequest(ctx, id, rec); err != nil {
		b.mu.Unlock()
		if _, rerr := b.slots.ReleaseIf(context.Background(), id, claim); rerr != nil {
			b.log.Warn("release slot after failed start", zap.String("job_identity", string(id)), zap.Error(rerr))
		}
		return 0, fmt.Errorf("persist request: %w", err)
	}
	b.procs[id] = p
	delete(b.terminal, id)
	b.mu.Unlock()

	if err := b.spawn(ctx, id, p, argv); err != nil {
		b.abandon(id, p)
		return 0, err
	}
	return backend.Started, nil
}

func (b *Backend) spawn(ctx context.Context, id jobid.Identity, p *process, argv []string) error {
	dir := b.jobDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear job dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}
	input, err := json.MarshalIndent(p.rec.Request, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, inputFile), input, 0o644); err != nil {
		return fmt.Errorf("write input: %w", err)
	}

	logF, err := os.Create(filepath.Join(dir, logFile))
	if err != nil {
		return fmt.Errorf("create run log: %w", err)
	}

	// The child must outlive the request that started it.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.Env = append(os.Environ(),
		"SIMRUN_JOB_DIR="+dir,
		"SIMRUN_INPUT="+filepath.Join(dir, inputFile),
		"SIMRUN_OUTPUT="+filepath.Join(dir, outputFile),
		"SIMRUN_JOB_IDENTITY="+string(id),
		"SIMRUN_RUN_ID="+p.runID,
	)

	if err := cmd.Start(); err != nil {
		_ = logF.Close()
		return fmt.Errorf("start %s: %w", argv[0], err)
	}

	b.mu.Lock()
	p.pid = cmd.Process.Pid
	killed := p.killed
	b.mu.Unlock()

	if err := b.slots.Update(ctx, id, holder{host: b.host, pid: cmd.Process.Pid, runID: p.runID}.String()); err != nil {
		b.log.Warn("record pid in slot", zap.String("job_identity", string(id)), zap.Error(err))
	}
	b.log.Info("simulation started",
		zap.String("job_identity", string(id)),
		zap.String("sim_type", p.rec.Request.SimulationType),
		zap.String("fingerprint", p.rec.Fingerprint),
		zap.Int("pid", cmd.Process.Pid),
	)

	stopHeartbeat := b.startHeartbeat(id, p)
	b.wg.Add(1)
	go b.wait(id, p, cmd, logF, stopHeartbeat)

	if killed {
		_ = signalPID(p.pid, syscall.SIGKILL)
	}
	return nil
}

// abandon undoes a start that failed before the child was running.
func (b *Backend) abandon(id jobid.Identity, p *process) {
	b.mu.Lock()
	if b.procs[id] == p {
		delete(b.procs, id)
	}
	b.mu.Unlock()
	close(p.done)
	if err := b.releaseRun(context.Background(), id, p.runID); err != nil {
		b.log.Warn("release slot after failed start", zap.String("job_identity", string(id)), zap.Error(err))
	}
}

// releaseRun frees the slot if runID still holds it.
func (b *Backend) releaseRun(ctx context.Context, id jobid.Identity, runID string) error {
	raw, held, err := b.slots.Holder(ctx, id)
	if err != nil || !held {
		return err
	}
	if h, err := parseHolder(raw); err != nil || h.runID != runID {
		return nil
	}
	_, err = b.slots.ReleaseIf(ctx, id, raw)
	return err
}

func (b *Backend) startHeartbeat(id jobid.Identity, p *process) func() {
	if b.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}
	t := time.NewTicker(b.cfg.HeartbeatInterval)
	stop := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				b.mu.Lock()
				h := holder{host: b.host, pid: p.pid, runID: p.runID}
				b.mu.Unlock()
				if err := b.slots.Update(context.Background(), id, h.String()); err != nil {
					b.log.Debug("slot heartbeat", zap.String("job_identity", string(id)), zap.Error(err))
				}
			}
		}
	}()

	return func() {
		t.Stop()
		close(stop)
		<-stopped
	}
}

func (b *Backend) wait(id jobid.Identity, p *process, cmd *exec.Cmd, logF *os.File, stopHeartbeat func()) {
	defer b.wg.Done()
	waitErr := cmd.Wait()
	_ = logF.Close()
	stopHeartbeat()

	ctx := context.Background()
	dir := b.jobDir(id)
	logBytes, _ := os.ReadFile(filepath.Join(dir, logFile))

	b.mu.Lock()
	killed := p.killed
	b.mu.Unlock()

	state := job.StateCompleted
	switch {
	case killed:
		state = job.StateCanceled
	case waitErr != nil:
		state = job.StateError
	}

	if !killed {
		res := b.result(p, state, waitErr, logBytes, dir)
		if err := b.store.WriteResult(ctx, id, res); err != nil {
			if job.IsNotFound(err) {
				b.log.Debug("job removed before result write", zap.String("job_identity", string(id)))
			} else {
				b.log.Error("write result", zap.String("job_identity", string(id)), zap.Error(err))
			}
		}
	}
	if err := b.store.WriteLog(ctx, id, logBytes); err != nil {
		b.log.Warn("persist run log", zap.String("job_identity", string(id)), zap.Error(err))
	}

	b.mu.Lock()
	b.terminal[id] = state
	if b.procs[id] == p {
		delete(b.procs, id)
	}
	b.mu.Unlock()

	if err := b.releaseRun(ctx, id, p.runID); err != nil {
		b.log.Warn("release slot", zap.String("job_identity", string(id)), zap.Error(err))
	}
	close(p.done)

	b.log.Info("simulation finished",
		zap.String("job_identity", string(id)),
		zap.String("state", string(state)),
	)
}

func (b *Backend) result(p *process, state job.State, waitErr error, logBytes []byte, dir string) *job.CachedResult {
	start := p.rec.StartTime
	end := b.now()
	res := &job.CachedResult{
		Fingerprint:    p.rec.Fingerprint,
		RunID:          p.runID,
		State:          state,
		StartTime:      &start,
		LastUpdateTime: &end,
	}
	if pct, frames, ok := parseProgress(logBytes); ok {
		res.PercentComplete = pct
		res.FrameCount = frames
	}

	if state == job.StateError {
		msg := ""
		if typ, err := b.catalog.Lookup(p.rec.Request.SimulationType); err == nil {
			msg = typ.ParseErrorLog(logBytes)
		}
		if msg == "" {
			msg = fmt.Sprintf("simulation failed: %v", waitErr)
		}
		res.Error = msg
		return res
	}

	if out, err := os.ReadFile(filepath.Join(dir, outputFile)); err == nil {
		out = bytes.TrimSpace(out)
		if json.Valid(out) {
			res.Output = json.RawMessage(out)
		} else {
			b.log.Warn("ignoring invalid output.json", zap.String("run_id", p.runID))
		}
	}
	return res
}

// Kill sends SIGTERM, then SIGKILL once KillGrace has elapsed. It returns
// when the child is gone or ctx ends.
func (b *Backend) Kill(ctx context.Context, id jobid.Identity) error {
	b.mu.Lock()
	p, owned := b.procs[id]
	var pid int
	if owned {
		p.killed = true
		pid = p.pid
	}
	b.mu.Unlock()

	if !owned {
		return b.killOrphan(ctx, id)
	}
	if pid == 0 {
		// Still spawning; spawn kills the child as soon as it exists.
		return nil
	}

	if err := signalPID(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal term: %w", err)
	}
	grace := time.NewTimer(b.cfg.KillGrace)
	defer grace.Stop()
	select {
	case <-p.done:
		return nil
	case <-grace.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.log.Warn("simulation ignored SIGTERM; killing", zap.String("job_identity", string(id)), zap.Int("pid", pid))
	if err := signalPID(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("signal kill: %w", err)
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// killOrphan handles a slot held on this host by a process this server did
// not start (for example after a restart).
func (b *Backend) killOrphan(ctx context.Context, id jobid.Identity) error {
	raw, held, err := b.slots.Holder(ctx, id)
	if err != nil || !held {
		return err
	}
	h, err := parseHolder(raw)
	if err != nil || h.host != b.host || h.pid == 0 {
		return nil
	}
	if isProcessAlive(h.pid) {
		if err := signalPID(h.pid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("signal kill: %w", err)
		}
	}
	_, err = b.slots.ReleaseIf(ctx, id, raw)
	return err
}

// Reap frees a slot whose holder is no longer running. It re-reads the
// holder and only deletes that exact value, so a run that claimed the slot
// after the caller looked is left alone. Executions this server owns are
// released by their waiter, never here.
func (b *Backend) Reap(ctx context.Context, id jobid.Identity) error {
	raw, held, err := b.slots.Holder(ctx, id)
	if err != nil || !held {
		return err
	}

	b.mu.Lock()
	_, owned := b.procs[id]
	b.mu.Unlock()
	if owned {
		return nil
	}

	if h, perr := parseHolder(raw); perr == nil {
		if h.pid == 0 || h.host != b.host || isProcessAlive(h.pid) {
			return nil
		}
	}

	freed, err := b.slots.ReleaseIf(ctx, id, raw)
	if err != nil {
		return err
	}
	if freed {
		b.log.Info("reaped desynchronized slot", zap.String("job_identity", string(id)), zap.String("holder", raw))
	}
	return nil
}

// Progress parses the latest progress line of a running child's log.
func (b *Backend) Progress(_ context.Context, id jobid.Identity) (*backend.Progress, error) {
	path := filepath.Join(b.jobDir(id), logFile)
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pct, frames, ok := parseProgress(data)
	if !ok {
		return nil, nil
	}
	return &backend.Progress{PercentComplete: pct, FrameCount: frames, LastUpdate: st.ModTime()}, nil
}

// LastTerminalState reports how the last execution this server ran for id
// ended.
func (b *Backend) LastTerminalState(_ context.Context, id jobid.Identity) (job.State, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.terminal[id]
	return s, ok, nil
}

// Occupied lists held slots.
func (b *Backend) Occupied(ctx context.Context) ([]jobid.Identity, error) {
	return b.slots.Occupied(ctx)
}

// Wait blocks until every waiter goroutine has finished.
func (b *Backend) Wait() {
	b.wg.Wait()
}

// Shutdown kills every child this server started and waits for them.
func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	ids := make([]jobid.Identity, 0, len(b.procs))
	for id := range b.procs {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := b.Kill(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("kill %s: %w", id, err))
		}
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
