package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/simrun/internal/config"
	"github.com/3leaps/simrun/internal/observability"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
	"github.com/3leaps/simrun/pkg/status"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation, reusing a cached result when inputs are unchanged",
	Long: `Run submits a simulation request and polls until the job reaches a
terminal state. A completed result whose fingerprint still matches is
returned without starting a new execution; pass forceRun in the request to
recompute anyway.

Interrupting the command cancels the job.`,
	RunE: runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the status of a simulation job",
	RunE:  runStatus,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a simulation job",
	RunE:  runCancel,
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the fingerprint of a simulation request",
	RunE:  runFingerprint,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, statusCmd, cancelCmd} {
		c.Flags().String("request", "", "Request JSON file (- for stdin)")
		c.Flags().String("user", "", "Owning user id (default $USER)")
		_ = c.MarkFlagRequired("request")
		rootCmd.AddCommand(c)
	}
	fingerprintCmd.Flags().String("request", "", "Request JSON file (- for stdin)")
	_ = fingerprintCmd.MarkFlagRequired("request")
	rootCmd.AddCommand(fingerprintCmd)
}

// loadRequest reads a job.Request from path, or from stdin when path is "-".
func loadRequest(path string, stdin io.Reader) (*job.Request, error) {
	path = strings.TrimSpace(path)
	var r io.Reader
	switch path {
	case "":
		return nil, errors.New("--request is required")
	case "-":
		r = stdin
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, exitError(int(foundry.ExitFileNotFound), "Cannot open request file", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var req job.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, exitError(int(foundry.ExitFileReadError), "Cannot parse request", err)
	}
	if strings.TrimSpace(req.SimulationType) == "" {
		return nil, exitError(int(foundry.ExitInvalidArgument), "Invalid request", errors.New("simulationType is required"))
	}
	return &req, nil
}

func requestUser(cmd *cobra.Command) string {
	if u, _ := cmd.Flags().GetString("user"); strings.TrimSpace(u) != "" {
		return strings.TrimSpace(u)
	}
	return os.Getenv("USER")
}

type jobInput struct {
	id  jobid.Identity
	req *job.Request
}

func parseJobInput(cmd *cobra.Command) (*jobInput, error) {
	path, _ := cmd.Flags().GetString("request")
	req, err := loadRequest(path, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	id, err := jobid.New(requestUser(cmd), req.SimulationID, req.ComputeModel)
	if err != nil {
		return nil, exitError(int(foundry.ExitInvalidArgument), "Invalid job identity", err)
	}
	return &jobInput{id: id, req: req}, nil
}

func writeStatus(w io.Writer, st *job.ClientStatus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func jobCallError(err error) error {
	if status.IsConfigError(err) {
		return exitError(int(foundry.ExitInvalidArgument), "Simulation type configuration error", err)
	}
	return exitError(int(foundry.ExitExternalServiceUnavailable), "Job request failed", err)
}

// withRuntime opens the runtime for one CLI call and shuts it down after.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *appRuntime) error) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, config.GetConfig(), observability.CLILogger)
	if err != nil {
		return exitError(int(foundry.ExitExternalServiceUnavailable), "Failed to initialize job runtime", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Backend.KillGrace+5*time.Second)
		defer cancel()
		if err := rt.Shutdown(shutdownCtx); err != nil {
			rt.log.Warn("runtime shutdown", zap.Error(err))
		}
	}()
	return fn(ctx, rt)
}

// statusPoller is the part of the orchestrator the run loop polls.
type statusPoller interface {
	Status(ctx context.Context, id jobid.Identity, req *job.Request) (*job.ClientStatus, error)
}

// pollUntilSettled polls until st leaves the in-flight states, honoring the
// server-suggested interval.
func pollUntilSettled(ctx context.Context, p statusPoller, id jobid.Identity, req *job.Request, st *job.ClientStatus) (*job.ClientStatus, error) {
	for st.State.InFlight() {
		wait := time.Duration(st.NextRequestSeconds) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return st, ctx.Err()
		case <-timer.C:
		}

		next, err := p.Status(ctx, id, req)
		if err != nil {
			return st, err
		}
		st = next
	}
	return st, nil
}

func runRun(cmd *cobra.Command, _ []string) error {
	in, err := parseJobInput(cmd)
	if err != nil {
		return err
	}

	return withRuntime(cmd, func(ctx context.Context, rt *appRuntime) error {
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := rt.orch.Run(sigCtx, in.id, in.req)
		if err != nil {
			return jobCallError(err)
		}
		st, err = pollUntilSettled(sigCtx, rt.orch, in.id, in.req, st)
		if errors.Is(err, context.Canceled) {
			rt.log.Info("interrupted, canceling job", zap.String("job_identity", in.id.String()))
			st = rt.orch.Cancel(context.Background(), in.id)
			_ = writeStatus(cmd.OutOrStdout(), st)
			return exitError(int(foundry.ExitSignalInt), "Interrupted", err)
		}
		if err != nil {
			return jobCallError(err)
		}
		if werr := writeStatus(cmd.OutOrStdout(), st); werr != nil {
			return werr
		}
		if st.State == job.StateError {
			return exitError(1, "Simulation failed", errors.New(st.Error))
		}
		return nil
	})
}

func runStatus(cmd *cobra.Command, _ []string) error {
	in, err := parseJobInput(cmd)
	if err != nil {
		return err
	}
	return withRuntime(cmd, func(ctx context.Context, rt *appRuntime) error {
		st, err := rt.orch.Status(ctx, in.id, in.req)
		if err != nil {
			return jobCallError(err)
		}
		return writeStatus(cmd.OutOrStdout(), st)
	})
}

func runCancel(cmd *cobra.Command, _ []string) error {
	in, err := parseJobInput(cmd)
	if err != nil {
		return err
	}
	return withRuntime(cmd, func(ctx context.Context, rt *appRuntime) error {
		return writeStatus(cmd.OutOrStdout(), rt.orch.Cancel(ctx, in.id))
	})
}

func runFingerprint(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("request")
	req, err := loadRequest(path, cmd.InOrStdin())
	if err != nil {
		return err
	}
	return withRuntime(cmd, func(ctx context.Context, rt *appRuntime) error {
		fp, err := rt.orch.Fingerprint(ctx, req)
		if err != nil {
			return jobCallError(err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), fp)
		return nil
	})
}
