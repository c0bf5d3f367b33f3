package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/simrun/internal/config"
	"github.com/3leaps/simrun/internal/observability"
	"github.com/3leaps/simrun/internal/server"
	"github.com/3leaps/simrun/internal/server/handlers"
	"github.com/3leaps/simrun/internal/server/middleware"
	"github.com/3leaps/simrun/pkg/backend"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
	"github.com/3leaps/simrun/pkg/orchestrator"
	"github.com/3leaps/simrun/pkg/slot"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run, status and cancel endpoints over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

// probeIdentity is never a real job; reading it exercises the store round trip.
const probeIdentity = jobid.Identity("health~probe~check")

type storeChecker struct {
	store backend.Store
}

func (c storeChecker) CheckHealth(ctx context.Context) error {
	_, err := c.store.ReadRequest(ctx, probeIdentity)
	if err == nil || job.IsNotFound(err) {
		return nil
	}
	return fmt.Errorf("job store: %w", err)
}

type slotChecker struct {
	slots slot.Registry
}

func (c slotChecker) CheckHealth(ctx context.Context) error {
	if _, err := c.slots.Occupied(ctx); err != nil {
		return fmt.Errorf("slot registry: %w", err)
	}
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()
	logger := observability.ServerLogger

	host := cfg.Server.Host
	if h, _ := cmd.Flags().GetString("host"); h != "" {
		host = h
	}
	port := cfg.Server.Port
	if p, _ := cmd.Flags().GetInt("port"); p != 0 {
		port = p
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return exitError(int(foundry.ExitExternalServiceUnavailable), "Failed to initialize job runtime", err)
	}

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("store", storeChecker{store: rt.store})
	hm.RegisterChecker("slots", slotChecker{slots: rt.slots})
	if id := GetAppIdentity(); id != nil {
		hm.RegisterChecker("identity", identityHealthChecker{binaryName: id.BinaryName, envPrefix: id.EnvPrefix, configName: id.ConfigName})
	}

	var sweeper *orchestrator.Sweeper
	if cfg.Sweep.Enabled {
		sweeper, err = orchestrator.NewSweeper(rt.backend, cfg.Sweep.Schedule, logger.Named("sweeper"))
		if err != nil {
			_ = rt.Close()
			return exitError(int(foundry.ExitInvalidArgument), "Invalid sweep schedule", err)
		}
		sweeper.Start()
	}

	srv := server.New(host, port,
		server.WithLogger(logger),
		server.WithJobs(handlers.NewJobs(rt.orch, logger.Named("jobs"))),
		server.WithStatusLimiter(middleware.NewLimiter(cfg.RateLimit.StatusRPS, cfg.RateLimit.StatusBurst)),
		server.WithTimeouts(server.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		}),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}
	if err := rt.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runtime shutdown", zap.Error(err))
	}

	if serveErr != nil {
		return exitError(int(foundry.ExitExternalServiceUnavailable), "Server failed", serveErr)
	}
	return nil
}
