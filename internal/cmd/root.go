// Package cmd implements the simrun command tree.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/simrun/internal/config"
	apperrors "github.com/3leaps/simrun/internal/errors"
	"github.com/3leaps/simrun/internal/observability"
	"github.com/3leaps/simrun/internal/server/handlers"
)

// AppIdentity names the binary, its env prefix and its config directory.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var (
	cfgFile  string
	logLevel string

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

	appIdentity = &AppIdentity{
		BinaryName: "simrun",
		EnvPrefix:  config.EnvPrefix,
		ConfigName: config.AppName,
	}
)

var rootCmd = &cobra.Command{
	Use:   "simrun",
	Short: "Fingerprinted simulation job runner",
	Long: `simrun starts parameterized simulation jobs, reuses results whose
inputs have not changed, and reports a pollable status for each job.

A job is identified by user, simulation instance and compute model. At most
one execution runs per job at a time.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntimeConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default <data dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// SetVersionInfo is called from main with build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity of this binary.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

// setDefaults mirrors the config defaults on the global viper instance so
// flag lookups see them.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

func initRuntimeConfig(cmd *cobra.Command, _ []string) error {
	config.SetConfigFile(cfgFile)

	var overrides []map[string]any
	if lvl := strings.TrimSpace(logLevel); lvl != "" {
		overrides = append(overrides, map[string]any{"logging": map[string]any{"level": lvl}})
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return exitError(int(foundry.ExitInvalidArgument), "Invalid configuration", err)
	}
	if err := observability.Init(cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(int(foundry.ExitInvalidArgument), "Invalid logging configuration", err)
	}
	return nil
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	setDefaults()
	err := rootCmd.ExecuteContext(context.Background())
	observability.Sync()
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	return apperrors.ExitCode(err, 1)
}
