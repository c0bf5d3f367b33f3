package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/simrun/pkg/backend"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and prune persisted simulation jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted jobs",
	RunE:  runJobsList,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete persisted jobs that finished long ago",
	RunE:  runJobsGC,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGCCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsGCCmd.Flags().String("max-age", "168h", "Delete terminal jobs not updated for this long")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
	jobsGCCmd.Flags().Bool("json", false, "Output as JSON")
}

type jobListItem struct {
	Identity       string    `json:"job_identity"`
	SimulationType string    `json:"simulation_type"`
	ComputeModel   string    `json:"compute_model"`
	State          string    `json:"state"`
	Fingerprint    string    `json:"fingerprint"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func inventoryOf(rt *appRuntime) (backend.Inventory, error) {
	inv, ok := rt.store.(backend.Inventory)
	if !ok {
		return nil, fmt.Errorf("storage driver %q cannot enumerate jobs", rt.cfg.Storage.Driver)
	}
	return inv, nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return withRuntime(cmd, func(ctx context.Context, rt *appRuntime) error {
		inv, err := inventoryOf(rt)
		if err != nil {
			return err
		}
		entries, err := inv.List(ctx)
		if err != nil {
			return err
		}
		return printJobs(cmd.OutOrStdout(), entries, jsonOutput)
	})
}

func printJobs(out io.Writer, entries []backend.Entry, jsonOutput bool) error {
	if jsonOutput {
		items := make([]jobListItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, jobListItem{
				Identity:       e.Identity.String(),
				SimulationType: e.SimulationType,
				ComputeModel:   e.ComputeModel,
				State:          string(e.State),
				Fingerprint:    e.Fingerprint,
				UpdatedAt:      e.UpdatedAt.UTC(),
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB IDENTITY\tTYPE\tSTATE\tUPDATED\tFINGERPRINT")
	for _, e := range entries {
		fp := e.Fingerprint
		if fp == "" {
			fp = "-"
		} else if len(fp) > 12 {
			fp = fp[:12]
		}
		updated := "-"
		if !e.UpdatedAt.IsZero() {
			updated = e.UpdatedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Identity, e.SimulationType, e.State, updated, fp)
	}
	return nil
}

type jobsGCResult struct {
	Deleted      int    `json:"deleted"`
	WouldDelete  int    `json:"would_delete"`
	DryRun       bool   `json:"dry_run"`
	MaxAgeString string `json:"max_age"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAgeStr = strings.TrimSpace(maxAgeStr)
	if maxAgeStr == "" {
		maxAgeStr = "168h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return fmt.Errorf("invalid --max-age: %w", err)
	}
	if maxAge <= 0 {
		return fmt.Errorf("--max-age must be > 0")
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	return withRuntime(cmd, func(ctx context.Context, rt *appRuntime) error {
		inv, err := inventoryOf(rt)
		if err != nil {
			return err
		}
		n, err := collectJobs(ctx, inv, rt.backend, maxAge, time.Now().UTC(), dryRun)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			res := jobsGCResult{DryRun: dryRun, MaxAgeString: maxAgeStr}
			if dryRun {
				res.WouldDelete = n
			} else {
				res.Deleted = n
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		if dryRun {
			_, _ = fmt.Fprintf(out, "would_delete=%d\n", n)
			return nil
		}
		_, _ = fmt.Fprintf(out, "deleted=%d\n", n)
		return nil
	})
}

// collectJobs deletes terminal jobs older than maxAge whose slot is free.
func collectJobs(ctx context.Context, inv backend.Inventory, b backend.Backend, maxAge time.Duration, now time.Time, dryRun bool) (int, error) {
	entries, err := inv.List(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, e := range entries {
		if !e.State.Terminal() || e.UpdatedAt.IsZero() {
			continue
		}
		if now.Sub(e.UpdatedAt.UTC()) <= maxAge {
			continue
		}
		occ, err := b.IsProcessing(ctx, e.Identity)
		if err != nil {
			return deleted, fmt.Errorf("check %s: %w", e.Identity, err)
		}
		if occ.Occupied {
			continue
		}
		if !dryRun {
			if err := inv.Delete(ctx, e.Identity); err != nil {
				return deleted, fmt.Errorf("delete %s: %w", e.Identity, err)
			}
		}
		deleted++
	}
	return deleted, nil
}
