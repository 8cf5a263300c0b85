package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	crerrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/internal/rotation/storage"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand(cfg *config.Config) *cobra.Command {
	var (
		limit  int
		status string
		since  string
		format string
		prune  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history [target]",
		Short: "Show rotation history",
		Long: `Display past rotation and dry runs for one or all targets: when they ran,
how they ended, which step failed and where the new secret was stored.
Secrets themselves are never recorded.`,
		Example: `  # Show history for all targets
  credrotate history

  # Show the last 5 runs of one target
  credrotate history mail --limit 5

  # Show only ambiguous runs
  credrotate history --status ambiguous

  # Drop entries older than 90 days
  credrotate history --prune 2160h`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeTargets(cfg),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			var sinceTime time.Time
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return crerrors.ConfigError{
						Field:      "--since",
						Value:      since,
						Message:    "invalid date",
						Suggestion: "Use YYYY-MM-DD",
					}
				}
				sinceTime = t
			}

			if err := cfg.LoadIfExists(); err != nil {
				return err
			}
			dir := cfg.HistoryDir()
			if dir == "" {
				dir = storage.DefaultStorageDir()
			}
			store := storage.NewFileStorage(dir)

			if prune > 0 {
				removed, err := store.CleanupOldEntries(prune)
				if err != nil {
					cfg.Logger.Warn("Some history entries could not be removed: %v", err)
				}
				cfg.Logger.Info("Removed %d history entries older than %s", removed, prune)
			}

			// Filters apply after the read, so read everything when filtering.
			readLimit := limit
			if status != "" || !sinceTime.IsZero() {
				readLimit = 0
			}

			var (
				entries []storage.HistoryEntry
				err     error
			)
			if len(args) == 1 {
				entries, err = store.GetHistory(args[0], readLimit)
			} else {
				entries, err = store.GetAllHistory(readLimit)
			}
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}

			entries = filterHistory(entries, status, sinceTime)
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, entries); done {
				return err
			}

			if len(entries) == 0 {
				fmt.Fprintln(out, "No rotation history found")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tTARGET\tACTION\tSTATUS\tDURATION\tFAILED STEP\tSTORED\tERROR")
			for _, e := range entries {
				action := e.Action
				if e.DryRun {
					action = "dry-run"
				}
				stored := "-"
				if e.StoreRef != "" {
					stored = e.StoreRef
					if e.StoreVersion != "" {
						stored += "@" + e.StoreVersion
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"),
					e.Target,
					action,
					e.Status,
					formatDuration(e.Duration),
					dash(failedStep(e)),
					stored,
					dash(truncate(e.Error, 60)),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries to show (0 for all)")
	cmd.Flags().StringVar(&status, "status", "", "Only show runs with this status: completed, failed, ambiguous")
	cmd.Flags().StringVar(&since, "since", "", "Only show runs since this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Remove entries older than this age before listing")

	return cmd
}

func filterHistory(entries []storage.HistoryEntry, status string, since time.Time) []storage.HistoryEntry {
	filtered := entries[:0:0]
	for _, e := range entries {
		if status != "" && !strings.EqualFold(string(e.Status), status) {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func failedStep(e storage.HistoryEntry) string {
	for _, s := range e.Steps {
		if s.Status == "failed" {
			return s.Name
		}
	}
	return ""
}
