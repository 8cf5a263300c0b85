package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/rotation/notifications"
	"github.com/systmms/credrotate/internal/secretstores"
)

// CheckResult is one line of the doctor report.
type CheckResult struct {
	Check   string
	Subject string
	OK      bool
	Message string
}

// NewDoctorCommand creates the doctor command
func NewDoctorCommand(cfg *config.Config, deps Deps) *cobra.Command {
	var (
		skipBrowser bool
		skipStores  bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, secret stores and the browser",
		Long: `Verify that credrotate can run its targets.

This command checks:
- Configuration file validity
- That every target resolves to a complete locator table
- Authentication to every secret store a target references
- That a browser session can be started

No site is contacted and no secret is read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg.Logger.Info("Checking credrotate configuration...")
			if err := cfg.Load(); err != nil {
				return err
			}

			var results []CheckResult
			stores := map[string]bool{}
			for _, name := range cfg.TargetNames() {
				r := CheckResult{Check: "target", Subject: name, OK: true, Message: "resolves"}
				resolved, err := cfg.Target(name)
				if err != nil {
					r.OK = false
					r.Message = err.Error()
				} else {
					stores[resolved.Secret.Store] = true
					if resolved.StoreNew != nil {
						stores[resolved.StoreNew.Store] = true
					}
				}
				results = append(results, r)
			}

			if n := cfg.Definition.Notifications; len(n.Webhooks) > 0 || n.Slack != nil {
				results = append(results, checkNotifications(ctx, n))
			}

			if !skipStores {
				resolver := secretstores.NewResolver(cfg, deps.Registry, cfg.Logger)
				defer resolver.Close()
				for _, name := range sortedKeys(stores) {
					results = append(results, checkStore(ctx, resolver, name))
				}
			}

			if !skipBrowser {
				results = append(results, checkBrowser(ctx, cfg, deps))
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHECK\tSUBJECT\tSTATUS\tMESSAGE")
			failed := 0
			for _, r := range results {
				status := "✓ ok"
				if !r.OK {
					status = "✗ error"
					failed++
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Check, r.Subject, status, truncate(r.Message, 100))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nSummary: %d/%d checks passed\n", len(results)-failed, len(results))
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			cfg.Logger.Info("✓ Ready to rotate")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipBrowser, "skip-browser", false, "Do not start a browser session")
	cmd.Flags().BoolVar(&skipStores, "skip-stores", false, "Do not contact secret stores")

	return cmd
}

func checkStore(ctx context.Context, resolver *secretstores.Resolver, name string) CheckResult {
	r := CheckResult{Check: "store", Subject: name}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	s, err := resolver.Store(ctx, name)
	if err == nil {
		err = s.Validate(ctx)
	}
	if err != nil {
		r.Message = err.Error()
		return r
	}
	r.OK = true
	r.Message = "authenticated"
	return r
}

func checkBrowser(ctx context.Context, cfg *config.Config, deps Deps) CheckResult {
	r := CheckResult{Check: "browser", Subject: "chrome"}
	if cfg.Definition.Browser.ExecPath != "" {
		r.Subject = cfg.Definition.Browser.ExecPath
	}

	session, err := deps.NewOpener(cfg.Definition.Browser, cfg.Logger).Open(ctx)
	if err != nil {
		r.Message = err.Error()
		return r
	}
	if err := session.Close(); err != nil {
		cfg.Logger.Debug("Closing browser: %v", err)
	}
	r.OK = true
	r.Message = "session started"
	return r
}

func checkNotifications(ctx context.Context, cfg config.NotificationsConfig) CheckResult {
	r := CheckResult{Check: "notifications", Subject: "config"}
	notifiers, err := notifications.FromConfig(ctx, cfg)
	if err != nil {
		r.Message = err.Error()
		return r
	}
	r.OK = true
	r.Message = fmt.Sprintf("%d notifier(s) configured", len(notifiers))
	return r
}
