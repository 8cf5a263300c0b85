package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	crerrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/internal/rotation/metrics"
	"github.com/systmms/credrotate/internal/rotation/notifications"
	"github.com/systmms/credrotate/internal/rotation/storage"
	"github.com/systmms/credrotate/internal/secretstores"
	"github.com/systmms/credrotate/internal/secure"
	"github.com/systmms/credrotate/pkg/rotation"
)

type rotateOptions struct {
	loginURL        string
	changeURL       string
	identity        string
	secretEnv       string
	preset          string
	locators        []string
	length          int
	alphabet        string
	elementTimeout  time.Duration
	loginTimeout    time.Duration
	rotationTimeout time.Duration
	pollInterval    time.Duration
	headed          bool
	dryRun          bool
	noStore         bool
	noNotify        bool
	metricsTextfile string
}

// NewRotateCommand creates the rotate command
func NewRotateCommand(cfg *config.Config, deps Deps) *cobra.Command {
	var opts rotateOptions

	cmd := &cobra.Command{
		Use:   "rotate <target>",
		Short: "Log in to a site and replace the account secret",
		Long: `Log in to the target site with the current secret, generate a new secret
and submit it through the site's change form.

Only the new secret is written to stdout. Progress and errors go to stderr.
If the outcome cannot be determined after the form was submitted, the
candidate secret is still printed because it may now be live, and the
command exits with code 7.

Exit codes:
  0  rotated
  1  unexpected error
  2  configuration or usage error
  3  browser session could not be started
  4  an element did not appear in time
  5  login rejected
  6  new secret rejected
  7  outcome unknown after submission`,
		Example: `  # Rotate a configured target
  credrotate rotate mail > new-secret.txt

  # Define a target entirely from flags
  OLD=... credrotate rotate forum --login-url https://forum.example/login \
    --change-url https://forum.example/account/password \
    --identity ada --secret-env OLD \
    --locator login_success=css:.avatar --locator rotation_success=css:.flash-ok

  # Check locators without changing anything
  credrotate rotate mail --dry-run`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeTargets(cfg),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRotate(cmd, cfg, deps, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.loginURL, "login-url", "", "Login page URL")
	f.StringVar(&opts.changeURL, "change-url", "", "Secret change page URL (default: stay on the page after login)")
	f.StringVar(&opts.identity, "identity", "", "Account identity (username or email)")
	f.StringVar(&opts.secretEnv, "secret-env", "", "Environment variable holding the current secret")
	f.StringVar(&opts.preset, "preset", "", "Locator preset ("+strings.Join(config.PresetNames(), ", ")+")")
	f.StringArrayVar(&opts.locators, "locator", nil, "Locator override as field=[kind:]value, empty value drops the field (repeatable)")
	f.IntVar(&opts.length, "length", 0, "Length of the new secret")
	f.StringVar(&opts.alphabet, "alphabet", "", "Characters the new secret is drawn from")
	f.DurationVar(&opts.elementTimeout, "element-timeout", 0, "How long to wait for each element")
	f.DurationVar(&opts.loginTimeout, "login-timeout", 0, "How long to wait for the login outcome")
	f.DurationVar(&opts.rotationTimeout, "rotation-timeout", 0, "How long to wait for the rotation outcome")
	f.DurationVar(&opts.pollInterval, "poll-interval", 0, "Interval between outcome checks")
	f.BoolVar(&opts.headed, "headed", false, "Show the browser window")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Log in and locate the change form without submitting")
	f.BoolVar(&opts.noStore, "no-store", false, "Do not write the new secret to the target's store_new")
	f.BoolVar(&opts.noNotify, "no-notify", false, "Do not send configured notifications")
	f.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file (node_exporter textfile format)")

	return cmd
}

func (o rotateOptions) overrides() (config.Overrides, error) {
	ov := config.Overrides{
		LoginURL:  o.loginURL,
		ChangeURL: o.changeURL,
		Identity:  o.identity,
		SecretEnv: o.secretEnv,
		Preset:    o.preset,
		Timeouts: rotation.Timeouts{
			Element:  o.elementTimeout,
			Login:    o.loginTimeout,
			Rotation: o.rotationTimeout,
			Poll:     o.pollInterval,
		},
		Policy: rotation.Policy{Alphabet: o.alphabet, Length: o.length},
	}
	if o.length < 0 {
		return ov, crerrors.ConfigError{
			Field:      "--length",
			Value:      o.length,
			Message:    "length must be positive",
			Suggestion: fmt.Sprintf("Use a value between 1 and %d", rotation.MaxLength),
		}
	}
	if len(o.locators) > 0 {
		ov.Locators = make(map[string]string, len(o.locators))
		for _, raw := range o.locators {
			field, value, ok := strings.Cut(raw, "=")
			field = strings.TrimSpace(field)
			if !ok || field == "" {
				return ov, crerrors.ConfigError{
					Field:      "--locator",
					Value:      raw,
					Message:    "locator must be field=[kind:]value",
					Suggestion: "For example --locator rotation_success=css:.alert-success, or --locator confirm_secret= to drop a preset field",
				}
			}
			if config.IsUnsetLocator(value) {
				value = config.UnsetLocator
			}
			ov.Locators[field] = value
		}
	}
	return ov, nil
}

func runRotate(cmd *cobra.Command, cfg *config.Config, deps Deps, opts rotateOptions, name string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cfg.Logger

	if err := cfg.LoadIfExists(); err != nil {
		return err
	}
	ov, err := opts.overrides()
	if err != nil {
		return err
	}
	resolved, err := cfg.ResolveTarget(name, ov)
	if err != nil {
		return err
	}

	browserCfg := cfg.Definition.Browser
	if opts.headed {
		headless := false
		browserCfg.Headless = &headless
	}

	resolver := secretstores.NewResolver(cfg, deps.Registry, logger)
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Debug("Closing secret stores: %v", err)
		}
	}()

	current, err := resolver.ResolveSecret(ctx, resolved.Secret)
	if err != nil {
		if secretstores.IsNotFound(err) {
			return &CodedError{Code: ExitConfig, Err: err}
		}
		return err
	}
	defer current.Destroy()

	cred := rotation.Credential{
		Site:     resolved.Target.Name,
		Identity: resolved.Identity,
		Secret:   current,
	}

	recorder := metrics.NewRecorder()
	procOpts := []rotation.Option{rotation.WithMetrics(recorder)}
	if deps.Generate != nil {
		procOpts = append(procOpts, rotation.WithGenerator(deps.Generate))
	}

	var esc *escrow
	if resolved.StoreNew != nil && !opts.noStore && !opts.dryRun {
		esc = &escrow{resolver: resolver, ref: *resolved.StoreNew, logger: logger}
		procOpts = append(procOpts, rotation.WithEscrow(esc.write))
	}

	proc := rotation.NewProcedure(deps.NewOpener(browserCfg, logger), logger, procOpts...)

	action := storage.ActionRotate
	var (
		result *rotation.Result
		runErr error
	)
	if opts.dryRun {
		action = storage.ActionProbe
		result, runErr = proc.Probe(ctx, resolved.Target, cred)
	} else {
		result, runErr = proc.Rotate(ctx, resolved.Target, cred)
	}
	if result != nil && result.NewSecret != nil {
		defer result.NewSecret.Destroy()
	}

	entry := storage.NewHistoryEntry(resolved.Target.Name, action, result, runErr)
	entry.DryRun = opts.dryRun

	kind := rotation.Kind(runErr)
	var emitErr error
	if !opts.dryRun && result != nil && result.NewSecret != nil && (runErr == nil || kind == rotation.KindAmbiguous) {
		emitErr = emitSecret(cmd.OutOrStdout(), result.NewSecret)
		entry.Emitted = emitErr == nil
	}

	if esc != nil {
		entry.StoreRef = esc.ref.String()
		entry.StoreVersion = esc.version
		if esc.written && runErr != nil && kind != rotation.KindAmbiguous {
			if err := esc.restore(ctx, resolved.Secret, current); err != nil {
				entry.StoreError = err.Error()
			}
		}
	}

	switch {
	case kind == rotation.KindAmbiguous:
		logger.Error("The rotation of %s was submitted but its outcome is unknown.", name)
		logger.Error("The secret printed on stdout may now be live. Log in manually to find out which secret works.")
		if esc != nil && esc.written {
			logger.Error("The candidate was stored in %s (version %q).", esc.ref, esc.version)
		}
	case runErr == nil && opts.dryRun:
		logger.Info("Dry run passed: %s accepts login and exposes its change form", name)
	}

	recordHistory(cfg, logger, entry)
	if !opts.noNotify {
		notify(ctx, cfg, logger, entry)
	}

	if opts.metricsTextfile != "" {
		if err := recorder.WriteTextfile(opts.metricsTextfile); err != nil {
			logger.Warn("Failed to write metrics to %s: %v", opts.metricsTextfile, err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if emitErr != nil {
		return fmt.Errorf("rotation completed but the new secret could not be written to stdout: %w", emitErr)
	}
	return nil
}

func emitSecret(w io.Writer, secret *secure.Buffer) error {
	value, err := secret.Reveal()
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, value+"\n")
	return err
}

// escrow writes the candidate secret to store_new before it is typed.
type escrow struct {
	resolver *secretstores.Resolver
	ref      config.SecretRef
	logger   *logging.Logger

	written bool
	version string
}

func (e *escrow) write(ctx context.Context, secret string) error {
	version, err := e.resolver.WriteSecret(ctx, e.ref, secret)
	if err != nil {
		return err
	}
	e.written = true
	e.version = version
	e.logger.Info("Stored candidate secret in %s", e.ref)
	return nil
}

// restore puts the still-live secret back when store_new is also the
// source of the current secret.
func (e *escrow) restore(ctx context.Context, source config.SecretRef, current *secure.Buffer) error {
	if e.ref.Store != source.Store || e.ref.Key != source.Key {
		e.logger.Warn("%s holds a candidate that was never applied; the previous secret is still live", e.ref)
		return nil
	}

	value, err := current.Reveal()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if _, err := e.resolver.WriteSecret(ctx, e.ref, value); err != nil {
		e.logger.Error("Failed to restore the previous secret in %s: %v", e.ref, err)
		return err
	}
	e.logger.Warn("Restored the previous secret in %s", e.ref)
	return nil
}

func recordHistory(cfg *config.Config, logger *logging.Logger, entry *storage.HistoryEntry) {
	if cfg.Definition != nil && cfg.Definition.History.Disabled {
		return
	}
	dir := cfg.HistoryDir()
	if dir == "" {
		dir = storage.DefaultStorageDir()
	}
	store := storage.NewFileStorage(dir)

	if err := store.SaveHistory(entry); err != nil {
		logger.Warn("Failed to record history: %v", err)
		return
	}

	status, err := store.GetStatus(entry.Target)
	if err != nil {
		if !errors.Is(err, storage.ErrNoStatus) {
			logger.Warn("Failed to read target status: %v", err)
		}
		status = &storage.TargetStatus{}
	}
	status.Record(entry)
	if err := store.SaveStatus(status); err != nil {
		logger.Warn("Failed to update target status: %v", err)
	}
}

// notify announces the run. Delivery problems are logged and never change
// the exit code.
func notify(ctx context.Context, cfg *config.Config, logger *logging.Logger, entry *storage.HistoryEntry) {
	if cfg.Definition == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifications.DefaultSendTimeout)
	defer cancel()

	notifiers, err := notifications.FromConfig(ctx, cfg.Definition.Notifications)
	if err != nil {
		logger.Warn("Notifications are misconfigured: %v", err)
		return
	}
	if len(notifiers) == 0 {
		return
	}
	_ = notifications.NewDispatcher(logger, notifiers...).Notify(ctx, notifications.EventFromHistory(entry))
}
