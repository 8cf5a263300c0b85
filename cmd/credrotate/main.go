package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/cmd/credrotate/commands"
	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	code := run()
	memguard.Purge()
	os.Exit(code)
}

func run() int {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{
		Path:   config.DefaultPath,
		Logger: logging.New(false, false),
	}
	deps := commands.DefaultDeps()

	rootCmd := &cobra.Command{
		Use:   "credrotate",
		Short: "Rotate website account secrets through their own web forms",
		Long: `credrotate logs in to a website with the current secret, generates a new
one and submits it through the site's secret change form, driving a
headless Chrome. Targets are described by locator tables in credrotate.yaml.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor).WithWriter(cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewRotateCommand(cfg, deps),
		commands.NewGenerateCommand(cfg, deps),
		commands.NewTargetsCommand(cfg),
		commands.NewStoresCommand(cfg, deps),
		commands.NewHistoryCommand(cfg),
		commands.NewDoctorCommand(cfg, deps),
		commands.NewCompletionCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return commands.ExitCode(err)
	}
	return commands.ExitOK
}
