package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	crerrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/pkg/rotation"
)

// NewGenerateCommand creates the generate command
func NewGenerateCommand(cfg *config.Config, deps Deps) *cobra.Command {
	var (
		length   int
		alphabet string
		count    int
		target   string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print secrets generated from the policy",
		Long: `Generate secrets with the same policy rotate uses, without touching any site.

The policy is taken from the target (--target), then the global policy in
credrotate.yaml, then the built-in default; --length and --alphabet override it.`,
		Example: `  credrotate generate
  credrotate generate --length 32 --count 5
  credrotate generate --target mail`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return crerrors.ConfigError{
					Field:      "--count",
					Value:      count,
					Message:    "count must be at least 1",
					Suggestion: "Use --count 1 or more",
				}
			}
			if err := cfg.LoadIfExists(); err != nil {
				return err
			}

			policy := cfg.Policy()
			if target != "" {
				tc, ok := cfg.Definition.Targets[target]
				if !ok {
					return crerrors.ConfigError{
						Field:      "--target",
						Value:      target,
						Message:    "target not found",
						Suggestion: "List targets with 'credrotate targets'",
					}
				}
				if tc.Policy != nil {
					policy = rotation.Policy{Alphabet: tc.Policy.Alphabet, Length: tc.Policy.Length}.Merge(policy)
				}
			}
			policy = rotation.Policy{Alphabet: alphabet, Length: length}.Merge(policy)
			if err := policy.Validate(); err != nil {
				return &CodedError{Code: ExitConfig, Err: err}
			}

			generate := deps.Generate
			if generate == nil {
				generate = rotation.Generate
			}
			cfg.Logger.Debug("Generating %d secret(s): length %d, %.0f bits of entropy", count, policy.Length, policy.Entropy())

			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				secret, err := generate(policy)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintln(out, secret); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&length, "length", 0, "Secret length")
	cmd.Flags().StringVar(&alphabet, "alphabet", "", "Characters to draw from")
	cmd.Flags().IntVar(&count, "count", 1, "Number of secrets to print")
	cmd.Flags().StringVar(&target, "target", "", "Use this target's policy")

	return cmd
}
