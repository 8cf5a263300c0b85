package commands

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/secretstores"
)

var storeDescriptions = map[string]string{
	"env":                "Environment variables (read only)",
	"literal":            "Values from the configuration file, in memory",
	"keychain":           "OS keychain: macOS Keychain, Secret Service, Windows Credential Manager",
	"aws.secretsmanager": "AWS Secrets Manager",
	"gcp.secretmanager":  "Google Cloud Secret Manager",
	"azure.keyvault":     "Azure Key Vault",
}

func storeDescription(storeType string) string {
	if d, ok := storeDescriptions[storeType]; ok {
		return d
	}
	return "No description available"
}

// NewStoresCommand creates the stores command
func NewStoresCommand(cfg *config.Config, deps Deps) *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "stores",
		Short: "List secret store types and configured stores",
		Long: `Display the supported secret store types and the stores defined under
secretStores in credrotate.yaml. With --validate, each configured store is
created and asked to verify its credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Store types:")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tWRITE-BACK\tDESCRIPTION")
			for _, t := range deps.Registry.SupportedTypes() {
				writeBack := "yes"
				if t == "env" {
					writeBack = "no"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t, writeBack, storeDescription(t))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if err := cfg.LoadIfExists(); err != nil {
				return err
			}
			stores := cfg.Definition.SecretStores
			fmt.Fprintln(out, "\nConfigured stores:")
			if len(stores) == 0 {
				fmt.Fprintln(out, "No stores configured (env and keychain are always available)")
				return nil
			}

			names := make([]string, 0, len(stores))
			for name := range stores {
				names = append(names, name)
			}
			sort.Strings(names)

			resolver := secretstores.NewResolver(cfg, deps.Registry, cfg.Logger)
			defer resolver.Close()

			failed := 0
			w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tSTATUS")
			for _, name := range names {
				sc := stores[name]
				status := "configured"
				switch {
				case !deps.Registry.IsSupported(sc.Type):
					status = "unsupported"
					failed++
				case validate:
					if err := validateStore(cmd.Context(), resolver, name, sc); err != nil {
						status = "error: " + truncate(err.Error(), 80)
						failed++
					} else {
						status = "ok"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, sc.Type, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if validate && failed > 0 {
				return fmt.Errorf("%d of %d stores failed validation", failed, len(names))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&validate, "validate", false, "Create each store and check its credentials")

	return cmd
}

func validateStore(ctx context.Context, resolver *secretstores.Resolver, name string, sc config.SecretStoreConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(sc.Timeout())*time.Millisecond)
	defer cancel()

	s, err := resolver.Store(ctx, name)
	if err != nil {
		return err
	}
	return s.Validate(ctx)
}
