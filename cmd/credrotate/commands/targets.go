package commands

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
)

// targetView is the printable form of a resolved target. It holds
// references to secrets, never values.
type targetView struct {
	Name      string            `json:"name" yaml:"name"`
	LoginURL  string            `json:"login_url,omitempty" yaml:"login_url,omitempty"`
	ChangeURL string            `json:"change_url,omitempty" yaml:"change_url,omitempty"`
	Identity  string            `json:"identity,omitempty" yaml:"identity,omitempty"`
	Secret    string            `json:"secret,omitempty" yaml:"secret,omitempty"`
	StoreNew  string            `json:"store_new,omitempty" yaml:"store_new,omitempty"`
	Preset    string            `json:"preset,omitempty" yaml:"preset,omitempty"`
	Locators  map[string]string `json:"locators,omitempty" yaml:"locators,omitempty"`
	Policy    string            `json:"policy,omitempty" yaml:"policy,omitempty"`
	Error     string            `json:"error,omitempty" yaml:"error,omitempty"`
}

type presetView struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Locators    map[string]string `json:"locators" yaml:"locators"`
}

// NewTargetsCommand creates the targets command
func NewTargetsCommand(cfg *config.Config) *cobra.Command {
	var (
		format  string
		presets bool
	)

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List configured targets and their resolved locators",
		Long: `List the targets in credrotate.yaml with their locators after presets are
applied. Targets that would fail to resolve are listed with the reason.

With --presets, list the built-in locator presets instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if presets {
				return listPresets(cmd, format)
			}
			if err := cfg.Load(); err != nil {
				return err
			}

			views := make([]targetView, 0, len(cfg.Definition.Targets))
			for _, name := range cfg.TargetNames() {
				views = append(views, resolveView(cfg, name))
			}

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, views); done {
				return err
			}

			if len(views) == 0 {
				fmt.Fprintln(out, "No targets configured")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLOGIN URL\tIDENTITY\tSECRET\tSTORE NEW\tSTATUS")
			for _, v := range views {
				status := "ok"
				if v.Error != "" {
					status = "invalid: " + truncate(v.Error, 60)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					v.Name, dash(v.LoginURL), dash(v.Identity), dash(v.Secret), dash(v.StoreNew), status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&presets, "presets", false, "List built-in locator presets")

	return cmd
}

func resolveView(cfg *config.Config, name string) targetView {
	tc := cfg.Definition.Targets[name]
	view := targetView{
		Name:      name,
		LoginURL:  tc.LoginURL,
		ChangeURL: tc.ChangeURL,
		Identity:  tc.Identity,
		Preset:    tc.Preset,
	}
	if !tc.Secret.IsZero() {
		view.Secret = tc.Secret.String()
	}
	if tc.StoreNew != nil {
		view.StoreNew = tc.StoreNew.String()
	}

	resolved, err := cfg.Target(name)
	if err != nil {
		view.Error = err.Error()
		return view
	}
	view.Locators = make(map[string]string, len(resolved.Target.Locators))
	for field, loc := range resolved.Target.Locators {
		view.Locators[string(field)] = loc.String()
	}
	if p := resolved.Target.Policy; p != nil {
		view.Policy = fmt.Sprintf("%d chars from %d symbols (%.0f bits)", p.Length, len([]rune(p.Alphabet)), p.Entropy())
	}
	return view
}

func listPresets(cmd *cobra.Command, format string) error {
	names := config.PresetNames()
	views := make([]presetView, 0, len(names))
	for _, name := range names {
		p, _ := config.LookupPreset(name)
		v := presetView{Name: p.Name, Description: p.Description, Locators: map[string]string{}}
		for field, loc := range p.Locators {
			v.Locators[string(field)] = loc.String()
		}
		views = append(views, v)
	}

	out := cmd.OutOrStdout()
	if done, err := writeStructured(out, format, views); done {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\n", v.Name, v.Description)
		fields := make([]string, 0, len(v.Locators))
		for f := range v.Locators {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(w, "  %s\t%s\n", f, v.Locators[f])
		}
	}
	return w.Flush()
}
