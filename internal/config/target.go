package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	crerrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/pkg/rotation"
)

// Overrides are command-line values layered over a configured target. A
// target can be defined by overrides alone.
type Overrides struct {
	LoginURL  string
	ChangeURL string
	Identity  string
	SecretEnv string
	Preset    string
	Locators  map[string]string
	Timeouts  rotation.Timeouts
	Policy    rotation.Policy
}

func (o Overrides) definesTarget() bool {
	return o.LoginURL != ""
}

// ResolvedTarget is a target ready for the rotation procedure
type ResolvedTarget struct {
	Target   rotation.Target
	Identity string
	Secret   SecretRef
	StoreNew *SecretRef
}

// Target resolves a configured target with no overrides.
func (c *Config) Target(name string) (*ResolvedTarget, error) {
	return c.ResolveTarget(name, Overrides{})
}

// ResolveTarget resolves name, applying overrides on top of its
// configuration.
func (c *Config) ResolveTarget(name string, ov Overrides) (*ResolvedTarget, error) {
	var tc TargetConfig
	var configured bool
	if c.Definition != nil {
		tc, configured = c.Definition.Targets[name]
	}
	if !configured && !ov.definesTarget() {
		return nil, notFound("target", name, c.TargetNames(),
			"Add the target to the 'targets:' section of credrotate.yaml, or pass --login-url")
	}
	tc = applyOverrides(tc, ov, configured)

	if err := checkURL("login_url", tc.LoginURL, true); err != nil {
		return nil, err
	}
	if err := checkURL("change_url", tc.ChangeURL, false); err != nil {
		return nil, err
	}
	if tc.Identity == "" {
		return nil, crerrors.ConfigError{
			Field:      "targets." + name + ".identity",
			Message:    "identity is required",
			Suggestion: "Set 'identity:' for the target or pass --identity",
		}
	}
	if tc.Secret.IsZero() {
		return nil, crerrors.ConfigError{
			Field:      "targets." + name + ".secret",
			Message:    "current secret reference is required",
			Suggestion: "Set 'secret: {store: env, key: VAR}' or pass --secret-env VAR",
		}
	}

	locators, err := buildLocators(name, tc)
	if err != nil {
		return nil, err
	}
	timeouts, err := buildTimeouts(name, tc.Timeouts, ov.Timeouts)
	if err != nil {
		return nil, err
	}
	policy := c.basePolicy()
	if tc.Policy != nil {
		policy = rotation.Policy{Alphabet: tc.Policy.Alphabet, Length: tc.Policy.Length}.Merge(policy)
	}
	policy = ov.Policy.Merge(policy)
	if err := policy.Validate(); err != nil {
		return nil, crerrors.ConfigError{
			Field:      "targets." + name + ".policy",
			Message:    err.Error(),
			Suggestion: "Use a length between 1 and 1024 and an alphabet without repeated characters",
		}
	}

	target := rotation.Target{
		Name:      name,
		LoginURL:  tc.LoginURL,
		ChangeURL: tc.ChangeURL,
		Locators:  locators,
		Timeouts:  timeouts,
		Policy:    &policy,
	}
	if missing := locators.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		return nil, crerrors.ConfigError{
			Field:      "targets." + name + ".locators",
			Value:      strings.Join(names, ", "),
			Message:    "required locators are missing",
			Suggestion: "Add them under 'locators:' (or --locator field=kind:value). Presets never include the success signals, which are site specific",
		}
	}

	if _, ok := locators.Lookup(rotation.FieldReverifySubmit); ok {
		if _, ok := locators.Lookup(rotation.FieldCurrentSecret); !ok {
			return nil, crerrors.ConfigError{
				Field:      "targets." + name + ".locators.reverify_submit",
				Message:    "re-verification needs a current_secret locator",
				Suggestion: "Add 'current_secret:' for the re-authentication prompt",
			}
		}
	}

	return &ResolvedTarget{
		Target:   target,
		Identity: tc.Identity,
		Secret:   tc.Secret,
		StoreNew: tc.StoreNew,
	}, nil
}

// Policy returns the global generation policy.
func (c *Config) Policy() rotation.Policy {
	return c.basePolicy()
}

func (c *Config) basePolicy() rotation.Policy {
	p := rotation.DefaultPolicy()
	if c.Definition != nil && c.Definition.Policy != nil {
		p = rotation.Policy{Alphabet: c.Definition.Policy.Alphabet, Length: c.Definition.Policy.Length}.Merge(p)
	}
	return p
}

func applyOverrides(tc TargetConfig, ov Overrides, configured bool) TargetConfig {
	if ov.LoginURL != "" {
		tc.LoginURL = ov.LoginURL
	}
	if ov.ChangeURL != "" {
		tc.ChangeURL = ov.ChangeURL
	}
	if ov.Identity != "" {
		tc.Identity = ov.Identity
	}
	if ov.SecretEnv != "" {
		tc.Secret = SecretRef{Store: "env", Key: ov.SecretEnv}
	}
	if ov.Preset != "" {
		tc.Preset = ov.Preset
	}
	if !configured && tc.Preset == "" {
		tc.Preset = DefaultPreset
	}
	if len(ov.Locators) > 0 {
		merged := make(map[string]string, len(tc.Locators)+len(ov.Locators))
		for k, v := range tc.Locators {
			merged[k] = v
		}
		for k, v := range ov.Locators {
			merged[k] = v
		}
		tc.Locators = merged
	}
	return tc
}

// UnsetLocator removes a field inherited from a preset.
const UnsetLocator = "none"

// IsUnsetLocator reports whether a configured locator value drops its field.
func IsUnsetLocator(raw string) bool {
	raw = strings.TrimSpace(raw)
	return raw == "" || strings.EqualFold(raw, UnsetLocator)
}

func buildLocators(name string, tc TargetConfig) (rotation.Locators, error) {
	locators := rotation.Locators{}

	if tc.Preset != "" {
		preset, ok := LookupPreset(tc.Preset)
		if !ok {
			return nil, notFound("preset", tc.Preset, PresetNames(), "")
		}
		for field, loc := range preset.Locators {
			locators[field] = loc
		}
	}

	fields := make([]string, 0, len(tc.Locators))
	for field := range tc.Locators {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if !rotation.IsKnownField(field) {
			known := make([]string, len(rotation.KnownFields))
			for i, f := range rotation.KnownFields {
				known[i] = string(f)
			}
			return nil, crerrors.ConfigError{
				Field:      fmt.Sprintf("targets.%s.locators.%s", name, field),
				Message:    "unknown locator field",
				Suggestion: "Known fields: " + strings.Join(known, ", "),
			}
		}
		if IsUnsetLocator(tc.Locators[field]) {
			delete(locators, rotation.Field(field))
			continue
		}
		loc, err := rotation.ParseLocator(tc.Locators[field])
		if err != nil {
			return nil, crerrors.ConfigError{
				Field:      fmt.Sprintf("targets.%s.locators.%s", name, field),
				Value:      tc.Locators[field],
				Message:    err.Error(),
				Suggestion: "Use kind:value with kind one of css, xpath, id, name, or '" + UnsetLocator + "' to drop a preset field",
			}
		}
		locators[rotation.Field(field)] = loc
	}
	return locators, nil
}

func buildTimeouts(name string, tc TimeoutsConfig, ov rotation.Timeouts) (rotation.Timeouts, error) {
	var t rotation.Timeouts
	for _, d := range []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"element", tc.Element, &t.Element},
		{"login", tc.Login, &t.Login},
		{"rotation", tc.Rotation, &t.Rotation},
		{"poll", tc.Poll, &t.Poll},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v <= 0 {
			return rotation.Timeouts{}, crerrors.ConfigError{
				Field:      fmt.Sprintf("targets.%s.timeouts.%s", name, d.field),
				Value:      d.raw,
				Message:    "invalid duration",
				Suggestion: "Use a positive Go duration such as 500ms, 10s or 1m",
			}
		}
		*d.dst = v
	}

	if ov.Element > 0 {
		t.Element = ov.Element
	}
	if ov.Login > 0 {
		t.Login = ov.Login
	}
	if ov.Rotation > 0 {
		t.Rotation = ov.Rotation
	}
	if ov.Poll > 0 {
		t.Poll = ov.Poll
	}
	return t.WithDefaults(), nil
}

func checkURL(field, raw string, required bool) error {
	if raw == "" {
		if !required {
			return nil
		}
		return crerrors.ConfigError{
			Field:      field,
			Message:    "URL is required",
			Suggestion: "Set '" + field + ":' for the target or pass --login-url",
		}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return crerrors.ConfigError{
			Field:      field,
			Value:      raw,
			Message:    "must be an absolute http or https URL",
			Suggestion: "Use a full URL such as https://accounts.example.com/login",
		}
	}
	return nil
}
