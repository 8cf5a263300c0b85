package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	crerrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/internal/logging"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "credrotate.yaml"

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the credrotate.yaml structure
type Definition struct {
	Version       int                          `yaml:"version"`
	SecretStores  map[string]SecretStoreConfig `yaml:"secretStores,omitempty"`
	Browser       Browser                      `yaml:"browser,omitempty"`
	Policy        *PolicyConfig                `yaml:"policy,omitempty"`
	History       HistoryConfig                `yaml:"history,omitempty"`
	Notifications NotificationsConfig          `yaml:"notifications,omitempty"`
	Targets       map[string]TargetConfig      `yaml:"targets,omitempty"`
}

// SecretStoreConfig holds secret store-specific configuration
type SecretStoreConfig struct {
	Type      string                 `yaml:"type"`
	TimeoutMs int                    `yaml:"timeout_ms,omitempty"`
	Config    map[string]interface{} `yaml:",inline"`
}

// Timeout returns the store timeout in milliseconds
func (s SecretStoreConfig) Timeout() int {
	if s.TimeoutMs <= 0 {
		return 30000
	}
	return s.TimeoutMs
}

// Browser configures the automation browser
type Browser struct {
	Headless          *bool    `yaml:"headless,omitempty"`
	ExecPath          string   `yaml:"exec_path,omitempty"`
	UserDataDir       string   `yaml:"user_data_dir,omitempty"`
	WindowWidth       int      `yaml:"window_width,omitempty"`
	WindowHeight      int      `yaml:"window_height,omitempty"`
	Flags             []string `yaml:"flags,omitempty"`
	StartTimeout      string   `yaml:"start_timeout,omitempty"`
	NavigationTimeout string   `yaml:"navigation_timeout,omitempty"`
}

// IsHeadless defaults to true.
func (b Browser) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

// PolicyConfig overrides secret generation
type PolicyConfig struct {
	Alphabet string `yaml:"alphabet,omitempty"`
	Length   int    `yaml:"length,omitempty"`
}

// HistoryConfig controls where rotation history is written
type HistoryConfig struct {
	Dir      string `yaml:"dir,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// NotificationsConfig lists where run outcomes are announced
type NotificationsConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
	Slack    *SlackConfig    `yaml:"slack,omitempty"`
}

// WebhookConfig posts a JSON document per run outcome
type WebhookConfig struct {
	Name            string            `yaml:"name,omitempty"`
	URL             string            `yaml:"url"`
	Method          string            `yaml:"method,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`
	Events          []string          `yaml:"events,omitempty"`
	PayloadTemplate string            `yaml:"payload_template,omitempty"`
	MaxAttempts     int               `yaml:"max_attempts,omitempty"`
	Timeout         string            `yaml:"timeout,omitempty"`
}

// SlackConfig posts run outcomes to a Slack incoming webhook
type SlackConfig struct {
	WebhookURL string   `yaml:"webhook_url"`
	Channel    string   `yaml:"channel,omitempty"`
	Events     []string `yaml:"events,omitempty"`
	Mentions   []string `yaml:"mentions,omitempty"`
}

// SecretRef points at a value in a secret store
type SecretRef struct {
	Store   string `yaml:"store"`
	Key     string `yaml:"key"`
	Version string `yaml:"version,omitempty"`
}

func (r SecretRef) String() string {
	s := r.Store + "/" + r.Key
	if r.Version != "" {
		s += "@" + r.Version
	}
	return s
}

// IsZero reports whether the reference is unset.
func (r SecretRef) IsZero() bool {
	return r.Store == "" && r.Key == ""
}

// TimeoutsConfig holds Go duration strings
type TimeoutsConfig struct {
	Element  string `yaml:"element,omitempty"`
	Login    string `yaml:"login,omitempty"`
	Rotation string `yaml:"rotation,omitempty"`
	Poll     string `yaml:"poll,omitempty"`
}

// TargetConfig describes one rotation target
type TargetConfig struct {
	Description string            `yaml:"description,omitempty"`
	LoginURL    string            `yaml:"login_url"`
	ChangeURL   string            `yaml:"change_url,omitempty"`
	Identity    string            `yaml:"identity"`
	Secret      SecretRef         `yaml:"secret"`
	StoreNew    *SecretRef        `yaml:"store_new,omitempty"`
	Preset      string            `yaml:"preset,omitempty"`
	Locators    map[string]string `yaml:"locators,omitempty"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts,omitempty"`
	Policy      *PolicyConfig     `yaml:"policy,omitempty"`
}

// Load reads, schema-checks and parses the configuration file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return crerrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create credrotate.yaml or define the target with --login-url, --identity and --secret-env",
			}
		}
		return crerrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	c.Definition = def
	return nil
}

// LoadIfExists is like Load but treats a missing file as an empty
// configuration.
func (c *Config) LoadIfExists() error {
	if _, err := os.Stat(c.Path); errors.Is(err, fs.ErrNotExist) {
		if c.Logger != nil {
			c.Logger.Debug("No configuration at %s, using flags only", c.Path)
		}
		c.Definition = &Definition{}
		return nil
	}
	return c.Load()
}

// Parse decodes a configuration document.
func Parse(data []byte) (*Definition, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, crerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
			Err:        err,
		}
	}
	if raw == nil {
		return &Definition{}, nil
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, crerrors.ConfigError{
			Message:    "configuration does not match the expected structure",
			Suggestion: "Check field types against the documented configuration",
			Err:        err,
		}
	}

	if def.Version != 0 {
		return nil, crerrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your credrotate.yaml file",
		}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	return &def, nil
}

// TargetNames returns configured target names, sorted.
func (c *Config) TargetNames() []string {
	if c.Definition == nil {
		return nil
	}
	names := make([]string, 0, len(c.Definition.Targets))
	for name := range c.Definition.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSecretStore returns the configuration for a specific secret store
func (c *Config) GetSecretStore(name string) (SecretStoreConfig, bool) {
	if c.Definition == nil {
		return SecretStoreConfig{}, false
	}
	store, ok := c.Definition.SecretStores[name]
	return store, ok
}

// HistoryDir returns the configured history directory, if any.
func (c *Config) HistoryDir() string {
	if c.Definition == nil {
		return ""
	}
	return c.Definition.History.Dir
}

func notFound(field, name string, available []string, fallback string) error {
	suggestion := fallback
	if len(available) > 0 {
		suggestion = fmt.Sprintf("Available: %s", strings.Join(available, ", "))
	}
	return crerrors.ConfigError{
		Field:      field,
		Value:      name,
		Message:    field + " not found",
		Suggestion: suggestion,
	}
}
