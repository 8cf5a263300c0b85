package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/internal/secretstores"
	"github.com/systmms/credrotate/pkg/rotation"
)

var (
	locLoginSuccess     = rotation.MustParseLocator("css:#account")
	locLoginRejected    = rotation.MustParseLocator("css:.login-error")
	locRotationSubmit   = rotation.MustParseLocator("css:#save-password")
	locRotationSuccess  = rotation.MustParseLocator("css:.flash-ok")
	locRotationRejected = rotation.MustParseLocator("css:.flash-error")
	locNewSecret        = rotation.MustParseLocator("name:new_password")
)

type pageElement struct {
	loc rotation.Locator
}

func (e pageElement) Locator() rotation.Locator { return e.loc }

// pageSession finds every element and shows the signals in present.
type pageSession struct {
	mu      sync.Mutex
	present map[string]bool
	typed   map[string][]string
	submits []string
	closed  bool
}

func newPageSession(signals ...rotation.Locator) *pageSession {
	s := &pageSession{present: map[string]bool{}, typed: map[string][]string{}}
	for _, l := range signals {
		s.present[l.String()] = true
	}
	return s
}

func (s *pageSession) Navigate(ctx context.Context, url string) error { return nil }

func (s *pageSession) FindElement(ctx context.Context, loc rotation.Locator, timeout time.Duration) (rotation.Element, error) {
	return pageElement{loc: loc}, nil
}

func (s *pageSession) SendKeys(ctx context.Context, el rotation.Element, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := el.Locator().String()
	s.typed[key] = append(s.typed[key], text)
	return nil
}

func (s *pageSession) Submit(ctx context.Context, el rotation.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits = append(s.submits, el.Locator().String())
	return nil
}

func (s *pageSession) Present(ctx context.Context, loc rotation.Locator) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present[loc.String()], nil
}

func (s *pageSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *pageSession) typedInto(loc rotation.Locator) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.typed[loc.String()]...)
}

func (s *pageSession) submitted(loc rotation.Locator) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.submits {
		if k == loc.String() {
			return true
		}
	}
	return false
}

const targetConfig = `version: 0

secretStores:
  vault:
    type: literal
    values:
      mail/alice: "0ld-Secret"

history:
  dir: %s

targets:
  mail:
    login_url: https://mail.example.test/login
    change_url: https://mail.example.test/settings/password
    identity: alice@example.test
    secret: { store: vault, key: mail/alice }
    store_new: { store: vault, key: mail/alice }
    preset: named-fields
    locators:
      login_success: "css:#account"
      login_rejected: "css:.login-error"
      rotation_submit: "css:#save-password"
      rotation_success: "css:.flash-ok"
      rotation_rejected: "css:.flash-error"
    timeouts:
      element: 1s
      login: 300ms
      rotation: 300ms
      poll: 10ms
`

type testEnv struct {
	cfg        *config.Config
	deps       Deps
	historyDir string
	vault      *secretstores.LiteralStore
	opens      int
}

// newTestEnv loads targetConfig and routes the literal store type to one
// shared instance so writes survive the command.
func newTestEnv(t *testing.T, session *pageSession) *testEnv {
	t.Helper()

	dir := t.TempDir()
	historyDir := filepath.Join(dir, "history")
	path := filepath.Join(dir, "credrotate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(targetConfig, historyDir)), 0o600))

	env := &testEnv{
		cfg: &config.Config{
			Path:   path,
			Logger: logging.New(false, true).WithWriter(io.Discard),
		},
		historyDir: historyDir,
	}

	vault, err := secretstores.NewLiteralStore("vault", map[string]interface{}{
		"values": map[string]interface{}{"mail/alice": "0ld-Secret"},
	})
	require.NoError(t, err)
	env.vault = vault

	registry := secretstores.NewRegistry()
	registry.RegisterFactory("literal", func(ctx context.Context, name string, cfg map[string]interface{}) (secretstores.Store, error) {
		return vault, nil
	})

	env.deps = Deps{
		NewOpener: func(config.Browser, *logging.Logger) rotation.Opener {
			return rotation.OpenerFunc(func(ctx context.Context) (rotation.Session, error) {
				env.opens++
				return session, nil
			})
		},
		Registry: registry,
		Generate: func(rotation.Policy) (string, error) { return "N3w-Secret!", nil },
	}
	return env
}

func (e *testEnv) vaultValue(t *testing.T) string {
	t.Helper()
	v, err := e.vault.Resolve(context.Background(), secretstores.Reference{Key: "mail/alice"})
	require.NoError(t, err)
	return v.Value
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}
