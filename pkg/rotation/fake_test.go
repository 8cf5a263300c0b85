package rotation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/internal/secure"
)

type fakeElement struct {
	loc Locator
}

func (e fakeElement) Locator() Locator { return e.loc }

// fakeSession records every interaction. Locators are keyed by their
// textual form.
type fakeSession struct {
	mu sync.Mutex

	missing    map[string]bool
	present    map[string]bool
	presentErr error

	navigateErr error
	submitErr   map[string]error
	onSubmit    func(loc Locator)

	navigations []string
	typed       map[string][]string
	submits     []string
	closeCalls  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		missing:   map[string]bool{},
		present:   map[string]bool{},
		submitErr: map[string]error{},
		typed:     map[string][]string{},
	}
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, url)
	return s.navigateErr
}

func (s *fakeSession) FindElement(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	s.mu.Lock()
	missing := s.missing[loc.String()]
	s.mu.Unlock()

	if missing {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
		}
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, loc)
	}
	return fakeElement{loc: loc}, nil
}

func (s *fakeSession) SendKeys(ctx context.Context, el Element, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := el.Locator().String()
	s.typed[key] = append(s.typed[key], text)
	return nil
}

func (s *fakeSession) Submit(ctx context.Context, el Element) error {
	s.mu.Lock()
	key := el.Locator().String()
	s.submits = append(s.submits, key)
	err := s.submitErr[key]
	hook := s.onSubmit
	s.mu.Unlock()

	if hook != nil {
		hook(el.Locator())
	}
	return err
}

func (s *fakeSession) Present(ctx context.Context, loc Locator) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presentErr != nil {
		return false, s.presentErr
	}
	return s.present[loc.String()], nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

func (s *fakeSession) setPresent(loc Locator, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[loc.String()] = v
}

func (s *fakeSession) typedInto(loc Locator) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.typed[loc.String()]...)
}

func (s *fakeSession) closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

type fakeOpener struct {
	session *fakeSession
	err     error
	opens   int
}

func (o *fakeOpener) Open(ctx context.Context) (Session, error) {
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

type recordedRun struct {
	target string
	status Status
	kind   ErrorKind
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	finished []recordedRun
	steps    []string
}

func (r *fakeRecorder) RunStarted(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, target)
}

func (r *fakeRecorder) RunFinished(target string, status Status, kind ErrorKind, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, recordedRun{target: target, status: status, kind: kind})
}

func (r *fakeRecorder) StepFinished(step string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

var (
	locIdentity         = CSS(`input[autocomplete="username"]`)
	locSecret           = CSS(`input[name="password"]`)
	locLoginSuccess     = CSS("#account-menu")
	locLoginRejected    = CSS(".login-error")
	locCurrentSecret    = CSS(`input[name="current_password"]`)
	locNewSecret        = CSS(`input[name="new_password"]`)
	locConfirmSecret    = CSS(`input[name="password_confirmation"]`)
	locRotationSubmit   = XPath(`//button[@type="submit"]`)
	locRotationSuccess  = CSS(".flash-success")
	locRotationRejected = CSS(".flash-error")
)

func testTarget() Target {
	return Target{
		Name:      "example",
		LoginURL:  "https://accounts.example.test/login",
		ChangeURL: "https://accounts.example.test/settings/password",
		Locators: Locators{
			FieldIdentity:         locIdentity,
			FieldSecret:           locSecret,
			FieldLoginSuccess:     locLoginSuccess,
			FieldLoginRejected:    locLoginRejected,
			FieldCurrentSecret:    locCurrentSecret,
			FieldNewSecret:        locNewSecret,
			FieldConfirmSecret:    locConfirmSecret,
			FieldRotationSubmit:   locRotationSubmit,
			FieldRotationSuccess:  locRotationSuccess,
			FieldRotationRejected: locRotationRejected,
		},
		Timeouts: Timeouts{
			Element:  40 * time.Millisecond,
			Login:    40 * time.Millisecond,
			Rotation: 40 * time.Millisecond,
			Poll:     5 * time.Millisecond,
		},
	}
}

// happySession shows both success signals and no rejection.
func happySession() *fakeSession {
	s := newFakeSession()
	s.setPresent(locLoginSuccess, true)
	s.setPresent(locRotationSuccess, true)
	return s
}

const currentSecret = "old-Secret-42"

func testCredential(t *testing.T) Credential {
	t.Helper()
	buf, err := secure.NewBufferFromString(currentSecret)
	require.NoError(t, err)
	t.Cleanup(buf.Destroy)
	return Credential{Site: "example", Identity: "alice@example.test", Secret: buf}
}

func testLogger() *logging.Logger {
	return logging.New(false, true).WithWriter(io.Discard)
}
