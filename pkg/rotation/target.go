package rotation

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/systmms/credrotate/internal/secure"
)

// Field names a semantic element of a login or rotation surface.
type Field string

const (
	FieldIdentity         Field = "identity"
	FieldIdentityNext     Field = "identity_next"
	FieldSecret           Field = "secret"
	FieldLoginSubmit      Field = "login_submit"
	FieldLoginSuccess     Field = "login_success"
	FieldLoginRejected    Field = "login_rejected"
	FieldRotationOpen     Field = "rotation_open"
	FieldCurrentSecret    Field = "current_secret"
	FieldReverifySubmit   Field = "reverify_submit"
	FieldNewSecret        Field = "new_secret"
	FieldConfirmSecret    Field = "confirm_secret"
	FieldRotationSubmit   Field = "rotation_submit"
	FieldRotationSuccess  Field = "rotation_success"
	FieldRotationRejected Field = "rotation_rejected"
)

// RequiredFields must be present in every target's locator table.
var RequiredFields = []Field{
	FieldIdentity,
	FieldSecret,
	FieldLoginSuccess,
	FieldNewSecret,
	FieldRotationSubmit,
	FieldRotationSuccess,
}

// KnownFields lists every field the procedure understands.
var KnownFields = []Field{
	FieldIdentity, FieldIdentityNext, FieldSecret, FieldLoginSubmit,
	FieldLoginSuccess, FieldLoginRejected, FieldRotationOpen, FieldCurrentSecret,
	FieldReverifySubmit, FieldNewSecret, FieldConfirmSecret, FieldRotationSubmit,
	FieldRotationSuccess, FieldRotationRejected,
}

// IsKnownField reports whether name is a field the procedure understands.
func IsKnownField(name string) bool {
	for _, f := range KnownFields {
		if string(f) == name {
			return true
		}
	}
	return false
}

// Locators maps semantic fields to page locators.
type Locators map[Field]Locator

// Lookup returns the locator for f, if one is set.
func (l Locators) Lookup(f Field) (Locator, bool) {
	loc, ok := l[f]
	if !ok || loc.IsZero() {
		return Locator{}, false
	}
	return loc, true
}

// Missing returns the required fields with no locator, sorted by name.
func (l Locators) Missing() []Field {
	var missing []Field
	for _, f := range RequiredFields {
		if _, ok := l.Lookup(f); !ok {
			missing = append(missing, f)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// checkReverify rejects a re-verification submit with nothing to verify.
func (l Locators) checkReverify() error {
	if _, ok := l.Lookup(FieldReverifySubmit); !ok {
		return nil
	}
	if _, ok := l.Lookup(FieldCurrentSecret); !ok {
		return fmt.Errorf("%s requires %s", FieldReverifySubmit, FieldCurrentSecret)
	}
	return nil
}

// Timeouts bound every wait in the procedure.
type Timeouts struct {
	// Element bounds each element lookup.
	Element time.Duration
	// Login bounds the wait for the login outcome signal.
	Login time.Duration
	// Rotation bounds the wait for the rotation outcome signal.
	Rotation time.Duration
	// Poll is the interval between signal checks.
	Poll time.Duration
}

// DefaultTimeouts returns the timeouts used when a target sets none.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Element:  10 * time.Second,
		Login:    30 * time.Second,
		Rotation: 30 * time.Second,
		Poll:     250 * time.Millisecond,
	}
}

// WithDefaults fills unset timeouts from DefaultTimeouts.
func (t Timeouts) WithDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Element <= 0 {
		t.Element = d.Element
	}
	if t.Login <= 0 {
		t.Login = d.Login
	}
	if t.Rotation <= 0 {
		t.Rotation = d.Rotation
	}
	if t.Poll <= 0 {
		t.Poll = d.Poll
	}
	return t
}

// ErrInvalidTarget is wrapped by every Target validation failure.
var ErrInvalidTarget = errors.New("invalid target")

// Target describes one site whose secret can be rotated.
type Target struct {
	Name string
	// LoginURL is the page holding the login form.
	LoginURL string
	// ChangeURL is the page holding the rotation form. Empty means the form
	// is on the page reached after login.
	ChangeURL string
	Locators  Locators
	Timeouts  Timeouts
	// Policy overrides the procedure's policy when set.
	Policy *Policy
}

// Validate checks the target can drive a full rotation.
func (t Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTarget)
	}
	if err := validateURL(t.LoginURL); err != nil {
		return fmt.Errorf("%w: %s: login url: %v", ErrInvalidTarget, t.Name, err)
	}
	if t.ChangeURL != "" {
		if err := validateURL(t.ChangeURL); err != nil {
			return fmt.Errorf("%w: %s: change url: %v", ErrInvalidTarget, t.Name, err)
		}
	}
	if missing := t.Locators.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s: missing locators %v", ErrInvalidTarget, t.Name, missing)
	}
	if err := t.Locators.checkReverify(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTarget, t.Name, err)
	}
	if t.Policy != nil {
		if err := t.Policy.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidTarget, t.Name, err)
		}
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is empty")
	}
	return nil
}

// ErrInvalidCredential is wrapped by every Credential validation failure.
var ErrInvalidCredential = errors.New("invalid credential")

// Credential is the account being rotated. It is not modified by a run.
type Credential struct {
	Site     string
	Identity string
	Secret   *secure.Buffer
}

// Validate checks the credential has an identity and a live secret.
func (c Credential) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidCredential)
	}
	if c.Secret == nil || c.Secret.IsDestroyed() || c.Secret.Len() == 0 {
		return fmt.Errorf("%w: current secret is required", ErrInvalidCredential)
	}
	return nil
}
