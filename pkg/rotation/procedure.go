package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/internal/secure"
)

// maxGenerateAttempts bounds regeneration when a candidate equals the
// current secret.
const maxGenerateAttempts = 3

// EscrowFunc receives a newly generated secret before it is typed into the
// site. Returning an error aborts the run with the account untouched.
type EscrowFunc func(ctx context.Context, secret string) error

// Recorder observes runs and steps.
type Recorder interface {
	RunStarted(target string)
	RunFinished(target string, status Status, kind ErrorKind, d time.Duration)
	StepFinished(step string, d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(string)                                    {}
func (nopRecorder) RunFinished(string, Status, ErrorKind, time.Duration) {}
func (nopRecorder) StepFinished(string, time.Duration, error)            {}

// Option configures a Procedure.
type Option func(*Procedure)

// WithPolicy sets the default generation policy.
func WithPolicy(p Policy) Option {
	return func(proc *Procedure) { proc.policy = p }
}

// WithEscrow registers a hook that must accept the new secret before it is
// submitted.
func WithEscrow(fn EscrowFunc) Option {
	return func(proc *Procedure) { proc.escrow = fn }
}

// WithClock replaces time.Now for step timing.
func WithClock(now func() time.Time) Option {
	return func(proc *Procedure) { proc.now = now }
}

// WithMetrics reports runs and steps to r.
func WithMetrics(r Recorder) Option {
	return func(proc *Procedure) {
		if r != nil {
			proc.recorder = r
		}
	}
}

// WithGenerator replaces Generate.
func WithGenerator(fn func(Policy) (string, error)) Option {
	return func(proc *Procedure) { proc.generate = fn }
}

// Procedure rotates web-account secrets through an automation session.
// A Procedure holds no per-run state and may be used concurrently.
type Procedure struct {
	opener   Opener
	logger   *logging.Logger
	policy   Policy
	escrow   EscrowFunc
	recorder Recorder
	now      func() time.Time
	generate func(Policy) (string, error)
}

// NewProcedure creates a procedure that acquires sessions from opener.
func NewProcedure(opener Opener, logger *logging.Logger, opts ...Option) *Procedure {
	p := &Procedure{
		opener:   opener,
		logger:   logger,
		policy:   DefaultPolicy(),
		recorder: nopRecorder{},
		now:      time.Now,
		generate: Generate,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.New(false, true)
	}
	return p
}

// Rotate logs in to target as cred and replaces its secret with a freshly
// generated one. The returned Result is non-nil whenever err is not an input
// validation error.
func (p *Procedure) Rotate(ctx context.Context, target Target, cred Credential) (*Result, error) {
	return p.run(ctx, target, cred, false)
}

// Probe logs in and checks that the rotation form can be located, without
// generating or submitting anything.
func (p *Procedure) Probe(ctx context.Context, target Target, cred Credential) (*Result, error) {
	return p.run(ctx, target, cred, true)
}

func (p *Procedure) run(ctx context.Context, target Target, cred Credential, probe bool) (*Result, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	policy := p.policy
	if target.Policy != nil {
		policy = target.Policy.Merge(p.policy)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	target.Timeouts = target.Timeouts.WithDefaults()

	r := &run{
		proc:   p,
		logger: p.logger.Named(target.Name),
		target: target,
		cred:   cred,
		policy: policy,
		result: &Result{
			Target:    target.Name,
			Identity:  cred.Identity,
			Status:    StatusPending,
			StartedAt: p.now(),
		},
	}

	if probe {
		r.logger.Info("Probing %s as %s", target.Name, cred.Identity)
	} else {
		r.logger.Info("Rotating %s for %s", target.Name, cred.Identity)
	}
	p.recorder.RunStarted(target.Name)

	err := r.execute(ctx, probe)

	res := r.result
	res.FinishedAt = p.now()
	switch {
	case err != nil:
		res.Status = StatusFor(err)
	case probe:
		res.Status = StatusPending
	default:
		res.Status = StatusCompleted
	}
	p.recorder.RunFinished(target.Name, res.Status, Kind(err), res.Duration())

	switch res.Status {
	case StatusCompleted:
		r.logger.Info("Rotation of %s completed in %s", target.Name, res.Duration().Round(time.Millisecond))
	case StatusPending:
		if err == nil {
			r.logger.Info("Probe of %s passed: rotation form located", target.Name)
		}
	case StatusAmbiguous:
		r.logger.Error("Rotation of %s is ambiguous: %v", target.Name, err)
	default:
		r.logger.Error("Rotation of %s failed: %v", target.Name, err)
	}
	return res, err
}

// run carries the state of one rotation attempt.
type run struct {
	proc   *Procedure
	logger *logging.Logger
	target Target
	cred   Credential
	policy Policy
	result *Result
}

type rotationForm struct {
	current   Element
	newSecret Element
	confirm   Element
	submit    Element
}

func (r *run) execute(ctx context.Context, probe bool) error {
	var session Session
	err := r.step(StepAcquireSession, SurfaceSession, func() error {
		s, err := r.proc.opener.Open(ctx)
		if err != nil {
			return &SessionAcquisitionError{Err: err}
		}
		if s == nil {
			return &SessionAcquisitionError{Err: errors.New("opener returned no session")}
		}
		session = s
		return nil
	})
	if err != nil {
		return err
	}
	defer r.release(session)

	if err := r.login(ctx, session); err != nil {
		return err
	}

	form, err := r.locateRotationForm(ctx, session)
	if err != nil {
		return err
	}
	if probe {
		return nil
	}
	return r.rotate(ctx, session, form)
}

func (r *run) release(s Session) {
	_ = r.step(StepReleaseSession, SurfaceSession, func() error {
		if err := s.Close(); err != nil {
			r.logger.Warn("Failed to close browser session: %v", err)
			return err
		}
		return nil
	})
}

func (r *run) login(ctx context.Context, s Session) error {
	t := r.target

	err := r.step(StepOpenLogin, SurfaceLogin, func() error {
		if err := s.Navigate(ctx, t.LoginURL); err != nil {
			return &StepError{Surface: SurfaceLogin, Step: StepOpenLogin, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = r.step(StepEnterIdentity, SurfaceLogin, func() error {
		el, err := r.find(ctx, s, SurfaceLogin, StepEnterIdentity, FieldIdentity)
		if err != nil {
			return err
		}
		return r.sendKeys(ctx, s, SurfaceLogin, StepEnterIdentity, el, r.cred.Identity)
	})
	if err != nil {
		return err
	}

	if _, ok := t.Locators.Lookup(FieldIdentityNext); ok {
		err = r.step(StepIdentityNext, SurfaceLogin, func() error {
			el, err := r.find(ctx, s, SurfaceLogin, StepIdentityNext, FieldIdentityNext)
			if err != nil {
				return err
			}
			return r.submit(ctx, s, SurfaceLogin, StepIdentityNext, el)
		})
		if err != nil {
			return err
		}
	}

	var secretField Element
	err = r.step(StepEnterSecret, SurfaceLogin, func() error {
		el, err := r.find(ctx, s, SurfaceLogin, StepEnterSecret, FieldSecret)
		if err != nil {
			return err
		}
		secretField = el
		return r.typeSecret(ctx, s, SurfaceLogin, StepEnterSecret, el, r.cred.Secret)
	})
	if err != nil {
		return err
	}

	err = r.step(StepSubmitLogin, SurfaceLogin, func() error {
		el := secretField
		if _, ok := t.Locators.Lookup(FieldLoginSubmit); ok {
			var err error
			if el, err = r.find(ctx, s, SurfaceLogin, StepSubmitLogin, FieldLoginSubmit); err != nil {
				return err
			}
		}
		return r.submit(ctx, s, SurfaceLogin, StepSubmitLogin, el)
	})
	if err != nil {
		return err
	}

	return r.step(StepConfirmLogin, SurfaceLogin, func() error {
		success, _ := t.Locators.Lookup(FieldLoginSuccess)
		rejected := optional(t.Locators, FieldLoginRejected)

		start := r.proc.now()
		sig, err := waitForSignal(ctx, s, success, rejected, t.Timeouts.Login, t.Timeouts.Poll)
		switch {
		case sig == signalRejected:
			return &AuthenticationRejectedError{Surface: SurfaceLogin, Signal: *rejected}
		case sig == signalSuccess:
			r.logger.Debug("Login confirmed by %s", success)
			return nil
		case errors.Is(err, ErrWaitTimeout):
			return &ElementTimeoutError{
				Surface: SurfaceLogin,
				Step:    StepConfirmLogin,
				Locator: success,
				Elapsed: r.proc.now().Sub(start),
			}
		default:
			return &StepError{Surface: SurfaceLogin, Step: StepConfirmLogin, Err: err}
		}
	})
}

// locateRotationForm opens the rotation surface and finds every element the
// rotation will touch, before the new secret is generated. When the target
// re-verifies the current secret, that happens first and the remaining fields
// are looked up on the surface it reveals.
func (r *run) locateRotationForm(ctx context.Context, s Session) (*rotationForm, error) {
	t := r.target

	if t.ChangeURL != "" {
		err := r.step(StepOpenRotation, SurfaceRotation, func() error {
			if err := s.Navigate(ctx, t.ChangeURL); err != nil {
				return &StepError{Surface: SurfaceRotation, Step: StepOpenRotation, Err: err}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if _, ok := t.Locators.Lookup(FieldRotationOpen); ok {
		err := r.step(StepOpenRotationForm, SurfaceRotation, func() error {
			el, err := r.find(ctx, s, SurfaceRotation, StepOpenRotationForm, FieldRotationOpen)
			if err != nil {
				return err
			}
			return r.submit(ctx, s, SurfaceRotation, StepOpenRotationForm, el)
		})
		if err != nil {
			return nil, err
		}
	}

	_, reverify := t.Locators.Lookup(FieldReverifySubmit)
	if reverify {
		if err := r.reverify(ctx, s); err != nil {
			return nil, err
		}
	}

	form := &rotationForm{}
	err := r.step(StepLocateRotationForm, SurfaceRotation, func() error {
		var err error
		if _, ok := t.Locators.Lookup(FieldCurrentSecret); ok && !reverify {
			if form.current, err = r.find(ctx, s, SurfaceRotation, StepLocateRotationForm, FieldCurrentSecret); err != nil {
				return err
			}
		}
		if form.newSecret, err = r.find(ctx, s, SurfaceRotation, StepLocateRotationForm, FieldNewSecret); err != nil {
			return err
		}
		if _, ok := t.Locators.Lookup(FieldConfirmSecret); ok {
			if form.confirm, err = r.find(ctx, s, SurfaceRotation, StepLocateRotationForm, FieldConfirmSecret); err != nil {
				return err
			}
		}
		form.submit, err = r.find(ctx, s, SurfaceRotation, StepLocateRotationForm, FieldRotationSubmit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return form, nil
}

// reverify types the current secret into a re-authentication prompt and
// submits it. The account is unchanged if this fails.
func (r *run) reverify(ctx context.Context, s Session) error {
	return r.step(StepReverify, SurfaceRotation, func() error {
		el, err := r.find(ctx, s, SurfaceRotation, StepReverify, FieldCurrentSecret)
		if err != nil {
			return err
		}
		if err := r.typeSecret(ctx, s, SurfaceRotation, StepReverify, el, r.cred.Secret); err != nil {
			return err
		}
		submit, err := r.find(ctx, s, SurfaceRotation, StepReverify, FieldReverifySubmit)
		if err != nil {
			return err
		}
		return r.submit(ctx, s, SurfaceRotation, StepReverify, submit)
	})
}

func (r *run) rotate(ctx context.Context, s Session, form *rotationForm) error {
	t := r.target

	if form.current != nil {
		err := r.step(StepEnterCurrentSecret, SurfaceRotation, func() error {
			return r.typeSecret(ctx, s, SurfaceRotation, StepEnterCurrentSecret, form.current, r.cred.Secret)
		})
		if err != nil {
			return err
		}
	}

	var candidate *secure.Buffer
	err := r.step(StepGenerateSecret, SurfaceRotation, func() error {
		buf, err := r.newSecret()
		if err != nil {
			return &StepError{Surface: SurfaceRotation, Step: StepGenerateSecret, Err: err}
		}
		candidate = buf
		r.result.NewSecret = buf
		return nil
	})
	if err != nil {
		return err
	}

	if r.proc.escrow != nil {
		err := r.step(StepEscrowSecret, SurfaceRotation, func() error {
			value, err := candidate.Reveal()
			if err != nil {
				return &StepError{Surface: SurfaceRotation, Step: StepEscrowSecret, Err: err}
			}
			if err := r.proc.escrow(ctx, value); err != nil {
				return &StepError{Surface: SurfaceRotation, Step: StepEscrowSecret, Err: err}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	err = r.step(StepEnterNewSecret, SurfaceRotation, func() error {
		return r.typeSecret(ctx, s, SurfaceRotation, StepEnterNewSecret, form.newSecret, candidate)
	})
	if err != nil {
		return err
	}

	if form.confirm != nil {
		err = r.step(StepEnterConfirmation, SurfaceRotation, func() error {
			return r.typeSecret(ctx, s, SurfaceRotation, StepEnterConfirmation, form.confirm, candidate)
		})
		if err != nil {
			return err
		}
	}

	// From here on the site may have applied the new secret.
	r.result.Submitted = true
	submittedAt := r.proc.now()

	err = r.step(StepSubmitRotation, SurfaceRotation, func() error {
		if err := s.Submit(ctx, form.submit); err != nil {
			return &AmbiguousRotationStateError{
				Surface: SurfaceRotation,
				Elapsed: r.proc.now().Sub(submittedAt),
				Err:     err,
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return r.step(StepConfirmRotation, SurfaceRotation, func() error {
		success, _ := t.Locators.Lookup(FieldRotationSuccess)
		rejected := optional(t.Locators, FieldRotationRejected)

		sig, err := waitForSignal(ctx, s, success, rejected, t.Timeouts.Rotation, t.Timeouts.Poll)
		switch sig {
		case signalRejected:
			return &RotationRejectedError{Surface: SurfaceRotation, Signal: *rejected}
		case signalSuccess:
			r.logger.Debug("Rotation confirmed by %s", success)
			return nil
		}
		return &AmbiguousRotationStateError{
			Surface: SurfaceRotation,
			Elapsed: r.proc.now().Sub(submittedAt),
			Err:     err,
		}
	})
}

// newSecret generates a candidate that differs from the current secret.
func (r *run) newSecret() (*secure.Buffer, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		value, err := r.proc.generate(r.policy)
		if err != nil {
			return nil, err
		}
		if len([]rune(value)) != r.policy.Length {
			return nil, fmt.Errorf("generator returned %d characters, policy requires %d", len([]rune(value)), r.policy.Length)
		}
		buf, err := secure.NewBufferFromString(value)
		if err != nil {
			return nil, err
		}
		same, err := buf.Equal(r.cred.Secret)
		if err != nil {
			buf.Destroy()
			return nil, err
		}
		if !same {
			return buf, nil
		}
		buf.Destroy()
		r.logger.Debug("Generated secret matched the current one, regenerating")
	}
	return nil, fmt.Errorf("could not generate a secret different from the current one in %d attempts", maxGenerateAttempts)
}

func (r *run) step(name string, surface Surface, fn func() error) error {
	start := r.proc.now()
	r.logger.Debug("%s: %s", surface, name)

	err := fn()

	d := r.proc.now().Sub(start)
	rec := StepRecord{
		Name:      name,
		Surface:   surface,
		Status:    "ok",
		StartedAt: start,
		Duration:  d,
	}
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
	}
	r.result.Steps = append(r.result.Steps, rec)
	r.proc.recorder.StepFinished(name, d, err)
	return err
}

func (r *run) find(ctx context.Context, s Session, surface Surface, step string, field Field) (Element, error) {
	loc, _ := r.target.Locators.Lookup(field)
	start := r.proc.now()

	el, err := s.FindElement(ctx, loc, r.target.Timeouts.Element)
	if err == nil {
		return el, nil
	}

	var timeout *ElementTimeoutError
	if errors.As(err, &timeout) {
		e := *timeout
		e.Surface, e.Step = surface, step
		if e.Locator.IsZero() {
			e.Locator = loc
		}
		return nil, &e
	}
	if ctx.Err() == nil && (errors.Is(err, ErrElementNotFound) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, &ElementTimeoutError{
			Surface: surface,
			Step:    step,
			Locator: loc,
			Elapsed: r.proc.now().Sub(start),
		}
	}
	return nil, &StepError{Surface: surface, Step: step, Err: err}
}

func (r *run) sendKeys(ctx context.Context, s Session, surface Surface, step string, el Element, text string) error {
	if err := s.SendKeys(ctx, el, text); err != nil {
		return &StepError{Surface: surface, Step: step, Err: err}
	}
	return nil
}

func (r *run) typeSecret(ctx context.Context, s Session, surface Surface, step string, el Element, secret *secure.Buffer) error {
	value, err := secret.Reveal()
	if err != nil {
		return &StepError{Surface: surface, Step: step, Err: err}
	}
	return r.sendKeys(ctx, s, surface, step, el, value)
}

func (r *run) submit(ctx context.Context, s Session, surface Surface, step string, el Element) error {
	if err := s.Submit(ctx, el); err != nil {
		return &StepError{Surface: surface, Step: step, Err: err}
	}
	return nil
}

func optional(l Locators, f Field) *Locator {
	if loc, ok := l.Lookup(f); ok {
		return &loc
	}
	return nil
}
