package rotation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// verifyNoLeaks ignores goroutines started before the test body, such as
// memguard's background workers.
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })
}

type escrowSpy struct {
	mu      sync.Mutex
	secrets []string
	err     error
}

func (e *escrowSpy) hook(ctx context.Context, secret string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.secrets = append(e.secrets, secret)
	return e.err
}

func TestRotate_Success(t *testing.T) {
	cred := testCredential(t)
	verifyNoLeaks(t)

	session := happySession()
	opener := &fakeOpener{session: session}
	escrow := &escrowSpy{}
	recorder := &fakeRecorder{}
	proc := NewProcedure(opener, testLogger(), WithEscrow(escrow.hook), WithMetrics(recorder))

	result, err := proc.Rotate(context.Background(), testTarget(), cred)
	require.NoError(t, err)
	require.NotNil(t, result)
	t.Cleanup(result.NewSecret.Destroy)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.True(t, result.Submitted)
	assert.Equal(t, 1, session.closed())
	assert.Equal(t, 1, opener.opens)

	newSecret, err := result.NewSecret.Reveal()
	require.NoError(t, err)
	assert.Len(t, newSecret, DefaultLength)
	assert.NotEqual(t, currentSecret, newSecret)

	// The secret is escrowed once and typed into both fields.
	assert.Equal(t, []string{newSecret}, escrow.secrets)
	assert.Equal(t, []string{newSecret}, session.typedInto(locNewSecret))
	assert.Equal(t, []string{newSecret}, session.typedInto(locConfirmSecret))

	assert.Equal(t, []string{"alice@example.test"}, session.typedInto(locIdentity))
	assert.Equal(t, []string{currentSecret}, session.typedInto(locSecret))
	assert.Equal(t, []string{currentSecret}, session.typedInto(locCurrentSecret))
	assert.Equal(t, []string{
		"https://accounts.example.test/login",
		"https://accounts.example.test/settings/password",
	}, session.navigations)
	assert.Equal(t, []string{locSecret.String(), locRotationSubmit.String()}, session.submits)

	assert.Equal(t, []string{
		StepAcquireSession,
		StepOpenLogin,
		StepEnterIdentity,
		StepEnterSecret,
		StepSubmitLogin,
		StepConfirmLogin,
		StepOpenRotation,
		StepLocateRotationForm,
		StepEnterCurrentSecret,
		StepGenerateSecret,
		StepEscrowSecret,
		StepEnterNewSecret,
		StepEnterConfirmation,
		StepSubmitRotation,
		StepConfirmRotation,
		StepReleaseSession,
	}, result.StepNames())

	for _, step := range result.Steps {
		assert.NotContains(t, step.Error, newSecret)
		assert.NotContains(t, step.Error, currentSecret)
	}

	assert.Equal(t, []string{"example"}, recorder.started)
	assert.Equal(t, []recordedRun{{target: "example", status: StatusCompleted, kind: KindNone}}, recorder.finished)
	assert.Equal(t, result.StepNames(), recorder.steps)
}

func TestRotate_SecretNeverLogged(t *testing.T) {
	cred := testCredential(t)

	var out strings.Builder
	logger := testLogger().WithWriter(&out)
	proc := NewProcedure(&fakeOpener{session: happySession()}, logger)

	result, err := proc.Rotate(context.Background(), testTarget(), cred)
	require.NoError(t, err)
	newSecret, err := result.NewSecret.Reveal()
	require.NoError(t, err)

	assert.NotContains(t, out.String(), newSecret)
	assert.NotContains(t, out.String(), currentSecret)
	assert.Contains(t, out.String(), "Rotating example for alice@example.test")
}

func TestRotate_OptionalFieldsAbsent(t *testing.T) {
	cred := testCredential(t)

	target := testTarget()
	target.ChangeURL = ""
	delete(target.Locators, FieldCurrentSecret)
	delete(target.Locators, FieldConfirmSecret)
	delete(target.Locators, FieldLoginRejected)
	delete(target.Locators, FieldRotationRejected)

	session := happySession()
	result, err := NewProcedure(&fakeOpener{session: session}, testLogger()).Rotate(context.Background(), target, cred)
	require.NoError(t, err)

	assert.Equal(t, []string{target.LoginURL}, session.navigations)
	assert.Empty(t, session.typedInto(locCurrentSecret))
	assert.Empty(t, session.typedInto(locConfirmSecret))
	_, ok := result.Step(StepOpenRotation)
	assert.False(t, ok)
	_, ok = result.Step(StepEscrowSecret)
	assert.False(t, ok)
}

func TestRotate_TwoStepLoginAndExplicitSubmit(t *testing.T) {
	cred := testCredential(t)

	next := CSS("#identifierNext")
	loginSubmit := CSS(`button[type="submit"]`)
	target := testTarget()
	target.Locators[FieldIdentityNext] = next
	target.Locators[FieldLoginSubmit] = loginSubmit

	session := happySession()
	_, err := NewProcedure(&fakeOpener{session: session}, testLogger()).Rotate(context.Background(), target, cred)
	require.NoError(t, err)

	assert.Equal(t, []string{next.String(), loginSubmit.String(), locRotationSubmit.String()}, session.submits)
}

func TestRotate_ReverificationRevealsForm(t *testing.T) {
	cred := testCredential(t)
	verifyNoLeaks(t)

	openForm := XPath(`//button[text()="Change password"]`)
	confirmIdentity := CSS("#reauth-submit")
	target := testTarget()
	target.Locators[FieldRotationOpen] = openForm
	target.Locators[FieldReverifySubmit] = confirmIdentity

	// The new secret fields only exist once the current one is accepted.
	session := happySession()
	session.missing[locNewSecret.String()] = true
	session.missing[locConfirmSecret.String()] = true
	session.onSubmit = func(loc Locator) {
		if loc == confirmIdentity {
			session.mu.Lock()
			delete(session.missing, locNewSecret.String())
			delete(session.missing, locConfirmSecret.String())
			session.mu.Unlock()
		}
	}

	result, err := NewProcedure(&fakeOpener{session: session}, testLogger()).Rotate(context.Background(), target, cred)
	require.NoError(t, err)
	t.Cleanup(result.NewSecret.Destroy)

	newSecret, err := result.NewSecret.Reveal()
	require.NoError(t, err)
	assert.Equal(t, []string{currentSecret}, session.typedInto(locCurrentSecret))
	assert.Equal(t, []string{newSecret}, session.typedInto(locNewSecret))
	assert.Equal(t, []string{newSecret}, session.typedInto(locConfirmSecret))
	assert.Equal(t, []string{
		locSecret.String(),
		openForm.String(),
		confirmIdentity.String(),
		locRotationSubmit.String(),
	}, session.submits)

	assert.Equal(t, []string{
		StepAcquireSession,
		StepOpenLogin,
		StepEnterIdentity,
		StepEnterSecret,
		StepSubmitLogin,
		StepConfirmLogin,
		StepOpenRotation,
		StepOpenRotationForm,
		StepReverify,
		StepLocateRotationForm,
		StepGenerateSecret,
		StepEnterNewSecret,
		StepEnterConfirmation,
		StepSubmitRotation,
		StepConfirmRotation,
		StepReleaseSession,
	}, result.StepNames())
}

func TestRotate_ReverificationNotAccepted(t *testing.T) {
	cred := testCredential(t)

	target := testTarget()
	target.Locators[FieldReverifySubmit] = CSS("#reauth-submit")

	session := happySession()
	session.missing[locNewSecret.String()] = true
	escrow := &escrowSpy{}

	result, err := NewProcedure(&fakeOpener{session: session}, testLogger(), WithEscrow(escrow.hook)).
		Rotate(context.Background(), target, cred)

	var timeout *ElementTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, StepLocateRotationForm, timeout.Step)
	assert.Equal(t, locNewSecret, timeout.Locator)
	assert.Equal(t, StatusFailed, result.Status)
	assert.False(t, result.Submitted)
	assert.Nil(t, result.NewSecret)
	assert.Empty(t, escrow.secrets)
	assert.Equal(t, []string{currentSecret}, session.typedInto(locCurrentSecret))
	assert.Equal(t, 1, session.closed())
}

func TestRotate_AuthenticationRejected(t *testing.T) {
	cred := testCredential(t)
	verifyNoLeaks(t)

	session := newFakeSession()
	session.setPresent(locLoginRejected, true)
	escrow := &escrowSpy{}

	result, err := NewProcedure(&fakeOpener{session: session}, testLogger(), WithEscrow(escrow.hook)).
		Rotate(context.Background(), testTarget(), cred)

	var rejected *AuthenticationRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, locLoginRejected, rejected.Signal)
	assert.Equal(t, KindAuthenticationRejected, Kind(err))
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 1, session.closed())

	// No rotation step is attempted.
	assert.Nil(t, result.NewSecret)
	assert.False(t, result.Submitted)
	assert.Empty(t, escrow.secrets)
	assert.Empty(t, session.typedInto(locNewSecret))
	assert.Len(t, session.navigations, 1)
	_, ok := result.Step(StepGenerateSecret)
	assert.False(t, ok)
}

func TestRotate_LoginNeverConfirmed(t *testing.T) {
	cred := testCredential(t)

	session := newFakeSession()
	result, err := NewProcedure(&fakeOpener{session: session}, testLogger()).
		Rotate(context.Background(), testTarget(), cred)

	var timeout *ElementTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, SurfaceLogin, timeout.Surface)
	assert.Equal(t, StepConfirmLogin, timeout.Step)
	assert.Equal(t, locLoginSuccess, timeout.Locator)
	assert.Equal(t, KindElementTimeout, Kind(err))
	assert.Equal(t, 1, session.closed())
	assert.Empty(t, session.typedInto(locNewSecret))
	assert.Nil(t, result.NewSecret)
}

func TestRotate_ElementMissing(t *testing.T) {
	cred := testCredential(t)

	tests := []struct {
		name    string
		missing Locator
		surface Surface
		step    string
	}{
		{"identity", locIdentity, SurfaceLogin, StepEnterIdentity},
		{"secret", locSecret, SurfaceLogin, StepEnterSecret},
		{"new secret", locNewSecret, SurfaceRotation, StepLocateRotationForm},
		{"rotation submit", locRotationSubmit, SurfaceRotation, StepLocateRotationForm},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			session := happySession()
			session.missing[tt.missing.String()] = true

			result, err := NewProcedure(&fakeOpener{session: session}, testLogger()).
				Rotate(context.Background(), testTarget(), cred)

			var timeout *ElementTimeoutError
			require.ErrorAs(t, err, &timeout)
			assert.Equal(t, tt.surface, timeout.Surface)
			assert.Equal(t, tt.step, timeout.Step)
			assert.Equal(t, tt.missing, timeout.Locator)
			assert.GreaterOrEqual(t, timeout.Elapsed, 40*time.Millisecond)
			assert.Equal(t, StatusFailed, result.Status)
			assert.False(t, result.Submitted)
			assert.Equal(t, 1, session.closed())
			// Nothing is typed into the rotation form before it is fully located.
			assert.Empty(t, session.typedInto(locNewSecret))
		})
	}
}

func TestRotate_RotationNeverConfirmed(t *testing.T) {
	cred := testCredential(t)
	verifyNoLeaks(t)

	session := newFakeSession()
	session.setPresent(locLoginSuccess, true)

	result, err := NewProcedure(&fakeOpener{session: session}, testLogger()).
		Rotate(context.Background(), testTarget(), cred)

	var ambiguous *AmbiguousRotationStateError
	require.ErrorAs(t, err, &ambiguous)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, SurfaceRotation, ambiguous.Surface)
	assert.Equal(t, KindAmbiguous, Kind(err))
	assert.Equal(t, StatusAmbiguous, result.Status)
	assert.True(t, result.Submitted)
	assert.Equal(t, 1, session.closed())

	// The candidate is still reported so the operator can recover.
	require.NotNil(t, result.NewSecret)
	candidate, err := result.NewSecret.Reveal()
	require.NoError(t, err)
	assert.Equal(t, []string{candidate}, session.typedInto(locNewSecret))
	result.NewSecret.Destroy()
}

func TestRotate_RotationRejected(t *testing.T) {
	cred := testCredential(t)

	session := newFakeSession()
	session.setPresent(locLoginSuccess, true)
	session.setPresent(locRotationRejected, true)

	result, err := NewProcedure(&fakeOpener{session: session}, testLogger()).
		Rotate(context.Background(), testTarget(), cred)

	var rejected *RotationRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, locRotationRejected, rejected.Signal)
	assert.Equal(t, StatusFailed, result.Status)
	assert.True(t, result.Submitted)
	assert.Equal(t, 1, session.closed())
}

func TestRotate_SubmitErrorIsAmbiguous(t *testing.T) {
	cred := testCredential(t)

	session := happySession()
	session.submitErr[locRotationSubmit.String()] = errors.New("websocket closed")

	result, err := NewProcedure(&fakeOpener{session: session}, testLogger()).
		Rotate(context.Background(), testTarget(), cred)

	assert.Equal(t, KindAmbiguous, Kind(err))
	assert.Contains(t, err.Error(), "websocket closed")
	assert.Equal(t, StatusAmbiguous, result.Status)
	assert.NotNil(t, result.NewSecret)
	assert.Equal(t, 1, session.closed())
	_, ok := result.Step(StepConfirmRotation)
	assert.False(t, ok)
}

func TestRotate_CancelAfterSubmitIsAmbiguous(t *testing.T) {
	cred := testCredential(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := newFakeSession()
	session.setPresent(locLoginSuccess, true)
	session.onSubmit = func(loc Locator) {
		if loc == locRotationSubmit {
			cancel()
		}
	}

	target := testTarget()
	target.Timeouts.Rotation = time.Minute

	result, err := NewProcedure(&fakeOpener{session: session}, testLogger()).Rotate(ctx, target, cred)

	assert.Equal(t, KindAmbiguous, Kind(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusAmbiguous, result.Status)
	assert.Equal(t, 1, session.closed())
}

func TestRotate_CancelBeforeSubmitIsNotAmbiguous(t *testing.T) {
	cred := testCredential(t)

	ctx, cancel := context.WithCancel(context.Background())
	session := happySession()
	proc := NewProcedure(&fakeOpener{session: session}, testLogger(), WithEscrow(func(context.Context, string) error {
		cancel()
		return nil
	}))

	result, err := proc.Rotate(ctx, testTarget(), cred)
	assert.Equal(t, KindCanceled, Kind(err))
	assert.Equal(t, StatusFailed, result.Status)
	assert.False(t, result.Submitted)
	assert.Empty(t, session.typedInto(locNewSecret))
	assert.Equal(t, 1, session.closed())
}

func TestRotate_EscrowFailureAbortsBeforeTyping(t *testing.T) {
	cred := testCredential(t)

	session := happySession()
	escrow := &escrowSpy{err: errors.New("vault unavailable")}

	result, err := NewProcedure(&fakeOpener{session: session}, testLogger(), WithEscrow(escrow.hook)).
		Rotate(context.Background(), testTarget(), cred)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepEscrowSecret, stepErr.Step)
	assert.Equal(t, StatusFailed, result.Status)
	assert.False(t, result.Submitted)
	assert.Len(t, escrow.secrets, 1)
	assert.Empty(t, session.typedInto(locNewSecret))
	assert.Equal(t, []string{locSecret.String()}, session.submits)
	assert.Equal(t, 1, session.closed())
}

func TestRotate_SessionAcquisitionFailure(t *testing.T) {
	cred := testCredential(t)

	opener := &fakeOpener{err: errors.New("chrome executable not found")}
	recorder := &fakeRecorder{}
	result, err := NewProcedure(opener, testLogger(), WithMetrics(recorder)).
		Rotate(context.Background(), testTarget(), cred)

	var acq *SessionAcquisitionError
	require.ErrorAs(t, err, &acq)
	assert.Contains(t, acq.Error(), "chrome executable not found")
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, []string{StepAcquireSession}, result.StepNames())
	assert.Equal(t, []recordedRun{{target: "example", status: StatusFailed, kind: KindSessionAcquisition}}, recorder.finished)
}

func TestRotate_NavigationFailure(t *testing.T) {
	cred := testCredential(t)

	session := happySession()
	session.navigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	_, err := NewProcedure(&fakeOpener{session: session}, testLogger()).
		Rotate(context.Background(), testTarget(), cred)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepOpenLogin, stepErr.Step)
	assert.Equal(t, KindUnknown, Kind(err))
	assert.Equal(t, 1, session.closed())
}

func TestRotate_InvalidInput(t *testing.T) {
	cred := testCredential(t)

	noLocators := testTarget()
	noLocators.Locators = Locators{}

	badURL := testTarget()
	badURL.LoginURL = "ftp://example.test"

	badPolicy := testTarget()
	badPolicy.Policy = &Policy{Alphabet: "aa", Length: 4}

	reverifyOnly := testTarget()
	reverifyOnly.Locators[FieldReverifySubmit] = CSS("#reauth-submit")
	delete(reverifyOnly.Locators, FieldCurrentSecret)

	tests := []struct {
		name   string
		target Target
		cred   Credential
		want   error
	}{
		{"missing locators", noLocators, cred, ErrInvalidTarget},
		{"bad url", badURL, cred, ErrInvalidTarget},
		{"bad policy", badPolicy, cred, ErrInvalidTarget},
		{"reverify without current secret", reverifyOnly, cred, ErrInvalidTarget},
		{"no identity", testTarget(), Credential{Secret: cred.Secret}, ErrInvalidCredential},
		{"no secret", testTarget(), Credential{Identity: "alice"}, ErrInvalidCredential},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opener := &fakeOpener{session: happySession()}
			result, err := NewProcedure(opener, testLogger()).Rotate(context.Background(), tt.target, tt.cred)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, KindInvalidInput, Kind(err))
			assert.Zero(t, opener.opens)
		})
	}
}

func TestRotate_RegeneratesWhenCandidateMatchesCurrent(t *testing.T) {
	cred := testCredential(t)

	target := testTarget()
	target.Policy = &Policy{Alphabet: DefaultAlphabet, Length: len(currentSecret)}

	calls := 0
	gen := func(p Policy) (string, error) {
		calls++
		if calls == 1 {
			return currentSecret, nil
		}
		return Generate(p)
	}

	session := happySession()
	result, err := NewProcedure(&fakeOpener{session: session}, testLogger(), WithGenerator(gen)).
		Rotate(context.Background(), target, cred)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	got, err := result.NewSecret.Reveal()
	require.NoError(t, err)
	assert.NotEqual(t, currentSecret, got)
}

func TestRotate_GeneratorAlwaysMatchesCurrent(t *testing.T) {
	cred := testCredential(t)

	target := testTarget()
	target.Policy = &Policy{Alphabet: DefaultAlphabet, Length: len(currentSecret)}
	gen := func(Policy) (string, error) { return currentSecret, nil }

	session := happySession()
	result, err := NewProcedure(&fakeOpener{session: session}, testLogger(), WithGenerator(gen)).
		Rotate(context.Background(), target, cred)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepGenerateSecret, stepErr.Step)
	assert.Nil(t, result.NewSecret)
	assert.Empty(t, session.submits[1:])
}

func TestRotate_TargetPolicyOverride(t *testing.T) {
	cred := testCredential(t)

	target := testTarget()
	target.Policy = &Policy{Length: 40}

	result, err := NewProcedure(&fakeOpener{session: happySession()}, testLogger(), WithPolicy(Policy{Alphabet: "0123456789", Length: 8})).
		Rotate(context.Background(), target, cred)
	require.NoError(t, err)

	got, err := result.NewSecret.Reveal()
	require.NoError(t, err)
	assert.Len(t, got, 40)
	assert.Empty(t, strings.Trim(got, "0123456789"))
}

func TestProbe(t *testing.T) {
	cred := testCredential(t)
	verifyNoLeaks(t)

	session := happySession()
	escrow := &escrowSpy{}
	result, err := NewProcedure(&fakeOpener{session: session}, testLogger(), WithEscrow(escrow.hook)).
		Probe(context.Background(), testTarget(), cred)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, result.Status)
	assert.Nil(t, result.NewSecret)
	assert.False(t, result.Submitted)
	assert.Empty(t, escrow.secrets)
	assert.Empty(t, session.typedInto(locNewSecret))
	assert.Empty(t, session.typedInto(locCurrentSecret))
	assert.Equal(t, []string{locSecret.String()}, session.submits)
	assert.Equal(t, 1, session.closed())

	_, ok := result.Step(StepLocateRotationForm)
	assert.True(t, ok)
}

func TestProbe_MissingRotationForm(t *testing.T) {
	cred := testCredential(t)

	session := happySession()
	session.missing[locConfirmSecret.String()] = true

	result, err := NewProcedure(&fakeOpener{session: session}, testLogger()).
		Probe(context.Background(), testTarget(), cred)

	assert.Equal(t, KindElementTimeout, Kind(err))
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 1, session.closed())
}

func TestProcedure_ConcurrentRuns(t *testing.T) {
	cred := testCredential(t)
	verifyNoLeaks(t)

	proc := NewProcedure(OpenerFunc(func(context.Context) (Session, error) {
		return happySession(), nil
	}), testLogger())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = proc.Rotate(context.Background(), testTarget(), cred)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}
