package rotation

import (
	"time"

	"github.com/systmms/credrotate/internal/secure"
)

// Status is the outcome of a rotation run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAmbiguous Status = "ambiguous"
)

// Surface names the page a step runs against.
type Surface string

const (
	SurfaceSession  Surface = "session"
	SurfaceLogin    Surface = "login"
	SurfaceRotation Surface = "rotation"
)

// Step names, in procedure order.
const (
	StepAcquireSession     = "acquire_session"
	StepOpenLogin          = "open_login"
	StepEnterIdentity      = "enter_identity"
	StepIdentityNext       = "identity_next"
	StepEnterSecret        = "enter_secret"
	StepSubmitLogin        = "submit_login"
	StepConfirmLogin       = "confirm_login"
	StepOpenRotation       = "open_rotation"
	StepOpenRotationForm   = "open_rotation_form"
	StepReverify           = "reverify"
	StepLocateRotationForm = "locate_rotation_form"
	StepEnterCurrentSecret = "enter_current_secret"
	StepGenerateSecret     = "generate_secret"
	StepEscrowSecret       = "escrow_secret"
	StepEnterNewSecret     = "enter_new_secret"
	StepEnterConfirmation  = "enter_confirmation"
	StepSubmitRotation     = "submit_rotation"
	StepConfirmRotation    = "confirm_rotation"
	StepReleaseSession     = "release_session"
)

// StepRecord is one entry of a run's audit trail. It never holds secret
// material.
type StepRecord struct {
	Name      string        `json:"name"`
	Surface   Surface       `json:"surface"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Result describes a finished run.
type Result struct {
	Target   string
	Identity string
	Status   Status
	// NewSecret is set once the secret is generated, including on runs that
	// end ambiguously. The caller owns it and must Destroy it.
	NewSecret  *secure.Buffer
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepRecord
	// Submitted reports whether the rotation form was submitted.
	Submitted bool
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Step returns the record for the named step.
func (r *Result) Step(name string) (StepRecord, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepRecord{}, false
}

// StepNames lists the executed steps in order.
func (r *Result) StepNames() []string {
	names := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Name
	}
	return names
}
