package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credrotate/pkg/rotation"
)

func TestRecorderCountsRuns(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.RunStarted("mail")
	r.RunStarted("mail")
	r.RunFinished("mail", rotation.StatusCompleted, rotation.KindNone, 2*time.Second)
	r.RunFinished("mail", rotation.StatusFailed, rotation.KindAuthenticationRejected, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.started.WithLabelValues("mail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.completed.WithLabelValues("mail", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.completed.WithLabelValues("mail", "authentication_rejected")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
}

func TestRecorderSteps(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.StepFinished(rotation.StepEnterIdentity, 10*time.Millisecond, nil)
	r.StepFinished(rotation.StepConfirmLogin, time.Second, errors.New("timeout"))

	assert.Equal(t, 2, testutil.CollectAndCount(r.steps))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepFails.WithLabelValues(rotation.StepConfirmLogin)))
	assert.Equal(t, 1, testutil.CollectAndCount(r.stepFails))
}

func TestRecordersAreIndependent(t *testing.T) {
	t.Parallel()

	a, b := NewRecorder(), NewRecorder()
	a.RunStarted("mail")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.started.WithLabelValues("mail")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.started.WithLabelValues("mail")))
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status rotation.Status
		kind   rotation.ErrorKind
		want   string
	}{
		{rotation.StatusCompleted, rotation.KindNone, "completed"},
		{rotation.StatusAmbiguous, rotation.KindAmbiguous, "ambiguous"},
		{rotation.StatusFailed, rotation.KindElementTimeout, "element_timeout"},
		{rotation.StatusFailed, rotation.KindRotationRejected, "rotation_rejected"},
		{rotation.StatusFailed, rotation.KindNone, "failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.status, tt.kind))
	}
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.RunStarted("mail")
	r.RunFinished("mail", rotation.StatusAmbiguous, rotation.KindAmbiguous, 5*time.Second)

	path := filepath.Join(t.TempDir(), "credrotate.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `credrotate_rotation_started_total{target="mail"} 1`)
	assert.Contains(t, text, `credrotate_rotation_completed_total{outcome="ambiguous",target="mail"} 1`)
	assert.True(t, strings.Contains(text, "credrotate_rotation_duration_seconds_bucket"))
}

func TestRecorderWithProcedureInterface(t *testing.T) {
	t.Parallel()

	var rec rotation.Recorder = NewRecorder()
	rec.RunStarted("x")
	rec.StepFinished(rotation.StepAcquireSession, time.Millisecond, nil)
	rec.RunFinished("x", rotation.StatusFailed, rotation.KindSessionAcquisition, time.Millisecond)

	families, err := rec.(*Recorder).Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "credrotate_rotation_started_total")
	assert.Contains(t, names, "credrotate_step_duration_seconds")
}
