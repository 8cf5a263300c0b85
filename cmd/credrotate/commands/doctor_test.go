package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/pkg/rotation"
)

func TestDoctor_Healthy(t *testing.T) {
	session := newPageSession()
	env := newTestEnv(t, session)

	out, err := execute(t, NewDoctorCommand(env.cfg, env.deps))
	require.NoError(t, err)

	assert.Contains(t, out, "mail")
	assert.Contains(t, out, "vault")
	assert.Contains(t, out, "session started")
	assert.Contains(t, out, "3/3 checks passed")
	assert.Equal(t, 1, env.opens)
	assert.True(t, session.closed)
}

func TestDoctor_BrowserUnavailable(t *testing.T) {
	env := newTestEnv(t, newPageSession())
	env.deps.NewOpener = func(config.Browser, *logging.Logger) rotation.Opener {
		return rotation.OpenerFunc(func(ctx context.Context) (rotation.Session, error) {
			return nil, &rotation.SessionAcquisitionError{Err: errors.New("chrome not found")}
		})
	}

	out, err := execute(t, NewDoctorCommand(env.cfg, env.deps))
	require.Error(t, err)
	assert.Contains(t, out, "chrome not found")
	assert.Contains(t, out, "2/3 checks passed")
}

func TestDoctor_Skips(t *testing.T) {
	env := newTestEnv(t, newPageSession())

	out, err := execute(t, NewDoctorCommand(env.cfg, env.deps), "--skip-browser", "--skip-stores")
	require.NoError(t, err)
	assert.Contains(t, out, "1/1 checks passed")
	assert.Zero(t, env.opens)
}
