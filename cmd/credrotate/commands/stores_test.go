package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credrotate/internal/secretstores"
)

type brokenStore struct{ secretstores.Store }

func (brokenStore) Validate(ctx context.Context) error { return errors.New("token expired") }

func TestStores_List(t *testing.T) {
	env := newTestEnv(t, newPageSession())

	out, err := execute(t, NewStoresCommand(env.cfg, env.deps))
	require.NoError(t, err)
	for _, typ := range []string{"env", "literal", "keychain", "aws.secretsmanager", "gcp.secretmanager", "azure.keyvault"} {
		assert.Contains(t, out, typ)
	}
	assert.Contains(t, out, "vault")
	assert.Contains(t, out, "configured")
}

func TestStores_Validate(t *testing.T) {
	env := newTestEnv(t, newPageSession())

	out, err := execute(t, NewStoresCommand(env.cfg, env.deps), "--validate")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	env.deps.Registry.RegisterFactory("literal", func(ctx context.Context, name string, cfg map[string]interface{}) (secretstores.Store, error) {
		return brokenStore{Store: env.vault}, nil
	})
	out, err = execute(t, NewStoresCommand(env.cfg, env.deps), "--validate")
	require.Error(t, err)
	assert.Contains(t, out, "token expired")
}
