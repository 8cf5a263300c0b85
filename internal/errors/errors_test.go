package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credrotate/internal/errors"
)

func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()
	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Details: Connection timeout")
	assert.Contains(t, errMsg, "Try: Check network connectivity")
}

func TestUserErrorFallsBackToWrapped(t *testing.T) {
	t.Parallel()

	inner := fmt.Errorf("boom")
	err := errors.UserError{Err: inner}

	assert.Equal(t, "boom", err.Error())
	assert.True(t, stderrors.Is(err, inner))
}

func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "targets.mail.login_url",
		Value:      "not-a-url",
		Message:    "must be an absolute http(s) URL",
		Suggestion: "Use format: https://mail.example.com/login",
	}

	errMsg := err.Error()
	assert.Contains(t, errMsg, "targets.mail.login_url")
	assert.Contains(t, errMsg, "not-a-url")
	assert.Contains(t, errMsg, "absolute http(s) URL")
	assert.Contains(t, errMsg, "https://mail.example.com/login")
}

func TestConfigErrorWrapsCause(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("yaml: line 3: did not find expected key")
	err := errors.ConfigError{Message: "invalid YAML syntax in configuration file", Err: cause}

	assert.Contains(t, err.Error(), "invalid YAML syntax")
	assert.Contains(t, err.Error(), "line 3")
	assert.True(t, stderrors.Is(err, cause))
}

func TestIsConfigError(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("load: %w", errors.ConfigError{Message: "bad"})
	assert.True(t, errors.IsConfigError(wrapped))
	assert.True(t, errors.IsConfigError(&errors.ConfigError{Message: "ptr"}))
	assert.False(t, errors.IsConfigError(fmt.Errorf("plain")))
}

func TestStoreErrorSuggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		storeType string
		err       error
		want      string
	}{
		{"env", fmt.Errorf("variable MAIL_PASSWORD not set"), "Export the variable"},
		{"keychain", fmt.Errorf("secret not found in keyring"), "secret-tool store"},
		{"aws.secretsmanager", fmt.Errorf("AccessDenied: nope"), "secretsmanager:PutSecretValue"},
		{"gcp.secretmanager", fmt.Errorf("rpc error: code = NotFound"), "project_id"},
		{"azure.keyvault", fmt.Errorf("GET 403 Forbidden"), "access policy"},
		{"literal", fmt.Errorf("dial tcp: i/o timeout"), "timed out"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.storeType, func(t *testing.T) {
			t.Parallel()

			err := errors.StoreError(tt.storeType, "resolve", tt.err)
			var ue errors.UserError
			require.True(t, stderrors.As(err, &ue))
			assert.Contains(t, ue.Message, tt.storeType)
			assert.Contains(t, ue.Suggestion, tt.want)
			assert.True(t, stderrors.Is(err, tt.err))
		})
	}
}

func TestSimplifyError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, errors.SimplifyError(nil))

	yamlErr := fmt.Errorf("decode: %w", fmt.Errorf("yaml: line 3: mapping values are not allowed"))
	assert.True(t, errors.IsConfigError(errors.SimplifyError(yamlErr)))

	permErr := fmt.Errorf("open credrotate.yaml: permission denied")
	var ue errors.UserError
	require.True(t, stderrors.As(errors.SimplifyError(permErr), &ue))
	assert.Equal(t, "Permission denied", ue.Message)

	already := errors.UserError{Message: "keep me"}
	assert.Equal(t, already, errors.SimplifyError(already))

	plain := fmt.Errorf("something else")
	assert.Equal(t, plain, errors.SimplifyError(plain))
}
