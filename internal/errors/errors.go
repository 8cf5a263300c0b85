package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Err        error
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err (or anything it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var ce ConfigError
	if errors.As(err, &ce) {
		return true
	}
	var pce *ConfigError
	return errors.As(err, &pce)
}

// StoreError enhances secret store errors with context
func StoreError(storeType, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s secret store error during %s", storeType, operation),
		Suggestion: storeSuggestion(storeType, err),
		Err:        err,
	}
}

func storeSuggestion(storeType string, err error) string {
	errStr := err.Error()

	switch storeType {
	case "env":
		if strings.Contains(errStr, "not found") || strings.Contains(errStr, "not set") {
			return "Export the variable before running, e.g. 'read -s VAR && export VAR'"
		}

	case "keychain":
		if strings.Contains(errStr, "not found") {
			return "Add the item first, e.g. 'secret-tool store --label=credrotate service <svc> username <account>'"
		}
		if strings.Contains(errStr, "dbus") || strings.Contains(errStr, "org.freedesktop.secrets") {
			return "Start a Secret Service provider (gnome-keyring, KWallet) or use the env store on headless hosts"
		}

	case "aws.secretsmanager":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:GetSecretValue and secretsmanager:PutSecretValue"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") {
			return "Verify the secret name and region. List secrets with: 'aws secretsmanager list-secrets'"
		}

	case "gcp.secretmanager":
		if strings.Contains(errStr, "PermissionDenied") || strings.Contains(errStr, "permission") {
			return "Grant roles/secretmanager.secretAccessor (read) and roles/secretmanager.secretVersionAdder (write-back)"
		}
		if strings.Contains(errStr, "NotFound") {
			return "Verify the secret name and project_id"
		}

	case "azure.keyvault":
		if strings.Contains(errStr, "Forbidden") || strings.Contains(errStr, "403") {
			return "Check the Key Vault access policy allows Get and Set on secrets"
		}
		if strings.Contains(errStr, "SecretNotFound") || strings.Contains(errStr, "404") {
			return "Verify the secret name exists in the vault"
		}
	}

	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and secret store configuration"
	}

	return ""
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var ue UserError
	if errors.As(err, &ue) {
		return err
	}
	if IsConfigError(err) {
		return err
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
			Err:        rootErr,
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
