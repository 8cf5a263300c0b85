// Package secretstores reads the current secret of a rotation target and,
// optionally, writes the rotated secret back.
//
// Stores never log values; use logging.Secret for anything that might be
// one.
package secretstores

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Reference addresses a value inside a store.
type Reference struct {
	Key     string
	Version string
}

func (r Reference) String() string {
	if r.Version != "" {
		return r.Key + "@" + r.Version
	}
	return r.Key
}

// SecretValue is a resolved secret.
type SecretValue struct {
	Value     string
	Version   string
	UpdatedAt time.Time
	Metadata  map[string]string
}

// Store resolves secrets.
type Store interface {
	Name() string
	Resolve(ctx context.Context, ref Reference) (SecretValue, error)
	Validate(ctx context.Context) error
}

// Writer is implemented by stores that accept new values. Store returns the
// version identifier assigned by the backend.
type Writer interface {
	Store(ctx context.Context, ref Reference, value string) (string, error)
}

// NotFoundError means the referenced secret does not exist.
type NotFoundError struct {
	Store string
	Key   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secret %q not found in store %s", e.Key, e.Store)
}

// AuthError means the store rejected our credentials.
type AuthError struct {
	Store   string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for store %s: %s", e.Store, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ErrReadOnly is returned when writing to a store without a Writer.
var ErrReadOnly = errors.New("store does not support writing secrets")

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func stringOption(cfg map[string]interface{}, key string) string {
	if cfg == nil {
		return ""
	}
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func boolOption(cfg map[string]interface{}, key string, fallback bool) bool {
	if cfg == nil {
		return fallback
	}
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return fallback
}
