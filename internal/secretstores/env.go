package secretstores

import (
	"context"
	"os"
)

// EnvStore reads secrets from environment variables at call time.
type EnvStore struct {
	name   string
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvStore creates an environment variable store. The optional "prefix"
// option is prepended to every key.
func NewEnvStore(name string, cfg map[string]interface{}) *EnvStore {
	return &EnvStore{
		name:   name,
		prefix: stringOption(cfg, "prefix"),
		lookup: os.LookupEnv,
	}
}

func (s *EnvStore) Name() string { return s.name }

// Resolve reads the variable named by ref.Key. Unset and empty variables are
// both not found.
func (s *EnvStore) Resolve(ctx context.Context, ref Reference) (SecretValue, error) {
	key := s.prefix + ref.Key
	value, ok := s.lookup(key)
	if !ok || value == "" {
		return SecretValue{}, &NotFoundError{Store: s.name, Key: key}
	}
	return SecretValue{
		Value:    value,
		Metadata: map[string]string{"source": "env:" + key},
	}, nil
}

func (s *EnvStore) Validate(ctx context.Context) error { return nil }
