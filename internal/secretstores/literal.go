package secretstores

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// LiteralStore holds values from configuration in memory. It accepts writes,
// which makes it useful for dry runs and tests; nothing is persisted.
type LiteralStore struct {
	name string

	mu       sync.RWMutex
	values   map[string]string
	versions map[string]int
}

// NewLiteralStore reads the "values" map from cfg.
func NewLiteralStore(name string, cfg map[string]interface{}) (*LiteralStore, error) {
	s := &LiteralStore{
		name:     name,
		values:   map[string]string{},
		versions: map[string]int{},
	}
	if cfg == nil {
		return s, nil
	}
	raw, ok := cfg["values"]
	if !ok {
		return s, nil
	}
	values, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("literal store %s: values must be a map", name)
	}
	for k, v := range values {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("literal store %s: value for %q must be a string", name, k)
		}
		s.values[k] = str
		s.versions[k] = 1
	}
	return s, nil
}

func (s *LiteralStore) Name() string { return s.name }

func (s *LiteralStore) Resolve(ctx context.Context, ref Reference) (SecretValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[ref.Key]
	if !ok {
		return SecretValue{}, &NotFoundError{Store: s.name, Key: ref.Key}
	}
	return SecretValue{Value: value, Version: strconv.Itoa(s.versions[ref.Key])}, nil
}

// Store replaces the value and bumps its version.
func (s *LiteralStore) Store(ctx context.Context, ref Reference, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[ref.Key] = value
	s.versions[ref.Key]++
	return strconv.Itoa(s.versions[ref.Key]), nil
}

func (s *LiteralStore) Validate(ctx context.Context) error { return nil }
