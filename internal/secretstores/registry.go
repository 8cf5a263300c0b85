package secretstores

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/systmms/credrotate/internal/config"
	crerrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/internal/secure"
)

// StoreFactory creates a store instance from its configuration.
type StoreFactory func(ctx context.Context, name string, cfg map[string]interface{}) (Store, error)

// Registry maps store types to factories.
type Registry struct {
	factories map[string]StoreFactory
}

// NewRegistry creates a registry with the built-in store types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]StoreFactory)}

	r.RegisterFactory("env", func(_ context.Context, name string, cfg map[string]interface{}) (Store, error) {
		return NewEnvStore(name, cfg), nil
	})
	r.RegisterFactory("literal", func(_ context.Context, name string, cfg map[string]interface{}) (Store, error) {
		return NewLiteralStore(name, cfg)
	})
	r.RegisterFactory("keychain", func(_ context.Context, name string, cfg map[string]interface{}) (Store, error) {
		return NewKeychainStore(name, cfg), nil
	})
	r.RegisterFactory("aws.secretsmanager", func(ctx context.Context, name string, cfg map[string]interface{}) (Store, error) {
		return NewAWSSecretsManagerStore(ctx, name, cfg)
	})
	r.RegisterFactory("gcp.secretmanager", func(ctx context.Context, name string, cfg map[string]interface{}) (Store, error) {
		return NewGCPSecretManagerStore(ctx, name, cfg)
	})
	r.RegisterFactory("azure.keyvault", func(_ context.Context, name string, cfg map[string]interface{}) (Store, error) {
		return NewAzureKeyVaultStore(name, cfg)
	})

	return r
}

// RegisterFactory registers or replaces the factory for a store type.
func (r *Registry) RegisterFactory(storeType string, factory StoreFactory) {
	r.factories[storeType] = factory
}

// Create builds a store of the given type.
func (r *Registry) Create(ctx context.Context, name, storeType string, cfg map[string]interface{}) (Store, error) {
	factory, ok := r.factories[storeType]
	if !ok {
		return nil, fmt.Errorf("unknown secret store type: %s", storeType)
	}
	return factory(ctx, name, cfg)
}

// SupportedTypes returns the registered types in sorted order.
func (r *Registry) SupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsSupported reports whether a store type is registered.
func (r *Registry) IsSupported(storeType string) bool {
	_, ok := r.factories[storeType]
	return ok
}

// implicitStores are usable by type name without a secret_stores entry.
var implicitStores = []string{"env", "keychain"}

// Resolver resolves config.SecretRef values against the configured stores,
// creating each store once on first use.
type Resolver struct {
	cfg      *config.Config
	registry *Registry
	logger   *logging.Logger

	mu     sync.Mutex
	stores map[string]Store
}

// NewResolver creates a resolver over cfg.
func NewResolver(cfg *config.Config, registry *Registry, logger *logging.Logger) *Resolver {
	return &Resolver{
		cfg:      cfg,
		registry: registry,
		logger:   logger.Named("secretstores"),
		stores:   make(map[string]Store),
	}
}

// Store returns the named store, creating it on first use.
func (r *Resolver) Store(ctx context.Context, name string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s, nil
	}

	storeCfg, ok := r.storeConfig(name)
	if !ok {
		return nil, crerrors.ConfigError{
			Field:      "secretStores",
			Value:      name,
			Message:    "secret store not defined",
			Suggestion: fmt.Sprintf("Add a '%s' entry under secretStores, or use the env or keychain store", name),
		}
	}

	s, err := r.registry.Create(ctx, name, storeCfg.Type, storeCfg.Config)
	if err != nil {
		return nil, crerrors.StoreError(storeCfg.Type, "setup", err)
	}
	r.logger.Debug("Created %s store %s", storeCfg.Type, name)
	r.stores[name] = s
	return s, nil
}

func (r *Resolver) storeConfig(name string) (config.SecretStoreConfig, bool) {
	if r.cfg != nil {
		if sc, ok := r.cfg.GetSecretStore(name); ok {
			return sc, true
		}
	}
	for _, implicit := range implicitStores {
		if name == implicit {
			return config.SecretStoreConfig{Type: implicit}, true
		}
	}
	return config.SecretStoreConfig{}, false
}

func (r *Resolver) storeType(name string) string {
	sc, _ := r.storeConfig(name)
	return sc.Type
}

func (r *Resolver) timeout(name string) time.Duration {
	sc, _ := r.storeConfig(name)
	return time.Duration(sc.Timeout()) * time.Millisecond
}

// ResolveSecret fetches the referenced value into a secure buffer. An empty
// value is treated as not found.
func (r *Resolver) ResolveSecret(ctx context.Context, ref config.SecretRef) (*secure.Buffer, error) {
	s, err := r.Store(ctx, ref.Store)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout(ref.Store))
	defer cancel()

	r.logger.Debug("Resolving %s", logging.Secret(ref.String()))
	value, err := s.Resolve(ctx, Reference{Key: ref.Key, Version: ref.Version})
	if err == nil && value.Value == "" {
		err = &NotFoundError{Store: ref.Store, Key: ref.Key}
	}
	if err != nil {
		return nil, crerrors.StoreError(r.storeType(ref.Store), "resolve", err)
	}

	buf, err := secure.NewBufferFromString(value.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to protect secret from %s: %w", ref.Store, err)
	}
	return buf, nil
}

// WriteSecret stores value at ref and returns the backend's version.
func (r *Resolver) WriteSecret(ctx context.Context, ref config.SecretRef, value string) (string, error) {
	s, err := r.Store(ctx, ref.Store)
	if err != nil {
		return "", err
	}
	w, ok := s.(Writer)
	if !ok {
		return "", crerrors.StoreError(r.storeType(ref.Store), "write", fmt.Errorf("%s: %w", ref.Store, ErrReadOnly))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout(ref.Store))
	defer cancel()

	version, err := w.Store(ctx, Reference{Key: ref.Key}, value)
	if err != nil {
		return "", crerrors.StoreError(r.storeType(ref.Store), "write", err)
	}
	r.logger.Debug("Stored new secret in %s/%s (version %q)", ref.Store, ref.Key, version)
	return version, nil
}

// Close releases stores that hold connections.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, s := range r.stores {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	r.stores = make(map[string]Store)
	return errors.Join(errs...)
}
