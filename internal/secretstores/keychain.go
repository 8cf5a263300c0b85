package secretstores

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeychainClient abstracts the OS keychain.
type KeychainClient interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
}

// osKeychain talks to the macOS Keychain, Linux Secret Service or Windows
// Credential Manager through go-keyring.
type osKeychain struct{}

func (osKeychain) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

func (osKeychain) Set(service, account, secret string) error {
	return keyring.Set(service, account, secret)
}

// KeychainStore reads and writes "service/account" items.
type KeychainStore struct {
	name          string
	servicePrefix string
	client        KeychainClient
}

// NewKeychainStore creates a keychain store. The optional "service_prefix"
// option is joined to every service with a dot.
func NewKeychainStore(name string, cfg map[string]interface{}) *KeychainStore {
	return NewKeychainStoreWithClient(name, cfg, osKeychain{})
}

// NewKeychainStoreWithClient creates a keychain store with a custom client.
func NewKeychainStoreWithClient(name string, cfg map[string]interface{}, client KeychainClient) *KeychainStore {
	return &KeychainStore{
		name:          name,
		servicePrefix: stringOption(cfg, "service_prefix"),
		client:        client,
	}
}

func (s *KeychainStore) Name() string { return s.name }

func (s *KeychainStore) Resolve(ctx context.Context, ref Reference) (SecretValue, error) {
	service, account, err := s.parse(ref.Key)
	if err != nil {
		return SecretValue{}, err
	}

	value, err := s.client.Get(service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return SecretValue{}, &NotFoundError{Store: s.name, Key: ref.Key}
		}
		return SecretValue{}, fmt.Errorf("keychain query for %s/%s failed: %w", service, account, err)
	}
	return SecretValue{
		Value: value,
		Metadata: map[string]string{
			"service": service,
			"account": account,
		},
	}, nil
}

// Store overwrites the item. The keychain keeps no versions.
func (s *KeychainStore) Store(ctx context.Context, ref Reference, value string) (string, error) {
	service, account, err := s.parse(ref.Key)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(service, account, value); err != nil {
		return "", fmt.Errorf("keychain update for %s/%s failed: %w", service, account, err)
	}
	return "", nil
}

// Validate checks that a keychain backend is reachable on this platform.
func (s *KeychainStore) Validate(ctx context.Context) error {
	if _, ok := s.client.(osKeychain); !ok {
		return nil
	}
	switch runtime.GOOS {
	case "darwin", "windows":
		return nil
	case "linux", "freebsd", "openbsd":
		if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
			return fmt.Errorf("keychain requires a Secret Service on the session bus (DBUS_SESSION_BUS_ADDRESS is not set)")
		}
		return nil
	}
	return fmt.Errorf("keychain not supported on %s", runtime.GOOS)
}

func (s *KeychainStore) parse(key string) (service, account string, err error) {
	service, account, ok := strings.Cut(key, "/")
	service, account = strings.TrimSpace(service), strings.TrimSpace(account)
	if !ok || service == "" || account == "" {
		return "", "", fmt.Errorf("keychain reference must be service/account, got %q", key)
	}
	if s.servicePrefix != "" && !strings.HasPrefix(service, s.servicePrefix) {
		service = s.servicePrefix + "." + service
	}
	return service, account, nil
}
