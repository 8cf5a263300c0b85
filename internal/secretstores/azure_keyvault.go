package secretstores

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	crerrors "github.com/systmms/credrotate/internal/errors"
)

// AzureKeyVaultClientAPI is the subset of the azsecrets client the store
// uses.
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
}

// AzureKeyVaultStore reads and writes Azure Key Vault secrets. Keys are
// secret names, optionally followed by "#field.path".
type AzureKeyVaultStore struct {
	name     string
	vaultURL string
	client   AzureKeyVaultClientAPI
}

// AzureOption configures an AzureKeyVaultStore.
type AzureOption func(*AzureKeyVaultStore)

// WithAzureKeyVaultClient sets a custom Key Vault client.
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureOption {
	return func(s *AzureKeyVaultStore) {
		s.client = client
	}
}

// NewAzureKeyVaultStore creates the store. vault_url is required. With
// tenant_id, client_id and client_secret a service principal is used,
// with use_managed_identity a managed identity, otherwise the default
// Azure credential chain.
func NewAzureKeyVaultStore(name string, cfg map[string]interface{}, opts ...AzureOption) (*AzureKeyVaultStore, error) {
	vaultURL := stringOption(cfg, "vault_url")
	if vaultURL == "" {
		return nil, crerrors.ConfigError{
			Field:      "secretStores." + name + ".vault_url",
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}
	if u, err := url.Parse(vaultURL); err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, crerrors.ConfigError{
			Field:      "secretStores." + name + ".vault_url",
			Value:      vaultURL,
			Message:    "invalid vault_url",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}

	s := &AzureKeyVaultStore{name: name, vaultURL: vaultURL}
	for _, opt := range opts {
		opt(s)
	}
	if s.client != nil {
		return s, nil
	}

	cred, err := azureCredential(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}
	s.client = client
	return s, nil
}

func azureCredential(cfg map[string]interface{}) (azcore.TokenCredential, error) {
	tenantID := stringOption(cfg, "tenant_id")
	clientID := stringOption(cfg, "client_id")
	clientSecret := stringOption(cfg, "client_secret")

	switch {
	case clientSecret != "":
		return azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	case boolOption(cfg, "use_managed_identity", false):
		var opts *azidentity.ManagedIdentityCredentialOptions
		if id := stringOption(cfg, "user_assigned_identity_id"); id != "" {
			opts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(id)}
		}
		return azidentity.NewManagedIdentityCredential(opts)
	default:
		return azidentity.NewDefaultAzureCredential(nil)
	}
}

func (s *AzureKeyVaultStore) Name() string { return s.name }

func (s *AzureKeyVaultStore) Resolve(ctx context.Context, ref Reference) (SecretValue, error) {
	secretName, field := splitField(ref.Key)

	resp, err := s.client.GetSecret(ctx, secretName, ref.Version, nil)
	if err != nil {
		return SecretValue{}, s.handleError(err, secretName)
	}
	if resp.Value == nil {
		return SecretValue{}, fmt.Errorf("secret %q has no value", secretName)
	}

	value := *resp.Value
	if field != "" {
		if value, err = extractField(value, field); err != nil {
			return SecretValue{}, fmt.Errorf("secret %q: %w", secretName, err)
		}
	}

	sv := SecretValue{
		Value:    value,
		Metadata: map[string]string{"vault_url": s.vaultURL},
	}
	if resp.ID != nil {
		sv.Version = resp.ID.Version()
	}
	if resp.Attributes != nil && resp.Attributes.Updated != nil {
		sv.UpdatedAt = *resp.Attributes.Updated
	}
	return sv, nil
}

// Store sets a new secret version.
func (s *AzureKeyVaultStore) Store(ctx context.Context, ref Reference, value string) (string, error) {
	secretName, field := splitField(ref.Key)

	data := value
	if field != "" {
		current := ""
		resp, err := s.client.GetSecret(ctx, secretName, "", nil)
		if err != nil {
			if !isAzureStatus(err, http.StatusNotFound) {
				return "", s.handleError(err, secretName)
			}
		} else if resp.Value != nil {
			current = *resp.Value
		}
		if data, err = setField(current, field, value); err != nil {
			return "", fmt.Errorf("secret %q: %w", secretName, err)
		}
	}

	resp, err := s.client.SetSecret(ctx, secretName, azsecrets.SetSecretParameters{Value: &data}, nil)
	if err != nil {
		return "", s.handleError(err, secretName)
	}
	if resp.ID == nil {
		return "", nil
	}
	return resp.ID.Version(), nil
}

func (s *AzureKeyVaultStore) Validate(ctx context.Context) error { return nil }

func (s *AzureKeyVaultStore) handleError(err error, secretName string) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return &NotFoundError{Store: s.name, Key: secretName}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &AuthError{Store: s.name, Message: respErr.ErrorCode, Err: err}
		}
	}
	return fmt.Errorf("azure Key Vault error: %w", err)
}

func isAzureStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
