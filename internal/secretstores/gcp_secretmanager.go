package secretstores

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	crerrors "github.com/systmms/credrotate/internal/errors"
)

// GCPSecretManagerClient is the subset of the Secret Manager client the
// store uses.
type GCPSecretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
	Close() error
}

// GCPSecretManagerStore reads and writes Google Cloud Secret Manager secrets.
//
// Keys are secret IDs in the configured project or full
// "projects/<p>/secrets/<s>" resource names, optionally followed by
// "#field.path".
type GCPSecretManagerStore struct {
	name      string
	projectID string
	client    GCPSecretManagerClient
}

// GCPOption configures a GCPSecretManagerStore.
type GCPOption func(*GCPSecretManagerStore)

// WithGCPClient sets a custom Secret Manager client.
func WithGCPClient(client GCPSecretManagerClient) GCPOption {
	return func(s *GCPSecretManagerStore) {
		s.client = client
	}
}

// NewGCPSecretManagerStore creates the store. Recognised options are
// project_id, service_account_key_path and impersonate_service_account.
func NewGCPSecretManagerStore(ctx context.Context, name string, cfg map[string]interface{}, opts ...GCPOption) (*GCPSecretManagerStore, error) {
	s := &GCPSecretManagerStore{
		name:      name,
		projectID: stringOption(cfg, "project_id"),
	}
	if s.projectID == "" {
		s.projectID = gcpProjectFromEnv()
	}
	if s.projectID == "" {
		return nil, crerrors.ConfigError{
			Field:      "secretStores." + name + ".project_id",
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set project_id in the store config or GOOGLE_CLOUD_PROJECT in the environment",
		}
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.client != nil {
		return s, nil
	}

	var clientOpts []option.ClientOption
	if keyPath := stringOption(cfg, "service_account_key_path"); keyPath != "" {
		if strings.HasPrefix(keyPath, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			keyPath = filepath.Join(home, keyPath[2:])
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(keyPath))
	}
	if principal := stringOption(cfg, "impersonate_service_account"); principal != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: principal,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}

	client, err := secretmanager.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
	}
	s.client = client
	return s, nil
}

func gcpProjectFromEnv() string {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func (s *GCPSecretManagerStore) Name() string { return s.name }

func (s *GCPSecretManagerStore) Resolve(ctx context.Context, ref Reference) (SecretValue, error) {
	secretName, field := splitField(ref.Key)
	version := ref.Version
	if version == "" {
		version = "latest"
	}
	resource := s.secretResource(secretName) + "/versions/" + version

	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return SecretValue{}, s.handleError(err, secretName)
	}
	if resp.GetPayload() == nil || resp.GetPayload().GetData() == nil {
		return SecretValue{}, fmt.Errorf("secret %q has no data", secretName)
	}

	value := string(resp.GetPayload().GetData())
	if field != "" {
		if value, err = extractField(value, field); err != nil {
			return SecretValue{}, fmt.Errorf("secret %q: %w", secretName, err)
		}
	}

	return SecretValue{
		Value:    value,
		Version:  path.Base(resp.GetName()),
		Metadata: map[string]string{"project_id": s.projectID, "resource_name": resp.GetName()},
	}, nil
}

// Store adds a new secret version. The secret itself must already exist.
func (s *GCPSecretManagerStore) Store(ctx context.Context, ref Reference, value string) (string, error) {
	secretName, field := splitField(ref.Key)
	parent := s.secretResource(secretName)

	data := value
	if field != "" {
		current := ""
		resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: parent + "/versions/latest"})
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return "", s.handleError(err, secretName)
			}
		} else {
			current = string(resp.GetPayload().GetData())
		}
		if data, err = setField(current, field, value); err != nil {
			return "", fmt.Errorf("secret %q: %w", secretName, err)
		}
	}

	version, err := s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  parent,
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(data)},
	})
	if err != nil {
		return "", s.handleError(err, secretName)
	}
	return path.Base(version.GetName()), nil
}

func (s *GCPSecretManagerStore) Validate(ctx context.Context) error { return nil }

// Close releases the underlying client connection.
func (s *GCPSecretManagerStore) Close() error {
	return s.client.Close()
}

func (s *GCPSecretManagerStore) secretResource(secretName string) string {
	if strings.HasPrefix(secretName, "projects/") {
		return secretName
	}
	return fmt.Sprintf("projects/%s/secrets/%s", s.projectID, secretName)
}

func (s *GCPSecretManagerStore) handleError(err error, secretName string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return &NotFoundError{Store: s.name, Key: secretName}
	case codes.PermissionDenied, codes.Unauthenticated:
		return &AuthError{Store: s.name, Message: status.Convert(err).Message(), Err: err}
	}
	return fmt.Errorf("GCP Secret Manager error: %w", err)
}
