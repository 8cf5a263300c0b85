package secretstores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// SecretsManagerClientAPI is the subset of the Secrets Manager client the
// store uses.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// AWSSecretsManagerStore reads and writes AWS Secrets Manager secrets.
//
// Keys are secret names or ARNs, optionally followed by "#field.path" to
// address a string inside a JSON secret.
type AWSSecretsManagerStore struct {
	name     string
	client   SecretsManagerClientAPI
	region   string
	endpoint string
}

// AWSOption configures an AWSSecretsManagerStore.
type AWSOption func(*AWSSecretsManagerStore)

// WithSecretsManagerClient sets a custom Secrets Manager client.
func WithSecretsManagerClient(client SecretsManagerClientAPI) AWSOption {
	return func(s *AWSSecretsManagerStore) {
		s.client = client
	}
}

// NewAWSSecretsManagerStore creates the store. Recognised options are
// region, endpoint, access_key_id and secret_access_key; without static keys
// the default credential chain applies.
func NewAWSSecretsManagerStore(ctx context.Context, name string, cfg map[string]interface{}, opts ...AWSOption) (*AWSSecretsManagerStore, error) {
	region := stringOption(cfg, "region")
	if region == "" {
		region = "us-east-1"
	}

	s := &AWSSecretsManagerStore{
		name:     name,
		region:   region,
		endpoint: stringOption(cfg, "endpoint"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client != nil {
		return s, nil
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	accessKeyID := stringOption(cfg, "access_key_id")
	secretAccessKey := stringOption(cfg, "secret_access_key")
	if accessKeyID != "" && secretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*secretsmanager.Options)
	if s.endpoint != "" {
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(s.endpoint)
		})
	}
	s.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	return s, nil
}

func (s *AWSSecretsManagerStore) Name() string { return s.name }

func (s *AWSSecretsManagerStore) Resolve(ctx context.Context, ref Reference) (SecretValue, error) {
	secretName, field := splitField(ref.Key)

	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretName)}
	if ref.Version != "" && ref.Version != "latest" {
		if isVersionID(ref.Version) {
			input.VersionId = aws.String(ref.Version)
		} else {
			input.VersionStage = aws.String(ref.Version)
		}
	}

	out, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return SecretValue{}, s.handleError(err, secretName)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = *out.SecretString
	case out.SecretBinary != nil:
		value = string(out.SecretBinary)
	default:
		return SecretValue{}, fmt.Errorf("secret %q has no value", secretName)
	}

	if field != "" {
		if value, err = extractField(value, field); err != nil {
			return SecretValue{}, fmt.Errorf("secret %q: %w", secretName, err)
		}
	}

	sv := SecretValue{
		Value:    value,
		Version:  aws.ToString(out.VersionId),
		Metadata: map[string]string{"secret_name": secretName, "region": s.region},
	}
	if out.CreatedDate != nil {
		sv.UpdatedAt = *out.CreatedDate
	}
	return sv, nil
}

// Store puts a new AWSCURRENT version. With a "#field" key the existing
// JSON document is read, the field replaced and the whole document written.
func (s *AWSSecretsManagerStore) Store(ctx context.Context, ref Reference, value string) (string, error) {
	secretName, field := splitField(ref.Key)

	doc := value
	if field != "" {
		current := ""
		out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretName)})
		if err != nil {
			if !isAWSNotFound(err) {
				return "", s.handleError(err, secretName)
			}
		} else if out.SecretString != nil {
			current = *out.SecretString
		}
		if doc, err = setField(current, field, value); err != nil {
			return "", fmt.Errorf("secret %q: %w", secretName, err)
		}
	}

	out, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(secretName),
		SecretString:       aws.String(doc),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return "", s.handleError(err, secretName)
	}
	return aws.ToString(out.VersionId), nil
}

// Validate lists a single secret to prove the credentials work.
func (s *AWSSecretsManagerStore) Validate(ctx context.Context) error {
	if _, err := s.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)}); err != nil {
		return &AuthError{Store: s.name, Message: err.Error(), Err: err}
	}
	return nil
}

func (s *AWSSecretsManagerStore) handleError(err error, secretName string) error {
	if isAWSNotFound(err) {
		return &NotFoundError{Store: s.name, Key: secretName}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "AccessDenied", "UnrecognizedClientException",
			"InvalidSignatureException", "ExpiredTokenException":
			return &AuthError{Store: s.name, Message: apiErr.ErrorMessage(), Err: err}
		}
	}
	return fmt.Errorf("AWS Secrets Manager error: %w", err)
}

func isAWSNotFound(err error) bool {
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf)
}

// isVersionID reports whether v looks like a version UUID rather than a
// staging label such as AWSPREVIOUS.
func isVersionID(v string) bool {
	return len(v) == 36 && strings.Count(v, "-") == 4
}
