package remote

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/systmms/secretsync/internal/config"
	dserrors "github.com/systmms/secretsync/internal/errors"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/pkg/descriptor"
)

// SecretsManagerAPI is the subset of the Secrets Manager client the backend uses
type SecretsManagerAPI interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	ListSecretVersionIds(ctx context.Context, params *secretsmanager.ListSecretVersionIdsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

var secretsManagerPermissions = map[string]string{
	"status":      "secretsmanager:DescribeSecret and secretsmanager:ListSecretVersionIds",
	"create":      "secretsmanager:CreateSecret",
	"add-version": "secretsmanager:PutSecretValue",
	"delete":      "secretsmanager:DeleteSecret",
	"list":        "secretsmanager:ListSecrets",
	"validate":    "secretsmanager:ListSecrets",
}

// AWSSecretsManager stores secrets in AWS Secrets Manager
type AWSSecretsManager struct {
	name        string
	region      string
	kmsKeyID    string
	forceDelete bool
	client      SecretsManagerAPI
	identity    *callerIdentity
	logger      *logging.Logger
}

// AWSSecretsManagerOption configures an AWSSecretsManager
type AWSSecretsManagerOption func(*AWSSecretsManager)

// WithSecretsManagerClient injects a Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerAPI) AWSSecretsManagerOption {
	return func(p *AWSSecretsManager) {
		p.client = client
	}
}

// WithSecretsManagerSTS injects the STS client used to name the caller
func WithSecretsManagerSTS(client STSAPI) AWSSecretsManagerOption {
	return func(p *AWSSecretsManager) {
		p.identity = &callerIdentity{client: client}
	}
}

// NewAWSSecretsManager creates the backend. Options: region, profile,
// endpoint, kms_key_id, force_delete, access_key_id, secret_access_key.
func NewAWSSecretsManager(ctx context.Context, name string, cfg config.SecretStoreConfig, logger *logging.Logger, opts ...AWSSecretsManagerOption) (*AWSSecretsManager, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	settings := awsSettingsFrom(cfg)

	p := &AWSSecretsManager{
		name:     name,
		region:   settings.region,
		kmsKeyID: cfg.String("kms_key_id"),
		logger:   logger,
	}
	if force, ok := cfg.Bool("force_delete"); ok {
		p.forceDelete = force
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		awsCfg, err := loadAWSConfig(ctx, settings, cfg)
		if err != nil {
			return nil, dserrors.BackendError(TypeAWSSecretsManager, "client setup", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if settings.endpoint != "" {
			endpoint := settings.endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		p.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
		if p.identity == nil {
			p.identity = &callerIdentity{client: sts.NewFromConfig(awsCfg)}
		}
	}
	return p, nil
}

// NewAWSSecretsManagerFactory adapts NewAWSSecretsManager to BackendFactory
func NewAWSSecretsManagerFactory(ctx context.Context, name string, cfg config.SecretStoreConfig, logger *logging.Logger) (Backend, error) {
	return NewAWSSecretsManager(ctx, name, cfg, logger)
}

// Name returns the store profile name
func (p *AWSSecretsManager) Name() string { return p.name }

// Type returns the backend type
func (p *AWSSecretsManager) Type() string { return TypeAWSSecretsManager }

// Status reports existence, version count, and last change time. Secrets
// scheduled for deletion count as existing.
func (p *AWSSecretsManager) Status(ctx context.Context, key string) (descriptor.RemoteSecretStatus, error) {
	result := descriptor.RemoteSecretStatus{RemoteKey: key}

	out, err := p.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(key)})
	if err != nil {
		if awsErrorKind(err) == KindNotFound {
			return result, nil
		}
		return result, p.classify(ctx, "status", key, err)
	}
	result.Exists = true
	if out.LastChangedDate != nil {
		t := *out.LastChangedDate
		result.LastUpdated = &t
	}

	paginator := secretsmanager.NewListSecretVersionIdsPaginator(p.client, &secretsmanager.ListSecretVersionIdsInput{
		SecretId:          aws.String(key),
		IncludeDeprecated: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return result, p.classify(ctx, "status", key, err)
		}
		result.VersionCount += len(page.Versions)
	}
	return result, nil
}

// Create creates the secret with its first value
func (p *AWSSecretsManager) Create(ctx context.Context, key string, value []byte) error {
	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(key),
		SecretString: aws.String(string(value)),
		Tags: []types.Tag{
			{Key: aws.String(managedByLabel), Value: aws.String("secretsync")},
		},
	}
	if p.kmsKeyID != "" {
		input.KmsKeyId = aws.String(p.kmsKeyID)
	}

	if _, err := p.client.CreateSecret(ctx, input); err != nil {
		return p.classify(ctx, "create", key, err)
	}
	p.logger.Debug("Created AWS secret %s in %s", key, p.region)
	return nil
}

// AddVersion stores a new AWSCURRENT value
func (p *AWSSecretsManager) AddVersion(ctx context.Context, key string, value []byte) error {
	_, err := p.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(key),
		SecretString: aws.String(string(value)),
	})
	if err != nil {
		return p.classify(ctx, "add-version", key, err)
	}
	return nil
}

// Delete schedules the secret for deletion, or deletes it immediately with force_delete
func (p *AWSSecretsManager) Delete(ctx context.Context, key string) error {
	input := &secretsmanager.DeleteSecretInput{SecretId: aws.String(key)}
	if p.forceDelete {
		input.ForceDeleteWithoutRecovery = aws.Bool(true)
	}
	if _, err := p.client.DeleteSecret(ctx, input); err != nil {
		return p.classify(ctx, "delete", key, err)
	}
	return nil
}

// List returns every secret name in the region
func (p *AWSSecretsManager) List(ctx context.Context) ([]string, error) {
	var keys []string
	paginator := secretsmanager.NewListSecretsPaginator(p.client, &secretsmanager.ListSecretsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, p.classify(ctx, "list", "", err)
		}
		for _, s := range page.SecretList {
			keys = append(keys, aws.ToString(s.Name))
		}
	}
	return keys, nil
}

// Validate lists one secret to check access
func (p *AWSSecretsManager) Validate(ctx context.Context) error {
	if _, err := p.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)}); err != nil {
		return p.classify(ctx, "validate", "", err)
	}
	return nil
}

func (p *AWSSecretsManager) classify(ctx context.Context, op, key string, err error) error {
	permission := secretsManagerPermissions[op]
	if key != "" {
		permission = fmt.Sprintf("%s on secret %s in %s", permission, key, p.region)
	}
	return classifyAWS(ctx, TypeAWSSecretsManager, op, key, permission, p.identity, err)
}
