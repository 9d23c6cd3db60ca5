package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/systmms/secretsync/internal/config"
	dserrors "github.com/systmms/secretsync/internal/errors"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/pkg/descriptor"
)

// SSMAPI is the subset of the SSM client the backend uses
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
	DescribeParameters(ctx context.Context, params *ssm.DescribeParametersInput, optFns ...func(*ssm.Options)) (*ssm.DescribeParametersOutput, error)
}

var ssmPermissions = map[string]string{
	"status":      "ssm:GetParameter",
	"create":      "ssm:PutParameter",
	"add-version": "ssm:GetParameter and ssm:PutParameter",
	"delete":      "ssm:DeleteParameter",
	"list":        "ssm:DescribeParameters",
	"validate":    "ssm:DescribeParameters",
}

// AWSSSM stores secrets as SecureString parameters in SSM Parameter Store.
// The parameter version number is the version count.
type AWSSSM struct {
	name     string
	region   string
	prefix   string
	kmsKeyID string
	client   SSMAPI
	identity *callerIdentity
	logger   *logging.Logger
}

// AWSSSMOption configures an AWSSSM
type AWSSSMOption func(*AWSSSM)

// WithSSMClient injects an SSM client (for testing)
func WithSSMClient(client SSMAPI) AWSSSMOption {
	return func(p *AWSSSM) {
		p.client = client
	}
}

// WithSSMSTS injects the STS client used to name the caller
func WithSSMSTS(client STSAPI) AWSSSMOption {
	return func(p *AWSSSM) {
		p.identity = &callerIdentity{client: client}
	}
}

// NewAWSSSM creates the backend. Options: region, profile, endpoint,
// path_prefix (e.g. /secretsync/), kms_key_id.
func NewAWSSSM(ctx context.Context, name string, cfg config.SecretStoreConfig, logger *logging.Logger, opts ...AWSSSMOption) (*AWSSSM, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	settings := awsSettingsFrom(cfg)

	prefix := cfg.String("path_prefix")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	p := &AWSSSM{
		name:     name,
		region:   settings.region,
		prefix:   prefix,
		kmsKeyID: cfg.String("kms_key_id"),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		awsCfg, err := loadAWSConfig(ctx, settings, cfg)
		if err != nil {
			return nil, dserrors.BackendError(TypeAWSSSM, "client setup", err)
		}

		var clientOpts []func(*ssm.Options)
		if settings.endpoint != "" {
			endpoint := settings.endpoint
			clientOpts = append(clientOpts, func(o *ssm.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		p.client = ssm.NewFromConfig(awsCfg, clientOpts...)
		if p.identity == nil {
			p.identity = &callerIdentity{client: sts.NewFromConfig(awsCfg)}
		}
	}
	return p, nil
}

// NewAWSSSMFactory adapts NewAWSSSM to BackendFactory
func NewAWSSSMFactory(ctx context.Context, name string, cfg config.SecretStoreConfig, logger *logging.Logger) (Backend, error) {
	return NewAWSSSM(ctx, name, cfg, logger)
}

// Name returns the store profile name
func (p *AWSSSM) Name() string { return p.name }

// Type returns the backend type
func (p *AWSSSM) Type() string { return TypeAWSSSM }

func (p *AWSSSM) parameterName(key string) string {
	return p.prefix + key
}

// Status reads the parameter metadata without decrypting it
func (p *AWSSSM) Status(ctx context.Context, key string) (descriptor.RemoteSecretStatus, error) {
	result := descriptor.RemoteSecretStatus{RemoteKey: key}

	out, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(p.parameterName(key)),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		if awsErrorKind(err) == KindNotFound {
			return result, nil
		}
		return result, p.classify(ctx, "status", key, err)
	}

	result.Exists = true
	if out.Parameter != nil {
		result.VersionCount = int(out.Parameter.Version)
		if out.Parameter.LastModifiedDate != nil {
			t := *out.Parameter.LastModifiedDate
			result.LastUpdated = &t
		}
	}
	return result, nil
}

// Create writes the first version; an existing parameter is a conflict
func (p *AWSSSM) Create(ctx context.Context, key string, value []byte) error {
	input := &ssm.PutParameterInput{
		Name:      aws.String(p.parameterName(key)),
		Value:     aws.String(string(value)),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(false),
		Tags: []ssmtypes.Tag{
			{Key: aws.String(managedByLabel), Value: aws.String("secretsync")},
		},
	}
	if p.kmsKeyID != "" {
		input.KeyId = aws.String(p.kmsKeyID)
	}

	if _, err := p.client.PutParameter(ctx, input); err != nil {
		return p.classify(ctx, "create", key, err)
	}
	p.logger.Debug("Created SSM parameter %s in %s", p.parameterName(key), p.region)
	return nil
}

// AddVersion overwrites an existing parameter, which appends a version
func (p *AWSSSM) AddVersion(ctx context.Context, key string, value []byte) error {
	// PutParameter with Overwrite creates missing parameters, so check first
	if _, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(p.parameterName(key))}); err != nil {
		return p.classify(ctx, "add-version", key, err)
	}

	input := &ssm.PutParameterInput{
		Name:      aws.String(p.parameterName(key)),
		Value:     aws.String(string(value)),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	}
	if p.kmsKeyID != "" {
		input.KeyId = aws.String(p.kmsKeyID)
	}
	if _, err := p.client.PutParameter(ctx, input); err != nil {
		return p.classify(ctx, "add-version", key, err)
	}
	return nil
}

// Delete removes the parameter and its history
func (p *AWSSSM) Delete(ctx context.Context, key string) error {
	if _, err := p.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(p.parameterName(key))}); err != nil {
		return p.classify(ctx, "delete", key, err)
	}
	return nil
}

// List returns parameter names under the prefix, with the prefix removed
func (p *AWSSSM) List(ctx context.Context) ([]string, error) {
	input := &ssm.DescribeParametersInput{}
	if p.prefix != "" {
		input.ParameterFilters = []ssmtypes.ParameterStringFilter{{
			Key:    aws.String("Name"),
			Option: aws.String("BeginsWith"),
			Values: []string{p.prefix},
		}}
	}

	var keys []string
	paginator := ssm.NewDescribeParametersPaginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, p.classify(ctx, "list", "", err)
		}
		for _, param := range page.Parameters {
			keys = append(keys, strings.TrimPrefix(aws.ToString(param.Name), p.prefix))
		}
	}
	return keys, nil
}

// Validate describes one parameter to check access
func (p *AWSSSM) Validate(ctx context.Context) error {
	if _, err := p.client.DescribeParameters(ctx, &ssm.DescribeParametersInput{MaxResults: aws.Int32(1)}); err != nil {
		return p.classify(ctx, "validate", "", err)
	}
	return nil
}

func (p *AWSSSM) classify(ctx context.Context, op, key string, err error) error {
	permission := ssmPermissions[op]
	if key != "" {
		permission = fmt.Sprintf("%s on parameter %s in %s", permission, p.parameterName(key), p.region)
	}
	return classifyAWS(ctx, TypeAWSSSM, op, key, permission, p.identity, err)
}
