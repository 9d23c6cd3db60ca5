package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/systmms/secretsync/internal/config"
)

// STSAPI is the subset of the STS client used to name the caller in remediation text
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// awsSettings are the options shared by the AWS backends
type awsSettings struct {
	region   string
	profile  string
	endpoint string
}

func awsSettingsFrom(cfg config.SecretStoreConfig) awsSettings {
	s := awsSettings{
		region:   cfg.String("region"),
		profile:  cfg.String("profile"),
		endpoint: cfg.String("endpoint"),
	}
	if s.region == "" {
		s.region = "us-east-1"
	}
	return s
}

// loadAWSConfig loads the default credential chain. Static keys in the store
// config take precedence, for LocalStack and tests.
func loadAWSConfig(ctx context.Context, s awsSettings, cfg config.SecretStoreConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.region)}

	if s.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s.profile))
	}

	accessKeyID, secretAccessKey := cfg.String("access_key_id"), cfg.String("secret_access_key")
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, cfg.String("session_token")),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// callerIdentity resolves and caches the caller ARN
type callerIdentity struct {
	client STSAPI
	once   sync.Once
	arn    string
}

func (c *callerIdentity) get(ctx context.Context) string {
	if c == nil || c.client == nil {
		return ""
	}
	c.once.Do(func() {
		out, err := c.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err == nil && out.Arn != nil {
			c.arn = *out.Arn
		}
	})
	return c.arn
}

// awsErrorKind classifies an AWS SDK error by its API error code
func awsErrorKind(err error) ErrorKind {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException", "ParameterNotFound":
			return KindNotFound
		case "ResourceExistsException", "ParameterAlreadyExists":
			return KindConflict
		case "AccessDeniedException", "AccessDenied":
			return KindPermission
		case "UnrecognizedClientException", "InvalidClientTokenId", "ExpiredTokenException",
			"ExpiredToken", "InvalidSignatureException", "IncompleteSignature":
			return KindAuth
		case "ThrottlingException", "Throttling", "TooManyRequestsException", "ThrottledException",
			"RequestLimitExceeded", "TooManyUpdates", "InternalServiceError", "InternalServerError",
			"InternalFailure", "ServiceUnavailable":
			return KindTransient
		}
		return KindOther
	}

	msg := err.Error()
	if strings.Contains(msg, "failed to retrieve credentials") || strings.Contains(msg, "no EC2 IMDS role found") {
		return KindAuth
	}
	return KindOther
}

// classifyAWS builds an Error, naming the caller for permission failures
func classifyAWS(ctx context.Context, backend, op, key, permission string, identity *callerIdentity, err error) error {
	e := newError(awsErrorKind(err), backend, op, key, err)
	if e.Kind == KindPermission {
		e.Permission = permission
		e.Identity = identity.get(ctx)
	}
	return e
}
