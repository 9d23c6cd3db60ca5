package fakes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/systmms/secretsync/internal/remote"
)

// AccessDenied returns an API error shaped like an IAM denial
func AccessDenied(action string) error {
	return &smithy.GenericAPIError{
		Code:    "AccessDeniedException",
		Message: fmt.Sprintf("User is not authorized to perform: %s", action),
	}
}

// Throttled returns an API error shaped like a rate limit
func Throttled() error {
	return &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}
}

// FakeSecretsManagerClient is an in-memory remote.SecretsManagerAPI
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their data
	Secrets map[string]*SecretData
	// Errors maps secret names to an error returned by every call on that secret
	Errors map[string]error
	// ListError is returned by ListSecrets
	ListError error
	// PageSize bounds list results per page; zero returns everything at once
	PageSize int

	// DescribeSecretFunc allows custom behavior for DescribeSecret
	DescribeSecretFunc func(ctx context.Context, params *secretsmanager.DescribeSecretInput) (*secretsmanager.DescribeSecretOutput, error)
}

// SecretData holds the data for a fake secret
type SecretData struct {
	Versions        []string
	CreatedDate     time.Time
	LastChangedDate time.Time
	KmsKeyId        *string
	Tags            []types.Tag
	DeletedDate     *time.Time
}

var _ remote.SecretsManagerAPI = (*FakeSecretsManagerClient)(nil)

// NewFakeSecretsManagerClient creates an empty fake
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]*SecretData),
		Errors:  make(map[string]error),
	}
}

// AddSecretString adds a secret with one version
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	f.Secrets[name] = &SecretData{Versions: []string{value}, CreatedDate: now, LastChangedDate: now}
}

// AddError makes every call on a secret fail with err
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// Values returns the stored versions of a secret, oldest first
func (f *FakeSecretsManagerClient) Values(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Secrets[name]; ok {
		return append([]string(nil), s.Versions...)
	}
	return nil
}

func (f *FakeSecretsManagerClient) lookup(name string) (*SecretData, error) {
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	data, ok := f.Secrets[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
		}
	}
	return data, nil
}

// DescribeSecret returns secret metadata
func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	if f.DescribeSecretFunc != nil {
		return f.DescribeSecretFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.lookup(name)
	if err != nil {
		return nil, err
	}

	changed := data.LastChangedDate
	created := data.CreatedDate
	return &secretsmanager.DescribeSecretOutput{
		ARN:             aws.String(fmt.Sprintf("arn:aws:secretsmanager:us-east-1:123456789012:secret:%s", name)),
		Name:            params.SecretId,
		CreatedDate:     &created,
		LastChangedDate: &changed,
		KmsKeyId:        data.KmsKeyId,
		Tags:            data.Tags,
		DeletedDate:     data.DeletedDate,
	}, nil
}

// ListSecretVersionIds lists one entry per stored version
func (f *FakeSecretsManagerClient) ListSecretVersionIds(ctx context.Context, params *secretsmanager.ListSecretVersionIdsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.lookup(aws.ToString(params.SecretId))
	if err != nil {
		return nil, err
	}

	entries := make([]types.SecretVersionsListEntry, 0, len(data.Versions))
	for i := range data.Versions {
		stages := []string{"AWSPREVIOUS"}
		if i == len(data.Versions)-1 {
			stages = []string{"AWSCURRENT"}
		}
		entries = append(entries, types.SecretVersionsListEntry{
			VersionId:     aws.String(fmt.Sprintf("v%d", i+1)),
			VersionStages: stages,
		})
	}

	page, next := paginate(len(entries), f.PageSize, params.NextToken)
	return &secretsmanager.ListSecretVersionIdsOutput{
		Name:      params.SecretId,
		Versions:  entries[page[0]:page[1]],
		NextToken: next,
	}, nil
}

// CreateSecret creates a secret with its first version
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	if _, ok := f.Secrets[name]; ok {
		return nil, &types.ResourceExistsException{
			Message: aws.String(fmt.Sprintf("The operation failed because the secret %s already exists.", name)),
		}
	}

	now := time.Now()
	f.Secrets[name] = &SecretData{
		Versions:        []string{aws.ToString(params.SecretString)},
		CreatedDate:     now,
		LastChangedDate: now,
		KmsKeyId:        params.KmsKeyId,
		Tags:            params.Tags,
	}
	return &secretsmanager.CreateSecretOutput{Name: params.Name, VersionId: aws.String("v1")}, nil
}

// PutSecretValue appends a version
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.lookup(aws.ToString(params.SecretId))
	if err != nil {
		return nil, err
	}
	data.Versions = append(data.Versions, aws.ToString(params.SecretString))
	data.LastChangedDate = time.Now()
	return &secretsmanager.PutSecretValueOutput{
		Name:      params.SecretId,
		VersionId: aws.String(fmt.Sprintf("v%d", len(data.Versions))),
	}, nil
}

// DeleteSecret removes a secret immediately
func (f *FakeSecretsManagerClient) DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if _, err := f.lookup(name); err != nil {
		return nil, err
	}
	delete(f.Secrets, name)
	return &secretsmanager.DeleteSecretOutput{Name: params.SecretId}, nil
}

// ListSecrets lists secrets in name order
func (f *FakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListError != nil {
		return nil, f.ListError
	}

	names := make([]string, 0, len(f.Secrets))
	for name := range f.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	size := f.PageSize
	if params.MaxResults != nil && (size == 0 || int(*params.MaxResults) < size) {
		size = int(*params.MaxResults)
	}
	page, next := paginate(len(names), size, params.NextToken)

	out := &secretsmanager.ListSecretsOutput{NextToken: next}
	for _, name := range names[page[0]:page[1]] {
		out.SecretList = append(out.SecretList, types.SecretListEntry{Name: aws.String(name)})
	}
	return out, nil
}

// paginate returns the [start, end) window for a numeric next token
func paginate(total, size int, token *string) ([2]int, *string) {
	start := 0
	if token != nil {
		_, _ = fmt.Sscanf(*token, "%d", &start)
	}
	if start > total {
		start = total
	}
	if size <= 0 || start+size >= total {
		return [2]int{start, total}, nil
	}
	next := fmt.Sprintf("%d", start+size)
	return [2]int{start, start + size}, &next
}

// FakeSSMClient is an in-memory remote.SSMAPI
type FakeSSMClient struct {
	mu sync.Mutex

	// Parameters maps parameter names to their data
	Parameters map[string]*ParameterData
	// Errors maps parameter names to an error returned by every call on that parameter
	Errors map[string]error
	// PageSize bounds describe results per page; zero returns everything at once
	PageSize int
}

// ParameterData holds the data for a fake parameter
type ParameterData struct {
	Values           []string
	Type             ssmtypes.ParameterType
	KeyId            *string
	LastModifiedDate time.Time
}

var _ remote.SSMAPI = (*FakeSSMClient)(nil)

// NewFakeSSMClient creates an empty fake
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters: make(map[string]*ParameterData),
		Errors:     make(map[string]error),
	}
}

// AddSecureStringParameter adds a parameter with one version
func (f *FakeSSMClient) AddSecureStringParameter(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Parameters[name] = &ParameterData{
		Values:           []string{value},
		Type:             ssmtypes.ParameterTypeSecureString,
		LastModifiedDate: time.Now(),
	}
}

// AddError makes every call on a parameter fail with err
func (f *FakeSSMClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// Values returns a parameter's version history, oldest first
func (f *FakeSSMClient) Values(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Parameters[name]; ok {
		return append([]string(nil), p.Values...)
	}
	return nil
}

func (f *FakeSSMClient) lookup(name string) (*ParameterData, error) {
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	data, ok := f.Parameters[name]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String(fmt.Sprintf("Parameter %s not found", name))}
	}
	return data, nil
}

// GetParameter returns the latest version
func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	data, err := f.lookup(name)
	if err != nil {
		return nil, err
	}

	modified := data.LastModifiedDate
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:             params.Name,
			Type:             data.Type,
			Value:            aws.String(data.Values[len(data.Values)-1]),
			Version:          int64(len(data.Values)),
			LastModifiedDate: &modified,
		},
	}, nil
}

// PutParameter creates a parameter or, with Overwrite, appends a version
func (f *FakeSSMClient) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}

	data, exists := f.Parameters[name]
	if exists && !aws.ToBool(params.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String("The parameter already exists.")}
	}
	if exists && len(params.Tags) > 0 {
		return nil, &smithy.GenericAPIError{Code: "ValidationException", Message: "tags and overwrite can't be used together"}
	}

	if !exists {
		data = &ParameterData{Type: params.Type}
		f.Parameters[name] = data
	}
	data.Values = append(data.Values, aws.ToString(params.Value))
	data.KeyId = params.KeyId
	data.LastModifiedDate = time.Now()
	return &ssm.PutParameterOutput{Version: int64(len(data.Values))}, nil
}

// DeleteParameter removes a parameter
func (f *FakeSSMClient) DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if _, err := f.lookup(name); err != nil {
		return nil, err
	}
	delete(f.Parameters, name)
	return &ssm.DeleteParameterOutput{}, nil
}

// DescribeParameters lists parameters in name order, honoring a Name BeginsWith filter
func (f *FakeSSMClient) DescribeParameters(ctx context.Context, params *ssm.DescribeParametersInput, optFns ...func(*ssm.Options)) (*ssm.DescribeParametersOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := ""
	for _, filter := range params.ParameterFilters {
		if aws.ToString(filter.Key) == "Name" && aws.ToString(filter.Option) == "BeginsWith" && len(filter.Values) > 0 {
			prefix = filter.Values[0]
		}
	}

	var names []string
	for name := range f.Parameters {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	size := f.PageSize
	if params.MaxResults != nil && (size == 0 || int(*params.MaxResults) < size) {
		size = int(*params.MaxResults)
	}
	page, next := paginate(len(names), size, params.NextToken)

	out := &ssm.DescribeParametersOutput{NextToken: next}
	for _, name := range names[page[0]:page[1]] {
		out.Parameters = append(out.Parameters, ssmtypes.ParameterMetadata{
			Name:    aws.String(name),
			Type:    f.Parameters[name].Type,
			Version: int64(len(f.Parameters[name].Values)),
		})
	}
	return out, nil
}

// FakeSTSClient returns a fixed caller identity
type FakeSTSClient struct {
	Arn   string
	Err   error
	Calls int
}

var _ remote.STSAPI = (*FakeSTSClient)(nil)

// GetCallerIdentity returns the configured ARN
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Arn:     aws.String(f.Arn),
		Account: aws.String("123456789012"),
	}, nil
}
