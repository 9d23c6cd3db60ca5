package fakes

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/systmms/secretsync/internal/remote"
)

const fakeVaultURL = "https://test-vault.vault.azure.net"

// AzureNotFound returns the error Key Vault sends for a missing secret
func AzureNotFound(name string) error {
	return &azcore.ResponseError{
		StatusCode: http.StatusNotFound,
		ErrorCode:  "SecretNotFound",
	}
}

// AzureStatus returns a Key Vault error with the given HTTP status
func AzureStatus(code int, errorCode string) error {
	return &azcore.ResponseError{StatusCode: code, ErrorCode: errorCode}
}

// FakeAzureKeyVaultClient is an in-memory remote.AzureKeyVaultAPI
type FakeAzureKeyVaultClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their data
	Secrets map[string]*AzureSecretData
	// Errors maps secret names to an error returned by every call on that secret
	Errors map[string]error
	// ListError is returned by the list pager
	ListError error

	// GetSecretFunc allows custom behavior for GetSecret
	GetSecretFunc func(ctx context.Context, name string, version string) (azsecrets.GetSecretResponse, error)
}

// AzureSecretData holds the versions of a fake Key Vault secret, oldest first
type AzureSecretData struct {
	Versions []*AzureSecretVersion
	Tags     map[string]*string
}

// AzureSecretVersion holds version-specific data for a secret
type AzureSecretVersion struct {
	Version string
	Value   string
	Updated time.Time
}

var _ remote.AzureKeyVaultAPI = (*FakeAzureKeyVaultClient)(nil)

// NewFakeAzureKeyVaultClient creates an empty fake
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		Secrets: make(map[string]*AzureSecretData),
		Errors:  make(map[string]error),
	}
}

// AddSecretString adds a secret with one version
func (f *FakeAzureKeyVaultClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = &AzureSecretData{}
	f.appendVersion(name, value)
}

// AddError makes every call on a secret fail with err
func (f *FakeAzureKeyVaultClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// Values returns a secret's version history, oldest first
func (f *FakeAzureKeyVaultClient) Values(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.Secrets[name]
	if !ok {
		return nil
	}
	values := make([]string, 0, len(data.Versions))
	for _, v := range data.Versions {
		values = append(values, v.Value)
	}
	return values
}

func (f *FakeAzureKeyVaultClient) appendVersion(name, value string) *AzureSecretVersion {
	data := f.Secrets[name]
	v := &AzureSecretVersion{
		Version: fmt.Sprintf("%032d", len(data.Versions)+1),
		Value:   value,
		Updated: time.Now(),
	}
	data.Versions = append(data.Versions, v)
	return v
}

func secretID(name, version string) *azsecrets.ID {
	id := azsecrets.ID(fmt.Sprintf("%s/secrets/%s/%s", fakeVaultURL, name, version))
	return &id
}

func (f *FakeAzureKeyVaultClient) lookup(name string) (*AzureSecretData, error) {
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	data, ok := f.Secrets[name]
	if !ok || len(data.Versions) == 0 {
		return nil, AzureNotFound(name)
	}
	return data, nil
}

// GetSecret returns the named version, or the latest when version is empty
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	if f.GetSecretFunc != nil {
		return f.GetSecretFunc(ctx, name, version)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.lookup(name)
	if err != nil {
		return azsecrets.GetSecretResponse{}, err
	}

	v := data.Versions[len(data.Versions)-1]
	if version != "" {
		v = nil
		for _, candidate := range data.Versions {
			if candidate.Version == version {
				v = candidate
			}
		}
		if v == nil {
			return azsecrets.GetSecretResponse{}, AzureNotFound(name)
		}
	}

	updated := v.Updated
	return azsecrets.GetSecretResponse{
		Secret: azsecrets.Secret{
			ID:    secretID(name, v.Version),
			Value: to.Ptr(v.Value),
			Tags:  data.Tags,
			Attributes: &azsecrets.SecretAttributes{
				Enabled: to.Ptr(true),
				Updated: &updated,
			},
		},
	}, nil
}

// SetSecret creates the secret or appends a version
func (f *FakeAzureKeyVaultClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Errors[name]; ok {
		return azsecrets.SetSecretResponse{}, err
	}
	if _, ok := f.Secrets[name]; !ok {
		f.Secrets[name] = &AzureSecretData{}
	}
	if parameters.Tags != nil {
		f.Secrets[name].Tags = parameters.Tags
	}

	value := ""
	if parameters.Value != nil {
		value = *parameters.Value
	}
	v := f.appendVersion(name, value)
	return azsecrets.SetSecretResponse{
		Secret: azsecrets.Secret{ID: secretID(name, v.Version), Value: parameters.Value},
	}, nil
}

// DeleteSecret removes the secret
func (f *FakeAzureKeyVaultClient) DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.lookup(name); err != nil {
		return azsecrets.DeleteSecretResponse{}, err
	}
	delete(f.Secrets, name)
	return azsecrets.DeleteSecretResponse{}, nil
}

// NewListSecretPropertiesPager returns a single page of all secrets in name order
func (f *FakeAzureKeyVaultClient) NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse] {
	done := false
	return runtime.NewPager(runtime.PagingHandler[azsecrets.ListSecretPropertiesResponse]{
		More: func(azsecrets.ListSecretPropertiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *azsecrets.ListSecretPropertiesResponse) (azsecrets.ListSecretPropertiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()

			if done {
				return azsecrets.ListSecretPropertiesResponse{}, nil
			}
			done = true
			if f.ListError != nil {
				return azsecrets.ListSecretPropertiesResponse{}, f.ListError
			}

			names := make([]string, 0, len(f.Secrets))
			for name := range f.Secrets {
				names = append(names, name)
			}
			sort.Strings(names)

			var resp azsecrets.ListSecretPropertiesResponse
			for _, name := range names {
				id := azsecrets.ID(fmt.Sprintf("%s/secrets/%s", fakeVaultURL, name))
				resp.Value = append(resp.Value, &azsecrets.SecretProperties{ID: &id, Tags: f.Secrets[name].Tags})
			}
			return resp, nil
		},
	})
}

// NewListSecretPropertiesVersionsPager returns a single page of a secret's versions
func (f *FakeAzureKeyVaultClient) NewListSecretPropertiesVersionsPager(name string, options *azsecrets.ListSecretPropertiesVersionsOptions) *runtime.Pager[azsecrets.ListSecretPropertiesVersionsResponse] {
	return runtime.NewPager(runtime.PagingHandler[azsecrets.ListSecretPropertiesVersionsResponse]{
		More: func(azsecrets.ListSecretPropertiesVersionsResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *azsecrets.ListSecretPropertiesVersionsResponse) (azsecrets.ListSecretPropertiesVersionsResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()

			data, err := f.lookup(name)
			if err != nil {
				return azsecrets.ListSecretPropertiesVersionsResponse{}, err
			}

			var resp azsecrets.ListSecretPropertiesVersionsResponse
			for _, v := range data.Versions {
				updated := v.Updated
				resp.Value = append(resp.Value, &azsecrets.SecretProperties{
					ID:         secretID(name, v.Version),
					Attributes: &azsecrets.SecretAttributes{Updated: &updated},
				})
			}
			return resp, nil
		},
	})
}
