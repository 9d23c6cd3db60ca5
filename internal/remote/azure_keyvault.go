package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/systmms/secretsync/internal/config"
	dserrors "github.com/systmms/secretsync/internal/errors"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/pkg/descriptor"
)

// AzureKeyVaultAPI is the subset of the azsecrets client the backend uses
type AzureKeyVaultAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
	NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse]
	NewListSecretPropertiesVersionsPager(name string, options *azsecrets.ListSecretPropertiesVersionsOptions) *runtime.Pager[azsecrets.ListSecretPropertiesVersionsResponse]
}

// AzureKeyVault stores secrets in an Azure Key Vault
type AzureKeyVault struct {
	name     string
	vaultURL string
	identity string
	client   AzureKeyVaultAPI
	logger   *logging.Logger
}

// AzureOption configures an AzureKeyVault
type AzureOption func(*AzureKeyVault)

// WithAzureClient injects a Key Vault client (for testing)
func WithAzureClient(client AzureKeyVaultAPI) AzureOption {
	return func(p *AzureKeyVault) {
		p.client = client
	}
}

// NewAzureKeyVault creates the backend. Options: vault_url (required),
// tenant_id, client_id, client_secret, managed_identity.
func NewAzureKeyVault(ctx context.Context, name string, cfg config.SecretStoreConfig, logger *logging.Logger, opts ...AzureOption) (*AzureKeyVault, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	vaultURL := cfg.String("vault_url")
	if vaultURL == "" {
		return nil, dserrors.ConfigError{
			Field:      fmt.Sprintf("secretStores.%s.vault_url", name),
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Set vault_url to https://<vault-name>.vault.azure.net/",
		}
	}

	p := &AzureKeyVault{
		name:     name,
		vaultURL: vaultURL,
		identity: cfg.String("client_id"),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cred, err := azureCredential(cfg)
		if err != nil {
			return nil, dserrors.BackendError(TypeAzureKeyVault, "client setup", err)
		}
		client, err := azsecrets.NewClient(vaultURL, cred, nil)
		if err != nil {
			return nil, dserrors.BackendError(TypeAzureKeyVault, "client setup", err)
		}
		p.client = client
	}
	return p, nil
}

// NewAzureKeyVaultFactory adapts NewAzureKeyVault to BackendFactory
func NewAzureKeyVaultFactory(ctx context.Context, name string, cfg config.SecretStoreConfig, logger *logging.Logger) (Backend, error) {
	return NewAzureKeyVault(ctx, name, cfg, logger)
}

func azureCredential(cfg config.SecretStoreConfig) (azcore.TokenCredential, error) {
	tenantID, clientID, clientSecret := cfg.String("tenant_id"), cfg.String("client_id"), cfg.String("client_secret")

	if managed, _ := cfg.Bool("managed_identity"); managed {
		var opts *azidentity.ManagedIdentityCredentialOptions
		if clientID != "" {
			opts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(clientID)}
		}
		return azidentity.NewManagedIdentityCredential(opts)
	}

	if clientSecret != "" {
		return azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	}

	return azidentity.NewDefaultAzureCredential(nil)
}

// Name returns the store profile name
func (p *AzureKeyVault) Name() string { return p.name }

// Type returns the backend type
func (p *AzureKeyVault) Type() string { return TypeAzureKeyVault }

// Status reads the current version's attributes and counts versions
func (p *AzureKeyVault) Status(ctx context.Context, key string) (descriptor.RemoteSecretStatus, error) {
	result := descriptor.RemoteSecretStatus{RemoteKey: key}

	resp, err := p.client.GetSecret(ctx, key, "", nil)
	if err != nil {
		if azureErrorKind(err) == KindNotFound {
			return result, nil
		}
		return result, p.classify("status", key, err)
	}
	result.Exists = true
	if resp.Attributes != nil && resp.Attributes.Updated != nil {
		t := *resp.Attributes.Updated
		result.LastUpdated = &t
	}

	var latest time.Time
	pager := p.client.NewListSecretPropertiesVersionsPager(key, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return result, p.classify("status", key, err)
		}
		for _, v := range page.Value {
			result.VersionCount++
			if v != nil && v.Attributes != nil && v.Attributes.Updated != nil && v.Attributes.Updated.After(latest) {
				latest = *v.Attributes.Updated
			}
		}
	}
	if result.LastUpdated == nil && !latest.IsZero() {
		result.LastUpdated = &latest
	}
	return result, nil
}

// Create sets the first version. Key Vault appends on set, so existence is checked first.
func (p *AzureKeyVault) Create(ctx context.Context, key string, value []byte) error {
	_, err := p.client.GetSecret(ctx, key, "", nil)
	if err == nil {
		return &Error{Kind: KindConflict, Op: "create", Backend: TypeAzureKeyVault, Key: key}
	}
	if azureErrorKind(err) != KindNotFound {
		return p.classify("create", key, err)
	}

	if err := p.set(ctx, key, value, true); err != nil {
		return p.classify("create", key, err)
	}
	p.logger.Debug("Created Key Vault secret %s in %s", key, p.vaultURL)
	return nil
}

// AddVersion sets a new version of an existing secret
func (p *AzureKeyVault) AddVersion(ctx context.Context, key string, value []byte) error {
	if _, err := p.client.GetSecret(ctx, key, "", nil); err != nil {
		return p.classify("add-version", key, err)
	}
	if err := p.set(ctx, key, value, false); err != nil {
		return p.classify("add-version", key, err)
	}
	return nil
}

func (p *AzureKeyVault) set(ctx context.Context, key string, value []byte, tag bool) error {
	v := string(value)
	params := azsecrets.SetSecretParameters{Value: &v}
	if tag {
		managedBy := "secretsync"
		params.Tags = map[string]*string{managedByLabel: &managedBy}
	}
	_, err := p.client.SetSecret(ctx, key, params, nil)
	return err
}

// Delete soft-deletes the secret
func (p *AzureKeyVault) Delete(ctx context.Context, key string) error {
	if _, err := p.client.DeleteSecret(ctx, key, nil); err != nil {
		return p.classify("delete", key, err)
	}
	return nil
}

// List returns every secret name in the vault
func (p *AzureKeyVault) List(ctx context.Context) ([]string, error) {
	var keys []string
	pager := p.client.NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, p.classify("list", "", err)
		}
		for _, s := range page.Value {
			if s != nil && s.ID != nil {
				keys = append(keys, s.ID.Name())
			}
		}
	}
	return keys, nil
}

// Validate fetches the first page of secret properties
func (p *AzureKeyVault) Validate(ctx context.Context) error {
	pager := p.client.NewListSecretPropertiesPager(nil)
	if pager.More() {
		if _, err := pager.NextPage(ctx); err != nil {
			return p.classify("validate", "", err)
		}
	}
	return nil
}

func azureErrorKind(err error) ErrorKind {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return KindNotFound
		case http.StatusConflict:
			return KindConflict
		case http.StatusForbidden:
			return KindPermission
		case http.StatusUnauthorized:
			return KindAuth
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return KindTransient
		}
		return KindOther
	}

	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return KindAuth
	}
	return KindOther
}

func (p *AzureKeyVault) classify(op, key string, err error) error {
	e := newError(azureErrorKind(err), TypeAzureKeyVault, op, key, err)
	if e.Kind == KindPermission {
		e.Permission = fmt.Sprintf("the Key Vault Secrets Officer role on %s", p.vaultURL)
		e.Identity = p.identity
	}
	return e
}
