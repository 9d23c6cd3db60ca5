package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/systmms/secretsync/internal/config"
	dserrors "github.com/systmms/secretsync/internal/errors"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/pkg/descriptor"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPSecretManagerAPI is the subset of the Secret Manager client the backend uses
type GCPSecretManagerAPI interface {
	GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error)
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error
	ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) GCPSecretIterator
	ListSecretVersions(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest) GCPSecretVersionIterator
}

// GCPSecretIterator iterates over secrets; Next returns iterator.Done at the end
type GCPSecretIterator interface {
	Next() (*secretmanagerpb.Secret, error)
}

// GCPSecretVersionIterator iterates over secret versions
type GCPSecretVersionIterator interface {
	Next() (*secretmanagerpb.SecretVersion, error)
}

// gcpPermissions names the IAM permission each operation needs
var gcpPermissions = map[string]string{
	"status":      "secretmanager.secrets.get and secretmanager.versions.list",
	"create":      "secretmanager.secrets.create and secretmanager.versions.add",
	"add-version": "secretmanager.versions.add",
	"delete":      "secretmanager.secrets.delete",
	"list":        "secretmanager.secrets.list",
	"validate":    "secretmanager.secrets.list",
}

// managedByLabel marks secrets created by this tool
const managedByLabel = "managed-by"

// GCPSecretManager stores secrets in Google Cloud Secret Manager
type GCPSecretManager struct {
	name      string
	projectID string
	identity  string
	client    GCPSecretManagerAPI
	logger    *logging.Logger
}

// GCPOption configures a GCPSecretManager
type GCPOption func(*GCPSecretManager)

// WithGCPClient injects a Secret Manager client (for testing)
func WithGCPClient(client GCPSecretManagerAPI) GCPOption {
	return func(p *GCPSecretManager) {
		p.client = client
	}
}

// NewGCPSecretManager creates the backend. Options:
//
//	project_id                   GCP project (falls back to GOOGLE_CLOUD_PROJECT, GCLOUD_PROJECT, GCP_PROJECT)
//	service_account_key_path     credentials file
//	impersonate_service_account  service account to impersonate
func NewGCPSecretManager(ctx context.Context, name string, cfg config.SecretStoreConfig, logger *logging.Logger, opts ...GCPOption) (*GCPSecretManager, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	projectID := cfg.String("project_id")
	if projectID == "" {
		projectID = gcpProjectFromEnv()
	}
	if projectID == "" {
		return nil, dserrors.ConfigError{
			Field:      fmt.Sprintf("secretStores.%s.project_id", name),
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set project_id in secretsync.yaml or the GOOGLE_CLOUD_PROJECT environment variable",
		}
	}

	p := &GCPSecretManager{
		name:      name,
		projectID: projectID,
		identity:  cfg.String("impersonate_service_account"),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := newGCPClient(ctx, cfg)
		if err != nil {
			return nil, dserrors.BackendError(TypeGCPSecretManager, "client setup", err)
		}
		p.client = client
	}
	return p, nil
}

// NewGCPSecretManagerFactory adapts NewGCPSecretManager to BackendFactory
func NewGCPSecretManagerFactory(ctx context.Context, name string, cfg config.SecretStoreConfig, logger *logging.Logger) (Backend, error) {
	return NewGCPSecretManager(ctx, name, cfg, logger)
}

func newGCPClient(ctx context.Context, cfg config.SecretStoreConfig) (GCPSecretManagerAPI, error) {
	var clientOptions []option.ClientOption

	if keyPath := cfg.String("service_account_key_path"); keyPath != "" {
		if strings.HasPrefix(keyPath, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			keyPath = filepath.Join(home, keyPath[2:])
		}
		clientOptions = append(clientOptions, option.WithCredentialsFile(keyPath))
	}

	if target := cfg.String("impersonate_service_account"); target != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: target,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		clientOptions = append(clientOptions, option.WithTokenSource(ts))
	}

	client, err := secretmanager.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, err
	}
	return gcpClient{client}, nil
}

// gcpClient adapts *secretmanager.Client to GCPSecretManagerAPI
type gcpClient struct {
	c *secretmanager.Client
}

func (g gcpClient) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error) {
	return g.c.GetSecret(ctx, req)
}

func (g gcpClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	return g.c.CreateSecret(ctx, req)
}

func (g gcpClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return g.c.AddSecretVersion(ctx, req)
}

func (g gcpClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	return g.c.DeleteSecret(ctx, req)
}

func (g gcpClient) ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) GCPSecretIterator {
	return g.c.ListSecrets(ctx, req)
}

func (g gcpClient) ListSecretVersions(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest) GCPSecretVersionIterator {
	return g.c.ListSecretVersions(ctx, req)
}

func gcpProjectFromEnv() string {
	for _, env := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

// Name returns the store profile name
func (p *GCPSecretManager) Name() string { return p.name }

// Type returns the backend type
func (p *GCPSecretManager) Type() string { return TypeGCPSecretManager }

// ProjectID returns the project the backend is scoped to
func (p *GCPSecretManager) ProjectID() string { return p.projectID }

func (p *GCPSecretManager) parent() string {
	return "projects/" + p.projectID
}

func (p *GCPSecretManager) secretName(key string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", p.projectID, key)
}

// Status reports existence, version count, and the newest version's creation time
func (p *GCPSecretManager) Status(ctx context.Context, key string) (descriptor.RemoteSecretStatus, error) {
	result := descriptor.RemoteSecretStatus{RemoteKey: key}

	secret, err := p.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: p.secretName(key)})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return result, nil
		}
		return result, p.classify("status", key, err)
	}
	result.Exists = true

	var latest time.Time
	if secret.GetCreateTime() != nil {
		latest = secret.GetCreateTime().AsTime()
	}

	it := p.client.ListSecretVersions(ctx, &secretmanagerpb.ListSecretVersionsRequest{Parent: p.secretName(key)})
	for {
		v, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return result, p.classify("status", key, err)
		}
		if v.GetState() == secretmanagerpb.SecretVersion_DESTROYED {
			continue
		}
		result.VersionCount++
		if v.GetCreateTime() != nil {
			if t := v.GetCreateTime().AsTime(); t.After(latest) {
				latest = t
			}
		}
	}

	if !latest.IsZero() {
		result.LastUpdated = &latest
	}
	return result, nil
}

// Create creates the secret with automatic replication and adds its first version
func (p *GCPSecretManager) Create(ctx context.Context, key string, value []byte) error {
	_, err := p.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   p.parent(),
		SecretId: key,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
			Labels: map[string]string{managedByLabel: "secretsync"},
		},
	})
	if err != nil {
		return p.classify("create", key, err)
	}

	p.logger.Debug("Created GCP secret %s", p.secretName(key))
	return p.addVersion(ctx, "create", key, value)
}

// AddVersion appends a version to an existing secret
func (p *GCPSecretManager) AddVersion(ctx context.Context, key string, value []byte) error {
	return p.addVersion(ctx, "add-version", key, value)
}

func (p *GCPSecretManager) addVersion(ctx context.Context, op, key string, value []byte) error {
	v, err := p.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  p.secretName(key),
		Payload: &secretmanagerpb.SecretPayload{Data: value},
	})
	if err != nil {
		return p.classify(op, key, err)
	}
	p.logger.Debug("Added GCP secret version %s", v.GetName())
	return nil
}

// Delete removes the secret and all its versions
func (p *GCPSecretManager) Delete(ctx context.Context, key string) error {
	if err := p.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: p.secretName(key)}); err != nil {
		return p.classify("delete", key, err)
	}
	return nil
}

// List returns the IDs of all secrets in the project
func (p *GCPSecretManager) List(ctx context.Context) ([]string, error) {
	var keys []string
	it := p.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{Parent: p.parent()})
	for {
		s, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, p.classify("list", "", err)
		}
		keys = append(keys, path.Base(s.GetName()))
	}
	return keys, nil
}

// Validate lists a single secret to check access
func (p *GCPSecretManager) Validate(ctx context.Context) error {
	it := p.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{Parent: p.parent(), PageSize: 1})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return p.classify("validate", "", err)
	}
	return nil
}

func (p *GCPSecretManager) classify(op, key string, err error) error {
	kind := KindOther
	switch status.Code(err) {
	case codes.NotFound:
		kind = KindNotFound
	case codes.AlreadyExists:
		kind = KindConflict
	case codes.PermissionDenied:
		kind = KindPermission
	case codes.Unauthenticated:
		kind = KindAuth
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		kind = KindTransient
	}

	e := newError(kind, TypeGCPSecretManager, op, key, err)
	if kind == KindPermission {
		e.Permission = fmt.Sprintf("%s on project %s", gcpPermissions[op], p.projectID)
		e.Identity = p.identity
	}
	return e
}
