package remote_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/remote"
	"github.com/systmms/secretsync/tests/fakes"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type backendCase struct {
	name  string
	build func(t *testing.T) remote.Backend
}

func backendCases() []backendCase {
	return []backendCase{
		{
			name: remote.TypeGCPSecretManager,
			build: func(t *testing.T) remote.Backend {
				cfg := config.SecretStoreConfig{Type: remote.TypeGCPSecretManager, Config: map[string]interface{}{"project_id": "proj"}}
				b, err := remote.NewGCPSecretManager(context.Background(), "gcp", cfg, nil, remote.WithGCPClient(fakes.NewFakeGCPSecretManagerClient()))
				require.NoError(t, err)
				return b
			},
		},
		{
			name: remote.TypeAWSSecretsManager,
			build: func(t *testing.T) remote.Backend {
				cfg := config.SecretStoreConfig{Type: remote.TypeAWSSecretsManager, Config: map[string]interface{}{"region": "eu-west-1"}}
				b, err := remote.NewAWSSecretsManager(context.Background(), "aws", cfg, nil,
					remote.WithSecretsManagerClient(fakes.NewFakeSecretsManagerClient()),
					remote.WithSecretsManagerSTS(&fakes.FakeSTSClient{Arn: "arn:aws:iam::123456789012:role/ci"}))
				require.NoError(t, err)
				return b
			},
		},
		{
			name: remote.TypeAWSSSM,
			build: func(t *testing.T) remote.Backend {
				cfg := config.SecretStoreConfig{Type: remote.TypeAWSSSM, Config: map[string]interface{}{"path_prefix": "/secretsync"}}
				b, err := remote.NewAWSSSM(context.Background(), "ssm", cfg, nil,
					remote.WithSSMClient(fakes.NewFakeSSMClient()),
					remote.WithSSMSTS(&fakes.FakeSTSClient{Arn: "arn:aws:iam::123456789012:role/ci"}))
				require.NoError(t, err)
				return b
			},
		},
		{
			name: remote.TypeAzureKeyVault,
			build: func(t *testing.T) remote.Backend {
				cfg := config.SecretStoreConfig{Type: remote.TypeAzureKeyVault, Config: map[string]interface{}{"vault_url": "https://test-vault.vault.azure.net/"}}
				b, err := remote.NewAzureKeyVault(context.Background(), "azure", cfg, nil, remote.WithAzureClient(fakes.NewFakeAzureKeyVaultClient()))
				require.NoError(t, err)
				return b
			},
		},
	}
}

// TestBackendContract runs the same lifecycle against every backend adapter
func TestBackendContract(t *testing.T) {
	t.Parallel()

	for _, tc := range backendCases() {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			b := tc.build(t)
			assert.Equal(t, tc.name, b.Type())
			require.NoError(t, b.Validate(ctx))

			st, err := b.Status(ctx, "db-password")
			require.NoError(t, err)
			assert.False(t, st.Exists)

			err = b.AddVersion(ctx, "db-password", []byte("x"))
			assert.True(t, remote.IsNotFound(err), "add-version on missing key: %v", err)

			require.NoError(t, b.Create(ctx, "db-password", []byte("first")))

			st, err = b.Status(ctx, "db-password")
			require.NoError(t, err)
			assert.True(t, st.Exists)
			assert.Equal(t, 1, st.VersionCount)
			assert.NotNil(t, st.LastUpdated)

			err = b.Create(ctx, "db-password", []byte("again"))
			assert.True(t, remote.IsConflict(err), "create on existing key: %v", err)

			require.NoError(t, b.AddVersion(ctx, "db-password", []byte("second")))
			st, err = b.Status(ctx, "db-password")
			require.NoError(t, err)
			assert.Equal(t, 2, st.VersionCount)

			keys, err := b.List(ctx)
			require.NoError(t, err)
			assert.Contains(t, keys, "db-password")

			require.NoError(t, b.Delete(ctx, "db-password"))
			st, err = b.Status(ctx, "db-password")
			require.NoError(t, err)
			assert.False(t, st.Exists)

			err = b.Delete(ctx, "db-password")
			assert.True(t, remote.IsNotFound(err), "delete on missing key: %v", err)
		})
	}
}

func TestGCPSecretManagerProjectFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCLOUD_PROJECT", "from-env")
	t.Setenv("GCP_PROJECT", "")

	b, err := remote.NewGCPSecretManager(context.Background(), "gcp", config.SecretStoreConfig{}, nil,
		remote.WithGCPClient(fakes.NewFakeGCPSecretManagerClient()))
	require.NoError(t, err)
	assert.Equal(t, "from-env", b.ProjectID())
}

func TestGCPSecretManagerRequiresProject(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")

	_, err := remote.NewGCPSecretManager(context.Background(), "gcp", config.SecretStoreConfig{}, nil,
		remote.WithGCPClient(fakes.NewFakeGCPSecretManagerClient()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id is required")
}

func TestGCPSecretManagerClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code codes.Code
		want remote.ErrorKind
	}{
		{codes.PermissionDenied, remote.KindPermission},
		{codes.Unauthenticated, remote.KindAuth},
		{codes.Unavailable, remote.KindTransient},
		{codes.ResourceExhausted, remote.KindTransient},
		{codes.InvalidArgument, remote.KindOther},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.code.String(), func(t *testing.T) {
			t.Parallel()

			fake := fakes.NewFakeGCPSecretManagerClient()
			fake.AddSecretString("proj", "key", "v")
			fake.SetError("proj", "key", status.Error(tt.code, "boom"))

			cfg := config.SecretStoreConfig{Config: map[string]interface{}{
				"project_id":                  "proj",
				"impersonate_service_account": "deployer@proj.iam.gserviceaccount.com",
			}}
			b, err := remote.NewGCPSecretManager(context.Background(), "gcp", cfg, nil, remote.WithGCPClient(fake))
			require.NoError(t, err)

			_, err = b.Status(context.Background(), "key")
			var rerr *remote.Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.want, rerr.Kind)
			if tt.want == remote.KindPermission {
				assert.Contains(t, rerr.Suggestion(), "secretmanager.secrets.get")
				assert.Contains(t, rerr.Suggestion(), "deployer@proj.iam.gserviceaccount.com")
			}
		})
	}
}

func TestGCPSecretManagerStoresPayloads(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeGCPSecretManagerClient()
	cfg := config.SecretStoreConfig{Config: map[string]interface{}{"project_id": "proj"}}
	b, err := remote.NewGCPSecretManager(context.Background(), "gcp", cfg, nil, remote.WithGCPClient(fake))
	require.NoError(t, err)

	require.NoError(t, b.Create(context.Background(), "api-key", []byte("one")))
	require.NoError(t, b.AddVersion(context.Background(), "api-key", []byte("two")))
	assert.Equal(t, []string{"one", "two"}, fake.VersionData("proj", "api-key"))
	assert.Equal(t, "secretsync", fake.Secrets["projects/proj/secrets/api-key"].GetLabels()["managed-by"])
}

func TestAWSSecretsManagerPermissionNamesCaller(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretsManagerClient()
	fake.AddError("db-password", fakes.AccessDenied("secretsmanager:DescribeSecret"))
	sts := &fakes.FakeSTSClient{Arn: "arn:aws:iam::123456789012:role/ci"}

	b, err := remote.NewAWSSecretsManager(context.Background(), "aws", config.SecretStoreConfig{}, nil,
		remote.WithSecretsManagerClient(fake), remote.WithSecretsManagerSTS(sts))
	require.NoError(t, err)

	_, err = b.Status(context.Background(), "db-password")
	var rerr *remote.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, remote.KindPermission, rerr.Kind)
	assert.Equal(t, "arn:aws:iam::123456789012:role/ci", rerr.Identity)
	assert.Contains(t, rerr.Permission, "db-password")
	assert.Contains(t, rerr.Permission, "us-east-1")

	_, _ = b.Status(context.Background(), "db-password")
	assert.Equal(t, 1, sts.Calls)
}

func TestAWSSecretsManagerThrottlingIsTransient(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretsManagerClient()
	fake.AddError("k", fakes.Throttled())
	b, err := remote.NewAWSSecretsManager(context.Background(), "aws", config.SecretStoreConfig{}, nil,
		remote.WithSecretsManagerClient(fake), remote.WithSecretsManagerSTS(&fakes.FakeSTSClient{}))
	require.NoError(t, err)

	_, err = b.Status(context.Background(), "k")
	assert.True(t, remote.IsTransient(err))
}

func TestAWSSecretsManagerPaginatesVersions(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretsManagerClient()
	fake.PageSize = 2
	fake.AddSecretString("k", "v1")
	b, err := remote.NewAWSSecretsManager(context.Background(), "aws", config.SecretStoreConfig{}, nil,
		remote.WithSecretsManagerClient(fake), remote.WithSecretsManagerSTS(&fakes.FakeSTSClient{}))
	require.NoError(t, err)

	for _, v := range []string{"v2", "v3", "v4", "v5"} {
		require.NoError(t, b.AddVersion(context.Background(), "k", []byte(v)))
	}
	st, err := b.Status(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 5, st.VersionCount)
	assert.Equal(t, []string{"v1", "v2", "v3", "v4", "v5"}, fake.Values("k"))
}

func TestAWSSSMPrefixesParameters(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSSMClient()
	fake.AddSecureStringParameter("/other/unrelated", "x")
	cfg := config.SecretStoreConfig{Config: map[string]interface{}{"path_prefix": "/apps/prod"}}
	b, err := remote.NewAWSSSM(context.Background(), "ssm", cfg, nil,
		remote.WithSSMClient(fake), remote.WithSSMSTS(&fakes.FakeSTSClient{}))
	require.NoError(t, err)

	require.NoError(t, b.Create(context.Background(), "db-password", []byte("s3cret")))
	assert.Equal(t, []string{"s3cret"}, fake.Values("/apps/prod/db-password"))

	keys, err := b.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"db-password"}, keys)
}

func TestAzureKeyVaultRequiresVaultURL(t *testing.T) {
	t.Parallel()

	_, err := remote.NewAzureKeyVault(context.Background(), "azure", config.SecretStoreConfig{}, nil,
		remote.WithAzureClient(fakes.NewFakeAzureKeyVaultClient()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault_url is required")
}

func TestAzureKeyVaultClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   remote.ErrorKind
	}{
		{http.StatusForbidden, remote.KindPermission},
		{http.StatusUnauthorized, remote.KindAuth},
		{http.StatusTooManyRequests, remote.KindTransient},
		{http.StatusServiceUnavailable, remote.KindTransient},
		{http.StatusBadRequest, remote.KindOther},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			fake := fakes.NewFakeAzureKeyVaultClient()
			fake.AddError("key", fakes.AzureStatus(tt.status, "Boom"))
			cfg := config.SecretStoreConfig{Config: map[string]interface{}{"vault_url": "https://v.vault.azure.net/"}}
			b, err := remote.NewAzureKeyVault(context.Background(), "azure", cfg, nil, remote.WithAzureClient(fake))
			require.NoError(t, err)

			_, err = b.Status(context.Background(), "key")
			var rerr *remote.Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.want, rerr.Kind)
		})
	}
}
