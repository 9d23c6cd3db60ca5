package integration_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/remote"
	"github.com/systmms/secretsync/tests/testutil"
)

// localstackEndpoint returns the LocalStack edge endpoint, skipping the test
// when none is running.
//
//	docker run -d -p 4566:4566 localstack/localstack
//	SECRETSYNC_LOCALSTACK_ENDPOINT=http://localhost:4566 go test ./tests/integration/...
func localstackEndpoint(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	endpoint := os.Getenv("SECRETSYNC_LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		t.Skip("SECRETSYNC_LOCALSTACK_ENDPOINT not set")
	}
	return endpoint
}

func localstackStore(backendType, endpoint string, extra map[string]interface{}) config.SecretStoreConfig {
	opts := map[string]interface{}{
		"region":            "us-east-1",
		"endpoint":          endpoint,
		"access_key_id":     "test",
		"secret_access_key": "test",
	}
	for k, v := range extra {
		opts[k] = v
	}
	return config.SecretStoreConfig{Type: backendType, TimeoutMs: 10000, Config: opts}
}

func TestLocalStackUpsertLifecycle(t *testing.T) {
	endpoint := localstackEndpoint(t)

	stores := map[string]config.SecretStoreConfig{
		"aws-secretsmanager": localstackStore(remote.TypeAWSSecretsManager, endpoint, map[string]interface{}{"force_delete": true}),
		"aws-ssm":            localstackStore(remote.TypeAWSSSM, endpoint, map[string]interface{}{"path_prefix": "/secretsync-it"}),
	}

	for name, storeCfg := range stores {
		name, storeCfg := name, storeCfg
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			logger := testutil.NewTestLogger(t)
			backend, err := remote.NewRegistry().CreateBackend(ctx, name, storeCfg, logger.Logger())
			require.NoError(t, err)
			client := remote.NewClient(backend, remote.ClientOptions{Logger: logger.Logger()})

			key := fmt.Sprintf("it-db-password-%d", time.Now().UnixNano())
			t.Cleanup(func() {
				_, _ = client.Delete(context.Background(), key)
			})

			status, err := client.Status(ctx, key)
			require.NoError(t, err)
			assert.False(t, status.Exists)

			res, err := client.Upsert(ctx, key, []byte("first-value-123"))
			require.NoError(t, err)
			assert.True(t, res.Created)

			res, err = client.Upsert(ctx, key, []byte("second-value-456"))
			require.NoError(t, err)
			assert.False(t, res.Created)

			status, err = client.Status(ctx, key)
			require.NoError(t, err)
			assert.True(t, status.Exists)
			assert.Equal(t, 2, status.VersionCount)

			keys, err := client.List(ctx)
			require.NoError(t, err)
			assert.Contains(t, keys, key)

			existed, err := client.Delete(ctx, key)
			require.NoError(t, err)
			assert.True(t, existed)

			logger.AssertRedacted(t, "first-value-123")
			logger.AssertRedacted(t, "second-value-456")
		})
	}
}
