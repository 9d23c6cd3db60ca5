package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/convergence"
	"github.com/systmms/secretsync/internal/input"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/internal/remote"
	"github.com/systmms/secretsync/tests/fakes"
	"github.com/systmms/secretsync/tests/testutil"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	kubefake "k8s.io/client-go/kubernetes/fake"
)

const testConfig = `version: 0
defaultSecretStore: primary
secretStores:
  primary:
    type: fake
convergence:
  interval: 1s
  timeout: 1s
`

const testDoc = `db:
  secrets:
    enabled: true
    remoteKey: env-db-password
    generator: {enabled: true, kind: password}
api:
  secrets:
    enabled: true
    remoteKey: env-api-key
`

type env struct {
	cfg     *config.Config
	backend *fakes.FakeBackend
	logs    *bytes.Buffer
	root    string
	objects []runtime.Object
}

// setup swaps the collaborator constructors for fakes. Tests using it must
// not run in parallel.
func setup(t *testing.T) *env {
	t.Helper()

	e := &env{
		backend: fakes.NewFakeBackend("primary"),
		logs:    &bytes.Buffer{},
	}
	e.root = testutil.WriteDocuments(t, map[string]string{"deployments/shop-staging.yaml": testDoc})
	e.cfg = &config.Config{
		Path:           testutil.WriteConfig(t, testConfig),
		Logger:         logging.NewWithWriter(e.logs, false, true),
		NonInteractive: true,
	}

	origRegistry, origValidator, origInput := newRegistry, newValidator, newInput
	t.Cleanup(func() {
		newRegistry, newValidator, newInput = origRegistry, origValidator, origInput
	})

	newRegistry = func() *remote.Registry {
		r := remote.NewRegistry()
		r.RegisterFactory(fakes.FakeBackendType, func(context.Context, string, config.SecretStoreConfig, *logging.Logger) (remote.Backend, error) {
			return e.backend, nil
		})
		return r
	}
	newValidator = func(cfg *config.Config) (*convergence.Validator, error) {
		dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
			map[schema.GroupVersionResource]string{convergence.GVR("v1beta1"): "ExternalSecretList"}, e.objects...)
		core := kubefake.NewSimpleClientset()
		core.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{GitVersion: "v1.29.0"}
		return convergence.New(convergence.Options{
			Dynamic:  dyn,
			Core:     core,
			Interval: cfg.Definition.Convergence.Interval,
			Timeout:  cfg.Definition.Convergence.Timeout,
			Logger:   cfg.Logger,
		}), nil
	}
	newInput = func(*config.Config) input.Provider {
		return input.Static{"env-api-key": "Xk3!vR9#mQ2$wL7&pZ5*"}
	}
	return e
}

func (e *env) converge(names ...string) {
	for _, name := range names {
		e.objects = append(e.objects, &unstructured.Unstructured{Object: map[string]interface{}{
			"apiVersion": "external-secrets.io/v1beta1",
			"kind":       "ExternalSecret",
			"metadata":   map[string]interface{}{"name": name, "namespace": "default"},
			"status": map[string]interface{}{"conditions": []interface{}{
				map[string]interface{}{"type": "Ready", "status": "True", "reason": "SecretSynced"},
				map[string]interface{}{"type": "SecretSynced", "status": "True"},
			}},
		}})
	}
}

func (e *env) pattern() string {
	return filepath.Join(e.root, "deployments", "*.yaml")
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDiscoverCommand(t *testing.T) {
	e := setup(t)

	output, err := execute(t, NewDiscoverCommand(e.cfg), e.pattern())
	require.NoError(t, err)
	assert.Contains(t, output, "REMOTE KEY")
	assert.Contains(t, output, "env-db-password")
	assert.Contains(t, output, "2 secrets in 1 documents")
	assert.Equal(t, 0, e.backend.Calls("status"))
}

func TestDiscoverCommand_JSON(t *testing.T) {
	e := setup(t)

	output, err := execute(t, NewDiscoverCommand(e.cfg), "--json", e.pattern())
	require.NoError(t, err)

	var result struct {
		Descriptors []struct {
			RemoteKey    string `json:"remoteKey"`
			Provisioning string `json:"provisioning"`
		}
	}
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	require.Len(t, result.Descriptors, 2)
	assert.Equal(t, "auto", result.Descriptors[0].Provisioning)
	assert.Equal(t, "manual", result.Descriptors[1].Provisioning)
}

func TestCheckCommand(t *testing.T) {
	e := setup(t)
	e.backend.Seed("env-api-key", "v1", "v2")

	output, err := execute(t, NewCheckCommand(e.cfg), e.pattern())
	require.NoError(t, err)
	assert.Contains(t, output, "1 existing, 1 missing, 0 unknown")
	assert.Equal(t, 0, e.backend.Calls("create"))
}

func TestCheckCommand_PermissionDenied(t *testing.T) {
	e := setup(t)
	e.backend.Fail("status", "", fakes.PermissionError("status", "env-db-password", "secretmanager.secrets.get"))

	_, err := execute(t, NewCheckCommand(e.cfg), e.pattern())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Grant secretmanager.secrets.get to ci@example.iam")
}

func TestGenerateCommand_DryRun(t *testing.T) {
	e := setup(t)

	output, err := execute(t, NewGenerateCommand(e.cfg), "--dry-run", e.pattern())
	require.NoError(t, err)
	assert.Contains(t, output, "would-generate")
	assert.Contains(t, output, "would-prompt")
	assert.Equal(t, 0, e.backend.Calls("create"))
}

func TestSyncCommand(t *testing.T) {
	e := setup(t)
	e.converge("db-credentials", "api-credentials")

	output, err := execute(t, NewSyncCommand(e.cfg), e.pattern())
	require.NoError(t, err)
	assert.Contains(t, output, "2 created")
	assert.Contains(t, output, "2/2 synced")
	assert.Contains(t, output, "All secrets synced")

	value, ok := e.backend.Latest("env-api-key")
	require.True(t, ok)
	assert.Equal(t, "Xk3!vR9#mQ2$wL7&pZ5*", value)
	assert.NotContains(t, output, value)
	assert.NotContains(t, e.logs.String(), value)
}

func TestSyncCommand_ReportsOffenders(t *testing.T) {
	e := setup(t)
	e.converge("db-credentials")

	output, err := execute(t, NewSyncCommand(e.cfg), e.pattern())
	require.ErrorIs(t, err, ErrStageFailed)
	assert.Contains(t, output, "Failures:")
	assert.Contains(t, output, "default/api-credentials: Failed: not found")
}

func TestSyncCommand_DryRunSkipsCluster(t *testing.T) {
	e := setup(t)
	newValidator = func(*config.Config) (*convergence.Validator, error) {
		t.Fatal("dry-run must not build a validator")
		return nil, nil
	}

	output, err := execute(t, NewSyncCommand(e.cfg), "--dry-run", e.pattern())
	require.NoError(t, err)
	assert.Contains(t, output, "Dry run complete")
	assert.Equal(t, 0, e.backend.Calls("create"))
}

func TestStatusAndListCommands(t *testing.T) {
	e := setup(t)
	e.backend.Seed("env-db-password", "a", "b", "c")

	output, err := execute(t, NewStatusCommand(e.cfg), "env-db-password")
	require.NoError(t, err)
	assert.Contains(t, output, "Exists:       yes")
	assert.Contains(t, output, "Versions:     3")

	output, err = execute(t, NewStatusCommand(e.cfg), "nope")
	require.NoError(t, err)
	assert.Contains(t, output, "Exists:       no")

	output, err = execute(t, NewListCommand(e.cfg), "--json")
	require.NoError(t, err)
	var keys []string
	require.NoError(t, json.Unmarshal([]byte(output), &keys))
	assert.Equal(t, []string{"env-db-password"}, keys)
}

func TestDeleteCommand(t *testing.T) {
	e := setup(t)
	e.backend.Seed("env-db-password", "a")

	_, err := execute(t, NewDeleteCommand(e.cfg), "env-db-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
	assert.Len(t, e.backend.Versions("env-db-password"), 1)

	_, err = execute(t, NewDeleteCommand(e.cfg), "--yes", "env-db-password")
	require.NoError(t, err)
	assert.Empty(t, e.backend.Versions("env-db-password"))
	assert.Contains(t, e.logs.String(), "Deleted env-db-password from primary")

	_, err = execute(t, NewDeleteCommand(e.cfg), "--yes", "env-db-password")
	require.NoError(t, err)
	assert.Contains(t, e.logs.String(), "env-db-password does not exist in primary")
}

func TestStrengthCommand(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{name: "weak", value: "hunter2", want: []string{"(weak)", "  - "}},
		{name: "strong", value: "Xk3!vR9#mQ2$wL7&pZ5*", want: []string{"Score: 4/4 (acceptable)"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Logger: logging.Discard()}

			stdin := filepath.Join(t.TempDir(), "stdin")
			require.NoError(t, os.WriteFile(stdin, []byte(tt.value+"\n"), 0600))
			f, err := os.Open(stdin)
			require.NoError(t, err)
			defer f.Close()

			cmd := NewStrengthCommand(cfg)
			cmd.SetIn(f)
			output, err := execute(t, cmd)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, output, w)
			}
			assert.NotContains(t, output, tt.value)
		})
	}
}

func TestDoctorCommand(t *testing.T) {
	e := setup(t)

	output, err := execute(t, NewDoctorCommand(e.cfg))
	require.NoError(t, err)
	assert.Contains(t, output, "primary")
	assert.Contains(t, output, "server v1.29.0")
	assert.Contains(t, output, "Summary: 2/2 checks healthy")
}

func TestDoctorCommand_UnhealthyStore(t *testing.T) {
	e := setup(t)
	e.backend.Fail("validate", "", fakes.PermissionError("validate", "", "secretmanager.secrets.list"))

	output, err := execute(t, NewDoctorCommand(e.cfg), "--verbose", "--skip-cluster")
	require.Error(t, err)
	assert.Contains(t, output, "✗ error")
	assert.Contains(t, output, "Grant secretmanager.secrets.list to ci@example.iam")
	assert.Contains(t, output, "Summary: 0/1 checks healthy")
}

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "secretsync"}
	completion := NewCompletionCommand(&config.Config{})
	root.AddCommand(completion)

	output, err := execute(t, root, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, output, "secretsync")
}
