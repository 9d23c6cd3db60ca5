package discovery_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/secretsync/internal/discovery"
	"github.com/systmms/secretsync/pkg/descriptor"
	"github.com/systmms/secretsync/tests/testutil"
)

const singleDoc = `global:
  namespace: shop
db:
  secrets:
    enabled: true
    remoteKey: env-db-password
    generator:
      enabled: true
      kind: password
`

const arrayDoc = `kubernetes:
  secrets:
    enabled: true
    remoteKey: never-scanned
api:
  namespace: api-ns
  secrets:
    enabled: true
    secretStoreRef: aws-store
    refreshInterval: 15m
    optional: true
    remoteKeys:
      - shop-api-key
      - remoteKey: shop-api-token
        generator: {enabled: true, kind: token, length: 16}
      - remoteKey: shop-api-webhook
        optional: false
`

func newScanner(t *testing.T) *discovery.Scanner {
	t.Helper()
	s, err := discovery.NewScanner(discovery.Options{})
	require.NoError(t, err)
	return s
}

func TestScan_SingleShape(t *testing.T) {
	root := testutil.WriteDocuments(t, map[string]string{
		"deployments/shop-staging.yaml": singleDoc,
	})

	res, err := newScanner(t).Scan(testutil.Patterns(root, "deployments/*.yaml"), "")
	require.NoError(t, err)
	require.Len(t, res.Descriptors, 1)

	d := res.Descriptors[0]
	assert.Equal(t, filepath.Join(root, "deployments", "shop-staging.yaml"), d.SourceLocation)
	assert.Equal(t, "shop-staging", d.DeploymentScope)
	assert.Equal(t, "staging", d.Environment)
	assert.Equal(t, "db", d.ChartName)
	assert.Equal(t, "env-db-password", d.RemoteKey)
	assert.Equal(t, "shop", d.NamespaceHint)
	assert.Equal(t, descriptor.DefaultSecretStoreRef, d.SecretStoreRef)
	assert.Equal(t, descriptor.DefaultRefreshInterval, d.RefreshInterval)
	assert.Equal(t, descriptor.ProvisionAuto, d.Provisioning)
	require.NotNil(t, d.Generation)
	assert.Equal(t, descriptor.KindPassword, d.Generation.Kind)
	assert.Equal(t, "db-credentials", d.DeliveryObjectName())
}

func TestScan_ArrayShape(t *testing.T) {
	root := testutil.WriteDocuments(t, map[string]string{
		"deployments/shop-prod.yaml": arrayDoc,
	})

	res, err := newScanner(t).Scan(testutil.Patterns(root, "deployments/*.yaml"), "")
	require.NoError(t, err)
	require.Len(t, res.Descriptors, 3)

	keys := []string{}
	for _, d := range res.Descriptors {
		keys = append(keys, d.RemoteKey)
		assert.Equal(t, "aws-store", d.SecretStoreRef)
		assert.Equal(t, "15m", d.RefreshInterval)
		assert.Equal(t, "api", d.ChartName)
		assert.Equal(t, "api-ns", d.NamespaceHint)
		assert.Equal(t, "prod", d.Environment)
	}
	assert.Equal(t, []string{"shop-api-key", "shop-api-token", "shop-api-webhook"}, keys)

	assert.Equal(t, descriptor.ProvisionOptional, res.Descriptors[0].Provisioning)
	assert.Equal(t, descriptor.ProvisionAuto, res.Descriptors[1].Provisioning)
	assert.Equal(t, 16, res.Descriptors[1].Generation.Length)
	assert.Equal(t, descriptor.ProvisionManual, res.Descriptors[2].Provisioning)
}

func TestScan_ShapeDisambiguation(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantKeys []string
	}{
		{
			name:     "disabled single",
			doc:      "db:\n  secrets:\n    enabled: false\n    remoteKey: k\n",
			wantKeys: nil,
		},
		{
			name:     "enabled as string matches nothing",
			doc:      "db:\n  secrets:\n    enabled: \"yes\"\n    remoteKey: k\n",
			wantKeys: nil,
		},
		{
			name:     "empty remoteKeys matches nothing",
			doc:      "db:\n  secrets:\n    enabled: true\n    remoteKeys: []\n",
			wantKeys: nil,
		},
		{
			name:     "remoteKeys not a list matches nothing",
			doc:      "db:\n  secrets:\n    enabled: true\n    remoteKeys: k\n",
			wantKeys: nil,
		},
		{
			name:     "no enable flag matches nothing",
			doc:      "db:\n  secrets:\n    remoteKey: k\n",
			wantKeys: nil,
		},
		{
			name:     "secrets block as list matches nothing",
			doc:      "db:\n  secrets:\n    - k\n",
			wantKeys: nil,
		},
		{
			name:     "single shape wins over array",
			doc:      "db:\n  secrets:\n    enabled: true\n    remoteKey: a\n    remoteKeys: [b, c]\n",
			wantKeys: []string{"a"},
		},
		{
			name:     "chart order preserved",
			doc:      "zeta:\n  secrets: {enabled: true, remoteKey: z}\nalpha:\n  secrets: {enabled: true, remoteKey: a}\n",
			wantKeys: []string{"z", "a"},
		},
		{
			name:     "reserved keys skipped",
			doc:      "global:\n  secrets: {enabled: true, remoteKey: g}\nkubernetes:\n  secrets: {enabled: true, remoteKey: k}\n",
			wantKeys: nil,
		},
		{
			name:     "scalar chart ignored",
			doc:      "replicas: 3\ndb:\n  secrets: {enabled: true, remoteKey: d}\n",
			wantKeys: []string{"d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := testutil.WriteDocuments(t, map[string]string{"deployments/app.yaml": tt.doc})

			res, err := newScanner(t).Scan(testutil.Patterns(root, "deployments/*.yaml"), "")
			require.NoError(t, err)
			assert.Empty(t, res.ParseErrors)
			assert.Empty(t, res.Invalid)

			var keys []string
			for _, d := range res.Descriptors {
				keys = append(keys, d.RemoteKey)
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}
}

func TestScan_ParseErrorsAreSkipped(t *testing.T) {
	root := testutil.WriteDocuments(t, map[string]string{
		"deployments/a-dev.yaml":    "db:\n  secrets: {enabled: true, remoteKey: a-key}\n",
		"deployments/b-dev.yaml":    "db: [unclosed\n",
		"deployments/c-dev.yaml":    "- just\n- a list\n",
		"deployments/d-dev.yaml":    "db:\n  secrets: {enabled: true, remoteKey: d-key}\n",
		"deployments/empty-qa.yaml": "",
	})

	res, err := newScanner(t).Scan(testutil.Patterns(root, "deployments/*.yaml"), "")
	require.NoError(t, err)

	require.Len(t, res.Descriptors, 2)
	assert.Equal(t, "a-key", res.Descriptors[0].RemoteKey)
	assert.Equal(t, "d-key", res.Descriptors[1].RemoteKey)

	require.Len(t, res.ParseErrors, 2)
	assert.Equal(t, filepath.Join(root, "deployments", "b-dev.yaml"), res.ParseErrors[0].Path)
	assert.Equal(t, filepath.Join(root, "deployments", "c-dev.yaml"), res.ParseErrors[1].Path)
	assert.Len(t, res.Documents, 5)
}

func TestScan_ValidationErrors(t *testing.T) {
	root := testutil.WriteDocuments(t, map[string]string{
		"deployments/app.yaml": `db:
  secrets:
    enabled: true
    remoteKey: db-pass
    generator: {enabled: true}
api:
  secrets:
    enabled: true
    remoteKeys:
      - ""
      - api-key
      - remoteKey: api-token
        generator: {enabled: true, kind: uuid}
`,
	})

	res, err := newScanner(t).Scan(testutil.Patterns(root, "deployments/*.yaml"), "")
	require.NoError(t, err)

	require.Len(t, res.Descriptors, 1)
	assert.Equal(t, "api-key", res.Descriptors[0].RemoteKey)

	require.Len(t, res.Invalid, 3)
	assert.Equal(t, "db", res.Invalid[0].Chart)
	assert.Equal(t, "generator.kind", res.Invalid[0].Field)
	assert.Equal(t, "remoteKey", res.Invalid[1].Field)
	assert.Equal(t, "api-token", res.Invalid[2].RemoteKey)
	assert.Equal(t, "generator.kind", res.Invalid[2].Field)
	assert.Contains(t, res.Invalid[2].Error(), "api-token")
}

func TestScan_Infrastructure(t *testing.T) {
	root := testutil.WriteDocuments(t, map[string]string{
		"infrastructure/cluster-prod.yaml": `namespace: infra
secrets:
  enabled: true
  remoteKey: cluster-admin-token
  generator: {enabled: true, kind: token}
monitoring:
  secrets:
    enabled: true
    remoteKey: grafana-admin
`,
	})

	res, err := newScanner(t).Scan(testutil.Patterns(root, "infrastructure/*.yaml"), "")
	require.NoError(t, err)
	require.Len(t, res.Descriptors, 2)

	rootDesc := res.Descriptors[0]
	assert.Equal(t, discovery.InfrastructureScope, rootDesc.DeploymentScope)
	assert.Equal(t, "cluster-prod", rootDesc.ChartName)
	assert.Equal(t, "cluster-admin-token", rootDesc.RemoteKey)
	assert.Equal(t, "infra", rootDesc.NamespaceHint)
	assert.Equal(t, "prod", rootDesc.Environment)

	assert.Equal(t, "monitoring", res.Descriptors[1].ChartName)
	assert.Equal(t, discovery.InfrastructureScope, res.Descriptors[1].DeploymentScope)
	assert.Equal(t, descriptor.ProvisionManual, res.Descriptors[1].Provisioning)
}

func TestScan_ScopeFilter(t *testing.T) {
	root := testutil.WriteDocuments(t, map[string]string{
		"deployments/shop-staging.yaml": "db:\n  secrets: {enabled: true, remoteKey: s}\n",
		"deployments/shop-prod.yaml":    "db:\n  secrets: {enabled: true, remoteKey: p}\n",
		"infrastructure/cluster.yaml":   "secrets: {enabled: true, remoteKey: c}\n",
	})
	patterns := testutil.Patterns(root, "deployments/*.yaml", "infrastructure/*.yaml")

	res, err := newScanner(t).Scan(patterns, "shop-prod")
	require.NoError(t, err)
	require.Len(t, res.Descriptors, 1)
	assert.Equal(t, "p", res.Descriptors[0].RemoteKey)
	assert.Len(t, res.Documents, 1)

	res, err = newScanner(t).Scan(patterns, discovery.InfrastructureScope)
	require.NoError(t, err)
	require.Len(t, res.Descriptors, 1)
	assert.Equal(t, "c", res.Descriptors[0].RemoteKey)

	res, err = newScanner(t).Scan(patterns, "unknown")
	require.NoError(t, err)
	assert.Empty(t, res.Descriptors)
}

func TestScan_Deterministic(t *testing.T) {
	root := testutil.WriteDocuments(t, map[string]string{
		"deployments/b.yaml": arrayDoc,
		"deployments/a.yaml": singleDoc,
		"deployments/c.yaml": "x:\n  secrets: {enabled: true, remoteKeys: [x1, x2]}\ny:\n  secrets: {enabled: true, remoteKey: y1}\n",
	})
	// Overlapping patterns must not duplicate documents
	patterns := testutil.Patterns(root, "deployments/*.yaml", "deployments/a.yaml")

	first, err := newScanner(t).Scan(patterns, "")
	require.NoError(t, err)
	second, err := newScanner(t).Scan(patterns, "")
	require.NoError(t, err)

	assert.Equal(t, first.Descriptors, second.Descriptors)
	assert.Len(t, first.Documents, 3)

	var keys []string
	for _, d := range first.Descriptors {
		keys = append(keys, d.RemoteKey)
	}
	assert.Equal(t, []string{"env-db-password", "shop-api-key", "shop-api-token", "shop-api-webhook", "x1", "x2", "y1"}, keys)
}

func TestScan_SharedRemoteKey(t *testing.T) {
	root := testutil.WriteDocuments(t, map[string]string{
		"deployments/one.yaml": "a:\n  secrets: {enabled: true, remoteKey: shared-key}\n",
		"deployments/two.yaml": "b:\n  secrets: {enabled: true, remoteKey: shared-key}\n",
	})

	res, err := newScanner(t).Scan(testutil.Patterns(root, "deployments/*.yaml"), "")
	require.NoError(t, err)
	require.Len(t, res.Descriptors, 2)
	assert.Equal(t, res.Descriptors[0].RemoteKey, res.Descriptors[1].RemoteKey)
	assert.NotEqual(t, res.Descriptors[0].DeploymentScope, res.Descriptors[1].DeploymentScope)
}

func TestScan_InvalidPattern(t *testing.T) {
	_, err := newScanner(t).Scan([]string{"[unclosed"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, filepath.ErrBadPattern))
}

func TestScan_CustomEnvironments(t *testing.T) {
	root := testutil.WriteDocuments(t, map[string]string{
		"deployments/shop-uat.yaml": "db:\n  secrets: {enabled: true, remoteKey: k}\n",
	})

	s, err := discovery.NewScanner(discovery.Options{Environments: []string{"UAT"}})
	require.NoError(t, err)
	res, err := s.Scan(testutil.Patterns(root, "deployments/*.yaml"), "")
	require.NoError(t, err)
	require.Len(t, res.Descriptors, 1)
	assert.Equal(t, "uat", res.Descriptors[0].Environment)

	res, err = newScanner(t).Scan(testutil.Patterns(root, "deployments/*.yaml"), "")
	require.NoError(t, err)
	assert.Empty(t, res.Descriptors[0].Environment)
}

func TestScan_EnvironmentFromStem(t *testing.T) {
	tests := []struct {
		file    string
		wantEnv string
	}{
		{"shop-staging.yaml", "staging"},
		{"production.yaml", "production"},
		{"Prod.yaml", "prod"},
		{"shop.yaml", ""},
		{"shop-blue.yaml", ""},
		{"prod-shop.yaml", ""},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			root := testutil.WriteDocuments(t, map[string]string{
				"deployments/" + tt.file: "db:\n  secrets: {enabled: true, remoteKey: k}\n",
			})

			res, err := newScanner(t).Scan(testutil.Patterns(root, "deployments/*.yaml"), "")
			require.NoError(t, err)
			require.Len(t, res.Descriptors, 1)
			assert.Equal(t, tt.wantEnv, res.Descriptors[0].Environment)
			assert.Equal(t, strings.TrimSuffix(tt.file, ".yaml"), res.Descriptors[0].DeploymentScope)
		})
	}
}

func TestScan_LogsSkippedDocuments(t *testing.T) {
	logger := testutil.NewTestLogger(t)
	root := testutil.WriteDocuments(t, map[string]string{
		"deployments/bad.yaml": "db: [unclosed\n",
	})

	s, err := discovery.NewScanner(discovery.Options{Logger: logger.Logger()})
	require.NoError(t, err)
	_, err = s.Scan(testutil.Patterns(root, "deployments/*.yaml"), "")
	require.NoError(t, err)

	logger.AssertContains(t, "Skipping")
	logger.AssertLogCount(t, "warn", 1)
}
