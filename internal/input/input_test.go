package input

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestChain(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name    string
		chain   Chain
		want    string
		wantErr error
	}{
		{name: "empty chain", chain: Chain{}, wantErr: ErrNoInput},
		{name: "first with a value wins", chain: Chain{NonInteractive{}, Static{"k": "a"}, Static{"k": "b"}}, want: "a"},
		{name: "all empty", chain: Chain{NonInteractive{}, Static{"other": "x"}}, wantErr: ErrNoInput},
		{
			name: "hard error stops the chain",
			chain: Chain{
				ProviderFunc(func(context.Context, Request) (string, error) { return "", boom }),
				Static{"k": "never"},
			},
			wantErr: boom,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.chain.Provide(context.Background(), Request{RemoteKey: "k"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SECRETSYNC_VALUE_ENV_DB_PASSWORD", EnvName("env-db-password"))
	assert.Equal(t, "SECRETSYNC_VALUE_API_KEY_V2", EnvName("api.key/v2"))
}

func TestEnv(t *testing.T) {
	t.Parallel()

	env := Env{Lookup: func(name string) (string, bool) {
		if name == "SECRETSYNC_VALUE_STRIPE_KEY" {
			return "sk_live_x", true
		}
		return "", false
	}}

	v, err := env.Provide(context.Background(), Request{RemoteKey: "stripe-key"})
	require.NoError(t, err)
	assert.Equal(t, "sk_live_x", v)

	_, err = env.Provide(context.Background(), Request{RemoteKey: "other"})
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()

	k := Keyring{}
	_, err := k.Provide(context.Background(), Request{RemoteKey: "smtp-password"})
	assert.ErrorIs(t, err, ErrNoInput)

	require.NoError(t, k.Store("smtp-password", "s3cret"))
	v, err := k.Provide(context.Background(), Request{RemoteKey: "smtp-password"})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	require.NoError(t, k.Forget("smtp-password"))
	require.NoError(t, k.Forget("smtp-password"))
	_, err = k.Provide(context.Background(), Request{RemoteKey: "smtp-password"})
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestPromptReadsLinesWhenNotATerminal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stdin")
	require.NoError(t, os.WriteFile(path, []byte("first-value\n\n"), 0o600))
	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close()

	var out bytes.Buffer
	p := &Prompt{In: in, Out: &out}

	v, err := p.Provide(context.Background(), Request{RemoteKey: "api-key", Chart: "api", Scope: "shop-staging"})
	require.NoError(t, err)
	assert.Equal(t, "first-value", v)
	assert.Contains(t, out.String(), "Enter value for api-key (api in shop-staging): ")

	_, err = p.Provide(context.Background(), Request{RemoteKey: "smtp", Optional: true})
	assert.ErrorIs(t, err, ErrNoInput)
	assert.Contains(t, out.String(), "[optional, leave empty to skip]")
}

func TestRequestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "k", Request{RemoteKey: "k"}.String())
	assert.Equal(t, "k (db)", Request{RemoteKey: "k", Chart: "db"}.String())
	assert.Equal(t, "k (db in prod)", Request{RemoteKey: "k", Chart: "db", Scope: "prod"}.String())
}
