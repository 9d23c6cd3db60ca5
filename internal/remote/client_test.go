package remote_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/secretsync/internal/remote"
	"github.com/systmms/secretsync/tests/fakes"
)

func newTestClient(backend remote.Backend, concurrency int) *remote.Client {
	return remote.NewClient(backend, remote.ClientOptions{
		Clock:         testclock.NewDilatedWallClock(time.Millisecond),
		Concurrency:   concurrency,
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	})
}

func TestClientStatus(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Seed("present", "v1", "v2")
	client := newTestClient(backend, 2)

	status, err := client.Status(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.Equal(t, 2, status.VersionCount)
	assert.NotNil(t, status.LastUpdated)

	status, err = client.Status(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, status.Exists)
	assert.Equal(t, "absent", status.RemoteKey)
}

func TestClientRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Seed("key", "v1")
	backend.FailNext("status", "key", fakes.TransientError("status", "key"), fakes.TransientError("status", "key"))
	client := newTestClient(backend, 1)

	status, err := client.Status(context.Background(), "key")
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.Equal(t, 3, backend.Calls("status"))
}

func TestClientGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Fail("status", "key", fakes.TransientError("status", "key"))
	client := newTestClient(backend, 1)

	_, err := client.Status(context.Background(), "key")
	require.Error(t, err)

	var rerr *remote.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, remote.KindTransient, rerr.Kind)
	assert.Equal(t, 3, rerr.Attempts)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.True(t, remote.IsFatal(err))
	assert.False(t, remote.IsTransient(err))
	assert.Equal(t, 3, backend.Calls("status"))
}

func TestClientDoesNotRetryFatalErrors(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Fail("status", "key", fakes.PermissionError("status", "key", "secrets.get"))
	client := newTestClient(backend, 1)

	_, err := client.Status(context.Background(), "key")
	require.Error(t, err)
	assert.True(t, remote.IsFatal(err))
	assert.Equal(t, 1, backend.Calls("status"))
}

func TestClientReturnsBackendErrorUnwrapped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		op    string
		err   error
		fatal bool
	}{
		{"permission", "status", fakes.PermissionError("status", "key", "secrets.get"), true},
		{"auth", "list", &remote.Error{Kind: remote.KindAuth, Op: "list", Backend: fakes.FakeBackendType}, true},
		{"conflict", "create", &remote.Error{Kind: remote.KindConflict, Op: "create", Backend: fakes.FakeBackendType, Key: "key"}, false},
		{"unclassified", "status", fmt.Errorf("malformed response"), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			failKey := "key"
			if tt.op == "list" {
				failKey = ""
			}
			backend := fakes.NewFakeBackend("primary")
			backend.Fail(tt.op, failKey, tt.err)
			client := newTestClient(backend, 1)
			ctx := context.Background()

			var err error
			switch tt.op {
			case "status":
				_, err = client.Status(ctx, "key")
			case "list":
				_, err = client.List(ctx)
			case "create":
				err = client.Create(ctx, "key", []byte("v"))
			}

			require.Error(t, err)
			assert.Same(t, tt.err, err)
			assert.Equal(t, tt.fatal, remote.IsFatal(err))
			assert.Equal(t, 1, backend.Calls(tt.op))
		})
	}
}

func TestClientStopsOnCancel(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Fail("status", "key", fakes.TransientError("status", "key"))
	client := remote.NewClient(backend, remote.ClientOptions{
		Clock:         testclock.NewClock(time.Now()),
		RetryAttempts: 5,
		RetryDelay:    time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Status(ctx, "key")
		done <- err
	}()

	require.Eventually(t, func() bool { return backend.Calls("status") == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("status did not return after cancel")
	}
}

func TestClientUpsert(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	client := newTestClient(backend, 1)
	ctx := context.Background()

	result, err := client.Upsert(ctx, "key", []byte("first"))
	require.NoError(t, err)
	assert.True(t, result.Created)

	result, err = client.Upsert(ctx, "key", []byte("second"))
	require.NoError(t, err)
	assert.False(t, result.Created)

	status, err := client.Status(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, 2, status.VersionCount)
	assert.Equal(t, []string{"first", "second"}, backend.Versions("key"))
}

func TestClientUpsertLosesCreateRace(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.BeforeCreate = func(key string) {
		backend.BeforeCreate = nil
		backend.Seed(key, "from-other-run")
	}
	client := newTestClient(backend, 1)

	result, err := client.Upsert(context.Background(), "key", []byte("mine"))
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, []string{"from-other-run", "mine"}, backend.Versions("key"))
}

func TestClientUpsertPropagatesStatusFailure(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Fail("status", "key", fakes.PermissionError("status", "key", "secrets.get"))
	client := newTestClient(backend, 1)

	_, err := client.Upsert(context.Background(), "key", []byte("v"))
	require.Error(t, err)
	assert.Zero(t, backend.Calls("create"))
	assert.Zero(t, backend.Calls("add-version"))
}

func TestClientDelete(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Seed("key", "v1")
	client := newTestClient(backend, 1)

	existed, err := client.Delete(context.Background(), "key")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = client.Delete(context.Background(), "key")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestClientBatchStatus(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Seed("a", "v1")
	backend.Seed("c", "v1", "v2", "v3")
	client := newTestClient(backend, 4)

	results, err := client.BatchStatus(context.Background(), []string{"a", "b", "c", "a", "c"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results["a"].Exists)
	assert.False(t, results["b"].Exists)
	assert.Equal(t, 3, results["c"].VersionCount)
	assert.Equal(t, 3, backend.Calls("status"))
}

func TestClientBatchStatusBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const limit = 3
	backend := fakes.NewFakeBackend("primary")
	backend.Hold = make(chan struct{})
	client := newTestClient(backend, limit)

	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%02d", i)
	}

	done := make(chan error, 1)
	go func() {
		_, err := client.BatchStatus(context.Background(), keys)
		done <- err
	}()

	require.Eventually(t, func() bool { return backend.InFlight() == limit }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, limit, backend.InFlight())
	close(backend.Hold)

	require.NoError(t, <-done)
	assert.Equal(t, limit, backend.MaxInFlight())
	assert.Equal(t, len(keys), backend.Calls("status"))
}

func TestClientBatchStatusCollectsNonFatalFailures(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Seed("good", "v1")
	backend.Fail("status", "odd", &remote.Error{Kind: remote.KindOther, Op: "status", Backend: "fake", Key: "odd", Err: errors.New("malformed response")})
	client := newTestClient(backend, 2)

	results, err := client.BatchStatus(context.Background(), []string{"good", "odd"})
	require.Error(t, err)

	var batchErr *remote.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Contains(t, batchErr.Failed, "odd")
	assert.True(t, results["good"].Exists)
	assert.Contains(t, err.Error(), "status check failed for 1 keys")
}

func TestClientBatchStatusAbortsOnFatal(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Fail("status", "", fakes.PermissionError("status", "", "secrets.get"))
	client := newTestClient(backend, 1)

	keys := []string{"a", "b", "c", "d", "e"}
	_, err := client.BatchStatus(context.Background(), keys)
	require.Error(t, err)
	assert.True(t, remote.IsFatal(err))
	assert.Less(t, backend.Calls("status"), len(keys))
}

func TestClientListAndValidate(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("primary")
	backend.Seed("b", "1")
	backend.Seed("a", "1")
	client := newTestClient(backend, 1)

	keys, err := client.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, client.Validate(context.Background()))

	backend.Fail("validate", "", fakes.PermissionError("validate", "", "secrets.list"))
	assert.Error(t, client.Validate(context.Background()))
}
