package fakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/systmms/secretsync/internal/remote"
	"github.com/systmms/secretsync/pkg/descriptor"
)

// FakeBackendType is the Type() reported by FakeBackend
const FakeBackendType = "fake"

// FakeBackend is an in-memory remote.Backend.
//
// Errors are injected per operation and key: Fail sets a sticky error,
// FailNext queues errors consumed one call at a time. An empty key matches
// every key. InFlight tracking records the highest number of concurrent calls.
type FakeBackend struct {
	mu sync.Mutex

	name     string
	versions map[string][][]byte
	updated  map[string]time.Time
	sticky   map[string]error
	queued   map[string][]error
	calls    map[string]int

	inFlight    int
	maxInFlight int

	// Hold blocks every call until it is closed, when set.
	Hold chan struct{}

	// BeforeCreate runs before Create stores a value, outside the lock.
	BeforeCreate func(key string)

	// Now supplies update timestamps; defaults to time.Now.
	Now func() time.Time
}

var _ remote.Backend = (*FakeBackend)(nil)

// NewFakeBackend creates an empty backend
func NewFakeBackend(name string) *FakeBackend {
	return &FakeBackend{
		name:     name,
		versions: make(map[string][][]byte),
		updated:  make(map[string]time.Time),
		sticky:   make(map[string]error),
		queued:   make(map[string][]error),
		calls:    make(map[string]int),
		Now:      time.Now,
	}
}

func opKey(op, key string) string {
	return op + "\x00" + key
}

// Seed stores versions for key, oldest first. Seeding no values leaves an
// existing key without versions.
func (f *FakeBackend) Seed(key string, values ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.versions[key]; !ok {
		f.versions[key] = [][]byte{}
	}
	for _, v := range values {
		f.versions[key] = append(f.versions[key], []byte(v))
	}
	f.updated[key] = f.Now()
}

// Fail makes every op call on key return err. A nil err clears it.
func (f *FakeBackend) Fail(op, key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.sticky, opKey(op, key))
		return
	}
	f.sticky[opKey(op, key)] = err
}

// FailNext queues errs for the next op calls on key
func (f *FakeBackend) FailNext(op, key string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[opKey(op, key)] = append(f.queued[opKey(op, key)], errs...)
}

// Calls returns how many times op was invoked
func (f *FakeBackend) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// MaxInFlight returns the highest number of concurrent calls observed
func (f *FakeBackend) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// Versions returns the stored versions of key, oldest first
func (f *FakeBackend) Versions(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.versions[key]))
	for _, v := range f.versions[key] {
		out = append(out, string(v))
	}
	return out
}

// Latest returns the newest value of key
func (f *FakeBackend) Latest(key string) (string, bool) {
	versions := f.Versions(key)
	if len(versions) == 0 {
		return "", false
	}
	return versions[len(versions)-1], true
}

// enter records the call and returns any injected error
func (f *FakeBackend) enter(ctx context.Context, op, key string) error {
	f.mu.Lock()
	f.calls[op]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	hold := f.Hold
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			f.exit()
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range []string{opKey(op, key), opKey(op, "")} {
		if q := f.queued[k]; len(q) > 0 {
			f.queued[k] = q[1:]
			f.inFlight--
			return q[0]
		}
		if err, ok := f.sticky[k]; ok {
			f.inFlight--
			return err
		}
	}
	return nil
}

func (f *FakeBackend) exit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
}

func (f *FakeBackend) notFound(op, key string) error {
	return &remote.Error{Kind: remote.KindNotFound, Op: op, Backend: FakeBackendType, Key: key}
}

// Name returns the store profile name
func (f *FakeBackend) Name() string { return f.name }

// Type returns FakeBackendType
func (f *FakeBackend) Type() string { return FakeBackendType }

// Status reports existence, version count, and last update
func (f *FakeBackend) Status(ctx context.Context, key string) (descriptor.RemoteSecretStatus, error) {
	if err := f.enter(ctx, "status", key); err != nil {
		return descriptor.RemoteSecretStatus{RemoteKey: key}, err
	}
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()

	versions, ok := f.versions[key]
	status := descriptor.RemoteSecretStatus{RemoteKey: key, Exists: ok, VersionCount: len(versions)}
	if status.Exists {
		t := f.updated[key]
		status.LastUpdated = &t
	}
	return status, nil
}

// Create stores the first version, failing with a conflict when key exists
func (f *FakeBackend) Create(ctx context.Context, key string, value []byte) error {
	if err := f.enter(ctx, "create", key); err != nil {
		return err
	}
	defer f.exit()

	if f.BeforeCreate != nil {
		f.BeforeCreate(key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.versions[key]; ok {
		return &remote.Error{Kind: remote.KindConflict, Op: "create", Backend: FakeBackendType, Key: key}
	}
	f.versions[key] = [][]byte{append([]byte(nil), value...)}
	f.updated[key] = f.Now()
	return nil
}

// AddVersion appends a version to an existing key
func (f *FakeBackend) AddVersion(ctx context.Context, key string, value []byte) error {
	if err := f.enter(ctx, "add-version", key); err != nil {
		return err
	}
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.versions[key]; !ok {
		return f.notFound("add-version", key)
	}
	f.versions[key] = append(f.versions[key], append([]byte(nil), value...))
	f.updated[key] = f.Now()
	return nil
}

// Delete removes key and all its versions
func (f *FakeBackend) Delete(ctx context.Context, key string) error {
	if err := f.enter(ctx, "delete", key); err != nil {
		return err
	}
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.versions[key]; !ok {
		return f.notFound("delete", key)
	}
	delete(f.versions, key)
	delete(f.updated, key)
	return nil
}

// List returns every key in sorted order
func (f *FakeBackend) List(ctx context.Context) ([]string, error) {
	if err := f.enter(ctx, "list", ""); err != nil {
		return nil, err
	}
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.versions))
	for k := range f.versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Validate succeeds unless an error is injected for "validate"
func (f *FakeBackend) Validate(ctx context.Context) error {
	if err := f.enter(ctx, "validate", ""); err != nil {
		return err
	}
	f.exit()
	return nil
}

// TransientError returns a retryable backend error
func TransientError(op, key string) error {
	return &remote.Error{Kind: remote.KindTransient, Op: op, Backend: FakeBackendType, Key: key}
}

// PermissionError returns a fatal permission error
func PermissionError(op, key, permission string) error {
	return &remote.Error{Kind: remote.KindPermission, Op: op, Backend: FakeBackendType, Key: key, Permission: permission, Identity: "ci@example.iam"}
}

// InFlight returns the number of calls currently executing
func (f *FakeBackend) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}
