package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/internal/metrics"
	"github.com/systmms/secretsync/pkg/descriptor"
	"golang.org/x/sync/errgroup"
)

// Client defaults
const (
	DefaultConcurrency   = 10
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 500 * time.Millisecond
)

// ClientOptions configures a Client
type ClientOptions struct {
	Logger *logging.Logger
	Clock  clock.Clock

	// Concurrency caps outstanding calls in BatchStatus.
	Concurrency int

	// RetryAttempts is the total number of tries for a transient failure.
	RetryAttempts int
	RetryDelay    time.Duration

	// Timeout bounds each backend call; zero means no bound.
	Timeout time.Duration
}

// Client wraps a Backend with retries and bounded fan-out
type Client struct {
	backend     Backend
	logger      *logging.Logger
	clock       clock.Clock
	concurrency int
	attempts    int
	delay       time.Duration
	timeout     time.Duration
}

// UpsertResult reports what Upsert did
type UpsertResult struct {
	Created bool
}

// BatchError collects per-key failures that did not abort a batch
type BatchError struct {
	Failed map[string]error
}

func (e *BatchError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Failed[k]))
	}
	return fmt.Sprintf("status check failed for %d keys: %s", len(keys), strings.Join(parts, "; "))
}

// NewClient creates a client for a backend
func NewClient(backend Backend, opts ClientOptions) *Client {
	c := &Client{
		backend:     backend,
		logger:      opts.Logger,
		clock:       opts.Clock,
		concurrency: opts.Concurrency,
		attempts:    opts.RetryAttempts,
		delay:       opts.RetryDelay,
		timeout:     opts.Timeout,
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.clock == nil {
		c.clock = clock.WallClock
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	if c.attempts <= 0 {
		c.attempts = DefaultRetryAttempts
	}
	if c.delay <= 0 {
		c.delay = DefaultRetryDelay
	}
	return c
}

// Backend returns the wrapped backend
func (c *Client) Backend() Backend {
	return c.backend
}

// call runs fn, retrying transient failures with doubling backoff
func (c *Client) call(ctx context.Context, op, key string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// lastErr is the backend's own error; retry.Call wraps what it returns.
	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			callCtx := ctx
			if c.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, c.timeout)
				defer cancel()
			}
			lastErr = fn(callCtx)
			return lastErr
		},
		IsFatalError: func(err error) bool {
			return !IsTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if attempt < c.attempts {
				c.logger.Debug("%s %s %s: attempt %d failed, retrying: %v", c.backend.Type(), op, key, attempt, err)
				metrics.RecordRetry(c.backend.Type(), op)
			}
		},
		Attempts:    c.attempts,
		Delay:       c.delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})

	switch {
	case err == nil:
		metrics.RecordBackendCall(c.backend.Type(), op, "ok")
		return nil

	case retry.IsAttemptsExceeded(err):
		metrics.RecordBackendCall(c.backend.Type(), op, "exhausted")
		exhausted := &Error{Kind: KindTransient, Op: op, Backend: c.backend.Type(), Key: key, Err: lastErr}
		var rerr *Error
		if errors.As(lastErr, &rerr) {
			copied := *rerr
			exhausted = &copied
		}
		exhausted.Attempts = c.attempts
		return exhausted

	case retry.IsRetryStopped(err):
		metrics.RecordBackendCall(c.backend.Type(), op, "cancelled")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err

	case lastErr == nil:
		metrics.RecordBackendCall(c.backend.Type(), op, "error")
		return err

	case IsNotFound(lastErr):
		metrics.RecordBackendCall(c.backend.Type(), op, "not_found")
		return lastErr

	default:
		metrics.RecordBackendCall(c.backend.Type(), op, "error")
		return lastErr
	}
}

// Status returns the backend's view of key. A missing key is not an error.
func (c *Client) Status(ctx context.Context, key string) (descriptor.RemoteSecretStatus, error) {
	var status descriptor.RemoteSecretStatus
	err := c.call(ctx, "status", key, func(ctx context.Context) error {
		var err error
		status, err = c.backend.Status(ctx, key)
		return err
	})
	if IsNotFound(err) {
		return descriptor.RemoteSecretStatus{RemoteKey: key}, nil
	}
	if err != nil {
		return descriptor.RemoteSecretStatus{RemoteKey: key}, err
	}
	status.RemoteKey = key
	return status, nil
}

// Exists reports whether key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	status, err := c.Status(ctx, key)
	if err != nil {
		return false, err
	}
	return status.Exists, nil
}

// BatchStatus checks many keys with at most Concurrency calls in flight.
// Repeated keys are checked once. A fatal error cancels the remaining checks
// and is returned with the partial result; other per-key failures are
// returned together as a *BatchError.
func (c *Client) BatchStatus(ctx context.Context, keys []string) (map[string]descriptor.RemoteSecretStatus, error) {
	results := make(map[string]descriptor.RemoteSecretStatus, len(keys))
	failed := make(map[string]error)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true

		key := key
		g.Go(func() error {
			status, err := c.Status(gctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if IsFatal(err) || errors.Is(err, context.Canceled) {
					return err
				}
				failed[key] = err
				return nil
			}
			results[key] = status
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if len(failed) > 0 {
		return results, &BatchError{Failed: failed}
	}
	return results, nil
}

// Create stores the first version of a new key
func (c *Client) Create(ctx context.Context, key string, value []byte) error {
	return c.call(ctx, "create", key, func(ctx context.Context) error {
		return c.backend.Create(ctx, key, value)
	})
}

// AddVersion appends a version to an existing key
func (c *Client) AddVersion(ctx context.Context, key string, value []byte) error {
	return c.call(ctx, "add-version", key, func(ctx context.Context) error {
		return c.backend.AddVersion(ctx, key, value)
	})
}

// Upsert checks status first, then creates or appends a version. A create
// that loses a race with a concurrent run falls back to appending.
func (c *Client) Upsert(ctx context.Context, key string, value []byte) (UpsertResult, error) {
	status, err := c.Status(ctx, key)
	if err != nil {
		return UpsertResult{}, err
	}

	if status.Exists {
		return UpsertResult{Created: false}, c.AddVersion(ctx, key, value)
	}

	err = c.Create(ctx, key, value)
	if IsConflict(err) {
		c.logger.Debug("%s was created concurrently, adding a version instead", key)
		return UpsertResult{Created: false}, c.AddVersion(ctx, key, value)
	}
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Created: true}, nil
}

// Delete removes key. It reports whether the key existed.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	err := c.call(ctx, "delete", key, func(ctx context.Context) error {
		return c.backend.Delete(ctx, key)
	})
	if IsNotFound(err) {
		c.logger.Debug("%s does not exist, nothing to delete", key)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns every key in the backend
func (c *Client) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := c.call(ctx, "list", "", func(ctx context.Context) error {
		var err error
		keys, err = c.backend.List(ctx)
		return err
	})
	return keys, err
}

// Validate checks backend connectivity
func (c *Client) Validate(ctx context.Context) error {
	return c.call(ctx, "validate", "", c.backend.Validate)
}
