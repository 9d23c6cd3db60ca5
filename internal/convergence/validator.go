// Package convergence confirms that delivery objects in the cluster have
// pulled secrets from the remote backend.
//
// A delivery object is an external-secrets.io ExternalSecret named
// "<chart>-credentials". It has converged when both its Ready and
// SecretSynced conditions hold. A single observation is made by Check;
// WaitForConvergence polls until the object converges, reports an explicit
// error, or the timeout elapses.
package convergence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/internal/metrics"
	"github.com/systmms/secretsync/pkg/descriptor"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// Defaults
const (
	DefaultInterval    = 2 * time.Second
	DefaultTimeout     = 60 * time.Second
	DefaultAPIVersion  = "v1beta1"
	DefaultNamespace   = "default"
	DefaultConcurrency = 10

	// Group is the API group of delivery objects
	Group = "external-secrets.io"
)

// Condition types and reasons reported by the delivery controller
const (
	ConditionReady        = "Ready"
	ConditionSecretSynced = "SecretSynced"
	ReasonSecretSynced    = "SecretSynced"
)

// State is the outcome of a convergence check
type State string

const (
	StateUnknown  State = "Unknown"
	StatePending  State = "Pending"
	StateReady    State = "Ready"
	StateFailed   State = "Failed"
	StateTimedOut State = "TimedOut"
)

// Terminal reports whether polling stops at this state
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed || s == StateTimedOut
}

// Observation is the result of one read of a delivery object
type Observation struct {
	Status descriptor.ConvergenceStatus
	State  State

	// Err is an API failure other than not-found; State is Unknown when set.
	Err error
}

// Result is the outcome of waiting on one delivery object
type Result struct {
	Name      string                       `json:"name"`
	Namespace string                       `json:"namespace"`
	Scope     string                       `json:"scope,omitempty"`
	State     State                        `json:"state"`
	Synced    bool                         `json:"synced"`
	Ready     bool                         `json:"ready"`
	Error     string                       `json:"error,omitempty"`
	Status    descriptor.ConvergenceStatus `json:"status"`
	Polls     int                          `json:"polls"`
	Elapsed   time.Duration                `json:"elapsed"`
}

// Converged reports whether the object reached Ready
func (r Result) Converged() bool {
	return r.State == StateReady
}

// Options configures a Validator
type Options struct {
	Dynamic dynamic.Interface

	// Core is used to confirm the target Secret exists; nil skips the check.
	Core kubernetes.Interface

	APIVersion  string
	Namespace   string
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
	Clock       clock.Clock
	Logger      *logging.Logger
}

// Validator reads delivery objects through the dynamic client
type Validator struct {
	dynamic     dynamic.Interface
	core        kubernetes.Interface
	gvr         schema.GroupVersionResource
	namespace   string
	interval    time.Duration
	timeout     time.Duration
	concurrency int
	clock       clock.Clock
	logger      *logging.Logger
}

// GVR returns the ExternalSecret resource for an API version
func GVR(apiVersion string) schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: Group, Version: apiVersion, Resource: "externalsecrets"}
}

// New creates a Validator
func New(opts Options) *Validator {
	v := &Validator{
		dynamic:     opts.Dynamic,
		core:        opts.Core,
		gvr:         GVR(opts.APIVersion),
		namespace:   opts.Namespace,
		interval:    opts.Interval,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
	if opts.APIVersion == "" {
		v.gvr = GVR(DefaultAPIVersion)
	}
	if v.namespace == "" {
		v.namespace = DefaultNamespace
	}
	if v.interval <= 0 {
		v.interval = DefaultInterval
	}
	if v.timeout <= 0 {
		v.timeout = DefaultTimeout
	}
	if v.concurrency <= 0 {
		v.concurrency = DefaultConcurrency
	}
	if v.clock == nil {
		v.clock = clock.WallClock
	}
	if v.logger == nil {
		v.logger = logging.Discard()
	}
	return v
}

// Resource returns the delivery object resource being polled
func (v *Validator) Resource() schema.GroupVersionResource {
	return v.gvr
}

// Namespace returns the namespace used when a descriptor has no hint
func (v *Validator) Namespace() string {
	return v.namespace
}

// Timeout returns the default wait timeout
func (v *Validator) Timeout() time.Duration {
	return v.timeout
}

// Check makes one observation of a delivery object
func (v *Validator) Check(ctx context.Context, name, namespace string) Observation {
	if namespace == "" {
		namespace = v.namespace
	}
	status := descriptor.ConvergenceStatus{Name: name, Namespace: namespace}

	obj, err := v.dynamic.Resource(v.gvr).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		status.ErrorMessage = "not found"
		return Observation{Status: status, State: StateFailed}
	}
	if err != nil {
		return Observation{Status: status, State: StateUnknown, Err: err}
	}

	status.Exists = true
	status.Conditions = conditions(obj)
	for _, c := range status.Conditions {
		switch c.Type {
		case ConditionReady:
			status.Ready = c.IsTrue()
			if c.IsTrue() && c.Reason == ReasonSecretSynced {
				status.Synced = true
			}
		case ConditionSecretSynced:
			if c.IsTrue() {
				status.Synced = true
			}
		}
		if !c.IsTrue() && strings.HasSuffix(c.Reason, "Error") && status.ErrorMessage == "" {
			status.ErrorMessage = c.Message
			if status.ErrorMessage == "" {
				status.ErrorMessage = c.Reason
			}
		}
	}

	if refresh, found, _ := unstructured.NestedString(obj.Object, "status", "refreshTime"); found && refresh != "" {
		if t, err := time.Parse(time.RFC3339, refresh); err == nil {
			status.LastSyncTime = &t
		}
	}

	status.Materialized = v.materialized(ctx, obj, name, namespace)

	switch {
	case status.ErrorMessage != "":
		return Observation{Status: status, State: StateFailed}
	case status.Converged():
		return Observation{Status: status, State: StateReady}
	default:
		return Observation{Status: status, State: StatePending}
	}
}

// materialized reports whether the target Secret exists
func (v *Validator) materialized(ctx context.Context, obj *unstructured.Unstructured, name, namespace string) bool {
	if v.core == nil {
		return false
	}
	target, _, _ := unstructured.NestedString(obj.Object, "spec", "target", "name")
	if target == "" {
		target = name
	}
	_, err := v.core.CoreV1().Secrets(namespace).Get(ctx, target, metav1.GetOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		v.logger.Debug("Could not read secret %s/%s: %v", namespace, target, err)
	}
	return err == nil
}

func conditions(obj *unstructured.Unstructured) []descriptor.Condition {
	raw, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if !found || err != nil {
		return nil
	}

	out := make([]descriptor.Condition, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		c := descriptor.Condition{}
		c.Type, _, _ = unstructured.NestedString(m, "type")
		c.Status, _, _ = unstructured.NestedString(m, "status")
		c.Reason, _, _ = unstructured.NestedString(m, "reason")
		c.Message, _, _ = unstructured.NestedString(m, "message")
		out = append(out, c)
	}
	return out
}

// WaitForConvergence polls a delivery object every interval. Exit conditions
// are checked in order: an explicit error, both conditions true, then the
// timeout. A zero timeout uses the configured default.
func (v *Validator) WaitForConvergence(ctx context.Context, name, namespace string, timeout time.Duration) Result {
	if namespace == "" {
		namespace = v.namespace
	}
	if timeout <= 0 {
		timeout = v.timeout
	}

	start := v.clock.Now()
	deadline := start.Add(timeout)
	result := Result{Name: name, Namespace: namespace, State: StateUnknown}

	var lastErr error
	for {
		obs := v.Check(ctx, name, namespace)
		result.Polls++
		result.Status = obs.Status
		result.Ready = obs.Status.Ready
		result.Synced = obs.Status.Synced
		result.State = obs.State
		if obs.Err != nil {
			lastErr = obs.Err
			v.logger.Debug("Reading %s/%s failed: %v", namespace, name, obs.Err)
		} else if obs.State == StatePending {
			v.logger.Debug("%s/%s pending (ready=%t synced=%t)", namespace, name, obs.Status.Ready, obs.Status.Synced)
		}

		if obs.State == StateFailed || obs.State == StateReady {
			result.Error = obs.Status.ErrorMessage
			return v.finish(result, start)
		}

		now := v.clock.Now()
		if !now.Before(deadline) {
			result.State = StateTimedOut
			result.Error = fmt.Sprintf("%s/%s did not converge within %s", namespace, name, timeout)
			if lastErr != nil {
				result.Error += ": " + lastErr.Error()
			}
			return v.finish(result, start)
		}

		wait := v.interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			result.State = StateUnknown
			result.Error = ctx.Err().Error()
			return v.finish(result, start)
		case <-v.clock.After(wait):
		}
	}
}

func (v *Validator) finish(r Result, start time.Time) Result {
	r.Elapsed = v.clock.Now().Sub(start)
	metrics.RecordConvergence(string(r.State), r.Elapsed.Seconds())
	return r
}
