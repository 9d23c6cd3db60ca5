package convergence

import (
	"context"

	"github.com/systmms/secretsync/pkg/descriptor"
	"golang.org/x/sync/errgroup"
)

// Target is one delivery object expected for a set of descriptors
type Target struct {
	Scope     string `json:"scope"`
	Namespace string `json:"namespace"`
	Chart     string `json:"chart"`
}

// Name returns the delivery object name
func (t Target) Name() string {
	return descriptor.DeliveryObjectName(t.Chart)
}

// Targets derives the delivery objects for descriptors, one per
// (scope, namespace, chart), in first-seen order. Descriptors without a
// namespace hint use defaultNamespace.
func Targets(descs []descriptor.SecretDescriptor, defaultNamespace string) []Target {
	seen := make(map[Target]bool)
	var targets []Target
	for _, d := range descs {
		ns := d.NamespaceHint
		if ns == "" {
			ns = defaultNamespace
		}
		t := Target{Scope: d.DeploymentScope, Namespace: ns, Chart: d.ChartName}
		if seen[t] {
			continue
		}
		seen[t] = true
		targets = append(targets, t)
	}
	return targets
}

// Counts aggregates results
type Counts struct {
	Total  int `json:"total"`
	Synced int `json:"synced"`
	Ready  int `json:"ready"`
	Errors int `json:"errors"`
}

func (c *Counts) add(r Result) {
	c.Total++
	if r.Synced {
		c.Synced++
	}
	if r.Ready {
		c.Ready++
	}
	if r.State == StateFailed || r.State == StateTimedOut {
		c.Errors++
	}
}

// Succeeded reports errors == 0 and synced == total
func (c Counts) Succeeded() bool {
	return c.Errors == 0 && c.Synced == c.Total
}

// GroupResult holds the results for one (scope, namespace)
type GroupResult struct {
	Scope     string   `json:"scope"`
	Namespace string   `json:"namespace"`
	Results   []Result `json:"results"`
	Counts
}

// BatchResult is the aggregate of a batch validation
type BatchResult struct {
	Groups []GroupResult `json:"groups"`
	Counts
	Success bool `json:"success"`
}

// Failures returns results that did not converge, in group order
func (b BatchResult) Failures() []Result {
	var out []Result
	for _, g := range b.Groups {
		for _, r := range g.Results {
			if !r.Converged() {
				out = append(out, r)
			}
		}
	}
	return out
}

// ValidateBatch waits on the delivery object of every descriptor, at most
// Concurrency at a time. A failure on one object never stops the others.
func (v *Validator) ValidateBatch(ctx context.Context, descs []descriptor.SecretDescriptor) BatchResult {
	targets := Targets(descs, v.namespace)
	results := make([]Result, len(targets))

	g := new(errgroup.Group)
	g.SetLimit(v.concurrency)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			r := v.WaitForConvergence(ctx, t.Name(), t.Namespace, v.timeout)
			r.Scope = t.Scope
			results[i] = r
			switch r.State {
			case StateReady:
				v.logger.Info("%s/%s converged", r.Namespace, r.Name)
			case StateTimedOut:
				v.logger.Error("%s/%s timed out (ready=%t synced=%t)", r.Namespace, r.Name, r.Ready, r.Synced)
			default:
				v.logger.Error("%s/%s %s: %s", r.Namespace, r.Name, r.State, r.Error)
			}
			return nil
		})
	}
	_ = g.Wait()

	var batch BatchResult
	index := make(map[[2]string]int)
	for i, t := range targets {
		key := [2]string{t.Scope, t.Namespace}
		gi, ok := index[key]
		if !ok {
			gi = len(batch.Groups)
			index[key] = gi
			batch.Groups = append(batch.Groups, GroupResult{Scope: t.Scope, Namespace: t.Namespace})
		}
		batch.Groups[gi].Results = append(batch.Groups[gi].Results, results[i])
		batch.Groups[gi].add(results[i])
		batch.Counts.add(results[i])
	}
	batch.Success = batch.Counts.Succeeded()
	return batch
}
