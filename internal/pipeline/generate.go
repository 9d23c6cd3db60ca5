package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/systmms/secretsync/internal/generator"
	"github.com/systmms/secretsync/internal/input"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/internal/metrics"
	"github.com/systmms/secretsync/internal/remote"
	"github.com/systmms/secretsync/internal/secure"
	"github.com/systmms/secretsync/pkg/descriptor"
)

// Action is what Generate did, or would do, for a missing key
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"

	// Dry-run actions
	ActionWouldGenerate Action = "would-generate"
	ActionWouldPrompt   Action = "would-prompt"
)

// Outcome records the action taken for one store key
type Outcome struct {
	RemoteKey    string                  `json:"remoteKey"`
	Store        string                  `json:"store,omitempty"`
	Chart        string                  `json:"chart"`
	Scope        string                  `json:"scope"`
	Provisioning descriptor.Provisioning `json:"provisioning"`
	Action       Action                  `json:"action"`
	Reason       string                  `json:"reason,omitempty"`
	Strength     *generator.Strength     `json:"strength,omitempty"`
}

// GenerateResult lists the outcome for every missing or unchecked key
type GenerateResult struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Count returns the number of outcomes with action a
func (g *GenerateResult) Count(a Action) int {
	n := 0
	for _, o := range g.Outcomes {
		if o.Action == a {
			n++
		}
	}
	return n
}

// Failed returns outcomes with ActionFailed
func (g *GenerateResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range g.Outcomes {
		if o.Action == ActionFailed {
			out = append(out, o)
		}
	}
	return out
}

// Generate provisions every missing key once. Auto keys are generated,
// manual keys must be supplied by the input provider, and optional keys are
// skipped when no value is supplied. Entries whose status is unknown are
// reported as failed. Fatal backend errors abort the stage.
func (p *Pipeline) Generate(ctx context.Context, check *CheckResult) (*GenerateResult, error) {
	result := &GenerateResult{}

	for _, e := range p.uniqueEntries(check.Entries) {
		if e.Err == nil && e.Status.Populated() {
			continue
		}

		d := e.Descriptor
		out := Outcome{
			RemoteKey:    d.RemoteKey,
			Store:        e.Store,
			Chart:        d.ChartName,
			Scope:        d.DeploymentScope,
			Provisioning: d.Provisioning,
		}

		if e.Err != nil {
			out.Action = ActionFailed
			out.Reason = fmt.Sprintf("status unknown: %v", e.Err)
			p.record(result, out)
			continue
		}

		if p.dryRun {
			out.Action = ActionWouldPrompt
			if d.CanGenerate() {
				out.Action = ActionWouldGenerate
			}
			p.logger.Info("[dry-run] %s %s", out.Action, d.RemoteKey)
			p.record(result, out)
			continue
		}

		value, out, err := p.obtain(ctx, d, out)
		if err != nil {
			return result, err
		}
		if value == nil {
			p.record(result, out)
			continue
		}

		out, err = p.store(ctx, e, value, out)
		value.Destroy()
		if err != nil {
			return result, err
		}
		p.record(result, out)
	}
	return result, nil
}

// uniqueEntries returns one entry per (store, remote key) in first-seen
// order. A declaration that can generate the value wins over manual ones.
func (p *Pipeline) uniqueEntries(entries []Entry) []Entry {
	var out []Entry
	index := make(map[remote.StoreKey]int)
	for _, e := range entries {
		key := e.Key()
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, e)
			continue
		}

		first := out[i].Descriptor
		if first.Provisioning != e.Descriptor.Provisioning {
			p.logger.Warn("%s is declared with different provisioning in %s/%s (%s) and %s/%s (%s)",
				e.Descriptor.RemoteKey,
				first.DeploymentScope, first.ChartName, first.Provisioning,
				e.Descriptor.DeploymentScope, e.Descriptor.ChartName, e.Descriptor.Provisioning)
		}
		if !first.CanGenerate() && e.Descriptor.CanGenerate() {
			out[i] = e
		}
	}
	return out
}

// obtain produces a sealed value, or a nil value with a terminal outcome
func (p *Pipeline) obtain(ctx context.Context, d descriptor.SecretDescriptor, out Outcome) (*secure.Value, Outcome, error) {
	if d.CanGenerate() {
		raw, err := p.generator.Generate(*d.Generation)
		if err != nil {
			out.Action = ActionFailed
			out.Reason = fmt.Sprintf("generation failed: %v", err)
			return nil, out, nil
		}
		return secure.FromString(raw), out, nil
	}

	req := input.Request{
		RemoteKey: d.RemoteKey,
		Chart:     d.ChartName,
		Scope:     d.DeploymentScope,
		Optional:  d.Provisioning == descriptor.ProvisionOptional,
	}
	if d.Generation != nil {
		req.Description = d.Generation.Description
	}

	raw, err := p.input.Provide(ctx, req)
	switch {
	case errors.Is(err, input.ErrNoInput) || (err == nil && raw == ""):
		if req.Optional {
			out.Action = ActionSkipped
			out.Reason = "optional secret, no value provided"
			p.logger.Info("Skipping optional secret %s", d.RemoteKey)
			return nil, out, nil
		}
		out.Action = ActionFailed
		out.Reason = "manual secret, no value provided"
		p.logger.Error("No value provided for %s", d.RemoteKey)
		return nil, out, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return nil, out, err
	case err != nil:
		out.Action = ActionFailed
		out.Reason = fmt.Sprintf("input failed: %v", err)
		return nil, out, nil
	}

	strength := generator.Score(raw)
	out.Strength = &strength
	if strength.Weak() {
		p.logger.Warn("Value for %s is weak (score %d/%d): %v", d.RemoteKey, strength.Score, generator.MaxScore, strength.Hints)
	}
	return secure.FromString(raw), out, nil
}

// store upserts value. Only fatal errors are returned.
func (p *Pipeline) store(ctx context.Context, e Entry, value *secure.Value, out Outcome) (Outcome, error) {
	_, client, err := p.stores.Client(ctx, e.Descriptor.SecretStoreRef)
	if err != nil {
		out.Action = ActionFailed
		out.Reason = err.Error()
		return out, nil
	}

	var res remote.UpsertResult
	var reason string
	err = value.Use(func(b []byte) error {
		var uerr error
		res, uerr = client.Upsert(ctx, e.Descriptor.RemoteKey, b)
		if uerr != nil {
			reason = logging.Redact(uerr.Error(), []string{string(b)})
		}
		return uerr
	})
	if err != nil {
		if remote.IsFatal(err) || errors.Is(err, context.Canceled) {
			return out, err
		}
		if reason == "" {
			reason = err.Error()
		}
		out.Action = ActionFailed
		out.Reason = reason
		p.logger.Error("Failed to store %s: %s", e.Descriptor.RemoteKey, reason)
		return out, nil
	}

	out.Action = ActionUpdated
	if res.Created {
		out.Action = ActionCreated
	}
	p.logger.Info("Stored %s in %s (%s)", e.Descriptor.RemoteKey, e.Store, out.Action)
	return out, nil
}

func (p *Pipeline) record(result *GenerateResult, out Outcome) {
	if !p.dryRun {
		metrics.RecordAction(string(out.Action))
	}
	result.Outcomes = append(result.Outcomes, out)
}
