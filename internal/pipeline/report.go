package pipeline

import (
	"fmt"
	"strings"

	"github.com/systmms/secretsync/internal/convergence"
	"github.com/systmms/secretsync/internal/discovery"
	"github.com/systmms/secretsync/pkg/descriptor"
)

// Failure names one offending secret and the condition it did not meet
type Failure struct {
	RemoteKey string `json:"remoteKey,omitempty"`
	Object    string `json:"object,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Reason    string `json:"reason"`
}

func (f Failure) String() string {
	var subject []string
	if f.RemoteKey != "" {
		subject = append(subject, f.RemoteKey)
	}
	if f.Object != "" {
		obj := f.Object
		if f.Namespace != "" {
			obj = f.Namespace + "/" + obj
		}
		subject = append(subject, obj)
	}
	return fmt.Sprintf("%s: %s", strings.Join(subject, " -> "), f.Reason)
}

// Report is the outcome of a sync run
type Report struct {
	DryRun      bool                     `json:"dryRun"`
	Discovery   *discovery.Result        `json:"discovery,omitempty"`
	Check       *CheckResult             `json:"check,omitempty"`
	Generate    *GenerateResult          `json:"generate,omitempty"`
	Convergence *convergence.BatchResult `json:"convergence,omitempty"`

	// Success is the convergence verdict; in dry-run it means no key failed
	// its status check.
	Success  bool      `json:"success"`
	Failures []Failure `json:"failures,omitempty"`
}

func (r *Report) finish() {
	r.Failures = nil

	if r.Generate != nil {
		for _, o := range r.Generate.Failed() {
			r.Failures = append(r.Failures, Failure{
				RemoteKey: o.RemoteKey,
				Object:    descriptor.DeliveryObjectName(o.Chart),
				Reason:    o.Reason,
			})
		}
	}

	if r.Convergence != nil {
		for _, res := range r.Convergence.Failures() {
			r.Failures = append(r.Failures, Failure{
				Object:    res.Name,
				Namespace: res.Namespace,
				Reason:    unmetCondition(res),
			})
		}
		r.Success = r.Convergence.Success
		return
	}

	r.Success = r.DryRun && len(r.Failures) == 0
}

// unmetCondition describes why res did not converge
func unmetCondition(res convergence.Result) string {
	if res.Error != "" {
		return fmt.Sprintf("%s: %s", res.State, res.Error)
	}
	var unmet []string
	if !res.Ready {
		unmet = append(unmet, convergence.ConditionReady+" is not True")
	}
	if !res.Synced {
		unmet = append(unmet, convergence.ConditionSecretSynced+" is not True")
	}
	if len(unmet) == 0 {
		return string(res.State)
	}
	return fmt.Sprintf("%s: %s", res.State, strings.Join(unmet, ", "))
}
