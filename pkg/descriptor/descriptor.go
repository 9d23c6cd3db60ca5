package descriptor

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultSecretStoreRef is the backend profile used when a declaration names none.
	DefaultSecretStoreRef = "gcp-store"

	// DefaultRefreshInterval is how often the delivery controller re-pulls by default.
	DefaultRefreshInterval = "1h"

	// DeliveryObjectSuffix is appended to a chart name to form the delivery object name.
	// The manifest renderer uses the same convention; both sides must agree.
	DeliveryObjectSuffix = "-credentials"
)

// Kind identifies the shape of a generated value.
type Kind string

const (
	KindPassword Kind = "password"
	KindKey      Kind = "key"
	KindToken    Kind = "token"
	KindString   Kind = "string"
)

// Kinds returns the recognized generation kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindPassword, KindKey, KindToken, KindString}
}

// Valid reports whether k is one of the recognized kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// GenerationSpec describes how to synthesize a secret value.
//
// For password and key, Length is a character count. For token and string,
// Length is the number of random bytes before encoding. Zero means the
// generator default.
type GenerationSpec struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Kind        Kind   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Length      int    `json:"length,omitempty" yaml:"length,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Provisioning states how a missing value is obtained.
type Provisioning string

const (
	ProvisionAuto     Provisioning = "auto"
	ProvisionManual   Provisioning = "manual"
	ProvisionOptional Provisioning = "optional"
)

// SecretDescriptor is the normalized record of one required secret.
type SecretDescriptor struct {
	// SourceLocation is the document the declaration came from.
	SourceLocation string `json:"sourceLocation"`

	// DeploymentScope is the logical deployment the secret belongs to.
	DeploymentScope string `json:"deploymentScope"`

	// ChartName is the component within the deployment that owns the secret.
	ChartName string `json:"chartName"`

	// Environment is inferred from the scope name; empty when unrecognized.
	Environment string `json:"environment,omitempty"`

	// RemoteKey identifies the secret in the backend. Two descriptors share a
	// RemoteKey only when they refer to the same logical secret.
	RemoteKey string `json:"remoteKey"`

	// Generation is nil when the declaration carries no generator block.
	Generation *GenerationSpec `json:"generation,omitempty"`

	Provisioning    Provisioning `json:"provisioning"`
	SecretStoreRef  string       `json:"secretStoreRef"`
	RefreshInterval string       `json:"refreshInterval"`

	// NamespaceHint scopes convergence polling; empty means the configured default.
	NamespaceHint string `json:"namespaceHint,omitempty"`
}

// FieldError reports a malformed descriptor field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the descriptor invariants: a non-empty remote key, and a
// recognized kind whenever generation is enabled.
func (d SecretDescriptor) Validate() error {
	if strings.TrimSpace(d.RemoteKey) == "" {
		return &FieldError{Field: "remoteKey", Message: "must not be empty"}
	}
	if d.Generation != nil && d.Generation.Enabled {
		if d.Generation.Kind == "" {
			return &FieldError{Field: "generator.kind", Message: "required when generator is enabled"}
		}
		if !d.Generation.Kind.Valid() {
			return &FieldError{
				Field:   "generator.kind",
				Message: fmt.Sprintf("unknown kind %q (expected one of %s)", d.Generation.Kind, joinKinds()),
			}
		}
		if d.Generation.Length < 0 {
			return &FieldError{Field: "generator.length", Message: "must not be negative"}
		}
	}
	return nil
}

// CanGenerate reports whether the value can be synthesized locally.
func (d SecretDescriptor) CanGenerate() bool {
	return d.Generation != nil && d.Generation.Enabled
}

// DeliveryObjectName returns the expected in-cluster delivery object name.
func (d SecretDescriptor) DeliveryObjectName() string {
	return DeliveryObjectName(d.ChartName)
}

// DeliveryObjectName derives the delivery object name for a chart.
func DeliveryObjectName(chart string) string {
	return chart + DeliveryObjectSuffix
}

func joinKinds() string {
	names := make([]string, 0, len(Kinds()))
	for _, k := range Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

// RemoteSecretStatus is the backend's view of one remote key.
type RemoteSecretStatus struct {
	RemoteKey    string     `json:"remoteKey"`
	Exists       bool       `json:"exists"`
	LastUpdated  *time.Time `json:"lastUpdated,omitempty"`
	VersionCount int        `json:"versionCount,omitempty"`
}

// Empty reports a key that exists but holds no live version, as left behind
// by a create whose first version was never written.
func (s RemoteSecretStatus) Empty() bool {
	return s.Exists && s.VersionCount == 0
}

// Populated reports whether the key holds a value the delivery controller can read.
func (s RemoteSecretStatus) Populated() bool {
	return s.Exists && s.VersionCount > 0
}

// Condition is one named condition on a delivery object.
type Condition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// IsTrue reports whether the condition status is "True".
func (c Condition) IsTrue() bool {
	return strings.EqualFold(c.Status, "True")
}

// ConvergenceStatus is a single observation of a delivery object.
type ConvergenceStatus struct {
	Name         string      `json:"name"`
	Namespace    string      `json:"namespace"`
	Exists       bool        `json:"exists"`
	Synced       bool        `json:"synced"`
	Ready        bool        `json:"ready"`
	Materialized bool        `json:"materialized"`
	LastSyncTime *time.Time  `json:"lastSyncTime,omitempty"`
	Conditions   []Condition `json:"conditions,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// Converged reports whether both the ready and synced conditions hold.
func (s ConvergenceStatus) Converged() bool {
	return s.Exists && s.Ready && s.Synced
}
