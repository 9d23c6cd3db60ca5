// Package descriptor defines the value types shared by every stage of secretsync.
//
// The types in this package carry no behavior beyond validation and small
// accessors. They describe what a deployment requires (SecretDescriptor and
// GenerationSpec) and what the two external systems currently report
// (RemoteSecretStatus for the secret backend, ConvergenceStatus for the
// in-cluster delivery object).
//
// # Architecture Overview
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                    CLI Commands                             │
//	│              (cmd/secretsync/commands/)                     │
//	└─────────────────────────┬───────────────────────────────────┘
//	                          │
//	┌─────────────────────────▼───────────────────────────────────┐
//	│                Sync Pipeline                                │
//	│              (internal/pipeline/)                           │
//	└──────┬──────────────┬───────────────┬───────────────┬───────┘
//	       │              │               │               │
//	┌──────▼─────┐ ┌──────▼─────┐ ┌───────▼──────┐ ┌──────▼──────┐
//	│ discovery  │ │ generator  │ │   remote     │ │ convergence │
//	└──────┬─────┘ └────────────┘ └──────────────┘ └─────────────┘
//	       │
//	┌──────▼──────────────────────────────────────────────────────┐
//	│              Descriptor Model (pkg/descriptor) ◄────────────┤
//	└─────────────────────────────────────────────────────────────┘
//
// # Ownership
//
// Descriptors are produced by the discovery scanner and passed by value to
// the other stages. RemoteSecretStatus and ConvergenceStatus are transient
// query results: they are recomputed on every query and never persisted.
// The secret backend is the system of record for secret material and the
// delivery object status is the system of record for delivery state.
//
// # Provisioning
//
// Each descriptor carries a Provisioning mode:
//
//   - ProvisionAuto: the value is synthesized from its GenerationSpec
//   - ProvisionManual: a value must be supplied by an operator before the
//     pipeline can succeed
//   - ProvisionOptional: a value may be supplied; when none is, the secret is
//     skipped without failing the run
package descriptor
