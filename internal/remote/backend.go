// Package remote talks to remote secret-management backends.
//
// A Backend is a thin adapter over one vendor SDK and reports failures as
// classified *Error values. Client layers retries, bounded fan-out, and the
// upsert protocol on top of any Backend. StoreSet routes descriptors to the
// Client for their secretStoreRef.
package remote

import (
	"context"

	"github.com/systmms/secretsync/pkg/descriptor"
)

// Backend types
const (
	TypeGCPSecretManager  = "gcp-secretmanager"
	TypeAWSSecretsManager = "aws-secretsmanager"
	TypeAWSSSM            = "aws-ssm"
	TypeAzureKeyVault     = "azure-keyvault"
)

// Backend is a keyed blob store scoped to one project, account, or vault.
//
// Status reports a missing key as Exists=false with a nil error. Create fails
// with KindConflict when the key exists; AddVersion and Delete fail with
// KindNotFound when it does not.
type Backend interface {
	// Name returns the configured store profile name.
	Name() string

	// Type returns the backend type.
	Type() string

	Status(ctx context.Context, key string) (descriptor.RemoteSecretStatus, error)
	Create(ctx context.Context, key string, value []byte) error
	AddVersion(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)

	// Validate checks connectivity and credentials with a minimal read.
	Validate(ctx context.Context) error
}
