package remote

import (
	"context"
	"fmt"
	"sort"

	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/logging"
)

// BackendFactory creates a backend from store configuration
type BackendFactory func(ctx context.Context, name string, cfg config.SecretStoreConfig, logger *logging.Logger) (Backend, error)

// Registry maps backend types to factories
type Registry struct {
	factories map[string]BackendFactory
}

// NewRegistry creates a registry with the built-in backends
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]BackendFactory)}

	r.RegisterFactory(TypeGCPSecretManager, NewGCPSecretManagerFactory)
	r.RegisterFactory(TypeAWSSecretsManager, NewAWSSecretsManagerFactory)
	r.RegisterFactory(TypeAWSSSM, NewAWSSSMFactory)
	r.RegisterFactory(TypeAzureKeyVault, NewAzureKeyVaultFactory)

	return r
}

// RegisterFactory registers or replaces the factory for a backend type
func (r *Registry) RegisterFactory(backendType string, factory BackendFactory) {
	r.factories[backendType] = factory
}

// CreateBackend creates a backend for a configured store
func (r *Registry) CreateBackend(ctx context.Context, name string, cfg config.SecretStoreConfig, logger *logging.Logger) (Backend, error) {
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown secret store type %q for store %s (supported: %v)", cfg.Type, name, r.SupportedTypes())
	}
	return factory(ctx, name, cfg, logger)
}

// SupportedTypes returns the registered backend types in sorted order
func (r *Registry) SupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a backend type is registered
func (r *Registry) IsSupported(backendType string) bool {
	_, ok := r.factories[backendType]
	return ok
}
