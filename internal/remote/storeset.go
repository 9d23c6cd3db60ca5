package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/systmms/secretsync/internal/config"
	dserrors "github.com/systmms/secretsync/internal/errors"
	"github.com/systmms/secretsync/pkg/descriptor"
)

// StoreKey identifies a remote key within a store profile
type StoreKey struct {
	Store     string
	RemoteKey string
}

func (k StoreKey) String() string {
	return k.Store + "/" + k.RemoteKey
}

// StoreSet routes secretStoreRefs to clients, creating backends on first use
type StoreSet struct {
	mu      sync.Mutex
	clients map[string]*Client
	resolve func(ref string) (string, config.SecretStoreConfig, error)
	open    func(ctx context.Context, name string, cfg config.SecretStoreConfig) (*Client, error)
}

// NewStoreSet creates a store set backed by configuration and a registry
func NewStoreSet(cfg *config.Config, registry *Registry, opts ClientOptions) *StoreSet {
	return &StoreSet{
		clients: make(map[string]*Client),
		resolve: cfg.GetSecretStore,
		open: func(ctx context.Context, name string, storeCfg config.SecretStoreConfig) (*Client, error) {
			backend, err := registry.CreateBackend(ctx, name, storeCfg, opts.Logger)
			if err != nil {
				return nil, err
			}
			storeOpts := opts
			storeOpts.Timeout = storeCfg.GetTimeout()
			return NewClient(backend, storeOpts), nil
		},
	}
}

// StaticStoreSet creates a store set over pre-built clients. Empty refs and
// the conventional default ref resolve to defaultStore.
func StaticStoreSet(defaultStore string, clients map[string]*Client) *StoreSet {
	s := &StoreSet{clients: make(map[string]*Client, len(clients))}
	for name, c := range clients {
		s.clients[name] = c
	}
	s.resolve = func(ref string) (string, config.SecretStoreConfig, error) {
		if _, ok := s.clients[ref]; ok {
			return ref, config.SecretStoreConfig{}, nil
		}
		if ref == "" || ref == descriptor.DefaultSecretStoreRef {
			if _, ok := s.clients[defaultStore]; ok {
				return defaultStore, config.SecretStoreConfig{}, nil
			}
		}
		return "", config.SecretStoreConfig{}, dserrors.ConfigError{
			Field:   "secretStoreRef",
			Value:   ref,
			Message: "secret store not found in configuration",
		}
	}
	return s
}

// Client returns the resolved store name and its client
func (s *StoreSet) Client(ctx context.Context, ref string) (string, *Client, error) {
	name, storeCfg, err := s.resolve(ref)
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[name]; ok {
		return name, c, nil
	}
	if s.open == nil {
		return "", nil, fmt.Errorf("secret store %s is not available", name)
	}

	c, err := s.open(ctx, name, storeCfg)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open secret store %s: %w", name, err)
	}
	s.clients[name] = c
	return name, c, nil
}

// Opened returns the names of stores opened so far in sorted order
func (s *StoreSet) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
