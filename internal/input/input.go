// Package input supplies values for secrets that cannot be generated.
//
// A Provider is asked once per missing manual or optional descriptor and
// returns the value or ErrNoInput. Providers do no retrying of their own.
package input

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/zalando/go-keyring"
)

// ErrNoInput means the provider has no value for the request
var ErrNoInput = errors.New("no value provided")

// KeyringService is the keyring service under which values are looked up
const KeyringService = "secretsync"

// EnvPrefix prefixes environment variables that carry values
const EnvPrefix = "SECRETSYNC_VALUE_"

// Request describes the secret a value is needed for
type Request struct {
	RemoteKey   string
	Chart       string
	Scope       string
	Description string
	Optional    bool
}

func (r Request) String() string {
	var b strings.Builder
	b.WriteString(r.RemoteKey)
	if r.Chart != "" {
		fmt.Fprintf(&b, " (%s", r.Chart)
		if r.Scope != "" {
			fmt.Fprintf(&b, " in %s", r.Scope)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Provider returns a value for a request
type Provider interface {
	Provide(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, req Request) (string, error)

// Provide calls f
func (f ProviderFunc) Provide(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// NonInteractive never has a value
type NonInteractive struct{}

// Provide returns ErrNoInput
func (NonInteractive) Provide(context.Context, Request) (string, error) {
	return "", ErrNoInput
}

// Static serves values from a map keyed by remote key
type Static map[string]string

// Provide returns the mapped value
func (s Static) Provide(_ context.Context, req Request) (string, error) {
	if v, ok := s[req.RemoteKey]; ok && v != "" {
		return v, nil
	}
	return "", ErrNoInput
}

// Chain asks each provider in turn until one has a value
type Chain []Provider

// Provide returns the first value found. Errors other than ErrNoInput stop the chain.
func (c Chain) Provide(ctx context.Context, req Request) (string, error) {
	for _, p := range c {
		v, err := p.Provide(ctx, req)
		if errors.Is(err, ErrNoInput) {
			continue
		}
		if err != nil {
			return "", err
		}
		if v != "" {
			return v, nil
		}
	}
	return "", ErrNoInput
}

var envUnsafe = regexp.MustCompile(`[^A-Z0-9]+`)

// EnvName returns the environment variable consulted for a remote key
func EnvName(remoteKey string) string {
	return EnvPrefix + strings.Trim(envUnsafe.ReplaceAllString(strings.ToUpper(remoteKey), "_"), "_")
}

// Env reads values from SECRETSYNC_VALUE_<REMOTE_KEY> variables
type Env struct {
	// Lookup defaults to os.LookupEnv
	Lookup func(string) (string, bool)
}

// Provide returns the variable's value when set and non-empty
func (e Env) Provide(_ context.Context, req Request) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvName(req.RemoteKey)); ok && v != "" {
		return v, nil
	}
	return "", ErrNoInput
}

// Keyring reads pre-provisioned values from the OS keychain
// (service KeyringService, account = remote key).
type Keyring struct {
	Service string
}

// Provide looks the remote key up in the keyring
func (k Keyring) Provide(_ context.Context, req Request) (string, error) {
	v, err := keyring.Get(k.service(), req.RemoteKey)
	if errors.Is(err, keyring.ErrNotFound) || (err == nil && v == "") {
		return "", ErrNoInput
	}
	if err != nil {
		return "", fmt.Errorf("keyring lookup for %s failed: %w", req.RemoteKey, err)
	}
	return v, nil
}

// Store saves a value for later runs
func (k Keyring) Store(remoteKey, value string) error {
	return keyring.Set(k.service(), remoteKey, value)
}

// Forget removes a stored value
func (k Keyring) Forget(remoteKey string) error {
	err := keyring.Delete(k.service(), remoteKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func (k Keyring) service() string {
	if k.Service == "" {
		return KeyringService
	}
	return k.Service
}
