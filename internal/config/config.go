package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	dserrors "github.com/systmms/secretsync/internal/errors"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/pkg/descriptor"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults
const (
	DefaultConcurrency   = 10
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultNamespace     = "default"
	DefaultAPIVersion    = "v1beta1"
	DefaultPollInterval  = 2 * time.Second
	DefaultPollTimeout   = 60 * time.Second
	DefaultTimeoutMs     = 30000
)

// DefaultDiscoveryPaths are scanned when the configuration names none
var DefaultDiscoveryPaths = []string{"deployments/*.yaml", "deployments/*.yml", "infrastructure/*.yaml", "infrastructure/*.yml"}

// Config holds the runtime configuration
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	Debug          bool
	Definition     *Definition
}

// Definition represents the secretsync.yaml structure
type Definition struct {
	Version            int                          `yaml:"version"`
	DefaultSecretStore string                       `yaml:"defaultSecretStore,omitempty"`
	SecretStores       map[string]SecretStoreConfig `yaml:"secretStores,omitempty"`
	Discovery          DiscoveryConfig              `yaml:"discovery,omitempty"`
	Remote             RemoteConfig                 `yaml:"remote,omitempty"`
	Convergence        ConvergenceConfig            `yaml:"convergence,omitempty"`
}

// SecretStoreConfig holds backend profile configuration
type SecretStoreConfig struct {
	Type      string                 `yaml:"type"`
	TimeoutMs int                    `yaml:"timeout_ms,omitempty"`
	Config    map[string]interface{} `yaml:",inline"`
}

// DiscoveryConfig controls which documents are scanned
type DiscoveryConfig struct {
	Paths        []string `yaml:"paths,omitempty"`
	Environments []string `yaml:"environments,omitempty"`
}

// RemoteConfig controls backend call fan-out and retries
type RemoteConfig struct {
	Concurrency   int           `yaml:"concurrency,omitempty"`
	RetryAttempts int           `yaml:"retry_attempts,omitempty"`
	RetryDelay    time.Duration `yaml:"retry_delay,omitempty"`
}

// ConvergenceConfig controls access to the cluster and polling
type ConvergenceConfig struct {
	Kubeconfig string        `yaml:"kubeconfig,omitempty"`
	Context    string        `yaml:"context,omitempty"`
	Namespace  string        `yaml:"namespace,omitempty"`
	APIVersion string        `yaml:"api_version,omitempty"`
	Interval   time.Duration `yaml:"interval,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

// Load reads and parses the secretsync.yaml file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create secretsync.yaml with at least one entry under 'secretStores:'",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}

	c.Definition = def
	return nil
}

// LoadOrDefault loads the configuration file, falling back to defaults when it does not exist
func (c *Config) LoadOrDefault() error {
	if _, err := os.Stat(c.Path); os.IsNotExist(err) {
		if c.Logger != nil {
			c.Logger.Debug("No configuration at %s, using defaults", c.Path)
		}
		def := &Definition{}
		def.ApplyDefaults()
		c.Definition = def
		return nil
	}
	return c.Load()
}

// Parse decodes and validates a configuration document
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if def.Version != 0 {
		return nil, dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your secretsync.yaml file",
		}
	}

	def.ApplyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ApplyDefaults fills unset fields
func (d *Definition) ApplyDefaults() {
	if len(d.Discovery.Paths) == 0 {
		d.Discovery.Paths = append([]string(nil), DefaultDiscoveryPaths...)
	}
	if d.Remote.Concurrency <= 0 {
		d.Remote.Concurrency = DefaultConcurrency
	}
	if d.Remote.RetryAttempts <= 0 {
		d.Remote.RetryAttempts = DefaultRetryAttempts
	}
	if d.Remote.RetryDelay <= 0 {
		d.Remote.RetryDelay = DefaultRetryDelay
	}
	if d.Convergence.Namespace == "" {
		d.Convergence.Namespace = DefaultNamespace
	}
	if d.Convergence.APIVersion == "" {
		d.Convergence.APIVersion = DefaultAPIVersion
	}
	if d.Convergence.Interval <= 0 {
		d.Convergence.Interval = DefaultPollInterval
	}
	if d.Convergence.Timeout <= 0 {
		d.Convergence.Timeout = DefaultPollTimeout
	}
	if d.DefaultSecretStore == "" && len(d.SecretStores) == 1 {
		for name := range d.SecretStores {
			d.DefaultSecretStore = name
		}
	}
}

// Validate checks structural consistency
func (d *Definition) Validate() error {
	for name, store := range d.SecretStores {
		if store.Type == "" {
			return dserrors.ConfigError{
				Field:      fmt.Sprintf("secretStores.%s.type", name),
				Message:    "secret store type is required",
				Suggestion: "Use one of: gcp-secretmanager, aws-secretsmanager, aws-ssm, azure-keyvault",
			}
		}
	}

	if d.DefaultSecretStore != "" && len(d.SecretStores) > 0 {
		if _, ok := d.SecretStores[d.DefaultSecretStore]; !ok {
			return dserrors.ConfigError{
				Field:      "defaultSecretStore",
				Value:      d.DefaultSecretStore,
				Message:    "default secret store is not defined under 'secretStores:'",
				Suggestion: fmt.Sprintf("Available secret stores: %s", strings.Join(d.StoreNames(), ", ")),
			}
		}
	}

	if d.Convergence.Timeout < d.Convergence.Interval {
		return dserrors.ConfigError{
			Field:      "convergence.timeout",
			Value:      d.Convergence.Timeout,
			Message:    "timeout must not be shorter than the poll interval",
			Suggestion: fmt.Sprintf("Set convergence.timeout to at least %s", d.Convergence.Interval),
		}
	}
	return nil
}

// StoreNames returns the configured secret store names in sorted order
func (d *Definition) StoreNames() []string {
	names := make([]string, 0, len(d.SecretStores))
	for name := range d.SecretStores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSecretStore returns the configuration for a secret store profile.
// An empty name or the conventional default reference resolves to DefaultSecretStore.
func (c *Config) GetSecretStore(name string) (string, SecretStoreConfig, error) {
	if c.Definition == nil {
		return "", SecretStoreConfig{}, dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}

	if store, ok := c.Definition.SecretStores[name]; ok {
		return name, store, nil
	}

	if name == "" || name == descriptor.DefaultSecretStoreRef {
		if store, ok := c.Definition.SecretStores[c.Definition.DefaultSecretStore]; ok {
			return c.Definition.DefaultSecretStore, store, nil
		}
	}

	suggestion := "Add the secret store to the 'secretStores:' section of your secretsync.yaml"
	if available := c.Definition.StoreNames(); len(available) > 0 {
		suggestion = fmt.Sprintf("Available secret stores: %s. %s", strings.Join(available, ", "), suggestion)
	}

	return "", SecretStoreConfig{}, dserrors.ConfigError{
		Field:      "secretStoreRef",
		Value:      name,
		Message:    "secret store not found in configuration",
		Suggestion: suggestion,
	}
}

// GetTimeout returns the per-call timeout for a store
func (s SecretStoreConfig) GetTimeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return time.Duration(DefaultTimeoutMs) * time.Millisecond
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// String returns a string option from the inline store config
func (s SecretStoreConfig) String(key string) string {
	if v, ok := s.Config[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns a bool option from the inline store config
func (s SecretStoreConfig) Bool(key string) (bool, bool) {
	v, ok := s.Config[key].(bool)
	return v, ok
}
