package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/convergence"
	"github.com/systmms/secretsync/internal/discovery"
	dserrors "github.com/systmms/secretsync/internal/errors"
	"github.com/systmms/secretsync/internal/input"
	"github.com/systmms/secretsync/internal/pipeline"
	"github.com/systmms/secretsync/internal/remote"
)

// ErrStageFailed is returned when a command completed but reported failures.
// The details have already been printed.
var ErrStageFailed = errors.New("one or more secrets failed")

// Collaborator constructors; tests replace them with fakes.
var (
	newRegistry = remote.NewRegistry

	newValidator = func(cfg *config.Config) (*convergence.Validator, error) {
		return convergence.NewFromConfig(cfg.Definition.Convergence, cfg.Definition.Remote.Concurrency, cfg.Logger)
	}

	newInput = defaultInput
)

// defaultInput consults the environment and the keyring, then the terminal
func defaultInput(cfg *config.Config) input.Provider {
	chain := input.Chain{input.Env{}, input.Keyring{}}
	if cfg.NonInteractive || !input.IsInteractive() {
		return chain
	}
	return append(chain, input.NewPrompt())
}

// commandContext is cancelled on interrupt
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt)
}

// loadConfig loads the configuration. Commands that only read local files
// run on defaults when the file is missing.
func loadConfig(cfg *config.Config, required bool) error {
	if cfg.Definition != nil {
		return nil
	}
	if required {
		return cfg.Load()
	}
	return cfg.LoadOrDefault()
}

func newStoreSet(cfg *config.Config) *remote.StoreSet {
	return remote.NewStoreSet(cfg, newRegistry(), remote.ClientOptions{
		Logger:        cfg.Logger,
		Concurrency:   cfg.Definition.Remote.Concurrency,
		RetryAttempts: cfg.Definition.Remote.RetryAttempts,
		RetryDelay:    cfg.Definition.Remote.RetryDelay,
	})
}

func newScanner(cfg *config.Config) (*discovery.Scanner, error) {
	return discovery.NewScanner(discovery.Options{
		Environments: cfg.Definition.Discovery.Environments,
		Logger:       cfg.Logger,
	})
}

// stageFlags are shared by the pipeline commands
type stageFlags struct {
	scope      string
	outputJSON bool
	dryRun     bool
	timeout    time.Duration
}

func (f *stageFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.scope, "scope", "", "Only process documents of this deployment scope")
	cmd.Flags().BoolVar(&f.outputJSON, "json", false, "Output as JSON")
}

// pipelineOptions controls which collaborators newPipeline builds
type pipelineOptions struct {
	stores    bool
	validator bool
}

// newPipeline loads configuration and wires the collaborators a command needs
func newPipeline(cfg *config.Config, flags *stageFlags, patterns []string, want pipelineOptions) (*pipeline.Pipeline, error) {
	if err := loadConfig(cfg, want.stores); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		patterns = cfg.Definition.Discovery.Paths
	}

	scanner, err := newScanner(cfg)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		Scanner:  scanner,
		Patterns: patterns,
		Scope:    flags.scope,
		DryRun:   flags.dryRun,
		Logger:   cfg.Logger,
	}
	if want.stores {
		opts.Stores = newStoreSet(cfg)
		opts.Input = newInput(cfg)
	}
	if want.validator && !flags.dryRun {
		if flags.timeout > 0 {
			cfg.Definition.Convergence.Timeout = flags.timeout
		}
		v, err := newValidator(cfg)
		if err != nil {
			return nil, dserrors.BackendError("kubernetes", "connect", err)
		}
		opts.Validator = v
	}
	return pipeline.New(opts), nil
}

// userError adds remediation text to backend failures
func userError(err error) error {
	var rerr *remote.Error
	if errors.As(err, &rerr) {
		return rerr.UserError()
	}
	return dserrors.SimplifyError(err)
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
