// Package pipeline runs the secret sync stages in order:
//
//	discover -> check -> generate -> validate
//
// Each stage consumes the complete output of the previous one and can be run
// on its own. Dry-run stops after check and reports the planned generate
// actions without writing to a backend or polling the cluster.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/systmms/secretsync/internal/convergence"
	"github.com/systmms/secretsync/internal/discovery"
	"github.com/systmms/secretsync/internal/generator"
	"github.com/systmms/secretsync/internal/input"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/internal/remote"
	"github.com/systmms/secretsync/pkg/descriptor"
)

// ErrNoValidator is returned by Validate when no cluster access is configured
var ErrNoValidator = errors.New("convergence validation requires cluster access")

// Options configures a Pipeline
type Options struct {
	Scanner  *discovery.Scanner
	Patterns []string

	// Scope restricts discovery to one deployment scope.
	Scope string

	Stores    *remote.StoreSet
	Generator *generator.Generator
	Input     input.Provider

	// Validator may be nil when only discover, check, or generate run.
	Validator *convergence.Validator

	DryRun bool
	Logger *logging.Logger
}

// Pipeline composes the scanner, remote clients, generator, and validator
type Pipeline struct {
	scanner   *discovery.Scanner
	patterns  []string
	scope     string
	stores    *remote.StoreSet
	generator *generator.Generator
	input     input.Provider
	validator *convergence.Validator
	dryRun    bool
	logger    *logging.Logger
}

// New creates a pipeline
func New(opts Options) *Pipeline {
	p := &Pipeline{
		scanner:   opts.Scanner,
		patterns:  opts.Patterns,
		scope:     opts.Scope,
		stores:    opts.Stores,
		generator: opts.Generator,
		input:     opts.Input,
		validator: opts.Validator,
		dryRun:    opts.DryRun,
		logger:    opts.Logger,
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.generator == nil {
		p.generator = generator.New()
	}
	if p.input == nil {
		p.input = input.NonInteractive{}
	}
	return p
}

// DryRun reports whether mutating calls are suppressed
func (p *Pipeline) DryRun() bool {
	return p.dryRun
}

// Discover scans the configured documents
func (p *Pipeline) Discover(ctx context.Context) (*discovery.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.scanner == nil {
		return nil, fmt.Errorf("no scanner configured")
	}

	result, err := p.scanner.Scan(p.patterns, p.scope)
	if err != nil {
		return nil, err
	}
	if p.scope != "" && len(result.Documents) == 0 {
		p.logger.Warn("No documents found for scope %s", p.scope)
	}
	return result, nil
}

// Validate waits for the delivery objects of descs to converge
func (p *Pipeline) Validate(ctx context.Context, descs []descriptor.SecretDescriptor) (*convergence.BatchResult, error) {
	if p.validator == nil {
		return nil, ErrNoValidator
	}
	batch := p.validator.ValidateBatch(ctx, descs)
	return &batch, nil
}

// Sync runs every stage. A returned error means the run was aborted; a
// completed run reports its outcome in the Report.
func (p *Pipeline) Sync(ctx context.Context) (*Report, error) {
	report := &Report{DryRun: p.dryRun}

	disc, err := p.Discover(ctx)
	if err != nil {
		return report, err
	}
	report.Discovery = disc
	p.logger.Info("Discovered %d secrets in %d documents", len(disc.Descriptors), len(disc.Documents))

	check, err := p.Check(ctx, disc.Descriptors)
	if err != nil {
		return report, err
	}
	report.Check = check
	p.logger.Info("%d secrets exist, %d missing", len(check.Existing()), len(check.Missing()))

	gen, err := p.Generate(ctx, check)
	if err != nil {
		return report, err
	}
	report.Generate = gen

	if p.dryRun {
		report.finish()
		return report, nil
	}

	batch, err := p.Validate(ctx, disc.Descriptors)
	if err != nil {
		return report, err
	}
	report.Convergence = batch
	report.finish()
	return report, nil
}
