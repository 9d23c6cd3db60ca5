// Package discovery extracts secret descriptors from deployment values documents.
//
// Each document is a YAML mapping whose top-level keys are chart names. A chart
// requests secrets through a `secrets` block in one of two shapes:
//
//	db:
//	  secrets:
//	    enabled: true
//	    remoteKey: shop-staging-db-password
//	    generator: {enabled: true, kind: password}
//
//	api:
//	  secrets:
//	    enabled: true
//	    secretStoreRef: aws-store
//	    remoteKeys:
//	      - shop-staging-api-key
//	      - {remoteKey: shop-staging-api-token, generator: {enabled: true, kind: token}}
//
// Malformed documents are skipped and recorded as ParseError; declarations that
// match a shape but fail descriptor validation are recorded as ValidationError.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/pkg/descriptor"
	"gopkg.in/yaml.v3"
)

const secretsKey = "secrets"

// reservedKeys are top-level keys that never name a chart
var reservedKeys = map[string]bool{
	"global":     true,
	"kubernetes": true,
}

// Options configures a Scanner
type Options struct {
	// Environments overrides DefaultEnvironments when non-empty.
	Environments []string
	Logger       *logging.Logger
}

// Scanner reads documents and produces descriptors
type Scanner struct {
	logger       *logging.Logger
	environments map[string]bool
	shapes       *shapeMatcher
}

// Result is the outcome of one scan
type Result struct {
	// Documents lists every document read, in scan order.
	Documents   []string
	Descriptors []descriptor.SecretDescriptor
	ParseErrors []*ParseError
	Invalid     []*ValidationError
}

// NewScanner creates a scanner
func NewScanner(opts Options) (*Scanner, error) {
	shapes, err := newShapeMatcher()
	if err != nil {
		return nil, err
	}

	envs := opts.Environments
	if len(envs) == 0 {
		envs = DefaultEnvironments
	}
	envSet := make(map[string]bool, len(envs))
	for _, e := range envs {
		envSet[strings.ToLower(e)] = true
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Scanner{
		logger:       logger,
		environments: envSet,
		shapes:       shapes,
	}, nil
}

// Expand resolves patterns to document paths. Patterns are expanded in order,
// each pattern's matches sorted lexically, and repeated paths dropped.
func Expand(patterns []string) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid discovery pattern %q: %w", pattern, err)
		}
		// filepath.Glob returns matches in lexical order
		for _, m := range matches {
			clean := filepath.Clean(m)
			if seen[clean] {
				continue
			}
			seen[clean] = true
			paths = append(paths, clean)
		}
	}
	return paths, nil
}

// Scan reads every document matching patterns and returns their descriptors.
// A non-empty scope restricts the scan to documents of that deployment scope.
// Only an invalid pattern fails the scan.
func (s *Scanner) Scan(patterns []string, scope string) (*Result, error) {
	paths, err := Expand(patterns)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, path := range paths {
		docScope, env, infra := scopeFor(path, s.environments)
		if scope != "" && docScope != scope {
			continue
		}

		result.Documents = append(result.Documents, path)
		descs, invalid, err := s.scanDocument(path, docScope, env, infra)
		if err != nil {
			var perr *ParseError
			if !errors.As(err, &perr) {
				perr = &ParseError{Path: path, Err: err}
			}
			s.logger.Warn("Skipping %s: %v", path, perr.Err)
			result.ParseErrors = append(result.ParseErrors, perr)
			continue
		}

		for _, v := range invalid {
			s.logger.Warn("%v", v)
		}
		result.Descriptors = append(result.Descriptors, descs...)
		result.Invalid = append(result.Invalid, invalid...)
	}

	s.logger.Debug("Scanned %d documents, found %d secrets", len(result.Documents), len(result.Descriptors))
	return result, nil
}

// docContext carries per-document values shared by every chart
type docContext struct {
	path             string
	scope            string
	environment      string
	defaultNamespace string
}

func (s *Scanner) scanDocument(path, scope, env string, infra bool) ([]descriptor.SecretDescriptor, []*ValidationError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &ParseError{Path: path, Err: err}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, &ParseError{Path: path, Err: err}
	}

	// Empty document
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, &ParseError{Path: path, Err: fmt.Errorf("document root is not a mapping")}
	}

	ctx := docContext{
		path:             path,
		scope:            scope,
		environment:      env,
		defaultNamespace: globalNamespace(root),
	}

	var descs []descriptor.SecretDescriptor
	var invalid []*ValidationError

	collect := func(chart string, chartNode *yaml.Node) {
		d, inv := s.scanChart(ctx, chart, chartNode)
		descs = append(descs, d...)
		invalid = append(invalid, inv...)
	}

	if infra {
		collect(fileStem(path), root)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], resolveAlias(root.Content[i+1])
		if reservedKeys[key.Value] {
			continue
		}
		if infra && key.Value == secretsKey {
			continue
		}
		if value.Kind != yaml.MappingNode {
			continue
		}
		collect(key.Value, value)
	}

	return descs, invalid, nil
}

func (s *Scanner) scanChart(ctx docContext, chart string, chartNode *yaml.Node) ([]descriptor.SecretDescriptor, []*ValidationError) {
	block := mappingValue(chartNode, secretsKey)
	if block == nil {
		return nil, nil
	}

	namespace := ctx.defaultNamespace
	if ns := mappingValue(chartNode, "namespace"); ns != nil && ns.Kind == yaml.ScalarNode {
		namespace = ns.Value
	}

	base := descriptor.SecretDescriptor{
		SourceLocation:  ctx.path,
		DeploymentScope: ctx.scope,
		ChartName:       chart,
		Environment:     ctx.environment,
		NamespaceHint:   namespace,
	}

	kind, err := s.shapes.match(block)
	if err != nil {
		return nil, []*ValidationError{{
			Path: ctx.path, Chart: chart, Field: secretsKey, Message: err.Error(),
		}}
	}

	var candidates []descriptor.SecretDescriptor
	switch kind {
	case shapeSingle:
		var b singleBlock
		if err := block.Decode(&b); err != nil {
			return nil, []*ValidationError{{Path: ctx.path, Chart: chart, Field: secretsKey, Message: err.Error()}}
		}
		if !b.Enabled {
			return nil, nil
		}
		d := base
		d.RemoteKey = b.RemoteKey
		d.Generation = b.Generator
		applyBlockDefaults(&d, b.SecretStoreRef, b.RefreshInterval, b.Optional)
		candidates = append(candidates, d)

	case shapeArray:
		var b arrayBlock
		if err := block.Decode(&b); err != nil {
			return nil, []*ValidationError{{Path: ctx.path, Chart: chart, Field: secretsKey, Message: err.Error()}}
		}
		if !b.Enabled {
			return nil, nil
		}
		for _, entry := range b.RemoteKeys {
			d := base
			d.RemoteKey = entry.RemoteKey
			d.Generation = entry.Generator
			optional := b.Optional
			if entry.Optional != nil {
				optional = *entry.Optional
			}
			applyBlockDefaults(&d, b.SecretStoreRef, b.RefreshInterval, optional)
			candidates = append(candidates, d)
		}

	default:
		s.logger.Debug("%s: chart %s has a secrets block matching no known shape, ignoring", ctx.path, chart)
		return nil, nil
	}

	var descs []descriptor.SecretDescriptor
	var invalid []*ValidationError
	for _, d := range candidates {
		if err := d.Validate(); err != nil {
			verr := &ValidationError{Path: ctx.path, Chart: chart, RemoteKey: d.RemoteKey, Message: err.Error()}
			var ferr *descriptor.FieldError
			if errors.As(err, &ferr) {
				verr.Field = ferr.Field
				verr.Message = ferr.Message
			}
			invalid = append(invalid, verr)
			continue
		}
		descs = append(descs, d)
	}
	return descs, invalid
}

func applyBlockDefaults(d *descriptor.SecretDescriptor, storeRef, refresh string, optional bool) {
	d.SecretStoreRef = storeRef
	if d.SecretStoreRef == "" {
		d.SecretStoreRef = descriptor.DefaultSecretStoreRef
	}
	d.RefreshInterval = refresh
	if d.RefreshInterval == "" {
		d.RefreshInterval = descriptor.DefaultRefreshInterval
	}

	switch {
	case d.CanGenerate():
		d.Provisioning = descriptor.ProvisionAuto
	case optional:
		d.Provisioning = descriptor.ProvisionOptional
	default:
		d.Provisioning = descriptor.ProvisionManual
	}
}

func globalNamespace(root *yaml.Node) string {
	global := mappingValue(root, "global")
	if global == nil {
		return ""
	}
	if ns := mappingValue(global, "namespace"); ns != nil && ns.Kind == yaml.ScalarNode {
		return ns.Value
	}
	return ""
}

func resolveAlias(node *yaml.Node) *yaml.Node {
	if node != nil && node.Kind == yaml.AliasNode && node.Alias != nil {
		return node.Alias
	}
	return node
}

// mappingValue returns the value node for key in a mapping node
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return resolveAlias(node.Content[i+1])
		}
	}
	return nil
}
