package discovery

import (
	"path/filepath"
	"strings"
)

// InfrastructureScope is the scope assigned to documents under an infrastructure directory
const InfrastructureScope = "infrastructure"

// DefaultEnvironments is the closed set of recognized environment tokens
var DefaultEnvironments = []string{
	"dev", "development",
	"test", "qa",
	"staging", "stage",
	"preview", "sandbox",
	"prod", "production",
}

// scopeFor derives the deployment scope, environment, and whether the
// document is infrastructure-scoped from its path.
func scopeFor(path string, environments map[string]bool) (scope, env string, infra bool) {
	stem := fileStem(path)
	env = environmentFor(stem, environments)

	if filepath.Base(filepath.Dir(path)) == InfrastructureScope {
		return InfrastructureScope, env, true
	}
	return stem, env, false
}

func environmentFor(stem string, environments map[string]bool) string {
	// A stem without a hyphen is its own trailing token.
	token := strings.ToLower(stem[strings.LastIndex(stem, "-")+1:])
	if environments[token] {
		return token
	}
	return ""
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
