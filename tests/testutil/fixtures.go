package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// WriteDocuments writes a deployment tree under a fresh temp dir and returns
// its root.
//
// Keys are slash-separated paths relative to the root:
//
//	root := WriteDocuments(t, map[string]string{
//	    "deployments/shop-staging.yaml": "db:\n  secrets: ...",
//	    "infrastructure/cluster.yaml":   "secrets: ...",
//	})
func WriteDocuments(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(files[name]), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return root
}

// Patterns joins glob patterns onto root
func Patterns(root string, patterns ...string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = filepath.Join(root, filepath.FromSlash(p))
	}
	return out
}

// WriteConfig writes a secretsync.yaml into a temp dir and returns its path
func WriteConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "secretsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}
