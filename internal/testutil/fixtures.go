// Package testutil provides shared fixtures for tests across the module.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempProjectRoot creates a throwaway directory laid out like a project
// root (a "projects" directory with one subdirectory for slug) and
// returns its path. The directory and everything under it is removed
// when the test completes.
func TempProjectRoot(t *testing.T, slug string) string {
	t.Helper()
	root := t.TempDir()
	projDir := filepath.Join(root, "projects", slug)
	if err := os.MkdirAll(filepath.Join(projDir, "logs"), 0o755); err != nil {
		t.Fatalf("create project dirs: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(projDir, "docs"), 0o755); err != nil {
		t.Fatalf("create docs dir: %v", err)
	}
	return root
}

// FixtureLogLine returns a simple fixture line of the form
// "2024-01-01T00:00:00Z [<logType>] <status>: <summary>". It is not in
// the append-log line format that internal/logline composes and parses.
func FixtureLogLine(logType, status, summary string) string {
	return "2024-01-01T00:00:00Z [" + logType + "] " + status + ": " + summary + "\n"
}

// FixtureFrontmatter returns a minimal frontmatter map for a document
// fixture, keyed the way internal/docmgr expects.
func FixtureFrontmatter(title string) map[string]any {
	return map[string]any{
		"title":   title,
		"project": "test-project",
	}
}
