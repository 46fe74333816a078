package config

import (
	"os"
	"path/filepath"
	"testing"
)

// newTempRepo creates a temp directory and writes content to .reviewer.yaml.
func newTempRepo(t *testing.T, configContent string) string {
	t.Helper()
	dir := t.TempDir()
	if configContent != "" {
		writeRepoConfigStr(t, dir, configContent)
	}
	return dir
}

// writeRepoConfigStr writes a YAML string to .reviewer.yaml in the given directory.
func writeRepoConfigStr(t *testing.T, dir, content string) {
	t.Helper()
	writeTestFile(t, dir, RepoConfigName, content)
}

// writeTestFile writes content to a file in the given directory.
func writeTestFile(t *testing.T, dir, filename, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644)
	if err != nil {
		t.Fatalf("failed to write %s: %v", filename, err)
	}
}
