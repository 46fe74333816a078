// Package testenv isolates tests from the real ~/.reviewer data
// directory. It has no dependencies on other internal packages to
// stay importable from anywhere, including config's own tests.
package testenv

import (
	"fmt"
	"os"
	"testing"
)

// RunIsolatedMain wraps m.Run for packages whose tests touch the data
// directory. It points REVIEWER_DATA_DIR at a fresh temp directory for
// the whole run and fails the run if anything still leaked into the
// real production data directory. Intended for TestMain:
//
//	func TestMain(m *testing.M) {
//		os.Exit(testenv.RunIsolatedMain(m))
//	}
func RunIsolatedMain(m *testing.M) int {
	// Snapshot the production dir before the override so the barrier
	// watches the real one.
	barrier := NewProdLogBarrier(DefaultProdDataDir())

	tmpDir, err := os.MkdirTemp("", "reviewer-test-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testenv: create temp data dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(tmpDir)

	origDataDir, hadDataDir := os.LookupEnv("REVIEWER_DATA_DIR")
	os.Setenv("REVIEWER_DATA_DIR", tmpDir)
	defer func() {
		if hadDataDir {
			os.Setenv("REVIEWER_DATA_DIR", origDataDir)
		} else {
			os.Unsetenv("REVIEWER_DATA_DIR")
		}
	}()

	code := m.Run()

	if msg := barrier.Check(); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
		if code == 0 {
			code = 1
		}
	}
	return code
}
