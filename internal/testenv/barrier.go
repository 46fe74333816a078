package testenv

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// fileStamp is the size/mtime snapshot of one watched file.
type fileStamp struct {
	exists bool
	size   int64
	mtime  time.Time
}

func stampOf(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{exists: true, size: info.Size(), mtime: info.ModTime()}
}

// ProdLogBarrier snapshots the real data directory before a test run
// and detects test activity that leaked past the REVIEWER_DATA_DIR
// override: appended log lines carrying test markers, or a daemon
// runtime file written under the test process's PID.
type ProdLogBarrier struct {
	pid     int
	dataDir string

	activityOffset int64
	errorsOffset   int64
	runtime        fileStamp
}

// DefaultProdDataDir returns the real production data directory
// (~/.reviewer), ignoring REVIEWER_DATA_DIR. Resolve it BEFORE the
// test override is installed.
func DefaultProdDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".reviewer")
}

// NewProdLogBarrier snapshots dataDir. Call Check after m.Run.
func NewProdLogBarrier(dataDir string) *ProdLogBarrier {
	pid := os.Getpid()
	return &ProdLogBarrier{
		pid:            pid,
		dataDir:        dataDir,
		activityOffset: stampOf(filepath.Join(dataDir, "activity.log")).size,
		errorsOffset:   stampOf(filepath.Join(dataDir, "errors.log")).size,
		runtime:        stampOf(filepath.Join(dataDir, fmt.Sprintf("daemon.%d.json", pid))),
	}
}

// Check compares the directory against the snapshot. It returns a
// non-empty report when test pollution reached production files, and
// "" when the run was clean.
func (b *ProdLogBarrier) Check() string {
	var violations []string

	violations = append(violations, b.checkRuntimeFile()...)

	for _, name := range []string{"activity.log", "errors.log"} {
		offset := b.activityOffset
		if name == "errors.log" {
			offset = b.errorsOffset
		}
		if markers := b.scanAppended(filepath.Join(b.dataDir, name), offset); len(markers) > 0 {
			violations = append(violations, fmt.Sprintf(
				"test pollution in prod %s: %s", name, strings.Join(markers, "; ")))
		}
	}

	if len(violations) == 0 {
		return ""
	}
	return "PROD LOG BARRIER FAILED:\n  " + strings.Join(violations, "\n  ")
}

// checkRuntimeFile flags a daemon.<pid>.json that appeared, changed,
// or vanished for our own PID. Another process's runtime files are
// none of our business.
func (b *ProdLogBarrier) checkRuntimeFile() []string {
	path := filepath.Join(b.dataDir, fmt.Sprintf("daemon.%d.json", b.pid))
	now := stampOf(path)

	switch {
	case now.exists && !b.runtime.exists:
		return []string{fmt.Sprintf("test wrote daemon.%d.json to prod data dir", b.pid)}
	case !now.exists && b.runtime.exists:
		return []string{fmt.Sprintf("test deleted daemon.%d.json from prod data dir", b.pid)}
	case now.exists && (now.size != b.runtime.size || !now.mtime.Equal(b.runtime.mtime)):
		return []string{fmt.Sprintf(
			"test modified daemon.%d.json in prod data dir (size %d→%d, mtime %s→%s)",
			b.pid, b.runtime.size, now.size,
			b.runtime.mtime.Format(time.RFC3339Nano),
			now.mtime.Format(time.RFC3339Nano))}
	}
	return nil
}

// scanAppended reads the lines appended after offset and collects
// descriptions of those that look test-generated.
func (b *ProdLogBarrier) scanAppended(path string, offset int64) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil // nothing appended, or unreadable
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil
	}

	pid := strconv.Itoa(b.pid)
	var markers []string
	seen := map[string]bool{}
	scanner := bufio.NewScanner(f)
	// 1MB line buffer so a long entry is not silently truncated.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		for _, m := range pollutionMarkers(scanner.Text(), pid) {
			if !seen[m] {
				seen[m] = true
				markers = append(markers, m)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		markers = append(markers, fmt.Sprintf("scan error (barrier may be incomplete): %v", err))
	}
	return markers
}

// pollutionMarkers recognizes log lines only a test run produces: a
// daemon start under the test process's PID or an unstamped "dev"
// build, and entries logged with the explicit test event.
func pollutionMarkers(line, pid string) []string {
	var out []string

	started := strings.Contains(line, "daemon.started")
	if started && strings.Contains(line, `"pid":"`+pid+`"`) {
		out = append(out, "daemon.started with test PID "+pid)
	}
	if started && strings.Contains(line, `"version":"dev"`) {
		out = append(out, `daemon.started with version:"dev"`)
	}
	if strings.Contains(line, `"event":"test"`) {
		out = append(out, `event:"test" entry`)
	}

	return out
}
