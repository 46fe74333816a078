//go:build !windows

package daemon

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// processIdentity represents the result of identifying a process.
type processIdentity int

const (
	processUnknown     processIdentity = iota // Can't determine identity
	processIsDaemon                           // Confirmed review daemon
	processNotDaemon                          // Confirmed NOT the review daemon
)

// identifyProcess checks if a process is the review daemon.
// This prevents killing unrelated processes if a PID was reused.
var identifyProcess = identifyProcessImpl

func identifyProcessImpl(pid int) processIdentity {
	cmdStr, ok := commandLineOf(pid)
	if !ok || cmdStr == "" {
		return processUnknown
	}
	if isDaemonCommand(cmdStr) {
		return processIsDaemon
	}
	return processNotDaemon
}

// commandLineOf reads a process's command line, via /proc on Linux and
// ps on macOS/BSD. ok is false when neither source can answer.
func commandLineOf(pid int) (string, bool) {
	cmdline, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err == nil {
		// cmdline uses null bytes as separators
		return strings.TrimSpace(strings.ReplaceAll(string(cmdline), "\x00", " ")), true
	}

	output, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(output)), true
}

// isDaemonCommand reports whether a command line belongs to the review
// daemon. The daemon ships as its own binary (reviewerd), so a token
// whose base name is exactly that binary is enough. The reviewer CLI
// never matches, and neither do source files like reviewerd.go open in
// an editor.
func isDaemonCommand(cmdStr string) bool {
	for _, field := range strings.Fields(cmdStr) {
		base := filepath.Base(strings.Trim(field, `"'`))
		if base == "reviewerd" || base == "reviewerd.exe" {
			return true
		}
	}
	return false
}

// probe result of signalling 0 to a process.
type probeState int

const (
	probeAlive probeState = iota
	probeDead
	probeDenied // exists but owned by someone else (EPERM)
)

func probe(p *os.Process) probeState {
	err := p.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return probeAlive
	case errors.Is(err, syscall.EPERM):
		return probeDenied
	default:
		return probeDead // ESRCH and friends
	}
}

// waitGone polls until the process is gone or attempts run out.
// Returns true only on confirmed death; EPERM counts as still there.
func waitGone(p *os.Process, attempts int) bool {
	for i := 0; i < attempts; i++ {
		time.Sleep(100 * time.Millisecond)
		if probe(p) == probeDead {
			return true
		}
	}
	return false
}

// killProcess kills a process by PID on Unix systems.
// Returns true only if the process is confirmed dead.
// Verifies the process is the review daemon before killing to prevent
// killing unrelated processes if the PID was reused.
func killProcess(pid int) bool {
	// os.FindProcess on Unix never returns an error, it always succeeds
	process, _ := os.FindProcess(pid)

	switch probe(process) {
	case probeDead:
		return true
	case probeDenied:
		// Exists but not ours to signal.
		return false
	}

	switch identifyProcess(pid) {
	case processNotDaemon:
		// PID was reused by something else, the daemon is gone
		return true
	case processUnknown:
		// Can't determine identity - be conservative, don't kill or clean up
		return false
	case processIsDaemon:
		// Confirmed review daemon - proceed with kill below
	}

	// SIGTERM first for a graceful shutdown.
	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.EPERM) {
			return false
		}
		// It may have died between the probe and the signal.
		return probe(process) == probeDead
	}

	// Up to 2 seconds for graceful shutdown.
	if waitGone(process, 20) {
		return true
	}

	// Still alive, escalate to SIGKILL and verify.
	_ = process.Signal(syscall.SIGKILL)
	return waitGone(process, 5)
}
