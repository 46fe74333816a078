//go:build windows

package daemon

import (
	"bytes"
	"os/exec"
	"strconv"
	"strings"
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
	return classifyCommandLine(commandLineOf(strconv.Itoa(pid)))
}

// commandLineOf fetches a process's command line, via wmic where it
// still exists and Get-CimInstance on newer Windows without it.
// Returns "" when neither source can answer.
func commandLineOf(pidStr string) string {
	output, err := exec.Command("wmic", "process",
		"where", "ProcessId="+pidStr, "get", "commandline").Output()
	if err == nil {
		// wmic prefixes the data with a "CommandLine" header line
		s := strings.TrimSpace(string(output))
		s = strings.TrimSpace(strings.TrimPrefix(s, "CommandLine"))
		if s != "" {
			return s
		}
	}

	// Force UTF-8 so capturing stdout doesn't yield UTF-16LE garbage.
	script := `[Console]::OutputEncoding=[Text.Encoding]::UTF8;` +
		`(Get-CimInstance Win32_Process -Filter "ProcessId=` + pidStr + `").CommandLine`
	output, err = exec.Command("powershell", "-NoProfile", "-Command", script).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// classifyCommandLine determines process identity from command line string.
// The daemon ships as its own binary, so the name reviewerd appearing
// anywhere in the command line is decisive.
func classifyCommandLine(cmdLine string) processIdentity {
	// Strip any stray NUL bytes (can happen with encoding issues)
	cmdLine = strings.TrimSpace(strings.ReplaceAll(cmdLine, "\x00", ""))
	switch {
	case cmdLine == "":
		return processUnknown
	case strings.Contains(strings.ToLower(cmdLine), "reviewerd"):
		return processIsDaemon
	default:
		return processNotDaemon
	}
}

// killProcess kills a process by PID on Windows.
// Returns true only if the process is confirmed dead.
// Verifies the process is the review daemon before killing to prevent
// killing unrelated processes if the PID was reused.
func killProcess(pid int) bool {
	if !processExists(pid) {
		return true // Already dead
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

	// taskkill, then verify with processExists rather than trusting the
	// exit code.
	_ = exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/F").Run()

	for i := 0; i < 10; i++ {
		time.Sleep(100 * time.Millisecond)
		if !processExists(pid) {
			return true
		}
	}
	return false // Still running after repeated attempts
}

// processExists checks if a process with the given PID exists.
// Uses tasklist with CSV output which is locale-independent.
func processExists(pid int) bool {
	// tasklist /FI "PID eq N" /FO CSV /NH exits 0 either way; only a
	// found process produces a CSV line quoting the PID.
	pidStr := strconv.Itoa(pid)
	output, err := exec.Command("tasklist", "/FI", "PID eq "+pidStr, "/FO", "CSV", "/NH").Output()
	if err != nil {
		// tasklist failed - assume process might exist to be safe
		return true
	}
	return bytes.Contains(output, []byte(`"`+pidStr+`"`))
}
