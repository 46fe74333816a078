package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/config"
	"github.com/jackyshang/AICodeReviewer/internal/daemon"
	"github.com/jackyshang/AICodeReviewer/internal/version"
)

// ErrDaemonNotRunning indicates no daemon runtime file was found
var ErrDaemonNotRunning = fmt.Errorf("daemon not running (no runtime file found)")

// daemonClient returns a client for an already-running daemon without
// starting one: --addr if set, otherwise runtime discovery.
func daemonClient() (daemon.Client, error) {
	if serverAddr != "" {
		return daemon.NewHTTPClient(serverAddr), nil
	}
	client, err := daemon.NewClientFromRuntime()
	if err != nil {
		return nil, ErrDaemonNotRunning
	}
	return client, nil
}

// ensureDaemon returns a client for a healthy daemon, spawning or
// restarting one as needed. A daemon built from a different version is
// restarted so the CLI and daemon never disagree on wire shapes.
func ensureDaemon() (daemon.Client, error) {
	if serverAddr != "" {
		client := daemon.NewHTTPClient(serverAddr)
		if _, err := client.Health(); err != nil {
			return nil, fmt.Errorf("daemon not reachable at %s: %w", serverAddr, err)
		}
		return client, nil
	}

	if info, err := daemon.FindRuntime(); err == nil {
		client := daemon.NewHTTPClient("http://" + info.Addr)
		if health, err := client.Health(); err == nil {
			// Fail closed: restart on empty or mismatched version
			if health.Version == "" || health.Version != version.Version {
				if verbose {
					fmt.Printf("Daemon version mismatch (daemon: %s, cli: %s), restarting...\n",
						health.Version, version.Version)
				}
				return restartDaemon()
			}
			return client, nil
		}
	}

	return startDaemon()
}

// findDaemonBinary locates reviewerd: next to this executable first,
// then on PATH.
func findDaemonBinary() (string, error) {
	name := "reviewerd"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("reviewerd binary not found next to reviewer or on PATH")
}

// startDaemon spawns reviewerd in the background with its output going
// to daemon.log in the data dir, then waits for it to become healthy.
func startDaemon() (daemon.Client, error) {
	bin, err := findDaemonBinary()
	if err != nil {
		return nil, err
	}
	if verbose {
		fmt.Println("Starting daemon...")
	}

	if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	logPath := filepath.Join(config.DataDir(), "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(bin)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start daemon: %w", err)
	}

	// Wait for the daemon to write its runtime file and answer health
	for range 30 {
		time.Sleep(100 * time.Millisecond)
		if info, err := daemon.FindRuntime(); err == nil && daemon.IsDaemonAlive(info.Addr) {
			return daemon.NewHTTPClient("http://" + info.Addr), nil
		}
	}

	return nil, fmt.Errorf("daemon failed to start (see %s)", logPath)
}

// stopDaemon stops any running daemons.
// Returns ErrDaemonNotRunning if no daemon runtime files are found.
func stopDaemon() error {
	runtimes, err := daemon.ListAllRuntimes()
	if err != nil {
		if os.IsNotExist(err) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("failed to list daemon runtimes: %w", err)
	}
	if len(runtimes) == 0 {
		return ErrDaemonNotRunning
	}

	var lastErr error
	for _, info := range runtimes {
		if !daemon.KillDaemon(info) {
			lastErr = fmt.Errorf("failed to kill daemon (pid %d)", info.PID)
		}
	}
	return lastErr
}

// killAllDaemons kills orphaned reviewerd processes left behind by old
// binaries or crashed restarts.
func killAllDaemons() {
	if runtime.GOOS == "windows" {
		_ = exec.Command("wmic", "process", "where",
			"name like 'reviewerd%'",
			"call", "terminate").Run()
	} else {
		_ = exec.Command("pkill", "-x", "reviewerd").Run()
		time.Sleep(100 * time.Millisecond)
		_ = exec.Command("pkill", "-9", "-x", "reviewerd").Run()
	}
	time.Sleep(200 * time.Millisecond)
}

// restartDaemon stops the running daemon and starts a new one
func restartDaemon() (daemon.Client, error) {
	_ = stopDaemon() // killAllDaemons is the fallback
	killAllDaemons()
	return startDaemon()
}
