package daemon

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/config"
)

// RuntimeInfo is the discovery record a daemon writes on startup so
// the CLI can find it. One file per PID allows detecting leftovers
// from crashed daemons.
type RuntimeInfo struct {
	PID       int    `json:"pid"`
	Addr      string `json:"addr"`
	Port      int    `json:"port"`
	Version   string `json:"version"`
	StartedAt string `json:"started_at"`
}

// RuntimePath returns the path to the runtime info file for the current process
func RuntimePath() string {
	return RuntimePathForPID(os.Getpid())
}

// RuntimePathForPID returns the path to the runtime info file for a specific PID
func RuntimePathForPID(pid int) string {
	return filepath.Join(config.DataDir(), fmt.Sprintf("daemon.%d.json", pid))
}

// WriteRuntime saves the daemon runtime info so the CLI can find us
func WriteRuntime(addr string, port int, version string) error {
	path := RuntimePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(RuntimeInfo{
		PID:       os.Getpid(),
		Addr:      addr,
		Port:      port,
		Version:   version,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readRuntimeFile(path string) (*RuntimeInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info RuntimeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ReadRuntime reads the daemon runtime info for the current process
func ReadRuntime() (*RuntimeInfo, error) {
	return ReadRuntimeForPID(os.Getpid())
}

// ReadRuntimeForPID reads the daemon runtime info for a specific PID
func ReadRuntimeForPID(pid int) (*RuntimeInfo, error) {
	return readRuntimeFile(RuntimePathForPID(pid))
}

// RemoveRuntime removes the runtime info file for the current process
func RemoveRuntime() {
	os.Remove(RuntimePath())
}

// RemoveRuntimeForPID removes the runtime info file for a specific PID
func RemoveRuntimeForPID(pid int) {
	os.Remove(RuntimePathForPID(pid))
}

// ListAllRuntimes returns info from every daemon runtime file found.
// Files that no longer parse are deleted on the way.
func ListAllRuntimes() ([]*RuntimeInfo, error) {
	matches, err := filepath.Glob(filepath.Join(config.DataDir(), "daemon.*.json"))
	if err != nil {
		return nil, err
	}

	var runtimes []*RuntimeInfo
	for _, path := range matches {
		info, err := readRuntimeFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				os.Remove(path)
			}
			continue
		}
		runtimes = append(runtimes, info)
	}
	return runtimes, nil
}

// FindRuntime returns info about any running daemon, preferring responsive ones.
// Returns os.ErrNotExist when no runtime files are present at all.
func FindRuntime() (*RuntimeInfo, error) {
	runtimes, err := ListAllRuntimes()
	if err != nil {
		return nil, err
	}

	for _, info := range runtimes {
		if IsDaemonAlive(info.Addr) {
			return info, nil
		}
	}

	if len(runtimes) == 0 {
		return nil, os.ErrNotExist
	}
	// Nothing responded; hand back the first record so the caller can
	// clean it up.
	return runtimes[0], nil
}

// IsDaemonAlive checks if a daemon at the given address is actually responding.
// This is more reliable than checking PID and works cross-platform.
func IsDaemonAlive(addr string) bool {
	if addr == "" {
		return false
	}
	client := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/health", addr))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// isLoopbackAddr reports whether addr refers to the local machine.
// KillDaemon only sends shutdown requests to loopback addresses; a
// stale runtime file must never trigger a request across the network.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// shutdownOverHTTP posts /api/shutdown and waits for the daemon to go
// quiet. Returns false if it is still responding afterwards.
func shutdownOverHTTP(addr string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://%s/api/shutdown", addr), "application/json", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()

	for i := 0; i < 10; i++ {
		time.Sleep(200 * time.Millisecond)
		if !IsDaemonAlive(addr) {
			return true
		}
	}
	return false
}

// KillDaemon attempts to gracefully shut down a daemon, then force kill if needed.
// Returns true if the daemon was killed or is no longer running.
func KillDaemon(info *RuntimeInfo) bool {
	if info == nil {
		return true
	}

	if isLoopbackAddr(info.Addr) && shutdownOverHTTP(info.Addr) {
		RemoveRuntimeForPID(info.PID)
		return true
	}

	// Graceful shutdown failed or was not attempted; fall back to an
	// OS-level kill.
	if info.PID > 0 && killProcess(info.PID) {
		RemoveRuntimeForPID(info.PID)
		return true
	}
	return false
}

// CleanupZombieDaemons finds and kills all unresponsive daemons.
// Returns the number of zombies cleaned up.
func CleanupZombieDaemons() int {
	runtimes, err := ListAllRuntimes()
	if err != nil {
		return 0
	}

	cleaned := 0
	for _, info := range runtimes {
		if IsDaemonAlive(info.Addr) {
			continue
		}
		if KillDaemon(info) {
			cleaned++
		}
	}
	return cleaned
}

// FindAvailablePort finds an available port starting from the configured address.
// After zombie cleanup, this should usually succeed on the first try.
// Falls back to searching if the port is still in use (e.g., by another service).
func FindAvailablePort(startAddr string) (string, int, error) {
	host, port := "127.0.0.1", 8765
	if h, p, err := net.SplitHostPort(startAddr); err == nil {
		if h != "" {
			host = h
		}
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	for i := 0; i < 100; i++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port+i))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return addr, port + i, nil
		}
	}

	return "", 0, fmt.Errorf("no available port found starting from %d", port)
}
