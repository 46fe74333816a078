package daemon

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jackyshang/AICodeReviewer/internal/config"
)

// ConfigGetter provides access to the current config
type ConfigGetter interface {
	Config() *config.Config
}

// StaticConfig wraps a config for use without hot-reloading (e.g., in tests)
type StaticConfig struct {
	cfg *config.Config
}

// NewStaticConfig creates a ConfigGetter that always returns the same config
func NewStaticConfig(cfg *config.Config) *StaticConfig {
	return &StaticConfig{cfg: cfg}
}

// Config returns the static config
func (sc *StaticConfig) Config() *config.Config {
	return sc.cfg
}

// reloadDebounce coalesces the event bursts editors produce on save.
const reloadDebounce = 200 * time.Millisecond

// ConfigWatcher watches config.toml for changes and reloads configuration.
//
// Hot-reloadable settings take effect on the next review request:
// model, max_iterations, review_timeout_minutes.
//
// Settings requiring restart: server_addr, provider, api_key, base_url,
// max_concurrent_reviews, rate_limit, archive_backend, postgres_dsn,
// allowed_roots. These wire up the provider handle, the session store,
// and the listener at startup; the running values are preserved even if
// the config file changes. The config object may show file values after
// reload, but the actual running server address and review concurrency
// are fixed at startup.
//
// Note: ConfigWatcher is not restart-safe. Once Stop() is called, Start() will
// return an error. Create a new ConfigWatcher instance if restart is needed.
type ConfigWatcher struct {
	path        string
	broadcaster Broadcaster
	activityLog *ActivityLog
	watcher     *fsnotify.Watcher
	done        chan struct{}
	stopOnce    sync.Once

	mu         sync.RWMutex
	cfg        *config.Config
	stopped    bool
	reloadedAt time.Time
	reloads    uint64
}

// NewConfigWatcher creates a new config watcher
func NewConfigWatcher(configPath string, cfg *config.Config, broadcaster Broadcaster, activityLog *ActivityLog) *ConfigWatcher {
	return &ConfigWatcher{
		path:        configPath,
		cfg:         cfg,
		broadcaster: broadcaster,
		activityLog: activityLog,
		done:        make(chan struct{}),
	}
}

// Start begins watching the config file for changes.
// Returns an error if the watcher has already been stopped.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.RLock()
	stopped := cw.stopped
	cw.mu.RUnlock()
	if stopped {
		return fmt.Errorf("config watcher already stopped; create a new instance to restart")
	}

	// No path, no watching. Tests and one-shot runs pass "".
	if cw.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory containing the config file, not the file itself.
	// This handles editors that do atomic writes (delete + create).
	if err := watcher.Add(filepath.Dir(cw.path)); err != nil {
		watcher.Close()
		return err
	}
	cw.watcher = watcher

	go cw.watchLoop(ctx)
	return nil
}

// Stop stops the config watcher. Safe to call multiple times.
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		cw.mu.Lock()
		cw.stopped = true
		cw.mu.Unlock()
		close(cw.done)
		if cw.watcher != nil {
			cw.watcher.Close()
		}
	})
}

// Config returns the current config with read lock
func (cw *ConfigWatcher) Config() *config.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.cfg
}

// LastReloadedAt returns the time of the last successful config reload
func (cw *ConfigWatcher) LastReloadedAt() time.Time {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.reloadedAt
}

// ReloadCounter returns a monotonic counter incremented on each reload.
// Use this instead of timestamp comparison to detect reloads that happen
// within the same second.
func (cw *ConfigWatcher) ReloadCounter() uint64 {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.reloads
}

// relevant reports whether an fsnotify event is a save of our config
// file. Rename covers editors that save atomically via rename (vim).
func (cw *ConfigWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(cw.path) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !cw.relevant(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, cw.reload)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Config watcher error: %v", err)
		}
	}
}

func (cw *ConfigWatcher) reload() {
	newCfg, err := config.LoadGlobalFrom(cw.path)
	if err != nil {
		log.Printf("Failed to reload config: %v", err)
		return
	}

	cw.mu.Lock()
	oldCfg := cw.cfg
	cw.cfg = newCfg
	cw.reloadedAt = time.Now()
	cw.reloads++
	cw.mu.Unlock()

	logConfigChanges(oldCfg, newCfg)

	cw.broadcaster.Broadcast(Event{
		Type: "config.reloaded",
		TS:   time.Now(),
	})

	if cw.activityLog != nil {
		cw.activityLog.Log("config.reloaded", "config", "config reloaded",
			map[string]string{"path": cw.path})
	}

	log.Printf("Config reloaded successfully")
}

func logConfigChanges(old, new *config.Config) {
	if old.Model != new.Model {
		log.Printf("Config change: model %q -> %q", old.Model, new.Model)
	}
	if old.MaxIterations != new.MaxIterations {
		log.Printf("Config change: max_iterations %d -> %d", old.MaxIterations, new.MaxIterations)
	}
	if old.ReviewTimeoutMinutes != new.ReviewTimeoutMinutes {
		log.Printf("Config change: review_timeout_minutes %d -> %d", old.ReviewTimeoutMinutes, new.ReviewTimeoutMinutes)
	}
	if old.Provider != new.Provider {
		log.Printf("Config change: provider %q -> %q (requires daemon restart to take effect)", old.Provider, new.Provider)
	}
	if old.MaxConcurrentReviews != new.MaxConcurrentReviews {
		log.Printf("Config change: max_concurrent_reviews %d -> %d (requires daemon restart to take effect)", old.MaxConcurrentReviews, new.MaxConcurrentReviews)
	}
	if old.ServerAddr != new.ServerAddr {
		log.Printf("Config change: server_addr %q -> %q (requires daemon restart to take effect)", old.ServerAddr, new.ServerAddr)
	}
	if config.RateLimitEnabled(old) != config.RateLimitEnabled(new) {
		log.Printf("Config change: rate_limit %v -> %v (requires daemon restart to take effect)",
			config.RateLimitEnabled(old), config.RateLimitEnabled(new))
	}
}
