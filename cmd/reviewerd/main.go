package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackyshang/AICodeReviewer/internal/archive"
	"github.com/jackyshang/AICodeReviewer/internal/config"
	"github.com/jackyshang/AICodeReviewer/internal/daemon"
	"github.com/jackyshang/AICodeReviewer/internal/llm"
	"github.com/jackyshang/AICodeReviewer/internal/ratelimit"
	"github.com/jackyshang/AICodeReviewer/internal/session"
	"github.com/jackyshang/AICodeReviewer/internal/version"
)

func main() {
	// Handle version command before anything else (for CI testing)
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("reviewerd %s\n", version.Version)
		return
	}

	var (
		configPath = flag.String("config", config.GlobalConfigPath(), "path to config file")
		addr       = flag.String("addr", "", "server address (overrides config)")
	)
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting reviewerd...")

	// Load configuration from specified path
	cfg, err := config.LoadGlobalFrom(*configPath)
	if err != nil {
		log.Printf("Warning: failed to load config from %s: %v", *configPath, err)
		cfg = config.DefaultConfig()
	}

	// Apply flag overrides
	if *addr != "" {
		cfg.ServerAddr = *addr
	}

	provider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		log.Fatalf("Failed to create provider: %v", err)
	}
	log.Printf("Provider: %s", provider.Name())

	var limits *ratelimit.Registry
	if config.RateLimitEnabled(cfg) {
		limits = ratelimit.NewRegistry()
	} else {
		log.Println("Rate limiting disabled by config")
	}

	policy := session.DefaultRootPolicy()
	if len(cfg.AllowedRoots) > 0 {
		policy = policy.Extend(cfg.AllowedRoots...)
		log.Printf("Allowed roots extended: %v", cfg.AllowedRoots)
	}

	store := session.NewStore(provider, limits, policy)

	ctx := context.Background()

	// The archive is best-effort: reviews still run if it cannot open.
	arch, err := archive.Open(ctx, cfg.ArchiveBackend, cfg.PostgresDSN)
	if err != nil {
		log.Printf("Warning: review archive unavailable: %v", err)
		arch = nil
	} else {
		defer arch.Close()
		log.Printf("Archive backend: %s", cfg.ArchiveBackend)
	}

	server := daemon.NewServer(store, limits, arch, cfg, *configPath)

	// Handle shutdown signals and client shutdown requests
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("Received signal %v, shutting down...", sig)
		case <-server.ShutdownRequested():
			log.Println("Shutdown requested via API, shutting down...")
		}
		if err := server.Stop(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	// Start server (blocks until shutdown)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
