package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fl-coordination/fabric/pkg/dashboard"
	"github.com/fl-coordination/fabric/pkg/directory"
	"github.com/fl-coordination/fabric/pkg/federation"
)

// HandleDirectoryCommand handles all directory-related commands.
func HandleDirectoryCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("directory command requires a subcommand (start, init, etc.)")
	}

	subcommand := args[0]
	subArgs := args[1:]

	switch subcommand {
	case "start":
		return handleDirectoryStart(subArgs)
	case "init":
		return handleDirectoryInit(subArgs)
	case "--help", "-h":
		printDirectoryUsage()
		return nil
	default:
		return fmt.Errorf("unknown directory subcommand: %s", subcommand)
	}
}

func handleDirectoryStart(args []string) error {
	configPath, dataDir := "config_directory.yaml", "data/directory"
	for i, arg := range args {
		switch arg {
		case "--config", "-c":
			if i+1 < len(args) {
				configPath = args[i+1]
			}
		case "--data-dir", "-d":
			if i+1 < len(args) {
				dataDir = args[i+1]
			}
		}
	}

	cfg, err := federation.LoadDirectoryConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load %s: %v", configPath, err)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %v", err)
	}

	store, err := directory.Open(filepath.Join(dataDir, "directory.db"))
	if err != nil {
		return fmt.Errorf("open store: %v", err)
	}
	defer store.Close()

	blobs, err := directory.NewBlobStore(filepath.Join(dataDir, "models"))
	if err != nil {
		return fmt.Errorf("open blob store: %v", err)
	}

	ttl := time.Duration(cfg.AgentTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	sweeper := directory.NewSweeper(store, ttl)
	sweepDone := make(chan struct{})
	go sweeper.Run(ttl/4, sweepDone)
	defer close(sweepDone)

	srv := directory.NewServer(store, blobs).WithReporter(dashboard.NewReporter(cfg.Monitoring))
	addr := net.JoinHostPort(cfg.DBIP, fmt.Sprintf("%d", cfg.DBPort))

	fmt.Printf("📋 Directory listening on %s (ttl=%s)\n", addr, ttl)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("directory server stopped: %v", err)
	case sig := <-sigCh:
		fmt.Printf("🛑 received %s, shutting down\n", sig)
		return nil
	}
}

func handleDirectoryInit(args []string) error {
	configPath := "config_directory.yaml"
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg := &federation.DirectoryConfig{
		DBIP:              "0.0.0.0",
		DBPort:            9017,
		AgentTTLSeconds:   120,
		ElectionMinAgents: 1,
	}
	if err := federation.SaveDirectoryConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write %s: %v", configPath, err)
	}

	fmt.Printf("✅ Wrote default directory config to %s\n", configPath)
	return nil
}

func printDirectoryUsage() {
	fmt.Println("Directory command - Start and manage the membership/election store")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fx directory <subcommand> [options]")
	fmt.Println()
	fmt.Println("Available Subcommands:")
	fmt.Println("  init    Write a default config_directory.yaml")
	fmt.Println("  start   Start the directory server")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config, -c    Path to config file (default: config_directory.yaml)")
	fmt.Println("  --data-dir, -d  Directory for the embedded store and model blobs")
}
