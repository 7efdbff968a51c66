package main

import (
	"flag"
	"fmt"
	"log"
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

func main() {
	configPath := flag.String("config", "config_directory.yaml", "Path to directory configuration file")
	dataDir := flag.String("data-dir", "data/directory", "Directory for the embedded store and model blobs")
	flag.Parse()

	cfg, err := federation.LoadDirectoryConfig(*configPath)
	if err != nil {
		log.Printf("could not load %s, using defaults: %v", *configPath, err)
		cfg = &federation.DirectoryConfig{
			DBPort:            9017,
			AgentTTLSeconds:   120,
			ElectionMinAgents: 1,
		}
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("mkdir %s: %v", *dataDir, err)
	}

	store, err := directory.Open(filepath.Join(*dataDir, "directory.db"))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	blobs, err := directory.NewBlobStore(filepath.Join(*dataDir, "models"))
	if err != nil {
		log.Fatalf("open blob store: %v", err)
	}

	ttl := time.Duration(cfg.AgentTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	sweeper := directory.NewSweeper(store, ttl)
	sweepDone := make(chan struct{})
	go sweeper.Run(ttl/4, sweepDone)

	srv := directory.NewServer(store, blobs).WithReporter(dashboard.NewReporter(cfg.Monitoring))
	addr := net.JoinHostPort(cfg.DBIP, itoa(cfg.DBPort))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("directory server stopped: %v", err)
	case sig := <-sigCh:
		log.Printf("directory: received %s, shutting down", sig)
		close(sweepDone)
	}
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }
