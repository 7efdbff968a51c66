package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/fl-coordination/fabric/pkg/dashboard"
)

func main() {
	configPath := flag.String("config", "config_dashboard.yaml", "Path to dashboard configuration file")
	port := flag.Int("port", 8090, "API server port")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Printf("could not load %s, using defaults: %v", *configPath, err)
		cfg = &dashboard.Config{
			APIPort:        *port,
			StorageBackend: "memory",
		}
	}
	if *port != 8090 {
		cfg.APIPort = *port
	}

	log.Printf("dashboard: storage backend: %s", cfg.StorageBackend)
	storage, err := dashboard.NewStorage(*cfg)
	if err != nil {
		log.Fatalf("construct storage: %v", err)
	}
	defer storage.Close()

	auth, err := dashboard.NewAuthManager(cfg.Auth)
	if err != nil {
		log.Fatalf("construct auth manager: %v", err)
	}

	srv := dashboard.NewAPIServer(storage, *cfg, auth)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	log.Printf("dashboard: API available at http://localhost:%d/api/v1", cfg.APIPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("dashboard server failed: %v", err)
	case sig := <-sigCh:
		log.Printf("dashboard: received %s, shutting down", sig)
	}
}

func loadConfig(path string) (*dashboard.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg dashboard.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
