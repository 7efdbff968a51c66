package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fl-coordination/fabric/pkg/aggregator"
	"github.com/fl-coordination/fabric/pkg/directory"
	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/metrics"
)

// HandleAggregatorCommand handles all aggregator-related commands
func HandleAggregatorCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("aggregator command requires a subcommand (start, init, etc.)")
	}

	subcommand := args[0]
	subArgs := args[1:]

	switch subcommand {
	case "start":
		return handleAggregatorStart(subArgs)
	case "init":
		return handleAggregatorInit(subArgs)
	case "--help", "-h":
		printAggregatorUsage()
		return nil
	default:
		return fmt.Errorf("unknown aggregator subcommand: %s", subcommand)
	}
}

func handleAggregatorStart(args []string) error {
	configPath, metricsPath := "config_aggregator.yaml", "data/aggregator_metrics.csv"
	for i, arg := range args {
		switch arg {
		case "--config", "-c":
			if i+1 < len(args) {
				configPath = args[i+1]
			}
		case "--metrics", "-m":
			if i+1 < len(args) {
				metricsPath = args[i+1]
			}
		}
	}

	fmt.Printf("📋 Loading aggregator configuration: %s\n", configPath)
	cfg, err := federation.LoadAggregatorConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(metricsPath), 0755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %v", err)
	}
	sink := metrics.NewCSVSink(metricsPath)

	dir := directory.NewClient(net.JoinHostPort(cfg.DBIP, strconv.Itoa(cfg.DBPort)))
	id := uuid.NewString()

	srv, err := aggregator.NewServer(id, *cfg, dir, sink, configPath)
	if err != nil {
		return fmt.Errorf("failed to construct aggregator: %v", err)
	}

	if err := dir.UpdateAggregator(id, cfg.AggrIP, cfg.RegSocket); err != nil {
		fmt.Printf("⚠️  failed to publish serving address: %v\n", err)
	}

	fmt.Printf("🚀 Starting aggregator %s\n", id)
	fmt.Printf("📊 Configuration:\n")
	fmt.Printf("   Registration address: %s:%d\n", cfg.AggrIP, cfg.RegSocket)
	fmt.Printf("   Algorithm: %s\n", algorithmName(cfg.Algorithm))
	fmt.Printf("   Max rounds: %d\n", cfg.MaxRounds)
	fmt.Printf("   Polling mode: %v\n", cfg.Polling)

	// errgroup supervises the registration/upload-poll listener pair and
	// the round loop under one cancellation scope, mirroring cmd/aggregator.
	var g errgroup.Group
	g.Go(func() error {
		err := srv.ListenAndServe()
		srv.Stop()
		return err
	})
	g.Go(func() error {
		srv.Run()
		srv.Stop()
		return nil
	})

	fmt.Printf("\n🎯 Aggregator ready! Waiting for agents to connect...\n\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("🛑 received %s, shutting down\n", sig)
		srv.Stop()
	}()

	if err := g.Wait(); err != nil {
		return fmt.Errorf("aggregator failed: %v", err)
	}
	return nil
}

func algorithmName(cfg federation.AlgorithmConfig) string {
	if cfg.Name == "" {
		return "fedavg"
	}
	return cfg.Name
}

func handleAggregatorInit(args []string) error {
	configPath := "config_aggregator.yaml"
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg := &federation.AggregatorConfig{
		AggrIP:                "0.0.0.0",
		RegSocket:             9018,
		RecvSocket:            9019,
		ExchSocket:            9020,
		DBIP:                  "127.0.0.1",
		DBPort:                9017,
		AggregationThreshold:  2,
		MaxRounds:             10,
		EarlyStoppingPatience: 3,
		EarlyStoppingMinDelta: 0.001,
		Algorithm:             federation.AlgorithmConfig{Name: "fedavg"},
	}
	if err := federation.SaveAggregatorConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write %s: %v", configPath, err)
	}

	fmt.Printf("✅ Wrote default aggregator config to %s\n", configPath)
	return nil
}

func printAggregatorUsage() {
	fmt.Println("Aggregator command - Start and manage the round-leader process")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fx aggregator <subcommand> [options]")
	fmt.Println()
	fmt.Println("Available Subcommands:")
	fmt.Println("  init    Write a default config_aggregator.yaml")
	fmt.Println("  start   Start the aggregator")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config, -c   Path to config file (default: config_aggregator.yaml)")
	fmt.Println("  --metrics, -m  Path to the per-round metrics CSV")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  fx aggregator init                      # Write config_aggregator.yaml")
	fmt.Println("  fx aggregator start --config aggr.yaml  # Start with a custom config")
}
