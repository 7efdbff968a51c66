package main

import (
	"flag"
	"log"
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

func main() {
	configPath := flag.String("config", "config_aggregator.yaml", "Path to aggregator configuration file")
	metricsPath := flag.String("metrics", "data/aggregator_metrics.csv", "Path to the per-round metrics CSV")
	flag.Parse()

	cfg, err := federation.LoadAggregatorConfig(*configPath)
	if err != nil {
		log.Fatalf("load %s: %v", *configPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(*metricsPath), 0755); err != nil {
		log.Fatalf("mkdir for metrics sink: %v", err)
	}
	sink := metrics.NewCSVSink(*metricsPath)

	dir := directory.NewClient(net.JoinHostPort(cfg.DBIP, strconv.Itoa(cfg.DBPort)))

	id := uuid.NewString()
	srv, err := aggregator.NewServer(id, *cfg, dir, sink, *configPath)
	if err != nil {
		log.Fatalf("construct aggregator: %v", err)
	}

	if err := dir.UpdateAggregator(id, cfg.AggrIP, cfg.RegSocket); err != nil {
		log.Printf("aggregator: failed to publish serving address: %v", err)
	}

	// errgroup supervises the registration/upload-poll listener pair
	// (srv.ListenAndServe) and the round loop (srv.Run) under one
	// cancellation scope: whichever goroutine returns first calls
	// srv.Stop() to unblock the other, and a single g.Wait() collects
	// whichever of the two returned an error.
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

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("aggregator: received %s, shutting down", sig)
		srv.Stop()
	}()

	if err := g.Wait(); err != nil {
		log.Fatalf("aggregator stopped: %v", err)
	}
}
