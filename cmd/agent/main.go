package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"github.com/fl-coordination/fabric/pkg/agent"
	"github.com/fl-coordination/fabric/pkg/directory"
	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/wire"
)

// identityTrainer is the default Trainer/Evaluator wired when no real ML
// app is attached: it echoes the global model back as the "trained"
// local model, letting the coordination fabric be exercised end to end
// without a learning task. Real deployments replace this with their own
// agent.Trainer/agent.Evaluator implementation.
type identityTrainer struct{}

func (identityTrainer) Train(global wire.ModelDict) (wire.ModelDict, int, error) {
	local := make(wire.ModelDict, len(global))
	for k, v := range global {
		local[k] = append([]float32(nil), v...)
	}
	return local, 1, nil
}

func (identityTrainer) Evaluate(wire.ModelDict) (float64, error) {
	return 0, nil
}

func main() {
	configPath := flag.String("config", "config_agent.yaml", "Path to agent configuration file")
	flag.Parse()

	cfg, err := federation.LoadAgentConfig(*configPath)
	if err != nil {
		log.Fatalf("load %s: %v", *configPath, err)
	}

	ip := cfg.DeviceIP
	if ip == "" {
		ip = detectIP()
	}

	dir := directory.NewClient(net.JoinHostPort(cfg.DBIP, strconv.Itoa(cfg.DBPort)))
	id := uuid.NewString()

	trainer := identityTrainer{}
	a := agent.NewAgent(id, ip, *cfg, *configPath, dir, trainer, trainer)

	if err := a.Bootstrap(); err != nil {
		log.Fatalf("agent: bootstrap failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	go a.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("agent: push listener stopped: %v", err)
	case sig := <-sigCh:
		log.Printf("agent: received %s, shutting down", sig)
		a.Stop()
	}
}

func detectIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
