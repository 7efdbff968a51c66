package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/fl-coordination/fabric/pkg/agent"
	"github.com/fl-coordination/fabric/pkg/directory"
	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/wire"
)

// HandleAgentCommand handles all agent-related commands.
func HandleAgentCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("agent command requires a subcommand (start, init, etc.)")
	}

	subcommand := args[0]
	subArgs := args[1:]

	switch subcommand {
	case "start":
		return handleAgentStart(subArgs)
	case "init":
		return handleAgentInit(subArgs)
	case "--help", "-h":
		printAgentUsage()
		return nil
	default:
		return fmt.Errorf("unknown agent subcommand: %s", subcommand)
	}
}

// passthroughTrainer stands in for a real ML task when fx is used to
// smoke-test the coordination fabric without attaching a training script.
type passthroughTrainer struct{}

func (passthroughTrainer) Train(global wire.ModelDict) (wire.ModelDict, int, error) {
	local := make(wire.ModelDict, len(global))
	for k, v := range global {
		local[k] = append([]float32(nil), v...)
	}
	return local, 1, nil
}

func (passthroughTrainer) Evaluate(wire.ModelDict) (float64, error) { return 0, nil }

func handleAgentStart(args []string) error {
	configPath := "config_agent.yaml"
	for i, arg := range args {
		switch arg {
		case "--config", "-c":
			if i+1 < len(args) {
				configPath = args[i+1]
			}
		}
	}

	fmt.Printf("📋 Loading agent configuration: %s\n", configPath)
	cfg, err := federation.LoadAgentConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	ip := cfg.DeviceIP
	if ip == "" || ip == "CHANGE_ME" {
		ip = detectIP()
	}

	dir := directory.NewClient(net.JoinHostPort(cfg.DBIP, strconv.Itoa(cfg.DBPort)))
	id := uuid.NewString()
	trainer := passthroughTrainer{}
	a := agent.NewAgent(id, ip, *cfg, configPath, dir, trainer, trainer)

	fmt.Printf("🚀 Starting agent %s at %s\n", id, ip)

	if err := a.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	go a.Run()

	fmt.Printf("🎯 Agent ready, waiting for rounds...\n\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("agent push listener stopped: %v", err)
	case sig := <-sigCh:
		fmt.Printf("🛑 received %s, shutting down\n", sig)
		a.Stop()
	}

	return nil
}

func detectIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func handleAgentInit(args []string) error {
	configPath := "config_agent.yaml"
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg := &federation.AgentConfig{
		DeviceIP:                "CHANGE_ME",
		AggrIP:                  "127.0.0.1",
		RegSocket:               9018,
		ExchSocket:              9021,
		DBIP:                    "127.0.0.1",
		DBPort:                  9017,
		RegistrationGracePeriod: 30 * time.Second,
		ElectionMinAgents:       1,
		Role:                    federation.RoleAgent,
	}
	if err := federation.SaveAgentConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write %s: %v", configPath, err)
	}

	fmt.Printf("✅ Wrote default agent config to %s\n", configPath)
	return nil
}

func printAgentUsage() {
	fmt.Println("Agent command - Start and manage a trainer/uploader process")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fx agent <subcommand> [options]")
	fmt.Println()
	fmt.Println("Available Subcommands:")
	fmt.Println("  init    Write a default config_agent.yaml")
	fmt.Println("  start   Start the agent")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config, -c   Path to config file (default: config_agent.yaml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  fx agent init                     # Write config_agent.yaml")
	fmt.Println("  fx agent start --config a1.yaml   # Start with a custom config")
}
