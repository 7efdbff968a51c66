package main

import (
	"fmt"
	"log"
	"os"

	"github.com/fl-coordination/fabric/pkg/cli"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "directory":
		if err := cli.HandleDirectoryCommand(args); err != nil {
			log.Fatalf("Directory command failed: %v", err)
		}
	case "aggregator":
		if err := cli.HandleAggregatorCommand(args); err != nil {
			log.Fatalf("Aggregator command failed: %v", err)
		}
	case "agent":
		if err := cli.HandleAgentCommand(args); err != nil {
			log.Fatalf("Agent command failed: %v", err)
		}
	case "version":
		fmt.Println("fx v1.0.0")
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("fx - federated learning coordination fabric")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fx <command> [arguments]")
	fmt.Println()
	fmt.Println("Available Commands:")
	fmt.Println("  directory    Start and manage the membership/election store")
	fmt.Println("  aggregator   Start and manage the round-leader process")
	fmt.Println("  agent        Start and manage a trainer/uploader process")
	fmt.Println("  version      Show version information")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  fx directory init && fx directory start     # Stand up the directory")
	fmt.Println("  fx aggregator init && fx aggregator start    # Start the aggregator")
	fmt.Println("  fx agent init && fx agent start               # Start an agent")
	fmt.Println()
	fmt.Println("For more help on a specific command:")
	fmt.Println("  fx <command> --help")
}
