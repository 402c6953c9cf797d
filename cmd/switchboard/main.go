// Package main provides the CLI entry point for the switchboard experience
// server.
//
// The server multiplexes a local agent runtime across HTTP chat sessions,
// a Slack bridge, and a realtime voice interface.
//
// # Basic Usage
//
// Start the server:
//
//	switchboard serve
//
// Check the environment:
//
//	switchboard doctor
//
// # Environment Variables
//
//   - SWITCHBOARD_HOME: state root (default: ~/.switchboard)
//   - SWITCHBOARD_SERVER_API_KEY: API key for authenticated routes; empty
//     means open, local-only mode
//   - OPENAI_API_KEY: realtime voice and provider probes
//   - ANTHROPIC_API_KEY: provider probes
//   - SLACK_BOT_TOKEN / SLACK_APP_TOKEN: enable the Slack bridge
//
// Keys may also live in <home>/keys.env; the environment wins.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "switchboard",
		Short:         "Session server for a local agent runtime",
		Long:          "Switchboard runs a local agent runtime behind an HTTP API,\na Slack bridge, and a realtime voice interface.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
		buildStatusCmd(),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
