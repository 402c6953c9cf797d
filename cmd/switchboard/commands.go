package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the server in the
// foreground until SIGINT or SIGTERM.
func buildServeCmd() *cobra.Command {
	var (
		host     string
		port     int
		simulate bool
		debug    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the switchboard server",
		Long: `Start the switchboard server with the HTTP API, the voice app,
and, when Slack tokens are configured, the Slack bridge.

The server runs in the foreground and shuts down cleanly on
SIGINT or SIGTERM.`,
		Example: `  # Start with defaults (port 8400)
  switchboard serve

  # Start on another port with debug logging
  switchboard serve --port 9000 --debug

  # Start without a runtime, answering with canned responses
  switchboard serve --simulate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveOptions{
				host:     host,
				port:     port,
				simulate: simulate,
				debug:    debug,
				version:  version,
			})
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Interface to bind")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default: settings.yaml or 8400)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Run without a runtime, using canned responses")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildDoctorCmd creates the "doctor" command that checks the environment.
func buildDoctorCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and environment health",
		Example: `  switchboard doctor
  switchboard doctor --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the report as JSON")
	return cmd
}

// buildStatusCmd creates the "status" command reporting on a running server.
func buildStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a server is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("switchboard %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
