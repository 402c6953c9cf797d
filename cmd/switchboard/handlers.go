package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/haasonsaas/switchboard/internal/agent"
	"github.com/haasonsaas/switchboard/internal/backend"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/daemon"
	"github.com/haasonsaas/switchboard/internal/doctor"
	"github.com/haasonsaas/switchboard/internal/gateway"
	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/slackbridge"
	"github.com/haasonsaas/switchboard/internal/transcript"
	"github.com/haasonsaas/switchboard/internal/voice"
)

type serveOptions struct {
	host     string
	port     int
	simulate bool
	debug    bool
	version  string
}

// runServe wires the full server together and blocks until shutdown.
func runServe(ctx context.Context, opts serveOptions) error {
	home := config.Home()
	for _, dir := range []string{home, config.ServerDir(), config.ProjectsDir(), config.VoiceSessionsDir(), config.MemoryDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	settings, err := config.LoadSettings(filepath.Join(home, config.SettingsFilename))
	if err != nil {
		return err
	}
	port := opts.port
	if port == 0 {
		port = settings.Port
	}

	level := settings.LogLevel
	if opts.debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: settings.LogFormat})
	metrics := observability.NewMetrics()

	var sessions backend.Backend
	if opts.simulate {
		logger.Info(ctx, "simulate mode, no runtime will be started")
		sessions = backend.NewMockBackend()
	} else {
		sessions = backend.NewLocalBackend(backend.Config{
			Runtime:       agent.NewSubprocessRuntime(logger),
			Home:          home,
			DefaultBundle: settings.BundleName,
			Logger:        logger,
			Metrics:       metrics,
		})
	}

	store := transcript.NewStore(config.VoiceSessionsDir(), logger)
	realtime := voice.NewRealtimeClient(voice.RealtimeConfig{
		APIKey:       config.Secret("OPENAI_API_KEY"),
		Model:        settings.Voice.Model,
		Voice:        settings.Voice.Voice,
		Instructions: settings.Voice.Instructions,
	}, logger)
	voices := voice.NewManager(voice.ManagerConfig{
		Backend:  sessions,
		Store:    store,
		Realtime: realtime,
		Home:     home,
		Logger:   logger,
		Metrics:  metrics,
	})

	memories := memory.NewStore(config.MemoryDir())

	var bridge *slackbridge.Bridge
	botToken := config.Secret("SLACK_BOT_TOKEN")
	appToken := config.Secret("SLACK_APP_TOKEN")
	if botToken != "" && appToken != "" {
		mapping, err := slackbridge.NewMapping(home)
		if err != nil {
			return fmt.Errorf("load slack session mapping: %w", err)
		}
		bridge = slackbridge.New(slackbridge.Config{
			BotToken:   botToken,
			AppToken:   appToken,
			WorkingDir: settings.WorkspaceRootOrHome(),
			Backend:    sessions,
			Mapping:    mapping,
			Logger:     logger,
		})
	} else if botToken != "" || appToken != "" {
		logger.Warn(ctx, "slack bridge disabled, both SLACK_BOT_TOKEN and SLACK_APP_TOKEN are required")
	}

	if err := daemon.WritePIDFile(home); err != nil {
		return err
	}
	defer daemon.RemovePIDFile(home)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := gateway.New(gateway.Config{
		Host:     opts.host,
		Port:     port,
		Version:  opts.version,
		APIKey:   os.Getenv(config.EnvAPIKey),
		Home:     home,
		Settings: settings,
		Backend:  sessions,
		Voice:    voices,
		Memory:   memories,
		Slack:    bridge,
		Logger:   logger,
		Metrics:  metrics,
	})

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		daemon.AppendCrashLog(home, err)
		return err
	}
	return nil
}

// runDoctor prints the health report and fails on error-severity findings.
func runDoctor(ctx context.Context, asJSON bool) error {
	report := doctor.Run(ctx, config.Home())

	if asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		for _, check := range report.Checks {
			symbol := "ok"
			switch {
			case !check.Passed && check.Severity == doctor.SeverityError:
				symbol = "FAIL"
			case !check.Passed:
				symbol = "warn"
			}
			fmt.Printf("%-6s %-20s %s\n", symbol, check.Name, check.Message)
		}
	}

	if !report.Passed {
		return errors.New("doctor found problems")
	}
	return nil
}

// runStatus reports on the server recorded in the PID file.
func runStatus(ctx context.Context) error {
	home := config.Home()
	status := daemon.CheckStatus(home)

	switch {
	case status.Running:
		fmt.Printf("running (pid %d)\n", status.PID)
	case status.Stale:
		fmt.Printf("not running (stale pid file, pid %d)\n", status.PID)
	default:
		fmt.Println("not running")
	}
	return nil
}
