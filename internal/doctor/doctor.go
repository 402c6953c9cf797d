// Package doctor runs configuration and environment health checks. A report
// fails only on error-severity findings; missing optional keys surface as
// warnings.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/daemon"
)

// Severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Check is one finding.
type Check struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Report is the full health-check result. Passed is false iff any check
// carries error severity.
type Report struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// Run executes every check against the given home directory.
func Run(ctx context.Context, home string) Report {
	checks := []Check{
		checkHome(home),
		checkKeysFile(home),
		checkSecret("openai_api_key", "OPENAI_API_KEY", "voice and realtime features"),
		checkSecret("anthropic_api_key", "ANTHROPIC_API_KEY", "the anthropic provider"),
		checkSlack(),
		checkProjectsTree(home),
		checkVoiceStore(home),
		checkServerPID(home),
	}

	passed := true
	for _, check := range checks {
		if !check.Passed && check.Severity == SeverityError {
			passed = false
		}
	}
	return Report{Passed: passed, Checks: checks}
}

func checkHome(home string) Check {
	info, err := os.Stat(home)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{
				Name:     "home_directory",
				Passed:   true,
				Message:  fmt.Sprintf("%s does not exist yet; it is created on first use", home),
				Severity: SeverityInfo,
			}
		}
		return Check{Name: "home_directory", Message: err.Error(), Severity: SeverityError}
	}
	if !info.IsDir() {
		return Check{
			Name:     "home_directory",
			Message:  fmt.Sprintf("%s exists but is not a directory", home),
			Severity: SeverityError,
		}
	}
	return Check{Name: "home_directory", Passed: true, Message: home, Severity: SeverityInfo}
}

func checkKeysFile(home string) Check {
	path := config.KeysPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Check{
			Name:     "keys_file",
			Passed:   true,
			Message:  "no keys.env; secrets come from the environment",
			Severity: SeverityInfo,
		}
	}
	if err := config.CheckKeysPermissions(path); err != nil {
		return Check{Name: "keys_file", Message: err.Error(), Severity: SeverityError}
	}
	return Check{Name: "keys_file", Passed: true, Message: "keys.env present with safe permissions", Severity: SeverityInfo}
}

func checkSecret(name, env, usedFor string) Check {
	if config.Secret(env) != "" {
		return Check{Name: name, Passed: true, Message: env + " is set", Severity: SeverityInfo}
	}
	return Check{
		Name:     name,
		Message:  fmt.Sprintf("%s is not set; %s will be unavailable", env, usedFor),
		Severity: SeverityWarning,
	}
}

func checkProjectsTree(home string) Check {
	path := filepath.Join(home, config.ProjectsDirName)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{Name: "projects_tree", Passed: true, Message: "no sessions recorded yet", Severity: SeverityInfo}
		}
		return Check{Name: "projects_tree", Message: err.Error(), Severity: SeverityError}
	}
	if !info.IsDir() {
		return Check{Name: "projects_tree", Message: path + " is not a directory", Severity: SeverityError}
	}
	return Check{Name: "projects_tree", Passed: true, Message: path, Severity: SeverityInfo}
}

func checkVoiceStore(home string) Check {
	dir := filepath.Join(home, config.VoiceSessionsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "voice_store", Message: err.Error(), Severity: SeverityError}
	}
	probe := filepath.Join(dir, ".writecheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return Check{Name: "voice_store", Message: fmt.Sprintf("%s is not writable: %v", dir, err), Severity: SeverityError}
	}
	os.Remove(probe)
	return Check{Name: "voice_store", Passed: true, Message: dir + " is writable", Severity: SeverityInfo}
}

func checkServerPID(home string) Check {
	status := daemon.CheckStatus(home)
	switch {
	case status.Running:
		return Check{Name: "server_pid", Passed: true, Message: fmt.Sprintf("server running with pid %d", status.PID), Severity: SeverityInfo}
	case status.Stale:
		return Check{
			Name:     "server_pid",
			Message:  fmt.Sprintf("stale pid file for dead process %d", status.PID),
			Severity: SeverityWarning,
		}
	default:
		return Check{Name: "server_pid", Passed: true, Message: "no pid file", Severity: SeverityInfo}
	}
}

func checkSlack() Check {
	bot := config.Secret("SLACK_BOT_TOKEN")
	app := config.Secret("SLACK_APP_TOKEN")
	switch {
	case bot != "" && app != "":
		return Check{Name: "slack", Passed: true, Message: "slack tokens are set", Severity: SeverityInfo}
	case bot == "" && app == "":
		return Check{Name: "slack", Passed: true, Message: "slack is not configured", Severity: SeverityInfo}
	default:
		return Check{
			Name:     "slack",
			Message:  "only one of SLACK_BOT_TOKEN / SLACK_APP_TOKEN is set",
			Severity: SeverityWarning,
		}
	}
}
