package doctor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func checkByName(t *testing.T, report Report, name string) Check {
	t.Helper()
	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("check %q missing from report: %+v", name, report)
	return Check{}
}

func TestRunPassesOnEmptyEnvironment(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SWITCHBOARD_HOME", home)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_APP_TOKEN", "")

	report := Run(context.Background(), home)
	if !report.Passed {
		t.Fatalf("missing optional keys must not fail the report: %+v", report)
	}

	openaiCheck := checkByName(t, report, "openai_api_key")
	if openaiCheck.Passed || openaiCheck.Severity != SeverityWarning {
		t.Fatalf("openai check: %+v", openaiCheck)
	}
}

func TestRunFlagsWorldReadableKeys(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SWITCHBOARD_HOME", home)
	path := filepath.Join(home, "keys.env")
	if err := os.WriteFile(path, []byte("OPENAI_API_KEY=sk-test\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	report := Run(context.Background(), home)
	keysCheck := checkByName(t, report, "keys_file")
	if keysCheck.Passed || keysCheck.Severity != SeverityError {
		t.Fatalf("keys check: %+v", keysCheck)
	}
	if report.Passed {
		t.Fatal("error-severity finding must fail the report")
	}
}

func TestRunWarnsOnPartialSlackConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SWITCHBOARD_HOME", home)
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("SLACK_APP_TOKEN", "")

	report := Run(context.Background(), home)
	slackCheck := checkByName(t, report, "slack")
	if slackCheck.Passed || slackCheck.Severity != SeverityWarning {
		t.Fatalf("slack check: %+v", slackCheck)
	}
}

func TestRunWarnsOnStalePIDFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SWITCHBOARD_HOME", home)
	if err := os.MkdirAll(filepath.Join(home, "server"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "server", "server.pid"), []byte("99999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	report := Run(context.Background(), home)
	pidCheck := checkByName(t, report, "server_pid")
	if pidCheck.Passed || pidCheck.Severity != SeverityWarning {
		t.Fatalf("pid check: %+v", pidCheck)
	}
	if !report.Passed {
		t.Fatal("a stale pid file is a warning, not a failure")
	}
}

func TestProbeOpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "bad key", "type": "invalid_request_error"}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []any{map[string]any{"id": "gpt-4o"}}})
	}))
	defer server.Close()

	result := ProbeProvider(context.Background(), "openai", ProbeOptions{APIKey: "sk-test", BaseURL: server.URL})
	if !result.OK || result.Error != "" {
		t.Fatalf("probe with valid key: %+v", result)
	}

	result = ProbeProvider(context.Background(), "openai", ProbeOptions{APIKey: "sk-wrong", BaseURL: server.URL})
	if result.OK || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("probe with invalid key: %+v", result)
	}
}

func TestProbeAnthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Api-Key") != "sk-ant-test" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"type": "error", "error": map[string]any{"type": "authentication_error", "message": "invalid x-api-key"}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}, "has_more": false})
	}))
	defer server.Close()

	result := ProbeProvider(context.Background(), "anthropic", ProbeOptions{APIKey: "sk-ant-test", BaseURL: server.URL})
	if !result.OK || result.Error != "" {
		t.Fatalf("probe with valid key: %+v", result)
	}

	result = ProbeProvider(context.Background(), "anthropic", ProbeOptions{APIKey: "sk-ant-wrong", BaseURL: server.URL})
	if result.OK || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("probe with invalid key: %+v", result)
	}
}

func TestProbeMissingKey(t *testing.T) {
	t.Setenv("SWITCHBOARD_HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")

	result := ProbeProvider(context.Background(), "openai", ProbeOptions{})
	if result.OK || result.Error == "" {
		t.Fatalf("probe without key: %+v", result)
	}
}

func TestProbeUnknownProvider(t *testing.T) {
	result := ProbeProvider(context.Background(), "venice", ProbeOptions{})
	if result.OK || result.Error == "" {
		t.Fatalf("unknown provider: %+v", result)
	}
}
