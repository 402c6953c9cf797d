package gateway

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/switchboard/internal/transcript"
)

func TestVoiceStatusUnconfigured(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.get(t, "/apps/voice/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if body["status"] != "unconfigured" || body["api_key_set"] != false {
		t.Fatalf("unconfigured shape: %v", body)
	}
	if body["model"] == "" || body["assistant_name"] == "" {
		t.Fatalf("settings missing: %v", body)
	}
	if _, present := body["turn_server"]; !present {
		t.Fatalf("turn_server missing: %v", body)
	}

	resp, _ = env.get(t, "/apps/voice/session")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("token without config: %d", resp.StatusCode)
	}
}

func TestVoiceSessionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, "")

	resp, created := env.post(t, "/apps/voice/sessions", map[string]any{"workspace_root": "/tmp/work"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: %d %v", resp.StatusCode, created)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("no session id: %v", created)
	}

	// Transcript sync requires an object envelope.
	resp, _ = env.post(t, "/apps/voice/sessions/"+sessionID+"/transcript", []map[string]any{{"role": "user"}}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bare array: %d", resp.StatusCode)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	resp, synced := env.post(t, "/apps/voice/sessions/"+sessionID+"/transcript", map[string]any{
		"entries": []map[string]any{
			{"id": "e1", "role": "user", "content": "hello from voice", "created_at": now},
		},
	}, nil)
	if resp.StatusCode != http.StatusOK || synced["synced"] != float64(1) {
		t.Fatalf("sync: %d %v", resp.StatusCode, synced)
	}

	resp, listed := env.get(t, "/apps/voice/sessions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	if sessions, _ := listed["sessions"].([]any); len(sessions) != 1 {
		t.Fatalf("list shape: %v", listed)
	}

	resp, stats := env.get(t, "/apps/voice/sessions/stats")
	if resp.StatusCode != http.StatusOK || stats["active"] != float64(1) {
		t.Fatalf("stats: %d %v", resp.StatusCode, stats)
	}

	// Unknown reasons are coerced to "error".
	resp, ended := env.post(t, "/apps/voice/sessions/"+sessionID+"/end", map[string]any{"reason": "cosmic_rays"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end: %d %v", resp.StatusCode, ended)
	}
	if ended["status"] != transcript.StatusEnded || ended["end_reason"] != "error" {
		t.Fatalf("end coercion: %v", ended)
	}

	resp, _ = env.post(t, "/apps/voice/sessions/does-not-exist/end", map[string]any{}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("end unknown: %d", resp.StatusCode)
	}
}

func TestVoiceResume(t *testing.T) {
	env := newTestEnv(t, "")

	resp, created := env.post(t, "/apps/voice/sessions", map[string]any{"workspace_root": "/tmp/work"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: %d", resp.StatusCode)
	}
	sessionID := created["session_id"].(string)

	resp, _ = env.post(t, "/apps/voice/sessions/"+sessionID+"/transcript", map[string]any{
		"entries": []map[string]any{
			{"id": "e1", "role": "user", "content": "remember this", "created_at": time.Now().UTC().Format(time.RFC3339)},
		},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync: %d", resp.StatusCode)
	}

	resp, resumed := env.post(t, "/apps/voice/sessions/"+sessionID+"/resume", map[string]any{}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume: %d %v", resp.StatusCode, resumed)
	}
	injected, _ := resumed["context_to_inject"].([]any)
	if len(injected) != 1 {
		t.Fatalf("context_to_inject: %v", resumed)
	}
	// No realtime key configured, so there is no ephemeral secret.
	if resumed["client_secret"] != "" {
		t.Fatalf("client_secret: %v", resumed)
	}

	resp, _ = env.post(t, "/apps/voice/sessions/never-existed/resume", map[string]any{}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resume unknown: %d", resp.StatusCode)
	}
}

func TestVoiceEventsStream(t *testing.T) {
	env := newTestEnv(t, "")

	conn, err := env.manager.CreateConnection(context.Background(), "/tmp/work")
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	conn.Events().TryPush(context.Background(), map[string]any{"type": "display_message", "text": "hi"})

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/apps/voice/events?session_id="+conn.SessionID(), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, "display_message") {
		t.Fatalf("event line: %q", line)
	}
}

func TestVoiceEventsCSRFAndValidation(t *testing.T) {
	env := newTestEnv(t, "")

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/apps/voice/events?session_id=abc", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin: %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, env.http.URL+"/apps/voice/events?session_id=abc", nil)
	req.Header.Set("Origin", "http://localhost:8400")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	// Localhost origins pass CSRF; the id is simply unknown.
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("localhost origin: %d", resp.StatusCode)
	}

	resp, err = http.Get(env.http.URL + "/apps/voice/events?session_id=bad%20id")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: %d", resp.StatusCode)
	}
}

func TestVoiceToolsExecute(t *testing.T) {
	env := newTestEnv(t, "")

	conn, err := env.manager.CreateConnection(context.Background(), "/tmp/work")
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}

	resp, result := env.post(t, "/apps/voice/tools/execute", map[string]any{
		"name":      "delegate",
		"arguments": map[string]any{"prompt": "check the build"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delegate: %d %v", resp.StatusCode, result)
	}
	if result["result"] != "[Mock response to: check the build]" {
		t.Fatalf("delegate result: %v", result)
	}

	resp, result = env.post(t, "/apps/voice/tools/execute", map[string]any{"name": "pause_replies"}, nil)
	if resp.StatusCode != http.StatusOK || result["paused"] != true {
		t.Fatalf("pause: %d %v", resp.StatusCode, result)
	}
	if !env.manager.Paused() {
		t.Fatal("manager not paused")
	}
	resp, result = env.post(t, "/apps/voice/tools/execute", map[string]any{"name": "resume_replies"}, nil)
	if resp.StatusCode != http.StatusOK || result["paused"] != false {
		t.Fatalf("resume: %d %v", resp.StatusCode, result)
	}

	resp, _ = env.post(t, "/apps/voice/tools/execute", map[string]any{
		"name":      "cancel_current_task",
		"arguments": map[string]any{"session_id": conn.SessionID(), "immediate": true},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel tool: %d", resp.StatusCode)
	}

	resp, _ = env.post(t, "/apps/voice/tools/execute", map[string]any{"name": "reboot_moon_base"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown tool: %d", resp.StatusCode)
	}
}

func TestVoiceCancelRoute(t *testing.T) {
	env := newTestEnv(t, "")

	resp, _ := env.post(t, "/apps/voice/cancel", map[string]any{"session_id": "sess-1", "immediate": true}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d", resp.StatusCode)
	}

	var sawCancel bool
	for _, method := range env.mock.CallMethods() {
		if method == "cancel_session" {
			sawCancel = true
		}
	}
	if !sawCancel {
		t.Fatal("cancel never reached the backend")
	}
}

func TestVoiceStaticUI(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := http.Get(env.http.URL + "/apps/voice/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("index: %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(env.http.URL + "/apps/voice/static/vendor.js")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("vendor.js: %d", resp.StatusCode)
	}
}
