package agent

import (
	"context"
	"testing"

	"github.com/haasonsaas/switchboard/pkg/models"
)

func newFakeSession(t *testing.T) *FakeSession {
	t.Helper()
	runtime := &FakeRuntime{}
	prepared, err := runtime.LoadBundle(context.Background(), "test-bundle")
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	session, err := prepared.CreateSession(context.Background(), CreateOptions{WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session.(*FakeSession)
}

func TestFakeSessionExecuteEcho(t *testing.T) {
	session := newFakeSession(t)

	got, err := session.Execute(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "You said: hello" {
		t.Fatalf("unexpected response %q", got)
	}

	messages, err := session.Coordinator().Context().Messages(context.Background())
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	// system + user + assistant
	if len(messages) != 3 {
		t.Fatalf("expected 3 context messages, got %d", len(messages))
	}
	if messages[1]["role"] != "user" || messages[2]["role"] != "assistant" {
		t.Fatalf("unexpected roles: %v", messages)
	}
}

func TestFakeSessionEmitsContentEvents(t *testing.T) {
	session := newFakeSession(t)

	var events []string
	for _, event := range []string{EventContentBlockStart, EventContentBlockDelta, EventContentBlockEnd} {
		ev := event
		session.Coordinator().Hooks().Register(ev, func(_ context.Context, name string, _ map[string]any) (HookResult, error) {
			events = append(events, name)
			return Continue(nil), nil
		})
	}

	if _, err := session.Execute(context.Background(), "hi"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []string{EventContentBlockStart, EventContentBlockDelta, EventContentBlockEnd}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestFakeSessionExecuteAfterClose(t *testing.T) {
	session := newFakeSession(t)
	if err := session.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := session.Execute(context.Background(), "hello"); err == nil {
		t.Fatal("expected error executing on a closed session")
	}
}

func TestFakeSessionForcedID(t *testing.T) {
	runtime := &FakeRuntime{}
	prepared, err := runtime.LoadBundle(context.Background(), "test-bundle")
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	session, err := prepared.CreateSession(context.Background(), CreateOptions{
		SessionID:  "resumed-1",
		WorkingDir: t.TempDir(),
		Resumed:    true,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.ID() != "resumed-1" {
		t.Fatalf("expected forced id, got %q", session.ID())
	}
	if created := runtime.CreatedSessions(); len(created) != 1 || created[0] != "resumed-1" {
		t.Fatalf("created sessions = %v", created)
	}
}

func TestCoordinatorRequestCancel(t *testing.T) {
	coord := NewCoordinator()

	// No cancel func installed: must not panic.
	coord.RequestCancel("graceful")

	var got models.CancelLevel
	coord.SetCancelFunc(func(level models.CancelLevel) { got = level })
	coord.RequestCancel(models.CancelImmediate)
	if got != models.CancelImmediate {
		t.Fatalf("cancel func saw %q", got)
	}
}
