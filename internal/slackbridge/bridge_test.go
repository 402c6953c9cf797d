package slackbridge

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"

	"github.com/haasonsaas/switchboard/internal/backend"
	"github.com/haasonsaas/switchboard/internal/observability"
)

type fakeAPI struct {
	mu     sync.Mutex
	posted []postedMessage
}

type postedMessage struct {
	Channel string
}

func (f *fakeAPI) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "UBOT"}, nil
}

func (f *fakeAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, postedMessage{Channel: channelID})
	return channelID, "1700000000.000100", nil
}

func (f *fakeAPI) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted)
}

func newTestBridge(t *testing.T) (*Bridge, *backend.MockBackend, *fakeAPI) {
	t.Helper()
	mapping, err := NewMapping(t.TempDir())
	if err != nil {
		t.Fatalf("NewMapping: %v", err)
	}
	mock := backend.NewMockBackend()
	api := &fakeAPI{}
	bridge := &Bridge{
		cfg:       Config{WorkingDir: "/tmp/work"},
		api:       api,
		backend:   mock,
		mapping:   mapping,
		logger:    observability.NewTestLogger(io.Discard),
		botUserID: "UBOT",
	}
	return bridge, mock, api
}

func TestMappingPersistence(t *testing.T) {
	home := t.TempDir()
	mapping, err := NewMapping(home)
	if err != nil {
		t.Fatalf("NewMapping: %v", err)
	}
	if err := mapping.Bind("C123", "1700.1", "sess-a"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := mapping.Bind("D456", "", "sess-b"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	reloaded, err := NewMapping(home)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if id, ok := reloaded.Resolve("C123", "1700.1"); !ok || id != "sess-a" {
		t.Fatalf("thread binding lost: %q %v", id, ok)
	}
	if id, ok := reloaded.Resolve("D456", ""); !ok || id != "sess-b" {
		t.Fatalf("dm binding lost: %q %v", id, ok)
	}
	if _, ok := reloaded.Resolve("C123", "other"); ok {
		t.Fatal("unbound thread resolved")
	}

	if err := reloaded.Unbind("sess-a"); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if _, ok := reloaded.Resolve("C123", "1700.1"); ok {
		t.Fatal("binding survived unbind")
	}
}

func TestDMCreatesSessionAndReplies(t *testing.T) {
	bridge, mock, api := newTestBridge(t)
	ctx := context.Background()

	bridge.handleMessage(ctx, inboundMessage{Channel: "D100", TS: "1.0", User: "U1", Text: "hello"})

	if api.postCount() != 1 {
		t.Fatalf("posted %d replies, want 1", api.postCount())
	}
	methods := mock.CallMethods()
	if len(methods) < 2 || methods[0] != "create_session" || methods[1] != "send_message" {
		t.Fatalf("backend calls: %v", methods)
	}

	// Same DM reuses the session.
	bridge.handleMessage(ctx, inboundMessage{Channel: "D100", TS: "2.0", User: "U1", Text: "again"})
	var creates int
	for _, method := range mock.CallMethods() {
		if method == "create_session" {
			creates++
		}
	}
	if creates != 1 {
		t.Fatalf("created %d sessions, want 1", creates)
	}
}

func TestChannelMessageRequiresMentionOrBoundThread(t *testing.T) {
	bridge, mock, api := newTestBridge(t)
	ctx := context.Background()

	// Plain channel chatter is ignored.
	bridge.handleMessage(ctx, inboundMessage{Channel: "C200", TS: "1.0", User: "U1", Text: "random chatter"})
	if len(mock.Calls()) != 0 || api.postCount() != 0 {
		t.Fatal("unaddressed channel message must be ignored")
	}

	// A mention creates the session and binds the thread.
	bridge.handleMessage(ctx, inboundMessage{Channel: "C200", TS: "2.0", User: "U1", Text: "<@UBOT> run the tests"})
	if api.postCount() != 1 {
		t.Fatalf("posted %d replies, want 1", api.postCount())
	}

	// A threaded reply under the trigger reaches the same session without
	// another mention.
	bridge.handleMessage(ctx, inboundMessage{Channel: "C200", ThreadTS: "2.0", TS: "3.0", User: "U1", Text: "and the linter"})
	var creates int
	for _, method := range mock.CallMethods() {
		if method == "create_session" {
			creates++
		}
	}
	if creates != 1 {
		t.Fatalf("created %d sessions, want 1", creates)
	}
	if api.postCount() != 2 {
		t.Fatalf("posted %d replies, want 2", api.postCount())
	}
}

func TestMentionStrippedFromPrompt(t *testing.T) {
	bridge, mock, _ := newTestBridge(t)

	bridge.handleMessage(context.Background(), inboundMessage{Channel: "D100", TS: "1.0", User: "U1", Text: "<@UBOT> what's up"})

	for _, call := range mock.Calls() {
		if call.Method != "send_message" {
			continue
		}
		prompt, _ := call.Args["message"].(string)
		if strings.Contains(prompt, "<@") || prompt != "what's up" {
			t.Fatalf("prompt not cleaned: %q", prompt)
		}
		return
	}
	t.Fatal("send_message never reached the backend")
}

func TestBackendErrorStillReplies(t *testing.T) {
	bridge, _, api := newTestBridge(t)

	// A binding left behind by an ended session makes SendMessage fail.
	if err := bridge.mapping.Bind("D100", "", "ghost"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	bridge.handleMessage(context.Background(), inboundMessage{Channel: "D100", TS: "1.0", User: "U1", Text: "hello"})
	if api.postCount() != 1 {
		t.Fatal("a failure reply must still be posted")
	}
}
