package stream

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/haasonsaas/switchboard/internal/agent"
	"github.com/haasonsaas/switchboard/internal/observability"
)

func TestApprovalSystemResolve(t *testing.T) {
	queue := NewQueue(4, nil, nil)
	approvals := NewApprovalSystem("sess-1", queue, observability.NewTestLogger(io.Discard))

	done := make(chan string, 1)
	go func() {
		choice, err := approvals.RequestApproval(context.Background(), agent.ApprovalPrompt{
			RequestID: "req-1",
			Prompt:    "Allow write?",
			Options:   []string{"yes", "no"},
			Timeout:   time.Minute,
			Default:   "no",
		})
		if err != nil {
			t.Errorf("RequestApproval: %v", err)
		}
		done <- choice
	}()

	// The request shows up on the queue before resolution.
	wire, ok := queue.Pop(context.Background(), time.Second)
	if !ok {
		t.Fatal("expected approval_request on the queue")
	}
	if wire["type"] != "approval_request" || wire["request_id"] != "req-1" {
		t.Fatalf("unexpected wire event: %v", wire)
	}

	// Resolution may race the waiter registration only in theory; the
	// request was already enqueued, so the waiter is registered.
	if err := approvals.Resolve("req-1", "yes"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	select {
	case choice := <-done:
		if choice != "yes" {
			t.Fatalf("choice = %q", choice)
		}
	case <-time.After(time.Second):
		t.Fatal("RequestApproval did not return after Resolve")
	}
}

func TestApprovalSystemTimeoutReturnsDefault(t *testing.T) {
	queue := NewQueue(4, nil, nil)
	approvals := NewApprovalSystem("sess-1", queue, observability.NewTestLogger(io.Discard))

	choice, err := approvals.RequestApproval(context.Background(), agent.ApprovalPrompt{
		RequestID: "req-2",
		Prompt:    "Allow?",
		Timeout:   30 * time.Millisecond,
		Default:   "deny",
	})
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if choice != "deny" {
		t.Fatalf("timed-out approval returned %q, want default", choice)
	}
	if len(approvals.Pending()) != 0 {
		t.Fatal("timed-out request should be cleared")
	}
}

func TestApprovalSystemResolveUnknown(t *testing.T) {
	approvals := NewApprovalSystem("sess-1", NewQueue(1, nil, nil), observability.NewTestLogger(io.Discard))
	if err := approvals.Resolve("missing", "yes"); err == nil {
		t.Fatal("expected error resolving an unknown request")
	}
}

func TestApprovalSystemMultipleOutstanding(t *testing.T) {
	queue := NewQueue(8, nil, nil)
	approvals := NewApprovalSystem("sess-1", queue, observability.NewTestLogger(io.Discard))

	results := make(chan string, 2)
	for _, id := range []string{"req-a", "req-b"} {
		requestID := id
		go func() {
			choice, _ := approvals.RequestApproval(context.Background(), agent.ApprovalPrompt{
				RequestID: requestID,
				Timeout:   time.Minute,
				Default:   "no",
			})
			results <- requestID + ":" + choice
		}()
	}

	// Wait for both requests to hit the queue.
	for i := 0; i < 2; i++ {
		if _, ok := queue.Pop(context.Background(), time.Second); !ok {
			t.Fatal("missing approval_request")
		}
	}

	if err := approvals.Resolve("req-b", "yes"); err != nil {
		t.Fatalf("Resolve req-b: %v", err)
	}
	if err := approvals.Resolve("req-a", "no"); err != nil {
		t.Fatalf("Resolve req-a: %v", err)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			got[r] = true
		case <-time.After(time.Second):
			t.Fatal("waiter did not return")
		}
	}
	if !got["req-a:no"] || !got["req-b:yes"] {
		t.Fatalf("unexpected resolutions: %v", got)
	}
}

func TestDisplaySystemEnqueues(t *testing.T) {
	queue := NewQueue(4, nil, nil)
	display := NewDisplaySystem("sess-1", queue)

	if err := display.Display(context.Background(), "working on it", "info"); err != nil {
		t.Fatalf("Display: %v", err)
	}
	wire, ok := queue.Pop(context.Background(), time.Second)
	if !ok {
		t.Fatal("expected display_message on the queue")
	}
	if wire["type"] != "display_message" || wire["message"] != "working on it" || wire["level"] != "info" {
		t.Fatalf("unexpected wire event: %v", wire)
	}
}
