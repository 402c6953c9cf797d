package agent

import (
	"context"
	"errors"
	"testing"
)

func TestHookRegistryEmitOrder(t *testing.T) {
	r := NewHookRegistry()
	var got []string

	r.Register(EventToolPre, func(_ context.Context, _ string, data map[string]any) (HookResult, error) {
		got = append(got, "first")
		return Continue(data), nil
	})
	r.Register(EventToolPre, func(_ context.Context, _ string, data map[string]any) (HookResult, error) {
		got = append(got, "second")
		return Continue(data), nil
	})

	r.Emit(context.Background(), EventToolPre, map[string]any{})

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected handlers in registration order, got %v", got)
	}
}

func TestHookRegistryUnregisterIdempotent(t *testing.T) {
	r := NewHookRegistry()
	unregister := r.Register(EventToolPre, func(_ context.Context, _ string, data map[string]any) (HookResult, error) {
		return Continue(data), nil
	})

	if n := r.HandlerCount(EventToolPre); n != 1 {
		t.Fatalf("expected 1 handler, got %d", n)
	}

	unregister()
	unregister()

	if n := r.HandlerCount(EventToolPre); n != 0 {
		t.Fatalf("expected 0 handlers after unregister, got %d", n)
	}
}

func TestHookRegistryStopShortCircuits(t *testing.T) {
	r := NewHookRegistry()
	var reached bool

	r.Register(EventToolPre, func(_ context.Context, _ string, _ map[string]any) (HookResult, error) {
		return HookResult{Action: HookStop}, nil
	})
	r.Register(EventToolPre, func(_ context.Context, _ string, data map[string]any) (HookResult, error) {
		reached = true
		return Continue(data), nil
	})

	r.Emit(context.Background(), EventToolPre, map[string]any{})

	if reached {
		t.Fatal("handler after HookStop should not run")
	}
}

func TestHookRegistryHandlerErrorDoesNotBreakPipeline(t *testing.T) {
	r := NewHookRegistry()
	var reported error
	r.SetErrorHandler(func(_ string, err error) { reported = err })

	boom := errors.New("boom")
	r.Register(EventToolPost, func(_ context.Context, _ string, _ map[string]any) (HookResult, error) {
		return HookResult{}, boom
	})
	var reached bool
	r.Register(EventToolPost, func(_ context.Context, _ string, data map[string]any) (HookResult, error) {
		reached = true
		return Continue(data), nil
	})

	r.Emit(context.Background(), EventToolPost, map[string]any{})

	if !errors.Is(reported, boom) {
		t.Fatalf("expected error handler to see boom, got %v", reported)
	}
	if !reached {
		t.Fatal("pipeline should continue past a failing handler")
	}
}

func TestHookRegistryDataThreadsThrough(t *testing.T) {
	r := NewHookRegistry()
	r.Register(EventToolPre, func(_ context.Context, _ string, data map[string]any) (HookResult, error) {
		return Continue(map[string]any{"tagged": true}), nil
	})
	var seen map[string]any
	r.Register(EventToolPre, func(_ context.Context, _ string, data map[string]any) (HookResult, error) {
		seen = data
		return Continue(data), nil
	})

	r.Emit(context.Background(), EventToolPre, map[string]any{"tagged": false})

	if seen == nil || seen["tagged"] != true {
		t.Fatalf("expected replaced data to reach second handler, got %v", seen)
	}
}
