package ratelimit

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/securer/internal/secerr"
)

func TestZeroValueConfigAllowsEverything(t *testing.T) {
	g := New(Config{})
	for i := 0; i < 100; i++ {
		if err := g.AllowExecute("s1"); err != nil {
			t.Fatalf("AllowExecute: %v", err)
		}
	}
	if err := g.AllowToolCall("web_search"); err != nil {
		t.Fatalf("AllowToolCall: %v", err)
	}
}

func TestAllowExecuteEnforcesPerSessionBucket(t *testing.T) {
	g := New(Config{PerSessionRPS: 1, PerSessionBurst: 1})

	if err := g.AllowExecute("s1"); err != nil {
		t.Fatalf("first AllowExecute: %v", err)
	}
	err := g.AllowExecute("s1")
	if err == nil {
		t.Fatal("expected second immediate AllowExecute to be rate limited")
	}
	kind, ok := secerr.Of(err)
	if !ok || kind != secerr.ExecutionRateLimited {
		t.Fatalf("expected ExecutionRateLimited, got %v", err)
	}
}

func TestAllowExecuteTracksSessionsIndependently(t *testing.T) {
	g := New(Config{PerSessionRPS: 1, PerSessionBurst: 1})

	if err := g.AllowExecute("s1"); err != nil {
		t.Fatalf("s1 AllowExecute: %v", err)
	}
	if err := g.AllowExecute("s2"); err != nil {
		t.Fatalf("s2 should have its own bucket: %v", err)
	}
}

func TestForgetDropsSessionBucket(t *testing.T) {
	g := New(Config{PerSessionRPS: 1, PerSessionBurst: 1})

	if err := g.AllowExecute("s1"); err != nil {
		t.Fatalf("AllowExecute: %v", err)
	}
	g.Forget("s1")
	// A fresh bucket after Forget should allow immediately again.
	if err := g.AllowExecute("s1"); err != nil {
		t.Fatalf("expected fresh bucket after Forget to allow, got %v", err)
	}
}

func TestAllowToolCallEnforcesConfiguredWindow(t *testing.T) {
	g := New(Config{
		ToolWindows:        map[string]int{"web_search": 1},
		ToolWindowDuration: time.Minute,
	})

	if err := g.AllowToolCall("web_search"); err != nil {
		t.Fatalf("first AllowToolCall: %v", err)
	}
	err := g.AllowToolCall("web_search")
	if err == nil {
		t.Fatal("expected second web_search within the window to be rejected")
	}
	kind, ok := secerr.Of(err)
	if !ok || kind != secerr.ToolCallsExceeded {
		t.Fatalf("expected ToolCallsExceeded, got %v", err)
	}
}

func TestAllowToolCallIgnoresUnconfiguredTool(t *testing.T) {
	g := New(Config{
		ToolWindows:        map[string]int{"web_search": 1},
		ToolWindowDuration: time.Minute,
	})

	for i := 0; i < 10; i++ {
		if err := g.AllowToolCall("read_file"); err != nil {
			t.Fatalf("unconfigured tool should never be limited by the category layer: %v", err)
		}
	}
}
