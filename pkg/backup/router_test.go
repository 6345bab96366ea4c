// Copyright 2024-2026 Aiku AI

package backup

import (
	"errors"
	"testing"
)

func TestRouterRoute(t *testing.T) {
	t.Parallel()
	router := testRouter(t)

	entry, err := router.Route(100)
	if err != nil {
		t.Fatalf("Route(100): %v", err)
	}
	if entry.TargetChatID != 999 {
		t.Errorf("Route(100).TargetChatID = %d, want 999", entry.TargetChatID)
	}
	if entry.DisplayName != "Team A" {
		t.Errorf("Route(100).DisplayName = %q, want %q", entry.DisplayName, "Team A")
	}

	_, err = router.Route(12345)
	if !errors.Is(err, ErrUnroutedSource) {
		t.Errorf("Route(12345) = %v, want ErrUnroutedSource", err)
	}
}

func TestRouterRejectsDuplicateSource(t *testing.T) {
	t.Parallel()
	_, err := NewRouter([]RoutingEntry{
		{SourceChatID: 100, TargetChatID: 999},
		{SourceChatID: 100, TargetChatID: 888},
	})
	if err == nil {
		t.Fatal("NewRouter accepted a source chat routed twice")
	}
}

func TestRouterRejectsZeroChatID(t *testing.T) {
	t.Parallel()
	_, err := NewRouter([]RoutingEntry{{SourceChatID: 0, TargetChatID: 999}})
	if err == nil {
		t.Fatal("NewRouter accepted a zero source chat id")
	}
	_, err = NewRouter([]RoutingEntry{{SourceChatID: 100, TargetChatID: 0}})
	if err == nil {
		t.Fatal("NewRouter accepted a zero target chat id")
	}
}

func TestRouterTargets(t *testing.T) {
	t.Parallel()
	router := testRouter(t)

	targets := router.Targets()
	if len(targets) != 2 {
		t.Fatalf("Targets() returned %d entries, want 2", len(targets))
	}
	// Ordered by chat ID.
	if targets[0].ChatID != 888 || targets[1].ChatID != 999 {
		t.Fatalf("Targets() order = %d, %d, want 888, 999", targets[0].ChatID, targets[1].ChatID)
	}
	// 888 has a single route so it keeps its display name; 999 aggregates two
	// routes and falls back to the chat ID.
	if got := targets[0].ArchiveBaseName(); got != "Solo" {
		t.Errorf("ArchiveBaseName(888) = %q, want %q", got, "Solo")
	}
	if got := targets[1].ArchiveBaseName(); got != "999" {
		t.Errorf("ArchiveBaseName(999) = %q, want %q", got, "999")
	}
}
