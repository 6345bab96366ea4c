// Copyright 2024-2026 Aiku AI

package backup

import (
	"fmt"
	"sort"
	"strconv"
)

// Router is the immutable many-to-one lookup from source chats to backup
// destinations. It is built once from configuration and has no side effects.
type Router struct {
	bySource map[int64]RoutingEntry
	targets  []TargetInfo
}

// TargetInfo describes one distinct backup destination.
type TargetInfo struct {
	ChatID int64
	// Name is the display name when exactly one route feeds this target,
	// empty for aggregated targets (their archives fall back to the chat ID).
	Name string
}

// NewRouter validates the routing table and builds the lookup. A source chat
// appearing in more than one entry is a configuration error: ambiguous
// routing is never resolved by guessing.
func NewRouter(entries []RoutingEntry) (*Router, error) {
	bySource := make(map[int64]RoutingEntry, len(entries))
	names := make(map[int64][]string)
	for _, entry := range entries {
		if entry.SourceChatID == 0 || entry.TargetChatID == 0 {
			return nil, fmt.Errorf("routing entry %d -> %d: zero chat id", entry.SourceChatID, entry.TargetChatID)
		}
		if _, dup := bySource[entry.SourceChatID]; dup {
			return nil, fmt.Errorf("routing entry %d: source chat routed twice", entry.SourceChatID)
		}
		bySource[entry.SourceChatID] = entry
		names[entry.TargetChatID] = append(names[entry.TargetChatID], entry.DisplayName)
	}

	targets := make([]TargetInfo, 0, len(names))
	for chatID, displayNames := range names {
		info := TargetInfo{ChatID: chatID}
		if len(displayNames) == 1 {
			info.Name = displayNames[0]
		}
		targets = append(targets, info)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ChatID < targets[j].ChatID })

	return &Router{bySource: bySource, targets: targets}, nil
}

// Route returns the destination for a source chat, or ErrUnroutedSource.
func (r *Router) Route(sourceChatID int64) (RoutingEntry, error) {
	entry, ok := r.bySource[sourceChatID]
	if !ok {
		return RoutingEntry{}, fmt.Errorf("%w: %d", ErrUnroutedSource, sourceChatID)
	}
	return entry, nil
}

// Targets returns every distinct backup destination, ordered by chat ID.
func (r *Router) Targets() []TargetInfo {
	out := make([]TargetInfo, len(r.targets))
	copy(out, r.targets)
	return out
}

// ArchiveBaseName returns the label used in archive unit names for a target,
// the display name when unambiguous and the chat ID otherwise.
func (t TargetInfo) ArchiveBaseName() string {
	if t.Name != "" {
		return t.Name
	}
	return strconv.FormatInt(t.ChatID, 10)
}
