// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package backup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// fakeStore is an in-memory Store for engine and syncer tests.
type fakeStore struct {
	mu        sync.Mutex
	recs      map[SourceIdentity]BackupRecord
	retention time.Duration

	putErr error
	getErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		recs:      make(map[SourceIdentity]BackupRecord),
		retention: 365 * 24 * time.Hour,
	}
}

func (s *fakeStore) Put(_ context.Context, rec BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	if _, exists := s.recs[rec.Source]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, rec.Source)
	}
	s.recs[rec.Source] = rec
	return nil
}

func (s *fakeStore) Get(_ context.Context, src SourceIdentity) (*BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.recs[src]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (s *fakeStore) Update(_ context.Context, src SourceIdentity, fn Mutator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if err := fn(&rec); err != nil {
		return err
	}
	s.recs[src] = rec
	return nil
}

func (s *fakeStore) Range(_ context.Context, targetChatID int64, from, to time.Time) ([]BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BackupRecord
	for _, rec := range s.recs {
		if rec.BackupChatID != targetChatID {
			continue
		}
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.retention)
	removed := 0
	for src, rec := range s.recs {
		if !rec.CreatedAt.After(cutoff) {
			delete(s.recs, src)
			removed++
		}
	}
	return removed, nil
}

func (s *fakeStore) record(src SourceIdentity) (BackupRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[src]
	return rec, ok
}

func (s *fakeStore) seed(rec BackupRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Source] = rec
}

type editCall struct {
	ChatID    int64
	MessageID int
	Text      string
}

// mockTransport records outbound calls and plays back scripted failures.
type mockTransport struct {
	mu      sync.Mutex
	sends   []OutboundMessage
	edits   []editCall
	uploads []string

	nextID   int
	sendErrs []error
	editErrs []error
}

func newMockTransport() *mockTransport {
	return &mockTransport{nextID: 1000}
}

func (t *mockTransport) SendMessage(_ context.Context, msg OutboundMessage) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sendErrs) > 0 {
		err := t.sendErrs[0]
		t.sendErrs = t.sendErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	t.sends = append(t.sends, msg)
	t.nextID++
	return t.nextID, nil
}

func (t *mockTransport) EditMessage(_ context.Context, chatID int64, messageID int, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.editErrs) > 0 {
		err := t.editErrs[0]
		t.editErrs = t.editErrs[1:]
		if err != nil {
			return err
		}
	}
	t.edits = append(t.edits, editCall{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (t *mockTransport) UploadFile(_ context.Context, chatID int64, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploads = append(t.uploads, path)
	return nil
}

func (t *mockTransport) sentMessages() []OutboundMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]OutboundMessage, len(t.sends))
	copy(cp, t.sends)
	return cp
}

func (t *mockTransport) editedMessages() []editCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]editCall, len(t.edits))
	copy(cp, t.edits)
	return cp
}

func testRouter(tb interface{ Fatalf(string, ...any) }) *Router {
	router, err := NewRouter([]RoutingEntry{
		{SourceChatID: 100, TargetChatID: 999, DisplayName: "Team A", Tag: "#teama"},
		{SourceChatID: 101, TargetChatID: 999, DisplayName: "Team B", Tag: "#teamb"},
		{SourceChatID: 200, TargetChatID: 888, DisplayName: "Solo"},
	})
	if err != nil {
		tb.Fatalf("NewRouter: %v", err)
	}
	return router
}

func testPolicy() RetentionPolicy {
	return RetentionPolicy{
		MappingRetention: 90 * 24 * time.Hour,
		AutoDeleteIgnore: 7 * 24 * time.Hour,
	}
}

func testFormatter() *Formatter {
	return NewFormatter(time.UTC, 5*time.Minute)
}

func discardLogger() zerolog.Logger {
	return zerolog.Nop()
}
