// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package backup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSyncer(t *testing.T) (*Syncer, *fakeStore, *mockTransport) {
	t.Helper()
	store := newFakeStore()
	transport := newMockTransport()
	syncer := NewSyncer(store, testFormatter(), transport, testPolicy(), discardLogger())
	return syncer, store, transport
}

func seedNormalRecord(store *fakeStore, createdAt time.Time) SourceIdentity {
	src := SourceIdentity{ChatID: 100, MessageID: 1}
	store.seed(BackupRecord{
		Source:          src,
		BackupChatID:    999,
		BackupMessageID: 5001,
		SenderID:        42,
		CreatedAt:       createdAt,
		LastState:       StateNormal,
		ContentKind:     KindText,
		Body:            "original body",
	})
	return src
}

func TestOnEditAppendsAppendix(t *testing.T) {
	t.Parallel()
	syncer, store, transport := newTestSyncer(t)
	createdAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	src := seedNormalRecord(store, createdAt)
	editedAt := createdAt.Add(time.Minute)

	if err := syncer.OnEdit(context.Background(), src, "fixed body", editedAt); err != nil {
		t.Fatalf("OnEdit: %v", err)
	}

	edits := transport.editedMessages()
	if len(edits) != 1 {
		t.Fatalf("got %d edits, want 1", len(edits))
	}
	if edits[0].ChatID != 999 || edits[0].MessageID != 5001 {
		t.Errorf("edit hit %d/%d, want 999/5001", edits[0].ChatID, edits[0].MessageID)
	}
	if !strings.HasPrefix(edits[0].Text, "original body") {
		t.Errorf("edit does not preserve the original body:\n%s", edits[0].Text)
	}
	if !strings.Contains(edits[0].Text, "fixed body") {
		t.Errorf("edit missing the new content:\n%s", edits[0].Text)
	}

	rec, _ := store.record(src)
	if rec.LastState != StateEdited {
		t.Errorf("LastState = %v, want StateEdited", rec.LastState)
	}
	if !strings.Contains(rec.Body, "fixed body") {
		t.Errorf("stored body missing appendix:\n%s", rec.Body)
	}
}

func TestOnEditRedeliveryIsNoop(t *testing.T) {
	t.Parallel()
	syncer, store, transport := newTestSyncer(t)
	createdAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	src := seedNormalRecord(store, createdAt)
	editedAt := createdAt.Add(time.Minute)

	for i := 0; i < 3; i++ {
		if err := syncer.OnEdit(context.Background(), src, "fixed body", editedAt); err != nil {
			t.Fatalf("OnEdit #%d: %v", i, err)
		}
	}
	if edits := transport.editedMessages(); len(edits) != 1 {
		t.Fatalf("re-delivered edit reached the transport %d times, want 1", len(edits))
	}
}

func TestOnEditUntracked(t *testing.T) {
	t.Parallel()
	syncer, _, _ := newTestSyncer(t)
	err := syncer.OnEdit(context.Background(), SourceIdentity{ChatID: 100, MessageID: 404}, "x", time.Now())
	if !errors.Is(err, ErrUntrackedEdit) {
		t.Fatalf("OnEdit untracked = %v, want ErrUntrackedEdit", err)
	}
}

func TestOnEditAfterRecallIsIgnored(t *testing.T) {
	t.Parallel()
	syncer, store, transport := newTestSyncer(t)
	createdAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	src := seedNormalRecord(store, createdAt)

	if err := syncer.OnRecall(context.Background(), src, createdAt.Add(time.Minute)); err != nil {
		t.Fatalf("OnRecall: %v", err)
	}
	editsAfterRecall := len(transport.editedMessages())

	if err := syncer.OnEdit(context.Background(), src, "too late", createdAt.Add(2*time.Minute)); err != nil {
		t.Fatalf("OnEdit after recall: %v", err)
	}
	if got := len(transport.editedMessages()); got != editsAfterRecall {
		t.Errorf("edit after recall reached the transport")
	}
	rec, _ := store.record(src)
	if rec.LastState != StateRecalled {
		t.Errorf("LastState = %v, want StateRecalled", rec.LastState)
	}
}

func TestOnRecallWithinWindowTagsInPlace(t *testing.T) {
	t.Parallel()
	syncer, store, transport := newTestSyncer(t)
	createdAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	src := seedNormalRecord(store, createdAt)
	recalledAt := createdAt.Add(time.Hour)

	if err := syncer.OnRecall(context.Background(), src, recalledAt); err != nil {
		t.Fatalf("OnRecall: %v", err)
	}

	edits := transport.editedMessages()
	if len(edits) != 1 {
		t.Fatalf("got %d edits, want 1", len(edits))
	}
	if !strings.Contains(edits[0].Text, "#recalled") {
		t.Errorf("in-window recall did not tag the message:\n%s", edits[0].Text)
	}
	if sends := transport.sentMessages(); len(sends) != 0 {
		t.Errorf("in-window recall sent %d warning messages, want 0", len(sends))
	}

	rec, _ := store.record(src)
	if rec.LastState != StateRecalled {
		t.Errorf("LastState = %v, want StateRecalled", rec.LastState)
	}
	if !strings.Contains(rec.Body, "#recalled") {
		t.Errorf("stored body missing recall tag:\n%s", rec.Body)
	}
}

func TestOnRecallPastWindowSendsWarningReply(t *testing.T) {
	t.Parallel()
	syncer, store, transport := newTestSyncer(t)
	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	src := seedNormalRecord(store, createdAt)
	// Well past the 7 day edit window from testPolicy.
	recalledAt := createdAt.Add(30 * 24 * time.Hour)

	if err := syncer.OnRecall(context.Background(), src, recalledAt); err != nil {
		t.Fatalf("OnRecall: %v", err)
	}

	if edits := transport.editedMessages(); len(edits) != 0 {
		t.Errorf("past-window recall edited the backup message %d times", len(edits))
	}
	sends := transport.sentMessages()
	if len(sends) != 1 {
		t.Fatalf("got %d sends, want 1 warning reply", len(sends))
	}
	if sends[0].ReplyToMessageID != 5001 {
		t.Errorf("warning reply threads under %d, want 5001", sends[0].ReplyToMessageID)
	}
	if !strings.Contains(sends[0].Text, "⚠️") {
		t.Errorf("warning text = %q", sends[0].Text)
	}

	// Original body stays untouched; only the state flips.
	rec, _ := store.record(src)
	if rec.Body != "original body" {
		t.Errorf("past-window recall altered the stored body: %q", rec.Body)
	}
	if rec.LastState != StateRecalled {
		t.Errorf("LastState = %v, want StateRecalled", rec.LastState)
	}
}

func TestOnRecallIsSticky(t *testing.T) {
	t.Parallel()
	syncer, store, transport := newTestSyncer(t)
	createdAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	src := seedNormalRecord(store, createdAt)

	if err := syncer.OnRecall(context.Background(), src, createdAt.Add(time.Minute)); err != nil {
		t.Fatalf("OnRecall: %v", err)
	}
	before, _ := store.record(src)
	edits := len(transport.editedMessages())

	// Re-delivered recall is a no-op.
	if err := syncer.OnRecall(context.Background(), src, createdAt.Add(2*time.Minute)); err != nil {
		t.Fatalf("OnRecall redelivery: %v", err)
	}
	after, _ := store.record(src)
	if after.Body != before.Body || after.LastState != before.LastState {
		t.Errorf("re-delivered recall changed the record")
	}
	if got := len(transport.editedMessages()); got != edits {
		t.Errorf("re-delivered recall reached the transport")
	}
}

func TestOnRecallUntracked(t *testing.T) {
	t.Parallel()
	syncer, _, _ := newTestSyncer(t)
	err := syncer.OnRecall(context.Background(), SourceIdentity{ChatID: 100, MessageID: 404}, time.Now())
	if !errors.Is(err, ErrUntrackedRecall) {
		t.Fatalf("OnRecall untracked = %v, want ErrUntrackedRecall", err)
	}
}
