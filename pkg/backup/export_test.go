// Copyright 2024-2026 Aiku AI

package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeWriter records written units; scripted failures key off the unit name.
type fakeWriter struct {
	mu      sync.Mutex
	units   []ArchiveUnit
	failFor string
	listed  []string
	listErr error
}

func (w *fakeWriter) Write(_ context.Context, unit ArchiveUnit) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failFor != "" && unit.Name == w.failFor {
		return "", errors.New("disk full")
	}
	w.units = append(w.units, unit)
	return "/archives/" + unit.Name + ".txt", nil
}

func (w *fakeWriter) List(_, _ time.Time) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.listed, w.listErr
}

type fakeUploader struct {
	mu      sync.Mutex
	paths   []string
	failFor string
}

func (u *fakeUploader) Upload(_ context.Context, path string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failFor != "" && path == u.failFor {
		return errors.New("upload rejected")
	}
	u.paths = append(u.paths, path)
	return nil
}

func seedExportRecords(store *fakeStore, targetChatID int64, base time.Time, n int) {
	for i := 0; i < n; i++ {
		store.seed(BackupRecord{
			Source:          SourceIdentity{ChatID: targetChatID * 10, MessageID: i + 1},
			BackupChatID:    targetChatID,
			BackupMessageID: 5000 + i,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
			LastState:       StateNormal,
			ContentKind:     KindText,
			Body:            fmt.Sprintf("message %d", i+1),
		})
	}
}

func TestExportDailyWritesPerDestination(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	now := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	seedExportRecords(store, 999, now.Add(-2*time.Hour), 3)
	seedExportRecords(store, 888, now.Add(-3*time.Hour), 2)

	writer := &fakeWriter{}
	exporter := NewExporter(store, testRouter(t), writer, &fakeUploader{}, time.UTC, discardLogger())

	paths, err := exporter.ExportDaily(context.Background(), now)
	if err != nil {
		t.Fatalf("ExportDaily: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d archives, want 2: %v", len(paths), paths)
	}
	if len(writer.units) != 2 {
		t.Fatalf("writer saw %d units, want 2", len(writer.units))
	}
	// Targets iterate in chat-ID order; 888 is the single-route "Solo" target.
	if writer.units[0].Name != "Solo_2026-03-14" {
		t.Errorf("unit name = %q, want %q", writer.units[0].Name, "Solo_2026-03-14")
	}
	if writer.units[1].Name != "999_2026-03-14" {
		t.Errorf("unit name = %q, want %q", writer.units[1].Name, "999_2026-03-14")
	}
	if got := len(writer.units[1].Records); got != 3 {
		t.Errorf("999 archive has %d records, want 3", got)
	}
}

func TestExportDailySkipsEmptyWindows(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	now := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	// Only records outside the 24h window.
	seedExportRecords(store, 999, now.Add(-48*time.Hour), 2)

	writer := &fakeWriter{}
	exporter := NewExporter(store, testRouter(t), writer, &fakeUploader{}, time.UTC, discardLogger())

	paths, err := exporter.ExportDaily(context.Background(), now)
	if err != nil {
		t.Fatalf("ExportDaily: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("empty window produced archives: %v", paths)
	}
}

func TestExportDailyIsolatesFailures(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	now := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	seedExportRecords(store, 999, now.Add(-2*time.Hour), 1)
	seedExportRecords(store, 888, now.Add(-2*time.Hour), 1)

	writer := &fakeWriter{failFor: "Solo_2026-03-14"}
	exporter := NewExporter(store, testRouter(t), writer, &fakeUploader{}, time.UTC, discardLogger())

	paths, err := exporter.ExportDaily(context.Background(), now)
	if err == nil {
		t.Fatal("ExportDaily swallowed the write failure")
	}
	// The other destination still exported.
	if len(paths) != 1 || paths[0] != "/archives/999_2026-03-14.txt" {
		t.Errorf("surviving paths = %v", paths)
	}
}

func TestExportWeeklyUploadsListedArchives(t *testing.T) {
	t.Parallel()
	writer := &fakeWriter{listed: []string{"/archives/a.txt", "/archives/b.txt"}}
	uploader := &fakeUploader{}
	exporter := NewExporter(newFakeStore(), testRouter(t), writer, uploader, time.UTC, discardLogger())

	if err := exporter.ExportWeekly(context.Background(), time.Now()); err != nil {
		t.Fatalf("ExportWeekly: %v", err)
	}
	if len(uploader.paths) != 2 {
		t.Fatalf("uploaded %d archives, want 2", len(uploader.paths))
	}
}

func TestExportWeeklyIsolatesUploadFailures(t *testing.T) {
	t.Parallel()
	writer := &fakeWriter{listed: []string{"/archives/a.txt", "/archives/b.txt"}}
	uploader := &fakeUploader{failFor: "/archives/a.txt"}
	exporter := NewExporter(newFakeStore(), testRouter(t), writer, uploader, time.UTC, discardLogger())

	err := exporter.ExportWeekly(context.Background(), time.Now())
	if err == nil {
		t.Fatal("ExportWeekly swallowed the upload failure")
	}
	if len(uploader.paths) != 1 || uploader.paths[0] != "/archives/b.txt" {
		t.Errorf("surviving uploads = %v", uploader.paths)
	}
}
