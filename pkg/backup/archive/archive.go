// Copyright 2024-2026 Aiku AI

// Package archive materializes export units as plain-text archive files and
// pushes finished files to the upload destination.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/groupbackup/pkg/backup"
)

const fileExtension = ".txt"

// Writer writes one text file per archive unit into a flat directory.
type Writer struct {
	dir string
	loc *time.Location
	log zerolog.Logger
}

var _ backup.ArchiveWriter = (*Writer)(nil)

// NewWriter creates the archive directory if needed. loc must be the same
// location the exporter labels archives in; nil means UTC.
func NewWriter(dir string, loc *time.Location, log zerolog.Logger) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("archive dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Writer{dir: dir, loc: loc, log: log.With().Str("component", "archive").Logger()}, nil
}

// Write renders the unit and writes it atomically (temp file + rename) so a
// crash never leaves a half-written archive behind.
func (w *Writer) Write(ctx context.Context, unit backup.ArchiveUnit) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "archive: %s\n", unit.Name)
	fmt.Fprintf(&sb, "target chat: %d\n", unit.TargetChatID)
	fmt.Fprintf(&sb, "window: %s .. %s\n", unit.From.UTC().Format(time.RFC3339), unit.To.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "records: %d\n\n", len(unit.Records))
	for _, rec := range unit.Records {
		fmt.Fprintf(&sb, "[%s] %s source=%s backup=%d/%d state=%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339), rec.ContentKind, rec.Source,
			rec.BackupChatID, rec.BackupMessageID, rec.LastState)
		sb.WriteString(rec.Body)
		sb.WriteString("\n----\n")
	}

	path := filepath.Join(w.dir, unit.Name+fileExtension)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("write archive %s: %w", unit.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize archive %s: %w", unit.Name, err)
	}

	w.log.Debug().Str("path", path).Int("records", len(unit.Records)).Msg("Archive written")
	return path, nil
}

// List returns archives whose trailing date label falls between the days of
// from and to in the writer's location, inclusive. Files that do not follow
// the {base}_{YYYY-MM-DD} naming are ignored.
func (w *Writer) List(from, to time.Time) ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	// Labels were written in w.loc; the window must be projected into the
	// same location or boundary days shift near midnight. Date labels sort
	// lexically, so the check is a string compare.
	fromLabel := from.In(w.loc).Format(time.DateOnly)
	toLabel := to.In(w.loc).Format(time.DateOnly)

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExtension) {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), fileExtension)
		sep := strings.LastIndex(base, "_")
		if sep < 0 {
			continue
		}
		label := base[sep+1:]
		if _, err := time.Parse(time.DateOnly, label); err != nil {
			continue
		}
		if label < fromLabel || label > toLabel {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, entry.Name()))
	}
	return paths, nil
}

// Uploader pushes archive files to a chat through the transport.
type Uploader struct {
	transport backup.Transport
	chatID    int64
}

var _ backup.Uploader = (*Uploader)(nil)

// NewUploader wires an uploader targeting chatID.
func NewUploader(transport backup.Transport, chatID int64) *Uploader {
	return &Uploader{transport: transport, chatID: chatID}
}

// Upload sends one finished archive file as a document.
func (u *Uploader) Upload(ctx context.Context, path string) error {
	if u.chatID == 0 {
		return fmt.Errorf("upload %s: no upload chat configured", filepath.Base(path))
	}
	if err := u.transport.UploadFile(ctx, u.chatID, path); err != nil {
		return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	return nil
}
