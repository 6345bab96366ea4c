// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package store persists the source-to-backup message mapping in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/util/exsync"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/aiku/groupbackup/pkg/backup"
)

const schema = `
CREATE TABLE IF NOT EXISTS backup_messages (
	source_chat_id    INTEGER NOT NULL,
	source_message_id INTEGER NOT NULL,
	backup_chat_id    INTEGER NOT NULL,
	backup_message_id INTEGER NOT NULL,
	sender_id         INTEGER NOT NULL,
	created_at        INTEGER NOT NULL,
	last_state        INTEGER NOT NULL,
	content_kind      INTEGER NOT NULL,
	reply_chat_id     INTEGER,
	reply_message_id  INTEGER,
	body              TEXT NOT NULL,
	PRIMARY KEY (source_chat_id, source_message_id)
);
CREATE INDEX IF NOT EXISTS idx_backup_messages_target_created
	ON backup_messages (backup_chat_id, created_at);
`

// SQLStore is the durable mapping store. Update is linearizable per source
// identity through a keyed mutex; no lock spans the whole store.
type SQLStore struct {
	db        *sql.DB
	retention time.Duration
	locks     *exsync.Map[backup.SourceIdentity, *sync.Mutex]
	nowFn     func() time.Time
}

var _ backup.Store = (*SQLStore)(nil)

// Open opens (or creates) the store at path and verifies its integrity.
// Corruption here is fatal by design: a damaged mapping store needs manual
// recovery, not a best-effort run on top of it.
func Open(path string, retention time.Duration) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	// modernc's driver only understands the _pragma= DSN form; the
	// mattn-style _journal_mode= parameters are silently ignored.
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	var verdict string
	if err := db.QueryRow(`PRAGMA quick_check`).Scan(&verdict); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("integrity check: %w", err)
	}
	if verdict != "ok" {
		_ = db.Close()
		return nil, fmt.Errorf("store corrupted: %s", verdict)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLStore{
		db:        db,
		retention: retention,
		locks:     exsync.NewMap[backup.SourceIdentity, *sync.Mutex](),
		nowFn:     time.Now,
	}, nil
}

// Close closes the SQLite handle.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) cutoff() int64 {
	return s.nowFn().UTC().Add(-s.retention).UnixMilli()
}

func (s *SQLStore) lockKey(src backup.SourceIdentity) *sync.Mutex {
	lock, _ := s.locks.GetOrSet(src, &sync.Mutex{})
	return lock
}

// Put inserts one record. A live record under the same source identity makes
// it fail with ErrDuplicateSource; an expired leftover is overwritten.
func (s *SQLStore) Put(ctx context.Context, rec backup.BackupRecord) error {
	lock := s.lockKey(rec.Source)
	lock.Lock()
	defer lock.Unlock()

	replyChat, replyMsg := replyColumns(rec.ReplyTo)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backup_messages (
			source_chat_id, source_message_id, backup_chat_id, backup_message_id,
			sender_id, created_at, last_state, content_kind,
			reply_chat_id, reply_message_id, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Source.ChatID, rec.Source.MessageID, rec.BackupChatID, rec.BackupMessageID,
		rec.SenderID, rec.CreatedAt.UTC().UnixMilli(), int(rec.LastState), int(rec.ContentKind),
		replyChat, replyMsg, rec.Body,
	)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("put record %s: %w", rec.Source, err)
	}

	var createdAt int64
	row := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM backup_messages WHERE source_chat_id = ? AND source_message_id = ?`,
		rec.Source.ChatID, rec.Source.MessageID)
	if err := row.Scan(&createdAt); err != nil {
		return fmt.Errorf("put record %s: inspect duplicate: %w", rec.Source, err)
	}
	if createdAt > s.cutoff() {
		return fmt.Errorf("%w: %s", backup.ErrDuplicateSource, rec.Source)
	}

	// The previous record outlived retention but was not swept yet; the new
	// mirror takes its place.
	_, err = s.db.ExecContext(ctx,
		`REPLACE INTO backup_messages (
			source_chat_id, source_message_id, backup_chat_id, backup_message_id,
			sender_id, created_at, last_state, content_kind,
			reply_chat_id, reply_message_id, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Source.ChatID, rec.Source.MessageID, rec.BackupChatID, rec.BackupMessageID,
		rec.SenderID, rec.CreatedAt.UTC().UnixMilli(), int(rec.LastState), int(rec.ContentKind),
		replyChat, replyMsg, rec.Body,
	)
	if err != nil {
		return fmt.Errorf("put record %s: replace expired: %w", rec.Source, err)
	}
	return nil
}

// Get returns the live record for src, or (nil, nil) when absent or expired.
func (s *SQLStore) Get(ctx context.Context, src backup.SourceIdentity) (*backup.BackupRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_chat_id, source_message_id, backup_chat_id, backup_message_id,
		        sender_id, created_at, last_state, content_kind,
		        reply_chat_id, reply_message_id, body
		   FROM backup_messages
		  WHERE source_chat_id = ? AND source_message_id = ? AND created_at > ?`,
		src.ChatID, src.MessageID, s.cutoff())

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get record %s: %w", src, err)
	}
	return rec, nil
}

// Update applies fn to the live record under the per-key lock and persists
// the result. Returning an error from fn aborts without writing.
func (s *SQLStore) Update(ctx context.Context, src backup.SourceIdentity, fn backup.Mutator) error {
	lock := s.lockKey(src)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.Get(ctx, src)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", backup.ErrNotFound, src)
	}

	if err := fn(rec); err != nil {
		return err
	}

	replyChat, replyMsg := replyColumns(rec.ReplyTo)
	_, err = s.db.ExecContext(ctx,
		`UPDATE backup_messages
		    SET backup_chat_id = ?, backup_message_id = ?, sender_id = ?,
		        last_state = ?, content_kind = ?, reply_chat_id = ?,
		        reply_message_id = ?, body = ?
		  WHERE source_chat_id = ? AND source_message_id = ?`,
		rec.BackupChatID, rec.BackupMessageID, rec.SenderID,
		int(rec.LastState), int(rec.ContentKind), replyChat,
		replyMsg, rec.Body,
		src.ChatID, src.MessageID,
	)
	if err != nil {
		return fmt.Errorf("update record %s: %w", src, err)
	}
	return nil
}

// Range returns live records for one destination with CreatedAt in
// [from, to), ordered by CreatedAt ascending.
func (s *SQLStore) Range(ctx context.Context, targetChatID int64, from, to time.Time) ([]backup.BackupRecord, error) {
	fromMillis := from.UTC().UnixMilli()
	if cutoff := s.cutoff(); cutoff > fromMillis {
		fromMillis = cutoff + 1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_chat_id, source_message_id, backup_chat_id, backup_message_id,
		        sender_id, created_at, last_state, content_kind,
		        reply_chat_id, reply_message_id, body
		   FROM backup_messages
		  WHERE backup_chat_id = ? AND created_at >= ? AND created_at < ?
		  ORDER BY created_at ASC`,
		targetChatID, fromMillis, to.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("range target %d: %w", targetChatID, err)
	}
	defer rows.Close()

	var records []backup.BackupRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("range target %d: %w", targetChatID, err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("range target %d: %w", targetChatID, err)
	}
	return records, nil
}

// Sweep removes every record older than the retention policy. Expired keys
// are removed one by one under their own lock so sweeping never blocks
// unrelated event processing.
func (s *SQLStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().Add(-s.retention).UnixMilli()

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_chat_id, source_message_id FROM backup_messages WHERE created_at <= ?`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep scan: %w", err)
	}
	var expired []backup.SourceIdentity
	for rows.Next() {
		var src backup.SourceIdentity
		if err := rows.Scan(&src.ChatID, &src.MessageID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sweep scan: %w", err)
		}
		expired = append(expired, src)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sweep scan: %w", err)
	}

	removed := 0
	for _, src := range expired {
		lock := s.lockKey(src)
		lock.Lock()
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM backup_messages
			  WHERE source_chat_id = ? AND source_message_id = ? AND created_at <= ?`,
			src.ChatID, src.MessageID, cutoff)
		lock.Unlock()
		if err != nil {
			return removed, fmt.Errorf("sweep delete %s: %w", src, err)
		}
		affected, _ := res.RowsAffected()
		removed += int(affected)
		// A racer that fetched the old mutex before this Delete only ever
		// observes the deleted row: Update returns ErrNotFound under either
		// mutex instance, and a fresh Put inserts a brand-new record.
		s.locks.Delete(src)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*backup.BackupRecord, error) {
	var rec backup.BackupRecord
	var createdAt int64
	var lastState, contentKind int
	var replyChat, replyMsg sql.NullInt64
	err := row.Scan(
		&rec.Source.ChatID, &rec.Source.MessageID, &rec.BackupChatID, &rec.BackupMessageID,
		&rec.SenderID, &createdAt, &lastState, &contentKind,
		&replyChat, &replyMsg, &rec.Body,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.LastState = backup.MessageState(lastState)
	rec.ContentKind = backup.ContentKind(contentKind)
	if replyChat.Valid && replyMsg.Valid {
		rec.ReplyTo = &backup.SourceIdentity{ChatID: replyChat.Int64, MessageID: int(replyMsg.Int64)}
	}
	return &rec, nil
}

func replyColumns(reply *backup.SourceIdentity) (sql.NullInt64, sql.NullInt64) {
	if reply == nil {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: reply.ChatID, Valid: true},
		sql.NullInt64{Int64: int64(reply.MessageID), Valid: true}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
