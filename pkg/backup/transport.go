// Copyright 2024-2026 Aiku AI

package backup

import (
	"context"
	"time"
)

// OutboundMessage is one send request to the transport.
type OutboundMessage struct {
	TargetChatID int64
	Text         string
	Attachment   *Attachment
	// ReplyToMessageID links the new message to an existing backup message
	// in the same chat. Zero means no reply.
	ReplyToMessageID   int
	DisableLinkPreview bool
}

// Transport is the capability the engine uses to talk to the chat platform.
// Implementations classify failures with TransientError/PermanentError so
// the engine can decide whether to retry.
type Transport interface {
	// SendMessage delivers a message and returns the platform-assigned
	// message ID in the target chat.
	SendMessage(ctx context.Context, msg OutboundMessage) (int, error)
	// EditMessage replaces the body of an existing backup message.
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
	// UploadFile sends a local file as a document to the target chat.
	UploadFile(ctx context.Context, chatID int64, path string) error
}

// Mutator is applied to a record inside the store's atomic update. Returning
// an error aborts the update without writing.
type Mutator func(*BackupRecord) error

// Store is the durable mapping between source and backup messages. Get
// returns (nil, nil) for absent or expired records. Update is linearizable
// per source identity so concurrent edit and recall notifications for the
// same message never interleave.
type Store interface {
	Put(ctx context.Context, rec BackupRecord) error
	Get(ctx context.Context, src SourceIdentity) (*BackupRecord, error)
	Update(ctx context.Context, src SourceIdentity, fn Mutator) error
	// Range returns records for one destination with CreatedAt in [from, to),
	// ordered by CreatedAt ascending.
	Range(ctx context.Context, targetChatID int64, from, to time.Time) ([]BackupRecord, error)
	// Sweep removes records older than the retention policy and returns how
	// many were removed. Callers depend only on the side effect.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// ArchiveWriter materializes archive units as files and enumerates what it
// has written, so the weekly upload pass reuses daily output instead of
// re-deriving it from the store.
type ArchiveWriter interface {
	Write(ctx context.Context, unit ArchiveUnit) (path string, err error)
	// List returns paths of archives whose date label falls between the
	// days of from and to, inclusive, evaluated in the same location the
	// labels were written in.
	List(from, to time.Time) ([]string, error)
}

// Uploader pushes a finished archive file to its off-site destination.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}
