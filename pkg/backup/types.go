// Copyright 2024-2026 Aiku AI

package backup

import (
	"fmt"
	"time"
)

// SourceIdentity identifies one message on the source platform. Both parts
// are assigned by the platform and never change.
type SourceIdentity struct {
	ChatID    int64
	MessageID int
}

func (s SourceIdentity) String() string {
	return fmt.Sprintf("%d/%d", s.ChatID, s.MessageID)
}

// MessageState tracks the lifecycle of a mirrored message.
type MessageState int

const (
	StateNormal MessageState = iota
	StateEdited
	// StateRecalled is terminal. A recalled message is never un-recalled,
	// regardless of the order in which edit and recall events arrive.
	StateRecalled
)

func (s MessageState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateEdited:
		return "edited"
	case StateRecalled:
		return "recalled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ContentKind classifies what a mirrored message carries.
type ContentKind int

const (
	KindText ContentKind = iota
	KindMedia
	KindMixed
)

func (k ContentKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindMedia:
		return "media"
	case KindMixed:
		return "mixed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// BackupRecord is the durable correlation between one source message and the
// backup message that mirrors it. The mapping store exclusively owns record
// lifetime; other components read and request mutation through its interface.
type BackupRecord struct {
	Source          SourceIdentity
	BackupChatID    int64
	BackupMessageID int
	SenderID        int64
	CreatedAt       time.Time
	LastState       MessageState
	ContentKind     ContentKind
	ReplyTo         *SourceIdentity
	// Body is the latest rendered body of the backup message. It is kept so
	// recall tagging and edit appendices can rewrite the message in place
	// without fetching it back from the platform.
	Body string
}

// RoutingEntry maps one source chat to its backup destination. Many entries
// may share a TargetChatID (aggregation); a source chat appears in at most
// one entry.
type RoutingEntry struct {
	SourceChatID int64
	TargetChatID int64
	DisplayName  string
	Tag          string
}

// RetentionPolicy holds the process-wide retention knobs. It is read at
// startup and never mutated during a run.
type RetentionPolicy struct {
	// MappingRetention bounds how long a BackupRecord stays in the store.
	MappingRetention time.Duration
	// AutoDeleteIgnore is the platform edit-window ceiling: recalls of
	// messages older than this are handled with a warning reply instead of
	// an in-place edit, which the platform would reject.
	AutoDeleteIgnore time.Duration
}

// ArchiveUnit is one finalized, ordered slice of backup history for a single
// destination, ready to be materialized as an archive file.
type ArchiveUnit struct {
	// Name is the archive base name, {display_name|chat_id}_{YYYY-MM-DD}.
	Name         string
	TargetChatID int64
	From, To     time.Time
	Records      []BackupRecord
}
