// Copyright 2024-2026 Aiku AI

package backup

import "time"

// Sender describes who authored a source message.
type Sender struct {
	ID       int64
	Name     string
	Username string
}

// Attachment is an opaque reference to platform media. The engine only looks
// at its presence; the transport knows how to reinterpret Ref when mirroring.
type Attachment struct {
	// Kind is a short platform token such as "photo" or "document".
	Kind string
	// Ref is the platform-native media handle.
	Ref any
}

// Event is one inbound source notification. Events for the same source
// identity are processed in order; events for different identities may be
// processed concurrently.
type Event interface {
	EventSource() SourceIdentity
}

// NewMessageEvent reports a message posted in a source chat.
type NewMessageEvent struct {
	Source     SourceIdentity
	Sender     Sender
	Text       string
	Attachment *Attachment
	ReplyTo    *SourceIdentity
	SentAt     time.Time
}

func (e NewMessageEvent) EventSource() SourceIdentity { return e.Source }

// Kind derives the content classification of the event.
func (e NewMessageEvent) Kind() ContentKind {
	switch {
	case e.Attachment != nil && e.Text != "":
		return KindMixed
	case e.Attachment != nil:
		return KindMedia
	default:
		return KindText
	}
}

// EditMessageEvent reports that a source message was edited after the fact.
type EditMessageEvent struct {
	Source   SourceIdentity
	NewText  string
	EditedAt time.Time
}

func (e EditMessageEvent) EventSource() SourceIdentity { return e.Source }

// RecallMessageEvent reports that a source message was deleted (recalled).
type RecallMessageEvent struct {
	Source     SourceIdentity
	RecalledAt time.Time
}

func (e RecallMessageEvent) EventSource() SourceIdentity { return e.Source }
