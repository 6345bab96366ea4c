// Copyright 2024-2026 Aiku AI

package backup

import (
	"fmt"
	"strings"
	"time"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	separatorLine   = "──────────────────────────────\n"
)

// PrevHint is the engine's memory of the immediately-preceding rendered
// message for a destination, used to suppress headers for rapid-fire
// messages from the same sender.
type PrevHint struct {
	SenderID int64
	At       time.Time
}

// Payload is one rendered backup message, ready for the transport.
type Payload struct {
	Header string
	Body   string
	Footer string
	Kind   ContentKind
	// ReplyToBackupID is the backup message the mirror should thread under,
	// zero when the source message was not a reply or the reply target is
	// untracked.
	ReplyToBackupID int
}

// Text joins the payload sections into the outbound message body.
func (p Payload) Text() string {
	return p.Header + p.Body + p.Footer
}

// Formatter renders source events into backup payloads. It is a pure
// function of its inputs: no I/O, fully deterministic.
type Formatter struct {
	loc    *time.Location
	tzName string
	// footerWindow is how close together two messages from the same sender
	// must be for the second one to drop its header.
	footerWindow time.Duration
}

// NewFormatter creates a formatter rendering timestamps in loc. A zero
// footerWindow disables header suppression.
func NewFormatter(loc *time.Location, footerWindow time.Duration) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return &Formatter{loc: loc, tzName: loc.String(), footerWindow: footerWindow}
}

func (f *Formatter) stamp(t time.Time) string {
	return t.In(f.loc).Format(timestampLayout)
}

// RenderNew renders a new source message. prev is the preceding rendered
// message for the same destination (nil for the first one); replyRec is the
// resolved backup record for the source reply target (nil when the source
// message is not a reply or the target is untracked).
func (f *Formatter) RenderNew(ev NewMessageEvent, route RoutingEntry, prev *PrevHint, replyRec *BackupRecord) Payload {
	kind := ev.Kind()
	showHeader := prev == nil ||
		prev.SenderID != ev.Sender.ID ||
		f.footerWindow <= 0 ||
		ev.SentAt.Sub(prev.At) > f.footerWindow

	var header strings.Builder
	if showHeader {
		header.WriteString(avatarGlyph(ev.Sender.Name))
		header.WriteString(" ")
		header.WriteString(ev.Sender.Name)
		if ev.Sender.Username != "" {
			header.WriteString(" @")
			header.WriteString(ev.Sender.Username)
		}
		if route.DisplayName != "" {
			header.WriteString("\n\U0001F4E2 ")
			header.WriteString(route.DisplayName)
			if route.Tag != "" {
				header.WriteString(" ")
				header.WriteString(route.Tag)
			}
		}
		fmt.Fprintf(&header, "\n\U0001F550 %s (%s)\n", f.stamp(ev.SentAt), f.tzName)
		// Media carries no separator so the attachment is not visually
		// detached from its caption.
		if kind == KindText {
			header.WriteString(separatorLine)
		}
	}

	var body strings.Builder
	if ev.ReplyTo != nil {
		if replyRec == nil {
			body.WriteString("↩️ reply to an untracked message\n")
		}
	}
	body.WriteString(ev.Text)

	var footer string
	if !showHeader {
		switch {
		case kind == KindText:
			footer = fmt.Sprintf("\n\n`%s`", f.stamp(ev.SentAt))
		case body.Len() == 0:
			// Media without a caption still carries provenance: the timestamp
			// becomes the caption.
			footer = fmt.Sprintf("`%s`", f.stamp(ev.SentAt))
		}
	}

	p := Payload{
		Header: header.String(),
		Body:   body.String(),
		Footer: footer,
		Kind:   kind,
	}
	if replyRec != nil {
		p.ReplyToBackupID = replyRec.BackupMessageID
	}
	return p
}

// RenderEditAppendix renders the block appended to a backup message body
// when its source is edited. Appending instead of replacing preserves the
// original wording in the backup history.
func (f *Formatter) RenderEditAppendix(editedAt time.Time, newText string) string {
	return fmt.Sprintf("\n\n----\n\U0001F550 edited at %s (%s)\n%s", f.stamp(editedAt), f.tzName, newText)
}

// RenderRecallTag renders the tag line appended in place when a source
// message is recalled within the platform edit window.
func (f *Formatter) RenderRecallTag(recalledAt time.Time) string {
	return fmt.Sprintf("\n\n#recalled `%s`", f.stamp(recalledAt))
}

// RenderRecallWarning renders the standalone warning reply used when the
// backup message itself can no longer be edited.
func (f *Formatter) RenderRecallWarning(recalledAt time.Time) string {
	return fmt.Sprintf("⚠️ source message recalled ⚠️\n\U0001F550 %s (%s)", f.stamp(recalledAt), f.tzName)
}

// avatarGlyph fakes an avatar with the first rune of the sender name.
func avatarGlyph(name string) string {
	for _, r := range name {
		return fmt.Sprintf("\U0001F9D1[%c]", r)
	}
	return "\U0001F9D1"
}
