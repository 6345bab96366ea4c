// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// errRecallSticky aborts a mutator when the record turned Recalled between
// the read and the locked update. Treated as a silent no-op by callers.
var errRecallSticky = errors.New("record is recalled")

// Syncer consumes edit and recall notifications, looks up prior mappings,
// decides whether to apply them, and drives the transport accordingly.
//
// State machine per record: Normal -> Edited -> Edited (edits always
// overwrite to latest content) and {Normal, Edited} -> Recalled, which is
// terminal. The guard lives inside the store's atomic update, not in event
// arrival order.
type Syncer struct {
	store     Store
	formatter *Formatter
	transport Transport
	policy    RetentionPolicy
	log       zerolog.Logger
}

// NewSyncer wires a state synchronizer. transport is expected to already
// carry the engine's retry policy.
func NewSyncer(store Store, formatter *Formatter, transport Transport, policy RetentionPolicy, log zerolog.Logger) *Syncer {
	return &Syncer{
		store:     store,
		formatter: formatter,
		transport: transport,
		policy:    policy,
		log:       log.With().Str("component", "syncer").Logger(),
	}
}

// OnEdit applies a source edit to the mirrored message. The new content is
// appended below the original body so the backup preserves both versions.
// Repeated delivery of the identical edit is a no-op.
func (s *Syncer) OnEdit(ctx context.Context, src SourceIdentity, newText string, editedAt time.Time) error {
	rec, err := s.store.Get(ctx, src)
	if err != nil {
		return fmt.Errorf("edit lookup %s: %w", src, err)
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUntrackedEdit, src)
	}
	if rec.LastState == StateRecalled {
		s.log.Debug().Stringer("source", src).Msg("Ignoring edit of recalled message")
		return nil
	}

	appendix := s.formatter.RenderEditAppendix(editedAt, newText)
	if strings.Contains(rec.Body, appendix) {
		return nil
	}

	if err := s.transport.EditMessage(ctx, rec.BackupChatID, rec.BackupMessageID, rec.Body+appendix); err != nil {
		return fmt.Errorf("edit backup message %d/%d: %w", rec.BackupChatID, rec.BackupMessageID, err)
	}

	err = s.store.Update(ctx, src, func(r *BackupRecord) error {
		if r.LastState == StateRecalled {
			return errRecallSticky
		}
		if !strings.Contains(r.Body, appendix) {
			r.Body += appendix
		}
		r.LastState = StateEdited
		return nil
	})
	if errors.Is(err, errRecallSticky) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record edit %s: %w", src, err)
	}

	s.log.Info().
		Stringer("source", src).
		Int64("backup_chat_id", rec.BackupChatID).
		Int("backup_message_id", rec.BackupMessageID).
		Msg("Propagated edit to backup")
	return nil
}

// OnRecall applies a source deletion to the mirrored message. Within the
// platform edit window the backup message is tagged in place; past it, the
// platform would reject the edit, so a warning reply referencing the backup
// message is emitted instead and the original body stays untouched. Either
// way the record ends up Recalled, and Recalled is sticky.
func (s *Syncer) OnRecall(ctx context.Context, src SourceIdentity, recalledAt time.Time) error {
	rec, err := s.store.Get(ctx, src)
	if err != nil {
		return fmt.Errorf("recall lookup %s: %w", src, err)
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUntrackedRecall, src)
	}
	if rec.LastState == StateRecalled {
		return nil
	}

	pastEditWindow := recalledAt.Sub(rec.CreatedAt) > s.policy.AutoDeleteIgnore

	if pastEditWindow {
		warning := s.formatter.RenderRecallWarning(recalledAt)
		_, err = s.transport.SendMessage(ctx, OutboundMessage{
			TargetChatID:     rec.BackupChatID,
			Text:             warning,
			ReplyToMessageID: rec.BackupMessageID,
		})
		if err != nil {
			return fmt.Errorf("send recall warning for %s: %w", src, err)
		}
	} else {
		tag := s.formatter.RenderRecallTag(recalledAt)
		if !strings.Contains(rec.Body, tag) {
			if err := s.transport.EditMessage(ctx, rec.BackupChatID, rec.BackupMessageID, rec.Body+tag); err != nil {
				return fmt.Errorf("tag backup message %d/%d: %w", rec.BackupChatID, rec.BackupMessageID, err)
			}
		}
	}

	tag := s.formatter.RenderRecallTag(recalledAt)
	err = s.store.Update(ctx, src, func(r *BackupRecord) error {
		if r.LastState == StateRecalled {
			return errRecallSticky
		}
		if !pastEditWindow && !strings.Contains(r.Body, tag) {
			r.Body += tag
		}
		r.LastState = StateRecalled
		return nil
	})
	if errors.Is(err, errRecallSticky) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record recall %s: %w", src, err)
	}

	s.log.Info().
		Stringer("source", src).
		Int64("backup_chat_id", rec.BackupChatID).
		Bool("past_edit_window", pastEditWindow).
		Msg("Propagated recall to backup")
	return nil
}
