// Copyright 2024-2026 Aiku AI

package telegram

import (
	"context"
	"time"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/aiku/groupbackup/pkg/backup"
)

// EventSink receives the neutral events decoded from Telegram updates. The
// engine implements it; tests inject a recorder.
type EventSink interface {
	Submit(ctx context.Context, ev backup.Event) error
}

// UpdateHandler decodes gotd update containers into engine events. It is
// registered as the client's telegram.UpdateHandler.
type UpdateHandler struct {
	sink  EventSink
	peers *PeerCache
	log   zerolog.Logger
	nowFn func() time.Time
}

var _ gotdUpdateHandler = (*UpdateHandler)(nil)

// gotdUpdateHandler mirrors telegram.UpdateHandler without importing the
// client package here.
type gotdUpdateHandler interface {
	Handle(ctx context.Context, u tg.UpdatesClass) error
}

// NewUpdateHandler wires the inbound side of the adapter.
func NewUpdateHandler(sink EventSink, peers *PeerCache, log zerolog.Logger) *UpdateHandler {
	return &UpdateHandler{
		sink:  sink,
		peers: peers,
		log:   log.With().Str("component", "tg_updates").Logger(),
		nowFn: time.Now,
	}
}

// Handle flattens one update container and forwards the interesting units.
// It never returns an error for a bad unit: one malformed update must not
// tear down the client's update loop.
func (h *UpdateHandler) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	switch typed := updates.(type) {
	case *tg.Updates:
		h.peers.Remember(typed.Users, typed.Chats)
		users := indexUsers(typed.Users)
		for _, update := range typed.Updates {
			h.handleUpdate(ctx, update, users)
		}
	case *tg.UpdatesCombined:
		h.peers.Remember(typed.Users, typed.Chats)
		users := indexUsers(typed.Users)
		for _, update := range typed.Updates {
			h.handleUpdate(ctx, update, users)
		}
	case *tg.UpdateShort:
		h.handleUpdate(ctx, typed.Update, nil)
	case *tg.UpdatesTooLong:
		h.log.Warn().Msg("Update gap signalled by server, some events may be missed")
	default:
		h.log.Trace().Str("container", updates.TypeName()).Msg("Unhandled update container")
	}
	return nil
}

func (h *UpdateHandler) handleUpdate(ctx context.Context, update tg.UpdateClass, users map[int64]*tg.User) {
	switch typed := update.(type) {
	case *tg.UpdateNewMessage:
		h.submitNew(ctx, typed.Message, users)
	case *tg.UpdateNewChannelMessage:
		h.submitNew(ctx, typed.Message, users)
	case *tg.UpdateEditMessage:
		h.submitEdit(ctx, typed.Message)
	case *tg.UpdateEditChannelMessage:
		h.submitEdit(ctx, typed.Message)
	case *tg.UpdateDeleteChannelMessages:
		for _, id := range typed.Messages {
			h.submit(ctx, backup.RecallMessageEvent{
				Source:     backup.SourceIdentity{ChatID: typed.ChannelID, MessageID: id},
				RecalledAt: h.nowFn().UTC(),
			})
		}
	case *tg.UpdateDeleteMessages:
		// Non-channel deletes carry no chat ID, so the source identity
		// cannot be reconstructed from the update alone.
		h.log.Debug().Ints("message_ids", typed.Messages).Msg("Dropping delete without chat id")
	default:
		h.log.Trace().Str("update", update.TypeName()).Msg("Ignored update")
	}
}

func (h *UpdateHandler) submitNew(ctx context.Context, msg tg.MessageClass, users map[int64]*tg.User) {
	ev, ok := decodeNewMessage(msg, users)
	if !ok {
		return
	}
	h.submit(ctx, ev)
}

func (h *UpdateHandler) submitEdit(ctx context.Context, msg tg.MessageClass) {
	typed, ok := msg.(*tg.Message)
	if !ok || typed.Out {
		return
	}
	chatID, ok := peerChatID(typed.PeerID)
	if !ok {
		return
	}
	editedAt := typed.Date
	if ts, ok := typed.GetEditDate(); ok {
		editedAt = ts
	}
	h.submit(ctx, backup.EditMessageEvent{
		Source:   backup.SourceIdentity{ChatID: chatID, MessageID: typed.ID},
		NewText:  typed.Message,
		EditedAt: time.Unix(int64(editedAt), 0).UTC(),
	})
}

func (h *UpdateHandler) submit(ctx context.Context, ev backup.Event) {
	if err := h.sink.Submit(ctx, ev); err != nil {
		h.log.Error().Err(err).Stringer("source", ev.EventSource()).Msg("Failed to enqueue event")
	}
}

// decodeNewMessage turns a raw message into a NewMessageEvent. Service
// messages and the userbot's own messages are skipped.
func decodeNewMessage(msg tg.MessageClass, users map[int64]*tg.User) (backup.NewMessageEvent, bool) {
	typed, ok := msg.(*tg.Message)
	if !ok || typed.Out {
		return backup.NewMessageEvent{}, false
	}
	chatID, ok := peerChatID(typed.PeerID)
	if !ok {
		return backup.NewMessageEvent{}, false
	}

	ev := backup.NewMessageEvent{
		Source: backup.SourceIdentity{ChatID: chatID, MessageID: typed.ID},
		Text:   typed.Message,
		SentAt: time.Unix(int64(typed.Date), 0).UTC(),
		Sender: decodeSender(typed, chatID, users),
	}

	if media, ok := typed.GetMedia(); ok {
		// Web page previews stay plain text; the preview re-renders on the
		// backup side from the URL.
		if _, isWebpage := media.(*tg.MessageMediaWebPage); !isWebpage {
			ev.Attachment = &backup.Attachment{Kind: mediaKind(media), Ref: media}
		}
	}

	if header, ok := typed.GetReplyTo(); ok {
		if reply, ok := header.(*tg.MessageReplyHeader); ok {
			if replyID, ok := reply.GetReplyToMsgID(); ok {
				ev.ReplyTo = &backup.SourceIdentity{ChatID: chatID, MessageID: replyID}
			}
		}
	}

	return ev, true
}

func decodeSender(msg *tg.Message, chatID int64, users map[int64]*tg.User) backup.Sender {
	fromID, ok := msg.GetFromID()
	if !ok {
		// Channel broadcasts carry no per-user sender.
		return backup.Sender{ID: chatID, Name: "Channel"}
	}
	peerUser, ok := fromID.(*tg.PeerUser)
	if !ok {
		return backup.Sender{ID: chatID, Name: "Unknown"}
	}

	sender := backup.Sender{ID: peerUser.UserID, Name: "Unknown"}
	user, ok := users[peerUser.UserID]
	if !ok {
		return sender
	}
	sender.Name = user.FirstName
	if user.LastName != "" {
		if sender.Name != "" {
			sender.Name += " "
		}
		sender.Name += user.LastName
	}
	if sender.Name == "" {
		sender.Name = "Unknown"
	}
	sender.Username = user.Username
	return sender
}

func peerChatID(peer tg.PeerClass) (int64, bool) {
	switch typed := peer.(type) {
	case *tg.PeerChannel:
		return typed.ChannelID, true
	case *tg.PeerChat:
		return typed.ChatID, true
	case *tg.PeerUser:
		return typed.UserID, true
	default:
		return 0, false
	}
}

func indexUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}
	out := make(map[int64]*tg.User, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			out[user.ID] = user
		}
	}
	return out
}

func mediaKind(media tg.MessageMediaClass) string {
	switch media.(type) {
	case *tg.MessageMediaPhoto:
		return "photo"
	case *tg.MessageMediaDocument:
		return "document"
	default:
		return media.TypeName()
	}
}
