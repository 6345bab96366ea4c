// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package telegram implements the chat-platform capabilities of groupbackup
// on top of the gotd MTProto client: it turns raw Telegram updates into
// engine events and engine send/edit requests into Telegram RPC calls.
package telegram

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"github.com/aiku/groupbackup/pkg/backup"
)

// Transport adapts the neutral backup.Transport capability to Telegram RPC.
type Transport struct {
	raw    *tg.Client
	sender *message.Sender
	upload *uploader.Uploader
	peers  *PeerCache
	rand   io.Reader
	log    zerolog.Logger
}

var _ backup.Transport = (*Transport)(nil)

// NewTransport wires the outbound side of the adapter.
func NewTransport(client *gotdtelegram.Client, peers *PeerCache, log zerolog.Logger) *Transport {
	raw := client.API()
	return &Transport{
		raw:    raw,
		sender: message.NewSender(raw),
		upload: uploader.NewUploader(raw),
		peers:  peers,
		rand:   crypto.DefaultRand(),
		log:    log.With().Str("component", "tg_transport").Logger(),
	}
}

// SendMessage mirrors one rendered payload into the target chat and returns
// the Telegram-assigned message ID.
func (t *Transport) SendMessage(ctx context.Context, msg backup.OutboundMessage) (int, error) {
	peer, err := t.peers.Resolve(msg.TargetChatID)
	if err != nil {
		return 0, backup.TransientError(err)
	}

	randomID, err := crypto.RandInt64(t.rand)
	if err != nil {
		return 0, backup.TransientError(fmt.Errorf("random id: %w", err))
	}

	var replyTo tg.InputReplyToClass
	if msg.ReplyToMessageID > 0 {
		replyTo = &tg.InputReplyToMessage{ReplyToMsgID: msg.ReplyToMessageID}
	}

	var updates tg.UpdatesClass
	if msg.Attachment != nil {
		media, err := asInputMedia(msg.Attachment)
		if err != nil {
			return 0, backup.PermanentError(err)
		}
		updates, err = t.raw.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
			Peer:     peer,
			ReplyTo:  replyTo,
			Media:    media,
			Message:  msg.Text,
			RandomID: randomID,
		})
		if err != nil {
			return 0, classify(fmt.Errorf("send media: %w", err))
		}
	} else {
		updates, err = t.raw.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:      peer,
			ReplyTo:   replyTo,
			Message:   msg.Text,
			NoWebpage: msg.DisableLinkPreview,
			RandomID:  randomID,
		})
		if err != nil {
			return 0, classify(fmt.Errorf("send message: %w", err))
		}
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, backup.PermanentError(fmt.Errorf("extract sent message id: %w", err))
	}
	return messageID, nil
}

// EditMessage replaces the body of an existing backup message.
func (t *Transport) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	peer, err := t.peers.Resolve(chatID)
	if err != nil {
		return backup.TransientError(err)
	}

	_, err = t.raw.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:      peer,
		ID:        messageID,
		Message:   text,
		NoWebpage: true,
	})
	if err != nil {
		return classify(fmt.Errorf("edit message %d: %w", messageID, err))
	}
	return nil
}

// UploadFile sends a local file as a document to the target chat.
func (t *Transport) UploadFile(ctx context.Context, chatID int64, path string) error {
	peer, err := t.peers.Resolve(chatID)
	if err != nil {
		return backup.TransientError(err)
	}

	file, err := t.upload.FromPath(ctx, path)
	if err != nil {
		return backup.PermanentError(fmt.Errorf("upload %s: %w", path, err))
	}

	document := message.UploadedDocument(file)
	document.Filename(filepath.Base(path))
	if _, err := t.sender.To(peer).Media(ctx, document); err != nil {
		return classify(fmt.Errorf("send document %s: %w", path, err))
	}
	return nil
}

// asInputMedia converts received media back into sendable input media.
// Telegram lets a client re-send photos and documents it has seen by ID
// without re-uploading the bytes.
func asInputMedia(att *backup.Attachment) (tg.InputMediaClass, error) {
	media, ok := att.Ref.(tg.MessageMediaClass)
	if !ok {
		return nil, fmt.Errorf("attachment ref is %T, not telegram media", att.Ref)
	}

	switch typed := media.(type) {
	case *tg.MessageMediaPhoto:
		photoClass, ok := typed.GetPhoto()
		if !ok {
			return nil, fmt.Errorf("photo media without photo")
		}
		photo, ok := photoClass.(*tg.Photo)
		if !ok {
			return nil, fmt.Errorf("photo media is %T", photoClass)
		}
		return &tg.InputMediaPhoto{ID: &tg.InputPhoto{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
		}}, nil
	case *tg.MessageMediaDocument:
		documentClass, ok := typed.GetDocument()
		if !ok {
			return nil, fmt.Errorf("document media without document")
		}
		document, ok := documentClass.(*tg.Document)
		if !ok {
			return nil, fmt.Errorf("document media is %T", documentClass)
		}
		return &tg.InputMediaDocument{ID: &tg.InputDocument{
			ID:            document.ID,
			AccessHash:    document.AccessHash,
			FileReference: document.FileReference,
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported media kind %T", media)
	}
}

// classify sorts an RPC failure into transient (retry) or permanent (drop).
// Flood waits and server-side errors are worth retrying; everything else the
// API rejects deliberately. Non-RPC errors are network-level and transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if rpcErr, ok := tgerr.As(err); ok {
		if rpcErr.Code == 420 || rpcErr.Code >= 500 {
			return backup.TransientError(err)
		}
		return backup.PermanentError(err)
	}
	return backup.TransientError(err)
}
