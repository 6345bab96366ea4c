// Copyright 2024-2026 Aiku AI

package telegram

import (
	"fmt"
	"sync"

	"github.com/gotd/td/tg"
)

// PeerCache stores Telegram input peers discovered from inbound updates,
// keyed by bare chat ID. Outbound dispatch resolves configured chat IDs back
// into input peers through it.
type PeerCache struct {
	mu     sync.RWMutex
	byChat map[int64]tg.InputPeerClass
}

// NewPeerCache creates an empty, concurrency-safe peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{byChat: make(map[int64]tg.InputPeerClass)}
}

// Remember ingests the entity lists attached to one update container.
func (c *PeerCache) Remember(users []tg.UserClass, chats []tg.ChatClass) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		c.byChat[user.ID] = user.AsInputPeer()
	}

	for _, ch := range chats {
		switch typed := ch.(type) {
		case *tg.Chat:
			c.byChat[typed.ID] = typed.AsInputPeer()
		case *tg.Channel:
			c.byChat[typed.ID] = typed.AsInputPeer()
		case *tg.ChannelForbidden:
			c.byChat[typed.ID] = &tg.InputPeerChannel{
				ChannelID:  typed.ID,
				AccessHash: typed.AccessHash,
			}
		}
	}
}

// Resolve returns the input peer for a chat ID.
func (c *PeerCache) Resolve(chatID int64) (tg.InputPeerClass, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peer, ok := c.byChat[chatID]
	if !ok {
		return nil, fmt.Errorf("resolve peer: chat %d not seen yet", chatID)
	}
	return peer, nil
}
