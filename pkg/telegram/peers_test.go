// Copyright 2024-2026 Aiku AI

package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestPeerCacheRememberAndResolve(t *testing.T) {
	t.Parallel()
	cache := NewPeerCache()

	user := &tg.User{ID: 42}
	user.SetAccessHash(111)
	channel := &tg.Channel{ID: 200}
	channel.SetAccessHash(222)
	cache.Remember(
		[]tg.UserClass{user},
		[]tg.ChatClass{
			&tg.Chat{ID: 100},
			channel,
			&tg.ChannelForbidden{ID: 300, AccessHash: 333},
		},
	)

	peer, err := cache.Resolve(42)
	if err != nil {
		t.Fatalf("Resolve user: %v", err)
	}
	if user, ok := peer.(*tg.InputPeerUser); !ok || user.AccessHash != 111 {
		t.Errorf("user peer = %#v", peer)
	}

	peer, err = cache.Resolve(100)
	if err != nil {
		t.Fatalf("Resolve chat: %v", err)
	}
	if _, ok := peer.(*tg.InputPeerChat); !ok {
		t.Errorf("chat peer = %#v", peer)
	}

	peer, err = cache.Resolve(200)
	if err != nil {
		t.Fatalf("Resolve channel: %v", err)
	}
	if channel, ok := peer.(*tg.InputPeerChannel); !ok || channel.AccessHash != 222 {
		t.Errorf("channel peer = %#v", peer)
	}

	// Forbidden channels still resolve; the recall of an inaccessible source
	// must reach its backup chat.
	peer, err = cache.Resolve(300)
	if err != nil {
		t.Fatalf("Resolve forbidden channel: %v", err)
	}
	if channel, ok := peer.(*tg.InputPeerChannel); !ok || channel.AccessHash != 333 {
		t.Errorf("forbidden channel peer = %#v", peer)
	}
}

func TestPeerCacheResolveUnknown(t *testing.T) {
	t.Parallel()
	cache := NewPeerCache()
	if _, err := cache.Resolve(12345); err == nil {
		t.Fatal("Resolve of unseen chat succeeded")
	}
}
