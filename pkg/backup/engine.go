// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package backup

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	defaultWorkers         = 4
	defaultQueueDepth      = 256
	defaultMaxSendAttempts = 4
	defaultInitialBackoff  = 500 * time.Millisecond
)

// EngineOptions tunes the reactor. Zero values fall back to defaults.
type EngineOptions struct {
	// Workers bounds event-processing parallelism.
	Workers int
	// QueueDepth is the per-worker inbound buffer.
	QueueDepth int
	// MaxSendAttempts caps transport retries per operation, after which the
	// event is logged as dropped rather than retried indefinitely.
	MaxSendAttempts int
	// InitialBackoff seeds the exponential retry delay.
	InitialBackoff time.Duration
}

func (o *EngineOptions) withDefaults() EngineOptions {
	out := *o
	if out.Workers <= 0 {
		out.Workers = defaultWorkers
	}
	if out.QueueDepth <= 0 {
		out.QueueDepth = defaultQueueDepth
	}
	if out.MaxSendAttempts <= 0 {
		out.MaxSendAttempts = defaultMaxSendAttempts
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = defaultInitialBackoff
	}
	return out
}

// Engine is the event-driven reactor: one logical stream of inbound source
// events processed by a bounded worker pool. Events are dispatched to
// workers by source chat, so everything from one source chat (and therefore
// every event for one source identity) is processed in order, while
// different chats proceed concurrently.
type Engine struct {
	router    *Router
	formatter *Formatter
	store     Store
	transport Transport
	syncer    *Syncer
	log       zerolog.Logger
	opts      EngineOptions

	queues []chan Event
	wg     sync.WaitGroup

	prevMu sync.Mutex
	prev   map[int64]PrevHint

	stopOnce sync.Once
	quit     chan struct{}
}

// NewEngine wires the reactor. The raw transport is decorated with the
// engine's bounded retry policy before the syncer sees it.
func NewEngine(router *Router, formatter *Formatter, store Store, transport Transport, policy RetentionPolicy, log zerolog.Logger, opts EngineOptions) *Engine {
	opts = opts.withDefaults()
	log = log.With().Str("component", "engine").Logger()

	retrying := &retryTransport{
		inner:       transport,
		maxAttempts: opts.MaxSendAttempts,
		initial:     opts.InitialBackoff,
	}

	e := &Engine{
		router:    router,
		formatter: formatter,
		store:     store,
		transport: retrying,
		syncer:    NewSyncer(store, formatter, retrying, policy, log),
		log:       log,
		opts:      opts,
		queues:    make([]chan Event, opts.Workers),
		prev:      make(map[int64]PrevHint),
		quit:      make(chan struct{}),
	}
	for i := range e.queues {
		e.queues[i] = make(chan Event, opts.QueueDepth)
	}
	return e
}

// Start launches the worker pool. It returns immediately; workers run until
// Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.hydratePrev(ctx)
	for i, queue := range e.queues {
		e.wg.Add(1)
		go e.workerLoop(ctx, i, queue)
	}
}

// hydratePrev restores the per-destination previous-message hints from the
// store so header suppression survives a restart.
func (e *Engine) hydratePrev(ctx context.Context) {
	window := e.formatter.footerWindow
	if window <= 0 {
		return
	}
	now := time.Now()
	for _, target := range e.router.Targets() {
		records, err := e.store.Range(ctx, target.ChatID, now.Add(-window), now)
		if err != nil {
			e.log.Warn().Err(err).Int64("target_chat_id", target.ChatID).Msg("Failed to restore header suppression state")
			continue
		}
		if len(records) == 0 {
			continue
		}
		last := records[len(records)-1]
		e.setPrevHint(target.ChatID, PrevHint{SenderID: last.SenderID, At: last.CreatedAt})
	}
}

// Stop shuts the pool down and waits for in-flight events to finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.quit)
	})
	e.wg.Wait()
}

// Submit enqueues one inbound event. It blocks when the target worker's
// queue is full, providing backpressure to the transport layer.
func (e *Engine) Submit(ctx context.Context, ev Event) error {
	queue := e.queues[e.workerIndex(ev.EventSource())]
	select {
	case queue <- ev:
		return nil
	case <-e.quit:
		return fmt.Errorf("submit %s: engine stopped", ev.EventSource())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) workerIndex(src SourceIdentity) int {
	h := fnv.New64a()
	var buf [8]byte
	v := uint64(src.ChatID)
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
	h.Write(buf[:])
	return int(h.Sum64() % uint64(len(e.queues)))
}

func (e *Engine) workerLoop(ctx context.Context, idx int, queue chan Event) {
	defer e.wg.Done()
	log := e.log.With().Int("worker", idx).Logger()
	for {
		select {
		case <-e.quit:
			return
		case <-ctx.Done():
			return
		case ev := <-queue:
			e.handle(ctx, log, ev)
		}
	}
}

// handle processes one event. All per-event errors are isolated here: no
// single bad event may halt the reactor or corrupt unrelated mappings.
func (e *Engine) handle(ctx context.Context, log zerolog.Logger, ev Event) {
	var err error
	switch typed := ev.(type) {
	case NewMessageEvent:
		err = e.handleNew(ctx, typed)
	case EditMessageEvent:
		err = e.syncer.OnEdit(ctx, typed.Source, typed.NewText, typed.EditedAt)
	case RecallMessageEvent:
		err = e.syncer.OnRecall(ctx, typed.Source, typed.RecalledAt)
	default:
		log.Warn().Type("event_type", ev).Msg("Unhandled event type")
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrUnroutedSource),
		errors.Is(err, ErrUntrackedEdit),
		errors.Is(err, ErrUntrackedRecall):
		log.Warn().Err(err).Stringer("source", ev.EventSource()).Msg("Dropping event")
	case errors.Is(err, ErrDuplicateSource):
		log.Debug().Stringer("source", ev.EventSource()).Msg("Re-delivered message already mirrored")
	case IsPermanent(err):
		log.Error().Err(err).Stringer("source", ev.EventSource()).Msg("Permanent transport failure, event dropped")
	default:
		log.Error().Err(err).Stringer("source", ev.EventSource()).Msg("Event dropped after retries")
	}
}

func (e *Engine) handleNew(ctx context.Context, ev NewMessageEvent) error {
	route, err := e.router.Route(ev.Source.ChatID)
	if err != nil {
		return err
	}

	// At-most-once insertion: a re-delivered message that is already
	// mirrored must not produce a second backup message.
	existing, err := e.store.Get(ctx, ev.Source)
	if err != nil {
		return fmt.Errorf("dedup lookup %s: %w", ev.Source, err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, ev.Source)
	}

	var replyRec *BackupRecord
	if ev.ReplyTo != nil {
		replyRec, err = e.store.Get(ctx, *ev.ReplyTo)
		if err != nil {
			e.log.Warn().Err(err).Stringer("reply_to", *ev.ReplyTo).Msg("Reply lookup failed, rendering as untracked")
			replyRec = nil
		}
		if replyRec != nil && replyRec.BackupChatID != route.TargetChatID {
			// The reply target was mirrored to a different destination;
			// cross-chat reply links are meaningless.
			replyRec = nil
		}
	}

	payload := e.formatter.RenderNew(ev, route, e.prevHint(route.TargetChatID), replyRec)

	sentAt := ev.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	backupID, err := e.transport.SendMessage(ctx, OutboundMessage{
		TargetChatID:       route.TargetChatID,
		Text:               payload.Text(),
		Attachment:         ev.Attachment,
		ReplyToMessageID:   payload.ReplyToBackupID,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("mirror %s to %d: %w", ev.Source, route.TargetChatID, err)
	}

	rec := BackupRecord{
		Source:          ev.Source,
		BackupChatID:    route.TargetChatID,
		BackupMessageID: backupID,
		SenderID:        ev.Sender.ID,
		CreatedAt:       sentAt.UTC(),
		LastState:       StateNormal,
		ContentKind:     ev.Kind(),
		ReplyTo:         ev.ReplyTo,
		Body:            payload.Text(),
	}
	if err := e.store.Put(ctx, rec); err != nil && !errors.Is(err, ErrDuplicateSource) {
		return fmt.Errorf("record mapping %s: %w", ev.Source, err)
	}

	e.setPrevHint(route.TargetChatID, PrevHint{SenderID: ev.Sender.ID, At: sentAt})

	e.log.Info().
		Stringer("source", ev.Source).
		Int64("target_chat_id", route.TargetChatID).
		Int("backup_message_id", backupID).
		Stringer("content_kind", ev.Kind()).
		Msg("Mirrored message")
	return nil
}

func (e *Engine) prevHint(targetChatID int64) *PrevHint {
	e.prevMu.Lock()
	defer e.prevMu.Unlock()
	hint, ok := e.prev[targetChatID]
	if !ok {
		return nil
	}
	return &hint
}

func (e *Engine) setPrevHint(targetChatID int64, hint PrevHint) {
	e.prevMu.Lock()
	defer e.prevMu.Unlock()
	e.prev[targetChatID] = hint
}

// retryTransport wraps a Transport with bounded exponential backoff.
// Permanent failures short-circuit the loop.
type retryTransport struct {
	inner       Transport
	maxAttempts int
	initial     time.Duration
}

func (t *retryTransport) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.initial
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(t.maxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (t *retryTransport) SendMessage(ctx context.Context, msg OutboundMessage) (int, error) {
	var id int
	err := t.retry(ctx, func() error {
		var sendErr error
		id, sendErr = t.inner.SendMessage(ctx, msg)
		return sendErr
	})
	return id, err
}

func (t *retryTransport) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	return t.retry(ctx, func() error {
		return t.inner.EditMessage(ctx, chatID, messageID, text)
	})
}

func (t *retryTransport) UploadFile(ctx context.Context, chatID int64, path string) error {
	return t.retry(ctx, func() error {
		return t.inner.UploadFile(ctx, chatID, path)
	})
}

var _ Transport = (*retryTransport)(nil)
