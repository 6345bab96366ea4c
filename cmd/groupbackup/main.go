// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command groupbackup is a Telegram userbot that mirrors messages from
// configured source chats into aggregated backup chats, propagates edits and
// recalls, and periodically exports backup history as archive files.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/groupbackup/pkg/backup"
	"github.com/aiku/groupbackup/pkg/backup/archive"
	"github.com/aiku/groupbackup/pkg/backup/store"
	"github.com/aiku/groupbackup/pkg/telegram"
)

const sweepInterval = 6 * time.Hour

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := backup.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("Invalid log level")
	}
	log = log.Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A corrupted mapping store is the one startup failure that must stay
	// fatal: running without correlation history would silently re-mirror
	// and mis-route state changes.
	mappingStore, err := store.Open(cfg.StorePath, cfg.RetentionPolicy().MappingRetention)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StorePath).Msg("Failed to open mapping store")
	}
	defer mappingStore.Close()

	router, err := backup.NewRouter(cfg.RoutingEntries())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid routing table")
	}
	formatter := backup.NewFormatter(cfg.Location(), cfg.FooterWindow())

	peers := telegram.NewPeerCache()
	sink := &engineSink{}
	handler := telegram.NewUpdateHandler(sink, peers, log)

	client, err := telegram.NewClient(cfg.Telegram, handler, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build telegram client")
	}
	transport := telegram.NewTransport(client.Inner(), peers, log)

	engine := backup.NewEngine(router, formatter, mappingStore, transport, cfg.RetentionPolicy(), log, backup.EngineOptions{
		Workers: cfg.Workers,
	})
	sink.engine = engine

	writer, err := archive.NewWriter(cfg.Archive.Dir, cfg.Location(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare archive dir")
	}
	uploader := archive.NewUploader(transport, cfg.Archive.UploadChatID)
	exporter := backup.NewExporter(mappingStore, router, writer, uploader, cfg.Location(), log)

	err = client.Run(ctx, func(runCtx context.Context) error {
		engine.Start(runCtx)
		defer engine.Stop()

		go sweepLoop(runCtx, mappingStore, log)
		go dailyLoop(runCtx, exporter, cfg, log)
		go weeklyLoop(runCtx, exporter, cfg, log)

		log.Info().Int("routes", len(cfg.Routes)).Msg("groupbackup running")
		<-runCtx.Done()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Client terminated")
	}
	log.Info().Msg("Shut down")
}

// engineSink defers binding the engine until it exists; the update handler
// is constructed first because the client needs it.
type engineSink struct {
	engine *backup.Engine
}

func (s *engineSink) Submit(ctx context.Context, ev backup.Event) error {
	return s.engine.Submit(ctx, ev)
}

func sweepLoop(ctx context.Context, mappingStore *store.SQLStore, log zerolog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := mappingStore.Sweep(ctx, time.Now())
			if err != nil {
				log.Error().Err(err).Msg("Mapping sweep failed")
				continue
			}
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("Swept expired mappings")
			}
		}
	}
}

func dailyLoop(ctx context.Context, exporter *backup.Exporter, cfg *backup.Config, log zerolog.Logger) {
	for {
		next := nextDaily(time.Now().In(cfg.Location()), cfg.Archive.DailyHour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case now := <-timer.C:
			if _, err := exporter.ExportDaily(ctx, now); err != nil {
				log.Error().Err(err).Msg("Daily export finished with failures")
			}
		}
	}
}

func weeklyLoop(ctx context.Context, exporter *backup.Exporter, cfg *backup.Config, log zerolog.Logger) {
	for {
		next := nextWeekly(time.Now().In(cfg.Location()), cfg.WeeklyDay(), cfg.Archive.WeeklyHour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case now := <-timer.C:
			if err := exporter.ExportWeekly(ctx, now); err != nil {
				log.Error().Err(err).Msg("Weekly upload finished with failures")
			}
		}
	}
}

func nextDaily(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func nextWeekly(now time.Time, day time.Weekday, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	for next.Weekday() != day || !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
