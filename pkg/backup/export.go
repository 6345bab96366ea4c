// Copyright 2024-2026 Aiku AI

package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Exporter materializes backup history into archive units on external
// triggers. It decides what goes into an archive; when exports run is the
// scheduler's business.
type Exporter struct {
	store    Store
	router   *Router
	writer   ArchiveWriter
	uploader Uploader
	loc      *time.Location
	log      zerolog.Logger
}

// NewExporter wires the export coordinator. loc controls the date label in
// archive names; nil means UTC.
func NewExporter(store Store, router *Router, writer ArchiveWriter, uploader Uploader, loc *time.Location, log zerolog.Logger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{
		store:    store,
		router:   router,
		writer:   writer,
		uploader: uploader,
		loc:      loc,
		log:      log.With().Str("component", "exporter").Logger(),
	}
}

// ExportDaily pulls the last 24 hours of backup records for every
// destination and writes one archive unit per destination. One failing
// destination never aborts the others; the joined error reports them all.
func (e *Exporter) ExportDaily(ctx context.Context, now time.Time) ([]string, error) {
	from := now.Add(-24 * time.Hour)
	date := now.In(e.loc).Format(time.DateOnly)

	var paths []string
	var errs []error
	for _, target := range e.router.Targets() {
		records, err := e.store.Range(ctx, target.ChatID, from, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("range target %d: %w", target.ChatID, err))
			continue
		}
		if len(records) == 0 {
			e.log.Debug().Int64("target_chat_id", target.ChatID).Msg("No records in export window")
			continue
		}

		unit := ArchiveUnit{
			Name:         fmt.Sprintf("%s_%s", target.ArchiveBaseName(), date),
			TargetChatID: target.ChatID,
			From:         from,
			To:           now,
			Records:      records,
		}
		path, err := e.writer.Write(ctx, unit)
		if err != nil {
			errs = append(errs, fmt.Errorf("write archive %s: %w", unit.Name, err))
			continue
		}
		paths = append(paths, path)

		e.log.Info().
			Str("archive", unit.Name).
			Str("path", path).
			Int("records", len(records)).
			Msg("Wrote daily archive")
	}
	return paths, errors.Join(errs...)
}

// ExportWeekly uploads the last seven days of already-written daily
// archives. It deliberately reuses daily output as the unit of upload
// instead of re-deriving ranges from the store.
func (e *Exporter) ExportWeekly(ctx context.Context, now time.Time) error {
	paths, err := e.writer.List(now.Add(-7*24*time.Hour), now)
	if err != nil {
		return fmt.Errorf("list weekly archives: %w", err)
	}

	var errs []error
	for _, path := range paths {
		if err := e.uploader.Upload(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", path, err))
			continue
		}
		e.log.Info().Str("path", path).Msg("Uploaded archive")
	}
	return errors.Join(errs...)
}
