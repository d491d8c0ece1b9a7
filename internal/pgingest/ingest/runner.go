package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/dbaudit/pgingest/internal/pgingest/auditlog"
	"github.com/dbaudit/pgingest/internal/pgingest/config"
	"github.com/dbaudit/pgingest/internal/pgingest/logger"
	"github.com/dbaudit/pgingest/internal/pgingest/sequencer"
	"github.com/dbaudit/pgingest/internal/pgingest/tailer"
)

// Runner drives the ingest loop: enumerate log files, tail each one, feed
// rows to the Ingester, and recover from per-row failures by discarding all
// state and starting over from the directory listing.
type Runner struct {
	cfg   *config.Config
	store Store
}

func NewRunner(cfg *config.Config, store Store) *Runner {
	return &Runner{cfg: cfg, store: store}
}

// Run ingests until ctx is cancelled. An empty log directory at startup is
// fatal; every later failure is treated as transient.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := sequencer.First(r.cfg.LogPath); err != nil {
		return err
	}

	log := logger.L()
	for {
		err := r.ingestFrom(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Errorw("ingest failed, discarding all state and retrying",
			"error", err, "sleep", r.cfg.RecoverySleep)
		r.store.Reset()
		if !sleep(ctx, r.cfg.RecoverySleep) {
			return ctx.Err()
		}
	}
}

// ingestFrom runs one incarnation of the pipeline: a fresh session cache and
// a fresh walk of the log directory. It returns only on error or cancellation.
func (r *Runner) ingestFrom(ctx context.Context) error {
	in := New(r.cfg, r.store)

	name, err := sequencer.First(r.cfg.LogPath)
	if err != nil {
		return err
	}
	rd, err := tailer.Open(filepath.Join(r.cfg.LogPath, name))
	if err != nil {
		return err
	}
	defer func() {
		if rd != nil {
			_ = rd.Close()
		}
	}()

	logger.L().Infow("tailing log file", "file", name)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fields, err := rd.Next()
		if errors.Is(err, tailer.ErrExhausted) {
			next, err := sequencer.Next(r.cfg.LogPath, filepath.Base(rd.Path()))
			if err != nil {
				return err
			}
			if next == "" {
				if !sleep(ctx, r.cfg.PollInterval) {
					return ctx.Err()
				}
				continue
			}
			_ = rd.Close()
			if rd, err = tailer.Open(filepath.Join(r.cfg.LogPath, next)); err != nil {
				return err
			}
			logger.L().Infow("rotated to next log file", "file", next)
			continue
		}
		if err != nil {
			return err
		}

		row, err := auditlog.ParseRow(fields)
		if err != nil {
			return err
		}
		if err := in.Ingest(row); err != nil {
			return err
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
