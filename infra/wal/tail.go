package wal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"dagrecovery/domain/history"
)

var (
	// ErrCorruptLog stops a tail at a frame whose bytes are complete but
	// damaged; waiting cannot repair it. Open returns it when intact frames
	// follow a damaged one and Config.Repair is not set.
	ErrCorruptLog = errors.New("wal: corrupt frame inside log")
	// ErrBadOffset is returned when TailConfig.FromOffset is not a frame
	// boundary.
	ErrBadOffset = errors.New("wal: offset is not a frame boundary")
)

type TailConfig struct {
	PollInterval time.Duration
	// FromOffset skips frames before this offset. It must be 0 or the end
	// of a frame, e.g. Result.EndOffset of an earlier replay.
	FromOffset int64
	Logger     *slog.Logger
}

// Tail follows a log that is still being written. It decodes like a
// Reader, but an incomplete trailing frame means "not written yet": the
// tail rewinds to the frame start and polls. Cancellation is observed
// between frames; Tail then returns ctx.Err().
func Tail(ctx context.Context, path string, reg *history.Registry, cfg TailConfig, fn func(Record) error) error {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	log := cfg.Logger.With("component", "wal.tail", "path", path)

	r, err := OpenReader(path, reg)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.skipTo(cfg.FromOffset); err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	reported := len(r.warnings)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, err := r.advance()
		for _, w := range r.warnings[reported:] {
			log.Warn("skipped frame", "kind", w.Kind.String(), "offset", w.Offset, "seq", w.Seq, "tag", uint32(w.Tag), "err", w.Err)
		}
		reported = len(r.warnings)

		switch st {
		case stepRecord:
			if err := fn(r.rec); err != nil {
				return err
			}
			continue
		case stepCorrupt:
			return fmt.Errorf("%w: offset %d: %v", ErrCorruptLog, r.off, err)
		case stepError:
			return err
		}

		// stepEOF or stepIncomplete: nothing more to read yet.
		if err := r.rewind(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// rewind discards buffered bytes and repositions at the end of the last
// complete frame.
func (r *Reader) rewind() error {
	if _, err := r.f.Seek(r.off, io.SeekStart); err != nil {
		return fmt.Errorf("wal: rewind to %d: %w", r.off, err)
	}
	r.br.Reset(r.f)
	return nil
}

// skipTo consumes frames without decoding them until off. Sequence
// numbers stay positional.
func (r *Reader) skipTo(off int64) error {
	for r.off < off {
		fr, err := readFrame(r.br, r.body)
		if err != nil {
			if err == io.EOF || errors.Is(err, errIncomplete) {
				return fmt.Errorf("%w: %d is past the end of the log", ErrBadOffset, off)
			}
			return fmt.Errorf("wal: skip to %d: %w", off, err)
		}
		r.body = fr.body
		r.off += fr.size
		r.seq++
	}
	if r.off != off {
		return fmt.Errorf("%w: %d", ErrBadOffset, off)
	}
	return nil
}
