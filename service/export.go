package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"dagrecovery/domain/history"
	"dagrecovery/infra/outbox"
	"dagrecovery/infra/wal"
)

// Exporter copies committed history frames into the export outbox. It
// is installed as the writer's observer, so frames reach the outbox in
// log order.
type Exporter struct {
	ob  *outbox.Outbox
	log *slog.Logger
}

func NewExporter(ob *outbox.Outbox, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{ob: ob, log: log.With("component", "exporter")}
}

func (e *Exporter) Committed(pos wal.Position, ev history.Event, frame []byte) {
	if !ev.IsHistoryEvent() {
		return
	}
	if err := e.ob.Put(pos.Seq, []byte(ev.Entity().String()), frame); err != nil {
		// The frame is durable in the log; only its export is lost.
		e.log.Error("outbox put failed", "seq", pos.Seq, "entity", ev.Entity().String(), "err", err)
	}
}

// Backfill exports frames the outbox has not seen, i.e. those committed
// after its last entry. It runs before the writer opens so that frames
// written by a process that died before exporting are not lost. The
// committed bytes are exported as they are; frames this build cannot
// decode go out without a partition key.
func Backfill(ctx context.Context, path string, reg *history.Registry, ob *outbox.Outbox, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = history.DefaultRegistry()
	}
	last, err := ob.LastSeq()
	if err != nil {
		return 0, err
	}
	n := 0
	_, err = wal.ScanFrames(path, func(f wal.RawFrame) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Seq <= last {
			return nil
		}
		var key []byte
		ev, err := history.Decode(reg, f.Tag, f.Body)
		switch {
		case err == nil && !ev.IsHistoryEvent():
			return nil
		case err == nil:
			key = []byte(ev.Entity().String())
		default:
			log.Warn("exporting frame without key", "seq", f.Seq, "tag", uint32(f.Tag), "err", err)
		}
		if err := ob.Put(f.Seq, key, f.Frame); err != nil {
			return err
		}
		n++
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return n, fmt.Errorf("backfill outbox: %w", err)
	}
	if n > 0 {
		log.Info("outbox backfilled", "frames", n, "after_seq", last)
	}
	return n, nil
}
