package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"dagrecovery/domain/history"
	"dagrecovery/domain/reconstruct"
	"dagrecovery/infra/telemetry"
	"dagrecovery/infra/wal"
)

// Options are shared by recovery and the running service. Zero values
// select the default registry, slog.Default and no-op metrics.
type Options struct {
	Registry     *history.Registry
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
	TailInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Registry == nil {
		o.Registry = history.DefaultRegistry()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = telemetry.Nop()
	}
	if o.TailInterval <= 0 {
		o.TailInterval = 250 * time.Millisecond
	}
	return o
}

// Recovered is the outcome of a startup replay.
type Recovered struct {
	Table  *reconstruct.Table
	Result wal.Result
}

// Recover rebuilds entity state from the log at path. A missing log is an
// empty history. A damaged tail is reported as a warning, not an error.
func Recover(ctx context.Context, path string, reg *history.Registry) (*reconstruct.Table, []wal.Warning, error) {
	rec, err := RecoverLog(ctx, path, Options{Registry: reg})
	if err != nil {
		return nil, nil, err
	}
	return rec.Table, rec.Result.Warnings, nil
}

// RecoverLog is Recover with logging and metrics.
func RecoverLog(ctx context.Context, path string, opts Options) (*Recovered, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With("component", "recovery", "path", path)
	table := reconstruct.NewTable()

	started := time.Now()
	res, err := wal.Replay(path, opts.Registry, func(r wal.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		opts.Metrics.EventReplayed(ctx, r.Tag.String())
		if !r.Event.IsRecoveryEvent() {
			return nil
		}
		st, added := table.Apply(r.Event)
		if added != 0 {
			reportAnomaly(ctx, log, opts.Metrics, r.Seq, st, added)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("no history log, starting empty")
		return &Recovered{Table: table}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recover %s: %w", path, err)
	}

	for _, w := range res.Warnings {
		opts.Metrics.ReplayWarning(ctx, w.Kind.String())
		log.Warn("replay warning", "kind", w.Kind.String(), "offset", w.Offset, "seq", w.Seq, "tag", uint32(w.Tag), "err", w.Err)
	}
	log.Info("history recovered",
		"records", res.Records,
		"entities", table.Len(),
		"last_seq", res.LastSeq,
		"end_offset", res.EndOffset,
		"warnings", len(res.Warnings),
		"took", time.Since(started),
	)
	return &Recovered{Table: table, Result: res}, nil
}

func reportAnomaly(ctx context.Context, log *slog.Logger, m *telemetry.Metrics, seq uint64, st reconstruct.EntityState, added reconstruct.Anomaly) {
	for _, a := range reconstruct.AllAnomalies() {
		if added.Has(a) {
			m.Anomaly(ctx, a.String())
		}
	}
	log.Warn("history anomaly",
		"seq", seq,
		"entity", st.ID.String(),
		"phase", st.Phase.String(),
		"anomaly", added.String(),
	)
}
