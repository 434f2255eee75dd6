// Package broadcaster drains the export outbox to the audit stream.
package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dagrecovery/infra/outbox"
	"dagrecovery/infra/telemetry"
)

// Publisher delivers one exported frame. Publish must not return before
// the broker acknowledged the message.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

type Config struct {
	Interval time.Duration
	// PruneEvery deletes acknowledged entries every n drain rounds; 0
	// keeps them.
	PruneEvery int
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
}

// Broadcaster publishes pending outbox entries in sequence order. A failed
// publish ends the round so later frames never overtake an earlier one.
type Broadcaster struct {
	outbox  *outbox.Outbox
	pub     Publisher
	cfg     Config
	log     *slog.Logger
	metrics *telemetry.Metrics
	rounds  int
}

func New(ob *outbox.Outbox, pub Publisher, cfg Config) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.Nop()
	}
	return &Broadcaster{
		outbox:  ob,
		pub:     pub,
		cfg:     cfg,
		log:     cfg.Logger.With("component", "broadcaster"),
		metrics: cfg.Metrics,
	}
}

// Run drains the outbox every interval until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info("broadcaster started", "interval", b.cfg.Interval)
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("broadcaster stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := b.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.log.Warn("drain round ended early", "err", err)
			}
		}
	}
}

var errStopRound = errors.New("broadcaster: stop round")

// DrainOnce publishes pending entries until the outbox is empty or a
// publish fails. It returns the number of entries acknowledged.
func (b *Broadcaster) DrainOnce(ctx context.Context) (int, error) {
	sent := 0
	var pubErr error
	err := b.outbox.ScanPending(func(e outbox.Entry) error {
		if err := ctx.Err(); err != nil {
			pubErr = err
			return errStopRound
		}
		if err := b.outbox.MarkSent(e.Seq); err != nil {
			return err
		}
		if err := b.pub.Publish(ctx, e.Key, e.Payload); err != nil {
			b.metrics.ExportFailed(ctx)
			st, merr := b.outbox.MarkFailed(e.Seq)
			if merr != nil {
				return merr
			}
			b.log.Warn("publish failed", "seq", e.Seq, "retries", e.Retries+1, "state", st.String(), "err", err)
			pubErr = fmt.Errorf("publish seq %d: %w", e.Seq, err)
			if st == outbox.StateFailed {
				// Parked entries no longer block the ones behind them.
				return nil
			}
			return errStopRound
		}
		if err := b.outbox.MarkAcked(e.Seq); err != nil {
			return err
		}
		sent++
		return nil
	})
	if sent > 0 {
		b.metrics.Exported(ctx, sent)
	}
	if err != nil && !errors.Is(err, errStopRound) {
		return sent, err
	}

	b.rounds++
	if b.cfg.PruneEvery > 0 && b.rounds%b.cfg.PruneEvery == 0 {
		if n, err := b.outbox.PruneAcked(); err != nil {
			b.log.Warn("prune failed", "err", err)
		} else if n > 0 {
			b.log.Debug("pruned acknowledged entries", "count", n)
		}
	}
	return sent, pubErr
}

func (b *Broadcaster) Close() error {
	return b.pub.Close()
}
