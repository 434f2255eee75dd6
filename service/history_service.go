package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dagrecovery/domain/history"
	"dagrecovery/domain/reconstruct"
	"dagrecovery/infra/telemetry"
	"dagrecovery/infra/wal"
)

var (
	// ErrHalted is returned by Emit once the log failed. The engine must
	// stop scheduling: nothing it does from now on can be recovered.
	ErrHalted = errors.New("service: history halted")
	// ErrNotRecovered is returned by New without a recovered table.
	ErrNotRecovered = errors.New("service: history not recovered")
)

// logWriter is the part of *wal.Writer the service uses.
type logWriter interface {
	Append(ev history.Event) (wal.Position, error)
	LastSeq() uint64
	Path() string
	Close() error
}

/*
HistoryService is the ONLY write entry point into the history log.

Emit builds the event, makes it durable and folds it into the live
table. Startup recovery has to finish first: New takes its result.
*/
type HistoryService struct {
	// mu makes append and fold one step, so the live table folds events
	// in log order.
	mu       sync.Mutex
	w        logWriter
	table    *reconstruct.Table
	recovery wal.Result
	halted   atomic.Bool

	reg          *history.Registry
	log          *slog.Logger
	metrics      *telemetry.Metrics
	tailInterval time.Duration
}

func New(w *wal.Writer, rec *Recovered, opts Options) (*HistoryService, error) {
	if w == nil {
		return nil, errors.New("service: nil writer")
	}
	return newHistoryService(w, rec, opts)
}

func newHistoryService(w logWriter, rec *Recovered, opts Options) (*HistoryService, error) {
	if rec == nil || rec.Table == nil {
		return nil, ErrNotRecovered
	}
	opts = opts.withDefaults()
	return &HistoryService{
		w:            w,
		table:        rec.Table,
		recovery:     rec.Result,
		reg:          opts.Registry,
		log:          opts.Logger.With("component", "history", "path", w.Path()),
		metrics:      opts.Metrics,
		tailInterval: opts.TailInterval,
	}, nil
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Emit records one lifecycle transition. It returns once the event is
// durable. Invalid attributes are rejected before anything is written.
func (s *HistoryService) Emit(ctx context.Context, kind TransitionKind, attrs Attributes) (wal.Position, error) {
	ev, err := BuildEvent(kind, attrs)
	if err != nil {
		s.metrics.AppendFailed(ctx, "encoding")
		return wal.Position{}, err
	}
	return s.EmitEvent(ctx, ev)
}

// EmitEvent appends an already built event.
func (s *HistoryService) EmitEvent(ctx context.Context, ev history.Event) (wal.Position, error) {
	if err := ctx.Err(); err != nil {
		return wal.Position{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted.Load() {
		return wal.Position{}, ErrHalted
	}

	start := time.Now()
	pos, err := s.w.Append(ev)
	switch {
	case err == nil:
	case errors.Is(err, wal.ErrWriterFailed):
		s.halted.Store(true)
		s.metrics.AppendFailed(ctx, "sink")
		s.log.Error("history log failed, halting", "err", err)
		return wal.Position{}, fmt.Errorf("%w: %w", ErrHalted, err)
	case errors.Is(err, history.ErrEncoding):
		s.metrics.AppendFailed(ctx, "encoding")
		return wal.Position{}, err
	default:
		s.metrics.AppendFailed(ctx, "closed")
		return wal.Position{}, err
	}
	s.metrics.EventAppended(ctx, ev.Type().String(), time.Since(start))

	if ev.IsRecoveryEvent() {
		st, added := s.table.Apply(ev)
		if added != 0 {
			reportAnomaly(ctx, s.log, s.metrics, pos.Seq, st, added)
		}
	}
	return pos, nil
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// Table is the live reconstruction: recovered state plus every event
// emitted since.
func (s *HistoryService) Table() *reconstruct.Table { return s.table }

// Recovery reports what the startup replay found.
func (s *HistoryService) Recovery() wal.Result { return s.recovery }

func (s *HistoryService) Halted() bool { return s.halted.Load() }

// LastSeq is the sequence number of the last durable event.
func (s *HistoryService) LastSeq() uint64 { return s.w.LastSeq() }

// Tail follows the log from its first frame and calls fn for every
// record, including ones appended later, until ctx is cancelled.
func (s *HistoryService) Tail(ctx context.Context, fn func(wal.Record) error) error {
	return wal.Tail(ctx, s.w.Path(), s.reg, wal.TailConfig{
		PollInterval: s.tailInterval,
		Logger:       s.log,
	}, fn)
}

// Close closes the log. Emit fails afterwards.
func (s *HistoryService) Close() error {
	return s.w.Close()
}
