package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"
)

// State is the export state of one committed frame.
type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrNotFound      = errors.New("outbox: entry not found")
	ErrCorruptRecord = errors.New("outbox: corrupt record")
)

// Entry is a frame waiting to be exported. Key is the partition key
// (the entity id); Payload is the raw frame as written to the log.
type Entry struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Key         []byte
	Payload     []byte
}

const (
	keyPrefix   = "event/"
	keyUpper    = "event/~"
	lastSeqKey  = "meta/last_seq"
	headerSize  = 1 + 4 + 8 + 4
	defaultMax  = 10
	seqKeyWidth = 20
)

type Options struct {
	// MaxRetries is the number of failed sends after which an entry is
	// parked in StateFailed.
	MaxRetries uint32
	Logger     *slog.Logger
	// Now is the clock used for LastAttempt.
	Now func() time.Time
}

// Outbox is a durable queue of committed frames keyed by sequence number.
type Outbox struct {
	db         *pebble.DB
	maxRetries uint32
	log        *slog.Logger
	now        func() time.Time
}

func Open(dir string, opts Options) (*Outbox, error) {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMax
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", dir, err)
	}
	return &Outbox{
		db:         db,
		maxRetries: opts.MaxRetries,
		log:        opts.Logger.With("component", "outbox"),
		now:        opts.Now,
	}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Put records a committed frame as NEW. An existing entry for seq is
// left untouched, so backfilling after a restart never resets progress.
func (o *Outbox) Put(seq uint64, key, payload []byte) error {
	k := keyFor(seq)
	_, closer, err := o.db.Get(k)
	if err == nil {
		return closer.Close()
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("outbox: get %d: %w", seq, err)
	}
	last, err := o.LastSeq()
	if err != nil {
		return err
	}
	batch := o.db.NewBatch()
	defer batch.Close()
	e := Entry{Seq: seq, State: StateNew, Key: key, Payload: payload}
	if err := batch.Set(k, encodeEntry(e), nil); err != nil {
		return fmt.Errorf("outbox: put %d: %w", seq, err)
	}
	if seq > last {
		if err := batch.Set([]byte(lastSeqKey), binary.BigEndian.AppendUint64(nil, seq), nil); err != nil {
			return fmt.Errorf("outbox: put %d: %w", seq, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("outbox: put %d: %w", seq, err)
	}
	return nil
}

func (o *Outbox) Get(seq uint64) (Entry, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, fmt.Errorf("%w: %d", ErrNotFound, seq)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("outbox: get %d: %w", seq, err)
	}
	defer closer.Close()
	return decodeEntry(seq, val)
}

func (o *Outbox) MarkSent(seq uint64) error {
	return o.update(seq, func(e *Entry) {
		e.State = StateSent
		e.LastAttempt = o.now().UnixNano()
	})
}

func (o *Outbox) MarkAcked(seq uint64) error {
	return o.update(seq, func(e *Entry) { e.State = StateAcked })
}

// MarkFailed counts a failed send. The entry goes back to NEW for another
// try, or to FAILED once MaxRetries is reached. It returns the new state.
func (o *Outbox) MarkFailed(seq uint64) (State, error) {
	var st State
	err := o.update(seq, func(e *Entry) {
		e.Retries++
		e.LastAttempt = o.now().UnixNano()
		e.State = StateNew
		if e.Retries >= o.maxRetries {
			e.State = StateFailed
		}
		st = e.State
	})
	if err == nil && st == StateFailed {
		o.log.Warn("export parked after repeated failures", "seq", seq, "retries", o.maxRetries)
	}
	return st, err
}

// Requeue moves a FAILED entry back to NEW with a fresh retry budget.
func (o *Outbox) Requeue(seq uint64) error {
	return o.update(seq, func(e *Entry) {
		if e.State == StateFailed {
			e.State = StateNew
			e.Retries = 0
		}
	})
}

func (o *Outbox) update(seq uint64, fn func(*Entry)) error {
	e, err := o.Get(seq)
	if err != nil {
		return err
	}
	fn(&e)
	if err := o.db.Set(keyFor(seq), encodeEntry(e), pebble.Sync); err != nil {
		return fmt.Errorf("outbox: update %d: %w", seq, err)
	}
	return nil
}

// ScanPending visits entries still to be exported in sequence order. SENT
// entries are included: a send that was never acknowledged is retried.
func (o *Outbox) ScanPending(fn func(Entry) error) error {
	return o.scan(func(e Entry) (bool, error) {
		if e.State != StateNew && e.State != StateSent {
			return true, nil
		}
		return true, fn(e)
	})
}

// ScanByState visits every entry in the given state in sequence order.
func (o *Outbox) ScanByState(state State, fn func(Entry) error) error {
	return o.scan(func(e Entry) (bool, error) {
		if e.State != state {
			return true, nil
		}
		return true, fn(e)
	})
}

// PruneAcked deletes acknowledged entries and returns how many it removed.
func (o *Outbox) PruneAcked() (int, error) {
	batch := o.db.NewBatch()
	defer batch.Close()
	n := 0
	err := o.scan(func(e Entry) (bool, error) {
		if e.State == StateAcked {
			n++
			return true, batch.Delete(keyFor(e.Seq), nil)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("outbox: prune: %w", err)
	}
	return n, nil
}

// LastSeq returns the highest sequence number ever put, 0 if none.
// Pruning does not lower it.
func (o *Outbox) LastSeq() (uint64, error) {
	val, closer, err := o.db.Get([]byte(lastSeqKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("outbox: last seq: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("%w: last seq of %d bytes", ErrCorruptRecord, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// Counts returns the number of entries per state.
func (o *Outbox) Counts() (map[State]int, error) {
	out := make(map[State]int)
	err := o.scan(func(e Entry) (bool, error) {
		out[e.State]++
		return true, nil
	})
	return out, err
}

func (o *Outbox) scan(fn func(Entry) (bool, error)) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpper),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		e, err := decodeEntry(seq, iter.Value())
		if err != nil {
			return err
		}
		more, err := fn(e)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

// Record layout: [state:1][retries:4][lastAttempt:8][keyLen:4][key][payload]
func encodeEntry(e Entry) []byte {
	buf := make([]byte, headerSize, headerSize+len(e.Key)+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(e.Key)))
	buf = append(buf, e.Key...)
	return append(buf, e.Payload...)
}

func decodeEntry(seq uint64, b []byte) (Entry, error) {
	if len(b) < headerSize {
		return Entry{}, fmt.Errorf("%w: seq %d: %d bytes", ErrCorruptRecord, seq, len(b))
	}
	keyLen := int(binary.BigEndian.Uint32(b[13:17]))
	if keyLen > len(b)-headerSize {
		return Entry{}, fmt.Errorf("%w: seq %d: key length %d", ErrCorruptRecord, seq, keyLen)
	}
	rest := b[headerSize:]
	return Entry{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Key:         append([]byte(nil), rest[:keyLen]...),
		Payload:     append([]byte(nil), rest[keyLen:]...),
	}, nil
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%0*d", keyPrefix, seqKeyWidth, seq))
}

func parseKey(k []byte) (uint64, error) {
	if len(k) != len(keyPrefix)+seqKeyWidth || string(k[:len(keyPrefix)]) != keyPrefix {
		return 0, fmt.Errorf("%w: key %q", ErrCorruptRecord, k)
	}
	seq, err := strconv.ParseUint(string(k[len(keyPrefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: key %q", ErrCorruptRecord, k)
	}
	return seq, nil
}
