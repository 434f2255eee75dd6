package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"dagrecovery/domain/history"
	"dagrecovery/infra/memory"
	"dagrecovery/infra/sequence"
)

var (
	// ErrWriterFailed is returned by every append after the sink failed
	// once. The log may hold a torn frame at its end; the next Open
	// truncates it.
	ErrWriterFailed = errors.New("wal: writer failed")
	// ErrWriterBusy is returned when the log is already open for writing
	// in this process.
	ErrWriterBusy = errors.New("wal: log already open for writing")
	ErrClosed     = errors.New("wal: writer closed")
)

// Config configures a Writer.
type Config struct {
	Path string
	// NoSync skips fsync after each append. Appends are still flushed to
	// the OS; only use this for tests and throwaway runs.
	NoSync bool
	Logger *slog.Logger
	// Observer, when set, is called after every durable append.
	Observer Observer
	// Repair lets Open truncate at a damaged frame even when intact frames
	// follow it. Without it only a damaged last frame is cut.
	Repair bool
}

// Observer sees every committed frame in log order. It runs under the
// writer lock, so it must not call back into the Writer. frame is only
// valid for the duration of the call.
type Observer interface {
	Committed(pos Position, ev history.Event, frame []byte)
}

// Position locates a committed frame.
type Position struct {
	Seq    uint64
	Offset int64
	Size   int64
}

// Recovery describes what Open found in an existing log.
type Recovery struct {
	Frames      uint64
	ValidBytes  int64
	Truncated   bool
	DroppedFrom int64
	Dropped     int64
	Cause       error
}

// Writer appends events to a single log file. Appends are serialized and
// durable before they return.
type Writer struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	bw     *bufio.Writer
	offset int64
	seq    *sequence.Sequencer
	failed error
	closed bool

	recovery Recovery
	noSync   bool
	repair   bool
	observer Observer
	log      *slog.Logger
	bufs     *memory.Pool[encodeBuf]
}

type encodeBuf struct {
	body  []byte
	frame []byte
}

// open paths, keyed by absolute path.
var writers sync.Map

// Open opens or creates the log at cfg.Path, drops an incomplete or
// corrupt trailing frame and positions the writer at the end.
func Open(cfg Config) (*Writer, error) {
	if cfg.Path == "" {
		return nil, errors.New("wal: empty path")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("wal: resolve %s: %w", cfg.Path, err)
	}
	if _, loaded := writers.LoadOrStore(abs, struct{}{}); loaded {
		return nil, fmt.Errorf("%w: %s", ErrWriterBusy, abs)
	}
	w, err := open(abs, cfg)
	if err != nil {
		writers.Delete(abs)
		return nil, err
	}
	return w, nil
}

func open(path string, cfg Config) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	w := &Writer{
		path:     path,
		file:     f,
		seq:      sequence.New(0),
		noSync:   cfg.NoSync,
		repair:   cfg.Repair,
		observer: cfg.Observer,
		log:      cfg.Logger.With("component", "wal", "path", path),
		bufs: memory.NewPool(
			func() *encodeBuf { return &encodeBuf{body: make([]byte, 0, 512), frame: make([]byte, 0, 576)} },
			func(b *encodeBuf) {
				if cap(b.body) > 1<<20 {
					*b = encodeBuf{}
				}
			},
		),
	}
	if err := w.recover(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: seek: %w", err)
	}
	w.bw = bufio.NewWriterSize(f, 64<<10)
	return w, nil
}

// recover scans the existing frames without decoding them. Sequence
// numbers are positional, so the frame count is the last issued seq.
// A damaged frame followed by an intact one is not a torn tail: the log
// is left alone and ErrCorruptLog returned unless repair is set.
func (w *Writer) recover() error {
	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("wal: stat: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	br := bufio.NewReaderSize(io.NewSectionReader(w.file, 0, size), 64<<10)
	var (
		valid  int64
		frames uint64
		body   []byte
	)
	for {
		fr, err := readFrame(br, body)
		if err == io.EOF {
			break
		}
		if errors.Is(err, errIncomplete) || errors.Is(err, errCorrupt) {
			if errors.Is(err, errChecksum) && !w.repair {
				if _, nerr := readFrame(br, nil); nerr == nil {
					return fmt.Errorf("%w: frame %d at offset %d fails its checksum and %d bytes follow it",
						ErrCorruptLog, frames+1, valid, size-valid-fr.size)
				}
			}
			w.recovery.Truncated = true
			w.recovery.Cause = err
			break
		}
		if err != nil {
			return fmt.Errorf("wal: scan at offset %d: %w", valid, err)
		}
		body = fr.body
		valid += fr.size
		frames++
	}

	w.recovery.Frames = frames
	w.recovery.ValidBytes = valid
	if w.recovery.Truncated {
		w.recovery.DroppedFrom = valid
		w.recovery.Dropped = size - valid
		if err := w.file.Truncate(valid); err != nil {
			return fmt.Errorf("wal: truncate to %d: %w", valid, err)
		}
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: sync after truncate: %w", err)
		}
		w.log.Warn("truncated damaged log tail",
			"offset", valid, "dropped_bytes", w.recovery.Dropped, "cause", w.recovery.Cause)
	}
	w.offset = valid
	w.seq.Resume(frames)
	w.log.Info("log opened", "frames", frames, "offset", valid)
	return nil
}

// Append encodes ev and writes it as one frame. It returns after the
// frame is flushed and, unless NoSync is set, fsynced. Encoding errors
// leave the writer usable; write errors fail it permanently.
func (w *Writer) Append(ev history.Event) (Position, error) {
	buf := w.bufs.Get()
	defer w.bufs.Put(buf)

	tag, body, err := history.AppendEncode(buf.body, ev)
	if err != nil {
		return Position{}, err
	}
	buf.body = body
	if len(body) > MaxBodySize {
		return Position{}, &history.Error{Kind: history.ErrEncoding, Type: tag,
			Msg: fmt.Sprintf("body of %d bytes exceeds %d", len(body), MaxBodySize)}
	}
	buf.frame = appendFrame(buf.frame[:0], uint64(tag), body)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Position{}, ErrClosed
	}
	if w.failed != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrWriterFailed, w.failed)
	}
	if err := w.write(buf.frame); err != nil {
		w.failed = err
		w.log.Error("append failed, writer is now unusable", "offset", w.offset, "tag", tag, "err", err)
		return Position{}, fmt.Errorf("%w: %v", ErrWriterFailed, err)
	}

	pos := Position{Seq: w.seq.Next(), Offset: w.offset, Size: int64(len(buf.frame))}
	w.offset += pos.Size
	if w.observer != nil {
		w.observer.Committed(pos, ev, buf.frame)
	}
	return pos, nil
}

func (w *Writer) write(frame []byte) error {
	if _, err := w.bw.Write(frame); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if w.noSync {
		return nil
	}
	return w.file.Sync()
}

// Err returns the sink error that failed the writer, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

// Recovery reports what Open found in the existing log.
func (w *Writer) Recovery() Recovery { return w.recovery }

// Offset returns the end of the last committed frame.
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// LastSeq returns the sequence number of the last committed frame.
func (w *Writer) LastSeq() uint64 { return w.seq.Current() }

func (w *Writer) Path() string { return w.path }

// Close flushes and closes the log and releases the path. It is safe to
// call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	defer writers.Delete(w.path)

	var errs []error
	if w.failed == nil {
		if err := w.bw.Flush(); err != nil {
			errs = append(errs, err)
		}
		if !w.noSync {
			if err := w.file.Sync(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}
	return nil
}
