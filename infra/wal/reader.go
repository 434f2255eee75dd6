package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"dagrecovery/domain/history"
	"dagrecovery/infra/memory"
)

// WarningKind classifies recoverable problems met while reading a log.
type WarningKind uint8

const (
	// WarnTruncated: the log ends in an incomplete or corrupt frame.
	// Reading stopped at the frame start, which is the resume point.
	WarnTruncated WarningKind = iota + 1
	// WarnUnknownEventType: the frame tag has no decoder; the frame was
	// skipped.
	WarnUnknownEventType
	// WarnUndecodable: the checksum matched but the body did not decode;
	// the frame was skipped.
	WarnUndecodable
)

func (k WarningKind) String() string {
	switch k {
	case WarnTruncated:
		return "truncated"
	case WarnUnknownEventType:
		return "unknown_event_type"
	case WarnUndecodable:
		return "undecodable"
	default:
		return "unknown"
	}
}

type Warning struct {
	Kind   WarningKind
	Offset int64
	Seq    uint64
	Tag    history.EventType
	Err    error
}

func (w Warning) String() string {
	if w.Kind == WarnTruncated {
		return fmt.Sprintf("%s at offset %d: %v", w.Kind, w.Offset, w.Err)
	}
	return fmt.Sprintf("%s frame seq=%d tag=%d at offset %d: %v", w.Kind, w.Seq, uint32(w.Tag), w.Offset, w.Err)
}

// Record is one decoded frame.
type Record struct {
	Seq    uint64
	Offset int64
	Size   int64
	Tag    history.EventType
	Event  history.Event
}

// RawFrame is one intact frame as committed, decoded or not. Frame and
// Body alias a buffer that is reused for the next frame.
type RawFrame struct {
	Seq    uint64
	Offset int64
	Tag    history.EventType
	Frame  []byte
	Body   []byte
}

// Reader decodes a log front to back. Frames are decoded lazily, one per
// call to Next; the log is never loaded whole.
//
//	r, err := wal.OpenReader(path, history.DefaultRegistry())
//	...
//	for r.Next() {
//		table.Apply(r.Record().Event)
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	f   *os.File
	br  *bufio.Reader
	reg *history.Registry

	off  int64
	seq  uint64
	buf  *memory.Buffer
	body []byte

	rec       Record
	raw       bool
	frame     RawFrame
	frameBuf  []byte
	err       error
	done      bool
	truncated bool
	truncAt   int64
	warnings  []Warning
}

func OpenReader(path string, reg *history.Registry) (*Reader, error) {
	if reg == nil {
		reg = history.DefaultRegistry()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: open reader: %w", err)
	}
	buf := bodyBufs.Get()
	return &Reader{
		f:    f,
		br:   bufio.NewReaderSize(f, 64<<10),
		reg:  reg,
		buf:  buf,
		body: buf.B,
	}, nil
}

// Frame bodies are only read through, so readers share body buffers.
var bodyBufs = memory.NewBufferPool(4<<10, 1<<20)

type step uint8

const (
	stepRecord step = iota
	stepEOF
	stepIncomplete
	stepCorrupt
	stepError
)

// advance reads until it produces a record or hits the end of readable
// data. Skipped frames are recorded as warnings.
func (r *Reader) advance() (step, error) {
	for {
		fr, err := readFrame(r.br, r.body)
		switch {
		case err == io.EOF:
			return stepEOF, nil
		case errors.Is(err, errIncomplete):
			return stepIncomplete, err
		case errors.Is(err, errCorrupt):
			return stepCorrupt, err
		case err != nil:
			return stepError, fmt.Errorf("wal: read at offset %d: %w", r.off, err)
		}
		r.body = fr.body

		off := r.off
		r.off += fr.size
		r.seq++
		tag := history.EventType(fr.tag)

		if r.raw {
			r.frameBuf = appendFrame(r.frameBuf[:0], fr.tag, fr.body)
			start := len(r.frameBuf) - crcSize - len(fr.body)
			r.frame = RawFrame{Seq: r.seq, Offset: off, Tag: tag, Frame: r.frameBuf, Body: r.frameBuf[start : start+len(fr.body)]}
			return stepRecord, nil
		}
		ev, err := history.Decode(r.reg, tag, fr.body)
		if err != nil {
			kind := WarnUndecodable
			if errors.Is(err, history.ErrUnknownEventType) {
				kind = WarnUnknownEventType
			}
			r.warnings = append(r.warnings, Warning{Kind: kind, Offset: off, Seq: r.seq, Tag: tag, Err: err})
			continue
		}
		r.rec = Record{Seq: r.seq, Offset: off, Size: fr.size, Tag: tag, Event: ev}
		return stepRecord, nil
	}
}

// Next advances to the next decodable record. It returns false at the
// end of the log, at a damaged tail (see Truncation) or on an I/O error
// (see Err).
func (r *Reader) Next() bool {
	if r.done {
		return false
	}
	st, err := r.advance()
	switch st {
	case stepRecord:
		return true
	case stepIncomplete, stepCorrupt:
		r.truncated = true
		r.truncAt = r.off
		r.warnings = append(r.warnings, Warning{Kind: WarnTruncated, Offset: r.off, Seq: r.seq + 1, Err: err})
	case stepError:
		r.err = err
	}
	r.done = true
	r.rec = Record{}
	r.frame = RawFrame{}
	return false
}

func (r *Reader) Record() Record { return r.rec }

// Err returns the I/O error that stopped the reader. A damaged tail is
// not an error.
func (r *Reader) Err() error { return r.err }

// Warnings returns the frames skipped so far and a truncation, if any.
func (r *Reader) Warnings() []Warning {
	return append([]Warning(nil), r.warnings...)
}

// Truncation reports the offset of the first damaged frame. Appending
// may resume there once the tail is cut.
func (r *Reader) Truncation() (int64, bool) { return r.truncAt, r.truncated }

// Offset returns the end of the last frame consumed.
func (r *Reader) Offset() int64 { return r.off }

// Seq returns the sequence number of the last frame consumed.
func (r *Reader) Seq() uint64 { return r.seq }

func (r *Reader) Close() error {
	if r.buf != nil {
		r.buf.B = r.body
		bodyBufs.Put(r.buf)
		r.buf, r.body = nil, nil
	}
	return r.f.Close()
}
