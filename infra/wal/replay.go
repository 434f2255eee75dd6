package wal

import (
	"dagrecovery/domain/history"
)

// Result summarizes a replay.
type Result struct {
	Records     int
	LastSeq     uint64
	EndOffset   int64
	Warnings    []Warning
	Truncated   bool
	TruncatedAt int64
}

// Replay feeds every decodable record of the log to fn in order. A
// damaged tail ends the replay without an error; fn errors stop it.
func Replay(path string, reg *history.Registry, fn func(Record) error) (Result, error) {
	r, err := OpenReader(path, reg)
	if err != nil {
		return Result{}, err
	}
	defer r.Close()

	var res Result
	for r.Next() {
		res.Records++
		if err := fn(r.Record()); err != nil {
			res.fill(r)
			return res, err
		}
	}
	res.fill(r)
	return res, r.Err()
}

func (res *Result) fill(r *Reader) {
	res.LastSeq = r.Seq()
	res.EndOffset = r.Offset()
	res.Warnings = r.Warnings()
	res.TruncatedAt, res.Truncated = r.Truncation()
}

// ScanFrames feeds every intact frame to fn in order without decoding
// it, so frames of unknown type are included. Frame is rebuilt from the
// tag and body, which reproduces the bytes of any frame Append wrote.
func ScanFrames(path string, fn func(RawFrame) error) (Result, error) {
	r, err := OpenReader(path, nil)
	if err != nil {
		return Result{}, err
	}
	defer r.Close()
	r.raw = true

	var res Result
	for r.Next() {
		res.Records++
		if err := fn(r.frame); err != nil {
			res.fill(r)
			return res, err
		}
	}
	res.fill(r)
	return res, r.Err()
}
