// Package wal is the append-only history log of one DAG run.
//
// A Writer appends CRC-checked, length-delimited frames and fsyncs each
// one before returning. On open it drops a torn or corrupt trailing frame
// left by a crash. A Reader decodes frames lazily, skipping frames it
// cannot decode and stopping at a damaged tail without failing. Tail
// follows a log that is still being written.
//
// There is one file per run and no secondary index; sequence numbers are
// the 1-based position of a frame in the file.
package wal
