package wal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagrecovery/domain/history"
)

var testTask = history.TaskID{
	Vertex: history.VertexID{DAG: history.DAGID{App: history.AppID{ClusterTimestamp: 1700000000000, ID: 1}, ID: 1}, ID: 0},
	ID:     0,
}

func attemptStarted(t *testing.T, task, attempt int32, start int64) history.Event {
	t.Helper()
	tid := testTask
	tid.ID = task
	ev, err := history.NewTaskAttemptStartedBuilder(history.AttemptID{Task: tid, ID: attempt}, "map", start).
		WithContainerID("container_01").
		Build()
	require.NoError(t, err)
	return ev
}

func attemptFinished(t *testing.T, task, attempt int32, start, finish int64) history.Event {
	t.Helper()
	tid := testTask
	tid.ID = task
	ev, err := history.NewTaskAttemptFinishedBuilder(history.AttemptID{Task: tid, ID: attempt}, "map", finish, history.Succeeded).
		WithStartTime(start).
		Build()
	require.NoError(t, err)
	return ev
}

func openTestWriter(t *testing.T, path string) *Writer {
	t.Helper()
	w, err := Open(Config{Path: path, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func replayAll(t *testing.T, path string, reg *history.Registry) ([]Record, Result) {
	t.Helper()
	var recs []Record
	res, err := Replay(path, reg, func(r Record) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	return recs, res
}

func TestWriter_AppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dag.log")
	w, err := Open(Config{Path: path})
	require.NoError(t, err)

	const n = 50
	var positions []Position
	for i := 0; i < n; i++ {
		pos, err := w.Append(attemptStarted(t, int32(i), 0, int64(100+i)))
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	require.NoError(t, w.Close())

	var off int64
	for i, p := range positions {
		assert.Equal(t, uint64(i+1), p.Seq)
		assert.Equal(t, off, p.Offset)
		off += p.Size
	}

	recs, res := replayAll(t, path, nil)
	require.Len(t, recs, n)
	assert.False(t, res.Truncated)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, uint64(n), res.LastSeq)
	assert.Equal(t, off, res.EndOffset)
	for i, r := range recs {
		assert.Equal(t, positions[i].Seq, r.Seq)
		assert.Equal(t, positions[i].Offset, r.Offset)
		assert.Equal(t, history.TypeTaskAttemptStarted, r.Tag)
		assert.Equal(t, int64(100+i), r.Event.(*history.TaskAttemptStarted).StartTime())
	}
}

func TestWriter_ReopenResumesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dag.log")
	w, err := Open(Config{Path: path, NoSync: true})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := w.Append(attemptStarted(t, int32(i), 0, 10))
		require.NoError(t, err)
	}
	end := w.Offset()
	require.NoError(t, w.Close())

	w = openTestWriter(t, path)
	assert.Equal(t, Recovery{Frames: 3, ValidBytes: end}, w.Recovery())
	pos, err := w.Append(attemptStarted(t, 9, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), pos.Seq)
	assert.Equal(t, end, pos.Offset)
}

func TestWriter_SecondWriterOnPathIsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dag.log")
	w, err := Open(Config{Path: path, NoSync: true})
	require.NoError(t, err)

	_, err = Open(Config{Path: path, NoSync: true})
	require.ErrorIs(t, err, ErrWriterBusy)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	w2 := openTestWriter(t, path)
	assert.Equal(t, uint64(0), w2.LastSeq())
}

func TestWriter_EncodingErrorLeavesWriterUsable(t *testing.T) {
	w := openTestWriter(t, filepath.Join(t.TempDir(), "dag.log"))

	_, err := w.Append(nil)
	require.ErrorIs(t, err, history.ErrEncoding)
	assert.Equal(t, int64(0), w.Offset())

	pos, err := w.Append(attemptStarted(t, 1, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pos.Seq)
}

func TestWriter_SinkFailureIsSticky(t *testing.T) {
	w := openTestWriter(t, filepath.Join(t.TempDir(), "dag.log"))
	_, err := w.Append(attemptStarted(t, 1, 0, 10))
	require.NoError(t, err)

	require.NoError(t, w.file.Close())
	_, err = w.Append(attemptStarted(t, 2, 0, 10))
	require.ErrorIs(t, err, ErrWriterFailed)
	require.Error(t, w.Err())

	_, err = w.Append(attemptStarted(t, 3, 0, 10))
	require.ErrorIs(t, err, ErrWriterFailed)
	assert.Equal(t, uint64(1), w.LastSeq())
}

func TestWriter_ConcurrentAppendsAreSerialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dag.log")
	w, err := Open(Config{Path: path, NoSync: true})
	require.NoError(t, err)

	const workers, per = 8, 40
	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				_, err := w.Append(attemptStarted(t, int32(g*per+i), 0, 10))
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	recs, res := replayAll(t, path, nil)
	require.Len(t, recs, workers*per)
	assert.False(t, res.Truncated)
	seen := make(map[int32]bool)
	for i, r := range recs {
		assert.Equal(t, uint64(i+1), r.Seq)
		seen[r.Event.(*history.TaskAttemptStarted).AttemptID().Task.ID] = true
	}
	assert.Len(t, seen, workers*per)
}

func TestWriter_ObserverSeesCommittedFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dag.log")
	obs := &recordingObserver{}
	w, err := Open(Config{Path: path, NoSync: true, Observer: obs})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := w.Append(attemptStarted(t, int32(i), 0, 10))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, obs.frames, 3)
	for i, pos := range obs.positions {
		assert.Equal(t, data[pos.Offset:pos.Offset+pos.Size], obs.frames[i])
	}

	var scanned [][]byte
	_, err = ScanFrames(path, func(f RawFrame) error {
		scanned = append(scanned, append([]byte(nil), f.Frame...))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, obs.frames, scanned, "scanned frames match the committed ones")
}

type recordingObserver struct {
	positions []Position
	frames    [][]byte
}

func (o *recordingObserver) Committed(pos Position, _ history.Event, frame []byte) {
	o.positions = append(o.positions, pos)
	o.frames = append(o.frames, append([]byte(nil), frame...))
}

// writeLog writes events and returns the file bytes and frame boundaries.
func writeLog(t *testing.T, events ...history.Event) ([]byte, []int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.log")
	w, err := Open(Config{Path: path, NoSync: true})
	require.NoError(t, err)
	bounds := []int64{0}
	for _, ev := range events {
		pos, err := w.Append(ev)
		require.NoError(t, err)
		bounds = append(bounds, pos.Offset+pos.Size)
	}
	require.NoError(t, w.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data, bounds
}

func TestTruncationAtEveryOffsetResumes(t *testing.T) {
	data, bounds := writeLog(t,
		attemptStarted(t, 1, 0, 100),
		attemptFinished(t, 1, 0, 100, 150),
		attemptStarted(t, 2, 0, 120),
	)
	dir := t.TempDir()

	for cut := 0; cut <= len(data); cut++ {
		complete, boundary := 0, int64(0)
		for i, b := range bounds {
			if b <= int64(cut) {
				complete, boundary = i, b
			}
		}
		atBoundary := boundary == int64(cut)

		path := filepath.Join(dir, "cut.log")
		require.NoError(t, os.WriteFile(path, data[:cut], 0o644))

		recs, res := replayAll(t, path, nil)
		require.Len(t, recs, complete, "cut %d", cut)
		require.Equal(t, !atBoundary, res.Truncated, "cut %d", cut)
		if !atBoundary {
			require.Equal(t, boundary, res.TruncatedAt, "cut %d", cut)
			require.Equal(t, WarnTruncated, res.Warnings[len(res.Warnings)-1].Kind)
		}

		w, err := Open(Config{Path: path, NoSync: true})
		require.NoError(t, err, "cut %d", cut)
		require.Equal(t, !atBoundary, w.Recovery().Truncated, "cut %d", cut)
		pos, err := w.Append(attemptStarted(t, 9, 0, 200))
		require.NoError(t, err)
		require.Equal(t, boundary, pos.Offset, "cut %d", cut)
		require.Equal(t, uint64(complete+1), pos.Seq, "cut %d", cut)
		require.NoError(t, w.Close())

		recs, res = replayAll(t, path, nil)
		require.Len(t, recs, complete+1, "cut %d", cut)
		require.False(t, res.Truncated, "cut %d", cut)
	}
}

func TestReader_CRCMismatchStopsAtFrame(t *testing.T) {
	data, bounds := writeLog(t,
		attemptStarted(t, 1, 0, 100),
		attemptStarted(t, 2, 0, 100),
		attemptStarted(t, 3, 0, 100),
	)
	// Flip a body byte of the second frame; its header still parses.
	data[bounds[1]+4] ^= 0xff
	path := filepath.Join(t.TempDir(), "dag.log")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r, err := OpenReader(path, nil)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Next())
	require.False(t, r.Next())
	require.NoError(t, r.Err())
	off, ok := r.Truncation()
	require.True(t, ok)
	assert.Equal(t, bounds[1], off)
	warns := r.Warnings()
	require.Len(t, warns, 1)
	assert.Equal(t, WarnTruncated, warns[0].Kind)
	assert.ErrorIs(t, warns[0].Err, errCorrupt)
}

func TestWriter_OpenRefusesDamageBeforeIntactFrames(t *testing.T) {
	data, bounds := writeLog(t,
		attemptStarted(t, 1, 0, 100),
		attemptStarted(t, 2, 0, 100),
		attemptStarted(t, 3, 0, 100),
	)
	data[bounds[1]+4] ^= 0xff
	path := filepath.Join(t.TempDir(), "dag.log")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err := Open(Config{Path: path, NoSync: true})
	require.ErrorIs(t, err, ErrCorruptLog)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, after, "committed frames must not be cut")

	// The path is released after a refused open.
	w, err := Open(Config{Path: path, NoSync: true, Repair: true})
	require.NoError(t, err)
	defer w.Close()
	rec := w.Recovery()
	assert.True(t, rec.Truncated)
	assert.Equal(t, bounds[1], rec.DroppedFrom)
	assert.Equal(t, int64(len(data))-bounds[1], rec.Dropped)
	assert.Equal(t, uint64(1), w.LastSeq())
}

func TestWriter_OpenCutsDamagedLastFrame(t *testing.T) {
	data, bounds := writeLog(t,
		attemptStarted(t, 1, 0, 100),
		attemptStarted(t, 2, 0, 100),
	)
	data[bounds[1]+4] ^= 0xff
	path := filepath.Join(t.TempDir(), "dag.log")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w := openTestWriter(t, path)
	rec := w.Recovery()
	require.True(t, rec.Truncated)
	assert.Equal(t, bounds[1], rec.DroppedFrom)
	assert.ErrorIs(t, rec.Cause, errCorrupt)
	assert.Equal(t, uint64(1), w.LastSeq())
}

func TestReader_UnknownTagIsSkipped(t *testing.T) {
	data, _ := writeLog(t, attemptStarted(t, 1, 0, 100))
	data = appendFrame(data, 77, []byte("from a newer build"))
	tail, _ := writeLog(t, attemptStarted(t, 2, 0, 100))
	data = append(data, tail...)

	path := filepath.Join(t.TempDir(), "dag.log")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	recs, res := replayAll(t, path, nil)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, uint64(3), recs[1].Seq)
	assert.False(t, res.Truncated)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnUnknownEventType, res.Warnings[0].Kind)
	assert.Equal(t, history.EventType(77), res.Warnings[0].Tag)
	assert.Equal(t, uint64(2), res.Warnings[0].Seq)
}

func TestReader_OlderRegistrySkipsNewVariants(t *testing.T) {
	data, _ := writeLog(t,
		attemptStarted(t, 1, 0, 100),
		attemptFinished(t, 1, 0, 100, 150),
	)
	path := filepath.Join(t.TempDir(), "dag.log")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	older := history.NewRegistry()
	require.NoError(t, older.Register(history.TypeTaskAttemptStarted, history.BuiltinDecoder(history.TypeTaskAttemptStarted)))
	older.Freeze()

	recs, res := replayAll(t, path, older)
	require.Len(t, recs, 1)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnUnknownEventType, res.Warnings[0].Kind)
	assert.Equal(t, uint64(2), res.LastSeq)
}

func TestScanFrames_IncludesUnknownTags(t *testing.T) {
	data, bounds := writeLog(t, attemptStarted(t, 1, 0, 100))
	data = appendFrame(data, 77, []byte("from a newer build"))
	path := filepath.Join(t.TempDir(), "dag.log")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	var frames []RawFrame
	res, err := ScanFrames(path, func(f RawFrame) error {
		f.Frame = append([]byte(nil), f.Frame...)
		f.Body = append([]byte(nil), f.Body...)
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.Len(t, frames, 2)
	assert.Equal(t, data[:bounds[1]], frames[0].Frame)
	assert.Equal(t, history.TypeTaskAttemptStarted, frames[0].Tag)
	assert.Equal(t, uint64(2), frames[1].Seq)
	assert.Equal(t, bounds[1], frames[1].Offset)
	assert.Equal(t, history.EventType(77), frames[1].Tag)
	assert.Equal(t, []byte("from a newer build"), frames[1].Body)
	assert.Equal(t, data[bounds[1]:], frames[1].Frame)
}

func TestReader_UndecodableBodyIsSkipped(t *testing.T) {
	data := appendFrame(nil, uint64(history.TypeTaskAttemptFinished), []byte{0xff})
	good, _ := writeLog(t, attemptStarted(t, 1, 0, 100))
	data = append(data, good...)
	path := filepath.Join(t.TempDir(), "dag.log")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	recs, res := replayAll(t, path, nil)
	require.Len(t, recs, 1)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnUndecodable, res.Warnings[0].Kind)
	assert.ErrorIs(t, res.Warnings[0].Err, history.ErrCorruptData)
}

func TestReader_OversizedLengthIsCorrupt(t *testing.T) {
	var data []byte
	data = append(data, 1)                            // tag
	data = append(data, 0x80, 0x80, 0x80, 0x80, 0x01) // length 1<<28
	path := filepath.Join(t.TempDir(), "dag.log")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, res := replayAll(t, path, nil)
	assert.True(t, res.Truncated)
	assert.Equal(t, int64(0), res.TruncatedAt)
}

func TestReplay_CallbackErrorStops(t *testing.T) {
	data, _ := writeLog(t, attemptStarted(t, 1, 0, 100), attemptStarted(t, 2, 0, 100))
	path := filepath.Join(t.TempDir(), "dag.log")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	boom := errors.New("boom")
	res, err := Replay(path, nil, func(Record) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Records)
}

func TestTail_FollowsAppendsAndPartialFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dag.log")
	w := openTestWriter(t, path)
	_, err := w.Append(attemptStarted(t, 1, 0, 100))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Record, 16)
	done := make(chan error, 1)
	go func() {
		done <- Tail(ctx, path, nil, TailConfig{PollInterval: 5 * time.Millisecond}, func(r Record) error {
			got <- r
			return nil
		})
	}()

	recv := func() Record {
		select {
		case r := <-got:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("tail did not deliver a record")
			return Record{}
		}
	}
	assert.Equal(t, uint64(1), recv().Seq)

	_, err = w.Append(attemptStarted(t, 2, 0, 100))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), recv().Seq)

	// A frame written in two pieces is delivered once it is complete.
	frame := appendFrame(nil, uint64(history.TypeTaskAttemptStarted), mustBody(t, attemptStarted(t, 3, 0, 100)))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write(frame[:3])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = f.Write(frame[3:])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := recv()
	assert.Equal(t, uint64(3), r.Seq)
	assert.Equal(t, int32(3), r.Event.(*history.TaskAttemptStarted).AttemptID().Task.ID)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not stop after cancel")
	}
}

func TestTail_FromOffset(t *testing.T) {
	data, bounds := writeLog(t, attemptStarted(t, 1, 0, 100), attemptStarted(t, 2, 0, 100))
	path := filepath.Join(t.TempDir(), "dag.log")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var seqs []uint64
	err := Tail(ctx, path, nil, TailConfig{PollInterval: time.Millisecond, FromOffset: bounds[1]}, func(r Record) error {
		seqs = append(seqs, r.Seq)
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []uint64{2}, seqs)

	err = Tail(context.Background(), path, nil, TailConfig{FromOffset: bounds[1] + 1}, func(Record) error { return nil })
	require.ErrorIs(t, err, ErrBadOffset)
}

func mustBody(t *testing.T, ev history.Event) []byte {
	t.Helper()
	_, body, err := history.Encode(ev)
	require.NoError(t, err)
	return body
}
