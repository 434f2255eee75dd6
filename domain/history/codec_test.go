package history_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"dagrecovery/domain/history"
)

var (
	testApp    = history.AppID{ClusterTimestamp: 1700000000000, ID: 7}
	testDAG    = history.DAGID{App: testApp, ID: 1}
	testVertex = history.VertexID{DAG: testDAG, ID: 2}
	testTask   = history.TaskID{Vertex: testVertex, ID: 42}
	testAtt    = history.AttemptID{Task: testTask, ID: 0}
)

func fullAttemptFinished(t *testing.T) *history.TaskAttemptFinished {
	t.Helper()
	ev, err := history.NewTaskAttemptFinishedBuilder(testAtt, "map", 150, history.Failed).
		WithCreationTime(90).
		WithAllocationTime(95).
		WithStartTime(100).
		WithCreationCausalAttempt(history.AttemptID{Task: testTask, ID: 3}).
		WithDiagnostics("container exited with code 137").
		WithTerminationCause(history.CauseContainerExited).
		WithCounters(history.Counters{Groups: []history.CounterGroup{
			{Name: "io", Counters: []history.Counter{{Name: "bytes_read", Value: 4096}, {Name: "bytes_written", Value: -1}}},
		}}).
		WithContainerID("container_1_0001_01_000002").
		WithNodeID("node-3:8041").
		WithInProgressLogsURL("http://node-3/logs/live").
		WithCompletedLogsURL("http://history/logs/done").
		WithNodeHTTPAddress("node-3:8042").
		WithDataEvents(history.DataEventDependency{Timestamp: 120, Attempt: history.AttemptID{Task: history.TaskID{Vertex: testVertex, ID: 1}}}).
		WithGeneratedEvents(history.GeneratedEventRef{Kind: "DataMovement", SourceVertex: "map", Time: 149, Payload: []byte{1, 2, 3}}).
		Build()
	require.NoError(t, err)
	return ev
}

func TestRoundTripAllVariants(t *testing.T) {
	started, err := history.NewTaskStartedBuilder(testTask, "map", 80).WithScheduledTime(70).Build()
	require.NoError(t, err)
	finished, err := history.NewTaskFinishedBuilder(testTask, "map", 200, history.Succeeded, 1).
		WithStartTime(80).
		WithSuccessfulAttempt(history.AttemptID{Task: testTask, ID: 1}).
		WithDiagnostics("").
		Build()
	require.NoError(t, err)
	attStarted, err := history.NewTaskAttemptStartedBuilder(testAtt, "map", 100).
		WithCreationTime(90).
		WithContainerID("c1").
		WithCompletedLogsURL("http://history/logs/done").
		Build()
	require.NoError(t, err)

	events := []history.Event{started, finished, attStarted, fullAttemptFinished(t)}
	reg := history.DefaultRegistry()
	for _, ev := range events {
		t.Run(ev.Type().String(), func(t *testing.T) {
			tag, body, err := history.Encode(ev)
			require.NoError(t, err)
			require.Equal(t, ev.Type(), tag)

			got, err := history.Decode(reg, tag, body)
			require.NoError(t, err)
			assert.Equal(t, ev, got)
			assert.Equal(t, ev.String(), got.String())
		})
	}
}

func TestRoundTripMinimalKeepsOptionalsAbsent(t *testing.T) {
	ev, err := history.NewTaskAttemptFinishedBuilder(testAtt, "reduce", 10, history.Killed).Build()
	require.NoError(t, err)

	tag, body, err := history.Encode(ev)
	require.NoError(t, err)
	got, err := history.Decode(history.DefaultRegistry(), tag, body)
	require.NoError(t, err)

	af := got.(*history.TaskAttemptFinished)
	assert.False(t, af.StartTime().Present())
	assert.False(t, af.Diagnostics().Present())
	assert.False(t, af.Counters().Present())
	assert.False(t, af.InProgressLogsURL().Present())
	assert.Nil(t, af.DataEvents())
	assert.Nil(t, af.GeneratedEvents())
	_, ok := af.Duration()
	assert.False(t, ok)
}

func TestEmptyStringIsDistinctFromAbsent(t *testing.T) {
	ev, err := history.NewTaskAttemptFinishedBuilder(testAtt, "map", 10, history.Succeeded).WithDiagnostics("").Build()
	require.NoError(t, err)
	tag, body, err := history.Encode(ev)
	require.NoError(t, err)
	got, err := history.Decode(history.DefaultRegistry(), tag, body)
	require.NoError(t, err)

	diag, ok := got.(*history.TaskAttemptFinished).Diagnostics().Get()
	assert.True(t, ok)
	assert.Empty(t, diag)
}

func TestEncodeIsDeterministic(t *testing.T) {
	a := fullAttemptFinished(t)
	b := fullAttemptFinished(t)
	_, ba, err := history.Encode(a)
	require.NoError(t, err)
	_, bb, err := history.Encode(b)
	require.NoError(t, err)
	assert.Equal(t, ba, bb)
}

func TestAppendEncodeReusesBuffer(t *testing.T) {
	ev := fullAttemptFinished(t)
	_, want, err := history.Encode(ev)
	require.NoError(t, err)

	buf := make([]byte, 0, 1024)
	_, got, err := history.AppendEncode(buf, ev)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, &buf[:1][0], &got[:1][0])
}

func TestBuildRejectsInvalidEvents(t *testing.T) {
	cases := []struct {
		name  string
		build func() error
		field string
	}{
		{"missing attempt", func() error {
			_, err := history.NewTaskAttemptFinishedBuilder(history.AttemptID{}, "map", 10, history.Succeeded).Build()
			return err
		}, "attemptId"},
		{"missing vertex", func() error {
			_, err := history.NewTaskAttemptFinishedBuilder(testAtt, "", 10, history.Succeeded).Build()
			return err
		}, "vertexName"},
		{"zero state", func() error {
			_, err := history.NewTaskAttemptFinishedBuilder(testAtt, "map", 10, 0).Build()
			return err
		}, "state"},
		{"finish before start", func() error {
			_, err := history.NewTaskAttemptFinishedBuilder(testAtt, "map", 10, history.Failed).WithStartTime(11).Build()
			return err
		}, "finishTime"},
		{"start before allocation", func() error {
			_, err := history.NewTaskAttemptStartedBuilder(testAtt, "map", 10).WithAllocationTime(20).Build()
			return err
		}, "startTime"},
		{"negative creation", func() error {
			_, err := history.NewTaskAttemptStartedBuilder(testAtt, "map", 10).WithCreationTime(-1).Build()
			return err
		}, "creationTime"},
		{"empty container", func() error {
			_, err := history.NewTaskAttemptStartedBuilder(testAtt, "map", 10).WithContainerID("").Build()
			return err
		}, "containerId"},
		{"task start before schedule", func() error {
			_, err := history.NewTaskStartedBuilder(testTask, "map", 5).WithScheduledTime(6).Build()
			return err
		}, "startTime"},
		{"foreign successful attempt", func() error {
			other := history.AttemptID{Task: history.TaskID{Vertex: testVertex, ID: 99}}
			_, err := history.NewTaskFinishedBuilder(testTask, "map", 5, history.Succeeded, 0).WithSuccessfulAttempt(other).Build()
			return err
		}, "successfulAttempt"},
		{"negative failed attempts", func() error {
			_, err := history.NewTaskFinishedBuilder(testTask, "map", 5, history.Failed, -1).Build()
			return err
		}, "failedAttempts"},
		{"unnamed counter group", func() error {
			_, err := history.NewTaskFinishedBuilder(testTask, "map", 5, history.Failed, 0).
				WithCounters(history.Counters{Groups: []history.CounterGroup{{}}}).Build()
			return err
		}, "counters"},
		{"negative attempt index", func() error {
			_, err := history.NewTaskAttemptStartedBuilder(history.AttemptID{Task: testTask, ID: -1}, "map", 10).Build()
			return err
		}, "attemptId"},
		{"negative cluster timestamp", func() error {
			neg := testTask
			neg.Vertex.DAG.App.ClusterTimestamp = -1700000000000
			_, err := history.NewTaskStartedBuilder(neg, "map", 5).Build()
			return err
		}, "taskId"},
		{"negative causal attempt", func() error {
			_, err := history.NewTaskAttemptStartedBuilder(testAtt, "map", 10).
				WithCreationCausalAttempt(history.AttemptID{Task: history.TaskID{Vertex: testVertex, ID: -3}}).Build()
			return err
		}, "creationCausalAttempt"},
		{"negative dependency attempt", func() error {
			_, err := history.NewTaskAttemptFinishedBuilder(testAtt, "map", 10, history.Succeeded).
				WithDataEvents(history.DataEventDependency{Timestamp: 1, Attempt: history.AttemptID{Task: testTask, ID: -2}}).Build()
			return err
		}, "dataEvents"},
		{"dependency without attempt", func() error {
			_, err := history.NewTaskAttemptFinishedBuilder(testAtt, "map", 10, history.Succeeded).
				WithDataEvents(history.DataEventDependency{Timestamp: 1}).Build()
			return err
		}, "dataEvents"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.build()
			require.ErrorIs(t, err, history.ErrEncoding)
			var herr *history.Error
			require.ErrorAs(t, err, &herr)
			assert.Equal(t, tc.field, herr.Field)
		})
	}
}

func TestEncodeNilEvent(t *testing.T) {
	_, _, err := history.Encode(nil)
	require.ErrorIs(t, err, history.ErrEncoding)
}

func TestBuilderDoesNotAliasCallerSlices(t *testing.T) {
	payload := []byte{1, 2, 3}
	b := history.NewTaskAttemptFinishedBuilder(testAtt, "map", 10, history.Succeeded).
		WithGeneratedEvents(history.GeneratedEventRef{Kind: "k", Payload: payload})
	ev, err := b.Build()
	require.NoError(t, err)

	payload[0] = 9
	b.WithGeneratedEvents(history.GeneratedEventRef{Kind: "later"})
	got := ev.GeneratedEvents()
	require.Len(t, got, 1)
	assert.Equal(t, []byte{1, 2, 3}, got[0].Payload)

	got[0].Payload[0] = 7
	assert.Equal(t, byte(1), ev.GeneratedEvents()[0].Payload[0])
}

func TestDecodeTruncatedBodyIsCorrupt(t *testing.T) {
	tag, body, err := history.Encode(fullAttemptFinished(t))
	require.NoError(t, err)
	for n := 0; n < len(body); n++ {
		_, err := history.Decode(history.DefaultRegistry(), tag, body[:n])
		require.ErrorIs(t, err, history.ErrCorruptData, "prefix %d", n)
	}
}

func TestDecodeInvalidStateIsCorrupt(t *testing.T) {
	ev, err := history.NewTaskFinishedBuilder(testTask, "map", 5, history.Succeeded, 0).Build()
	require.NoError(t, err)
	tag, body, err := history.Encode(ev)
	require.NoError(t, err)

	// The state is followed only by the one-byte failed attempt count.
	d := len(body) - 2
	require.Equal(t, byte(history.Succeeded), body[d])
	body[d] = 9
	_, err = history.Decode(history.DefaultRegistry(), tag, body)
	require.ErrorIs(t, err, history.ErrCorruptData)
}

func TestDecodeTagMismatch(t *testing.T) {
	ev, err := history.NewTaskStartedBuilder(testTask, "map", 5).Build()
	require.NoError(t, err)
	_, body, err := history.Encode(ev)
	require.NoError(t, err)

	reg := history.NewRegistry()
	require.NoError(t, reg.Register(history.TypeTaskFinished, history.BuiltinDecoder(history.TypeTaskStarted)))
	_, err = history.Decode(reg, history.TypeTaskFinished, body)
	require.ErrorIs(t, err, history.ErrCorruptData)
}

func TestDecodeIgnoresUnknownBitsAndTrailingBytes(t *testing.T) {
	ev, err := history.NewTaskAttemptStartedBuilder(testAtt, "map", 100).WithNodeID("n1").Build()
	require.NoError(t, err)
	tag, body, err := history.Encode(ev)
	require.NoError(t, err)

	bm, n := protowire.ConsumeVarint(body)
	require.Greater(t, n, 0)
	newer := protowire.AppendVarint(nil, bm|1<<40)
	newer = append(newer, body[n:]...)
	newer = protowire.AppendString(newer, "field from a newer build")

	got, err := history.Decode(history.DefaultRegistry(), tag, newer)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := history.Decode(history.DefaultRegistry(), 99, []byte{0})
	require.ErrorIs(t, err, history.ErrUnknownEventType)
	assert.False(t, errors.Is(err, history.ErrCorruptData))
}

func TestStringSummary(t *testing.T) {
	s := fullAttemptFinished(t).String()
	assert.Contains(t, s, "vertex=map")
	assert.Contains(t, s, "attempt=attempt_1700000000000_0007_1_02_000042_0")
	assert.Contains(t, s, "timeTaken=50")
	assert.Contains(t, s, "state=FAILED")
	assert.Contains(t, s, "cause=CONTAINER_EXITED")
	assert.Contains(t, s, "io[bytes_read=4096,bytes_written=-1]")
}
