package reconstruct

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagrecovery/domain/history"
)

func TestTableOrdersAndCounts(t *testing.T) {
	tbl := NewTable()
	a0 := history.AttemptID{Task: task, ID: 0}
	a1 := history.AttemptID{Task: task, ID: 1}
	ts, err := history.NewTaskStartedBuilder(task, "map", 50).Build()
	require.NoError(t, err)

	tbl.Apply(attStarted(t, a1, 120, ""))
	_, added := tbl.Apply(attFinished(t, a0, 100, 110, history.Failed))
	assert.Equal(t, AnomalyMissingCreated, added)
	tbl.Apply(ts)

	_, added = tbl.Apply(attFinished(t, a0, 100, 110, history.Failed))
	assert.Equal(t, Anomaly(0), added)

	ents := tbl.Entities()
	require.Len(t, ents, 3)
	assert.Equal(t, history.EntityID(task), ents[0].ID)
	assert.Equal(t, history.EntityID(a0), ents[1].ID)
	assert.Equal(t, history.EntityID(a1), ents[2].ID)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, 4, tbl.Applied())
	assert.Equal(t, map[Phase]int{Running: 2, Terminal: 1}, tbl.Counts())

	anomalous := tbl.Anomalous()
	require.Len(t, anomalous, 1)
	assert.Equal(t, history.EntityID(a0), anomalous[0].ID)

	s, ok := tbl.Get(a1)
	require.True(t, ok)
	assert.Equal(t, Running, s.Phase)
	_, ok = tbl.Get(history.AttemptID{Task: task, ID: 9})
	assert.False(t, ok)
}

type step struct {
	Attempt int32
	Finish  bool
	At      int64
	State   uint8
}

func (s step) event() history.Event {
	id := history.AttemptID{Task: task, ID: s.Attempt}
	if !s.Finish {
		ev, _ := history.NewTaskAttemptStartedBuilder(id, "map", s.At).Build()
		return ev
	}
	ev, _ := history.NewTaskAttemptFinishedBuilder(id, "map", s.At, history.TerminalState(s.State)).Build()
	return ev
}

func genSteps() gopter.Gen {
	return gen.SliceOf(gen.Struct(reflect.TypeOf(step{}), map[string]gopter.Gen{
		"Attempt": gen.Int32Range(0, 3),
		"Finish":  gen.Bool(),
		"At":      gen.Int64Range(1, 5),
		"State":   gen.UInt8Range(1, 3),
	}))
}

func TestReplayIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("duplicated frames do not change the table", prop.ForAll(
		func(steps []step) bool {
			once, twice := NewTable(), NewTable()
			for _, s := range steps {
				ev := s.event()
				once.Apply(ev)
				twice.Apply(ev)
				twice.Apply(ev)
			}
			return assert.ObjectsAreEqual(once.Entities(), twice.Entities())
		},
		genSteps(),
	))

	properties.Property("replaying the same log yields the same table", prop.ForAll(
		func(steps []step) bool {
			a, b := NewTable(), NewTable()
			for _, s := range steps {
				a.Apply(s.event())
			}
			for _, s := range steps {
				b.Apply(s.event())
			}
			return assert.ObjectsAreEqual(a.Entities(), b.Entities())
		},
		genSteps(),
	))

	properties.Property("the first terminal outcome is never replaced", prop.ForAll(
		func(steps []step) bool {
			tbl := NewTable()
			first := make(map[int32]history.TerminalState)
			for _, s := range steps {
				tbl.Apply(s.event())
				if _, ok := first[s.Attempt]; s.Finish && !ok {
					first[s.Attempt] = history.TerminalState(s.State)
				}
			}
			for a, want := range first {
				st, ok := tbl.Get(history.AttemptID{Task: task, ID: a})
				if !ok || st.Phase != Terminal || st.Outcome != want {
					return false
				}
			}
			return true
		},
		genSteps(),
	))

	properties.TestingRun(t)
}
