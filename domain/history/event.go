package history

import (
	"fmt"
	"slices"
	"strings"

	"dagrecovery/infra/wire"
)

// EventType is the stable frame tag of an event variant. Tags are part of
// the persisted format: never renumber or reuse one. Zero is invalid.
type EventType uint32

const (
	TypeTaskStarted         EventType = 1
	TypeTaskFinished        EventType = 2
	TypeTaskAttemptStarted  EventType = 3
	TypeTaskAttemptFinished EventType = 4
)

func (t EventType) String() string {
	switch t {
	case TypeTaskStarted:
		return "TASK_STARTED"
	case TypeTaskFinished:
		return "TASK_FINISHED"
	case TypeTaskAttemptStarted:
		return "TASK_ATTEMPT_STARTED"
	case TypeTaskAttemptFinished:
		return "TASK_ATTEMPT_FINISHED"
	default:
		return fmt.Sprintf("EVENT_TYPE_%d", uint32(t))
	}
}

// Event is an immutable record of one lifecycle transition. The set of
// variants is closed within a build; the unexported methods keep other
// packages from adding variants that the codec cannot encode.
type Event interface {
	Type() EventType
	Entity() EntityID
	VertexName() string
	// IsRecoveryEvent reports whether replay folds the event into state.
	IsRecoveryEvent() bool
	// IsHistoryEvent reports whether the event belongs in the audit export.
	IsHistoryEvent() bool
	String() string

	validate() *violation
	encodeBody(e *wire.Encoder)
}

// TerminalState is the closed set of outcomes of a task or attempt.
type TerminalState uint8

const (
	Succeeded TerminalState = iota + 1
	Failed
	Killed
)

func (s TerminalState) Valid() bool { return s >= Succeeded && s <= Killed }

func (s TerminalState) String() string {
	switch s {
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Killed:
		return "KILLED"
	default:
		return "INVALID"
	}
}

// TerminationCause explains why an attempt did not succeed. It is stored
// by name so new causes do not break older readers.
type TerminationCause string

const (
	CauseUnknownError         TerminationCause = "UNKNOWN_ERROR"
	CauseTerminatedByClient   TerminationCause = "TERMINATED_BY_CLIENT"
	CauseTerminatedAtShutdown TerminationCause = "TERMINATED_AT_SHUTDOWN"
	CauseInternalPreemption   TerminationCause = "INTERNAL_PREEMPTION"
	CauseExternalPreemption   TerminationCause = "EXTERNAL_PREEMPTION"
	CauseApplicationError     TerminationCause = "APPLICATION_ERROR"
	CauseInputReadError       TerminationCause = "INPUT_READ_ERROR"
	CauseOutputWriteError     TerminationCause = "OUTPUT_WRITE_ERROR"
	CauseOutputLost           TerminationCause = "OUTPUT_LOST"
	CauseContainerExited      TerminationCause = "CONTAINER_EXITED"
	CauseNodeFailed           TerminationCause = "NODE_FAILED"
	CauseTaskHeartbeatError   TerminationCause = "TASK_HEARTBEAT_ERROR"
)

// DataEventDependency is a causal edge from an upstream generated event
// to the attempt that consumed it.
type DataEventDependency struct {
	Timestamp int64
	Attempt   AttemptID
}

// GeneratedEventRef references an event the attempt produced for
// downstream vertices. Payload is opaque to the history subsystem.
type GeneratedEventRef struct {
	Kind         string
	SourceVertex string
	Time         int64
	Payload      []byte
}

type Counter struct {
	Name  string
	Value int64
}

type CounterGroup struct {
	Name     string
	Counters []Counter
}

// Counters is an ordered aggregate of counter groups. Order is preserved
// by the codec, so identical counters always encode identically.
type Counters struct {
	Groups []CounterGroup
}

// Find returns the value of a counter in a group.
func (c Counters) Find(group, name string) (int64, bool) {
	for _, g := range c.Groups {
		if g.Name != group {
			continue
		}
		for _, ctr := range g.Counters {
			if ctr.Name == name {
				return ctr.Value, true
			}
		}
	}
	return 0, false
}

func (c Counters) String() string {
	var sb strings.Builder
	for i, g := range c.Groups {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(g.Name)
		sb.WriteByte('[')
		for j, ctr := range g.Counters {
			if j > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "%s=%d", ctr.Name, ctr.Value)
		}
		sb.WriteByte(']')
	}
	return sb.String()
}

func (c Counters) clone() Counters {
	if len(c.Groups) == 0 {
		return Counters{}
	}
	out := Counters{Groups: make([]CounterGroup, len(c.Groups))}
	for i, g := range c.Groups {
		out.Groups[i] = CounterGroup{Name: g.Name, Counters: cloneSlice(g.Counters)}
	}
	return out
}

func (c Counters) validate(field string) *violation {
	for i, g := range c.Groups {
		if g.Name == "" {
			return invalidf(field, "group %d has no name", i)
		}
		for j, ctr := range g.Counters {
			if ctr.Name == "" {
				return invalidf(field, "group %q counter %d has no name", g.Name, j)
			}
		}
	}
	return nil
}

func cloneSlice[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return slices.Clone(s)
}

func cloneGenerated(refs []GeneratedEventRef) []GeneratedEventRef {
	if len(refs) == 0 {
		return nil
	}
	out := make([]GeneratedEventRef, len(refs))
	for i, r := range refs {
		out[i] = r
		if len(r.Payload) == 0 {
			out[i].Payload = nil
		} else {
			out[i].Payload = slices.Clone(r.Payload)
		}
	}
	return out
}

func validateDependencies(field string, deps []DataEventDependency) *violation {
	for i, d := range deps {
		if d.Attempt.IsZero() {
			return invalidf(field, "dependency %d has no attempt", i)
		}
		if d.Attempt.negative() {
			return invalidf(field, "dependency %d has negative component in %s", i, d.Attempt)
		}
		if d.Timestamp < 0 {
			return invalidf(field, "dependency %d has negative timestamp", i)
		}
	}
	return nil
}

func validateGenerated(field string, refs []GeneratedEventRef) *violation {
	for i, r := range refs {
		if r.Kind == "" {
			return invalidf(field, "generated event %d has no kind", i)
		}
	}
	return nil
}

// timePoint is one named timestamp in a lifecycle chain.
type timePoint struct {
	name string
	at   Optional[int64]
}

// checkChain enforces that present timestamps never decrease along the
// chain; absent points are skipped.
func checkChain(points ...timePoint) *violation {
	var (
		prevName string
		prev     int64
		seen     bool
	)
	for _, p := range points {
		v, ok := p.at.Get()
		if !ok {
			continue
		}
		if v < 0 {
			return invalidf(p.name, "negative timestamp %d", v)
		}
		if seen && v < prev {
			return invalidf(p.name, "%s %d precedes %s %d", p.name, v, prevName, prev)
		}
		prevName, prev, seen = p.name, v, true
	}
	return nil
}

func optString[T any](o Optional[T]) string {
	if v, ok := o.Get(); ok {
		return fmt.Sprint(v)
	}
	return ""
}

func requireString(field, s string) *violation {
	if s == "" {
		return missing(field)
	}
	return nil
}

func presentNonEmpty(field string, o Optional[string]) *violation {
	if v, ok := o.Get(); ok && v == "" {
		return invalidf(field, "present but empty")
	}
	return nil
}
