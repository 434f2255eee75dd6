package history

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// EntityKind distinguishes the schedulable units that carry history.
type EntityKind uint8

const (
	KindTask EntityKind = iota + 1
	KindAttempt
)

func (k EntityKind) String() string {
	switch k {
	case KindTask:
		return "TASK"
	case KindAttempt:
		return "TASK_ATTEMPT"
	default:
		return "UNKNOWN"
	}
}

// EntityID is implemented by the identifiers the reconstructor keys on.
type EntityID interface {
	fmt.Stringer
	Kind() EntityKind
	IsZero() bool
}

// AppID identifies the application that owns a DAG run.
type AppID struct {
	ClusterTimestamp int64
	ID               int32
}

func (a AppID) String() string {
	return fmt.Sprintf("application_%d_%04d", a.ClusterTimestamp, a.ID)
}

func (a AppID) Compare(o AppID) int {
	if c := cmp.Compare(a.ClusterTimestamp, o.ClusterTimestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, o.ID)
}

type DAGID struct {
	App AppID
	ID  int32
}

func (d DAGID) String() string {
	return fmt.Sprintf("dag_%d_%04d_%d", d.App.ClusterTimestamp, d.App.ID, d.ID)
}

func (d DAGID) Compare(o DAGID) int {
	if c := d.App.Compare(o.App); c != 0 {
		return c
	}
	return cmp.Compare(d.ID, o.ID)
}

type VertexID struct {
	DAG DAGID
	ID  int32
}

func (v VertexID) String() string {
	return fmt.Sprintf("vertex_%d_%04d_%d_%02d",
		v.DAG.App.ClusterTimestamp, v.DAG.App.ID, v.DAG.ID, v.ID)
}

func (v VertexID) Compare(o VertexID) int {
	if c := v.DAG.Compare(o.DAG); c != 0 {
		return c
	}
	return cmp.Compare(v.ID, o.ID)
}

type TaskID struct {
	Vertex VertexID
	ID     int32
}

func (t TaskID) String() string {
	v := t.Vertex
	return fmt.Sprintf("task_%d_%04d_%d_%02d_%06d",
		v.DAG.App.ClusterTimestamp, v.DAG.App.ID, v.DAG.ID, v.ID, t.ID)
}

func (t TaskID) Kind() EntityKind { return KindTask }

func (t TaskID) IsZero() bool { return t == TaskID{} }

func (t TaskID) negative() bool {
	v := t.Vertex
	return v.DAG.App.ClusterTimestamp < 0 || v.DAG.App.ID < 0 || v.DAG.ID < 0 || v.ID < 0 || t.ID < 0
}

func (t TaskID) Compare(o TaskID) int {
	if c := t.Vertex.Compare(o.Vertex); c != 0 {
		return c
	}
	return cmp.Compare(t.ID, o.ID)
}

// AttemptID identifies one execution attempt of a task.
type AttemptID struct {
	Task TaskID
	ID   int32
}

func (a AttemptID) String() string {
	v := a.Task.Vertex
	return fmt.Sprintf("attempt_%d_%04d_%d_%02d_%06d_%d",
		v.DAG.App.ClusterTimestamp, v.DAG.App.ID, v.DAG.ID, v.ID, a.Task.ID, a.ID)
}

func (a AttemptID) Kind() EntityKind { return KindAttempt }

func (a AttemptID) IsZero() bool { return a == AttemptID{} }

// negative reports a component String could not round-trip through
// ParseAttemptID.
func (a AttemptID) negative() bool {
	return a.Task.negative() || a.ID < 0
}

func (a AttemptID) Compare(o AttemptID) int {
	if c := a.Task.Compare(o.Task); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, o.ID)
}

// CompareEntityIDs orders tasks before attempts, then by creation index.
func CompareEntityIDs(a, b EntityID) int {
	if c := cmp.Compare(a.Kind(), b.Kind()); c != 0 {
		return c
	}
	switch x := a.(type) {
	case TaskID:
		return x.Compare(b.(TaskID))
	case AttemptID:
		return x.Compare(b.(AttemptID))
	}
	return strings.Compare(a.String(), b.String())
}

func ParseDAGID(s string) (DAGID, error) {
	p, err := parseParts(s, "dag", 3)
	if err != nil {
		return DAGID{}, err
	}
	return DAGID{App: AppID{ClusterTimestamp: p[0], ID: int32(p[1])}, ID: int32(p[2])}, nil
}

func ParseVertexID(s string) (VertexID, error) {
	p, err := parseParts(s, "vertex", 4)
	if err != nil {
		return VertexID{}, err
	}
	return VertexID{
		DAG: DAGID{App: AppID{ClusterTimestamp: p[0], ID: int32(p[1])}, ID: int32(p[2])},
		ID:  int32(p[3]),
	}, nil
}

func ParseTaskID(s string) (TaskID, error) {
	p, err := parseParts(s, "task", 5)
	if err != nil {
		return TaskID{}, err
	}
	return TaskID{
		Vertex: VertexID{
			DAG: DAGID{App: AppID{ClusterTimestamp: p[0], ID: int32(p[1])}, ID: int32(p[2])},
			ID:  int32(p[3]),
		},
		ID: int32(p[4]),
	}, nil
}

func ParseAttemptID(s string) (AttemptID, error) {
	p, err := parseParts(s, "attempt", 6)
	if err != nil {
		return AttemptID{}, err
	}
	return AttemptID{
		Task: TaskID{
			Vertex: VertexID{
				DAG: DAGID{App: AppID{ClusterTimestamp: p[0], ID: int32(p[1])}, ID: int32(p[2])},
				ID:  int32(p[3]),
			},
			ID: int32(p[4]),
		},
		ID: int32(p[5]),
	}, nil
}

// ParseEntityID accepts either a task or an attempt id.
func ParseEntityID(s string) (EntityID, error) {
	switch {
	case strings.HasPrefix(s, "task_"):
		return ParseTaskID(s)
	case strings.HasPrefix(s, "attempt_"):
		return ParseAttemptID(s)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
}

// parseParts splits "<prefix>_<n numbers>" and rejects negatives; the first
// part is the cluster timestamp, the rest must fit in int32.
func parseParts(s, prefix string, n int) ([]int64, error) {
	parts := strings.Split(s, "_")
	if len(parts) != n+1 || parts[0] != prefix {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	out := make([]int64, n)
	for i, p := range parts[1:] {
		bits := 32
		if i == 0 {
			bits = 64
		}
		v, err := strconv.ParseInt(p, 10, bits)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
		}
		out[i] = v
	}
	return out, nil
}
