package service

import (
	"fmt"

	"dagrecovery/domain/history"
)

// TransitionKind names the lifecycle transition a producer reports.
type TransitionKind uint8

const (
	TaskStarted TransitionKind = iota + 1
	TaskFinished
	AttemptStarted
	AttemptFinished
)

func (k TransitionKind) String() string {
	switch k {
	case TaskStarted:
		return "task_started"
	case TaskFinished:
		return "task_finished"
	case AttemptStarted:
		return "attempt_started"
	case AttemptFinished:
		return "attempt_finished"
	default:
		return fmt.Sprintf("transition_%d", uint8(k))
	}
}

// Attributes carries the data of one transition. Task transitions read
// Task, attempt transitions read Attempt. Time is the start time of a
// started transition and the finish time of a finished one. Fields a
// kind does not use are ignored.
type Attributes struct {
	Task       history.TaskID
	Attempt    history.AttemptID
	VertexName string
	Time       int64
	State      history.TerminalState

	ScheduledTime  history.Optional[int64]
	CreationTime   history.Optional[int64]
	AllocationTime history.Optional[int64]
	StartTime      history.Optional[int64]

	CausalAttempt     history.Optional[history.AttemptID]
	SuccessfulAttempt history.Optional[history.AttemptID]
	FailedAttempts    int32

	Diagnostics      history.Optional[string]
	TerminationCause history.Optional[history.TerminationCause]
	Counters         history.Optional[history.Counters]

	ContainerID       history.Optional[string]
	NodeID            history.Optional[string]
	InProgressLogsURL history.Optional[string]
	CompletedLogsURL  history.Optional[string]
	NodeHTTPAddress   history.Optional[string]

	DataEvents      []history.DataEventDependency
	GeneratedEvents []history.GeneratedEventRef
}

// BuildEvent turns a transition into its event. Validation failures are
// *history.Error values of kind history.ErrEncoding.
func BuildEvent(kind TransitionKind, a Attributes) (history.Event, error) {
	switch kind {
	case TaskStarted:
		b := history.NewTaskStartedBuilder(a.Task, a.VertexName, a.Time)
		if v, ok := a.ScheduledTime.Get(); ok {
			b.WithScheduledTime(v)
		}
		ev, err := b.Build()
		if err != nil {
			return nil, err
		}
		return ev, nil

	case TaskFinished:
		b := history.NewTaskFinishedBuilder(a.Task, a.VertexName, a.Time, a.State, a.FailedAttempts)
		if v, ok := a.StartTime.Get(); ok {
			b.WithStartTime(v)
		}
		if v, ok := a.SuccessfulAttempt.Get(); ok {
			b.WithSuccessfulAttempt(v)
		}
		if v, ok := a.Diagnostics.Get(); ok {
			b.WithDiagnostics(v)
		}
		if v, ok := a.Counters.Get(); ok {
			b.WithCounters(v)
		}
		ev, err := b.Build()
		if err != nil {
			return nil, err
		}
		return ev, nil

	case AttemptStarted:
		b := history.NewTaskAttemptStartedBuilder(a.Attempt, a.VertexName, a.Time)
		if v, ok := a.CreationTime.Get(); ok {
			b.WithCreationTime(v)
		}
		if v, ok := a.AllocationTime.Get(); ok {
			b.WithAllocationTime(v)
		}
		if v, ok := a.CausalAttempt.Get(); ok {
			b.WithCreationCausalAttempt(v)
		}
		if v, ok := a.ContainerID.Get(); ok {
			b.WithContainerID(v)
		}
		if v, ok := a.NodeID.Get(); ok {
			b.WithNodeID(v)
		}
		if v, ok := a.InProgressLogsURL.Get(); ok {
			b.WithInProgressLogsURL(v)
		}
		if v, ok := a.CompletedLogsURL.Get(); ok {
			b.WithCompletedLogsURL(v)
		}
		if v, ok := a.NodeHTTPAddress.Get(); ok {
			b.WithNodeHTTPAddress(v)
		}
		ev, err := b.Build()
		if err != nil {
			return nil, err
		}
		return ev, nil

	case AttemptFinished:
		b := history.NewTaskAttemptFinishedBuilder(a.Attempt, a.VertexName, a.Time, a.State).
			WithDataEvents(a.DataEvents...).
			WithGeneratedEvents(a.GeneratedEvents...)
		if v, ok := a.CreationTime.Get(); ok {
			b.WithCreationTime(v)
		}
		if v, ok := a.AllocationTime.Get(); ok {
			b.WithAllocationTime(v)
		}
		if v, ok := a.StartTime.Get(); ok {
			b.WithStartTime(v)
		}
		if v, ok := a.CausalAttempt.Get(); ok {
			b.WithCreationCausalAttempt(v)
		}
		if v, ok := a.Diagnostics.Get(); ok {
			b.WithDiagnostics(v)
		}
		if v, ok := a.TerminationCause.Get(); ok {
			b.WithTerminationCause(v)
		}
		if v, ok := a.Counters.Get(); ok {
			b.WithCounters(v)
		}
		if v, ok := a.ContainerID.Get(); ok {
			b.WithContainerID(v)
		}
		if v, ok := a.NodeID.Get(); ok {
			b.WithNodeID(v)
		}
		if v, ok := a.InProgressLogsURL.Get(); ok {
			b.WithInProgressLogsURL(v)
		}
		if v, ok := a.CompletedLogsURL.Get(); ok {
			b.WithCompletedLogsURL(v)
		}
		if v, ok := a.NodeHTTPAddress.Get(); ok {
			b.WithNodeHTTPAddress(v)
		}
		ev, err := b.Build()
		if err != nil {
			return nil, err
		}
		return ev, nil

	default:
		return nil, &history.Error{Kind: history.ErrEncoding, Msg: fmt.Sprintf("unknown transition %s", kind)}
	}
}
