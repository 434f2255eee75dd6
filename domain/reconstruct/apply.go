package reconstruct

import (
	"dagrecovery/domain/history"
)

// started and finished are the facts Apply needs from each event
// variant, so the transition rules are written once for tasks and
// attempts.
type started struct {
	at        int64
	createdAt history.Optional[int64]
	container history.Optional[string]
	node      history.Optional[string]
}

type finished struct {
	at         int64
	outcome    history.TerminalState
	startedAt  history.Optional[int64]
	createdAt  history.Optional[int64]
	diag       history.Optional[string]
	cause      history.Optional[history.TerminationCause]
	container  history.Optional[string]
	node       history.Optional[string]
	successful history.Optional[history.AttemptID]
	failed     int32
}

// Apply folds one event into the state of its entity and returns the new
// state. It is pure, and applying the same event twice is the same as
// applying it once. Events for a different entity leave s unchanged.
func Apply(s EntityState, ev history.Event) EntityState {
	if ev == nil || !ev.IsRecoveryEvent() {
		return s
	}
	if s.Phase != Unseen && s.ID != nil && s.ID != ev.Entity() {
		return s
	}
	switch e := ev.(type) {
	case *history.TaskStarted:
		return applyStart(s, ev, started{at: e.StartTime(), createdAt: e.ScheduledTime()})
	case *history.TaskAttemptStarted:
		return applyStart(s, ev, started{
			at:        e.StartTime(),
			createdAt: e.CreationTime(),
			container: e.ContainerID(),
			node:      e.NodeID(),
		})
	case *history.TaskFinished:
		return applyFinish(s, ev, finished{
			at:         e.FinishTime(),
			outcome:    e.State(),
			startedAt:  e.StartTime(),
			diag:       e.Diagnostics(),
			successful: e.SuccessfulAttempt(),
			failed:     e.FailedAttempts(),
		})
	case *history.TaskAttemptFinished:
		return applyFinish(s, ev, finished{
			at:        e.FinishTime(),
			outcome:   e.State(),
			startedAt: e.StartTime(),
			createdAt: e.CreationTime(),
			diag:      e.Diagnostics(),
			cause:     e.TerminationCause(),
			container: e.ContainerID(),
			node:      e.NodeID(),
		})
	}
	return s
}

func identify(s EntityState, ev history.Event) EntityState {
	id := ev.Entity()
	s.ID = id
	s.Kind = id.Kind()
	s.VertexName = ev.VertexName()
	return s
}

func applyStart(s EntityState, ev history.Event, st started) EntityState {
	switch s.Phase {
	case Unseen, Created:
		s = identify(s, ev)
		s.Phase = Running
		s.StartedAt = history.Some(st.at)
		if !s.CreatedAt.Present() {
			s.CreatedAt = st.createdAt
		}
		s.ContainerID = st.container
		s.NodeID = st.node
	case Running:
		if !sameStart(s, st) {
			s.Anomalies |= AnomalyConflictingStart
		}
	case Terminal:
		// A re-delivered start that matches the recorded one changes nothing.
		if !sameStart(s, st) {
			s.Anomalies |= AnomalyAfterTerminal
		}
	}
	return s
}

func sameStart(s EntityState, st started) bool {
	at, _ := s.StartedAt.Get()
	return at == st.at && s.ContainerID == st.container && s.NodeID == st.node
}

func applyFinish(s EntityState, ev history.Event, f finished) EntityState {
	switch s.Phase {
	case Unseen:
		// No creation or start was logged; synthesize them from what the
		// terminal event carries.
		s = identify(s, ev)
		s.Phase = Created
		s.CreatedAt = f.createdAt
		s.Anomalies |= AnomalyMissingCreated
		return finish(s, f)
	case Created, Running:
		if at, ok := s.StartedAt.Get(); ok {
			if fs, ok := f.startedAt.Get(); ok && fs != at {
				s.Anomalies |= AnomalyConflictingStart
			}
		}
		return finish(s, f)
	case Terminal:
		if !sameFinish(s, f) {
			s.Anomalies |= AnomalyConflictingTerminal
		}
	}
	return s
}

func finish(s EntityState, f finished) EntityState {
	s.Phase = Terminal
	s.Outcome = f.outcome
	s.FinishedAt = history.Some(f.at)
	if !s.StartedAt.Present() {
		s.StartedAt = f.startedAt
	}
	if !s.CreatedAt.Present() {
		s.CreatedAt = f.createdAt
	}
	if !s.ContainerID.Present() {
		s.ContainerID = f.container
	}
	if !s.NodeID.Present() {
		s.NodeID = f.node
	}
	s.Diagnostics = f.diag
	s.TerminationCause = f.cause
	s.SuccessfulAttempt = f.successful
	s.FailedAttempts = f.failed
	return s
}

// sameFinish treats a repeated terminal event as identical when it
// agrees on everything the first one recorded.
func sameFinish(s EntityState, f finished) bool {
	at, _ := s.FinishedAt.Get()
	return at == f.at &&
		s.Outcome == f.outcome &&
		s.Diagnostics == f.diag &&
		s.TerminationCause == f.cause &&
		s.SuccessfulAttempt == f.successful &&
		s.FailedAttempts == f.failed
}
