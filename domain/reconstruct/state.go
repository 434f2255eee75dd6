package reconstruct

import (
	"strings"

	"dagrecovery/domain/history"
)

// Phase is the lifecycle position of an entity.
type Phase uint8

const (
	Unseen Phase = iota
	Created
	Running
	Terminal
)

func (p Phase) String() string {
	switch p {
	case Unseen:
		return "UNSEEN"
	case Created:
		return "CREATED"
	case Running:
		return "RUNNING"
	case Terminal:
		return "TERMINAL"
	default:
		return "INVALID"
	}
}

// Anomaly is a set of inconsistencies observed while folding events.
// Anomalies never stop reconstruction; they are surfaced to the caller.
type Anomaly uint8

const (
	// AnomalyMissingCreated: a terminal event arrived for an entity with
	// no prior history; its creation was synthesized.
	AnomalyMissingCreated Anomaly = 1 << iota
	// AnomalyConflictingStart: a second start disagreed with the first.
	AnomalyConflictingStart
	// AnomalyAfterTerminal: a start differing from the recorded one arrived
	// after the entity finished.
	AnomalyAfterTerminal
	// AnomalyConflictingTerminal: a second terminal event disagreed with
	// the first.
	AnomalyConflictingTerminal
)

var anomalyNames = []struct {
	a    Anomaly
	name string
}{
	{AnomalyMissingCreated, "missing_created"},
	{AnomalyConflictingStart, "conflicting_start"},
	{AnomalyAfterTerminal, "after_terminal"},
	{AnomalyConflictingTerminal, "conflicting_terminal"},
}

func (a Anomaly) Has(b Anomaly) bool { return a&b == b }

// AllAnomalies lists the single-bit anomalies in bit order.
func AllAnomalies() []Anomaly {
	out := make([]Anomaly, len(anomalyNames))
	for i, n := range anomalyNames {
		out[i] = n.a
	}
	return out
}

func (a Anomaly) String() string {
	if a == 0 {
		return "none"
	}
	var parts []string
	for _, n := range anomalyNames {
		if a.Has(n.a) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// EntityState is the reconstructed view of one task or attempt.
type EntityState struct {
	ID         history.EntityID
	Kind       history.EntityKind
	Phase      Phase
	Outcome    history.TerminalState
	VertexName string

	CreatedAt  history.Optional[int64]
	StartedAt  history.Optional[int64]
	FinishedAt history.Optional[int64]

	Diagnostics       history.Optional[string]
	TerminationCause  history.Optional[history.TerminationCause]
	ContainerID       history.Optional[string]
	NodeID            history.Optional[string]
	SuccessfulAttempt history.Optional[history.AttemptID]
	FailedAttempts    int32

	Anomalies Anomaly
}

// Duration is finish minus start when both are known.
func (s EntityState) Duration() (int64, bool) {
	start, ok := s.StartedAt.Get()
	if !ok {
		return 0, false
	}
	finish, ok := s.FinishedAt.Get()
	if !ok {
		return 0, false
	}
	return finish - start, true
}

// Succeeded reports a terminal success.
func (s EntityState) Succeeded() bool {
	return s.Phase == Terminal && s.Outcome == history.Succeeded
}
