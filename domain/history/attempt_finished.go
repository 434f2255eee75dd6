package history

import (
	"fmt"
	"strings"

	"dagrecovery/infra/wire"
)

// Presence bits of TaskAttemptFinished, in declared order. New optional
// fields are only ever appended with the next free bit.
const (
	afCreationTime uint = iota
	afAllocationTime
	afStartTime
	afCreationCausalAttempt
	afDiagnostics
	afTerminationCause
	afCounters
	afContainerID
	afNodeID
	afInProgressLogsURL
	afCompletedLogsURL
	afNodeHTTPAddress
)

// TaskAttemptFinished records the terminal transition of an attempt.
type TaskAttemptFinished struct {
	attemptID  AttemptID
	vertexName string
	finishTime int64
	state      TerminalState
	dataEvents []DataEventDependency
	generated  []GeneratedEventRef

	creationTime          Optional[int64]
	allocationTime        Optional[int64]
	startTime             Optional[int64]
	creationCausalAttempt Optional[AttemptID]
	diagnostics           Optional[string]
	terminationCause      Optional[TerminationCause]
	counters              Optional[Counters]
	containerID           Optional[string]
	nodeID                Optional[string]
	inProgressLogsURL     Optional[string]
	completedLogsURL      Optional[string]
	nodeHTTPAddress       Optional[string]
}

// TaskAttemptFinishedBuilder takes the required fields up front and the
// optional ones through setters. The built event is immutable.
type TaskAttemptFinishedBuilder struct {
	ev TaskAttemptFinished
}

func NewTaskAttemptFinishedBuilder(id AttemptID, vertexName string, finishTime int64, state TerminalState) *TaskAttemptFinishedBuilder {
	return &TaskAttemptFinishedBuilder{ev: TaskAttemptFinished{
		attemptID:  id,
		vertexName: vertexName,
		finishTime: finishTime,
		state:      state,
	}}
}

func (b *TaskAttemptFinishedBuilder) WithCreationTime(ms int64) *TaskAttemptFinishedBuilder {
	b.ev.creationTime = Some(ms)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithAllocationTime(ms int64) *TaskAttemptFinishedBuilder {
	b.ev.allocationTime = Some(ms)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithStartTime(ms int64) *TaskAttemptFinishedBuilder {
	b.ev.startTime = Some(ms)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithCreationCausalAttempt(id AttemptID) *TaskAttemptFinishedBuilder {
	b.ev.creationCausalAttempt = Some(id)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithDiagnostics(s string) *TaskAttemptFinishedBuilder {
	b.ev.diagnostics = Some(s)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithTerminationCause(c TerminationCause) *TaskAttemptFinishedBuilder {
	b.ev.terminationCause = Some(c)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithCounters(c Counters) *TaskAttemptFinishedBuilder {
	b.ev.counters = Some(c)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithContainerID(s string) *TaskAttemptFinishedBuilder {
	b.ev.containerID = Some(s)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithNodeID(s string) *TaskAttemptFinishedBuilder {
	b.ev.nodeID = Some(s)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithInProgressLogsURL(s string) *TaskAttemptFinishedBuilder {
	b.ev.inProgressLogsURL = Some(s)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithCompletedLogsURL(s string) *TaskAttemptFinishedBuilder {
	b.ev.completedLogsURL = Some(s)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithNodeHTTPAddress(s string) *TaskAttemptFinishedBuilder {
	b.ev.nodeHTTPAddress = Some(s)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithDataEvents(deps ...DataEventDependency) *TaskAttemptFinishedBuilder {
	b.ev.dataEvents = append(b.ev.dataEvents, deps...)
	return b
}

func (b *TaskAttemptFinishedBuilder) WithGeneratedEvents(refs ...GeneratedEventRef) *TaskAttemptFinishedBuilder {
	b.ev.generated = append(b.ev.generated, refs...)
	return b
}

// Build validates and returns a private copy, so later builder calls do
// not leak into the event.
func (b *TaskAttemptFinishedBuilder) Build() (*TaskAttemptFinished, error) {
	ev := b.ev.clone()
	if v := ev.validate(); v != nil {
		return nil, v.as(ErrEncoding, TypeTaskAttemptFinished)
	}
	return ev, nil
}

func (ev *TaskAttemptFinished) clone() *TaskAttemptFinished {
	out := *ev
	out.dataEvents = cloneSlice(ev.dataEvents)
	out.generated = cloneGenerated(ev.generated)
	if c, ok := ev.counters.Get(); ok {
		out.counters = Some(c.clone())
	}
	return &out
}

func (ev *TaskAttemptFinished) Type() EventType       { return TypeTaskAttemptFinished }
func (ev *TaskAttemptFinished) Entity() EntityID      { return ev.attemptID }
func (ev *TaskAttemptFinished) VertexName() string    { return ev.vertexName }
func (ev *TaskAttemptFinished) IsRecoveryEvent() bool { return true }
func (ev *TaskAttemptFinished) IsHistoryEvent() bool  { return true }

func (ev *TaskAttemptFinished) AttemptID() AttemptID {
	return ev.attemptID
}

func (ev *TaskAttemptFinished) FinishTime() int64 {
	return ev.finishTime
}

func (ev *TaskAttemptFinished) State() TerminalState {
	return ev.state
}

func (ev *TaskAttemptFinished) CreationTime() Optional[int64] {
	return ev.creationTime
}

func (ev *TaskAttemptFinished) AllocationTime() Optional[int64] {
	return ev.allocationTime
}

func (ev *TaskAttemptFinished) StartTime() Optional[int64] {
	return ev.startTime
}

func (ev *TaskAttemptFinished) CreationCausalAttempt() Optional[AttemptID] {
	return ev.creationCausalAttempt
}

func (ev *TaskAttemptFinished) Diagnostics() Optional[string] {
	return ev.diagnostics
}

func (ev *TaskAttemptFinished) TerminationCause() Optional[TerminationCause] {
	return ev.terminationCause
}

func (ev *TaskAttemptFinished) ContainerID() Optional[string] {
	return ev.containerID
}

func (ev *TaskAttemptFinished) NodeID() Optional[string] {
	return ev.nodeID
}

func (ev *TaskAttemptFinished) InProgressLogsURL() Optional[string] {
	return ev.inProgressLogsURL
}

func (ev *TaskAttemptFinished) CompletedLogsURL() Optional[string] {
	return ev.completedLogsURL
}

func (ev *TaskAttemptFinished) NodeHTTPAddress() Optional[string] {
	return ev.nodeHTTPAddress
}

func (ev *TaskAttemptFinished) Counters() Optional[Counters] {
	if c, ok := ev.counters.Get(); ok {
		return Some(c.clone())
	}
	return None[Counters]()
}

func (ev *TaskAttemptFinished) DataEvents() []DataEventDependency {
	return cloneSlice(ev.dataEvents)
}

func (ev *TaskAttemptFinished) GeneratedEvents() []GeneratedEventRef {
	return cloneGenerated(ev.generated)
}

// Duration is finish minus start; absent when the attempt never started.
func (ev *TaskAttemptFinished) Duration() (int64, bool) {
	start, ok := ev.startTime.Get()
	if !ok {
		return 0, false
	}
	return ev.finishTime - start, true
}

func (ev *TaskAttemptFinished) validate() *violation {
	if v := checkAttemptID("attemptId", ev.attemptID); v != nil {
		return v
	}
	if v := requireString("vertexName", ev.vertexName); v != nil {
		return v
	}
	if !ev.state.Valid() {
		return invalidf("state", "not a terminal state: %d", ev.state)
	}
	if ev.finishTime <= 0 {
		return missing("finishTime")
	}
	if v := checkChain(
		timePoint{"creationTime", ev.creationTime},
		timePoint{"allocationTime", ev.allocationTime},
		timePoint{"startTime", ev.startTime},
		timePoint{"finishTime", Some(ev.finishTime)},
	); v != nil {
		return v
	}
	if v := checkOptionalAttempt("creationCausalAttempt", ev.creationCausalAttempt); v != nil {
		return v
	}
	if c, ok := ev.terminationCause.Get(); ok && c == "" {
		return invalidf("terminationCause", "present but empty")
	}
	if c, ok := ev.counters.Get(); ok {
		if v := c.validate("counters"); v != nil {
			return v
		}
	}
	if v := presentNonEmpty("containerId", ev.containerID); v != nil {
		return v
	}
	if v := presentNonEmpty("nodeId", ev.nodeID); v != nil {
		return v
	}
	if v := validateDependencies("dataEvents", ev.dataEvents); v != nil {
		return v
	}
	return validateGenerated("generatedEvents", ev.generated)
}

func (ev *TaskAttemptFinished) presence() wire.Bitmap {
	var bm wire.Bitmap
	set := func(bit uint, ok bool) {
		if ok {
			bm = bm.With(bit)
		}
	}
	set(afCreationTime, ev.creationTime.Present())
	set(afAllocationTime, ev.allocationTime.Present())
	set(afStartTime, ev.startTime.Present())
	set(afCreationCausalAttempt, ev.creationCausalAttempt.Present())
	set(afDiagnostics, ev.diagnostics.Present())
	set(afTerminationCause, ev.terminationCause.Present())
	set(afCounters, ev.counters.Present())
	set(afContainerID, ev.containerID.Present())
	set(afNodeID, ev.nodeID.Present())
	set(afInProgressLogsURL, ev.inProgressLogsURL.Present())
	set(afCompletedLogsURL, ev.completedLogsURL.Present())
	set(afNodeHTTPAddress, ev.nodeHTTPAddress.Present())
	return bm
}

func (ev *TaskAttemptFinished) encodeBody(e *wire.Encoder) {
	e.Bitmap(ev.presence())
	encodeAttemptID(e, ev.attemptID)
	e.String(ev.vertexName)
	e.Varint(ev.finishTime)
	e.Uvarint(uint64(ev.state))
	encodeDependencies(e, ev.dataEvents)
	encodeGenerated(e, ev.generated)

	if v, ok := ev.creationTime.Get(); ok {
		e.Varint(v)
	}
	if v, ok := ev.allocationTime.Get(); ok {
		e.Varint(v)
	}
	if v, ok := ev.startTime.Get(); ok {
		e.Varint(v)
	}
	if v, ok := ev.creationCausalAttempt.Get(); ok {
		encodeAttemptID(e, v)
	}
	if v, ok := ev.diagnostics.Get(); ok {
		e.String(v)
	}
	if v, ok := ev.terminationCause.Get(); ok {
		e.String(string(v))
	}
	if v, ok := ev.counters.Get(); ok {
		encodeCounters(e, v)
	}
	for _, s := range []Optional[string]{
		ev.containerID, ev.nodeID, ev.inProgressLogsURL, ev.completedLogsURL, ev.nodeHTTPAddress,
	} {
		if v, ok := s.Get(); ok {
			e.String(v)
		}
	}
}

func decodeTaskAttemptFinished(body []byte) (Event, error) {
	d := wire.NewDecoder(body)
	bm := d.Bitmap()
	id := decodeAttemptID(d)
	vertex := d.String()
	finish := d.Varint()
	state := decodeTerminalState(d)

	b := NewTaskAttemptFinishedBuilder(id, vertex, finish, state)
	b.ev.dataEvents = decodeDependencies(d)
	b.ev.generated = decodeGenerated(d)

	if bm.Has(afCreationTime) {
		b.WithCreationTime(d.Varint())
	}
	if bm.Has(afAllocationTime) {
		b.WithAllocationTime(d.Varint())
	}
	if bm.Has(afStartTime) {
		b.WithStartTime(d.Varint())
	}
	if bm.Has(afCreationCausalAttempt) {
		b.WithCreationCausalAttempt(decodeAttemptID(d))
	}
	if bm.Has(afDiagnostics) {
		b.WithDiagnostics(d.String())
	}
	if bm.Has(afTerminationCause) {
		b.WithTerminationCause(TerminationCause(d.String()))
	}
	if bm.Has(afCounters) {
		b.WithCounters(decodeCounters(d))
	}
	if bm.Has(afContainerID) {
		b.WithContainerID(d.String())
	}
	if bm.Has(afNodeID) {
		b.WithNodeID(d.String())
	}
	if bm.Has(afInProgressLogsURL) {
		b.WithInProgressLogsURL(d.String())
	}
	if bm.Has(afCompletedLogsURL) {
		b.WithCompletedLogsURL(d.String())
	}
	if bm.Has(afNodeHTTPAddress) {
		b.WithNodeHTTPAddress(d.String())
	}
	// Bits past afNodeHTTPAddress and any trailing bytes belong to newer
	// writers and are ignored.
	if err := d.Err(); err != nil {
		return nil, corrupt(TypeTaskAttemptFinished, err)
	}
	if v := b.ev.validate(); v != nil {
		return nil, v.as(ErrCorruptData, TypeTaskAttemptFinished)
	}
	return b.ev.clone(), nil
}

func (ev *TaskAttemptFinished) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "vertex=%s attempt=%s", ev.vertexName, ev.attemptID)
	fmt.Fprintf(&sb, " creationTime=%s allocationTime=%s startTime=%s finishTime=%d",
		optString(ev.creationTime), optString(ev.allocationTime), optString(ev.startTime), ev.finishTime)
	if d, ok := ev.Duration(); ok {
		fmt.Fprintf(&sb, " timeTaken=%d", d)
	}
	fmt.Fprintf(&sb, " state=%s cause=%s diagnostics=%q containerId=%s nodeId=%s nodeHttpAddress=%s",
		ev.state, optString(ev.terminationCause), ev.diagnostics.OrElse(""),
		optString(ev.containerID), optString(ev.nodeID), optString(ev.nodeHTTPAddress))
	if ev.state != Succeeded {
		sb.WriteString(" counters=")
		if c, ok := ev.counters.Get(); ok {
			sb.WriteString(c.String())
		} else {
			sb.WriteString("none")
		}
	}
	return sb.String()
}
