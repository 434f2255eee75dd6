package history

import (
	"fmt"

	"dagrecovery/infra/wire"
)

const (
	asCreationTime uint = iota
	asAllocationTime
	asCreationCausalAttempt
	asContainerID
	asNodeID
	asInProgressLogsURL
	asCompletedLogsURL
	asNodeHTTPAddress
)

// TaskAttemptStarted records an attempt being launched in a container.
type TaskAttemptStarted struct {
	attemptID  AttemptID
	vertexName string
	startTime  int64

	creationTime          Optional[int64]
	allocationTime        Optional[int64]
	creationCausalAttempt Optional[AttemptID]
	containerID           Optional[string]
	nodeID                Optional[string]
	inProgressLogsURL     Optional[string]
	completedLogsURL      Optional[string]
	nodeHTTPAddress       Optional[string]
}

type TaskAttemptStartedBuilder struct {
	ev TaskAttemptStarted
}

func NewTaskAttemptStartedBuilder(id AttemptID, vertexName string, startTime int64) *TaskAttemptStartedBuilder {
	return &TaskAttemptStartedBuilder{ev: TaskAttemptStarted{
		attemptID:  id,
		vertexName: vertexName,
		startTime:  startTime,
	}}
}

func (b *TaskAttemptStartedBuilder) WithCreationTime(ms int64) *TaskAttemptStartedBuilder {
	b.ev.creationTime = Some(ms)
	return b
}

func (b *TaskAttemptStartedBuilder) WithAllocationTime(ms int64) *TaskAttemptStartedBuilder {
	b.ev.allocationTime = Some(ms)
	return b
}

func (b *TaskAttemptStartedBuilder) WithCreationCausalAttempt(id AttemptID) *TaskAttemptStartedBuilder {
	b.ev.creationCausalAttempt = Some(id)
	return b
}

func (b *TaskAttemptStartedBuilder) WithContainerID(s string) *TaskAttemptStartedBuilder {
	b.ev.containerID = Some(s)
	return b
}

func (b *TaskAttemptStartedBuilder) WithNodeID(s string) *TaskAttemptStartedBuilder {
	b.ev.nodeID = Some(s)
	return b
}

func (b *TaskAttemptStartedBuilder) WithInProgressLogsURL(s string) *TaskAttemptStartedBuilder {
	b.ev.inProgressLogsURL = Some(s)
	return b
}

func (b *TaskAttemptStartedBuilder) WithCompletedLogsURL(s string) *TaskAttemptStartedBuilder {
	b.ev.completedLogsURL = Some(s)
	return b
}

func (b *TaskAttemptStartedBuilder) WithNodeHTTPAddress(s string) *TaskAttemptStartedBuilder {
	b.ev.nodeHTTPAddress = Some(s)
	return b
}

func (b *TaskAttemptStartedBuilder) Build() (*TaskAttemptStarted, error) {
	ev := b.ev
	if v := ev.validate(); v != nil {
		return nil, v.as(ErrEncoding, TypeTaskAttemptStarted)
	}
	return &ev, nil
}

func (ev *TaskAttemptStarted) Type() EventType       { return TypeTaskAttemptStarted }
func (ev *TaskAttemptStarted) Entity() EntityID      { return ev.attemptID }
func (ev *TaskAttemptStarted) VertexName() string    { return ev.vertexName }
func (ev *TaskAttemptStarted) IsRecoveryEvent() bool { return true }
func (ev *TaskAttemptStarted) IsHistoryEvent() bool  { return true }

func (ev *TaskAttemptStarted) AttemptID() AttemptID {
	return ev.attemptID
}

func (ev *TaskAttemptStarted) StartTime() int64 {
	return ev.startTime
}

func (ev *TaskAttemptStarted) CreationTime() Optional[int64] {
	return ev.creationTime
}

func (ev *TaskAttemptStarted) AllocationTime() Optional[int64] {
	return ev.allocationTime
}

func (ev *TaskAttemptStarted) CreationCausalAttempt() Optional[AttemptID] {
	return ev.creationCausalAttempt
}

func (ev *TaskAttemptStarted) ContainerID() Optional[string] {
	return ev.containerID
}

func (ev *TaskAttemptStarted) NodeID() Optional[string] {
	return ev.nodeID
}

func (ev *TaskAttemptStarted) InProgressLogsURL() Optional[string] {
	return ev.inProgressLogsURL
}

func (ev *TaskAttemptStarted) CompletedLogsURL() Optional[string] {
	return ev.completedLogsURL
}

func (ev *TaskAttemptStarted) NodeHTTPAddress() Optional[string] {
	return ev.nodeHTTPAddress
}

func (ev *TaskAttemptStarted) validate() *violation {
	if v := checkAttemptID("attemptId", ev.attemptID); v != nil {
		return v
	}
	if v := requireString("vertexName", ev.vertexName); v != nil {
		return v
	}
	if ev.startTime <= 0 {
		return missing("startTime")
	}
	if v := checkChain(
		timePoint{"creationTime", ev.creationTime},
		timePoint{"allocationTime", ev.allocationTime},
		timePoint{"startTime", Some(ev.startTime)},
	); v != nil {
		return v
	}
	if v := checkOptionalAttempt("creationCausalAttempt", ev.creationCausalAttempt); v != nil {
		return v
	}
	if v := presentNonEmpty("containerId", ev.containerID); v != nil {
		return v
	}
	return presentNonEmpty("nodeId", ev.nodeID)
}

func (ev *TaskAttemptStarted) encodeBody(e *wire.Encoder) {
	var bm wire.Bitmap
	if ev.creationTime.Present() {
		bm = bm.With(asCreationTime)
	}
	if ev.allocationTime.Present() {
		bm = bm.With(asAllocationTime)
	}
	if ev.creationCausalAttempt.Present() {
		bm = bm.With(asCreationCausalAttempt)
	}
	strs := ev.optionalStrings()
	for i, s := range strs {
		if s.Present() {
			bm = bm.With(asContainerID + uint(i))
		}
	}

	e.Bitmap(bm)
	encodeAttemptID(e, ev.attemptID)
	e.String(ev.vertexName)
	e.Varint(ev.startTime)
	if v, ok := ev.creationTime.Get(); ok {
		e.Varint(v)
	}
	if v, ok := ev.allocationTime.Get(); ok {
		e.Varint(v)
	}
	if v, ok := ev.creationCausalAttempt.Get(); ok {
		encodeAttemptID(e, v)
	}
	for _, s := range strs {
		if v, ok := s.Get(); ok {
			e.String(v)
		}
	}
}

// optionalStrings lists the string fields in bit order starting at
// asContainerID.
func (ev *TaskAttemptStarted) optionalStrings() []Optional[string] {
	return []Optional[string]{
		ev.containerID, ev.nodeID, ev.inProgressLogsURL, ev.completedLogsURL, ev.nodeHTTPAddress,
	}
}

func decodeTaskAttemptStarted(body []byte) (Event, error) {
	d := wire.NewDecoder(body)
	bm := d.Bitmap()
	ev := &TaskAttemptStarted{
		attemptID:  decodeAttemptID(d),
		vertexName: d.String(),
		startTime:  d.Varint(),
	}
	if bm.Has(asCreationTime) {
		ev.creationTime = Some(d.Varint())
	}
	if bm.Has(asAllocationTime) {
		ev.allocationTime = Some(d.Varint())
	}
	if bm.Has(asCreationCausalAttempt) {
		ev.creationCausalAttempt = Some(decodeAttemptID(d))
	}
	for i, dst := range []*Optional[string]{
		&ev.containerID, &ev.nodeID, &ev.inProgressLogsURL, &ev.completedLogsURL, &ev.nodeHTTPAddress,
	} {
		if bm.Has(asContainerID + uint(i)) {
			*dst = Some(d.String())
		}
	}
	if err := d.Err(); err != nil {
		return nil, corrupt(TypeTaskAttemptStarted, err)
	}
	if v := ev.validate(); v != nil {
		return nil, v.as(ErrCorruptData, TypeTaskAttemptStarted)
	}
	return ev, nil
}

func (ev *TaskAttemptStarted) String() string {
	return fmt.Sprintf("vertex=%s attempt=%s creationTime=%s allocationTime=%s startTime=%d containerId=%s nodeId=%s inProgressLogs=%s completedLogs=%s",
		ev.vertexName, ev.attemptID, optString(ev.creationTime), optString(ev.allocationTime), ev.startTime,
		optString(ev.containerID), optString(ev.nodeID), optString(ev.inProgressLogsURL), optString(ev.completedLogsURL))
}
