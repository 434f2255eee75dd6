package history

import (
	"fmt"

	"dagrecovery/infra/wire"
)

const tsScheduledTime uint = 0

// TaskStarted records the first attempt of a task being scheduled.
type TaskStarted struct {
	taskID        TaskID
	vertexName    string
	startTime     int64
	scheduledTime Optional[int64]
}

type TaskStartedBuilder struct {
	ev TaskStarted
}

func NewTaskStartedBuilder(id TaskID, vertexName string, startTime int64) *TaskStartedBuilder {
	return &TaskStartedBuilder{ev: TaskStarted{taskID: id, vertexName: vertexName, startTime: startTime}}
}

func (b *TaskStartedBuilder) WithScheduledTime(ms int64) *TaskStartedBuilder {
	b.ev.scheduledTime = Some(ms)
	return b
}

func (b *TaskStartedBuilder) Build() (*TaskStarted, error) {
	ev := b.ev
	if v := ev.validate(); v != nil {
		return nil, v.as(ErrEncoding, TypeTaskStarted)
	}
	return &ev, nil
}

func (ev *TaskStarted) Type() EventType       { return TypeTaskStarted }
func (ev *TaskStarted) Entity() EntityID      { return ev.taskID }
func (ev *TaskStarted) VertexName() string    { return ev.vertexName }
func (ev *TaskStarted) IsRecoveryEvent() bool { return true }
func (ev *TaskStarted) IsHistoryEvent() bool  { return true }

func (ev *TaskStarted) TaskID() TaskID                 { return ev.taskID }
func (ev *TaskStarted) StartTime() int64               { return ev.startTime }
func (ev *TaskStarted) ScheduledTime() Optional[int64] { return ev.scheduledTime }

func (ev *TaskStarted) validate() *violation {
	if v := checkTaskID("taskId", ev.taskID); v != nil {
		return v
	}
	if v := requireString("vertexName", ev.vertexName); v != nil {
		return v
	}
	if ev.startTime <= 0 {
		return missing("startTime")
	}
	return checkChain(
		timePoint{"scheduledTime", ev.scheduledTime},
		timePoint{"startTime", Some(ev.startTime)},
	)
}

func (ev *TaskStarted) encodeBody(e *wire.Encoder) {
	var bm wire.Bitmap
	if ev.scheduledTime.Present() {
		bm = bm.With(tsScheduledTime)
	}
	e.Bitmap(bm)
	encodeTaskID(e, ev.taskID)
	e.String(ev.vertexName)
	e.Varint(ev.startTime)
	if v, ok := ev.scheduledTime.Get(); ok {
		e.Varint(v)
	}
}

func decodeTaskStarted(body []byte) (Event, error) {
	d := wire.NewDecoder(body)
	bm := d.Bitmap()
	ev := &TaskStarted{
		taskID:     decodeTaskID(d),
		vertexName: d.String(),
		startTime:  d.Varint(),
	}
	if bm.Has(tsScheduledTime) {
		ev.scheduledTime = Some(d.Varint())
	}
	if err := d.Err(); err != nil {
		return nil, corrupt(TypeTaskStarted, err)
	}
	if v := ev.validate(); v != nil {
		return nil, v.as(ErrCorruptData, TypeTaskStarted)
	}
	return ev, nil
}

func (ev *TaskStarted) String() string {
	return fmt.Sprintf("vertex=%s task=%s scheduledTime=%s launchTime=%d",
		ev.vertexName, ev.taskID, optString(ev.scheduledTime), ev.startTime)
}

const (
	tfStartTime uint = iota
	tfSuccessfulAttempt
	tfDiagnostics
	tfCounters
)

// TaskFinished records the terminal outcome of a task across its attempts.
type TaskFinished struct {
	taskID         TaskID
	vertexName     string
	finishTime     int64
	state          TerminalState
	failedAttempts int32

	startTime         Optional[int64]
	successfulAttempt Optional[AttemptID]
	diagnostics       Optional[string]
	counters          Optional[Counters]
}

type TaskFinishedBuilder struct {
	ev TaskFinished
}

func NewTaskFinishedBuilder(id TaskID, vertexName string, finishTime int64, state TerminalState, failedAttempts int32) *TaskFinishedBuilder {
	return &TaskFinishedBuilder{ev: TaskFinished{
		taskID:         id,
		vertexName:     vertexName,
		finishTime:     finishTime,
		state:          state,
		failedAttempts: failedAttempts,
	}}
}

func (b *TaskFinishedBuilder) WithStartTime(ms int64) *TaskFinishedBuilder {
	b.ev.startTime = Some(ms)
	return b
}

func (b *TaskFinishedBuilder) WithSuccessfulAttempt(id AttemptID) *TaskFinishedBuilder {
	b.ev.successfulAttempt = Some(id)
	return b
}

func (b *TaskFinishedBuilder) WithDiagnostics(s string) *TaskFinishedBuilder {
	b.ev.diagnostics = Some(s)
	return b
}

func (b *TaskFinishedBuilder) WithCounters(c Counters) *TaskFinishedBuilder {
	b.ev.counters = Some(c)
	return b
}

func (b *TaskFinishedBuilder) Build() (*TaskFinished, error) {
	ev := b.ev.clone()
	if v := ev.validate(); v != nil {
		return nil, v.as(ErrEncoding, TypeTaskFinished)
	}
	return ev, nil
}

func (ev *TaskFinished) clone() *TaskFinished {
	out := *ev
	if c, ok := ev.counters.Get(); ok {
		out.counters = Some(c.clone())
	}
	return &out
}

func (ev *TaskFinished) Type() EventType       { return TypeTaskFinished }
func (ev *TaskFinished) Entity() EntityID      { return ev.taskID }
func (ev *TaskFinished) VertexName() string    { return ev.vertexName }
func (ev *TaskFinished) IsRecoveryEvent() bool { return true }
func (ev *TaskFinished) IsHistoryEvent() bool  { return true }

func (ev *TaskFinished) TaskID() TaskID                         { return ev.taskID }
func (ev *TaskFinished) FinishTime() int64                      { return ev.finishTime }
func (ev *TaskFinished) State() TerminalState                   { return ev.state }
func (ev *TaskFinished) FailedAttempts() int32                  { return ev.failedAttempts }
func (ev *TaskFinished) StartTime() Optional[int64]             { return ev.startTime }
func (ev *TaskFinished) SuccessfulAttempt() Optional[AttemptID] { return ev.successfulAttempt }
func (ev *TaskFinished) Diagnostics() Optional[string]          { return ev.diagnostics }

func (ev *TaskFinished) Counters() Optional[Counters] {
	if c, ok := ev.counters.Get(); ok {
		return Some(c.clone())
	}
	return None[Counters]()
}

func (ev *TaskFinished) Duration() (int64, bool) {
	start, ok := ev.startTime.Get()
	if !ok {
		return 0, false
	}
	return ev.finishTime - start, true
}

func (ev *TaskFinished) validate() *violation {
	if v := checkTaskID("taskId", ev.taskID); v != nil {
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
	if ev.failedAttempts < 0 {
		return invalidf("failedAttempts", "negative count %d", ev.failedAttempts)
	}
	if v := checkChain(
		timePoint{"startTime", ev.startTime},
		timePoint{"finishTime", Some(ev.finishTime)},
	); v != nil {
		return v
	}
	if v := checkOptionalAttempt("successfulAttempt", ev.successfulAttempt); v != nil {
		return v
	}
	if id, ok := ev.successfulAttempt.Get(); ok {
		if id.Task != ev.taskID {
			return invalidf("successfulAttempt", "%s does not belong to %s", id, ev.taskID)
		}
	}
	if c, ok := ev.counters.Get(); ok {
		return c.validate("counters")
	}
	return nil
}

func (ev *TaskFinished) encodeBody(e *wire.Encoder) {
	var bm wire.Bitmap
	if ev.startTime.Present() {
		bm = bm.With(tfStartTime)
	}
	if ev.successfulAttempt.Present() {
		bm = bm.With(tfSuccessfulAttempt)
	}
	if ev.diagnostics.Present() {
		bm = bm.With(tfDiagnostics)
	}
	if ev.counters.Present() {
		bm = bm.With(tfCounters)
	}
	e.Bitmap(bm)
	encodeTaskID(e, ev.taskID)
	e.String(ev.vertexName)
	e.Varint(ev.finishTime)
	e.Uvarint(uint64(ev.state))
	e.Varint(int64(ev.failedAttempts))
	if v, ok := ev.startTime.Get(); ok {
		e.Varint(v)
	}
	if v, ok := ev.successfulAttempt.Get(); ok {
		encodeAttemptID(e, v)
	}
	if v, ok := ev.diagnostics.Get(); ok {
		e.String(v)
	}
	if v, ok := ev.counters.Get(); ok {
		encodeCounters(e, v)
	}
}

func decodeTaskFinished(body []byte) (Event, error) {
	d := wire.NewDecoder(body)
	bm := d.Bitmap()
	ev := &TaskFinished{
		taskID:         decodeTaskID(d),
		vertexName:     d.String(),
		finishTime:     d.Varint(),
		state:          decodeTerminalState(d),
		failedAttempts: d.Int32(),
	}
	if bm.Has(tfStartTime) {
		ev.startTime = Some(d.Varint())
	}
	if bm.Has(tfSuccessfulAttempt) {
		ev.successfulAttempt = Some(decodeAttemptID(d))
	}
	if bm.Has(tfDiagnostics) {
		ev.diagnostics = Some(d.String())
	}
	if bm.Has(tfCounters) {
		ev.counters = Some(decodeCounters(d))
	}
	if err := d.Err(); err != nil {
		return nil, corrupt(TypeTaskFinished, err)
	}
	if v := ev.validate(); v != nil {
		return nil, v.as(ErrCorruptData, TypeTaskFinished)
	}
	return ev, nil
}

func (ev *TaskFinished) String() string {
	s := fmt.Sprintf("vertex=%s task=%s startTime=%s finishTime=%d", ev.vertexName, ev.taskID, optString(ev.startTime), ev.finishTime)
	if d, ok := ev.Duration(); ok {
		s += fmt.Sprintf(" timeTaken=%d", d)
	}
	return s + fmt.Sprintf(" state=%s successfulAttempt=%s failedAttempts=%d diagnostics=%q",
		ev.state, optString(ev.successfulAttempt), ev.failedAttempts, ev.diagnostics.OrElse(""))
}
