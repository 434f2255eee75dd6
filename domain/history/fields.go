package history

import "dagrecovery/infra/wire"

// Shared field codecs. Identifiers are written as their numeric parts,
// which keeps frames compact and avoids re-parsing strings on replay.

func encodeTaskID(e *wire.Encoder, id TaskID) {
	v := id.Vertex
	e.Varint(v.DAG.App.ClusterTimestamp)
	e.Varint(int64(v.DAG.App.ID))
	e.Varint(int64(v.DAG.ID))
	e.Varint(int64(v.ID))
	e.Varint(int64(id.ID))
}

func decodeTaskID(d *wire.Decoder) TaskID {
	var id TaskID
	id.Vertex.DAG.App.ClusterTimestamp = d.Varint()
	id.Vertex.DAG.App.ID = d.Int32()
	id.Vertex.DAG.ID = d.Int32()
	id.Vertex.ID = d.Int32()
	id.ID = d.Int32()
	return id
}

func encodeAttemptID(e *wire.Encoder, id AttemptID) {
	encodeTaskID(e, id.Task)
	e.Varint(int64(id.ID))
}

func decodeAttemptID(d *wire.Decoder) AttemptID {
	var id AttemptID
	id.Task = decodeTaskID(d)
	id.ID = d.Int32()
	return id
}

func decodeTerminalState(d *wire.Decoder) TerminalState {
	v := d.Uvarint()
	if v > uint64(Killed) {
		return 0
	}
	return TerminalState(v)
}

func encodeDependencies(e *wire.Encoder, deps []DataEventDependency) {
	e.Uvarint(uint64(len(deps)))
	for _, dep := range deps {
		e.Varint(dep.Timestamp)
		encodeAttemptID(e, dep.Attempt)
	}
}

func decodeDependencies(d *wire.Decoder) []DataEventDependency {
	n := d.Count()
	if n == 0 {
		return nil
	}
	out := make([]DataEventDependency, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		ts := d.Varint()
		out = append(out, DataEventDependency{Timestamp: ts, Attempt: decodeAttemptID(d)})
	}
	return out
}

func encodeGenerated(e *wire.Encoder, refs []GeneratedEventRef) {
	e.Uvarint(uint64(len(refs)))
	for _, r := range refs {
		e.String(r.Kind)
		e.String(r.SourceVertex)
		e.Varint(r.Time)
		e.Blob(r.Payload)
	}
}

func decodeGenerated(d *wire.Decoder) []GeneratedEventRef {
	n := d.Count()
	if n == 0 {
		return nil
	}
	out := make([]GeneratedEventRef, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		var r GeneratedEventRef
		r.Kind = d.String()
		r.SourceVertex = d.String()
		r.Time = d.Varint()
		r.Payload = d.Blob()
		out = append(out, r)
	}
	return out
}

func encodeCounters(e *wire.Encoder, c Counters) {
	e.Uvarint(uint64(len(c.Groups)))
	for _, g := range c.Groups {
		e.String(g.Name)
		e.Uvarint(uint64(len(g.Counters)))
		for _, ctr := range g.Counters {
			e.String(ctr.Name)
			e.Varint(ctr.Value)
		}
	}
}

func decodeCounters(d *wire.Decoder) Counters {
	n := d.Count()
	if n == 0 {
		return Counters{}
	}
	c := Counters{Groups: make([]CounterGroup, 0, n)}
	for i := 0; i < n && d.Err() == nil; i++ {
		g := CounterGroup{Name: d.String()}
		m := d.Count()
		if m > 0 {
			g.Counters = make([]Counter, 0, m)
		}
		for j := 0; j < m && d.Err() == nil; j++ {
			name := d.String()
			g.Counters = append(g.Counters, Counter{Name: name, Value: d.Varint()})
		}
		c.Groups = append(c.Groups, g)
	}
	return c
}
