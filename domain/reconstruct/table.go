package reconstruct

import (
	"slices"
	"sync"

	"dagrecovery/domain/history"
)

// Table holds the reconstructed state of every entity seen in a log. It
// is safe for concurrent use; Apply serializes writers.
type Table struct {
	mu       sync.RWMutex
	entities map[history.EntityID]EntityState
	applied  int
}

func NewTable() *Table {
	return &Table{entities: make(map[history.EntityID]EntityState)}
}

// Apply folds ev into its entity's state. It returns the new state and
// the anomalies this event added.
func (t *Table) Apply(ev history.Event) (EntityState, Anomaly) {
	if ev == nil {
		return EntityState{}, 0
	}
	id := ev.Entity()

	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.entities[id]
	next := Apply(prev, ev)
	if next.Phase != Unseen {
		t.entities[id] = next
	}
	t.applied++
	return next, next.Anomalies &^ prev.Anomalies
}

func (t *Table) Get(id history.EntityID) (EntityState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.entities[id]
	return s, ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entities)
}

// Applied returns the number of events folded so far.
func (t *Table) Applied() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.applied
}

// Entities returns all states, tasks before attempts, each in creation
// order.
func (t *Table) Entities() []EntityState {
	return t.collect(func(EntityState) bool { return true })
}

// Anomalous returns the states that carry at least one anomaly.
func (t *Table) Anomalous() []EntityState {
	return t.collect(func(s EntityState) bool { return s.Anomalies != 0 })
}

// Counts returns the number of entities per phase.
func (t *Table) Counts() map[Phase]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Phase]int, 4)
	for _, s := range t.entities {
		out[s.Phase]++
	}
	return out
}

func (t *Table) collect(keep func(EntityState) bool) []EntityState {
	t.mu.RLock()
	out := make([]EntityState, 0, len(t.entities))
	for _, s := range t.entities {
		if keep(s) {
			out = append(out, s)
		}
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b EntityState) int { return history.CompareEntityIDs(a.ID, b.ID) })
	return out
}
