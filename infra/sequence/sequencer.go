package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing frame sequence numbers.
// Sequence numbers are positional: the n-th frame of a log is n, so a
// writer reopening a log resumes from the number of frames it found.
type Sequencer struct {
	last atomic.Uint64
}

// New returns a sequencer whose next number is last+1.
func New(last uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

// Next reserves and returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last number handed out, 0 if none.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Resume moves the sequencer to last. It only ever moves forward, so a
// late resume cannot reissue numbers that were already handed out.
func (s *Sequencer) Resume(last uint64) {
	for {
		cur := s.last.Load()
		if last <= cur || s.last.CompareAndSwap(cur, last) {
			return
		}
	}
}
