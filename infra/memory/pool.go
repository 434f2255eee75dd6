package memory

import "sync"

// Pool is a typed wrapper around sync.Pool. An optional reset hook runs
// before a value goes back into the pool, so callers never observe a
// previous user's contents.
type Pool[T any] struct {
	p     sync.Pool
	reset func(*T)
}

func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	pool := &Pool[T]{reset: reset}
	pool.p.New = func() any { return ctor() }
	return pool
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}

// Buffer is a reusable byte slice. Slices that grew past the retention
// cap are dropped on Put instead of being pinned by the pool.
type Buffer struct {
	B []byte
}

// NewBufferPool returns a pool of buffers with the given initial capacity;
// buffers that grew beyond maxRetain are released to the GC.
func NewBufferPool(initial, maxRetain int) *Pool[Buffer] {
	return NewPool(
		func() *Buffer { return &Buffer{B: make([]byte, 0, initial)} },
		func(b *Buffer) {
			if cap(b.B) > maxRetain {
				b.B = make([]byte, 0, initial)
				return
			}
			b.B = b.B[:0]
		},
	)
}
