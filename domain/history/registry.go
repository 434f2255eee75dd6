package history

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// Decoder turns a frame body into an event of one variant.
type Decoder func(body []byte) (Event, error)

// Registry maps frame tags to decoders. A registry is populated during
// startup and frozen before replay; once frozen it is read without locks.
type Registry struct {
	mu       sync.Mutex
	decoders map[EventType]Decoder
	frozen   atomic.Pointer[map[EventType]Decoder]
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[EventType]Decoder)}
}

// Register binds a decoder to a tag. A tag can be registered once.
func (r *Registry) Register(t EventType, dec Decoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() != nil {
		return fmt.Errorf("%w: register %s", ErrRegistryFrozen, t)
	}
	if t == 0 || dec == nil {
		return fmt.Errorf("%w: tag %d", ErrEncoding, t)
	}
	if _, ok := r.decoders[t]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, t)
	}
	r.decoders[t] = dec
	return nil
}

// Freeze makes the registry immutable. It is safe to call more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() == nil {
		m := maps.Clone(r.decoders)
		r.frozen.Store(&m)
	}
}

func (r *Registry) Frozen() bool { return r.frozen.Load() != nil }

func (r *Registry) Resolve(t EventType) (Decoder, error) {
	dec, ok := r.lookup(t)
	if !ok {
		return nil, &Error{Kind: ErrUnknownEventType, Type: t, Msg: "no decoder registered"}
	}
	return dec, nil
}

func (r *Registry) lookup(t EventType) (Decoder, bool) {
	if m := r.frozen.Load(); m != nil {
		dec, ok := (*m)[t]
		return dec, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	dec, ok := r.decoders[t]
	return dec, ok
}

// Tags returns the registered tags in ascending order.
func (r *Registry) Tags() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.decoders))
	for t := range r.decoders {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

var defaultRegistry *Registry

func init() {
	defaultRegistry = NewRegistry()
	for _, t := range []EventType{TypeTaskStarted, TypeTaskFinished, TypeTaskAttemptStarted, TypeTaskAttemptFinished} {
		if err := defaultRegistry.Register(t, BuiltinDecoder(t)); err != nil {
			panic(err)
		}
	}
	defaultRegistry.Freeze()
}

// DefaultRegistry returns the frozen registry holding every built-in
// variant.
func DefaultRegistry() *Registry { return defaultRegistry }

// BuiltinDecoder returns the decoder of a built-in variant, or nil. It
// lets callers assemble partial registries, e.g. to read a log the way
// an older build would.
func BuiltinDecoder(t EventType) Decoder {
	switch t {
	case TypeTaskStarted:
		return decodeTaskStarted
	case TypeTaskFinished:
		return decodeTaskFinished
	case TypeTaskAttemptStarted:
		return decodeTaskAttemptStarted
	case TypeTaskAttemptFinished:
		return decodeTaskAttemptFinished
	}
	return nil
}
