package history

// Optional holds a value that is either present or absent. The zero value
// is absent; absence is never encoded as a default value of T.
type Optional[T any] struct {
	value T
	ok    bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

func (o Optional[T]) Present() bool { return o.ok }

func (o Optional[T]) OrElse(d T) T {
	if o.ok {
		return o.value
	}
	return d
}
