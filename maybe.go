package isolate

// Maybe holds the result of an operation that can fail. A Nothing result
// means the failure was already handled (an exception was caught or
// reported); forcing it is a fatal error.
type Maybe[T any] struct {
	value T
	ok    bool
}

func Just[T any](v T) Maybe[T] {
	return Maybe[T]{value: v, ok: true}
}

func Nothing[T any]() Maybe[T] {
	return Maybe[T]{}
}

func (m Maybe[T]) IsJust() bool    { return m.ok }
func (m Maybe[T]) IsNothing() bool { return !m.ok }

// FromJust returns the value, aborting on Nothing.
func (m Maybe[T]) FromJust() T {
	if !m.ok {
		fatalf(nil, "FromJust called on an empty Maybe")
	}
	return m.value
}

// ToChecked is FromJust under the name used for local handles.
func (m Maybe[T]) ToChecked() T {
	return m.FromJust()
}

// Check aborts on Nothing.
func (m Maybe[T]) Check() {
	m.FromJust()
}

// To stores the value in out and reports whether there was one.
func (m Maybe[T]) To(out *T) bool {
	if m.ok {
		*out = m.value
	}
	return m.ok
}

func (m Maybe[T]) FromMaybe(def T) T {
	if m.ok {
		return m.value
	}
	return def
}
