package abuse

// Lookup is the outcome of a store-backed check. Failed distinguishes "the
// store could not answer" from a genuine zero Value, so each caller picks its
// own open or closed policy.
type Lookup[T any] struct {
	Value  T
	Failed bool
	Err    error
}

func lookupOf[T any](v T, err error) Lookup[T] {
	if err != nil {
		var zero T
		return Lookup[T]{Value: zero, Failed: true, Err: err}
	}
	return Lookup[T]{Value: v}
}

// Or returns fallback when the lookup failed, otherwise Value.
func (l Lookup[T]) Or(fallback T) T {
	if l.Failed {
		return fallback
	}
	return l.Value
}
