package util

// Ptr returns a pointer to the given value.
// This is a generic helper for creating pointers to literals.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns *p, or def when p is nil.
func Deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// Coalesce returns the last non-nil pointer, or nil.
// Used for per-field overrides where a later tier wins when set.
func Coalesce[T any](ptrs ...*T) *T {
	for i := len(ptrs) - 1; i >= 0; i-- {
		if ptrs[i] != nil {
			return ptrs[i]
		}
	}
	return nil
}
