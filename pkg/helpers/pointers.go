package helpers

// PtrOf returns a pointer to a copy of t. Used for optional config fields.
//
// Example:
//
//	opts.MaxTokens = helpers.PtrOf(1500)
func PtrOf[T any](t T) *T { return &t }

// ValueOr dereferences p, or returns fallback when p is nil.
func ValueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
