package util

// Ptr returns a pointer to the given value.
// Useful for optional struct fields and SQL NULL handling.
func Ptr[T any](v T) *T {
	return &v
}
