package container

// unavailableError signals that the container runtime itself cannot be
// reached (daemon down, binary missing) for 503 mapping.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates an unreachable runtime.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}

// notFoundError signals that the named container does not exist.
type notFoundError struct{ ref string }

func (e notFoundError) Error() string { return "container not found: " + e.ref }

// ErrNotFound constructs a notFoundError.
func ErrNotFound(ref string) error { return notFoundError{ref: ref} }

// IsNotFound reports whether err indicates a missing container.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}
