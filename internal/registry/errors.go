package registry

// validationError signals bad registry input for 400 mapping.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

// ErrValidation constructs a validationError.
func ErrValidation(msg string) error { return validationError{msg: msg} }

// IsValidation reports whether err indicates invalid registry input.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// notFoundError signals an unknown connection id for 404 mapping.
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "connection not found: " + e.id }

// ErrNotFound constructs a notFoundError.
func ErrNotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether err indicates a missing connection id.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}
