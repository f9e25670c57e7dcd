package option

import (
	"errors"
	"fmt"
)

// Option errors.
var (
	ErrEmptyKey     = errors.New("option key cannot be empty")
	ErrOptionExists = errors.New("option already exists")
	ErrInvalidValue = errors.New("invalid option value")
	ErrNotLive      = errors.New("option has been freed")
)

func invalidValue(literal, reason string) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidValue, literal, reason)
}
