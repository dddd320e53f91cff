package share

import (
	"errors"
	"fmt"
)

var (
	// ErrSharingViolation is returned when an open conflicts with another
	// holder's share mode.
	ErrSharingViolation = errors.New("sharing violation")

	ErrNotExist = errors.New("resource does not exist")
	ErrClosed   = errors.New("stream already closed")

	// ErrInvalidName is returned for names a backend cannot map to a single
	// resource, such as ones containing path separators.
	ErrInvalidName = errors.New("invalid resource name")
)

// OpError records a failed collaborator call and the resource it addressed.
type OpError struct {
	Op   string
	Name string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsSharingViolation reports whether err carries the sharing violation kind.
func IsSharingViolation(err error) bool {
	return errors.Is(err, ErrSharingViolation)
}
