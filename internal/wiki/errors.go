package wiki

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionMismatch means the page's latest revision is not the one
	// the conditional update expected.
	ErrVersionMismatch = errors.New("page changed since expected revision")

	// ErrPageExists means a create targeted an existing page.
	ErrPageExists = errors.New("page already exists")

	// ErrNoSuchPage means an update or move targeted a missing page.
	ErrNoSuchPage = errors.New("page does not exist")

	// ErrNoSuchRevision means a revision id was not found.
	ErrNoSuchRevision = errors.New("revision does not exist")
)

// RejectedError is returned when the store refuses a write on its own
// grounds: invalid title, oversized content, or an aborted hook.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("write rejected: %s", e.Reason)
}

// IsRejected reports whether err is or wraps a *RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// IsPrecondition reports whether err is a failed write precondition that a
// caller may resolve by re-reading the page and retrying.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrVersionMismatch) ||
		errors.Is(err, ErrPageExists) ||
		errors.Is(err, ErrNoSuchPage)
}
