package consequence

import (
	"errors"
	"fmt"

	"github.com/roach88/modqueue/internal/store"
	"github.com/roach88/modqueue/internal/wiki"
)

// Failure is the error carried by a fatal Result.
type Failure struct {
	Code    Code
	Message string
	ModID   int64
	Err     error
}

// Code categorizes failures.
type Code string

const (
	// CodePreconditionFailed means the page changed between read and write.
	// Re-running the approval may succeed.
	CodePreconditionFailed Code = "PRECONDITION_FAILED"

	// CodeEditConflict means the queued edit could not be merged with
	// the current page. The queue row has been flagged.
	CodeEditConflict Code = "EDIT_CONFLICT"

	// CodeStoreRejected means the document store refused the write.
	CodeStoreRejected Code = "STORE_REJECTED"

	// CodeNotFound means the queue row does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeAlreadyMerged means the queue row was already applied or rejected.
	CodeAlreadyMerged Code = "ALREADY_MERGED"
)

func (e *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ModID != 0 {
		msg = fmt.Sprintf("%s (mod_id=%d)", msg, e.ModID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Failure) Unwrap() error {
	return e.Err
}

// AsFailure extracts a *Failure from err.
// Uses errors.As to handle wrapped errors.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func hasCode(err error, code Code) bool {
	f, ok := AsFailure(err)
	return ok && f.Code == code
}

// IsEditConflict reports whether err is an edit conflict failure.
func IsEditConflict(err error) bool { return hasCode(err, CodeEditConflict) }

// IsPreconditionFailed reports whether the page moved under the approval.
func IsPreconditionFailed(err error) bool { return hasCode(err, CodePreconditionFailed) }

// IsStoreRejected reports whether the document store refused the write.
func IsStoreRejected(err error) bool { return hasCode(err, CodeStoreRejected) }

// classify maps a store error to a failure.
func classify(modID int64, what string, err error) *Failure {
	code := CodeStoreRejected
	switch {
	case wiki.IsPrecondition(err):
		code = CodePreconditionFailed
	case errors.Is(err, store.ErrPendingNotFound):
		code = CodeNotFound
	}
	return &Failure{Code: code, Message: what, ModID: modID, Err: err}
}
