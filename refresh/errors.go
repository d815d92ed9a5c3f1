package refresh

import "errors"

var (
	// ErrRefreshFailed is returned to every caller of a refresh cycle whose
	// refresh call did not succeed. The session is gone at that point.
	ErrRefreshFailed = errors.New("session refresh failed")

	// ErrRetryFailed is returned when the replayed operation yields neither
	// data nor an error.
	ErrRetryFailed = errors.New("retry after refresh returned no data")

	// ErrEmptyResult is returned when the first attempt yields neither data
	// nor an error.
	ErrEmptyResult = errors.New("request returned no data")

	errRefreshAborted = errors.New("refresh aborted")
)

// refreshError carries the cause of a failed refresh while still matching
// ErrRefreshFailed.
type refreshError struct {
	cause error
}

func (e *refreshError) Error() string {
	if e.cause == nil {
		return ErrRefreshFailed.Error()
	}
	return ErrRefreshFailed.Error() + ": " + e.cause.Error()
}

func (e *refreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

func (e *refreshError) Unwrap() error {
	return e.cause
}
