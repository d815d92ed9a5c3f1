package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrLoginRequired is returned when there is no usable session.
var ErrLoginRequired = errors.New("login required: run `orion login`")

// StatusError is a non-2xx response from the service.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// StatusCode returns the HTTP status, which is how the refresh coordinator
// recognises an expired session.
func (e *StatusError) StatusCode() int {
	return e.Status
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
