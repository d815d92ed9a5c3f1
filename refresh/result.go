package refresh

import (
	"context"
	"errors"
	"net/http"
)

// Result is the outcome of one authenticated request: data, an error, or
// (for a misbehaving operation) neither.
type Result[T any] struct {
	Data *T
	Err  error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Data: &v}
}

// Fail wraps an error.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Operation performs one authenticated request. It may be invoked twice by
// Execute: once initially and once more after a successful refresh.
type Operation[T any] func(ctx context.Context) Result[T]

// FromCall adapts a conventional (value, error) call into an Operation.
func FromCall[T any](fn func(ctx context.Context) (T, error)) Operation[T] {
	return func(ctx context.Context) Result[T] {
		v, err := fn(ctx)
		if err != nil {
			return Fail[T](err)
		}
		return Ok(v)
	}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// IsUnauthorized reports whether err carries a 401 status anywhere in its chain.
func IsUnauthorized(err error) bool {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return false
	}
	return sc.StatusCode() == http.StatusUnauthorized
}

func (r Result[T]) unwrap(empty error) (T, error) {
	var zero T
	if r.Err != nil {
		return zero, r.Err
	}
	if r.Data == nil {
		return zero, empty
	}
	return *r.Data, nil
}
