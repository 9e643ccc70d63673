package query

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidQuery = errors.New("query text is required")

// ErrorKind classifies the failures that reach a caller. Everything else is
// absorbed into a degraded response.
type ErrorKind string

const (
	KindInvalidQuery ErrorKind = "invalid_query"
	KindCancelled    ErrorKind = "cancelled"
	KindInternal     ErrorKind = "internal"
)

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf maps an error returned by Process to its kind.
func KindOf(err error) ErrorKind {
	var qe *Error
	switch {
	case errors.As(err, &qe):
		return qe.Kind
	case errors.Is(err, ErrInvalidQuery):
		return KindInvalidQuery
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
