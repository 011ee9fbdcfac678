package scrape

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a job or media row does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed batch or query. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// FetchError covers every transport-level failure of a single GET.
type FetchError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *FetchError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("fetch %s: timeout: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError wraps a parser failure. It is retried like a fetch failure.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
