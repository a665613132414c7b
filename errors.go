package builddb

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for common conditions
var (
	// Data errors
	ErrNotFound        = errors.New("document not found")
	ErrInvalidDocument = errors.New("invalid document")
	ErrInvalidQuery    = errors.New("invalid query")
	ErrInvalidKey      = errors.New("invalid key")

	// Backend errors
	ErrNotConnected       = errors.New("database not connected")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUnauthorized       = errors.New("unauthorized access")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// NotFoundError reports a point lookup for a key that has no document.
// It matches ErrNotFound with errors.Is.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unable to find key %q in database", e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// UpsertError lists the documents a bulk upsert failed to write.
// Documents not listed in Failed were written.
type UpsertError struct {
	Total  int
	Failed []BatchOperation
}

func (e *UpsertError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for _, op := range e.Failed {
		keys = append(keys, op.Key)
	}
	sort.Strings(keys)
	msg := fmt.Sprintf("unable to insert/update %d of %d documents: %s",
		len(e.Failed), e.Total, strings.Join(keys, ", "))
	if len(e.Failed) > 0 {
		msg += ": " + e.Failed[0].Error.Error()
	}
	return msg
}

// Unwrap exposes every per-key cause to errors.Is and errors.As.
func (e *UpsertError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, op := range e.Failed {
		errs = append(errs, op.Error)
	}
	return errs
}

// FailedKeys returns the keys that were not written, sorted.
func (e *UpsertError) FailedKeys() []string {
	keys := make([]string, 0, len(e.Failed))
	for _, op := range e.Failed {
		keys = append(keys, op.Key)
	}
	sort.Strings(keys)
	return keys
}

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUpsertFailure checks if an error came from a partially or totally failed upsert
func IsUpsertFailure(err error) bool {
	var upsertErr *UpsertError
	return errors.As(err, &upsertErr)
}
