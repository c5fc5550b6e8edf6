package temporal

import (
	"errors"
	"fmt"
)

// NotFoundError reports that the live table does not exist.
type NotFoundError struct {
	Schema string
	Table  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("table %s.%s not found", e.Schema, e.Table)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// NotVersionedError reports that an operation requires tracking but the
// table has no enabled tracking entry.
type NotVersionedError struct {
	Schema string
	Table  string
}

func (e *NotVersionedError) Error() string {
	return fmt.Sprintf("table %s.%s is not tracked for changes", e.Schema, e.Table)
}

func IsNotVersioned(err error) bool {
	var nv *NotVersionedError
	return errors.As(err, &nv)
}

// ValidationError reports a malformed caller argument.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StoreError wraps any underlying catalog, DDL or DML failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
