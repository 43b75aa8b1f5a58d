package table

import (
	"errors"
	"strings"
)

var (
	// ErrNoIdentifier means the stored table has no column to address rows by.
	ErrNoIdentifier = errors.New("table has no identifier column")
	// ErrNotFound means no row carries the requested key.
	ErrNotFound = errors.New("row not found")
	// ErrDuplicateKey means a natural key is already taken.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrEmptyKey means a row to be written has an empty key.
	ErrEmptyKey = errors.New("empty key")
	// ErrUnknownTable means the table is not in the registry.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn means an update names a column the table does not have.
	ErrUnknownColumn = errors.New("unknown column")
)

// OpError records a failed table operation.
type OpError struct {
	Op    string
	Table string
	Key   string
	Err   error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" ")
	b.WriteString(e.Table)
	if e.Key != "" {
		b.WriteString(" [")
		b.WriteString(e.Key)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OpError) Unwrap() error { return e.Err }

// IsIntegrity reports whether err means a row could not be safely addressed.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrNoIdentifier) || errors.Is(err, ErrNotFound)
}
