package database

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrSessionArchived is returned when writing to an archived session.
	ErrSessionArchived = errors.New("session is archived")

	// ErrInUse is returned when deleting a record that sessions still reference.
	ErrInUse = errors.New("record is referenced by existing sessions")
)
