package store

import "errors"

// ErrNotFound indicates that no row matched the given id (or the id belongs to another project).
var ErrNotFound = errors.New("not found")

// ErrConflict indicates that a mutation lost a race or targets a row in a terminal state.
var ErrConflict = errors.New("conflict")

// ErrInvalidInput indicates that a record failed validation before it reached the database.
var ErrInvalidInput = errors.New("invalid input")
