package ledger

import "errors"

var (
	// ErrNotFound is returned when a request, candidacy or donation row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional update finds the row in a
	// different state than the caller expected.
	ErrConflict = errors.New("conflict")
)
