// Package apperr holds the error taxonomy shared by the pricing, cart and order core.
// Errors are wrapped with fmt.Errorf("%w: ...") and matched with errors.Is at the edges.
package apperr

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrConflict        = errors.New("conflict")
	// ErrDegenerate is returned when a price cannot be derived, e.g. no active rate for a grade.
	ErrDegenerate = errors.New("price cannot be derived")
)
