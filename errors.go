package boc

import "errors"

// Error kinds returned by this package. Every failure is an ordinary
// recoverable value wrapping one of these; malformed or adversarial input
// is an expected condition, never a panic.
var (
	// ErrOverflow marks a write that would exceed the per-cell bit or
	// reference maximum.
	ErrOverflow = errors.New("cell capacity exceeded")

	// ErrUnderflow marks a read past the end of a bit or reference window.
	ErrUnderflow = errors.New("not enough bits or references")

	// ErrRange marks slice bounds or an index outside the valid window.
	ErrRange = errors.New("index out of range")

	// ErrFormat marks bytes that do not decode to a structurally valid
	// cell graph or typed value.
	ErrFormat = errors.New("malformed cell data")
)

var errBuilt = errors.New("builder already produced its cell")
