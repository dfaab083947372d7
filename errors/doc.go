// Package errors provides structured error types for canister-fs.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the failing operation, the affected path and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseStore, errors.KindIO).
//		Op("write-chunk").
//		Path("inode 7").
//		Cause(ioErr).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TooLarge(errors.PhaseHost, "argument", n, limit)
//	err := errors.OutOfBounds(errors.PhaseHost, offset, length, size)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
