// Package errors provides structured error types for the gym-bridge module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: path, Go/Python type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
//		Path("info", "lives").
//		GoType("int64").
//		PyType("str").
//		Detail("cannot convert string to integer").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Capacity(16, 32)
//	err := errors.DoubleRelease(errors.PhaseAction, "action value")
//
// All errors implement the standard error interface and support errors.Is/As.
// IsKind matches on Kind alone, which is what most callers want:
//
//	if errors.IsKind(err, errors.KindContiguity) { ... }
package errors
