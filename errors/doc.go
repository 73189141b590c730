// Package errors provides the structured error type used by wasmonkey.
//
// Errors are categorized by Phase (where in the patch run the error
// occurred) and Kind (error category). Phases follow the run: config, read,
// parse, extract, resolve, patch and write.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindInternal).
//		Detail("symbol %q matches more than one export", name).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.IO(errors.PhaseRead, path, cause)
//	err := errors.OutOfBounds(errors.PhasePatch, "function", 10, 5)
//
// errors.Is matches phase and kind. The kind-only sentinels (ErrUnsupported,
// ErrInternal, ...) match an error of that kind from any phase.
package errors
