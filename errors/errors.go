package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in a patch run the error occurred
type Phase string

const (
	PhaseConfig  Phase = "config"  // option and config file handling
	PhaseRead    Phase = "read"    // reading input files
	PhaseParse   Phase = "parse"   // decoding the wasm module
	PhaseExtract Phase = "extract" // native symbol extraction
	PhaseResolve Phase = "resolve" // matching symbols to exports
	PhasePatch   Phase = "patch"   // module rewriting
	PhaseWrite   Phase = "write"   // writing outputs
)

// Kind categorizes the error
type Kind string

const (
	KindUsage       Kind = "usage"
	KindIO          Kind = "io"
	KindInvalidData Kind = "invalid_data"
	KindUnsupported Kind = "unsupported"
	KindInternal    Kind = "internal"
	KindOutOfBounds Kind = "out_of_bounds"
)

// Kind-only sentinels. They match any *Error of the same kind regardless of
// phase:
//
//	if errors.Is(err, wmerrors.ErrUnsupported) { ... }
var (
	ErrUsage       = &Error{Kind: KindUsage}
	ErrIO          = &Error{Kind: KindIO}
	ErrInvalidData = &Error{Kind: KindInvalidData}
	ErrUnsupported = &Error{Kind: KindUnsupported}
	ErrInternal    = &Error{Kind: KindInternal}
	ErrOutOfBounds = &Error{Kind: KindOutOfBounds}
)

// Error is the structured error type used throughout wasmonkey
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	File   string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.File != "" {
		b.WriteString(" in ")
		b.WriteString(e.File)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// File sets the file the error relates to
func (b *Builder) File(path string) *Builder {
	b.err.File = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Usage creates a command usage error
func Usage(detail string) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindUsage,
		Detail: detail,
	}
}

// IO wraps a file system failure on path
func IO(phase Phase, path string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindIO,
		File:  path,
		Cause: cause,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// ParseFailed creates a parse error for what, wrapping cause
func ParseFailed(phase Phase, what string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// Unsupported creates an unsupported input error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Internal creates an error for a module that lacks something the patcher
// cannot work without
func Internal(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInternal,
		Detail: detail,
	}
}

// MissingSection creates an internal error for an absent wasm section
func MissingSection(phase Phase, section string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInternal,
		Detail: fmt.Sprintf("module has no %s section", section),
		Value:  section,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, what string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("%s index %d out of bounds (length %d)", what, index, length),
		Value:  index,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
