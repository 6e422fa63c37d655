package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseInit      Phase = "init"      // interpreter lifecycle
	PhaseCall      Phase = "call"      // exec/eval/attribute/call
	PhaseMarshal   Phase = "marshal"   // Go <-> foreign value conversion
	PhaseBuffer    Phase = "buffer"    // buffer protocol transfers
	PhaseAction    Phase = "action"    // action space values
	PhaseEnv       Phase = "env"       // environment session
	PhaseTransport Phase = "transport" // request/reply channel
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindNotInitialized     Kind = "not_initialized"
	KindForeign            Kind = "foreign"
	KindAttributeNotFound  Kind = "attribute_not_found"
	KindMethodNotFound     Kind = "method_not_found"
	KindContiguity         Kind = "contiguity"
	KindCapacity           Kind = "capacity"
	KindUnsupportedVariant Kind = "unsupported_variant"
	KindUnknownSpace       Kind = "unknown_space"
	KindDoubleRelease      Kind = "double_release"
	KindIllegalState       Kind = "illegal_state"
	KindUnsupportedImage   Kind = "unsupported_image"
	KindTypeMismatch       Kind = "type_mismatch"
	KindOutOfBounds        Kind = "out_of_bounds"
	KindOverflow           Kind = "overflow"
	KindInvalidInput       Kind = "invalid_input"
	KindNilPointer         Kind = "nil_pointer"
	KindUnsupported        Kind = "unsupported"
	KindExhausted          Kind = "exhausted"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	PyType string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.PyType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.PyType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", Python type ")
			b.WriteString(e.PyType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("Python type ")
			b.WriteString(e.PyType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.PyType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
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

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether any error in err's chain is an *Error of the given kind,
// regardless of phase.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
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

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// PyType sets the foreign type name
func (b *Builder) PyType(t string) *Builder {
	b.err.PyType = t
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

// NotInitialized creates an error for operations on a host that is not ready
func NotInitialized(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: detail,
	}
}

// Foreign wraps a pending interpreter exception
func Foreign(phase Phase, pyType, msg string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindForeign,
		PyType: pyType,
		Detail: msg,
	}
}

// AttributeNotFound creates a missing attribute error
func AttributeNotFound(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindAttributeNotFound,
		Path:   []string{name},
		Detail: fmt.Sprintf("attribute %q not found", name),
		Cause:  cause,
	}
}

// MethodNotFound creates a missing method error
func MethodNotFound(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindMethodNotFound,
		Path:   []string{name},
		Detail: fmt.Sprintf("method %q not found", name),
		Cause:  cause,
	}
}

// Contiguity creates an error for objects that cannot expose a simple buffer
func Contiguity(pyType string, cause error) *Error {
	return &Error{
		Phase:  PhaseBuffer,
		Kind:   KindContiguity,
		PyType: pyType,
		Detail: "object does not expose a contiguous buffer (strided view?)",
		Cause:  cause,
	}
}

// Capacity creates an error for destination buffers that are too small
func Capacity(capacity, required int) *Error {
	return &Error{
		Phase:  PhaseBuffer,
		Kind:   KindCapacity,
		Detail: fmt.Sprintf("buffer too small: capacity=%d, required=%d", capacity, required),
		Value:  required,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, pyType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		PyType: pyType,
	}
}

// UnsupportedVariant creates an error for inputs a space kind does not accept
func UnsupportedVariant(goType, kind string) *Error {
	return &Error{
		Phase:  PhaseAction,
		Kind:   KindUnsupportedVariant,
		GoType: goType,
		Detail: fmt.Sprintf("get(%s) for %q is not supported", goType, kind),
	}
}

// UnknownSpace creates an error for operations on an unrecognized action space
func UnknownSpace(op string) *Error {
	return &Error{
		Phase:  PhaseAction,
		Kind:   KindUnknownSpace,
		Detail: fmt.Sprintf("%s is not supported for an unknown space type", op),
	}
}

// DoubleRelease creates an error for a reference released twice
func DoubleRelease(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDoubleRelease,
		Detail: what + " already closed",
	}
}

// IllegalState creates an error for operations invoked out of order
func IllegalState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIllegalState,
		Detail: detail,
	}
}

// UnsupportedImage creates an error for frames with an unsupported channel count
func UnsupportedImage(channels int) *Error {
	return &Error{
		Phase:  PhaseEnv,
		Kind:   KindUnsupportedImage,
		Detail: fmt.Sprintf("unsupported channel count %d", channels),
		Value:  channels,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// NilPointer creates a nil reference error
func NilPointer(phase Phase, path []string, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilPointer,
		Path:   path,
		Detail: "null " + what,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		GoType: targetType,
		Detail: fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:  value,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
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
