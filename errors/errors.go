package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which part of the bridge raised the error
type Phase string

const (
	PhaseAlloc    Phase = "alloc"    // transfer buffer alloc/free/reserve
	PhaseLower    Phase = "lower"    // host value to ffi value
	PhaseLift     Phase = "lift"     // ffi value to host value
	PhaseCall     Phase = "call"     // native invocation and status inspection
	PhaseHandle   Phase = "handle"   // object lifetimes and handle maps
	PhaseCallback Phase = "callback" // native code calling host objects
	PhaseAsync    Phase = "async"    // futures
	PhaseGuard    Phase = "guard"    // contract version and checksums
	PhaseLoad     Phase = "load"     // library loading
	PhaseConfig   Phase = "config"   // configuration
	PhaseParse    Phase = "parse"    // WIT signature parsing
)

// Kind categorizes the error
type Kind string

const (
	KindNullPointer      Kind = "null_pointer"
	KindOutOfBounds      Kind = "out_of_bounds"
	KindShortRead        Kind = "short_read"
	KindTrailingBytes    Kind = "trailing_bytes"
	KindUnderestimate    Kind = "size_underestimate"
	KindInvalidUTF8      Kind = "invalid_utf8"
	KindInvalidData      Kind = "invalid_data"
	KindInvalidTag       Kind = "invalid_tag"
	KindOverflow         Kind = "overflow"
	KindUnsupported      Kind = "unsupported"
	KindUnknownStatus    Kind = "unknown_status"
	KindMissingHandler   Kind = "missing_error_handler"
	KindStaleHandle      Kind = "stale_handle"
	KindVersionMismatch  Kind = "version_mismatch"
	KindChecksumMismatch Kind = "checksum_mismatch"
	KindNotFound         Kind = "not_found"
	KindAlreadyCompleted Kind = "already_completed"
	KindPoisoned         Kind = "poisoned"
	KindPanic            Kind = "panic"
	KindDestroyed        Kind = "destroyed"
	KindCancelled        Kind = "cancelled"
	KindClosed           Kind = "closed"
	KindInvalidInput     Kind = "invalid_input"
	KindInstantiation    Kind = "instantiation"
	KindInvalidConfig    Kind = "invalid_config"
)

// Category groups kinds by how the caller is expected to react
type Category int

const (
	// CategoryProtocol marks skew or bugs between bindings and native library.
	// The bridge is unsafe to keep using once one is observed.
	CategoryProtocol Category = iota
	// CategoryPanic marks an unrecoverable native fault scoped to one call.
	CategoryPanic
	// CategoryUsage marks host programming errors such as calling a destroyed object.
	CategoryUsage
)

func (c Category) String() string {
	switch c {
	case CategoryProtocol:
		return "protocol"
	case CategoryPanic:
		return "panic"
	case CategoryUsage:
		return "usage"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Category returns the category this kind belongs to
func (k Kind) Category() Category {
	switch k {
	case KindPanic:
		return CategoryPanic
	case KindDestroyed, KindCancelled, KindClosed, KindInvalidInput, KindInvalidConfig:
		return CategoryUsage
	default:
		return CategoryProtocol
	}
}

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Symbol string
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

	if e.Symbol != "" {
		b.WriteString(" in ")
		b.WriteString(e.Symbol)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
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

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Category returns the category of the error's kind
func (e *Error) Category() Category {
	return e.Kind.Category()
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

// Symbol sets the native symbol involved
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
	return b
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
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

// Sentinels for errors.Is. Only Phase and Kind take part in matching.
var (
	ErrDestroyed = &Error{Phase: PhaseHandle, Kind: KindDestroyed}
	ErrCancelled = &Error{Phase: PhaseAsync, Kind: KindCancelled}
	ErrClosed    = &Error{Phase: PhaseLoad, Kind: KindClosed}
)

// Is and As forward to the standard library so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join forwards to the standard library
func Join(errs ...error) error { return stderrors.Join(errs...) }

// CategoryOf reports the category of err. The second result is false when err
// carries no *Error, i.e. it is a typed business error or a foreign error.
func CategoryOf(err error) (Category, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category(), true
	}
	return 0, false
}

// IsProtocol reports whether err is a bridge protocol violation
func IsProtocol(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryProtocol
}

// IsPanic reports whether err is a native fault
func IsPanic(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryPanic
}

// IsUsage reports whether err is a host usage error
func IsUsage(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryUsage
}

// Convenience constructors for common error patterns

// NullPointer creates an error for a null data pointer returned for a non-empty allocation
func NullPointer(phase Phase, symbol string, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNullPointer,
		Symbol: symbol,
		Detail: fmt.Sprintf("native side returned null data for %d bytes", size),
		Value:  size,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// ShortRead creates an error for a read past the end of a buffer
func ShortRead(need, have int) *Error {
	return &Error{
		Phase:  PhaseLift,
		Kind:   KindShortRead,
		Detail: fmt.Sprintf("need %d bytes, %d remaining", need, have),
	}
}

// TrailingBytes creates an error for bytes left over after decoding a value
func TrailingBytes(remaining int) *Error {
	return &Error{
		Phase:  PhaseLift,
		Kind:   KindTrailingBytes,
		Detail: fmt.Sprintf("%d bytes remain after reading value", remaining),
		Value:  remaining,
	}
}

// InvalidTag creates an error for an unknown discriminant or tag byte
func InvalidTag(path []string, tag any, what string) *Error {
	return &Error{
		Phase:  PhaseLift,
		Kind:   KindInvalidTag,
		Path:   path,
		Detail: fmt.Sprintf("invalid %s tag %v", what, tag),
		Value:  tag,
	}
}

// OutOfBounds creates an out of bounds error for a native memory access
func OutOfBounds(phase Phase, ptr uint64, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("memory access out of bounds: offset=%d, length=%d", ptr, length),
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
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

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Panic creates a native fault error. An empty message yields the generic form.
func Panic(symbol, message string) *Error {
	detail := message
	if detail == "" {
		detail = "native code panicked without a message"
	}
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindPanic,
		Symbol: symbol,
		Detail: detail,
		Value:  message,
	}
}

// StaleHandle creates an error for a handle that is not (or no longer) registered
func StaleHandle(phase Phase, handle uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStaleHandle,
		Detail: fmt.Sprintf("handle %d is not registered", handle),
		Value:  handle,
	}
}

// Destroyed creates an object-already-destroyed error
func Destroyed(object string) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindDestroyed,
		Detail: fmt.Sprintf("%s object has already been destroyed", object),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Symbol: name,
		Detail: fmt.Sprintf("%s %q not found", what, name),
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

// Load creates a library loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// Config creates a configuration error
func Config(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidConfig,
		Detail: detail,
		Cause:  cause,
	}
}
