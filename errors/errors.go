package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseHeap    Phase = "heap"    // handle table
	PhaseMemory  Phase = "memory"  // linear memory views
	PhaseEncode  Phase = "encode"  // host to guest
	PhaseDecode  Phase = "decode"  // guest to host
	PhaseCall    Phase = "call"    // guest export calls
	PhaseHost    Phase = "host"    // host import execution
	PhaseClosure Phase = "closure" // closure trampoline
	PhaseStream  Phase = "stream"  // streams and adapters
	PhaseLoad    Phase = "load"    // module loading
	PhaseLinking Phase = "linking" // host module linking
	PhaseConfig  Phase = "config"  // configuration
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidHandle  Kind = "invalid_handle"
	KindBorrowOrder    Kind = "borrow_order"
	KindInvalidUTF8    Kind = "invalid_utf8"
	KindUseAfterClose  Kind = "use_after_close"
	KindHostException  Kind = "host_exception"
	KindGuestPanic     Kind = "guest_panic"
	KindAllocation     Kind = "allocation"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindTypeMismatch   Kind = "type_mismatch"
	KindInvalidState   Kind = "invalid_state"
	KindMissingImport  Kind = "missing_import"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindInstantiation  Kind = "instantiation"
	KindInvalidData    Kind = "invalid_data"
	KindNotInitialized Kind = "not_initialized"
)

// Sentinels for errors.Is. They carry no phase, so they match any phase.
var (
	ErrInvalidHandle = &Error{Kind: KindInvalidHandle}
	ErrBorrowOrder   = &Error{Kind: KindBorrowOrder}
	ErrDecode        = &Error{Kind: KindInvalidUTF8}
	ErrUseAfterClose = &Error{Kind: KindUseAfterClose}
	ErrHostException = &Error{Kind: KindHostException}
	ErrGuestPanic    = &Error{Kind: KindGuestPanic}
	ErrAllocation    = &Error{Kind: KindAllocation}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	// Value is the thrown payload for host exceptions.
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
	Handle uint32
	// HasHandle distinguishes handle 0 (undefined) from no handle.
	HasHandle bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	if e.HasHandle {
		fmt.Fprintf(&b, " (handle %d)", e.Handle)
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

// Is reports whether target matches this error.
// An empty Phase on target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
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

// Op sets the operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Handle sets the offending handle
func (b *Builder) Handle(h uint32) *Builder {
	b.err.Handle = h
	b.err.HasHandle = true
	return b
}

// Value sets the offending or thrown value
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

// InvalidHandle creates an error for a handle that is not occupied
func InvalidHandle(phase Phase, h uint32, detail string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindInvalidHandle,
		Handle:    h,
		HasHandle: true,
		Detail:    detail,
	}
}

// BorrowOrder creates an error for a borrowed handle released out of order
func BorrowOrder(h, top uint32) *Error {
	return &Error{
		Phase:     PhaseHeap,
		Kind:      KindBorrowOrder,
		Handle:    h,
		HasHandle: true,
		Detail:    fmt.Sprintf("borrowed handles must be released in reverse order, top is %d", top),
	}
}

// InvalidUTF8 creates a decode error for bytes that are not valid UTF-8
func InvalidUTF8(phase Phase, ptr uint32, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("invalid UTF-8 sequence at %#x: %x", ptr, preview),
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Cause:  cause,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) exceeds memory size %d", offset, uint64(offset)+uint64(length), size),
		Value:  offset,
	}
}

// UseAfterClose creates an error for an operation on a released resource
func UseAfterClose(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUseAfterClose,
		Op:     op,
		Detail: "resource already closed",
	}
}

// HostException creates an error carrying a thrown host value
func HostException(phase Phase, thrown any, message string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindHostException,
		Value:  thrown,
		Detail: message,
	}
}

// GuestPanic creates an error for a guest-side panic or trap
func GuestPanic(op, message string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindGuestPanic,
		Op:     op,
		Detail: message,
		Cause:  cause,
	}
}

// TypeMismatch creates an error for a handle holding an unexpected value type
func TypeMismatch(phase Phase, op, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Op:     op,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// InvalidState creates an error for an operation not allowed in the current state
func InvalidState(phase Phase, op, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Op:     op,
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

// MissingImport represents a single unresolved import
type MissingImport struct {
	Module   string // e.g., "bridge"
	Function string // e.g., "string_new"
}

// MissingImportsError is returned when a guest imports host functions the bridge does not provide
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, fn, found := strings.Cut(imp, "#")
		if !found {
			mod, fn = imp, ""
		}
		result.Imports = append(result.Imports, MissingImport{
			Module:   mod,
			Function: fn,
		})
	}
	return result
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[linking] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d host function(s):\n", len(e.Imports))

	// Group by module for cleaner output
	byMod := make(map[string][]string)
	var order []string
	for _, imp := range e.Imports {
		if _, exists := byMod[imp.Module]; !exists {
			order = append(order, imp.Module)
		}
		byMod[imp.Module] = append(byMod[imp.Module], imp.Function)
	}

	for _, mod := range order {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, fn := range byMod[mod] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}

// NotInitialized creates a not-initialized error for a missing guest or instance
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
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

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}
