package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseFS      Phase = "fs"      // filesystem operations
	PhaseStore   Phase = "store"   // chunk storage
	PhaseHost    Phase = "host"    // host boundary primitives
	PhaseProbe   Phase = "probe"   // probe handlers
	PhaseConfig  Phase = "config"  // configuration loading
	PhaseLoad    Phase = "load"    // module loading
	PhaseLinking Phase = "linking" // import resolution
	PhaseRuntime Phase = "runtime" // runtime operations
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfBounds      Kind = "out_of_bounds"
	KindInvalidData      Kind = "invalid_data"
	KindInvalidInput     Kind = "invalid_input"
	KindUnsupported      Kind = "unsupported"
	KindNotFound         Kind = "not_found"
	KindNotInitialized   Kind = "not_initialized"
	KindAlreadyCommitted Kind = "already_committed"
	KindTooLarge         Kind = "too_large"
	KindIO               Kind = "io"
	KindMissingImport    Kind = "missing_import"
	KindInstantiation    Kind = "instantiation"
	KindTrap             Kind = "trap"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Path   string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}

	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
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

// Path sets the affected path
func (b *Builder) Path(path string) *Builder {
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

// Convenience constructors for common error patterns

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length, size int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) out of bounds (size %d)", offset, offset+length, size),
		Value:  offset,
	}
}

// TooLarge creates an error for a payload exceeding a configured limit
func TooLarge(phase Phase, what string, size, limit int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTooLarge,
		Detail: fmt.Sprintf("%s of %d bytes exceeds limit of %d bytes", what, size, limit),
		Value:  size,
	}
}

// AlreadyCommitted creates an error for a second response on a finished call
func AlreadyCommitted(op string) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindAlreadyCommitted,
		Op:     op,
		Detail: "response already committed",
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
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// NotInitialized creates a not-initialized error
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

// IO wraps a storage or filesystem failure
func IO(phase Phase, op string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindIO,
		Op:    op,
		Cause: cause,
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

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
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

// Trap creates an error for a guest that aborted a call
func Trap(method string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Op:     method,
		Detail: "canister trapped",
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Module   string // e.g., "ic0"
	Function string // e.g., "msg_reply"
}

// MissingImportsError is returned when a canister module imports host
// functions the runtime does not provide
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Module:   mod,
			Function: fn,
		})
	}
	return result
}

func parseImportKey(key string) (module, function string) {
	mod, fn, found := strings.Cut(key, "#")
	if found {
		return mod, fn
	}
	return key, ""
}

// demangleRust attempts to extract a readable function name from a mangled
// Rust symbol. Canister polyfills re-export wasi functions under mangled names.
func demangleRust(name string) string {
	if !strings.HasPrefix(name, "_ZN") {
		return name
	}

	// Format: _ZN<len><name><len><name>...E
	s := name[3:]
	var parts []string

	for len(s) > 0 && s[0] != 'E' {
		lenEnd := 0
		for lenEnd < len(s) && s[lenEnd] >= '0' && s[lenEnd] <= '9' {
			lenEnd++
		}
		if lenEnd == 0 {
			break
		}

		length := 0
		for i := 0; i < lenEnd; i++ {
			length = length*10 + int(s[i]-'0')
		}
		s = s[lenEnd:]

		if length > len(s) {
			break
		}

		part := s[:length]
		s = s[length:]

		if isRustHash(part) {
			continue
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return name
	}

	return strings.Join(parts, "::")
}

// isRustHash matches the 17 character "h<16 hex>" suffix of legacy mangling.
func isRustHash(part string) bool {
	if len(part) != 17 || part[0] != 'h' {
		return false
	}
	for i := 1; i < 17; i++ {
		c := part[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[linking] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d host function(s):\n", len(e.Imports))

	byModule := make(map[string][]string)
	var order []string
	for _, imp := range e.Imports {
		if _, exists := byModule[imp.Module]; !exists {
			order = append(order, imp.Module)
		}
		byModule[imp.Module] = append(byModule[imp.Module], demangleRust(imp.Function))
	}

	for _, mod := range order {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, fn := range byModule[mod] {
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
