package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in the simulator the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // compile and import resolution
	PhaseLink     Phase = "link"     // instantiation of host, env and robot modules
	PhaseRuntime  Phase = "runtime"  // robot code execution
	PhaseHost     Phase = "host"     // host function bodies
	PhaseProtocol Phase = "protocol" // inbound frontend messages
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseRecord   Phase = "record"   // event recording
)

// Kind categorizes the error
type Kind string

const (
	KindAbort             Kind = "abort"
	KindUnsupported       Kind = "unsupported"
	KindUnrecognized      Kind = "unrecognized"
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindMissingEntrypoint Kind = "missing_entrypoint"
	KindInstantiation     Kind = "instantiation"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindAllocation        Kind = "allocation"
	KindInvalidData       Kind = "invalid_data"
)

// Error is the structured error type used throughout the simulator
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
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

// Path sets the path of the offending entity (e.g. module, import)
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

// Convenience constructors for common error patterns

// Unsupported creates the error raised when robot code calls a recognized
// API that the simulator does not implement.
func Unsupported(name string) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindUnsupported,
		Path:   []string{name},
		Detail: fmt.Sprintf("%s is not supported by the simulator", name),
	}
}

// Abort creates the error raised by an explicit abort call from robot code.
func Abort(message string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindAbort,
		Detail: message,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what string, id any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %v not found", what, id),
		Value:  id,
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

// OutOfBounds creates an out of bounds guest memory access error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access [%d, %d) out of bounds", offset, uint64(offset)+uint64(length)),
		Value:  offset,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// MissingEntrypoint is returned when a module exports none of the competition entrypoints.
func MissingEntrypoint(names []string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingEntrypoint,
		Detail: fmt.Sprintf("module exports none of %s", strings.Join(names, ", ")),
	}
}

// Instantiation creates an instantiation error
func Instantiation(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindInstantiation,
		Path:   []string{module},
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

// Protocol creates an error for a malformed inbound message.
func Protocol(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseProtocol,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
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

// Import identifies a single module import
type Import struct {
	Module string // e.g. "env"
	Name   string // e.g. "vexDeviceGetByIndex"
}

// UnrecognizedImportsError is returned when a module imports names the
// simulator has never heard of. Loading fails before any task runs.
type UnrecognizedImportsError struct {
	Imports []Import
}

// NewUnrecognizedImportsError creates an error from a list of "module#name" strings
func NewUnrecognizedImportsError(imports []string) *UnrecognizedImportsError {
	result := &UnrecognizedImportsError{
		Imports: make([]Import, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, name := parseImportKey(imp)
		result.Imports = append(result.Imports, Import{Module: mod, Name: name})
	}
	return result
}

func parseImportKey(key string) (module, name string) {
	mod, name, found := strings.Cut(key, "#")
	if found {
		return mod, name
	}
	return key, ""
}

// demangleRust attempts to extract a readable name from a legacy mangled Rust symbol
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

		// hash suffix: 'h' followed by 16 hex digits
		if len(part) == 17 && part[0] == 'h' && isHex(part[1:]) {
			continue
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return name
	}

	return strings.Join(parts, "::")
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (e *UnrecognizedImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[load] unrecognized: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("module imports %d unrecognized function(s):\n", len(e.Imports)))

	byModule := make(map[string][]string)
	var order []string
	for _, imp := range e.Imports {
		if _, exists := byModule[imp.Module]; !exists {
			order = append(order, imp.Module)
		}
		byModule[imp.Module] = append(byModule[imp.Module], demangleRust(imp.Name))
	}

	for _, mod := range order {
		names := byModule[mod]
		sort.Strings(names)
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, name := range names {
			b.WriteString("    - ")
			b.WriteString(name)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *UnrecognizedImportsError) Is(target error) bool {
	_, ok := target.(*UnrecognizedImportsError)
	return ok
}
