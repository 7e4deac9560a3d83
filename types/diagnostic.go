package types

import "fmt"

// DiagnosticScope separates diagnostics that void a whole target operation
// from diagnostics attached to a single record.
type DiagnosticScope string

const (
	// ScopeNonSurrogate invalidates the target's entire operation.
	ScopeNonSurrogate DiagnosticScope = "non-surrogate"
	// ScopeSurrogate replaces one record; the rest of the result set stays valid.
	ScopeSurrogate DiagnosticScope = "surrogate"
)

// DiagnosticKind classifies where a diagnostic originated.
type DiagnosticKind string

// Diagnostic kinds.
const (
	DiagSyntax      DiagnosticKind = "syntax"
	DiagTranslation DiagnosticKind = "translation"
	DiagConnection  DiagnosticKind = "connection"
	DiagProtocol    DiagnosticKind = "protocol"
	DiagTimeout     DiagnosticKind = "timeout"
	DiagInternal    DiagnosticKind = "internal"
)

// Diagnostic codes. Numbering follows the SRU diagnostic list;
// CodeTimeout is local to this gateway.
const (
	CodeGeneralSystemError      = 1
	CodeTemporarilyUnavailable  = 2
	CodeQuerySyntax             = 10
	CodeUnsupportedIndex        = 16
	CodeUnsupportedRelation     = 19
	CodeUnsupportedBoolean      = 37
	CodeRecordUnavailable       = 64
	CodeRecordSyntaxUnsupported = 67
	CodeTimeout                 = 1000
)

// Diagnostic describes a backend or gateway failure.
type Diagnostic struct {
	Scope   DiagnosticScope `json:"scope" msgpack:"scope"`
	Kind    DiagnosticKind  `json:"kind" msgpack:"kind"`
	Code    int             `json:"code" msgpack:"code"`
	Message string          `json:"message" msgpack:"message"`
	// Details carries backend-supplied addinfo, if any.
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// NonSurrogate builds a diagnostic that voids the whole target operation.
func NonSurrogate(kind DiagnosticKind, code int, message string) *Diagnostic {
	return &Diagnostic{Scope: ScopeNonSurrogate, Kind: kind, Code: code, Message: message}
}

// Surrogate builds a per-record diagnostic.
func Surrogate(code int, message string) *Diagnostic {
	return &Diagnostic{Scope: ScopeSurrogate, Kind: DiagProtocol, Code: code, Message: message}
}

// Timeout builds the diagnostic recorded for targets cut off by a deadline.
func Timeout(message string) *Diagnostic {
	return NonSurrogate(DiagTimeout, CodeTimeout, message)
}

// IsSurrogate reports whether d is scoped to a single record.
// A nil diagnostic is not surrogate.
func (d *Diagnostic) IsSurrogate() bool {
	return d != nil && d.Scope == ScopeSurrogate
}

// IsFatal reports whether d voids the target's operation.
func (d *Diagnostic) IsFatal() bool {
	return d != nil && d.Scope != ScopeSurrogate
}

// WithDetails returns a copy of d carrying backend addinfo.
func (d *Diagnostic) WithDetails(details string) *Diagnostic {
	c := *d
	c.Details = details
	return &c
}

func (d *Diagnostic) Error() string {
	if d.Details != "" {
		return fmt.Sprintf("%s diagnostic %d: %s (%s)", d.Kind, d.Code, d.Message, d.Details)
	}
	return fmt.Sprintf("%s diagnostic %d: %s", d.Kind, d.Code, d.Message)
}
