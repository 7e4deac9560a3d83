// Package backend defines the uniform contract every target protocol
// implements, and the injected registry the dispatcher builds adapters from.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/fedsearch/types"
)

// ErrUnknownKind is returned when no factory is registered for a target kind.
var ErrUnknownKind = errors.New("no adapter registered for target type")

// SearchRequest is one translated search against one target.
type SearchRequest struct {
	// Query is already in the target's native query form.
	Query          string
	ResultSetName  string
	ElementSetName string
	RecordSyntax   string
	// From is the 1-based start position.
	From int
	Size int
}

// RequestFor builds a SearchRequest from a defaulted target spec and its
// translated query.
func RequestFor(spec types.TargetSpec, query string) SearchRequest {
	return SearchRequest{
		Query:          query,
		ResultSetName:  spec.ResultSetName,
		ElementSetName: spec.ElementSetName,
		RecordSyntax:   spec.RecordSyntax,
		From:           spec.From,
		Size:           spec.Size,
	}
}

// SearchResult is the successful outcome of a search.
type SearchResult struct {
	// Count is the backend's total hit count, not len(Records).
	Count   int
	Records []types.RawRecord
	// RecordSyntax is the syntax the records were actually returned in.
	RecordSyntax string
	// SyntaxSubstituted is set when the backend did not honor the preferred
	// record syntax.
	SyntaxSubstituted bool
}

// Adapter drives one target's protocol for the lifetime of one dispatch.
//
// Search returns either a result or a non-surrogate diagnostic; per-record
// surrogate diagnostics travel inside the result. Disconnect must be safe to
// call on every exit path, including before Connect succeeded and
// concurrently with a blocked Connect or Search, which it unblocks.
type Adapter interface {
	Connect(ctx context.Context) error
	Search(ctx context.Context, req SearchRequest) (*SearchResult, *types.Diagnostic)
	Disconnect() error
}

// Factory creates an adapter for one target.
type Factory interface {
	New(spec types.TargetSpec) (Adapter, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(spec types.TargetSpec) (Adapter, error)

// New calls f.
func (f FactoryFunc) New(spec types.TargetSpec) (Adapter, error) {
	return f(spec)
}

// Registry maps target kinds to factories. It is built by the caller and
// passed to the dispatcher; there is no process-wide registry.
type Registry map[types.TargetKind]Factory

// New creates an adapter for spec using the factory registered for its kind.
func (r Registry) New(spec types.TargetSpec) (Adapter, error) {
	f, ok := r[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
	return f.New(spec)
}

// ConnectError wraps a transport or session-establishment failure.
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ConnectionDiagnostic converts a Connect failure into a non-surrogate
// diagnostic. A Diagnostic returned as an error is passed through.
func ConnectionDiagnostic(err error) *types.Diagnostic {
	var d *types.Diagnostic
	if errors.As(err, &d) {
		return d
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.Timeout("connect timed out")
	}
	return types.NonSurrogate(types.DiagConnection, types.CodeTemporarilyUnavailable, "connection failed").
		WithDetails(err.Error())
}
