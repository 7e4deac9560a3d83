package types

import "time"

// RawRecord is an opaque record payload plus its envelope fields.
// The gateway never parses record contents.
type RawRecord struct {
	// Position is the 1-based position within the target's result set.
	Position int `json:"position"`
	// GlobalPosition numbers records across the whole federation result.
	GlobalPosition int `json:"globalPosition,omitempty"`
	// ID identifies the record's origin: "<global position>_<target>".
	ID string `json:"id,omitempty"`
	// Schema is the record syntax or schema the backend actually delivered.
	Schema string `json:"schema,omitempty"`
	// Data is the raw record payload.
	Data []byte `json:"data,omitempty"`
	// Diagnostic is set when the backend replaced this record with a
	// surrogate diagnostic.
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`
}

// TargetResult is produced exactly once per target by its task.
type TargetResult struct {
	Name        string      `json:"name"`
	Kind        TargetKind  `json:"type"`
	RecordCount int         `json:"count"`
	Records     []RawRecord `json:"records"`
	Diagnostic  *Diagnostic `json:"diagnostic"`
	// RecordSyntax is the effective record syntax when the backend reported one.
	RecordSyntax string `json:"recordSyntax,omitempty"`
	// SyntaxSubstituted is true when the backend replaced the preferred syntax.
	SyntaxSubstituted bool          `json:"syntaxSubstituted,omitempty"`
	Elapsed           time.Duration `json:"-"`
	ElapsedMs         int64         `json:"elapsedMs"`
}

// Usable reports whether the target's count and records contribute to totals.
func (r TargetResult) Usable() bool {
	return r.Diagnostic == nil || r.Diagnostic.IsSurrogate()
}

// FederationResult is the unit returned to the caller.
type FederationResult struct {
	RequestID  string         `json:"requestId"`
	TotalCount int            `json:"totalCount"`
	PerTarget  []TargetResult `json:"targets"`
}

// Failed returns the names of targets carrying a non-surrogate diagnostic.
func (r *FederationResult) Failed() []string {
	var names []string
	for _, t := range r.PerTarget {
		if !t.Usable() {
			names = append(names, t.Name)
		}
	}
	return names
}

// Federation outcomes.
const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
)

// Outcome summarizes r: complete when every target is usable, failed when
// none is, partial otherwise.
func (r *FederationResult) Outcome() string {
	failed := len(r.Failed())
	switch {
	case failed == 0:
		return OutcomeComplete
	case failed == len(r.PerTarget):
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}
