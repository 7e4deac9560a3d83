// Package types defines the core domain types shared by the federation
// gateway: requests, targets, diagnostics and results.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"strings"
	"time"
)

// TargetKind selects the protocol used to reach a target.
type TargetKind string

const (
	// KindSession is a stateful binary session-protocol backend.
	KindSession TargetKind = "session"
	// KindHTTP is a stateless HTTP/XML request-response backend.
	KindHTTP TargetKind = "http"
)

// ParseTargetKind parses a target kind, case-insensitively.
func ParseTargetKind(s string) (TargetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(KindSession):
		return KindSession, nil
	case string(KindHTTP):
		return KindHTTP, nil
	default:
		return "", fmt.Errorf("unknown target type %q (must be session or http)", s)
	}
}

// Valid reports whether k is a known kind.
func (k TargetKind) Valid() bool {
	return k == KindSession || k == KindHTTP
}

// Defaults applied to target specs when the request leaves a field empty.
const (
	DefaultResultSetName  = "default"
	DefaultElementSetName = "F"
	DefaultFrom           = 1
	DefaultSize           = 10
)

// TargetSpec describes one federation participant.
// Supplied by the caller; read-only during dispatch.
type TargetSpec struct {
	// Name identifies the target, both in results and in the target registry.
	Name string `json:"name" yaml:"name"`
	// Kind selects the protocol adapter.
	Kind TargetKind `json:"type" yaml:"type"`
	// Query is the raw query text in the common query language.
	Query string `json:"query" yaml:"query"`
	// ResultSetName names the server-side result set (session protocol only).
	ResultSetName string `json:"resultSetName,omitempty" yaml:"result_set_name,omitempty"`
	// ElementSetName selects the record composition (session protocol only).
	ElementSetName string `json:"elementSetName,omitempty" yaml:"element_set_name,omitempty"`
	// RecordSyntax is the preferred record syntax or schema.
	RecordSyntax string `json:"recordSyntax,omitempty" yaml:"record_syntax,omitempty"`
	// From is the 1-based start position within the result set.
	From int `json:"from" yaml:"from"`
	// Size is the number of records requested.
	Size int `json:"size" yaml:"size"`
	// Timeout bounds this target only. Zero means the request deadline applies.
	Timeout time.Duration `json:"-" yaml:"-"`
}

// WithDefaults returns a copy of s with empty fields filled in.
func (s TargetSpec) WithDefaults() TargetSpec {
	if s.ResultSetName == "" {
		s.ResultSetName = DefaultResultSetName
	}
	if s.ElementSetName == "" {
		s.ElementSetName = DefaultElementSetName
	}
	if s.From == 0 {
		s.From = DefaultFrom
	}
	return s
}

// Validate checks the caller-supplied fields of a target spec.
func (s TargetSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("target name is required")
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("target %q: unknown type %q", s.Name, s.Kind)
	}
	if s.From < 1 {
		return fmt.Errorf("target %q: from must be >= 1, got %d", s.Name, s.From)
	}
	if s.Size < 0 {
		return fmt.Errorf("target %q: size must be >= 0, got %d", s.Name, s.Size)
	}
	return nil
}

// FederationRequest fans one query out to many targets.
// Created at the gateway boundary and passed by value into the dispatcher.
type FederationRequest struct {
	RequestID string       `json:"requestId"`
	Targets   []TargetSpec `json:"targets"`
}
