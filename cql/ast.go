// Package cql parses the common query language into an abstract syntax tree.
//
// The tree is a closed set of two node types: BooleanNode for internal nodes
// and SearchClauseNode for leaves. Parsing is pure; identical input text
// always yields a structurally identical tree.
package cql

import (
	"strings"
)

// Node is either a *BooleanNode or a *SearchClauseNode.
type Node interface {
	// String renders the node back to canonical query text.
	String() string
	node()
}

// BoolOp is a boolean operator.
type BoolOp int

// Boolean operators.
const (
	OpAnd BoolOp = iota
	OpOr
	OpNot
)

func (o BoolOp) String() string {
	switch o {
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	default:
		return "?"
	}
}

// BooleanNode combines two operands. A unary NOT has a nil Left.
type BooleanNode struct {
	Op    BoolOp
	Left  Node
	Right Node
}

// Unary reports whether n is a prefix NOT without a left operand.
func (n *BooleanNode) Unary() bool {
	return n.Op == OpNot && n.Left == nil
}

func (n *BooleanNode) String() string {
	if n.Unary() {
		return "not " + group(n.Right)
	}
	return group(n.Left) + " " + n.Op.String() + " " + group(n.Right)
}

func (*BooleanNode) node() {}

// Relation is a clause relation.
type Relation string

// Relations.
const (
	RelEQ    Relation = "="
	RelLT    Relation = "<"
	RelGT    Relation = ">"
	RelLE    Relation = "<="
	RelGE    Relation = ">="
	RelNE    Relation = "<>"
	RelExact Relation = "exact"
	RelAny   Relation = "any"
	RelAll   Relation = "all"
	RelAdj   Relation = "adj"
)

// wordRelations are relations spelled as words rather than symbols.
var wordRelations = map[string]Relation{
	"exact": RelExact,
	"any":   RelAny,
	"all":   RelAll,
	"adj":   RelAdj,
}

var symbolRelations = map[string]Relation{
	"=":  RelEQ,
	"==": RelExact,
	"<":  RelLT,
	">":  RelGT,
	"<=": RelLE,
	">=": RelGE,
	"<>": RelNE,
}

// Truncation describes wildcard anchoring on a term.
type Truncation int

// Truncation modes.
const (
	TruncNone Truncation = iota
	TruncRight
	TruncLeft
	TruncBoth
)

// Term is a search term with its truncation and masking markers removed.
type Term struct {
	Value      string
	Quoted     bool
	Truncation Truncation
	// Masked is set when the term carries interior wildcards ("?" or "*").
	Masked bool
}

func (t Term) String() string {
	v := t.Value
	switch t.Truncation {
	case TruncRight:
		v += "*"
	case TruncLeft:
		v = "*" + v
	case TruncBoth:
		v = "*" + v + "*"
	}
	if t.Quoted || v == "" || strings.ContainsAny(v, " \t()<>=/") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}

// Words splits t on whitespace into one term per word. Left truncation stays
// on the first word and right truncation on the last; each word's own
// wildcards are classified again.
func (t Term) Words() []Term {
	fields := strings.Fields(t.Value)
	out := make([]Term, len(fields))
	for i, f := range fields {
		if i == 0 && (t.Truncation == TruncLeft || t.Truncation == TruncBoth) {
			f = "*" + f
		}
		if i == len(fields)-1 && (t.Truncation == TruncRight || t.Truncation == TruncBoth) {
			f += "*"
		}
		out[i] = makeTerm(f, false, QuoteDoubled)
	}
	return out
}

// ServerChoiceIndex is the index assigned to bare terms.
const ServerChoiceIndex = "cql.serverChoice"

// SearchClauseNode is a leaf: index relation term.
type SearchClauseNode struct {
	Index     string
	Relation  Relation
	Modifiers []string
	Term      Term
}

func (n *SearchClauseNode) String() string {
	var b strings.Builder
	b.WriteString(n.Index)
	b.WriteByte(' ')
	b.WriteString(string(n.Relation))
	for _, m := range n.Modifiers {
		b.WriteByte('/')
		b.WriteString(m)
	}
	b.WriteByte(' ')
	b.WriteString(n.Term.String())
	return b.String()
}

func (*SearchClauseNode) node() {}

func group(n Node) string {
	if b, ok := n.(*BooleanNode); ok && !b.Unary() {
		return "(" + b.String() + ")"
	}
	return n.String()
}

// Walk visits n and its descendants depth-first, left before right.
// Returning false from fn stops descent below the current node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	if b, ok := n.(*BooleanNode); ok {
		Walk(b.Left, fn)
		Walk(b.Right, fn)
	}
}

// Indexes returns the distinct index names used by the tree, in first-seen order.
func Indexes(n Node) []string {
	seen := make(map[string]struct{})
	var out []string
	Walk(n, func(n Node) bool {
		if c, ok := n.(*SearchClauseNode); ok {
			if _, dup := seen[c.Index]; !dup {
				seen[c.Index] = struct{}{}
				out = append(out, c.Index)
			}
		}
		return true
	})
	return out
}
