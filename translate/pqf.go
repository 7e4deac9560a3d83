package translate

import (
	"strconv"
	"strings"

	"github.com/pithecene-io/fedsearch/cql"
	"github.com/pithecene-io/fedsearch/types"
)

// Translator lowers query trees for a fixed attribute set.
// A Translator is safe for concurrent use.
type Translator struct {
	attrs *AttributeSet
}

// New creates a Translator. A nil set selects Bib1.
func New(attrs *AttributeSet) *Translator {
	if attrs == nil {
		attrs = Bib1()
	}
	return &Translator{attrs: attrs}
}

// ToTargetQuery renders root for a target of the given kind. HTTP targets
// receive text unchanged; session targets receive a prefix query.
func (t *Translator) ToTargetQuery(text string, root cql.Node, kind types.TargetKind) (string, error) {
	switch kind {
	case types.KindHTTP:
		return text, nil
	case types.KindSession:
		return t.PQF(root)
	default:
		return "", &UnsupportedKindError{Kind: kind}
	}
}

// PQF lowers root into prefix query notation.
func (t *Translator) PQF(root cql.Node) (string, error) {
	var b strings.Builder
	if err := t.lower(&b, root); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (t *Translator) lower(b *strings.Builder, n cql.Node) error {
	switch n := n.(type) {
	case *cql.BooleanNode:
		return t.lowerBoolean(b, n)
	case *cql.SearchClauseNode:
		return t.lowerClause(b, n)
	default:
		return &UnsupportedOperatorError{Msg: "unknown node"}
	}
}

func (t *Translator) lowerBoolean(b *strings.Builder, n *cql.BooleanNode) error {
	if n.Unary() {
		return &UnsupportedOperatorError{Msg: "standalone not"}
	}
	left, right := n.Left, n.Right
	op := "@" + n.Op.String()
	// "a and not b" is the only place a unary not can be expressed.
	if n.Op == cql.OpAnd {
		if r, ok := right.(*cql.BooleanNode); ok && r.Unary() {
			op, right = "@not", r.Right
		} else if l, ok := left.(*cql.BooleanNode); ok && l.Unary() {
			op, left, right = "@not", right, l.Right
		}
	}
	b.WriteString(op)
	b.WriteByte(' ')
	if err := t.lower(b, left); err != nil {
		return err
	}
	b.WriteByte(' ')
	return t.lower(b, right)
}

type attr struct {
	typ, value int
}

func (t *Translator) lowerClause(b *strings.Builder, c *cql.SearchClauseNode) error {
	use, ok := t.attrs.Use(c.Index)
	if !ok {
		return &UnsupportedIndexError{Index: c.Index}
	}
	rel, ok := t.attrs.Relation(c.Relation)
	if !ok {
		return &UnsupportedRelationError{Index: c.Index, Relation: c.Relation}
	}

	if (c.Relation == cql.RelAny || c.Relation == cql.RelAll) && len(strings.Fields(c.Term.Value)) > 1 {
		op := "@or "
		if c.Relation == cql.RelAll {
			op = "@and "
		}
		words := c.Term.Words()
		for range words[1:] {
			b.WriteString(op)
		}
		for i, w := range words {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeClause(b, clauseAttrs(use, rel, c, w), termText(w))
		}
		return nil
	}

	writeClause(b, clauseAttrs(use, rel, c, c.Term), termText(c.Term))
	return nil
}

// termText is the term as sent. Masked terms use the Z39.58 pattern
// characters: "?" for any run of characters and "#" for exactly one.
func termText(term cql.Term) string {
	if !term.Masked {
		return term.Value
	}
	v := term.Value
	if term.Truncation == cql.TruncLeft || term.Truncation == cql.TruncBoth {
		v = "*" + v
	}
	if term.Truncation == cql.TruncRight || term.Truncation == cql.TruncBoth {
		v += "*"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '*':
			return '?'
		case '?':
			return '#'
		}
		return r
	}, v)
}

func clauseAttrs(use, rel int, c *cql.SearchClauseNode, term cql.Term) []attr {
	attrs := []attr{{AttrUse, use}, {AttrRelation, rel}}
	if c.Relation == cql.RelExact {
		attrs = append(attrs, attr{AttrPosition, positionFirstInField})
	}
	switch {
	case c.Relation == cql.RelExact || c.Relation == cql.RelAdj:
		attrs = append(attrs, attr{AttrStructure, structurePhrase})
	case hasModifier(c, "word"):
		attrs = append(attrs, attr{AttrStructure, structureWord})
	case c.Relation == cql.RelEQ && len(strings.Fields(term.Value)) > 1:
		attrs = append(attrs, attr{AttrStructure, structurePhrase})
	}
	switch {
	case term.Masked:
		attrs = append(attrs, attr{AttrTruncation, truncMasked})
	case term.Truncation == cql.TruncRight:
		attrs = append(attrs, attr{AttrTruncation, truncRight})
	case term.Truncation == cql.TruncLeft:
		attrs = append(attrs, attr{AttrTruncation, truncLeft})
	case term.Truncation == cql.TruncBoth:
		attrs = append(attrs, attr{AttrTruncation, truncBoth})
	}
	if c.Relation == cql.RelExact {
		attrs = append(attrs, attr{AttrCompleteness, completenessComplete})
	}
	return attrs
}

func hasModifier(c *cql.SearchClauseNode, name string) bool {
	for _, m := range c.Modifiers {
		if m == name {
			return true
		}
	}
	return false
}

func writeClause(b *strings.Builder, attrs []attr, term string) {
	for _, a := range attrs {
		b.WriteString("@attr ")
		b.WriteString(strconv.Itoa(a.typ))
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(a.value))
		b.WriteByte(' ')
	}
	b.WriteString(quoteTerm(term))
}

func quoteTerm(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"\\{}") && s[0] != '@' {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
