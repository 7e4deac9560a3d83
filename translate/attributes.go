// Package translate lowers query ASTs into the native query form of each
// target kind.
//
// Session-protocol targets receive prefix-notation attribute queries; HTTP
// targets accept the common query language natively and receive the original
// text unchanged.
package translate

import (
	"maps"
	"strings"

	"github.com/pithecene-io/fedsearch/cql"
)

// Attribute types of the bib-1 attribute set.
const (
	AttrUse          = 1
	AttrRelation     = 2
	AttrPosition     = 3
	AttrStructure    = 4
	AttrTruncation   = 5
	AttrCompleteness = 6
)

// Attribute values used by the lowering.
const (
	positionFirstInField = 1
	structurePhrase      = 1
	structureWord        = 2
	truncRight           = 1
	truncLeft            = 2
	truncBoth            = 3
	truncMasked          = 104
	completenessComplete = 3
	useServerChoice      = 1016
)

// AttributeSet maps index and relation names to numeric attribute codes.
// Index names are matched case-insensitively. Sets are immutable once built;
// use Merge to derive a customized copy.
type AttributeSet struct {
	Name      string
	use       map[string]int
	relations map[cql.Relation]int
}

// Bib1 returns the default bib-1 attribute set.
func Bib1() *AttributeSet {
	return &AttributeSet{
		Name: "bib-1",
		use: map[string]int{
			"title":            4,
			"series":           5,
			"isbn":             7,
			"issn":             8,
			"lccn":             9,
			"identifier":       12,
			"id":               12,
			"subject":          21,
			"date":             31,
			"year":             31,
			"language":         54,
			"note":             63,
			"name":             1002,
			"author":           1003,
			"creator":          1003,
			"publisher":        1018,
			"any":              useServerChoice,
			"serverchoice":     useServerChoice,
			"cql.serverchoice": useServerChoice,
			"anywhere":         1035,
		},
		relations: map[cql.Relation]int{
			cql.RelLT:    1,
			cql.RelLE:    2,
			cql.RelEQ:    3,
			cql.RelGE:    4,
			cql.RelGT:    5,
			cql.RelNE:    6,
			cql.RelExact: 3,
			cql.RelAny:   3,
			cql.RelAll:   3,
			cql.RelAdj:   3,
		},
	}
}

// Merge returns a copy of a with the given use and relation codes added or
// replaced. A code of 0 removes the entry.
func (a *AttributeSet) Merge(use map[string]int, relations map[string]int) *AttributeSet {
	out := &AttributeSet{
		Name:      a.Name,
		use:       maps.Clone(a.use),
		relations: maps.Clone(a.relations),
	}
	for name, code := range use {
		key := strings.ToLower(name)
		if code == 0 {
			delete(out.use, key)
			continue
		}
		out.use[key] = code
	}
	for name, code := range relations {
		rel := cql.Relation(strings.ToLower(name))
		if code == 0 {
			delete(out.relations, rel)
			continue
		}
		out.relations[rel] = code
	}
	return out
}

// Use returns the use attribute for an index. Context-set prefixes such as
// "dc." are tried verbatim first, then stripped.
func (a *AttributeSet) Use(index string) (int, bool) {
	key := strings.ToLower(index)
	if code, ok := a.use[key]; ok {
		return code, true
	}
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		code, ok := a.use[key[i+1:]]
		return code, ok
	}
	return 0, false
}

// Relation returns the relation attribute for a relation.
func (a *AttributeSet) Relation(rel cql.Relation) (int, bool) {
	code, ok := a.relations[rel]
	return code, ok
}
