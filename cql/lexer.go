package cql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// QuoteStyle selects how a literal double quote is escaped inside a quoted term.
type QuoteStyle int

const (
	// QuoteBackslash escapes with a backslash: "say \"hi\"". Backslash also
	// escapes wildcard characters.
	QuoteBackslash QuoteStyle = iota
	// QuoteDoubled escapes by doubling: "say ""hi""".
	QuoteDoubled
)

// SyntaxError reports a malformed query. Position is a 0-based byte offset.
type SyntaxError struct {
	Position int
	Text     string
	Msg      string
}

func (e *SyntaxError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("syntax error at position %d: %s", e.Position, e.Msg)
	}
	return fmt.Sprintf("syntax error at position %d near %q: %s", e.Position, e.Text, e.Msg)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokRelation
	tokSlash
	tokWord
	tokString
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokRelation:
		return "relation"
	case tokSlash:
		return "'/'"
	case tokWord:
		return "word"
	case tokString:
		return "quoted string"
	default:
		return "token"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// is reports whether t is a bare word equal to kw, ignoring case.
func (t token) is(kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

const wordStops = `()"<>=/`

// tokenize splits input into tokens. Quoted strings have their quote escapes
// resolved; other backslash escapes are left for term processing.
func tokenize(input string, style QuoteStyle) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '/':
			toks = append(toks, token{kind: tokSlash, text: "/", pos: i})
			i++
		case r == '<' || r == '>' || r == '=':
			op := input[i : i+1]
			if i+1 < len(input) {
				two := input[i : i+2]
				if _, ok := symbolRelations[two]; ok {
					op = two
				}
			}
			toks = append(toks, token{kind: tokRelation, text: op, pos: i})
			i += len(op)
		case r == '"':
			text, next, err := scanQuoted(input, i, style)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text, pos: i})
			i = next
		default:
			start := i
			for i < len(input) {
				r, size := utf8.DecodeRuneInString(input[i:])
				if unicode.IsSpace(r) || strings.ContainsRune(wordStops, r) {
					break
				}
				i += size
			}
			toks = append(toks, token{kind: tokWord, text: input[start:i], pos: start})
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(input)})
	return toks, nil
}

// scanQuoted reads a quoted string starting at the opening quote at start.
// It returns the unquoted text and the offset just past the closing quote.
func scanQuoted(input string, start int, style QuoteStyle) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(input) {
		c := input[i]
		switch {
		case style == QuoteBackslash && c == '\\' && i+1 < len(input):
			if input[i+1] == '"' {
				b.WriteByte('"')
			} else {
				b.WriteByte('\\')
				b.WriteByte(input[i+1])
			}
			i += 2
		case c == '"' && style == QuoteDoubled && i+1 < len(input) && input[i+1] == '"':
			b.WriteByte('"')
			i += 2
		case c == '"':
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, &SyntaxError{
		Position: start,
		Text:     input[start:],
		Msg:      "unterminated quoted string",
	}
}

// makeTerm strips truncation markers from raw term text and flags interior
// masking. Backslash-escaped wildcards are literal under QuoteBackslash.
func makeTerm(raw string, quoted bool, style QuoteStyle) Term {
	var value []rune
	var wild []bool
	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if style == QuoteBackslash && r == '\\' && i+1 < len(runes) {
			value = append(value, runes[i+1])
			wild = append(wild, false)
			i++
			continue
		}
		value = append(value, r)
		wild = append(wild, r == '*' || r == '?')
	}

	term := Term{Quoted: quoted}
	allWild := len(value) > 0
	for _, w := range wild {
		allWild = allWild && w
	}
	if allWild {
		term.Value = string(value)
		term.Masked = true
		return term
	}

	left := len(value) > 0 && wild[0] && value[0] == '*'
	right := len(value) > 1 && wild[len(value)-1] && value[len(value)-1] == '*'
	if right {
		value, wild = value[:len(value)-1], wild[:len(wild)-1]
	}
	if left {
		value, wild = value[1:], wild[1:]
	}
	switch {
	case left && right:
		term.Truncation = TruncBoth
	case left:
		term.Truncation = TruncLeft
	case right:
		term.Truncation = TruncRight
	}
	for _, w := range wild {
		if w {
			term.Masked = true
			break
		}
	}
	term.Value = string(value)
	return term
}
