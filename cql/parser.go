package cql

import "strings"

// MaxDepth bounds parenthesis and operator nesting.
const MaxDepth = 64

// Parser parses query text. The zero value uses backslash quote escapes.
type Parser struct {
	// Quotes selects the quote escape dialect.
	Quotes QuoteStyle
}

// Parse parses text with the default dialect.
func Parse(text string) (Node, error) {
	return Parser{}.Parse(text)
}

// Parse parses text into an AST. On error the returned node is nil and the
// error is a *SyntaxError.
func (p Parser) Parse(text string) (Node, error) {
	toks, err := tokenize(text, p.Quotes)
	if err != nil {
		return nil, err
	}
	if toks[0].kind == tokEOF {
		return nil, &SyntaxError{Position: 0, Msg: "empty query"}
	}

	st := &parseState{toks: toks, style: p.Quotes}
	n, err := st.parseOr(0)
	if err != nil {
		return nil, err
	}

	if t := st.peek(); t.kind != tokEOF {
		msg := "unexpected " + t.kind.String()
		switch t.kind {
		case tokRParen:
			msg = "unbalanced parentheses"
		case tokWord, tokString:
			msg = "expected boolean operator or relation"
		}
		return nil, &SyntaxError{Position: t.pos, Text: t.text, Msg: msg}
	}
	return n, nil
}

type parseState struct {
	toks  []token
	pos   int
	style QuoteStyle
}

func (s *parseState) peek() token {
	return s.toks[s.pos]
}

func (s *parseState) peekAt(offset int) token {
	if s.pos+offset >= len(s.toks) {
		return s.toks[len(s.toks)-1]
	}
	return s.toks[s.pos+offset]
}

func (s *parseState) next() token {
	t := s.toks[s.pos]
	if t.kind != tokEOF {
		s.pos++
	}
	return t
}

func (s *parseState) fail(t token, msg string) error {
	return &SyntaxError{Position: t.pos, Text: t.text, Msg: msg}
}

func (s *parseState) parseOr(depth int) (Node, error) {
	left, err := s.parseAnd(depth)
	if err != nil {
		return nil, err
	}
	for s.peek().is("or") {
		s.next()
		right, err := s.parseAnd(depth)
		if err != nil {
			return nil, err
		}
		left = &BooleanNode{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (s *parseState) parseAnd(depth int) (Node, error) {
	left, err := s.parseNot(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := s.peek()
		switch {
		case t.is("and"):
			s.next()
			right, err := s.parseNot(depth)
			if err != nil {
				return nil, err
			}
			left = &BooleanNode{Op: OpAnd, Left: left, Right: right}
		case t.is("not"):
			// Binary NOT: left and not right.
			s.next()
			right, err := s.parseClause(depth)
			if err != nil {
				return nil, err
			}
			left = &BooleanNode{Op: OpNot, Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

func (s *parseState) parseNot(depth int) (Node, error) {
	if !s.peek().is("not") {
		return s.parseClause(depth)
	}
	s.next()
	operand, err := s.parseClause(depth)
	if err != nil {
		return nil, err
	}
	return &BooleanNode{Op: OpNot, Right: operand}, nil
}

func (s *parseState) parseClause(depth int) (Node, error) {
	t := s.peek()
	if depth >= MaxDepth {
		return nil, s.fail(t, "query nested too deeply")
	}

	switch t.kind {
	case tokLParen:
		s.next()
		inner, err := s.parseOr(depth + 1)
		if err != nil {
			return nil, err
		}
		if closing := s.peek(); closing.kind != tokRParen {
			return nil, &SyntaxError{Position: t.pos, Text: "(", Msg: "unbalanced parentheses"}
		}
		s.next()
		return inner, nil
	case tokRParen:
		return nil, s.fail(t, "unbalanced parentheses")
	case tokEOF:
		return nil, s.fail(t, "unexpected end of query")
	case tokRelation, tokSlash:
		return nil, s.fail(t, "missing index before relation")
	}

	if isBooleanKeyword(t) {
		return nil, s.fail(t, "dangling boolean operator")
	}

	if rel, ok := s.relationAt(1); ok {
		if t.kind != tokWord {
			return nil, s.fail(t, "index must be a bare word")
		}
		s.next() // index
		s.next() // relation
		mods, err := s.parseModifiers()
		if err != nil {
			return nil, err
		}
		term, err := s.parseTerm()
		if err != nil {
			return nil, err
		}
		return &SearchClauseNode{Index: t.text, Relation: rel, Modifiers: mods, Term: term}, nil
	}

	term, err := s.parseTerm()
	if err != nil {
		return nil, err
	}
	return &SearchClauseNode{Index: ServerChoiceIndex, Relation: RelEQ, Term: term}, nil
}

// relationAt reports whether the token at offset is a relation.
func (s *parseState) relationAt(offset int) (Relation, bool) {
	t := s.peekAt(offset)
	switch t.kind {
	case tokRelation:
		rel, ok := symbolRelations[t.text]
		return rel, ok
	case tokWord:
		rel, ok := wordRelations[strings.ToLower(t.text)]
		return rel, ok
	}
	return "", false
}

func (s *parseState) parseModifiers() ([]string, error) {
	var mods []string
	for s.peek().kind == tokSlash {
		s.next()
		m := s.next()
		if m.kind != tokWord {
			return nil, s.fail(m, "missing relation modifier")
		}
		mods = append(mods, strings.ToLower(m.text))
	}
	return mods, nil
}

func (s *parseState) parseTerm() (Term, error) {
	t := s.peek()
	switch {
	case t.kind == tokString:
		s.next()
		return makeTerm(t.text, true, s.style), nil
	case t.kind == tokWord && !isBooleanKeyword(t):
		s.next()
		return makeTerm(t.text, false, s.style), nil
	case t.kind == tokEOF:
		return Term{}, s.fail(t, "missing term")
	default:
		return Term{}, s.fail(t, "missing term")
	}
}

func isBooleanKeyword(t token) bool {
	return t.is("and") || t.is("or") || t.is("not")
}
