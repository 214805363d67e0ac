// Package logic turns an EAP's boolean expression over its event names into
// the 8-entry lookup table (UDF) of the EAP register.
package logic

import (
	"fmt"
	"unicode"
)

// Expr is a parsed boolean expression.
type Expr interface{ isExpr() }

type ExprIdent struct{ Name string }

func (ExprIdent) isExpr() {}

type ExprNot struct{ X Expr }

func (ExprNot) isExpr() {}

type ExprAnd struct{ A, B Expr }

func (ExprAnd) isExpr() {}

type ExprOr struct{ A, B Expr }

func (ExprOr) isExpr() {}

type ExprConst struct{ Value bool }

func (ExprConst) isExpr() {}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokNot
	tokAnd
	tokOr
	tokLParen
	tokRParen
	tokBad
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	s   string
	i   int
	buf *token
}

func (l *lexer) peek() token {
	if l.buf == nil {
		t := l.scan()
		l.buf = &t
	}
	return *l.buf
}

func (l *lexer) next() token {
	t := l.peek()
	l.buf = nil
	return t
}

func (l *lexer) scan() token {
	for l.i < len(l.s) && unicode.IsSpace(rune(l.s[l.i])) {
		l.i++
	}
	if l.i >= len(l.s) {
		return token{kind: tokEOF, pos: l.i}
	}
	start := l.i
	ch := l.s[l.i]
	// && and || are the same operators as & and |.
	double := func(kind tokenKind, op byte) token {
		l.i++
		if l.i < len(l.s) && l.s[l.i] == op {
			l.i++
		}
		return token{kind: kind, text: l.s[start:l.i], pos: start}
	}
	switch ch {
	case '!', '~':
		l.i++
		return token{kind: tokNot, text: string(ch), pos: start}
	case '&':
		return double(tokAnd, '&')
	case '|':
		return double(tokOr, '|')
	case '(':
		l.i++
		return token{kind: tokLParen, text: "(", pos: start}
	case ')':
		l.i++
		return token{kind: tokRParen, text: ")", pos: start}
	}

	if isIdentStart(ch) {
		l.i++
		for l.i < len(l.s) && isIdentPart(l.s[l.i]) {
			l.i++
		}
		return token{kind: tokIdent, text: l.s[start:l.i], pos: start}
	}
	if unicode.IsDigit(rune(ch)) {
		l.i++
		for l.i < len(l.s) && unicode.IsDigit(rune(l.s[l.i])) {
			l.i++
		}
		return token{kind: tokNumber, text: l.s[start:l.i], pos: start}
	}

	l.i++
	return token{kind: tokBad, text: string(ch), pos: start}
}

func isIdentStart(b byte) bool {
	return unicode.IsLetter(rune(b)) || b == '_' || b == '$'
}

func isIdentPart(b byte) bool {
	return isIdentStart(b) || unicode.IsDigit(rune(b)) || b == '.'
}

type parser struct {
	lex *lexer
}

// Parse parses an expression. Precedence is not, then and, then or.
func Parse(src string) (Expr, error) {
	p := &parser{lex: &lexer{s: src}}
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.lex.next(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", tok.text, tok.pos)
	}
	return x, nil
}

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.lex.peek().kind == tokOr {
		p.lex.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ExprOr{A: left, B: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.lex.peek().kind == tokAnd {
		p.lex.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ExprAnd{A: left, B: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.lex.peek().kind == tokNot {
		p.lex.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ExprNot{X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.lex.next()
	switch tok.kind {
	case tokIdent:
		return ExprIdent{Name: tok.text}, nil
	case tokNumber:
		switch tok.text {
		case "0":
			return ExprConst{Value: false}, nil
		case "1":
			return ExprConst{Value: true}, nil
		}
		return nil, fmt.Errorf("constant %s at offset %d is not 0 or 1", tok.text, tok.pos)
	case tokLParen:
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if rp := p.lex.next(); rp.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at offset %d", rp.pos)
		}
		return x, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", tok.text, tok.pos)
	}
}

// Names lists the identifiers an expression references, in first-use order.
func Names(x Expr) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Expr)
	walk = func(x Expr) {
		switch e := x.(type) {
		case ExprIdent:
			if !seen[e.Name] {
				seen[e.Name] = true
				out = append(out, e.Name)
			}
		case ExprNot:
			walk(e.X)
		case ExprAnd:
			walk(e.A)
			walk(e.B)
		case ExprOr:
			walk(e.A)
			walk(e.B)
		}
	}
	walk(x)
	return out
}
