// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package parser turns T-SQL text into an ast.Statement. It
// never panics and never produces a half-built AST node: a recognized
// production either succeeds completely or reports a *ParseError.
package parser

import (
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/lexer"
)

// Parser is a recursive-descent parser over a pre-filtered token stream
// (whitespace and comments dropped, positions preserved).
type Parser struct {
	toks     []lexer.Token
	pos      int
	tolerant bool
	errs     []*ParseError
}

func newParser(src string, tolerant bool) *Parser {
	raw := lexer.Tokenize(src)
	toks := make([]lexer.Token, 0, len(raw))
	for _, t := range raw {
		if t.Kind == lexer.Whitespace || t.Kind == lexer.Comment {
			continue
		}
		toks = append(toks, t)
	}
	return &Parser{toks: toks, tolerant: tolerant}
}

// Parse parses a complete script and returns its Statement, or the first
// ParseError encountered.
func Parse(text string) (ast.Statement, error) {
	p := newParser(text, false)
	stmt := p.parseScript()
	if len(p.errs) > 0 {
		return nil, p.errs[0]
	}
	return stmt, nil
}

// ParsePartial retains as much of the tree as possible on error, for the
// editor's autocomplete/diagnostics surface.
func ParsePartial(text string) (ast.Statement, []*ParseError) {
	p := newParser(text, true)
	stmt := p.parseScript()
	return stmt, p.errs
}

func (p *Parser) cur() lexer.Token {
	if p.pos >= len(p.toks) {
		return lexer.Token{Kind: lexer.EOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) at(off int) lexer.Token {
	i := p.pos + off
	if i >= len(p.toks) || i < 0 {
		return lexer.Token{Kind: lexer.EOF}
	}
	return p.toks[i]
}

func (p *Parser) advance() lexer.Token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *Parser) isKeyword(word string) bool {
	t := p.cur()
	return t.Kind == lexer.Keyword && strings.EqualFold(t.Text, word)
}

func (p *Parser) isPunct(text string) bool {
	t := p.cur()
	return (t.Kind == lexer.Punctuation || t.Kind == lexer.Operator) && t.Text == text
}

func (p *Parser) snippet() string {
	start := p.pos - 2
	if start < 0 {
		start = 0
	}
	end := p.pos + 3
	if end > len(p.toks) {
		end = len(p.toks)
	}
	var sb strings.Builder
	for i := start; i < end; i++ {
		sb.WriteString(p.toks[i].Text)
		sb.WriteString(" ")
	}
	return strings.TrimSpace(sb.String())
}

func (p *Parser) fail(code ErrorCode, expected string) *ParseError {
	t := p.cur()
	found := t.Text
	if t.Kind == lexer.EOF {
		found = "<eof>"
		code = ErrUnexpectedEOF
	}
	e := &ParseError{Code: code, Line: t.Line, Column: t.Column, Offset: t.Offset, Expected: expected, Found: found, Snippet: p.snippet()}
	p.errs = append(p.errs, e)
	return e
}

// expectKeyword consumes a keyword token, recording a ParseError if it does
// not match.
func (p *Parser) expectKeyword(word string) bool {
	if p.isKeyword(word) {
		p.advance()
		return true
	}
	p.fail(ErrUnexpectedToken, word)
	return false
}

func (p *Parser) expectPunct(text string) bool {
	if p.isPunct(text) {
		p.advance()
		return true
	}
	p.fail(ErrUnexpectedToken, text)
	return false
}

// recover implements tolerant mode: "on mismatch, skip to
// next statement separator or clause keyword; emit an error record;
// continue."
func (p *Parser) recover() {
	for p.cur().Kind != lexer.EOF {
		if p.isPunct(";") {
			p.advance()
			return
		}
		if kw := p.cur(); kw.Kind == lexer.Keyword {
			switch strings.ToUpper(kw.Text) {
			case "SELECT", "INSERT", "UPDATE", "DELETE", "IF", "WHILE", "BEGIN", "DECLARE":
				return
			}
		}
		p.advance()
	}
}

// ===== Script / statement dispatch =====

func (p *Parser) parseScript() ast.Statement {
	start := p.cur()
	var stmts []ast.Statement
	for p.cur().Kind != lexer.EOF {
		if p.isPunct(";") {
			p.advance()
			continue
		}
		s := p.parseStatement()
		if s != nil {
			stmts = append(stmts, s)
		} else if p.tolerant {
			p.recover()
		} else {
			break
		}
	}
	if len(stmts) == 1 {
		return stmts[0]
	}
	return &ast.Script{Statements: stmts, Pos: posOf(start)}
}

func posOf(t lexer.Token) ast.Pos {
	return ast.Pos{Line: t.Line, Column: t.Column, Offset: t.Offset}
}

func (p *Parser) parseStatement() ast.Statement {
	switch {
	case p.isKeyword("SELECT"):
		return p.parseSelectStatement()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("IF"):
		return p.parseIf()
	case p.isKeyword("BEGIN"):
		return p.parseBlock()
	case p.isKeyword("WHILE"):
		return p.parseWhile()
	case p.isKeyword("BREAK"):
		t := p.advance()
		return &ast.Break{Pos: posOf(t)}
	case p.isKeyword("CONTINUE"):
		t := p.advance()
		return &ast.Continue{Pos: posOf(t)}
	case p.isKeyword("DECLARE"):
		return p.parseDeclare()
	case p.isKeyword("SET") && p.at(1).Kind == lexer.Variable:
		return p.parseSetVar()
	case p.isKeyword("RAISERROR"):
		return p.parseRaiseError()
	default:
		p.fail(ErrUnexpectedToken, "a statement")
		return nil
	}
}
