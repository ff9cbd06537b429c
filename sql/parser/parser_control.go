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

package parser

import (
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/lexer"
)

func (p *Parser) parseIf() ast.Statement {
	t := p.advance() // IF
	cond := p.parseCondition()
	then := p.parseStatement()
	n := &ast.If{Pos: posOf(t), Condition: cond, Then: then}
	if p.isPunct(";") {
		p.advance()
	}
	if p.isKeyword("ELSE") {
		p.advance()
		n.Else = p.parseStatement()
	}
	return n
}

func (p *Parser) parseBlock() ast.Statement {
	t := p.advance() // BEGIN
	blk := &ast.Block{Pos: posOf(t)}
	for !p.isKeyword("END") && p.cur().Kind != lexer.EOF {
		if p.isPunct(";") {
			p.advance()
			continue
		}
		s := p.parseStatement()
		if s == nil {
			if p.tolerant {
				p.recover()
				continue
			}
			break
		}
		blk.Statements = append(blk.Statements, s)
	}
	p.expectKeyword("END")
	return blk
}

func (p *Parser) parseWhile() ast.Statement {
	t := p.advance() // WHILE
	cond := p.parseCondition()
	body := p.parseStatement()
	return &ast.While{Pos: posOf(t), Condition: cond, Body: body}
}

func (p *Parser) parseDeclare() ast.Statement {
	t := p.advance() // DECLARE
	if p.isKeyword("VAR") { // tolerate `DECLARE VAR @x ...` alias forms
		p.advance()
	}
	name := strings.TrimPrefix(p.advance().Text, "@")
	typ := p.parseTypeName()
	d := &ast.DeclareVar{Pos: posOf(t), Name: name, Type: typ}
	if p.cur().Kind == lexer.Operator && p.cur().Text == "=" {
		p.advance()
		d.Init = p.parseExpr()
	}
	return d
}

func (p *Parser) parseSetVar() ast.Statement {
	t := p.advance() // SET
	name := strings.TrimPrefix(p.advance().Text, "@")
	p.expectPunct("=")
	val := p.parseExpr()
	return &ast.SetVar{Pos: posOf(t), Name: name, Value: val}
}

func (p *Parser) parseRaiseError() ast.Statement {
	t := p.advance() // RAISERROR
	p.expectPunct("(")
	msg := p.parseExpr()
	r := &ast.RaiseError{Pos: posOf(t), Message: msg}
	if p.isPunct(",") {
		p.advance()
		r.Severity = p.parseExpr()
	}
	if p.isPunct(",") {
		p.advance()
		r.State = p.parseExpr()
	}
	p.expectPunct(")")
	return r
}
