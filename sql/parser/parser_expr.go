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
	"strconv"
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/lexer"
)

// Condition precedence: unary NOT (prefix);
// comparison/LIKE/IN/BETWEEN/IS NULL/EXISTS; NOT; AND; OR.
// parseCondition is the entry point, at OR precedence.
func (p *Parser) parseCondition() ast.Condition {
	return p.parseOr()
}

func (p *Parser) parseOr() ast.Condition {
	left := p.parseAnd()
	for p.isKeyword("OR") {
		t := p.advance()
		right := p.parseAnd()
		left = &ast.Logical{Pos: posOf(t), Op: ast.LogOr, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() ast.Condition {
	left := p.parseNot()
	for p.isKeyword("AND") {
		t := p.advance()
		right := p.parseNot()
		left = &ast.Logical{Pos: posOf(t), Op: ast.LogAnd, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseNot() ast.Condition {
	if p.isKeyword("NOT") {
		t := p.advance()
		inner := p.parseNot()
		return &ast.Logical{Pos: posOf(t), Op: ast.LogNot, Left: inner}
	}
	return p.parsePredicate()
}

// parsePredicate parses one comparison/LIKE/IN/BETWEEN/NULL/EXISTS term,
// or a parenthesized condition.
func (p *Parser) parsePredicate() ast.Condition {
	if p.isPunct("(") {
		// Could be a parenthesized condition, but we first try it as an
		// expression to support `(a + b) > c`; ambiguity is resolved by
		// trying the condition form only when it is unambiguous, i.e. the
		// token after the matching ) is AND/OR, a clause keyword (GROUP,
		// ORDER, HAVING, THEN, END), ")", ";" or EOF.
		save := p.pos
		p.advance()
		cond := p.parseOr()
		if p.isPunct(")") {
			p.advance()
			if p.atConditionBoundary() {
				return cond
			}
		}
		p.pos = save
	}

	if p.isKeyword("EXISTS") {
		t := p.advance()
		p.expectPunct("(")
		sel := p.parseSelect()
		p.expectPunct(")")
		return &ast.Exists{Pos: posOf(t), Select: sel}
	}

	expr := p.parseExpr()
	return p.parsePredicateTail(expr)
}

func (p *Parser) atConditionBoundary() bool {
	t := p.cur()
	if t.Kind == lexer.EOF {
		return true
	}
	if p.isPunct(")") || p.isPunct(";") {
		return true
	}
	if t.Kind == lexer.Keyword {
		switch strings.ToUpper(t.Text) {
		case "AND", "OR", "GROUP", "ORDER", "HAVING", "THEN", "END":
			return true
		}
	}
	return false
}

// parsePredicateTail handles the comparison/LIKE/IN/BETWEEN/IS suffixes
// that follow an already-parsed expression.
func (p *Parser) parsePredicateTail(left ast.Expression) ast.Condition {
	not := false
	if p.isKeyword("NOT") {
		// lookahead: only consume NOT here if it's followed by LIKE/IN/BETWEEN
		if nk := p.at(1); nk.Kind == lexer.Keyword {
			switch strings.ToUpper(nk.Text) {
			case "LIKE", "IN", "BETWEEN":
				p.advance()
				not = true
			}
		}
	}

	switch {
	case p.isKeyword("LIKE"):
		t := p.advance()
		pat := p.parseExpr()
		return &ast.Like{Pos: posOf(t), Expr: left, Pattern: pat, Not: not}
	case p.isKeyword("BETWEEN"):
		t := p.advance()
		lo := p.parseExpr()
		p.expectKeyword("AND")
		hi := p.parseExpr()
		return &ast.Between{Pos: posOf(t), Expr: left, Lo: lo, Hi: hi, Not: not}
	case p.isKeyword("IN"):
		t := p.advance()
		p.expectPunct("(")
		if p.isKeyword("SELECT") {
			sel := p.parseSelect()
			p.expectPunct(")")
			return &ast.InSubquery{Pos: posOf(t), Expr: left, Select: sel, Not: not}
		}
		var list []ast.Expression
		if !p.isPunct(")") {
			list = append(list, p.parseExpr())
			for p.isPunct(",") {
				p.advance()
				list = append(list, p.parseExpr())
			}
		}
		p.expectPunct(")")
		return &ast.In{Pos: posOf(t), Expr: left, List: list, Not: not}
	case p.isKeyword("IS"):
		t := p.advance()
		isNot := false
		if p.isKeyword("NOT") {
			p.advance()
			isNot = true
		}
		p.expectKeyword("NULL")
		return &ast.Null{Pos: posOf(t), Expr: left, Not: isNot}
	}

	op, ok := p.tryCompareOp()
	if ok {
		t := p.toks[p.pos-1]
		right := p.parseExpr()
		return &ast.Comparison{Pos: posOf(t), Op: op, Left: left, Right: right}
	}

	return &ast.ExpressionCondition{Pos: left.Position(), Expr: left}
}

func (p *Parser) tryCompareOp() (ast.CompareOp, bool) {
	t := p.cur()
	if t.Kind != lexer.Operator {
		return 0, false
	}
	switch t.Text {
	case "=":
		p.advance()
		return ast.CmpEq, true
	case "<>", "!=":
		p.advance()
		return ast.CmpNe, true
	case "<":
		p.advance()
		return ast.CmpLt, true
	case "<=":
		p.advance()
		return ast.CmpLe, true
	case ">":
		p.advance()
		return ast.CmpGt, true
	case ">=":
		p.advance()
		return ast.CmpGe, true
	}
	return 0, false
}

// ===== Expressions =====

func (p *Parser) parseExpr() ast.Expression {
	return p.parseAddSub()
}

func (p *Parser) parseAddSub() ast.Expression {
	left := p.parseMulDiv()
	for {
		var op ast.BinaryOp
		if p.isPunct("+") || (p.cur().Kind == lexer.Operator && p.cur().Text == "+") {
			op = ast.OpAdd
		} else if p.cur().Kind == lexer.Operator && p.cur().Text == "-" {
			op = ast.OpSub
		} else {
			break
		}
		t := p.advance()
		right := p.parseMulDiv()
		left = &ast.Binary{Pos: posOf(t), Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseMulDiv() ast.Expression {
	left := p.parseUnary()
	for {
		var op ast.BinaryOp
		switch {
		case p.cur().Kind == lexer.Operator && p.cur().Text == "*":
			op = ast.OpMul
		case p.cur().Kind == lexer.Operator && p.cur().Text == "/":
			op = ast.OpDiv
		case p.cur().Kind == lexer.Operator && p.cur().Text == "%":
			op = ast.OpMod
		default:
			return left
		}
		t := p.advance()
		right := p.parseUnary()
		left = &ast.Binary{Pos: posOf(t), Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() ast.Expression {
	if p.cur().Kind == lexer.Operator && (p.cur().Text == "-" || p.cur().Text == "+") {
		t := p.advance()
		op := ast.OpPos
		if t.Text == "-" {
			op = ast.OpNeg
		}
		return &ast.Unary{Pos: posOf(t), Op: op, Operand: p.parseUnary()}
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() ast.Expression {
	t := p.cur()
	switch {
	case t.Kind == lexer.Number:
		p.advance()
		return &ast.Literal{Pos: posOf(t), Value: parseNumber(t.Text)}
	case t.Kind == lexer.String:
		p.advance()
		return &ast.Literal{Pos: posOf(t), Value: unquoteString(t.Text)}
	case t.Kind == lexer.Keyword && strings.EqualFold(t.Text, "NULL"):
		p.advance()
		return &ast.Literal{Pos: posOf(t), Value: nil}
	case t.Kind == lexer.Variable:
		p.advance()
		return &ast.Variable{Pos: posOf(t), Name: strings.TrimPrefix(t.Text, "@")}
	case t.Kind == lexer.Keyword && strings.EqualFold(t.Text, "CASE"):
		return p.parseCase()
	case t.Kind == lexer.Keyword && (strings.EqualFold(t.Text, "CAST") || strings.EqualFold(t.Text, "CONVERT")):
		return p.parseCast()
	case p.isPunct("("):
		p.advance()
		if p.isKeyword("SELECT") {
			sel := p.parseSelect()
			p.expectPunct(")")
			return &ast.Subquery{Pos: posOf(t), Select: sel}
		}
		inner := p.parseExpr()
		p.expectPunct(")")
		return inner
	case t.Kind == lexer.Identifier || t.Kind == lexer.BracketedIdent || t.Kind == lexer.QuotedIdent:
		return p.parseIdentOrCall()
	case t.Kind == lexer.Keyword && p.at(1).Kind == lexer.Punctuation && p.at(1).Text == "(":
		// keyword-named functions such as LEFT(...) and RIGHT(...)
		return p.parseIdentOrCall()
	default:
		p.fail(ErrUnexpectedToken, "an expression")
		p.advance()
		return &ast.Literal{Pos: posOf(t), Value: nil}
	}
}

func unbracket(text string) string {
	if len(text) >= 2 && text[0] == '[' && text[len(text)-1] == ']' {
		return text[1 : len(text)-1]
	}
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		return text[1 : len(text)-1]
	}
	return text
}

func (p *Parser) parseIdentOrCall() ast.Expression {
	t := p.advance()
	name := unbracket(t.Text)

	if p.isPunct(".") {
		p.advance()
		t2 := p.advance()
		col := unbracket(t2.Text)
		if p.isPunct("(") {
			// unusual but tolerated: table.func(...) is treated as a plain
			// function call on the unqualified name.
			return p.parseCallArgs(t, col)
		}
		return &ast.ColumnRef{Pos: posOf(t), Table: name, Column: col}
	}

	if p.isPunct("(") {
		return p.parseCallArgs(t, name)
	}

	return &ast.ColumnRef{Pos: posOf(t), Column: name}
}

func (p *Parser) parseCallArgs(t lexer.Token, name string) ast.Expression {
	p.advance() // (
	distinct := false
	if p.isKeyword("DISTINCT") {
		p.advance()
		distinct = true
	}
	var args []ast.Expression
	if strings.EqualFold(name, "COUNT") && p.cur().Kind == lexer.Operator && p.cur().Text == "*" {
		p.advance()
		args = append(args, &ast.ColumnRef{Pos: posOf(t), Column: "*"})
	} else if !p.isPunct(")") {
		args = append(args, p.parseExpr())
		for p.isPunct(",") {
			p.advance()
			args = append(args, p.parseExpr())
		}
	}
	p.expectPunct(")")
	fn := &ast.Function{Pos: posOf(t), Name: name, Args: args, Distinct: distinct}
	if p.isKeyword("OVER") {
		p.advance()
		fn.Over = p.parseOverClause()
	}
	return fn
}

// parseOverClause parses `( [PARTITION BY expr, ...] [ORDER BY item, ...] )`
// following an OVER keyword.
func (p *Parser) parseOverClause() *ast.OverClause {
	over := &ast.OverClause{}
	p.expectPunct("(")
	if p.isKeyword("PARTITION") {
		p.advance()
		p.expectKeyword("BY")
		over.PartitionBy = append(over.PartitionBy, p.parseExpr())
		for p.isPunct(",") {
			p.advance()
			over.PartitionBy = append(over.PartitionBy, p.parseExpr())
		}
	}
	if p.isKeyword("ORDER") {
		p.advance()
		p.expectKeyword("BY")
		over.OrderBy = p.parseOrderByList()
	}
	p.expectPunct(")")
	return over
}

func (p *Parser) parseCase() ast.Expression {
	t := p.advance() // CASE
	c := &ast.Case{Pos: posOf(t)}
	if !p.isKeyword("WHEN") {
		c.Operand = p.parseExpr()
	}
	for p.isKeyword("WHEN") {
		p.advance()
		wt := ast.WhenThen{}
		if c.Operand != nil {
			wt.Val = p.parseExpr()
		} else {
			wt.When = p.parseCondition()
		}
		p.expectKeyword("THEN")
		wt.Then = p.parseExpr()
		c.Whens = append(c.Whens, wt)
	}
	if p.isKeyword("ELSE") {
		p.advance()
		c.Else = p.parseExpr()
	}
	p.expectKeyword("END")
	return c
}

func (p *Parser) parseCast() ast.Expression {
	t := p.advance() // CAST or CONVERT
	isCast := strings.EqualFold(t.Text, "CAST")
	p.expectPunct("(")
	if isCast {
		expr := p.parseExpr()
		p.expectKeyword("AS")
		typ := p.parseTypeName()
		p.expectPunct(")")
		return &ast.Cast{Pos: posOf(t), Expr: expr, TargetType: typ}
	}
	typ := p.parseTypeName()
	p.expectPunct(",")
	expr := p.parseExpr()
	p.expectPunct(")")
	return &ast.Cast{Pos: posOf(t), Expr: expr, TargetType: typ}
}

func (p *Parser) parseTypeName() string {
	tk := p.advance()
	name := tk.Text
	if p.isPunct("(") {
		// swallow size/precision args, e.g. nvarchar(100), decimal(18,2)
		p.advance()
		depth := 1
		for depth > 0 && p.cur().Kind != lexer.EOF {
			if p.isPunct("(") {
				depth++
			} else if p.isPunct(")") {
				depth--
			}
			p.advance()
		}
	}
	return strings.ToLower(name)
}

func parseNumber(text string) interface{} {
	if strings.ContainsAny(text, ".eE") {
		f, _ := strconv.ParseFloat(text, 64)
		return f
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		f, _ := strconv.ParseFloat(text, 64)
		return f
	}
	return i
}

func unquoteString(text string) string {
	if len(text) >= 2 {
		text = text[1 : len(text)-1]
	}
	return strings.ReplaceAll(text, "''", "'")
}
