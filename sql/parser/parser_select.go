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

// parseSelectStatement parses a SELECT, folding in a trailing
// `UNION [ALL] SELECT ...` into an ast.Union.
func (p *Parser) parseSelectStatement() ast.Statement {
	var stmt ast.Statement = p.parseSelect()
	for p.isKeyword("UNION") {
		t := p.advance()
		all := false
		if p.isKeyword("ALL") {
			p.advance()
			all = true
		}
		right := p.parseSelect()
		stmt = &ast.Union{Pos: posOf(t), Left: stmt, Right: right, All: all}
	}
	return stmt
}

// parseSelect parses one SELECT (without folding UNION), including an
// optional leading WITH clause.
func (p *Parser) parseSelect() *ast.Select {
	start := p.cur()
	sel := &ast.Select{Pos: posOf(start)}

	if p.isKeyword("WITH") {
		p.advance()
		sel.CTEs = p.parseCteList()
	}

	p.expectKeyword("SELECT")

	if p.isKeyword("DISTINCT") {
		p.advance()
		sel.Distinct = true
	} else if p.isKeyword("ALL") {
		p.advance()
	}

	if p.isKeyword("TOP") {
		p.advance()
		paren := p.isPunct("(")
		if paren {
			p.advance()
		}
		sel.Top = p.parseExpr()
		if paren {
			p.expectPunct(")")
		}
	}

	sel.Columns = p.parseSelectColumns()

	if p.isKeyword("FROM") {
		p.advance()
		sel.From = p.parseTableSource()
		sel.Joins = p.parseJoins()
	}

	if p.isKeyword("WHERE") {
		p.advance()
		sel.Where = p.parseCondition()
	}

	if p.isKeyword("GROUP") {
		p.advance()
		p.expectKeyword("BY")
		sel.GroupBy = append(sel.GroupBy, p.parseExpr())
		for p.isPunct(",") {
			p.advance()
			sel.GroupBy = append(sel.GroupBy, p.parseExpr())
		}
	}

	if p.isKeyword("HAVING") {
		p.advance()
		sel.Having = p.parseCondition()
	}

	if p.isKeyword("ORDER") {
		p.advance()
		p.expectKeyword("BY")
		sel.OrderBy = p.parseOrderByList()
	}

	if p.isKeyword("OFFSET") {
		p.advance()
		sel.Offset = p.parseExpr()
		p.expectKeyword("ROWS")
		if p.isKeyword("FETCH") {
			p.advance()
			p.expectKeyword("NEXT")
			sel.Top = p.parseExpr()
			p.expectKeyword("ROWS")
			p.expectKeyword("ONLY")
		}
	}

	if p.isKeyword("OPTION") {
		p.advance()
		sel.Hints = p.parseOptionHints()
	}

	return sel
}

func (p *Parser) parseCteList() []ast.CteDef {
	var defs []ast.CteDef
	for {
		name := unbracket(p.advance().Text)
		var cols []string
		if p.isPunct("(") {
			p.advance()
			cols = append(cols, unbracket(p.advance().Text))
			for p.isPunct(",") {
				p.advance()
				cols = append(cols, unbracket(p.advance().Text))
			}
			p.expectPunct(")")
		}
		p.expectKeyword("AS")
		p.expectPunct("(")
		body := p.parseSelect()
		p.expectPunct(")")
		defs = append(defs, ast.CteDef{Name: name, Columns: cols, Body: body, Recursive: cteIsRecursive(name, body)})
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return defs
}

// cteIsRecursive detects a self-reference to name in body's FROM source or
// one of its JOIN sources: a CTE that references itself there is a
// recursive CTE. Derived tables and subqueries inside body are not searched.
func cteIsRecursive(name string, body *ast.Select) bool {
	found := false
	var walk func(ts ast.TableSource)
	walk = func(ts ast.TableSource) {
		if ts == nil || found {
			return
		}
		switch t := ts.(type) {
		case *ast.CteRef:
			if strings.EqualFold(t.Name, name) {
				found = true
			}
		case *ast.NamedTable:
			if strings.EqualFold(t.Table.Entity, name) && t.Table.EnvLabel == "" && t.Table.Schema == "" {
				found = true
			}
		}
	}
	walk(body.From)
	for _, j := range body.Joins {
		walk(j.Table)
	}
	return found
}

func (p *Parser) parseSelectColumns() []ast.SelectColumn {
	var cols []ast.SelectColumn
	cols = append(cols, p.parseSelectColumn())
	for p.isPunct(",") {
		p.advance()
		cols = append(cols, p.parseSelectColumn())
	}
	return cols
}

func (p *Parser) parseSelectColumn() ast.SelectColumn {
	if p.cur().Kind == lexer.Operator && p.cur().Text == "*" {
		p.advance()
		return ast.SelectColumn{Star: true}
	}
	if (p.cur().Kind == lexer.Identifier || p.cur().Kind == lexer.BracketedIdent) &&
		p.at(1).Kind == lexer.Punctuation && p.at(1).Text == "." &&
		p.at(2).Kind == lexer.Operator && p.at(2).Text == "*" {
		table := unbracket(p.advance().Text)
		p.advance() // .
		p.advance() // *
		return ast.SelectColumn{Star: true, Table: table}
	}

	expr := p.parseExpr()
	col := ast.SelectColumn{Expr: expr}
	if p.isKeyword("AS") {
		p.advance()
		col.Alias = unbracket(p.advance().Text)
	} else if p.cur().Kind == lexer.Identifier || p.cur().Kind == lexer.BracketedIdent || p.cur().Kind == lexer.QuotedIdent {
		col.Alias = unbracket(p.advance().Text)
	}
	return col
}

func (p *Parser) parseTableSource() ast.TableSource {
	t := p.cur()
	if p.isPunct("(") {
		p.advance()
		sel := p.parseSelect()
		p.expectPunct(")")
		dt := &ast.DerivedTable{Pos: posOf(t), Select: sel}
		if p.isKeyword("AS") {
			p.advance()
		}
		if p.cur().Kind == lexer.Identifier || p.cur().Kind == lexer.BracketedIdent {
			dt.Alias = unbracket(p.advance().Text)
		}
		return dt
	}

	name := p.parseTableName()
	nt := &ast.NamedTable{Pos: posOf(t), Table: name}
	if p.isKeyword("WITH") {
		p.advance()
		p.expectPunct("(")
		for !p.isPunct(")") && p.cur().Kind != lexer.EOF {
			hint := p.advance()
			if strings.EqualFold(hint.Text, "NOLOCK") {
				nt.NoLock = true
			}
		}
		p.expectPunct(")")
	}
	return nt
}

// parseTableName parses `[env].schema.entity [[AS] alias]`.
func (p *Parser) parseTableName() ast.TableName {
	var parts []string
	var envLabel string

	first := p.cur()
	if first.Kind == lexer.BracketedIdent {
		envLabel = unbracket(first.Text)
		p.advance()
		p.expectPunct(".")
	}
	parts = append(parts, unbracket(p.advance().Text))
	for p.isPunct(".") {
		p.advance()
		parts = append(parts, unbracket(p.advance().Text))
	}

	name := ast.TableName{EnvLabel: envLabel}
	switch len(parts) {
	case 1:
		name.Entity = parts[0]
	case 2:
		name.Schema = parts[0]
		name.Entity = parts[1]
	default:
		name.Schema = strings.Join(parts[:len(parts)-1], ".")
		name.Entity = parts[len(parts)-1]
	}

	if p.isKeyword("AS") {
		p.advance()
		name.Alias = unbracket(p.advance().Text)
	} else if p.cur().Kind == lexer.Identifier || p.cur().Kind == lexer.BracketedIdent {
		name.Alias = unbracket(p.advance().Text)
	}
	return name
}

func (p *Parser) parseJoins() []ast.Join {
	var joins []ast.Join
	for {
		kind, ok := p.tryJoinKind()
		if !ok {
			break
		}
		hint := ""
		if p.isKeyword("MERGE") || p.isKeyword("HASH") || p.isKeyword("LOOP") {
			hint = strings.ToUpper(p.advance().Text)
		}
		table := p.parseTableSource()
		j := ast.Join{Kind: kind, Table: table, Hint: hint}
		if kind != ast.JoinCross && kind != ast.JoinCrossApply && kind != ast.JoinOuterApply {
			p.expectKeyword("ON")
			j.On = p.parseCondition()
		}
		joins = append(joins, j)
	}
	return joins
}

func (p *Parser) tryJoinKind() (ast.JoinKind, bool) {
	switch {
	case p.isKeyword("INNER"):
		p.advance()
		p.expectKeyword("JOIN")
		return ast.JoinInner, true
	case p.isKeyword("JOIN"):
		p.advance()
		return ast.JoinInner, true
	case p.isKeyword("LEFT"):
		p.advance()
		if p.isKeyword("OUTER") {
			p.advance()
		}
		p.expectKeyword("JOIN")
		return ast.JoinLeft, true
	case p.isKeyword("RIGHT"):
		p.advance()
		if p.isKeyword("OUTER") {
			p.advance()
		}
		p.expectKeyword("JOIN")
		return ast.JoinRight, true
	case p.isKeyword("FULL"):
		p.advance()
		if p.isKeyword("OUTER") {
			p.advance()
		}
		p.expectKeyword("JOIN")
		return ast.JoinFullOuter, true
	case p.isKeyword("CROSS"):
		p.advance()
		if p.isKeyword("APPLY") {
			p.advance()
			return ast.JoinCrossApply, true
		}
		p.expectKeyword("JOIN")
		return ast.JoinCross, true
	case p.isKeyword("OUTER"):
		p.advance()
		p.expectKeyword("APPLY")
		return ast.JoinOuterApply, true
	default:
		return 0, false
	}
}

func (p *Parser) parseOrderByList() []ast.OrderByItem {
	var items []ast.OrderByItem
	items = append(items, p.parseOrderByItem())
	for p.isPunct(",") {
		p.advance()
		items = append(items, p.parseOrderByItem())
	}
	return items
}

func (p *Parser) parseOrderByItem() ast.OrderByItem {
	expr := p.parseExpr()
	item := ast.OrderByItem{Expr: expr}
	if p.isKeyword("DESC") {
		p.advance()
		item.Desc = true
	} else if p.isKeyword("ASC") {
		p.advance()
	}
	return item
}

// parseOptionHints parses `OPTION (BATCH_SIZE 100, MAXDOP 4, NOLOCK, ...)`
// per the recognized hint list.
func (p *Parser) parseOptionHints() map[string]string {
	hints := make(map[string]string)
	p.expectPunct("(")
	for !p.isPunct(")") && p.cur().Kind != lexer.EOF {
		name := strings.ToUpper(p.advance().Text)
		val := ""
		if p.cur().Kind == lexer.Number || p.cur().Kind == lexer.Identifier {
			val = p.advance().Text
		}
		hints[name] = val
		if p.isPunct(",") {
			p.advance()
		}
	}
	p.expectPunct(")")
	return hints
}
