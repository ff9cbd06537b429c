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
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
)

func (p *Parser) parseInsert() ast.Statement {
	t := p.advance() // INSERT
	p.expectKeyword("INTO")
	target := p.parseTableName()

	ins := &ast.Insert{Pos: posOf(t), Target: target}

	if p.isPunct("(") {
		p.advance()
		ins.Columns = append(ins.Columns, unbracket(p.advance().Text))
		for p.isPunct(",") {
			p.advance()
			ins.Columns = append(ins.Columns, unbracket(p.advance().Text))
		}
		p.expectPunct(")")
	}

	if p.isKeyword("SELECT") {
		ins.Source = p.parseSelect()
		return ins
	}

	p.expectKeyword("VALUES")
	ins.Values = append(ins.Values, p.parseValuesRow())
	for p.isPunct(",") {
		p.advance()
		ins.Values = append(ins.Values, p.parseValuesRow())
	}
	return ins
}

func (p *Parser) parseValuesRow() []ast.Expression {
	p.expectPunct("(")
	var row []ast.Expression
	if !p.isPunct(")") {
		row = append(row, p.parseExpr())
		for p.isPunct(",") {
			p.advance()
			row = append(row, p.parseExpr())
		}
	}
	p.expectPunct(")")
	return row
}

func (p *Parser) parseUpdate() ast.Statement {
	t := p.advance() // UPDATE
	target := p.parseTableName()
	upd := &ast.Update{Pos: posOf(t), Target: target}

	p.expectKeyword("SET")
	upd.Set = append(upd.Set, p.parseAssignColumn())
	for p.isPunct(",") {
		p.advance()
		upd.Set = append(upd.Set, p.parseAssignColumn())
	}

	if p.isKeyword("WHERE") {
		p.advance()
		upd.Where = p.parseCondition()
	}
	return upd
}

func (p *Parser) parseAssignColumn() ast.AssignColumn {
	name := unbracket(p.advance().Text)
	p.expectPunct("=")
	return ast.AssignColumn{Column: name, Value: p.parseExpr()}
}

func (p *Parser) parseDelete() ast.Statement {
	t := p.advance() // DELETE
	if p.isKeyword("FROM") {
		p.advance()
	}
	target := p.parseTableName()
	del := &ast.Delete{Pos: posOf(t), Target: target}
	if p.isKeyword("WHERE") {
		p.advance()
		del.Where = p.parseCondition()
	}
	return del
}
