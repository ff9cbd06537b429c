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

package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders stmt back to SQL text in the canonical form: keywords
// upper-cased, one space between tokens, strings single-quoted. Formatting
// a statement and re-parsing it yields a tree that formats identically,
// which is what the TDS passthrough path relies on when it hands a planned
// SELECT to the read replica verbatim.
func Format(stmt Statement) string {
	var sb strings.Builder
	formatStatement(&sb, stmt)
	return sb.String()
}

func formatStatement(sb *strings.Builder, stmt Statement) {
	switch n := stmt.(type) {
	case *Select:
		formatSelect(sb, n)
	case *Union:
		formatStatement(sb, n.Left)
		if n.All {
			sb.WriteString(" UNION ALL ")
		} else {
			sb.WriteString(" UNION ")
		}
		formatStatement(sb, n.Right)
	case *Insert:
		formatInsert(sb, n)
	case *Update:
		formatUpdate(sb, n)
	case *Delete:
		sb.WriteString("DELETE FROM ")
		formatTableName(sb, n.Target)
		if n.Where != nil {
			sb.WriteString(" WHERE ")
			formatCondition(sb, n.Where)
		}
	case *If:
		sb.WriteString("IF ")
		formatCondition(sb, n.Condition)
		sb.WriteByte(' ')
		formatStatement(sb, n.Then)
		if n.Else != nil {
			sb.WriteString(" ELSE ")
			formatStatement(sb, n.Else)
		}
	case *Block:
		sb.WriteString("BEGIN ")
		for _, s := range n.Statements {
			formatStatement(sb, s)
			sb.WriteString("; ")
		}
		sb.WriteString("END")
	case *While:
		sb.WriteString("WHILE ")
		formatCondition(sb, n.Condition)
		sb.WriteByte(' ')
		formatStatement(sb, n.Body)
	case *Break:
		sb.WriteString("BREAK")
	case *Continue:
		sb.WriteString("CONTINUE")
	case *DeclareVar:
		sb.WriteString("DECLARE @")
		sb.WriteString(n.Name)
		sb.WriteByte(' ')
		sb.WriteString(strings.ToUpper(n.Type))
		if n.Init != nil {
			sb.WriteString(" = ")
			formatExpression(sb, n.Init)
		}
	case *SetVar:
		sb.WriteString("SET @")
		sb.WriteString(n.Name)
		sb.WriteString(" = ")
		formatExpression(sb, n.Value)
	case *RaiseError:
		sb.WriteString("RAISERROR(")
		formatExpression(sb, n.Message)
		if n.Severity != nil {
			sb.WriteString(", ")
			formatExpression(sb, n.Severity)
		}
		if n.State != nil {
			sb.WriteString(", ")
			formatExpression(sb, n.State)
		}
		sb.WriteByte(')')
	case *Script:
		for i, s := range n.Statements {
			if i > 0 {
				sb.WriteString("; ")
			}
			formatStatement(sb, s)
		}
	default:
		fmt.Fprintf(sb, "/* unformattable %T */", stmt)
	}
}

func formatSelect(sb *strings.Builder, n *Select) {
	if len(n.CTEs) > 0 {
		sb.WriteString("WITH ")
		for i, cte := range n.CTEs {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(cte.Name)
			if len(cte.Columns) > 0 {
				sb.WriteString(" (")
				sb.WriteString(strings.Join(cte.Columns, ", "))
				sb.WriteByte(')')
			}
			sb.WriteString(" AS (")
			formatSelect(sb, cte.Body)
			sb.WriteByte(')')
		}
		sb.WriteByte(' ')
	}

	sb.WriteString("SELECT ")
	if n.Distinct {
		sb.WriteString("DISTINCT ")
	}
	if n.Top != nil {
		sb.WriteString("TOP ")
		formatExpression(sb, n.Top)
		sb.WriteByte(' ')
	}
	for i, c := range n.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		if c.Star {
			if c.Table != "" {
				sb.WriteString(c.Table)
				sb.WriteByte('.')
			}
			sb.WriteByte('*')
			continue
		}
		formatExpression(sb, c.Expr)
		if c.Alias != "" {
			sb.WriteString(" AS ")
			sb.WriteString(c.Alias)
		}
	}

	if n.From != nil {
		sb.WriteString(" FROM ")
		formatTableSource(sb, n.From)
	}
	for _, j := range n.Joins {
		sb.WriteByte(' ')
		sb.WriteString(j.Kind.String())
		sb.WriteByte(' ')
		formatTableSource(sb, j.Table)
		if j.On != nil {
			sb.WriteString(" ON ")
			formatCondition(sb, j.On)
		}
	}
	if n.Where != nil {
		sb.WriteString(" WHERE ")
		formatCondition(sb, n.Where)
	}
	if len(n.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		for i, g := range n.GroupBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatExpression(sb, g)
		}
	}
	if n.Having != nil {
		sb.WriteString(" HAVING ")
		formatCondition(sb, n.Having)
	}
	if len(n.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, o := range n.OrderBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatExpression(sb, o.Expr)
			if o.Desc {
				sb.WriteString(" DESC")
			}
		}
	}
	if n.Offset != nil {
		sb.WriteString(" OFFSET ")
		formatExpression(sb, n.Offset)
		sb.WriteString(" ROWS")
	}
}

func formatInsert(sb *strings.Builder, n *Insert) {
	sb.WriteString("INSERT INTO ")
	formatTableName(sb, n.Target)
	if len(n.Columns) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(n.Columns, ", "))
		sb.WriteByte(')')
	}
	if n.Source != nil {
		sb.WriteByte(' ')
		formatSelect(sb, n.Source)
		return
	}
	sb.WriteString(" VALUES ")
	for i, row := range n.Values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			formatExpression(sb, v)
		}
		sb.WriteByte(')')
	}
}

func formatUpdate(sb *strings.Builder, n *Update) {
	sb.WriteString("UPDATE ")
	formatTableName(sb, n.Target)
	sb.WriteString(" SET ")
	for i, a := range n.Set {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Column)
		sb.WriteString(" = ")
		formatExpression(sb, a.Value)
	}
	if n.Where != nil {
		sb.WriteString(" WHERE ")
		formatCondition(sb, n.Where)
	}
}

func formatTableName(sb *strings.Builder, t TableName) {
	if t.EnvLabel != "" {
		sb.WriteByte('[')
		sb.WriteString(t.EnvLabel)
		sb.WriteString("].")
	}
	if t.Schema != "" {
		sb.WriteString(t.Schema)
		sb.WriteByte('.')
	}
	sb.WriteString(t.Entity)
	if t.Alias != "" {
		sb.WriteString(" AS ")
		sb.WriteString(t.Alias)
	}
}

func formatTableSource(sb *strings.Builder, ts TableSource) {
	switch n := ts.(type) {
	case *NamedTable:
		formatTableName(sb, n.Table)
		if n.NoLock {
			sb.WriteString(" WITH (NOLOCK)")
		}
	case *DerivedTable:
		sb.WriteByte('(')
		formatSelect(sb, n.Select)
		sb.WriteByte(')')
		if n.Alias != "" {
			sb.WriteString(" AS ")
			sb.WriteString(n.Alias)
		}
	case *CteRef:
		sb.WriteString(n.Name)
		if n.Alias != "" {
			sb.WriteString(" AS ")
			sb.WriteString(n.Alias)
		}
	}
}

var binaryOpText = map[BinaryOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%", OpConcat: "+",
}

func formatExpression(sb *strings.Builder, e Expression) {
	switch n := e.(type) {
	case *Literal:
		formatLiteral(sb, n)
	case *ColumnRef:
		if n.Table != "" {
			sb.WriteString(n.Table)
			sb.WriteByte('.')
		}
		sb.WriteString(n.Column)
	case *Binary:
		sb.WriteByte('(')
		formatExpression(sb, n.Left)
		sb.WriteByte(' ')
		sb.WriteString(binaryOpText[n.Op])
		sb.WriteByte(' ')
		formatExpression(sb, n.Right)
		sb.WriteByte(')')
	case *Unary:
		if n.Op == OpNeg {
			sb.WriteByte('-')
		}
		formatExpression(sb, n.Operand)
	case *Function:
		sb.WriteString(strings.ToUpper(n.Name))
		sb.WriteByte('(')
		if n.Distinct {
			sb.WriteString("DISTINCT ")
		}
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatExpression(sb, a)
		}
		sb.WriteByte(')')
		if n.Over != nil {
			sb.WriteString(" OVER (")
			if len(n.Over.PartitionBy) > 0 {
				sb.WriteString("PARTITION BY ")
				for i, e := range n.Over.PartitionBy {
					if i > 0 {
						sb.WriteString(", ")
					}
					formatExpression(sb, e)
				}
			}
			if len(n.Over.OrderBy) > 0 {
				if len(n.Over.PartitionBy) > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString("ORDER BY ")
				for i, o := range n.Over.OrderBy {
					if i > 0 {
						sb.WriteString(", ")
					}
					formatExpression(sb, o.Expr)
					if o.Desc {
						sb.WriteString(" DESC")
					}
				}
			}
			sb.WriteByte(')')
		}
	case *Case:
		sb.WriteString("CASE")
		if n.Operand != nil {
			sb.WriteByte(' ')
			formatExpression(sb, n.Operand)
		}
		for _, w := range n.Whens {
			sb.WriteString(" WHEN ")
			if w.When != nil {
				formatCondition(sb, w.When)
			} else {
				formatExpression(sb, w.Val)
			}
			sb.WriteString(" THEN ")
			formatExpression(sb, w.Then)
		}
		if n.Else != nil {
			sb.WriteString(" ELSE ")
			formatExpression(sb, n.Else)
		}
		sb.WriteString(" END")
	case *Cast:
		sb.WriteString("CAST(")
		formatExpression(sb, n.Expr)
		sb.WriteString(" AS ")
		sb.WriteString(strings.ToUpper(n.TargetType))
		sb.WriteByte(')')
	case *Subquery:
		sb.WriteByte('(')
		formatSelect(sb, n.Select)
		sb.WriteByte(')')
	case *Variable:
		sb.WriteByte('@')
		sb.WriteString(n.Name)
	default:
		fmt.Fprintf(sb, "/* unformattable %T */", e)
	}
}

func formatLiteral(sb *strings.Builder, n *Literal) {
	switch v := n.Value.(type) {
	case nil:
		sb.WriteString("NULL")
	case string:
		sb.WriteByte('\'')
		sb.WriteString(strings.ReplaceAll(v, "'", "''"))
		sb.WriteByte('\'')
	case int64:
		sb.WriteString(strconv.FormatInt(v, 10))
	case float64:
		sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		if v {
			sb.WriteString("1")
		} else {
			sb.WriteString("0")
		}
	default:
		fmt.Fprintf(sb, "%v", v)
	}
}

var compareOpText = map[CompareOp]string{
	CmpEq: "=", CmpNe: "<>", CmpLt: "<", CmpLe: "<=", CmpGt: ">", CmpGe: ">=",
}

func formatCondition(sb *strings.Builder, c Condition) {
	switch n := c.(type) {
	case *Comparison:
		formatExpression(sb, n.Left)
		sb.WriteByte(' ')
		sb.WriteString(compareOpText[n.Op])
		sb.WriteByte(' ')
		formatExpression(sb, n.Right)
	case *Like:
		formatExpression(sb, n.Expr)
		if n.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" LIKE ")
		formatExpression(sb, n.Pattern)
	case *Null:
		formatExpression(sb, n.Expr)
		sb.WriteString(" IS ")
		if n.Not {
			sb.WriteString("NOT ")
		}
		sb.WriteString("NULL")
	case *In:
		formatExpression(sb, n.Expr)
		if n.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" IN (")
		for i, item := range n.List {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatExpression(sb, item)
		}
		sb.WriteByte(')')
	case *InSubquery:
		formatExpression(sb, n.Expr)
		if n.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" IN (")
		formatSelect(sb, n.Select)
		sb.WriteByte(')')
	case *Exists:
		if n.Not {
			sb.WriteString("NOT ")
		}
		sb.WriteString("EXISTS (")
		formatSelect(sb, n.Select)
		sb.WriteByte(')')
	case *Between:
		formatExpression(sb, n.Expr)
		if n.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" BETWEEN ")
		formatExpression(sb, n.Lo)
		sb.WriteString(" AND ")
		formatExpression(sb, n.Hi)
	case *Logical:
		if n.Op == LogNot {
			sb.WriteString("NOT (")
			formatCondition(sb, n.Left)
			sb.WriteByte(')')
			return
		}
		sb.WriteByte('(')
		formatCondition(sb, n.Left)
		if n.Op == LogAnd {
			sb.WriteString(" AND ")
		} else {
			sb.WriteString(" OR ")
		}
		formatCondition(sb, n.Right)
		sb.WriteByte(')')
	case *ExpressionCondition:
		formatExpression(sb, n.Expr)
	default:
		fmt.Fprintf(sb, "/* unformattable %T */", c)
	}
}
