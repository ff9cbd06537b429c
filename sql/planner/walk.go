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

package planner

import (
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
)

// splitAnd flattens a tree of AND conditions into its leaf conjuncts, used
// to decide which filter predicates can push down independently. OR/NOT
// nodes are never split: they're returned as a single opaque conjunct.
func splitAnd(cond ast.Condition) []ast.Condition {
	if cond == nil {
		return nil
	}
	if l, ok := cond.(*ast.Logical); ok && l.Op == ast.LogAnd {
		return append(splitAnd(l.Left), splitAnd(l.Right)...)
	}
	return []ast.Condition{cond}
}

// joinAnd rebuilds an AND-tree from a conjunct list, the inverse of
// splitAnd. Returns nil for an empty list.
func joinAnd(conds []ast.Condition) ast.Condition {
	var out ast.Condition
	for _, c := range conds {
		if c == nil {
			continue
		}
		if out == nil {
			out = c
			continue
		}
		out = &ast.Logical{Op: ast.LogAnd, Left: out, Right: c}
	}
	return out
}

// columnRefs collects every ast.ColumnRef reachable inside e, which may be
// an ast.Expression or an ast.Condition. Used to decide whether a WHERE
// conjunct is correlated (references a column that only the outer query's
// schema can resolve).
func columnRefs(e interface{}) []*ast.ColumnRef {
	var out []*ast.ColumnRef
	var walkExpr func(ast.Expression)
	var walkCond func(ast.Condition)

	walkExpr = func(expr ast.Expression) {
		if expr == nil {
			return
		}
		switch n := expr.(type) {
		case *ast.ColumnRef:
			out = append(out, n)
		case *ast.Literal, *ast.Variable:
			// no column refs
		case *ast.Unary:
			walkExpr(n.Operand)
		case *ast.Binary:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *ast.Function:
			for _, a := range n.Args {
				walkExpr(a)
			}
		case *ast.Case:
			walkExpr(n.Operand)
			for _, wt := range n.Whens {
				walkCond(wt.When)
				walkExpr(wt.Val)
				walkExpr(wt.Then)
			}
			walkExpr(n.Else)
		case *ast.Cast:
			walkExpr(n.Expr)
		case *ast.Subquery:
			// correlated columns inside a nested subquery are that
			// subquery's own concern, not this one's.
		}
	}

	walkCond = func(cond ast.Condition) {
		if cond == nil {
			return
		}
		switch n := cond.(type) {
		case *ast.Comparison:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *ast.Like:
			walkExpr(n.Expr)
			walkExpr(n.Pattern)
		case *ast.Null:
			walkExpr(n.Expr)
		case *ast.In:
			walkExpr(n.Expr)
			for _, v := range n.List {
				walkExpr(v)
			}
		case *ast.InSubquery:
			walkExpr(n.Expr)
		case *ast.Exists:
			// subquery's own FROM/WHERE, not this scope's columns
		case *ast.Between:
			walkExpr(n.Expr)
			walkExpr(n.Lo)
			walkExpr(n.Hi)
		case *ast.Logical:
			walkCond(n.Left)
			walkCond(n.Right)
		case *ast.ExpressionCondition:
			walkExpr(n.Expr)
		}
	}

	switch v := e.(type) {
	case ast.Expression:
		walkExpr(v)
	case ast.Condition:
		walkCond(v)
	}
	return out
}

// resolvesIn reports whether every column ref in refs can be resolved
// against schema (by "table.column" or bare "column").
func resolvesIn(refs []*ast.ColumnRef, schema sql.Schema) bool {
	for _, r := range refs {
		name := r.Column
		if r.Table != "" {
			name = r.Table + "." + r.Column
		}
		if schema.IndexOf(name) < 0 && schema.IndexOf(r.Column) < 0 {
			return false
		}
	}
	return true
}
