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
	"io"
	"sort"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/plan"
)

// correlatedSelect is the Node a scalar/EXISTS/IN subquery or a CROSS/OUTER
// APPLY right side compiles to when its WHERE clause references the outer
// row. Its base FROM/JOIN tree is planned once, spooled, and re-evaluated
// against each outer row it's handed through Execute's row parameter —
// the same mechanism NestedLoopJoin already uses to probe a correlated
// right side. WHERE, the SELECT list, ORDER BY and a literal TOP are
// applied; GROUP BY and aggregates inside a correlated subquery are not
// evaluated.
type correlatedSelect struct {
	base      plan.Node // inner FROM/JOIN tree, executed with an empty row
	outer     sql.Schema
	combined  sql.Schema // base.Schema() ++ outer, what where/project compile against
	where     expression.Cond
	project   []expression.Expr
	orderKeys []orderKey
	limit     int64 // 0 means unbounded
	outSchema sql.Schema
}

type orderKey struct {
	expr expression.Expr
	desc bool
}

func (n *correlatedSelect) Schema() sql.Schema    { return n.outSchema }
func (n *correlatedSelect) Children() []plan.Node { return []plan.Node{n.base} }
func (n *correlatedSelect) Description() string   { return "CorrelatedSelect" }

func (n *correlatedSelect) Execute(ctx *sql.Context, outer sql.Row) (sql.RowIter, error) {
	iter, err := n.base.Execute(ctx, sql.Row{})
	if err != nil {
		return nil, err
	}
	defer iter.Close(ctx)

	var rows []sql.Row
	for {
		r, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		combined := sql.Row{Schema: n.combined, Values: append(append([]sql.Value{}, r.Values...), outer.Values...)}
		if n.where != nil {
			t, err := n.where(ctx, combined)
			if err != nil {
				return nil, err
			}
			if t != expression.True {
				continue
			}
		}
		vals := make([]sql.Value, len(n.project))
		for i, p := range n.project {
			v, err := p(ctx, combined)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		rows = append(rows, sql.NewRow(r.Entity, n.outSchema, vals))
	}

	if len(n.orderKeys) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, k := range n.orderKeys {
				vi, _ := k.expr(ctx, rows[i])
				vj, _ := k.expr(ctx, rows[j])
				c := compareValuesLoose(vi, vj)
				if c == 0 {
					continue
				}
				if k.desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if n.limit > 0 && int64(len(rows)) > n.limit {
		rows = rows[:n.limit]
	}
	return sql.NewSliceIter(rows), nil
}

// compareValuesLoose orders two values for a correlated subquery's ORDER BY
// without depending on the plan package's unexported join-key comparator:
// numeric when both sides parse as numbers, lexical otherwise.
func compareValuesLoose(a, b sql.Value) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return -1
	}
	if b.IsNull() {
		return 1
	}
	if a.IsNumeric() && b.IsNumeric() {
		fa, errA := a.Float64()
		fb, errB := b.Float64()
		if errA == nil && errB == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	sa, sb := a.String(), b.String()
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// buildCorrelatedSelect plans sel as a correlated node evaluated against
// outerSchema (the enclosing query's row shape). It always projects sel's
// own SELECT list; callers that need exactly one column (RunScalar/RunIn)
// rely on that list having one.
func (p *Planner) buildCorrelatedSelect(ctx *sql.Context, pc *planCtx, sel *ast.Select, outerSchema sql.Schema) (*correlatedSelect, error) {
	baseNode, baseSchema, err := p.resolveFromJoins(ctx, pc, sel)
	if err != nil {
		return nil, err
	}
	combined := append(append(sql.Schema{}, baseSchema...), outerSchema...)

	funcs := p.Funcs
	sub := &subqueryRunner{p: p, pc: pc}
	compiler := expression.NewCompiler(combined, funcs, nil, sub)

	var where expression.Cond
	if sel.Where != nil {
		where, err = compiler.CompileCondition(sel.Where)
		if err != nil {
			return nil, err
		}
	}

	projExprs := make([]expression.Expr, 0, len(sel.Columns))
	outSchema := make(sql.Schema, 0, len(sel.Columns))
	for _, c := range sel.Columns {
		if c.Star {
			for i, col := range baseSchema {
				idx := i
				projExprs = append(projExprs, func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
					return row.Values[idx], nil
				})
				outSchema = append(outSchema, col)
			}
			continue
		}
		e, err := compiler.Compile(c.Expr)
		if err != nil {
			return nil, err
		}
		name := c.Alias
		kind := sql.KindString
		if ref, ok := c.Expr.(*ast.ColumnRef); ok && name == "" {
			name = ref.Column
			if idx := combined.IndexOf(ref.Column); idx >= 0 {
				kind = combined[idx].Kind
			}
		}
		if name == "" {
			name = "expr"
		}
		projExprs = append(projExprs, e)
		outSchema = append(outSchema, &sql.Column{Name: name, Kind: kind, Nullable: true})
	}

	var orderKeys []orderKey
	for _, ob := range sel.OrderBy {
		e, err := compiler.Compile(ob.Expr)
		if err != nil {
			return nil, err
		}
		orderKeys = append(orderKeys, orderKey{expr: e, desc: ob.Desc})
	}

	var limit int64
	if sel.Top != nil {
		if lit, ok := sel.Top.(*ast.Literal); ok {
			limit = literalInt(lit.Value)
		}
	}

	return &correlatedSelect{
		base:      plan.NewTableSpool(baseNode),
		outer:     outerSchema,
		combined:  combined,
		where:     where,
		project:   projExprs,
		orderKeys: orderKeys,
		limit:     limit,
		outSchema: outSchema,
	}, nil
}

func literalInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
