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
	"fmt"
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/plan"
)

// buildWindows collects every OVER() call in sel's SELECT list, compiles
// it into a plan.WindowSpec against schema (post-aggregation, so a window
// over an aggregated column works), and returns the signature-to-output
// alias map the projection and ORDER BY compilers use to resolve each call
// as a lookup of the ClientWindow-computed column. FetchXML has no OVER()
// pushdown, so window functions are always client-side.
func (p *Planner) buildWindows(sel *ast.Select, schema sql.Schema, aliases expression.AggregateAlias, sub expression.SubqueryRunner) ([]plan.WindowSpec, expression.AggregateAlias, error) {
	var infos []aggInfo
	seen := map[string]bool{}
	for _, c := range sel.Columns {
		for _, fn := range windowCalls(c.Expr) {
			sig := expression.AggregateSignature(fn)
			if seen[sig] {
				continue
			}
			seen[sig] = true
			alias := ""
			if c.Alias != "" && c.Expr == ast.Expression(fn) {
				alias = c.Alias
			}
			infos = append(infos, aggInfo{fn: fn, sig: sig, alias: alias})
		}
	}
	if len(infos) == 0 {
		return nil, nil, nil
	}

	compiler := expression.NewCompiler(schema, p.Funcs, aliases, sub)
	winAliases := expression.AggregateAlias{}
	specs := make([]plan.WindowSpec, 0, len(infos))
	for i, info := range infos {
		fn := info.fn
		winFunc, ok := mapWindowFunc(fn.Name)
		if !ok {
			return nil, nil, sql.ErrValidation.New(fmt.Sprintf("unsupported window function %q", fn.Name))
		}

		kind := sql.KindFloat
		var arg expression.Expr
		switch winFunc {
		case plan.WinRowNumber, plan.WinRank, plan.WinDenseRank:
			kind = sql.KindBigInt
		case plan.WinCount:
			kind = sql.KindBigInt
			if len(fn.Args) > 0 && !isStarArg(fn.Args[0]) {
				e, err := compiler.Compile(fn.Args[0])
				if err != nil {
					return nil, nil, err
				}
				arg = e
			}
		default:
			if len(fn.Args) != 1 {
				return nil, nil, sql.ErrValidation.New(fmt.Sprintf("%s window function requires one argument", strings.ToUpper(fn.Name)))
			}
			e, err := compiler.Compile(fn.Args[0])
			if err != nil {
				return nil, nil, err
			}
			arg = e
			if winFunc == plan.WinMin || winFunc == plan.WinMax {
				if ref, ok := fn.Args[0].(*ast.ColumnRef); ok {
					if idx := schema.IndexOf(ref.Column); idx >= 0 {
						kind = schema[idx].Kind
					}
				}
			}
		}

		partition, err := compileExprList(compiler, fn.Over.PartitionBy)
		if err != nil {
			return nil, nil, err
		}
		order := make([]expression.Expr, 0, len(fn.Over.OrderBy))
		for _, ob := range fn.Over.OrderBy {
			e, err := compiler.Compile(ob.Expr)
			if err != nil {
				return nil, nil, err
			}
			if ob.Desc {
				e = negateOrderExpr(e)
			}
			order = append(order, e)
		}

		name := info.alias
		if name == "" {
			name = fmt.Sprintf("window%d", i)
		}
		winAliases[info.sig] = name
		specs = append(specs, plan.WindowSpec{
			Output:    &sql.Column{Name: name, Kind: kind, Nullable: true, IsAggregate: true},
			Func:      winFunc,
			Arg:       arg,
			Partition: partition,
			Order:     order,
		})
	}
	return specs, winAliases, nil
}

// windowCalls collects OVER() calls inside e. Nested windows can't occur
// (the grammar attaches OVER only to a call), so the walk doesn't descend
// into a window call's own arguments.
func windowCalls(e ast.Expression) []*ast.Function {
	var out []*ast.Function
	var walk func(ast.Expression)
	walk = func(e ast.Expression) {
		switch n := e.(type) {
		case nil:
		case *ast.Function:
			if expression.IsWindowCall(n) {
				out = append(out, n)
				return
			}
			for _, a := range n.Args {
				walk(a)
			}
		case *ast.Unary:
			walk(n.Operand)
		case *ast.Binary:
			walk(n.Left)
			walk(n.Right)
		case *ast.Case:
			walk(n.Operand)
			for _, w := range n.Whens {
				walk(w.Val)
				walk(w.Then)
			}
			walk(n.Else)
		case *ast.Cast:
			walk(n.Expr)
		}
	}
	walk(e)
	return out
}

func compileExprList(c *expression.Compiler, exprs []ast.Expression) ([]expression.Expr, error) {
	out := make([]expression.Expr, 0, len(exprs))
	for _, e := range exprs {
		compiled, err := c.Compile(e)
		if err != nil {
			return nil, err
		}
		out = append(out, compiled)
	}
	return out, nil
}

// negateOrderExpr inverts a numeric ordering key so a DESC window ORDER BY
// can ride ClientWindow's ascending comparison. Non-numeric values are
// left untouched; descending string windows are not supported.
func negateOrderExpr(e expression.Expr) expression.Expr {
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		v, err := e(ctx, row)
		if err != nil || v.IsNull() {
			return v, err
		}
		f, ferr := v.Float64()
		if ferr != nil {
			return v, nil
		}
		return sql.NewFloat(-f), nil
	}
}

func mapWindowFunc(name string) (plan.WindowFunc, bool) {
	switch strings.ToUpper(name) {
	case "ROW_NUMBER":
		return plan.WinRowNumber, true
	case "RANK":
		return plan.WinRank, true
	case "DENSE_RANK":
		return plan.WinDenseRank, true
	case "SUM":
		return plan.WinSum, true
	case "AVG":
		return plan.WinAvg, true
	case "COUNT":
		return plan.WinCount, true
	case "MIN":
		return plan.WinMin, true
	case "MAX":
		return plan.WinMax, true
	default:
		return 0, false
	}
}

// selHasWindow reports whether any SELECT-list expression carries an OVER
// clause. A window computes over the full (filtered) row set, so a TOP
// cannot shrink the scan beneath one.
func selHasWindow(sel *ast.Select) bool {
	for _, c := range sel.Columns {
		if len(windowCalls(c.Expr)) > 0 {
			return true
		}
	}
	return false
}
