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

package expression

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression/function"
)

// Expr is a compiled expression: a schema-bound delegate that evaluates to a
// Value given one row. Compilation happens once per plan node; Eval happens once per row.
type Expr func(ctx *sql.Context, row sql.Row) (sql.Value, error)

// Cond is a compiled condition: a schema-bound delegate that evaluates to a
// TriState given one row.
type Cond func(ctx *sql.Context, row sql.Row) (TriState, error)

// Subqueries let the compiler run a correlated scalar/IN/EXISTS subquery
// without sql/expression importing sql/plan (which imports sql/expression
// for column pushdown), breaking the import cycle: the compiler depends on
// an injected runner rather than a concrete plan type.
type SubqueryRunner interface {
	// RunScalar executes sel correlated against outer and returns its single
	// projected value, or Null if the subquery produced no rows.
	RunScalar(ctx *sql.Context, sel *ast.Select, outer sql.Row) (sql.Value, error)
	// RunExists reports whether sel correlated against outer produces at
	// least one row.
	RunExists(ctx *sql.Context, sel *ast.Select, outer sql.Row) (bool, error)
	// RunIn returns the set of values sel's single projected column
	// produces, correlated against outer.
	RunIn(ctx *sql.Context, sel *ast.Select, outer sql.Row) ([]sql.Value, error)
}

// AggregateAlias maps an aggregate call's canonical signature (e.g.
// "SUM(amount)") to the output column name the plan's aggregate node already
// computed it under. Compile uses this to rewrite a HAVING/ORDER BY
// aggregate call into a plain column reference instead of re-invoking the
// aggregate per row.
type AggregateAlias map[string]string

// AggregateSignature renders a canonical key for fn, matching the key
// Compile looks up in an AggregateAlias map.
func AggregateSignature(fn *ast.Function) string {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(fn.Name))
	sb.WriteByte('(')
	if fn.Distinct {
		sb.WriteString("DISTINCT ")
	}
	for i, a := range fn.Args {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(renderExpr(a))
	}
	sb.WriteByte(')')
	if fn.Over != nil {
		sb.WriteString(" OVER(")
		for i, e := range fn.Over.PartitionBy {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(renderExpr(e))
		}
		sb.WriteByte(';')
		for i, o := range fn.Over.OrderBy {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(renderExpr(o.Expr))
			if o.Desc {
				sb.WriteString(" DESC")
			}
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

func renderExpr(e ast.Expression) string {
	switch n := e.(type) {
	case *ast.ColumnRef:
		if n.Table != "" {
			return n.Table + "." + n.Column
		}
		return n.Column
	case *ast.Literal:
		return fmt.Sprintf("%v", n.Value)
	case *ast.Function:
		return AggregateSignature(n)
	default:
		return fmt.Sprintf("%p", e)
	}
}

var aggregateNames = map[string]bool{
	"COUNT": true, "COUNT_BIG": true, "SUM": true, "AVG": true,
	"MIN": true, "MAX": true, "STDEV": true, "STDEVP": true,
	"VAR": true, "VARP": true,
}

// IsAggregateCall reports whether fn names one of the recognized
// aggregate functions in aggregate (not windowed) position: a call with
// an OVER clause is a window function and is materialized by ClientWindow
// rather than a grouping node.
func IsAggregateCall(fn *ast.Function) bool {
	return fn.Over == nil && aggregateNames[strings.ToUpper(fn.Name)]
}

// IsWindowCall reports whether fn is a window-function call: any call
// carrying an OVER clause.
func IsWindowCall(fn *ast.Function) bool { return fn.Over != nil }

// Compiler closes over the pieces a Compile call needs but that don't fit
// in the function signature: the function registry, the schema columns are
// resolved against, and the aggregate-alias map HAVING/ORDER BY consult.
type Compiler struct {
	Schema    sql.Schema
	Funcs     *function.Registry
	Aggregate AggregateAlias
	Subquery  SubqueryRunner
}

// NewCompiler builds a Compiler bound to one row schema.
func NewCompiler(schema sql.Schema, funcs *function.Registry, agg AggregateAlias, sub SubqueryRunner) *Compiler {
	if funcs == nil {
		funcs = function.Default()
	}
	if agg == nil {
		agg = AggregateAlias{}
	}
	return &Compiler{Schema: schema, Funcs: funcs, Aggregate: agg, Subquery: sub}
}

// Compile turns an AST expression into a row-evaluating delegate.
func (c *Compiler) Compile(e ast.Expression) (Expr, error) {
	switch n := e.(type) {
	case *ast.Literal:
		v, err := literalValue(n.Value)
		if err != nil {
			return nil, err
		}
		return func(ctx *sql.Context, row sql.Row) (sql.Value, error) { return v, nil }, nil

	case *ast.ColumnRef:
		name := n.Column
		if n.Table != "" {
			name = n.Table + "." + n.Column
		}
		idx := c.Schema.IndexOf(name)
		if idx < 0 {
			idx = c.Schema.IndexOf(n.Column)
		}
		if idx < 0 {
			return nil, sql.ErrValidation.New(fmt.Sprintf("unknown column %q", name))
		}
		return func(ctx *sql.Context, row sql.Row) (sql.Value, error) { return row.Values[idx], nil }, nil

	case *ast.Variable:
		name := n.Name
		return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
			v, ok := ctx.Variable(name)
			if !ok {
				return sql.NewNull(), nil
			}
			return v, nil
		}, nil

	case *ast.Unary:
		operand, err := c.Compile(n.Operand)
		if err != nil {
			return nil, err
		}
		return c.compileUnary(n.Op, operand), nil

	case *ast.Binary:
		left, err := c.Compile(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.Compile(n.Right)
		if err != nil {
			return nil, err
		}
		return c.compileBinary(n.Op, left, right), nil

	case *ast.Cast:
		inner, err := c.Compile(n.Expr)
		if err != nil {
			return nil, err
		}
		return compileCast(inner, n.TargetType), nil

	case *ast.Case:
		return c.compileCase(n)

	case *ast.Subquery:
		return c.compileScalarSubquery(n)

	case *ast.Function:
		return c.compileFunction(n)

	default:
		return nil, sql.ErrInternal.New(fmt.Sprintf("unsupported expression node %T", e))
	}
}

func literalValue(raw interface{}) (sql.Value, error) {
	switch v := raw.(type) {
	case nil:
		return sql.NewNull(), nil
	case bool:
		return sql.NewBool(v), nil
	case int64:
		return sql.NewInt(v), nil
	case int:
		return sql.NewInt(int64(v)), nil
	case float64:
		return sql.NewFloat(v), nil
	case string:
		return sql.NewString(v), nil
	default:
		return sql.NewNull(), fmt.Errorf("unsupported literal type %T", raw)
	}
}

func (c *Compiler) compileUnary(op ast.UnaryOp, operand Expr) Expr {
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		v, err := operand(ctx, row)
		if err != nil {
			return sql.Value{}, err
		}
		if v.IsNull() {
			return sql.NewNull(), nil
		}
		if op == ast.OpPos {
			return v, nil
		}
		return negate(v)
	}
}

func negate(v sql.Value) (sql.Value, error) {
	switch v.Kind() {
	case sql.KindInt:
		return sql.NewInt(-v.AsInt()), nil
	case sql.KindBigInt:
		return sql.NewBigInt(new(big.Int).Neg(v.AsBigInt())), nil
	case sql.KindDecimal:
		return sql.NewDecimal(new(big.Rat).Neg(v.AsDecimal())), nil
	case sql.KindFloat:
		return sql.NewFloat(-v.AsFloat()), nil
	default:
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot negate a %s value", v.Kind()))
	}
}

// compileBinary implements the arithmetic operators plus the string
// concatenation overload of `+`. NULL propagates: any NULL operand
// yields NULL, matching T-SQL arithmetic null semantics.
func (c *Compiler) compileBinary(op ast.BinaryOp, left, right Expr) Expr {
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		a, err := left(ctx, row)
		if err != nil {
			return sql.Value{}, err
		}
		b, err := right(ctx, row)
		if err != nil {
			return sql.Value{}, err
		}
		op := op
		if op == ast.OpAdd && (a.Kind() == sql.KindString || b.Kind() == sql.KindString) {
			op = ast.OpConcat
		}
		if op == ast.OpConcat {
			if a.IsNull() || b.IsNull() {
				return sql.NewNull(), nil
			}
			return sql.NewString(a.String() + b.String()), nil
		}
		if a.IsNull() || b.IsNull() {
			return sql.NewNull(), nil
		}
		return arith(op, a, b)
	}
}

func arith(op ast.BinaryOp, a, b sql.Value) (sql.Value, error) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot apply arithmetic to %s and %s", a.Kind(), b.Kind()))
	}
	pa, pb := sql.Promote(a, b)
	switch pa.Kind() {
	case sql.KindInt:
		return arithInt(op, pa.AsInt(), pb.AsInt())
	case sql.KindBigInt:
		return arithBigInt(op, pa.AsBigInt(), pb.AsBigInt())
	case sql.KindDecimal:
		return arithDecimal(op, pa.AsDecimal(), pb.AsDecimal())
	case sql.KindFloat:
		return arithFloat(op, pa.AsFloat(), pb.AsFloat())
	default:
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("non-numeric operand after promotion: %s", pa.Kind()))
	}
}

func arithInt(op ast.BinaryOp, a, b int64) (sql.Value, error) {
	switch op {
	case ast.OpAdd:
		return sql.NewInt(a + b), nil
	case ast.OpSub:
		return sql.NewInt(a - b), nil
	case ast.OpMul:
		return sql.NewInt(a * b), nil
	case ast.OpDiv:
		if b == 0 {
			return sql.Value{}, sql.ErrTypeMismatch.New("division by zero")
		}
		return sql.NewInt(a / b), nil
	case ast.OpMod:
		if b == 0 {
			return sql.Value{}, sql.ErrTypeMismatch.New("division by zero")
		}
		return sql.NewInt(a % b), nil
	default:
		return sql.Value{}, sql.ErrInternal.New("unreachable arithmetic op")
	}
}

func arithBigInt(op ast.BinaryOp, a, b *big.Int) (sql.Value, error) {
	out := new(big.Int)
	switch op {
	case ast.OpAdd:
		return sql.NewBigInt(out.Add(a, b)), nil
	case ast.OpSub:
		return sql.NewBigInt(out.Sub(a, b)), nil
	case ast.OpMul:
		return sql.NewBigInt(out.Mul(a, b)), nil
	case ast.OpDiv:
		if b.Sign() == 0 {
			return sql.Value{}, sql.ErrTypeMismatch.New("division by zero")
		}
		return sql.NewBigInt(out.Quo(a, b)), nil
	case ast.OpMod:
		if b.Sign() == 0 {
			return sql.Value{}, sql.ErrTypeMismatch.New("division by zero")
		}
		return sql.NewBigInt(out.Rem(a, b)), nil
	default:
		return sql.Value{}, sql.ErrInternal.New("unreachable arithmetic op")
	}
}

func arithDecimal(op ast.BinaryOp, a, b *big.Rat) (sql.Value, error) {
	out := new(big.Rat)
	switch op {
	case ast.OpAdd:
		return sql.NewDecimal(out.Add(a, b)), nil
	case ast.OpSub:
		return sql.NewDecimal(out.Sub(a, b)), nil
	case ast.OpMul:
		return sql.NewDecimal(out.Mul(a, b)), nil
	case ast.OpDiv:
		if b.Sign() == 0 {
			return sql.Value{}, sql.ErrTypeMismatch.New("division by zero")
		}
		return sql.NewDecimal(out.Quo(a, b)), nil
	case ast.OpMod:
		af, _ := a.Float64()
		bf, _ := b.Float64()
		if bf == 0 {
			return sql.Value{}, sql.ErrTypeMismatch.New("division by zero")
		}
		return sql.NewDecimal(new(big.Rat).SetFloat64(modFloat(af, bf))), nil
	default:
		return sql.Value{}, sql.ErrInternal.New("unreachable arithmetic op")
	}
}

func modFloat(a, b float64) float64 {
	q := float64(int64(a / b))
	return a - q*b
}

func arithFloat(op ast.BinaryOp, a, b float64) (sql.Value, error) {
	switch op {
	case ast.OpAdd:
		return sql.NewFloat(a + b), nil
	case ast.OpSub:
		return sql.NewFloat(a - b), nil
	case ast.OpMul:
		return sql.NewFloat(a * b), nil
	case ast.OpDiv:
		if b == 0 {
			return sql.Value{}, sql.ErrTypeMismatch.New("division by zero")
		}
		return sql.NewFloat(a / b), nil
	case ast.OpMod:
		if b == 0 {
			return sql.Value{}, sql.ErrTypeMismatch.New("division by zero")
		}
		return sql.NewFloat(modFloat(a, b)), nil
	default:
		return sql.Value{}, sql.ErrInternal.New("unreachable arithmetic op")
	}
}

func (c *Compiler) compileCase(n *ast.Case) (Expr, error) {
	var operand Expr
	if n.Operand != nil {
		var err error
		operand, err = c.Compile(n.Operand)
		if err != nil {
			return nil, err
		}
	}
	type arm struct {
		cond Cond
		val  Expr
		then Expr
	}
	arms := make([]arm, 0, len(n.Whens))
	for _, wt := range n.Whens {
		a := arm{}
		if wt.When != nil {
			cond, err := c.CompileCondition(wt.When)
			if err != nil {
				return nil, err
			}
			a.cond = cond
		}
		if wt.Val != nil {
			val, err := c.Compile(wt.Val)
			if err != nil {
				return nil, err
			}
			a.val = val
		}
		then, err := c.Compile(wt.Then)
		if err != nil {
			return nil, err
		}
		a.then = then
		arms = append(arms, a)
	}
	var elseExpr Expr
	if n.Else != nil {
		var err error
		elseExpr, err = c.Compile(n.Else)
		if err != nil {
			return nil, err
		}
	}
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		var opVal sql.Value
		if operand != nil {
			var err error
			opVal, err = operand(ctx, row)
			if err != nil {
				return sql.Value{}, err
			}
		}
		for _, a := range arms {
			if a.cond != nil {
				t, err := a.cond(ctx, row)
				if err != nil {
					return sql.Value{}, err
				}
				if t == True {
					return a.then(ctx, row)
				}
				continue
			}
			cv, err := a.val(ctx, row)
			if err != nil {
				return sql.Value{}, err
			}
			if opVal.Equal(cv) {
				return a.then(ctx, row)
			}
		}
		if elseExpr != nil {
			return elseExpr(ctx, row)
		}
		return sql.NewNull(), nil
	}, nil
}

func (c *Compiler) compileScalarSubquery(n *ast.Subquery) (Expr, error) {
	if c.Subquery == nil {
		return nil, sql.ErrInternal.New("scalar subquery encountered with no subquery runner bound")
	}
	sel := n.Select
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		return c.Subquery.RunScalar(ctx, sel, row)
	}, nil
}

// compileFunction handles COALESCE/NULLIF specially (their short-circuit
// and equality semantics don't fit the uniform Invoke signature), rewrites
// a recognized aggregate call that matches the bound AggregateAlias to a
// plain column reference, and otherwise dispatches through
// the function registry.
func (c *Compiler) compileFunction(n *ast.Function) (Expr, error) {
	upper := strings.ToUpper(n.Name)

	// The alias map covers every call the plan already computed under an
	// output column: aggregates, and date-part calls a pushed-down
	// GROUP BY folded into a FetchXML dategrouping.
	if alias, ok := c.Aggregate[AggregateSignature(n)]; ok {
		idx := c.Schema.IndexOf(alias)
		if idx < 0 {
			return nil, sql.ErrInternal.New(fmt.Sprintf("aggregate alias %q not found in schema", alias))
		}
		return func(ctx *sql.Context, row sql.Row) (sql.Value, error) { return row.Values[idx], nil }, nil
	}
	if IsAggregateCall(n) {
		return nil, sql.ErrValidation.New(fmt.Sprintf("aggregate %s used outside an aggregated context", upper))
	}
	if n.Over != nil {
		return nil, sql.ErrValidation.New(fmt.Sprintf("window function %s is only allowed in the SELECT list", upper))
	}

	switch upper {
	case "COALESCE":
		return c.compileCoalesce(n)
	case "NULLIF":
		return c.compileNullIf(n)
	}

	def, ok := c.Funcs.Lookup(n.Name)
	if !ok {
		return nil, sql.ErrValidation.New(fmt.Sprintf("unknown function %s", n.Name))
	}
	if err := def.CheckArity(len(n.Args)); err != nil {
		return nil, sql.ErrValidation.New(err.Error())
	}
	argExprs := make([]Expr, len(n.Args))
	for i, a := range n.Args {
		ce, err := c.Compile(a)
		if err != nil {
			return nil, err
		}
		argExprs[i] = ce
	}
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		args := make([]sql.Value, len(argExprs))
		for i, ae := range argExprs {
			v, err := ae(ctx, row)
			if err != nil {
				return sql.Value{}, err
			}
			args[i] = v
		}
		return def.Fn(ctx, args)
	}, nil
}

func (c *Compiler) compileCoalesce(n *ast.Function) (Expr, error) {
	if len(n.Args) < 1 {
		return nil, sql.ErrValidation.New("COALESCE requires at least one argument")
	}
	argExprs := make([]Expr, len(n.Args))
	for i, a := range n.Args {
		ce, err := c.Compile(a)
		if err != nil {
			return nil, err
		}
		argExprs[i] = ce
	}
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		for _, ae := range argExprs {
			v, err := ae(ctx, row)
			if err != nil {
				return sql.Value{}, err
			}
			if !v.IsNull() {
				return v, nil
			}
		}
		return sql.NewNull(), nil
	}, nil
}

func (c *Compiler) compileNullIf(n *ast.Function) (Expr, error) {
	if len(n.Args) != 2 {
		return nil, sql.ErrValidation.New("NULLIF requires exactly two arguments")
	}
	a1, err := c.Compile(n.Args[0])
	if err != nil {
		return nil, err
	}
	a2, err := c.Compile(n.Args[1])
	if err != nil {
		return nil, err
	}
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		v1, err := a1(ctx, row)
		if err != nil {
			return sql.Value{}, err
		}
		v2, err := a2(ctx, row)
		if err != nil {
			return sql.Value{}, err
		}
		if v1.Equal(v2) {
			return sql.NewNull(), nil
		}
		return v1, nil
	}, nil
}
