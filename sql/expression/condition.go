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
	"regexp"
	"strings"
	"sync"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
)

// CompileCondition turns an AST condition into a row-evaluating TriState
// delegate, propagating Unknown for NULL operands per Kleene's K3.
func (c *Compiler) CompileCondition(cnd ast.Condition) (Cond, error) {
	switch n := cnd.(type) {
	case *ast.Comparison:
		return c.compileComparison(n)
	case *ast.Like:
		return c.compileLike(n)
	case *ast.Null:
		return c.compileIsNull(n)
	case *ast.In:
		return c.compileIn(n)
	case *ast.InSubquery:
		return c.compileInSubquery(n)
	case *ast.Exists:
		return c.compileExists(n)
	case *ast.Between:
		return c.compileBetween(n)
	case *ast.Logical:
		return c.compileLogical(n)
	case *ast.ExpressionCondition:
		return c.compileExpressionCondition(n)
	default:
		return nil, sql.ErrInternal.New(fmt.Sprintf("unsupported condition node %T", cnd))
	}
}

func (c *Compiler) compileComparison(n *ast.Comparison) (Cond, error) {
	left, err := c.Compile(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.Compile(n.Right)
	if err != nil {
		return nil, err
	}
	return func(ctx *sql.Context, row sql.Row) (TriState, error) {
		a, err := left(ctx, row)
		if err != nil {
			return Unknown, err
		}
		b, err := right(ctx, row)
		if err != nil {
			return Unknown, err
		}
		if a.IsNull() || b.IsNull() {
			return Unknown, nil
		}
		cmp, err := compareValues(a, b)
		if err != nil {
			return Unknown, err
		}
		return FromBool(satisfiesCompare(n.Op, cmp)), nil
	}, nil
}

// compareValues returns -1/0/1 the way sort.Interface's Less pair does,
// promoting numeric operands and falling back to string comparison for
// everything else.
func compareValues(a, b sql.Value) (int, error) {
	if a.IsNumeric() && b.IsNumeric() {
		pa, pb := sql.Promote(a, b)
		fa, _ := pa.Float64()
		fb, _ := pb.Float64()
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.Kind() == sql.KindDateTime && b.Kind() == sql.KindDateTime {
		ta, tb := a.AsDateTime(), b.AsDateTime()
		switch {
		case ta.Before(tb):
			return -1, nil
		case ta.After(tb):
			return 1, nil
		default:
			return 0, nil
		}
	}
	sa, sb := a.String(), b.String()
	return strings.Compare(sa, sb), nil
}

func satisfiesCompare(op ast.CompareOp, cmp int) bool {
	switch op {
	case ast.CmpEq:
		return cmp == 0
	case ast.CmpNe:
		return cmp != 0
	case ast.CmpLt:
		return cmp < 0
	case ast.CmpLe:
		return cmp <= 0
	case ast.CmpGt:
		return cmp > 0
	case ast.CmpGe:
		return cmp >= 0
	default:
		return false
	}
}

var likeCacheMu sync.Mutex
var likeCache = map[string]*regexp.Regexp{}

// compileLikePattern turns a T-SQL LIKE pattern into a Go regexp, caching
// by pattern text since the same literal pattern recompiles on every call
// otherwise.
func compileLikePattern(pattern string) (*regexp.Regexp, error) {
	likeCacheMu.Lock()
	if re, ok := likeCache[pattern]; ok {
		likeCacheMu.Unlock()
		return re, nil
	}
	likeCacheMu.Unlock()

	var sb strings.Builder
	sb.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		case '[':
			sb.WriteString("[")
		case ']':
			sb.WriteString("]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, err
	}
	likeCacheMu.Lock()
	likeCache[pattern] = re
	likeCacheMu.Unlock()
	return re, nil
}

func (c *Compiler) compileLike(n *ast.Like) (Cond, error) {
	expr, err := c.Compile(n.Expr)
	if err != nil {
		return nil, err
	}
	pattern, err := c.Compile(n.Pattern)
	if err != nil {
		return nil, err
	}
	return func(ctx *sql.Context, row sql.Row) (TriState, error) {
		v, err := expr(ctx, row)
		if err != nil {
			return Unknown, err
		}
		p, err := pattern(ctx, row)
		if err != nil {
			return Unknown, err
		}
		if v.IsNull() || p.IsNull() {
			return Unknown, nil
		}
		re, err := compileLikePattern(p.AsString())
		if err != nil {
			return Unknown, sql.ErrValidation.New(fmt.Sprintf("invalid LIKE pattern: %s", err))
		}
		match := re.MatchString(v.AsString())
		if n.Not {
			match = !match
		}
		return FromBool(match), nil
	}, nil
}

func (c *Compiler) compileIsNull(n *ast.Null) (Cond, error) {
	expr, err := c.Compile(n.Expr)
	if err != nil {
		return nil, err
	}
	return func(ctx *sql.Context, row sql.Row) (TriState, error) {
		v, err := expr(ctx, row)
		if err != nil {
			return Unknown, err
		}
		isNull := v.IsNull()
		if n.Not {
			isNull = !isNull
		}
		return FromBool(isNull), nil
	}, nil
}

func (c *Compiler) compileIn(n *ast.In) (Cond, error) {
	expr, err := c.Compile(n.Expr)
	if err != nil {
		return nil, err
	}
	list := make([]Expr, len(n.List))
	for i, e := range n.List {
		le, err := c.Compile(e)
		if err != nil {
			return nil, err
		}
		list[i] = le
	}
	return func(ctx *sql.Context, row sql.Row) (TriState, error) {
		v, err := expr(ctx, row)
		if err != nil {
			return Unknown, err
		}
		if v.IsNull() {
			return Unknown, nil
		}
		sawNull := false
		for _, le := range list {
			lv, err := le(ctx, row)
			if err != nil {
				return Unknown, err
			}
			if lv.IsNull() {
				sawNull = true
				continue
			}
			if v.Equal(lv) {
				return FromBool(!n.Not), nil
			}
		}
		if sawNull {
			return Unknown, nil
		}
		return FromBool(n.Not), nil
	}, nil
}

func (c *Compiler) compileInSubquery(n *ast.InSubquery) (Cond, error) {
	if c.Subquery == nil {
		return nil, sql.ErrInternal.New("IN (SELECT ...) encountered with no subquery runner bound")
	}
	expr, err := c.Compile(n.Expr)
	if err != nil {
		return nil, err
	}
	sel := n.Select
	return func(ctx *sql.Context, row sql.Row) (TriState, error) {
		v, err := expr(ctx, row)
		if err != nil {
			return Unknown, err
		}
		if v.IsNull() {
			return Unknown, nil
		}
		values, err := c.Subquery.RunIn(ctx, sel, row)
		if err != nil {
			return Unknown, err
		}
		sawNull := false
		for _, sv := range values {
			if sv.IsNull() {
				sawNull = true
				continue
			}
			if v.Equal(sv) {
				return FromBool(!n.Not), nil
			}
		}
		if sawNull {
			return Unknown, nil
		}
		return FromBool(n.Not), nil
	}, nil
}

func (c *Compiler) compileExists(n *ast.Exists) (Cond, error) {
	if c.Subquery == nil {
		return nil, sql.ErrInternal.New("EXISTS (SELECT ...) encountered with no subquery runner bound")
	}
	sel := n.Select
	return func(ctx *sql.Context, row sql.Row) (TriState, error) {
		ok, err := c.Subquery.RunExists(ctx, sel, row)
		if err != nil {
			return Unknown, err
		}
		return FromBool(ok != n.Not), nil
	}, nil
}

func (c *Compiler) compileBetween(n *ast.Between) (Cond, error) {
	expr, err := c.Compile(n.Expr)
	if err != nil {
		return nil, err
	}
	lo, err := c.Compile(n.Lo)
	if err != nil {
		return nil, err
	}
	hi, err := c.Compile(n.Hi)
	if err != nil {
		return nil, err
	}
	return func(ctx *sql.Context, row sql.Row) (TriState, error) {
		v, err := expr(ctx, row)
		if err != nil {
			return Unknown, err
		}
		l, err := lo(ctx, row)
		if err != nil {
			return Unknown, err
		}
		h, err := hi(ctx, row)
		if err != nil {
			return Unknown, err
		}
		if v.IsNull() || l.IsNull() || h.IsNull() {
			return Unknown, nil
		}
		cl, err := compareValues(v, l)
		if err != nil {
			return Unknown, err
		}
		ch, err := compareValues(v, h)
		if err != nil {
			return Unknown, err
		}
		within := cl >= 0 && ch <= 0
		if n.Not {
			within = !within
		}
		return FromBool(within), nil
	}, nil
}

func (c *Compiler) compileLogical(n *ast.Logical) (Cond, error) {
	left, err := c.CompileCondition(n.Left)
	if err != nil {
		return nil, err
	}
	if n.Op == ast.LogNot {
		return func(ctx *sql.Context, row sql.Row) (TriState, error) {
			t, err := left(ctx, row)
			if err != nil {
				return Unknown, err
			}
			return t.Not(), nil
		}, nil
	}
	right, err := c.CompileCondition(n.Right)
	if err != nil {
		return nil, err
	}
	combine := And
	if n.Op == ast.LogOr {
		combine = Or
	}
	return func(ctx *sql.Context, row sql.Row) (TriState, error) {
		a, err := left(ctx, row)
		if err != nil {
			return Unknown, err
		}
		b, err := right(ctx, row)
		if err != nil {
			return Unknown, err
		}
		return combine(a, b), nil
	}, nil
}

func (c *Compiler) compileExpressionCondition(n *ast.ExpressionCondition) (Cond, error) {
	expr, err := c.Compile(n.Expr)
	if err != nil {
		return nil, err
	}
	return func(ctx *sql.Context, row sql.Row) (TriState, error) {
		v, err := expr(ctx, row)
		if err != nil {
			return Unknown, err
		}
		if v.IsNull() {
			return Unknown, nil
		}
		if v.Kind() == sql.KindBool {
			return FromBool(v.AsBool()), nil
		}
		f, err := v.Float64()
		if err != nil {
			return Unknown, sql.ErrTypeMismatch.New("expression used as a predicate must be boolean or numeric")
		}
		return FromBool(f != 0), nil
	}, nil
}
