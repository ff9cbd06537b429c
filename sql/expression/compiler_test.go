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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
)

func testSchema() sql.Schema {
	return sql.Schema{
		{Name: "name", Kind: sql.KindString},
		{Name: "amount", Kind: sql.KindInt},
	}
}

func testRow(name string, amount int64) sql.Row {
	return sql.NewRow("account", testSchema(), []sql.Value{sql.NewString(name), sql.NewInt(amount)})
}

func testCtx() *sql.Context {
	return sql.NewContext(nil, nil, nil, nil, nil, sql.PlanOptions{}, sql.DmlSafety{}, nil)
}

func TestCompileLiteralAndColumnRef(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	lit, err := c.Compile(&ast.Literal{Value: int64(42)})
	require.NoError(t, err)
	v, err := lit(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.Equal(t, int64(42), v.AsInt())

	col, err := c.Compile(&ast.ColumnRef{Column: "amount"})
	require.NoError(t, err)
	v, err = col(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.Equal(t, int64(7), v.AsInt())
}

func TestCompileBinaryArithmeticAndConcat(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	add, err := c.Compile(&ast.Binary{
		Op:    ast.OpAdd,
		Left:  &ast.ColumnRef{Column: "amount"},
		Right: &ast.Literal{Value: int64(3)},
	})
	require.NoError(t, err)
	v, err := add(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.Equal(t, int64(10), v.AsInt())

	concat, err := c.Compile(&ast.Binary{
		Op:    ast.OpAdd,
		Left:  &ast.ColumnRef{Column: "name"},
		Right: &ast.Literal{Value: "!"},
	})
	require.NoError(t, err)
	v, err = concat(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.Equal(t, "acme!", v.AsString())
}

func TestCompileBinaryNullPropagation(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	add, err := c.Compile(&ast.Binary{
		Op:    ast.OpAdd,
		Left:  &ast.ColumnRef{Column: "amount"},
		Right: &ast.Literal{Value: nil},
	})
	require.NoError(t, err)
	v, err := add(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestCompileDivisionByZero(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	div, err := c.Compile(&ast.Binary{
		Op:    ast.OpDiv,
		Left:  &ast.Literal{Value: int64(1)},
		Right: &ast.Literal{Value: int64(0)},
	})
	require.NoError(t, err)
	_, err = div(testCtx(), testRow("acme", 7))
	require.Error(t, err)
}

func TestCompileCaseSearched(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	when := &ast.Comparison{
		Op:    ast.CmpGt,
		Left:  &ast.ColumnRef{Column: "amount"},
		Right: &ast.Literal{Value: int64(5)},
	}
	caseExpr, err := c.Compile(&ast.Case{
		Whens: []ast.WhenThen{{When: when, Then: &ast.Literal{Value: "big"}}},
		Else:  &ast.Literal{Value: "small"},
	})
	require.NoError(t, err)
	v, err := caseExpr(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.Equal(t, "big", v.AsString())

	v, err = caseExpr(testCtx(), testRow("acme", 1))
	require.NoError(t, err)
	require.Equal(t, "small", v.AsString())
}

func TestCompileCoalesceAndNullIf(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	coalesce, err := c.Compile(&ast.Function{Name: "COALESCE", Args: []ast.Expression{
		&ast.Literal{Value: nil}, &ast.Literal{Value: "fallback"},
	}})
	require.NoError(t, err)
	v, err := coalesce(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.Equal(t, "fallback", v.AsString())

	nullif, err := c.Compile(&ast.Function{Name: "NULLIF", Args: []ast.Expression{
		&ast.ColumnRef{Column: "name"}, &ast.Literal{Value: "acme"},
	}})
	require.NoError(t, err)
	v, err = nullif(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestCompileScalarFunctionCall(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	upper, err := c.Compile(&ast.Function{Name: "UPPER", Args: []ast.Expression{&ast.ColumnRef{Column: "name"}}})
	require.NoError(t, err)
	v, err := upper(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.Equal(t, "ACME", v.AsString())
}

func TestCompileAggregateAliasRewrite(t *testing.T) {
	schema := sql.Schema{{Name: "total_amount", Kind: sql.KindInt, IsAggregate: true}}
	agg := AggregateAlias{"SUM(amount)": "total_amount"}
	c := NewCompiler(schema, nil, agg, nil)
	expr, err := c.Compile(&ast.Function{Name: "SUM", Args: []ast.Expression{&ast.ColumnRef{Column: "amount"}}})
	require.NoError(t, err)
	row := sql.NewRow("account", schema, []sql.Value{sql.NewInt(99)})
	v, err := expr(testCtx(), row)
	require.NoError(t, err)
	require.Equal(t, int64(99), v.AsInt())
}

func TestCompileUnknownColumnFails(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	_, err := c.Compile(&ast.ColumnRef{Column: "nope"})
	require.Error(t, err)
}
