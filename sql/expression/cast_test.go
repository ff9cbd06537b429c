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

func TestCompileCastStringToInt(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	expr, err := c.Compile(&ast.Cast{Expr: &ast.Literal{Value: "42"}, TargetType: "int"})
	require.NoError(t, err)
	v, err := expr(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.Equal(t, int64(42), v.AsInt())
}

func TestCompileCastDecimalWithSizeArgs(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	expr, err := c.Compile(&ast.Cast{Expr: &ast.Literal{Value: "19.50"}, TargetType: "decimal(18,2)"})
	require.NoError(t, err)
	v, err := expr(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.Equal(t, sql.KindDecimal, v.Kind())
}

func TestCompileCastNullPassesThrough(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	expr, err := c.Compile(&ast.Cast{Expr: &ast.Literal{Value: nil}, TargetType: "int"})
	require.NoError(t, err)
	v, err := expr(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestCompileCastUnparsableStringFails(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	expr, err := c.Compile(&ast.Cast{Expr: &ast.Literal{Value: "not-a-number"}, TargetType: "int"})
	require.NoError(t, err)
	_, err = expr(testCtx(), testRow("acme", 7))
	require.Error(t, err)
}

func TestCompileCastFractionalDecimalToIntFails(t *testing.T) {
	c := NewCompiler(testSchema(), nil, nil, nil)
	expr, err := c.Compile(&ast.Cast{Expr: &ast.Literal{Value: "1.5"}, TargetType: "decimal"})
	require.NoError(t, err)
	dec, err := expr(testCtx(), testRow("acme", 7))
	require.NoError(t, err)
	require.Equal(t, sql.KindDecimal, dec.Kind())

	_, err = convertToInt(dec)
	require.Error(t, err)
}
