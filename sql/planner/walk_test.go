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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
)

func TestSplitAndFlattensNestedConjunction(t *testing.T) {
	a := &ast.Comparison{Op: ast.CmpEq, Left: &ast.ColumnRef{Column: "a"}, Right: &ast.Literal{Value: int64(1)}}
	b := &ast.Comparison{Op: ast.CmpEq, Left: &ast.ColumnRef{Column: "b"}, Right: &ast.Literal{Value: int64(2)}}
	c := &ast.Comparison{Op: ast.CmpEq, Left: &ast.ColumnRef{Column: "c"}, Right: &ast.Literal{Value: int64(3)}}
	tree := &ast.Logical{Op: ast.LogAnd, Left: &ast.Logical{Op: ast.LogAnd, Left: a, Right: b}, Right: c}

	got := splitAnd(tree)
	require.Equal(t, []ast.Condition{a, b, c}, got)
}

func TestSplitAndDoesNotSplitOr(t *testing.T) {
	a := &ast.Comparison{Op: ast.CmpEq, Left: &ast.ColumnRef{Column: "a"}, Right: &ast.Literal{Value: int64(1)}}
	b := &ast.Comparison{Op: ast.CmpEq, Left: &ast.ColumnRef{Column: "b"}, Right: &ast.Literal{Value: int64(2)}}
	or := &ast.Logical{Op: ast.LogOr, Left: a, Right: b}

	got := splitAnd(or)
	require.Equal(t, []ast.Condition{or}, got)
}

func TestJoinAndIsSplitAndInverse(t *testing.T) {
	a := &ast.Comparison{Op: ast.CmpEq, Left: &ast.ColumnRef{Column: "a"}, Right: &ast.Literal{Value: int64(1)}}
	b := &ast.Comparison{Op: ast.CmpEq, Left: &ast.ColumnRef{Column: "b"}, Right: &ast.Literal{Value: int64(2)}}

	joined := joinAnd([]ast.Condition{a, b})
	require.Equal(t, []ast.Condition{a, b}, splitAnd(joined))
}

func TestJoinAndOfEmptyListIsNil(t *testing.T) {
	require.Nil(t, joinAnd(nil))
}

func TestColumnRefsCollectsNestedRefs(t *testing.T) {
	expr := &ast.Binary{
		Left:  &ast.ColumnRef{Column: "revenue"},
		Right: &ast.Function{Name: "ISNULL", Args: []ast.Expression{&ast.ColumnRef{Column: "discount"}, &ast.Literal{Value: int64(0)}}},
	}
	refs := columnRefs(expr)
	var names []string
	for _, r := range refs {
		names = append(names, r.Column)
	}
	require.ElementsMatch(t, []string{"revenue", "discount"}, names)
}

func TestColumnRefsSkipsNestedSubqueryColumns(t *testing.T) {
	cond := &ast.Exists{}
	require.Empty(t, columnRefs(cond))
}

func TestResolvesInAcceptsBareAndQualifiedNames(t *testing.T) {
	schema := sql.Schema{{Name: "accountid", Kind: sql.KindGuid}}
	require.True(t, resolvesIn([]*ast.ColumnRef{{Column: "accountid"}}, schema))
	require.True(t, resolvesIn([]*ast.ColumnRef{{Table: "a", Column: "accountid"}}, schema))
}

func TestResolvesInRejectsUnknownColumn(t *testing.T) {
	schema := sql.Schema{{Name: "accountid", Kind: sql.KindGuid}}
	require.False(t, resolvesIn([]*ast.ColumnRef{{Column: "nope"}}, schema))
}
