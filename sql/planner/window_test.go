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
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/plan"
)

func TestPlanSelectWindowFunctionInsertsClientWindow(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	rowNumber := &ast.Function{
		Name: "ROW_NUMBER",
		Over: &ast.OverClause{
			PartitionBy: []ast.Expression{&ast.ColumnRef{Column: "name"}},
			OrderBy:     []ast.OrderByItem{{Expr: &ast.ColumnRef{Column: "revenue"}}},
		},
	}
	sel := &ast.Select{
		Columns: []ast.SelectColumn{
			{Expr: &ast.ColumnRef{Column: "name"}},
			{Expr: rowNumber, Alias: "rn"},
		},
		From: &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
	}
	node, schema, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	win, ok := proj.Child.(*plan.ClientWindow)
	require.True(t, ok)
	require.Len(t, win.Specs, 1)
	require.Equal(t, plan.WinRowNumber, win.Specs[0].Func)
	require.Equal(t, "rn", win.Specs[0].Output.Name)

	names := make([]string, len(schema))
	for i, c := range schema {
		names[i] = c.Name
	}
	require.Equal(t, []string{"name", "rn"}, names)
}

func TestPlanSelectWindowAggregateOverColumnCompiles(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sumOver := &ast.Function{
		Name: "SUM",
		Args: []ast.Expression{&ast.ColumnRef{Column: "revenue"}},
		Over: &ast.OverClause{PartitionBy: []ast.Expression{&ast.ColumnRef{Column: "name"}}},
	}
	sel := &ast.Select{
		Columns: []ast.SelectColumn{
			{Expr: &ast.ColumnRef{Column: "name"}},
			{Expr: sumOver, Alias: "total"},
		},
		From: &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	// SUM with OVER is a window, not an aggregate: no grouping node of
	// either kind appears and the scan stays non-aggregate.
	proj := node.(*plan.Project)
	win, ok := proj.Child.(*plan.ClientWindow)
	require.True(t, ok)
	require.Equal(t, plan.WinSum, win.Specs[0].Func)
	scan, ok := win.Child.(*plan.FetchXmlScan)
	require.True(t, ok)
	require.NotContains(t, scan.FetchXml, `aggregate="true"`)
}

func TestUnsupportedWindowFunctionErrors(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{
			Expr: &ast.Function{Name: "NTILE", Args: []ast.Expression{&ast.Literal{Value: int64(4)}}, Over: &ast.OverClause{}},
		}},
		From: &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
	}
	_, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.Error(t, err)
	require.Contains(t, err.Error(), "NTILE")
}
