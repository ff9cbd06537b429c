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

func lookupMetadata() *fakeMetadata {
	return &fakeMetadata{entities: map[string]sql.EntityMetadata{
		"account": {
			LogicalName: "account",
			Attributes: map[string]sql.AttributeMetadata{
				"accountid":       {LogicalName: "accountid", Kind: sql.KindGuid},
				"name":            {LogicalName: "name", Kind: sql.KindString, Nullable: true},
				"revenue":         {LogicalName: "revenue", Kind: sql.KindInt, Nullable: true},
				"primarycontactid": {LogicalName: "primarycontactid", Kind: sql.KindLookup, Nullable: true, IsLookup: true},
			},
		},
	}}
}

func TestPlanSelectStarProducesWholeSchema(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Star: true}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
	}
	node, schema, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)
	require.NotNil(t, node)
	require.Len(t, schema, 3)
}

func TestPlanSelectNamedColumnPropagatesLookupFlagForNameColumn(t *testing.T) {
	p := New(lookupMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Expr: &ast.ColumnRef{Column: "primarycontactid"}}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
	}
	_, schema, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	var sawNameCol bool
	for _, c := range schema {
		if c.Name == "primarycontactidname" {
			sawNameCol = true
			require.True(t, c.IsNameCol)
		}
	}
	require.True(t, sawNameCol, "expected a synthesized <col>name companion column in projected schema")
}

func TestPlanSelectFoldableGroupByPushesAggregateIntoScan(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{
			{Expr: &ast.ColumnRef{Column: "name"}},
			{Expr: &ast.Function{Name: "SUM", Args: []ast.Expression{&ast.ColumnRef{Column: "revenue"}}}, Alias: "total"},
		},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		GroupBy: []ast.Expression{&ast.ColumnRef{Column: "name"}},
	}
	node, schema, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	// A plain-column GROUP BY over simple aggregates transpiles fully: the
	// scan itself is the aggregate, so no ClientAggregate appears and
	// Project wraps the scan directly.
	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	scan, ok := proj.Child.(*plan.FetchXmlScan)
	require.True(t, ok)
	require.Contains(t, scan.FetchXml, `aggregate="true"`)
	require.Contains(t, scan.FetchXml, `groupby="true"`)
	require.Contains(t, scan.FetchXml, `alias="total" aggregate="sum"`)

	names := make([]string, len(schema))
	for i, c := range schema {
		names[i] = c.Name
	}
	require.Contains(t, names, "total")
}

func TestPlanSelectExpressionGroupByStaysClientSide(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{
			{Expr: &ast.Function{Name: "COUNT", Args: []ast.Expression{&ast.ColumnRef{Column: "*"}}}, Alias: "cnt"},
		},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		GroupBy: []ast.Expression{&ast.Function{Name: "UPPER", Args: []ast.Expression{&ast.ColumnRef{Column: "name"}}}},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	_, ok = proj.Child.(*plan.ClientAggregate)
	require.True(t, ok, "UPPER(name) has no FetchXML grouping, so aggregation must run client-side")
}

func TestPlanSelectHavingAggregateResolvesAgainstAlias(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	countStar := &ast.Function{Name: "COUNT", Args: []ast.Expression{&ast.ColumnRef{Column: "*"}}}
	sel := &ast.Select{
		Columns: []ast.SelectColumn{
			{Expr: &ast.ColumnRef{Column: "name"}},
			{Expr: countStar, Alias: "cnt"},
		},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		GroupBy: []ast.Expression{&ast.ColumnRef{Column: "name"}},
		Having: &ast.Comparison{
			Op:    ast.CmpGt,
			Left:  &ast.Function{Name: "COUNT", Args: []ast.Expression{&ast.ColumnRef{Column: "*"}}},
			Right: &ast.Literal{Value: int64(1)},
		},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	// HAVING compiles into a ClientFilter between Project and the
	// aggregate scan; its COUNT(*) call resolved as a lookup of the cnt
	// column rather than erroring as an aggregate outside grouping.
	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	_, ok = proj.Child.(*plan.ClientFilter)
	require.True(t, ok)
}

func TestPlanSelectDistinctWrapsProjectInDistinct(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns:  []ast.SelectColumn{{Expr: &ast.ColumnRef{Column: "name"}}},
		From:     &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		Distinct: true,
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)
	_, ok := node.(*plan.Distinct)
	require.True(t, ok)
}

func TestPlanSelectTopWrapsNodeInLimit(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Expr: &ast.ColumnRef{Column: "name"}}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		Top:     &ast.Literal{Value: int64(10)},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)
	lim, ok := node.(*plan.Limit)
	require.True(t, ok)
	require.Equal(t, int64(10), lim.Count)
}

func TestPlanSelectUnknownEntityErrors(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Star: true}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "nope"}},
	}
	_, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.Error(t, err)
}

func TestIsEquiJoinRecognizesColumnEqualityRegardlessOfSide(t *testing.T) {
	left := sql.Schema{{Name: "accountid", Kind: sql.KindGuid}}
	right := sql.Schema{{Name: "parentaccountid", Kind: sql.KindGuid}}

	cmp := &ast.Comparison{
		Op:   ast.CmpEq,
		Left: &ast.ColumnRef{Column: "parentaccountid"},
		Right: &ast.ColumnRef{Column: "accountid"},
	}
	lExpr, rExpr, ok := isEquiJoin(cmp, left, right)
	require.True(t, ok)
	require.Equal(t, "accountid", lExpr.(*ast.ColumnRef).Column)
	require.Equal(t, "parentaccountid", rExpr.(*ast.ColumnRef).Column)
}

func TestIsEquiJoinRejectsNonEqualityOperator(t *testing.T) {
	left := sql.Schema{{Name: "revenue", Kind: sql.KindInt}}
	right := sql.Schema{{Name: "threshold", Kind: sql.KindInt}}
	cmp := &ast.Comparison{
		Op:   ast.CmpGt,
		Left: &ast.ColumnRef{Column: "revenue"},
		Right: &ast.ColumnRef{Column: "threshold"},
	}
	_, _, ok := isEquiJoin(cmp, left, right)
	require.False(t, ok)
}

func TestMapAggFuncCoversAllSupportedNames(t *testing.T) {
	for _, name := range []string{"COUNT", "COUNT_BIG", "SUM", "AVG", "MIN", "MAX", "STDEV", "STDEVP", "VAR", "VARP"} {
		_, ok := mapAggFunc(name)
		require.True(t, ok, name)
	}
	_, ok := mapAggFunc("MEDIAN")
	require.False(t, ok)
}
