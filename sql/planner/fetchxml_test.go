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

// opportunityMetadata carries a datetime attribute so date-grouping and
// partitioned-fallback paths have something to fold and slice on.
func opportunityMetadata() *fakeMetadata {
	return &fakeMetadata{entities: map[string]sql.EntityMetadata{
		"opportunity": {
			LogicalName: "opportunity",
			Attributes: map[string]sql.AttributeMetadata{
				"opportunityid": {LogicalName: "opportunityid", Kind: sql.KindGuid},
				"name":          {LogicalName: "name", Kind: sql.KindString, Nullable: true},
				"revenue":       {LogicalName: "revenue", Kind: sql.KindFloat, Nullable: true},
				"createdon":     {LogicalName: "createdon", Kind: sql.KindDateTime, Nullable: true},
			},
		},
	}}
}

// scanOf unwraps the Project/filter layers planSelect puts above a leaf
// scan (newTestContext turns prefetch off).
func scanOf(t *testing.T, node plan.Node) *plan.FetchXmlScan {
	t.Helper()
	for node != nil {
		if scan, ok := node.(*plan.FetchXmlScan); ok {
			return scan
		}
		children := node.Children()
		require.NotEmpty(t, children, "no FetchXmlScan beneath %T", node)
		node = children[0]
	}
	t.Fatal("no FetchXmlScan found")
	return nil
}

func TestTopPushesPageCountNeverFetchTop(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Expr: &ast.ColumnRef{Column: "name"}}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		Top:     &ast.Literal{Value: int64(100)},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	scan := scanOf(t, node)
	require.Contains(t, scan.FetchXml, `count="100"`)
	require.NotContains(t, scan.FetchXml, `top=`)
	require.Equal(t, int64(100), scan.MaxRows)
}

func TestTopAboveOnePageClampsCountAndBoundsPaging(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Star: true}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		Top:     &ast.Literal{Value: int64(7000)},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	scan := scanOf(t, node)
	require.Contains(t, scan.FetchXml, `count="5000"`)
	require.NotContains(t, scan.FetchXml, `top=`)
	require.Equal(t, int64(7000), scan.MaxRows)
}

func TestWhereComparisonPushesIntoFilter(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Expr: &ast.ColumnRef{Column: "name"}}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		Where: &ast.Comparison{
			Op:    ast.CmpEq,
			Left:  &ast.ColumnRef{Column: "name"},
			Right: &ast.Literal{Value: "Acme"},
		},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	// fully pushed: Project sits directly on the scan with no ClientFilter
	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	scan, ok := proj.Child.(*plan.FetchXmlScan)
	require.True(t, ok)
	require.Contains(t, scan.FetchXml, `<condition attribute="name" operator="eq" value="Acme"/>`)
}

func TestWhereFunctionCallStaysClientSide(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Expr: &ast.ColumnRef{Column: "name"}}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		Where: &ast.Comparison{
			Op:    ast.CmpEq,
			Left:  &ast.Function{Name: "UPPER", Args: []ast.Expression{&ast.ColumnRef{Column: "name"}}},
			Right: &ast.Literal{Value: "ACME"},
		},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	_, ok = proj.Child.(*plan.ClientFilter)
	require.True(t, ok, "UPPER(name) has no FetchXML operator and must stay in a ClientFilter")
	require.NotContains(t, scanOf(t, node).FetchXml, "<filter")
}

func TestMixedWhereSplitsPushedAndResidualConjuncts(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Expr: &ast.ColumnRef{Column: "name"}}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		Where: &ast.Logical{
			Op: ast.LogAnd,
			Left: &ast.Comparison{
				Op:    ast.CmpGt,
				Left:  &ast.ColumnRef{Column: "revenue"},
				Right: &ast.Literal{Value: int64(10)},
			},
			Right: &ast.Comparison{
				Op:    ast.CmpEq,
				Left:  &ast.ColumnRef{Column: "name"},
				Right: &ast.ColumnRef{Column: "accountid"}, // column-to-column: never pushes
			},
		},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	_, ok = proj.Child.(*plan.ClientFilter)
	require.True(t, ok)
	scan := scanOf(t, node)
	require.Contains(t, scan.FetchXml, `<condition attribute="revenue" operator="gt" value="10"/>`)
}

func TestSplitPushdownOperatorCoverage(t *testing.T) {
	schema := sql.Schema{
		{Name: "name", Kind: sql.KindString},
		{Name: "revenue", Kind: sql.KindInt},
	}
	col := func(c string) *ast.ColumnRef { return &ast.ColumnRef{Column: c} }

	cases := []struct {
		name     string
		cond     ast.Condition
		fragment string
	}{
		{"like", &ast.Like{Expr: col("name"), Pattern: &ast.Literal{Value: "A%"}}, `operator="like" value="A%"`},
		{"not like", &ast.Like{Expr: col("name"), Pattern: &ast.Literal{Value: "A%"}, Not: true}, `operator="not-like"`},
		{"is null", &ast.Null{Expr: col("name")}, `operator="null"`},
		{"is not null", &ast.Null{Expr: col("name"), Not: true}, `operator="not-null"`},
		{"in", &ast.In{Expr: col("revenue"), List: []ast.Expression{&ast.Literal{Value: int64(1)}, &ast.Literal{Value: int64(2)}}}, `<value>1</value><value>2</value>`},
		{"between", &ast.Between{Expr: col("revenue"), Lo: &ast.Literal{Value: int64(1)}, Hi: &ast.Literal{Value: int64(5)}}, `operator="ge" value="1"`},
		{"or", &ast.Logical{
			Op:    ast.LogOr,
			Left:  &ast.Comparison{Op: ast.CmpEq, Left: col("name"), Right: &ast.Literal{Value: "A"}},
			Right: &ast.Comparison{Op: ast.CmpEq, Left: col("name"), Right: &ast.Literal{Value: "B"}},
		}, `<filter type="or">`},
		{"flipped comparison", &ast.Comparison{Op: ast.CmpLt, Left: &ast.Literal{Value: int64(5)}, Right: col("revenue")}, `operator="gt" value="5"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			filter, residual := splitPushdown(tc.cond, schema)
			require.Nil(t, residual)
			b := &fetchBuilder{Entity: "account", Attrs: []string{"name"}, Filter: filter}
			require.Contains(t, b.Render(), tc.fragment)
		})
	}
}

func TestSplitPushdownRejectsVariableOperand(t *testing.T) {
	schema := sql.Schema{{Name: "name", Kind: sql.KindString}}
	cond := &ast.Comparison{Op: ast.CmpEq, Left: &ast.ColumnRef{Column: "name"}, Right: &ast.Variable{Name: "x"}}
	filter, residual := splitPushdown(cond, schema)
	require.Nil(t, filter)
	require.NotNil(t, residual)
}

func TestOrderByPlainColumnsPushesIntoFetchXml(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Expr: &ast.ColumnRef{Column: "name"}}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		OrderBy: []ast.OrderByItem{{Expr: &ast.ColumnRef{Column: "revenue"}, Desc: true}},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	// pushed ordering leaves no Sort node in the tree
	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	scan, ok := proj.Child.(*plan.FetchXmlScan)
	require.True(t, ok)
	require.Contains(t, scan.FetchXml, `<order attribute="revenue" descending="true"/>`)
}

func TestBareCountStarPlansCountOptimized(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Expr: &ast.Function{Name: "COUNT", Args: []ast.Expression{&ast.ColumnRef{Column: "*"}}}, Alias: "total"}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
	}
	node, schema, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	co, ok := node.(*plan.CountOptimized)
	require.True(t, ok)
	require.Equal(t, "account", co.Entity)
	require.Equal(t, "total", schema[0].Name)
}

func TestCountStarWithWhereDoesNotUseCountOptimized(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Expr: &ast.Function{Name: "COUNT", Args: []ast.Expression{&ast.ColumnRef{Column: "*"}}}}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		Where: &ast.Comparison{
			Op:    ast.CmpEq,
			Left:  &ast.ColumnRef{Column: "name"},
			Right: &ast.Literal{Value: "Acme"},
		},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)
	_, ok := node.(*plan.CountOptimized)
	require.False(t, ok)
}

func TestUseTdsHintRoutesWholeStatementToReplica(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Expr: &ast.ColumnRef{Column: "name"}}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		Where: &ast.Comparison{
			Op:    ast.CmpGt,
			Left:  &ast.ColumnRef{Column: "revenue"},
			Right: &ast.Literal{Value: int64(100)},
		},
		Hints: map[string]string{"USE_TDS": ""},
	}
	node, schema, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	tds, ok := node.(*plan.TdsScan)
	require.True(t, ok)
	require.Equal(t, "SELECT name FROM account WHERE revenue > 100", tds.SQL)
	require.Equal(t, "name", schema[0].Name)
}

func TestDateGroupingFoldsIntoFetchXml(t *testing.T) {
	p := New(opportunityMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	year := &ast.Function{Name: "YEAR", Args: []ast.Expression{&ast.ColumnRef{Column: "createdon"}}}
	sel := &ast.Select{
		Columns: []ast.SelectColumn{
			{Expr: year, Alias: "yr"},
			{Expr: &ast.Function{Name: "SUM", Args: []ast.Expression{&ast.ColumnRef{Column: "revenue"}}}, Alias: "total"},
		},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "opportunity"}},
		GroupBy: []ast.Expression{&ast.Function{Name: "YEAR", Args: []ast.Expression{&ast.ColumnRef{Column: "createdon"}}}},
	}
	node, schema, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	scan := scanOf(t, node)
	require.Contains(t, scan.FetchXml, `dategrouping="year"`)
	require.Contains(t, scan.FetchXml, `groupby="true"`)

	names := make([]string, len(schema))
	for i, c := range schema {
		names[i] = c.Name
	}
	require.Contains(t, names, "yr")
}

func TestGlobalAggregateWrapsScanInPartitionedFallback(t *testing.T) {
	p := New(opportunityMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{
			{Expr: &ast.Function{Name: "AVG", Args: []ast.Expression{&ast.ColumnRef{Column: "revenue"}}}, Alias: "avg_rev"},
		},
		From: &ast.NamedTable{Table: ast.TableName{Entity: "opportunity"}},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	fb, ok := proj.Child.(*plan.AggregateFallback)
	require.True(t, ok)

	primary, ok := fb.Primary.(*plan.FetchXmlScan)
	require.True(t, ok)
	require.Contains(t, primary.FetchXml, `aggregate="true"`)
	require.Contains(t, primary.FetchXml, `alias="avg_rev" aggregate="avg"`)

	pa, ok := fb.Partitioned.(*plan.PartitionedAggregate)
	require.True(t, ok)
	pp, ok := pa.Child.(*plan.ParallelPartition)
	require.True(t, ok)
	require.NotEmpty(t, pp.Partitions)
	for _, part := range pp.Partitions {
		scan := part.(*plan.FetchXmlScan)
		require.Contains(t, scan.FetchXml, `operator="ge"`)
		require.Contains(t, scan.FetchXml, `operator="lt"`)
		require.Contains(t, scan.FetchXml, `aggregate="countcolumn"`, "AVG partitions carry a companion count for weighting")
	}
}

func TestGroupedAggregateHasNoPartitionedFallback(t *testing.T) {
	p := New(opportunityMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{
			{Expr: &ast.ColumnRef{Column: "name"}},
			{Expr: &ast.Function{Name: "COUNT", Args: []ast.Expression{&ast.ColumnRef{Column: "*"}}}, Alias: "cnt"},
		},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "opportunity"}},
		GroupBy: []ast.Expression{&ast.ColumnRef{Column: "name"}},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	_, ok = proj.Child.(*plan.FetchXmlScan)
	require.True(t, ok, "grouped partials cannot be recombined, so the scan stays bare")
}

func TestRemoteScanInJoinIsSpooled(t *testing.T) {
	meta := accountMetadata()
	meta.entities["contact"] = sql.EntityMetadata{
		LogicalName: "contact",
		Attributes: map[string]sql.AttributeMetadata{
			"contactid": {LogicalName: "contactid", Kind: sql.KindGuid},
			"fullname":  {LogicalName: "fullname", Kind: sql.KindString, Nullable: true},
		},
	}
	p := New(meta)
	ctx := newTestContext(&fakePool{}, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Star: true}},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		Joins: []ast.Join{{
			Kind:  ast.JoinInner,
			Table: &ast.NamedTable{Table: ast.TableName{EnvLabel: "uat", Entity: "contact"}},
			On: &ast.Comparison{
				Op:    ast.CmpEq,
				Left:  &ast.ColumnRef{Column: "accountid"},
				Right: &ast.ColumnRef{Column: "contactid"},
			},
		}},
	}
	node, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	var sawSpool bool
	var walk func(plan.Node)
	walk = func(n plan.Node) {
		if spool, ok := n.(*plan.TableSpool); ok {
			if scan, ok := spool.Child.(*plan.FetchXmlScan); ok && scan.EnvLabel == "uat" {
				sawSpool = true
			}
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(node)
	require.True(t, sawSpool, "a cross-environment scan must materialize into a TableSpool before joining")
}

func TestAggregateHavingOrderByPlanShape(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	countStar := func() *ast.Function {
		return &ast.Function{Name: "COUNT", Args: []ast.Expression{&ast.ColumnRef{Column: "*"}}}
	}
	sel := &ast.Select{
		Columns: []ast.SelectColumn{
			{Expr: &ast.ColumnRef{Column: "name"}},
			{Expr: countStar(), Alias: "cnt"},
		},
		From:    &ast.NamedTable{Table: ast.TableName{Entity: "account"}},
		GroupBy: []ast.Expression{&ast.ColumnRef{Column: "name"}},
		Having: &ast.Comparison{
			Op:    ast.CmpGt,
			Left:  countStar(),
			Right: &ast.Literal{Value: int64(1)},
		},
		OrderBy: []ast.OrderByItem{{Expr: &ast.ColumnRef{Column: "cnt"}, Desc: true}},
	}
	node, schema, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)

	// Project over Sort over ClientFilter (the HAVING, resolving COUNT(*)
	// as a lookup of cnt) over the aggregate FetchXmlScan.
	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	sort, ok := proj.Child.(*plan.Sort)
	require.True(t, ok)
	filter, ok := sort.Child.(*plan.ClientFilter)
	require.True(t, ok)
	scan, ok := filter.Child.(*plan.FetchXmlScan)
	require.True(t, ok)
	require.Contains(t, scan.FetchXml, `aggregate="true"`)
	require.Contains(t, scan.FetchXml, `<attribute name="name" alias="name" groupby="true"/>`)
	require.Contains(t, scan.FetchXml, `alias="cnt" aggregate="count"`)

	require.Equal(t, []string{"name", "cnt"}, []string{schema[0].Name, schema[1].Name})
}

func TestMetadataSchemaTableRoutesToMetadataScan(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Star: true}},
		From:    &ast.NamedTable{Table: ast.TableName{Schema: "metadata", Entity: "entity"}},
	}
	node, schema, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.NoError(t, err)
	require.Equal(t, "logicalname", schema[0].Name)

	proj, ok := node.(*plan.Project)
	require.True(t, ok)
	_, ok = proj.Child.(*plan.MetadataScan)
	require.True(t, ok)
}

func TestUnknownMetadataTableErrors(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Star: true}},
		From:    &ast.NamedTable{Table: ast.TableName{Schema: "metadata", Entity: "widget"}},
	}
	_, _, err := p.planSelect(ctx, newPlanCtx(), sel)
	require.Error(t, err)
	require.Contains(t, err.Error(), "widget")
}
