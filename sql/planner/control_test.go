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

func trueCond() ast.Condition {
	return &ast.Comparison{Op: ast.CmpEq, Left: &ast.Literal{Value: int64(1)}, Right: &ast.Literal{Value: int64(1)}}
}

func TestPlanIfCombinesThenElseSafetyVerdicts(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	stmt := &ast.If{
		Condition: trueCond(),
		Then:      &ast.Delete{Target: ast.TableName{Entity: "account"}},
	}
	node, _, verdict, msg, err := p.planIf(ctx, newPlanCtx(), stmt)
	require.NoError(t, err)
	require.NotNil(t, node)
	require.Equal(t, SafetyBlocked, verdict)
	require.NotEmpty(t, msg)
}

func TestPlanIfWithNoElseReportsThenVerdict(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{Confirmed: true})
	stmt := &ast.If{
		Condition: trueCond(),
		Then:      &ast.SetVar{Name: "@x", Value: &ast.Literal{Value: int64(1)}},
	}
	node, _, verdict, _, err := p.planIf(ctx, newPlanCtx(), stmt)
	require.NoError(t, err)
	require.NotNil(t, node)
	require.Equal(t, SafetyOK, verdict)
}

func TestPlanBlockFoldsWorstVerdictAcrossStatements(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	block := &ast.Block{Statements: []ast.Statement{
		&ast.SetVar{Name: "@x", Value: &ast.Literal{Value: int64(1)}},
		&ast.Delete{Target: ast.TableName{Entity: "account"}},
	}}
	node, _, verdict, _, err := p.planBlock(ctx, newPlanCtx(), block)
	require.NoError(t, err)
	_, ok := node.(*plan.Script)
	require.True(t, ok)
	require.Equal(t, SafetyBlocked, verdict)
}

func TestPlanWhileUsesBodySafetyVerdict(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	stmt := &ast.While{
		Condition: trueCond(),
		Body:      &ast.Delete{Target: ast.TableName{Entity: "account"}},
	}
	node, schema, verdict, _, err := p.planWhile(ctx, newPlanCtx(), stmt)
	require.NoError(t, err)
	require.NotNil(t, node)
	require.Nil(t, schema)
	require.Equal(t, SafetyBlocked, verdict)
}

func TestPlanDeclareVarWithNoInitSetsNull(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	stmt := &ast.DeclareVar{Name: "@x", Type: "INT"}
	node, _, verdict, _, err := p.planDeclareVar(ctx, newPlanCtx(), stmt)
	require.NoError(t, err)
	require.Equal(t, SafetyOK, verdict)

	_, err = node.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	v, ok := ctx.Variable("@x")
	require.True(t, ok)
	require.True(t, v.IsNull())
}

func TestPlanDeclareVarWithInitEvaluatesExpression(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	stmt := &ast.DeclareVar{Name: "@x", Type: "INT", Init: &ast.Literal{Value: int64(7)}}
	node, _, _, _, err := p.planDeclareVar(ctx, newPlanCtx(), stmt)
	require.NoError(t, err)

	_, err = node.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	v, ok := ctx.Variable("@x")
	require.True(t, ok)
	require.Equal(t, int64(7), v.AsInt())
}

func TestPlanRaiseErrorCompilesMessageSeverityState(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	stmt := &ast.RaiseError{
		Message:  &ast.Literal{Value: "boom"},
		Severity: &ast.Literal{Value: int64(16)},
		State:    &ast.Literal{Value: int64(1)},
	}
	node, _, verdict, _, err := p.planRaiseError(ctx, newPlanCtx(), stmt)
	require.NoError(t, err)
	require.Equal(t, SafetyOK, verdict)

	_, err = node.Execute(ctx, sql.Row{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}
