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

type fakeMetadata struct {
	entities map[string]sql.EntityMetadata
}

func (f *fakeMetadata) Entities(ctx *sql.Context) ([]string, error) {
	names := make([]string, 0, len(f.entities))
	for n := range f.entities {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeMetadata) Entity(ctx *sql.Context, logicalName string) (sql.EntityMetadata, error) {
	m, ok := f.entities[logicalName]
	if !ok {
		return sql.EntityMetadata{}, sql.ErrValidation.New("unknown entity " + logicalName)
	}
	return m, nil
}

func (f *fakeMetadata) InvalidateEntity(string) {}
func (f *fakeMetadata) InvalidateAll()          {}

func accountMetadata() *fakeMetadata {
	return &fakeMetadata{entities: map[string]sql.EntityMetadata{
		"account": {
			LogicalName: "account",
			Attributes: map[string]sql.AttributeMetadata{
				"accountid": {LogicalName: "accountid", Kind: sql.KindGuid},
				"name":      {LogicalName: "name", Kind: sql.KindString, Nullable: true},
				"revenue":   {LogicalName: "revenue", Kind: sql.KindInt, Nullable: true},
			},
		},
	}}
}

type fakePool struct {
	production map[string]bool
}

func (f *fakePool) Capacity(label string) int { return 1 }
func (f *fakePool) Resolve(label string) (sql.BackendExecutor, sql.BulkWriteExecutor, error) {
	return nil, nil, nil
}
func (f *fakePool) IsProduction(label string) bool { return f.production[label] }

// newTestContext disables prefetch so plan-shape assertions see bare
// scans instead of Prefetch wrappers.
func newTestContext(pool sql.ConnectionPool, safety sql.DmlSafety) *sql.Context {
	return sql.NewContext(nil, nil, nil, nil, pool, sql.PlanOptions{DisablePrefetch: true}, safety, nil)
}

func TestPrimaryKeyConvention(t *testing.T) {
	require.Equal(t, "accountid", primaryKey("account"))
	require.Equal(t, "contactid", primaryKey("contact"))
}

func TestDmlSafetyBlocksWriteWithoutWhere(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	verdict, msg := p.dmlSafety(ctx, ast.TableName{Entity: "account"}, false, nil)
	require.Equal(t, SafetyBlocked, verdict)
	require.Contains(t, msg, "account")
}

func TestDmlSafetyConfirmedBypassesNoWhereBlock(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{Confirmed: true})
	verdict, _ := p.dmlSafety(ctx, ast.TableName{Entity: "account"}, false, nil)
	require.Equal(t, SafetyOK, verdict)
}

func TestDmlSafetyRequiresConfirmationForProductionTarget(t *testing.T) {
	p := New(accountMetadata())
	pool := &fakePool{production: map[string]bool{"Prod": true}}
	ctx := newTestContext(pool, sql.DmlSafety{})
	verdict, msg := p.dmlSafety(ctx, ast.TableName{Entity: "account", EnvLabel: "Prod"}, true, nil)
	require.Equal(t, SafetyRequiresConfirmation, verdict)
	require.Contains(t, msg, "Prod")
}

func TestDmlSafetyBlockedBeatsRequiresConfirmation(t *testing.T) {
	p := New(accountMetadata())
	pool := &fakePool{production: map[string]bool{"Prod": true}}
	ctx := newTestContext(pool, sql.DmlSafety{})
	verdict, _ := p.dmlSafety(ctx, ast.TableName{Entity: "account", EnvLabel: "Prod"}, false, nil)
	require.Equal(t, SafetyBlocked, verdict)
}

func TestCombineSafetyKeepsWorstVerdict(t *testing.T) {
	v, m := combineSafety(SafetyOK, "", SafetyRequiresConfirmation, "needs confirm")
	require.Equal(t, SafetyRequiresConfirmation, v)
	require.Equal(t, "needs confirm", m)

	v, m = combineSafety(SafetyBlocked, "blocked", SafetyRequiresConfirmation, "needs confirm")
	require.Equal(t, SafetyBlocked, v)
	require.Equal(t, "blocked", m)

	v, _ = combineSafety(SafetyRequiresConfirmation, "", SafetyBlocked, "blocked")
	require.Equal(t, SafetyBlocked, v)
}

func TestPlanInsertFromValuesBuildsDmlExecute(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{Confirmed: true})
	stmt := &ast.Insert{
		Target:  ast.TableName{Entity: "account"},
		Columns: []string{"name", "revenue"},
		Values: [][]ast.Expression{
			{&ast.Literal{Value: "Acme"}, &ast.Literal{Value: int64(100)}},
		},
	}
	node, _, verdict, _, err := p.planInsert(ctx, newPlanCtx(), stmt)
	require.NoError(t, err)
	require.Equal(t, SafetyOK, verdict)
	dml, ok := node.(*plan.DmlExecute)
	require.True(t, ok)
	require.Equal(t, plan.DmlInsert, dml.Op)
	require.Equal(t, "account", dml.Entity)
}

func TestPlanInsertRequiresExplicitColumnList(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{Confirmed: true})
	stmt := &ast.Insert{Target: ast.TableName{Entity: "account"}}
	_, _, _, _, err := p.planInsert(ctx, newPlanCtx(), stmt)
	require.Error(t, err)
}

func TestPlanDeleteWithoutWhereIsBlocked(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	stmt := &ast.Delete{Target: ast.TableName{Entity: "account"}}
	node, _, verdict, msg, err := p.planDelete(ctx, newPlanCtx(), stmt)
	require.NoError(t, err)
	require.NotNil(t, node)
	require.Equal(t, SafetyBlocked, verdict)
	require.NotEmpty(t, msg)
}

func TestPlanUpdateWithWhereIsSafetyOK(t *testing.T) {
	p := New(accountMetadata())
	ctx := newTestContext(nil, sql.DmlSafety{})
	stmt := &ast.Update{
		Target: ast.TableName{Entity: "account"},
		Set:    []ast.AssignColumn{{Column: "name", Value: &ast.Literal{Value: "Acme"}}},
		Where: &ast.Comparison{
			Op:    ast.CmpEq,
			Left:  &ast.ColumnRef{Column: "accountid"},
			Right: &ast.Literal{Value: "11111111-1111-1111-1111-111111111111"},
		},
	}
	node, _, verdict, _, err := p.planUpdate(ctx, newPlanCtx(), stmt)
	require.NoError(t, err)
	require.Equal(t, SafetyOK, verdict)
	dml, ok := node.(*plan.DmlExecute)
	require.True(t, ok)
	require.Equal(t, "accountid", dml.IDColumn)
}

func TestDmlSafetyRequiresConfirmationForProductionSource(t *testing.T) {
	p := New(accountMetadata())
	pool := &fakePool{production: map[string]bool{"Prod": true}}
	ctx := newTestContext(pool, sql.DmlSafety{})
	verdict, msg := p.dmlSafety(ctx, ast.TableName{Entity: "account"}, true,
		[]string{"Prod"})
	require.Equal(t, SafetyRequiresConfirmation, verdict)
	require.Contains(t, msg, "source environment")
	require.Contains(t, msg, "Prod")
}

func TestDmlSafetySourceMatchingTargetEnvironmentNeedsNoExtraConfirmation(t *testing.T) {
	p := New(accountMetadata())
	pool := &fakePool{production: map[string]bool{"Prod": true}}
	ctx := newTestContext(pool, sql.DmlSafety{Confirmed: true})
	verdict, _ := p.dmlSafety(ctx, ast.TableName{Entity: "account", EnvLabel: "Prod"}, true,
		[]string{"Prod"})
	require.Equal(t, SafetyOK, verdict)
}

func TestSourceEnvLabelsCollectsJoinedAndDerivedSources(t *testing.T) {
	sel := &ast.Select{
		Columns: []ast.SelectColumn{{Star: true}},
		From:    &ast.NamedTable{Table: ast.TableName{EnvLabel: "Prod", Entity: "account"}},
		Joins: []ast.Join{{
			Kind: ast.JoinInner,
			Table: &ast.DerivedTable{Select: &ast.Select{
				Columns: []ast.SelectColumn{{Star: true}},
				From:    &ast.NamedTable{Table: ast.TableName{EnvLabel: "uat", Entity: "contact"}},
			}},
		}},
	}
	labels := sourceEnvLabels(sel)
	require.Equal(t, []string{"Prod", "uat"}, labels)
}

func TestPlanInsertSelectFromProductionSourceRequiresConfirmation(t *testing.T) {
	meta := accountMetadata()
	p := New(meta)
	pool := &fakePool{production: map[string]bool{"Prod": true}}
	ctx := newTestContext(pool, sql.DmlSafety{})
	stmt := &ast.Insert{
		Target:  ast.TableName{Entity: "account"},
		Columns: []string{"name"},
		Source: &ast.Select{
			Columns: []ast.SelectColumn{{Expr: &ast.ColumnRef{Column: "name"}}},
			From:    &ast.NamedTable{Table: ast.TableName{EnvLabel: "Prod", Entity: "account"}},
		},
	}
	_, _, verdict, msg, err := p.planInsert(ctx, newPlanCtx(), stmt)
	require.NoError(t, err)
	require.Equal(t, SafetyRequiresConfirmation, verdict)
	require.Contains(t, msg, "source environment")
}
