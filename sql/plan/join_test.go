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

package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
)

// colExpr reads a named column at evaluation time, the way the expression
// compiler's column-reference path would for a resolved ColumnRef.
func colExpr(name string) expression.Expr {
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		v, _ := row.Get(name)
		return v, nil
	}
}

func literalTable(schema sql.Schema, data [][]sql.Value) Node {
	rows := make([][]expression.Expr, len(data))
	for i, tuple := range data {
		exprs := make([]expression.Expr, len(tuple))
		for j, v := range tuple {
			exprs[j] = constExpr(v)
		}
		rows[i] = exprs
	}
	return NewValues(schema, rows)
}

func accountsTable() Node {
	schema := sql.Schema{
		{Name: "accountid", Kind: sql.KindInt},
		{Name: "name", Kind: sql.KindString},
	}
	return literalTable(schema, [][]sql.Value{
		{sql.NewInt(1), sql.NewString("Acme")},
		{sql.NewInt(2), sql.NewString("Globex")},
		{sql.NewInt(3), sql.NewString("Initech")},
	})
}

func contactsTable() Node {
	schema := sql.Schema{
		{Name: "contactid", Kind: sql.KindInt},
		{Name: "parentaccountid", Kind: sql.KindInt},
		{Name: "fullname", Kind: sql.KindString},
	}
	return literalTable(schema, [][]sql.Value{
		{sql.NewInt(10), sql.NewInt(1), sql.NewString("Alice")},
		{sql.NewInt(11), sql.NewInt(1), sql.NewString("Bob")},
		{sql.NewInt(12), sql.NewInt(2), sql.NewString("Carol")},
		{sql.NewInt(13), sql.NewInt(99), sql.NewString("Orphan")},
	})
}

func namesOf(t *testing.T, rows []sql.Row, col string) []string {
	t.Helper()
	out := make([]string, len(rows))
	for i, r := range rows {
		v, ok := r.Get(col)
		require.True(t, ok, "row %d missing column %s", i, col)
		out[i] = v.AsString()
	}
	return out
}

func TestHashJoinInnerMatchesOnKey(t *testing.T) {
	ctx := newTestCtx()
	join := NewHashJoin(accountsTable(), contactsTable(), JoinInner, colExpr("accountid"), colExpr("parentaccountid"), nil)

	iter, err := join.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)

	require.Len(t, rows, 3)
	require.ElementsMatch(t, []string{"Alice", "Bob", "Carol"}, namesOf(t, rows, "fullname"))
}

func TestHashJoinLeftEmitsNullTemplateForUnmatched(t *testing.T) {
	ctx := newTestCtx()
	// Initech (id 3) has no contacts: Left join must still emit it once,
	// with every right-side column Null.
	join := NewHashJoin(accountsTable(), contactsTable(), JoinLeft, colExpr("accountid"), colExpr("parentaccountid"), nil)

	iter, err := join.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	var unmatched int
	for _, r := range rows {
		name, _ := r.Get("name")
		if name.AsString() == "Initech" {
			unmatched++
			full, ok := r.Get("fullname")
			require.True(t, ok)
			require.True(t, full.IsNull())
		}
	}
	require.Equal(t, 1, unmatched)
}

func TestHashJoinRightEmitsUnmatchedBuildSideRows(t *testing.T) {
	ctx := newTestCtx()
	// Orphan's parentaccountid (99) matches no account: Right join must
	// still emit it, with every left-side column Null.
	join := NewHashJoin(accountsTable(), contactsTable(), JoinRight, colExpr("accountid"), colExpr("parentaccountid"), nil)

	iter, err := join.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	var sawOrphan bool
	for _, r := range rows {
		full, _ := r.Get("fullname")
		if full.AsString() == "Orphan" {
			sawOrphan = true
			name, ok := r.Get("name")
			require.True(t, ok)
			require.True(t, name.IsNull())
		}
	}
	require.True(t, sawOrphan)
}

func TestHashJoinFullOuterEmitsBothUnmatchedSides(t *testing.T) {
	ctx := newTestCtx()
	join := NewHashJoin(accountsTable(), contactsTable(), JoinFull, colExpr("accountid"), colExpr("parentaccountid"), nil)

	iter, err := join.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	// 3 matched (Alice, Bob, Carol) + 1 unmatched left (Initech) + 1
	// unmatched right (Orphan).
	require.Len(t, rows, 5)
}

func TestMergeJoinInnerOnSortedInputs(t *testing.T) {
	ctx := newTestCtx()
	join := NewMergeJoin(accountsTable(), contactsTable(), JoinInner, colExpr("accountid"), colExpr("parentaccountid"))

	iter, err := join.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Alice", "Bob", "Carol"}, namesOf(t, rows, "fullname"))
}

func TestNestedLoopJoinCrossApplyReInvokesRightPerOuterRow(t *testing.T) {
	ctx := newTestCtx()
	// The right side is a factory re-run per outer row: it reads the outer
	// row's accountid through a correlated column reference rather than
	// through the static Right node's own schema.
	rightSchema := sql.Schema{{Name: "echoed", Kind: sql.KindInt}}
	right := &correlatedEcho{schema: rightSchema}
	join := NewNestedLoopJoin(accountsTable(), right, JoinCrossApply, nil)

	iter, err := join.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		accountID, _ := r.Get("accountid")
		echoed, _ := r.Get("echoed")
		require.Equal(t, accountID.AsInt(), echoed.AsInt())
	}
}

// correlatedEcho is a minimal Node whose Execute echoes back the outer
// row's "accountid" as its single output column, standing in for a
// FetchXmlScan whose FetchXML references a correlated parameter.
type correlatedEcho struct {
	schema sql.Schema
}

func (n *correlatedEcho) Schema() sql.Schema  { return n.schema }
func (n *correlatedEcho) Children() []Node    { return nil }
func (n *correlatedEcho) Description() string { return "correlatedEcho" }

func (n *correlatedEcho) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	id, _ := row.Get("accountid")
	return sql.NewSliceIter([]sql.Row{sql.NewRow("", n.schema, []sql.Value{id})}), nil
}

func TestNestedLoopJoinLeftEmitsNullWhenNoMatch(t *testing.T) {
	ctx := newTestCtx()
	empty := literalTable(sql.Schema{{Name: "x", Kind: sql.KindInt}}, nil)
	join := NewNestedLoopJoin(accountsTable(), empty, JoinLeft, nil)

	iter, err := join.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		x, ok := r.Get("x")
		require.True(t, ok)
		require.True(t, x.IsNull())
	}
}
