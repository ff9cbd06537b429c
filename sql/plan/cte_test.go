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
)

// chainSource models one level of an org-chart traversal: given the
// previous level's rows, it emits each direct report of those employee
// ids, stopping the recursion once a level has no reports.
type chainSource struct {
	schema    sql.Schema
	reportsOf map[int64][]int64
	prev      []sql.Row
}

func (c *chainSource) Schema() sql.Schema  { return c.schema }
func (c *chainSource) Children() []Node    { return nil }
func (c *chainSource) Description() string { return "chainSource" }

func (c *chainSource) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	var out []sql.Row
	for _, r := range c.prev {
		id, _ := r.Get("id")
		for _, child := range c.reportsOf[id.AsInt()] {
			out = append(out, sql.NewRow("", c.schema, []sql.Value{sql.NewInt(child)}))
		}
	}
	return sql.NewSliceIter(out), nil
}

func TestRecursiveCteIteratesUntilNoNewRows(t *testing.T) {
	ctx := newTestCtx()
	schema := sql.Schema{{Name: "id", Kind: sql.KindInt}}
	reportsOf := map[int64][]int64{
		1: {2, 3},
		2: {4},
	}
	anchor := literalTable(schema, [][]sql.Value{{sql.NewInt(1)}})

	bind := func(prev []sql.Row) Node {
		return &chainSource{schema: schema, reportsOf: reportsOf, prev: prev}
	}
	recursivePlaceholder := &chainSource{schema: schema, reportsOf: reportsOf}
	cte := NewRecursiveCte("orgchart", anchor, recursivePlaceholder, bind, 0)

	iter, err := cte.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)

	var ids []int64
	for _, r := range rows {
		v, _ := r.Get("id")
		ids = append(ids, v.AsInt())
	}
	require.ElementsMatch(t, []int64{1, 2, 3, 4}, ids)
}

func TestRecursiveCteErrorsOnMaxRecursionExceeded(t *testing.T) {
	ctx := newTestCtx()
	schema := sql.Schema{{Name: "id", Kind: sql.KindInt}}
	// Every id reports to id+1 forever: this never terminates on its own,
	// so MaxRecursion must be what stops it.
	anchor := literalTable(schema, [][]sql.Value{{sql.NewInt(1)}})

	bind := func(prev []sql.Row) Node {
		return &infiniteChain{schema: schema, prev: prev}
	}
	cte := NewRecursiveCte("infinite", anchor, &infiniteChain{schema: schema}, bind, 3)

	_, err := cte.Execute(ctx, sql.Row{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "maximum recursion depth")
}

type infiniteChain struct {
	schema sql.Schema
	prev   []sql.Row
}

func (c *infiniteChain) Schema() sql.Schema  { return c.schema }
func (c *infiniteChain) Children() []Node    { return nil }
func (c *infiniteChain) Description() string { return "infiniteChain" }

func (c *infiniteChain) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	out := make([]sql.Row, len(c.prev))
	for i, r := range c.prev {
		v, _ := r.Get("id")
		out[i] = sql.NewRow("", c.schema, []sql.Value{sql.NewInt(v.AsInt() + 1)})
	}
	return sql.NewSliceIter(out), nil
}
