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
	"io"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// TableSpool materializes its child's rows on first execution and replays
// them from memory on every subsequent Execute call against the same spool
// instance, avoiding a second remote fetch when a subquery or APPLY branch
// is re-evaluated for every outer row but draws from a single
// environment-independent source.
type TableSpool struct {
	Child  Node
	rows   []sql.Row
	loaded bool
}

func NewTableSpool(child Node) *TableSpool { return &TableSpool{Child: child} }

func (n *TableSpool) Schema() sql.Schema  { return n.Child.Schema() }
func (n *TableSpool) Children() []Node    { return []Node{n.Child} }
func (n *TableSpool) Description() string { return "TableSpool" }

func (n *TableSpool) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	if !n.loaded {
		child, err := n.Child.Execute(ctx, row)
		if err != nil {
			return nil, err
		}
		rows, err := sql.RowIterToRows(ctx, child)
		if err != nil {
			return nil, err
		}
		n.rows = rows
		n.loaded = true
	}
	return timed("TableSpool", sql.NewSliceIter(n.rows)), nil
}

// IndexSpool is a TableSpool that also builds an in-memory hash index on a
// key expression. Lookup answers one key from that index; Execute, which is
// what a NestedLoopJoin calls, replays every spooled row.
type IndexSpool struct {
	Child   Node
	Key     func(ctx *sql.Context, row sql.Row) (sql.Value, error)
	rows    []sql.Row
	index   map[string][]sql.Row
	loaded  bool
}

func NewIndexSpool(child Node, key func(ctx *sql.Context, row sql.Row) (sql.Value, error)) *IndexSpool {
	return &IndexSpool{Child: child, Key: key}
}

func (n *IndexSpool) Schema() sql.Schema  { return n.Child.Schema() }
func (n *IndexSpool) Children() []Node    { return []Node{n.Child} }
func (n *IndexSpool) Description() string { return "IndexSpool" }

func (n *IndexSpool) load(ctx *sql.Context) error {
	if n.loaded {
		return nil
	}
	child, err := n.Child.Execute(ctx, sql.Row{})
	if err != nil {
		return err
	}
	defer child.Close(ctx)
	n.index = make(map[string][]sql.Row)
	for {
		r, err := child.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		n.rows = append(n.rows, r)
		k, err := n.Key(ctx, r)
		if err != nil {
			return err
		}
		key := k.Canonical(false)
		n.index[key] = append(n.index[key], r)
	}
	n.loaded = true
	return nil
}

// Lookup returns the spooled rows matching key, building the index on
// first use.
func (n *IndexSpool) Lookup(ctx *sql.Context, key sql.Value) ([]sql.Row, error) {
	if err := n.load(ctx); err != nil {
		return nil, err
	}
	return n.index[key.Canonical(false)], nil
}

func (n *IndexSpool) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	if err := n.load(ctx); err != nil {
		return nil, err
	}
	return timed("IndexSpool", sql.NewSliceIter(n.rows)), nil
}
