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
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// Concatenate feeds rows from each child in order, used for UNION ALL and
// for fanning a single logical query out across multiple environments
type Concatenate struct {
	ChildNodes []Node
}

func NewConcatenate(children ...Node) *Concatenate { return &Concatenate{ChildNodes: children} }

func (n *Concatenate) Schema() sql.Schema {
	if len(n.ChildNodes) == 0 {
		return nil
	}
	return n.ChildNodes[0].Schema()
}

func (n *Concatenate) Children() []Node    { return n.ChildNodes }
func (n *Concatenate) Description() string { return "Concatenate" }

func (n *Concatenate) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	iters := make([]sql.RowIter, len(n.ChildNodes))
	for i, c := range n.ChildNodes {
		it, err := c.Execute(ctx, row)
		if err != nil {
			for j := 0; j < i; j++ {
				iters[j].Close(ctx)
			}
			return nil, err
		}
		iters[i] = it
	}
	return timed("Concatenate", &concatIter{iters: iters}), nil
}

type concatIter struct {
	iters []sql.RowIter
	pos   int
}

func (it *concatIter) Next(ctx *sql.Context) (sql.Row, error) {
	for it.pos < len(it.iters) {
		row, err := it.iters[it.pos].Next(ctx)
		if err == io.EOF {
			it.pos++
			continue
		}
		if err != nil {
			return sql.Row{}, err
		}
		return row, nil
	}
	return sql.Row{}, io.EOF
}

func (it *concatIter) Close(ctx *sql.Context) error {
	var first error
	for _, c := range it.iters {
		if err := c.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Distinct removes duplicate rows using Value.Canonical(caseInsensitive)
// as the dedup key.
type Distinct struct {
	Child           Node
	CaseInsensitive bool
}

func NewDistinct(child Node, caseInsensitive bool) *Distinct {
	return &Distinct{Child: child, CaseInsensitive: caseInsensitive}
}

func (n *Distinct) Schema() sql.Schema  { return n.Child.Schema() }
func (n *Distinct) Children() []Node    { return []Node{n.Child} }
func (n *Distinct) Description() string { return "Distinct" }

func (n *Distinct) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	child, err := n.Child.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	return timed("Distinct", &distinctIter{
		child:           child,
		caseInsensitive: n.CaseInsensitive,
		seen:            make(map[string]struct{}),
	}), nil
}

type distinctIter struct {
	child           sql.RowIter
	caseInsensitive bool
	seen            map[string]struct{}
}

func (it *distinctIter) Next(ctx *sql.Context) (sql.Row, error) {
	for {
		row, err := it.child.Next(ctx)
		if err != nil {
			return sql.Row{}, err
		}
		key := it.rowKey(row)
		if _, ok := it.seen[key]; ok {
			continue
		}
		it.seen[key] = struct{}{}
		return row, nil
	}
}

func (it *distinctIter) rowKey(row sql.Row) string {
	var sb strings.Builder
	for _, v := range row.Values {
		sb.WriteString(v.Canonical(it.caseInsensitive))
		sb.WriteByte(0)
	}
	return sb.String()
}

func (it *distinctIter) Close(ctx *sql.Context) error { return it.child.Close(ctx) }
