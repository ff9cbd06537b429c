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
	"fmt"
	"io"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// Limit caps the number of rows its child yields and optionally skips a
// leading Offset of them, for TOP/OFFSET-FETCH clauses the planner could
// not fold into a FetchXML `count`/paging cookie.
type Limit struct {
	Child  Node
	Count  int64
	Offset int64
}

func NewLimit(child Node, count, offset int64) *Limit {
	return &Limit{Child: child, Count: count, Offset: offset}
}

func (n *Limit) Schema() sql.Schema { return n.Child.Schema() }
func (n *Limit) Children() []Node   { return []Node{n.Child} }
func (n *Limit) Description() string {
	return fmt.Sprintf("Limit(count=%d, offset=%d)", n.Count, n.Offset)
}

func (n *Limit) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	child, err := n.Child.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	return timed("Limit", &limitIter{node: n, child: child, remainingSkip: n.Offset}), nil
}

type limitIter struct {
	node          *Limit
	child         sql.RowIter
	remainingSkip int64
	emitted       int64
	done          bool
}

func (it *limitIter) Next(ctx *sql.Context) (sql.Row, error) {
	if it.done {
		return sql.Row{}, io.EOF
	}
	for it.remainingSkip > 0 {
		if _, err := it.child.Next(ctx); err != nil {
			it.done = true
			return sql.Row{}, err
		}
		it.remainingSkip--
	}
	if it.node.Count > 0 && it.emitted >= it.node.Count {
		it.done = true
		return sql.Row{}, io.EOF
	}
	r, err := it.child.Next(ctx)
	if err != nil {
		it.done = true
		return sql.Row{}, err
	}
	it.emitted++
	return r, nil
}

func (it *limitIter) Close(ctx *sql.Context) error { return it.child.Close(ctx) }
