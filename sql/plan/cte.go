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

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// RecursiveCte evaluates an anchor member once, then repeatedly evaluates
// Recursive against the previous iteration's output (bound through Bind)
// until it yields no new rows or MaxRecursion is hit. Exceeding
// MaxRecursion is a hard validation error rather than a silent partial
// result (an Open Question resolved in favor of matching SQL Server's own
// MAXRECURSION behavior — see DESIGN.md).
type RecursiveCte struct {
	Name          string
	Anchor        Node
	Recursive     Node
	// Bind re-plans Recursive against the previous iteration's rows,
	// returning a fresh Node reading from them (the recursive member
	// references the CTE name, which must resolve to exactly that row
	// set on each pass).
	Bind          func(prev []sql.Row) Node
	MaxRecursion  int
}

func NewRecursiveCte(name string, anchor, recursive Node, bind func(prev []sql.Row) Node, maxRecursion int) *RecursiveCte {
	if maxRecursion <= 0 {
		maxRecursion = 100
	}
	return &RecursiveCte{Name: name, Anchor: anchor, Recursive: recursive, Bind: bind, MaxRecursion: maxRecursion}
}

func (n *RecursiveCte) Schema() sql.Schema  { return n.Anchor.Schema() }
func (n *RecursiveCte) Children() []Node    { return []Node{n.Anchor, n.Recursive} }
func (n *RecursiveCte) Description() string { return fmt.Sprintf("RecursiveCte(%s)", n.Name) }

func (n *RecursiveCte) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	anchorIter, err := n.Anchor.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	anchorRows, err := sql.RowIterToRows(ctx, anchorIter)
	if err != nil {
		return nil, err
	}

	all := append([]sql.Row{}, anchorRows...)
	prev := anchorRows
	for level := 0; len(prev) > 0; level++ {
		if level >= n.MaxRecursion {
			return nil, sql.ErrValidation.New(fmt.Sprintf("recursive common table expression %q exceeded the maximum recursion depth of %d", n.Name, n.MaxRecursion))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step := n.Bind(prev)
		iter, err := step.Execute(ctx, row)
		if err != nil {
			return nil, err
		}
		next, err := sql.RowIterToRows(ctx, iter)
		if err != nil {
			return nil, err
		}
		all = append(all, next...)
		prev = next
	}
	return timed("RecursiveCte", sql.NewSliceIter(all)), nil
}
