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
	"sort"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
)

// SortKey is one ORDER BY term: a compiled expression plus sort direction.
type SortKey struct {
	Expr expression.Expr
	Desc bool
}

// Sort materializes its child and orders rows by Keys, stable on ties
type Sort struct {
	Child Node
	Keys  []SortKey
}

func NewSort(child Node, keys []SortKey) *Sort {
	return &Sort{Child: child, Keys: keys}
}

func (n *Sort) Schema() sql.Schema  { return n.Child.Schema() }
func (n *Sort) Children() []Node    { return []Node{n.Child} }
func (n *Sort) Description() string { return "Sort" }

func (n *Sort) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	child, err := n.Child.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	rows, err := sql.RowIterToRows(ctx, child)
	if err != nil {
		return nil, err
	}

	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		for _, k := range n.Keys {
			a, err := k.Expr(ctx, rows[i])
			if err != nil {
				sortErr = err
				return false
			}
			b, err := k.Expr(ctx, rows[j])
			if err != nil {
				sortErr = err
				return false
			}
			cmp, err := compareJoinKeys(a, b)
			if err != nil {
				sortErr = err
				return false
			}
			if cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return timed("Sort", sql.NewSliceIter(rows)), nil
}
