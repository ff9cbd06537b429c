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
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
)

// Values is the leaf node behind `INSERT INTO t (cols) VALUES (...), (...)`.
// Each row's expressions are compiled once at plan time but evaluated
// lazily, one row per Next call, so a literal referencing a session
// variable set earlier in the same Script sees its value at the point the
// INSERT actually runs rather than at plan time.
type Values struct {
	ValueSchema sql.Schema
	Rows        [][]expression.Expr
}

func NewValues(schema sql.Schema, rows [][]expression.Expr) *Values {
	return &Values{ValueSchema: schema, Rows: rows}
}

func (n *Values) Schema() sql.Schema  { return n.ValueSchema }
func (n *Values) Children() []Node    { return nil }
func (n *Values) Description() string { return "Values" }

func (n *Values) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	return timed("Values", &valuesIter{node: n}), nil
}

type valuesIter struct {
	node *Values
	pos  int
}

func (it *valuesIter) Next(ctx *sql.Context) (sql.Row, error) {
	if it.pos >= len(it.node.Rows) {
		return sql.Row{}, io.EOF
	}
	exprs := it.node.Rows[it.pos]
	it.pos++
	values := make([]sql.Value, len(exprs))
	for i, e := range exprs {
		v, err := e(ctx, sql.Row{})
		if err != nil {
			return sql.Row{}, err
		}
		values[i] = v
	}
	return sql.NewRow("", it.node.ValueSchema, values), nil
}

func (it *valuesIter) Close(ctx *sql.Context) error { return nil }
