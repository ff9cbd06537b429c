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
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
)

// ProjectColumn is one output column of a Project node: a compiled
// expression plus the Column descriptor it is bound under.
type ProjectColumn struct {
	Column *sql.Column
	Expr   expression.Expr
}

// Project evaluates a fixed list of compiled expressions per input row,
// producing the exact output schema a caller's column list declared. It
// is also where virtual `<col>name` companion columns for Lookup/OptionSet
// projections are synthesized.
type Project struct {
	Cols  []ProjectColumn
	Child Node
}

// NewProject builds a Project over the given output columns, expanding
// every Lookup/OptionSet column into its `<col>name` companion unless the
// caller already projected a column under that exact output name.
func NewProject(cols []ProjectColumn, child Node) *Project {
	return &Project{Cols: expandNameColumns(cols), Child: child}
}

func expandNameColumns(cols []ProjectColumn) []ProjectColumn {
	existing := make(map[string]bool, len(cols))
	for _, c := range cols {
		existing[strings.ToLower(c.Column.OutputName())] = true
	}
	expanded := make([]ProjectColumn, 0, len(cols))
	for _, c := range cols {
		expanded = append(expanded, c)
		if !c.Column.IsLookup && !c.Column.IsOptionSet {
			continue
		}
		nameColName := c.Column.OutputName() + "name"
		if existing[strings.ToLower(nameColName)] {
			continue
		}
		existing[strings.ToLower(nameColName)] = true
		expanded = append(expanded, ProjectColumn{
			Column: &sql.Column{Name: nameColName, Kind: sql.KindString, Nullable: true, IsNameCol: true},
			Expr:   nameCompanionExpr(c.Expr, c.Column.IsLookup),
		})
	}
	return expanded
}

// nameCompanionExpr re-evaluates the source column's expression (rather
// than caching its value) and extracts the Lookup/OptionSet sidecar's
// display string, so the companion column always agrees with whatever the
// raw column actually yielded for that row.
func nameCompanionExpr(source expression.Expr, isLookup bool) expression.Expr {
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		v, err := source(ctx, row)
		if err != nil {
			return sql.Value{}, err
		}
		if v.IsNull() {
			return sql.NewNull(), nil
		}
		if isLookup {
			return sql.NewString(v.AsLookup().Name), nil
		}
		return sql.NewString(v.AsOptionSet().Label), nil
	}
}

func (n *Project) Schema() sql.Schema {
	s := make(sql.Schema, len(n.Cols))
	for i, c := range n.Cols {
		s[i] = c.Column
	}
	return s
}

func (n *Project) Children() []Node    { return []Node{n.Child} }
func (n *Project) Description() string { return "Project" }

func (n *Project) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	child, err := n.Child.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	return timed("Project", &projectIter{node: n, child: child}), nil
}

type projectIter struct {
	node  *Project
	child sql.RowIter
}

func (it *projectIter) Next(ctx *sql.Context) (sql.Row, error) {
	in, err := it.child.Next(ctx)
	if err != nil {
		return sql.Row{}, err
	}
	schema := it.node.Schema()
	values := make([]sql.Value, len(it.node.Cols))
	for i, c := range it.node.Cols {
		v, err := c.Expr(ctx, in)
		if err != nil {
			return sql.Row{}, err
		}
		values[i] = v
	}
	return sql.NewRow(in.Entity, schema, values), nil
}

func (it *projectIter) Close(ctx *sql.Context) error { return it.child.Close(ctx) }

// ClientFilter evaluates a compiled condition row-by-row, keeping only
// rows where the condition is True. Used when a predicate cannot
// push down into FetchXML.
type ClientFilter struct {
	Cond  expression.Cond
	Child Node
}

func NewClientFilter(cond expression.Cond, child Node) *ClientFilter {
	return &ClientFilter{Cond: cond, Child: child}
}

func (n *ClientFilter) Schema() sql.Schema  { return n.Child.Schema() }
func (n *ClientFilter) Children() []Node    { return []Node{n.Child} }
func (n *ClientFilter) Description() string { return "ClientFilter" }

func (n *ClientFilter) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	child, err := n.Child.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	return timed("ClientFilter", &filterIter{node: n, child: child}), nil
}

type filterIter struct {
	node  *ClientFilter
	child sql.RowIter
}

func (it *filterIter) Next(ctx *sql.Context) (sql.Row, error) {
	for {
		in, err := it.child.Next(ctx)
		if err != nil {
			return sql.Row{}, err
		}
		t, err := it.node.Cond(ctx, in)
		if err != nil {
			return sql.Row{}, err
		}
		if t == expression.True {
			return in, nil
		}
	}
}

func (it *filterIter) Close(ctx *sql.Context) error { return it.child.Close(ctx) }
