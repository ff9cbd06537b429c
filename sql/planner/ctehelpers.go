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
	"fmt"
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/plan"
)

// constRowsNode is a leaf plan.Node over a fixed, already-materialized row
// set: the self-reference binding a recursive CTE's previous iteration
// resolves to, and the zero-row anchor pass's self-reference.
type constRowsNode struct {
	schema sql.Schema
	rows   []sql.Row
}

func (n *constRowsNode) Schema() sql.Schema   { return n.schema }
func (n *constRowsNode) Children() []plan.Node { return nil }
func (n *constRowsNode) Description() string  { return "ConstRows" }

func (n *constRowsNode) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	return sql.NewSliceIter(n.rows), nil
}

// errorNode surfaces a planning failure that happened inside a callback
// (RecursiveCte.Bind) whose signature has no error return, by deferring
// the failure to Execute time.
type errorNode struct {
	err    error
	schema sql.Schema
}

func (n *errorNode) Schema() sql.Schema    { return n.schema }
func (n *errorNode) Children() []plan.Node { return nil }
func (n *errorNode) Description() string   { return "Error" }

func (n *errorNode) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	return nil, n.err
}

// declaredColumnsSchema builds the schema a recursive CTE's self-reference
// exposes from its required WITH cte(col1, col2, ...) column list. Kinds
// default to KindString: the self-reference's own column types are only
// used structurally (column-name resolution), never to drive arithmetic
// directly, since the recursive member re-derives its own typed output
// each pass.
func declaredColumnsSchema(cols []string) sql.Schema {
	schema := make(sql.Schema, len(cols))
	for i, c := range cols {
		schema[i] = &sql.Column{Name: c, Kind: sql.KindString, Nullable: true}
	}
	return schema
}

// resolveTableSource plans one FROM/JOIN table source into a Node plus its
// output schema: base entities
// become a FetchXmlScan, CTE/self references resolve against pc, and
// derived tables (subqueries in FROM) are planned recursively.
func (p *Planner) resolveTableSource(ctx *sql.Context, pc *planCtx, ts ast.TableSource) (plan.Node, sql.Schema, error) {
	switch t := ts.(type) {
	case *ast.NamedTable:
		if isMetadataTable(t.Table.Schema) {
			return planMetadataScan(t.Table.Entity)
		}
		key := strings.ToUpper(t.Table.Entity)
		if t.Table.EnvLabel == "" && t.Table.Schema == "" {
			if b, ok := pc.selfRef[key]; ok {
				return b.node, b.schema, nil
			}
			if def, ok := pc.ctes[key]; ok {
				return p.planCteRef(ctx, pc, def)
			}
		}
		meta, err := p.Metadata.Entity(ctx, t.Table.Entity)
		if err != nil {
			return nil, nil, err
		}
		schema := entitySchema(meta)
		fx := buildFetchXml(t.Table.Entity, schema)
		scan := plan.NewFetchXmlScan(t.Table.EnvLabel, t.Table.Entity, fx, 0, schema)
		return maybePrefetch(ctx.Options, scan), schema, nil

	case *ast.DerivedTable:
		return p.planSelect(ctx, pc, t.Select)

	case *ast.CteRef:
		key := strings.ToUpper(t.Name)
		if b, ok := pc.selfRef[key]; ok {
			return b.node, b.schema, nil
		}
		if def, ok := pc.ctes[key]; ok {
			return p.planCteRef(ctx, pc, def)
		}
		return nil, nil, sql.ErrValidation.New(fmt.Sprintf("unknown common table expression %q", t.Name))

	default:
		return nil, nil, sql.ErrInternal.New(fmt.Sprintf("unsupported table source %T", ts))
	}
}

// planCteRef plans (or returns the cached spool for) one CTE definition.
// A non-recursive CTE materializes once per statement via TableSpool, so a
// CTE referenced from two places in the same query pages its backend
// source only once.
func (p *Planner) planCteRef(ctx *sql.Context, pc *planCtx, def *ast.CteDef) (plan.Node, sql.Schema, error) {
	key := strings.ToUpper(def.Name)
	if def.Recursive {
		return p.planRecursiveCte(ctx, pc, def)
	}
	if spool, ok := pc.spools[key]; ok {
		return spool, spool.Schema(), nil
	}
	node, schema, err := p.planSelect(ctx, pc, def.Body)
	if err != nil {
		return nil, nil, err
	}
	spool := plan.NewTableSpool(node)
	pc.spools[key] = spool
	return spool, schema, nil
}

// planRecursiveCte plans a recursive CTE's body once per iteration, binding
// its self-reference to the previous iteration's rows each time
// (plan.RecursiveCte.Bind). The grammar here represents a recursive CTE as
// one Select rather than an explicit ANCHOR UNION ALL MEMBER pair, so the
// same planned body serves as both the anchor pass (self-reference bound
// to zero rows) and every recursive pass (self-reference bound to the
// prior pass's rows) — see DESIGN.md.
func (p *Planner) planRecursiveCte(ctx *sql.Context, pc *planCtx, def *ast.CteDef) (plan.Node, sql.Schema, error) {
	key := strings.ToUpper(def.Name)
	selfSchema := declaredColumnsSchema(def.Columns)

	anchorPc := pc.withSelfRef(key, selfRefBinding{node: &constRowsNode{schema: selfSchema}, schema: selfSchema})
	anchorNode, outSchema, err := p.planSelect(ctx, anchorPc, def.Body)
	if err != nil {
		return nil, nil, err
	}

	bind := func(prev []sql.Row) plan.Node {
		prevPc := pc.withSelfRef(key, selfRefBinding{node: &constRowsNode{schema: selfSchema, rows: prev}, schema: selfSchema})
		node, _, err := p.planSelect(ctx, prevPc, def.Body)
		if err != nil {
			return &errorNode{err: err, schema: outSchema}
		}
		return node
	}

	rc := plan.NewRecursiveCte(def.Name, anchorNode, anchorNode, bind, 0)
	spool := plan.NewTableSpool(rc)
	pc.spools[key] = spool
	return spool, outSchema, nil
}
