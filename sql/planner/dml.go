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
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/plan"
)

// primaryKey returns the attribute holding an entity's surrogate key.
// Dataverse fixes this name for every entity: it is always the logical
// name suffixed with "id" (accountid, contactid, ...), never declared
// separately in metadata, so this is a platform convention rather than
// something entitySchema or AttributeMetadata exposes.
func primaryKey(entity string) string {
	return entity + "id"
}

// planInsert plans INSERT INTO target (cols) VALUES (...)|SELECT ... as a
// DmlExecute(DmlInsert) over either a Values leaf or a planned SELECT,
// reordered through a Project so the written row's column order always
// matches target's declared column list regardless of what order the
// source produces them in.
func (p *Planner) planInsert(ctx *sql.Context, pc *planCtx, n *ast.Insert) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	if len(n.Columns) == 0 {
		return nil, nil, SafetyOK, "", sql.ErrValidation.New("INSERT requires an explicit column list")
	}

	targetSchema := make(sql.Schema, len(n.Columns))
	for i, c := range n.Columns {
		targetSchema[i] = &sql.Column{Name: c, Kind: sql.KindString, Nullable: true}
	}

	var source plan.Node
	if n.Source != nil {
		srcNode, srcSchema, err := p.planSelect(ctx, pc, n.Source)
		if err != nil {
			return nil, nil, SafetyOK, "", err
		}
		if len(srcSchema) != len(n.Columns) {
			return nil, nil, SafetyOK, "", sql.ErrValidation.New(
				fmt.Sprintf("INSERT has %d target columns but the source produces %d", len(n.Columns), len(srcSchema)))
		}
		cols := make([]plan.ProjectColumn, len(n.Columns))
		for i := range n.Columns {
			pos := i
			col := srcSchema[pos]
			cols[i] = plan.ProjectColumn{
				Column: &sql.Column{Name: n.Columns[i], Kind: col.Kind, Nullable: col.Nullable},
				Expr: func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
					v, _ := row.Get(srcSchema[pos].Name)
					return v, nil
				},
			}
		}
		source = plan.NewProject(cols, srcNode)
	} else {
		sub := &subqueryRunner{p: p, pc: pc}
		cc := expression.NewCompiler(nil, p.Funcs, nil, sub)
		rows := make([][]expression.Expr, len(n.Values))
		for i, valueRow := range n.Values {
			if len(valueRow) != len(n.Columns) {
				return nil, nil, SafetyOK, "", sql.ErrValidation.New(
					fmt.Sprintf("INSERT row %d has %d values but %d target columns", i+1, len(valueRow), len(n.Columns)))
			}
			exprs := make([]expression.Expr, len(valueRow))
			for j, v := range valueRow {
				expr, err := cc.Compile(v)
				if err != nil {
					return nil, nil, SafetyOK, "", err
				}
				exprs[j] = expr
			}
			rows[i] = exprs
		}
		source = plan.NewValues(targetSchema, rows)
	}

	node := plan.NewDmlExecute(n.Target.EnvLabel, n.Target.Entity, plan.DmlInsert, source, "")
	verdict, msg := p.dmlSafety(ctx, n.Target, true, sourceEnvLabels(n.Source))
	return node, nil, verdict, msg, nil
}

// planUpdate plans UPDATE target SET col = expr, ... [WHERE ...] by
// scanning the target entity (pushing the pushable part of WHERE into the
// scan's FetchXML, filtering the rest client-side), projecting the
// primary key plus every SET expression, and handing the result to
// DmlExecute(DmlUpdate).
func (p *Planner) planUpdate(ctx *sql.Context, pc *planCtx, n *ast.Update) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	meta, err := p.Metadata.Entity(ctx, n.Target.Entity)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}
	schema := entitySchema(meta)
	node, err := p.dmlTargetScan(ctx, pc, n.Target, schema, n.Where)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}

	sub := &subqueryRunner{p: p, pc: pc}
	cc := expression.NewCompiler(schema, p.Funcs, nil, sub)

	pk := primaryKey(n.Target.Entity)
	cols := []plan.ProjectColumn{{
		Column: &sql.Column{Name: pk, Kind: sql.KindGuid},
		Expr: func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
			v, _ := row.Get(pk)
			return v, nil
		},
	}}
	for _, set := range n.Set {
		expr, err := cc.Compile(set.Value)
		if err != nil {
			return nil, nil, SafetyOK, "", err
		}
		cols = append(cols, plan.ProjectColumn{
			Column: &sql.Column{Name: set.Column, Kind: sql.KindString, Nullable: true},
			Expr:   expr,
		})
	}
	node = plan.NewProject(cols, node)

	dml := plan.NewDmlExecute(n.Target.EnvLabel, n.Target.Entity, plan.DmlUpdate, node, pk)
	verdict, msg := p.dmlSafety(ctx, n.Target, n.Where != nil, nil)
	return dml, nil, verdict, msg, nil
}

// planDelete plans DELETE FROM target [WHERE ...], scanning the target
// entity with WHERE pushed into the scan where possible, and narrowing to
// the primary key column DmlExecute(DmlDelete) needs to identify which
// rows to remove.
func (p *Planner) planDelete(ctx *sql.Context, pc *planCtx, n *ast.Delete) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	meta, err := p.Metadata.Entity(ctx, n.Target.Entity)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}
	schema := entitySchema(meta)
	node, err := p.dmlTargetScan(ctx, pc, n.Target, schema, n.Where)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}

	pk := primaryKey(n.Target.Entity)
	idCol := &sql.Column{Name: pk, Kind: sql.KindGuid}
	node = plan.NewProject([]plan.ProjectColumn{{
		Column: idCol,
		Expr: func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
			v, _ := row.Get(pk)
			return v, nil
		},
	}}, node)

	dml := plan.NewDmlExecute(n.Target.EnvLabel, n.Target.Entity, plan.DmlDelete, node, pk)
	verdict, msg := p.dmlSafety(ctx, n.Target, n.Where != nil, nil)
	return dml, nil, verdict, msg, nil
}

// dmlSafety classifies one write's safety posture: a
// DELETE/UPDATE with no WHERE clause is Blocked, and a write touching a
// Production-labeled environment (as its target, or as the source
// environment of a cross-environment INSERT ... SELECT) is at least
// RequiresConfirmation, unless the caller's DmlSafety already carries
// Confirmed, in which case neither rule holds the statement back. INSERT
// always passes hasWhere=true since it has no WHERE clause to miss.
// sourceEnvs names the environments the statement reads from (nil for
// anything but INSERT ... SELECT).
func (p *Planner) dmlSafety(ctx *sql.Context, target ast.TableName, hasWhere bool, sourceEnvs []string) (SafetyVerdict, string) {
	if !hasWhere && !ctx.Safety.Confirmed {
		return SafetyBlocked, fmt.Sprintf("%q has no WHERE clause", target.Entity)
	}
	if ctx.Pool == nil || ctx.Safety.Confirmed {
		return SafetyOK, ""
	}
	if ctx.Pool.IsProduction(target.EnvLabel) {
		label := target.EnvLabel
		if label == "" {
			label = "(local)"
		}
		return SafetyRequiresConfirmation, fmt.Sprintf("target environment %q is marked Production and requires confirmation", label)
	}
	for _, src := range sourceEnvs {
		if strings.EqualFold(src, target.EnvLabel) {
			continue
		}
		if ctx.Pool.IsProduction(src) {
			label := src
			if label == "" {
				label = "(local)"
			}
			return SafetyRequiresConfirmation, fmt.Sprintf("source environment %q is marked Production and requires confirmation", label)
		}
	}
	return SafetyOK, ""
}

// sourceEnvLabels collects the environment labels an INSERT ... SELECT
// source reads from, including joined and derived tables, so dmlSafety
// can apply the Production rule to cross-environment reads.
func sourceEnvLabels(sel *ast.Select) []string {
	seen := map[string]bool{}
	var order []string
	var walkSource func(ast.TableSource)
	var walkSelect func(*ast.Select)
	walkSource = func(src ast.TableSource) {
		switch t := src.(type) {
		case *ast.NamedTable:
			key := strings.ToLower(t.Table.EnvLabel)
			if !seen[key] {
				seen[key] = true
				order = append(order, t.Table.EnvLabel)
			}
		case *ast.DerivedTable:
			walkSelect(t.Select)
		}
	}
	walkSelect = func(sel *ast.Select) {
		if sel == nil {
			return
		}
		walkSource(sel.From)
		for _, j := range sel.Joins {
			walkSource(j.Table)
		}
		for _, cte := range sel.CTEs {
			walkSelect(cte.Body)
		}
	}
	walkSelect(sel)
	return order
}

// combineSafety folds a child statement's safety verdict into the worst
// one seen so far (Blocked > RequiresConfirmation > OK), so a Script or
// IF/ELSE made up of several statements reports the worst of its parts
func combineSafety(verdict SafetyVerdict, msg string, childVerdict SafetyVerdict, childMsg string) (SafetyVerdict, string) {
	if childVerdict > verdict {
		return childVerdict, childMsg
	}
	return verdict, msg
}

// dmlTargetScan builds the target-row retrieval subtree an UPDATE/DELETE
// drains: a FetchXmlScan with the pushable part of where folded into its
// filter, and a ClientFilter over whatever remained.
func (p *Planner) dmlTargetScan(ctx *sql.Context, pc *planCtx, target ast.TableName, schema sql.Schema, where ast.Condition) (plan.Node, error) {
	filter, residual := splitPushdown(where, schema)
	b := &fetchBuilder{Entity: target.Entity, Attrs: attrNames(schema), Filter: filter}
	scan := plan.NewFetchXmlScan(target.EnvLabel, target.Entity, b.Render(), 0, schema)
	node := maybePrefetch(ctx.Options, scan)

	if residual != nil {
		sub := &subqueryRunner{p: p, pc: pc}
		cc := expression.NewCompiler(schema, p.Funcs, nil, sub)
		cond, err := cc.CompileCondition(residual)
		if err != nil {
			return nil, err
		}
		node = plan.NewClientFilter(cond, node)
	}
	return node, nil
}
