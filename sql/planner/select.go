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

// planSelect compiles one SELECT into a Node tree, following this planner's
// pipeline: resolve FROM/JOINs — pushing filters, ordering, aggregates and
// the TOP row budget into the generated FetchXML wherever the backend can
// take them — then run the residual WHERE, client-side grouping for what
// didn't fold, HAVING, window functions, client-side ORDER BY when it
// wasn't pushed, the SELECT-list projection, DISTINCT, and finally
// TOP/OFFSET.
func (p *Planner) planSelect(ctx *sql.Context, pc *planCtx, sel *ast.Select) (plan.Node, sql.Schema, error) {
	pc = pc.withCTEs(sel.CTEs)
	sub := &subqueryRunner{p: p, pc: pc}

	if node, schema, ok, err := p.planSpecialScan(ctx, pc, sel); ok || err != nil {
		return node, schema, err
	}

	node, schema, pd, err := p.resolveSelectSource(ctx, pc, sel)
	if err != nil {
		return nil, nil, err
	}

	where := sel.Where
	if pd != nil {
		where = pd.residual
	}
	if where != nil {
		wc := expression.NewCompiler(schema, p.Funcs, nil, sub)
		cond, err := wc.CompileCondition(where)
		if err != nil {
			return nil, nil, err
		}
		node = plan.NewClientFilter(cond, node)
	}

	outSchema := schema
	aliasMap := expression.AggregateAlias{}
	isAgg := len(sel.GroupBy) > 0 || len(p.collectAggregates(sel)) > 0
	switch {
	case pd != nil && pd.aggPushed:
		// grouping already happened server-side: schema is group keys plus
		// aggregate aliases, and pd.aliasMap rewrites HAVING/ORDER BY
		// aggregate calls into lookups against them.
		aliasMap = pd.aliasMap
	case isAgg:
		keys, aggs, am, err := p.buildAggregates(schema, sel, sub)
		if err != nil {
			return nil, nil, err
		}
		aliasMap = am
		node = plan.NewClientAggregate(node, keys, aggs)
		outSchema = node.Schema()
	}

	if isAgg && sel.Having != nil {
		hc := expression.NewCompiler(outSchema, p.Funcs, aliasMap, sub)
		hcond, err := hc.CompileCondition(sel.Having)
		if err != nil {
			return nil, nil, err
		}
		node = plan.NewClientFilter(hcond, node)
	}

	if specs, winAliases, err := p.buildWindows(sel, outSchema, aliasMap, sub); err != nil {
		return nil, nil, err
	} else if len(specs) > 0 {
		win := plan.NewClientWindow(node, specs)
		node = win
		outSchema = win.Schema()
		for k, v := range winAliases {
			aliasMap[k] = v
		}
	}

	if len(sel.OrderBy) > 0 && (pd == nil || !pd.orderPushed) {
		oc := expression.NewCompiler(outSchema, p.Funcs, aliasMap, sub)
		keys, err := buildSortKeys(oc, sel.OrderBy)
		if err != nil {
			return nil, nil, err
		}
		node = plan.NewSort(node, keys)
	}

	projCompiler := expression.NewCompiler(outSchema, p.Funcs, aliasMap, sub)
	projCols, _, err := buildProjectColumns(projCompiler, sel.Columns, outSchema)
	if err != nil {
		return nil, nil, err
	}
	proj := plan.NewProject(projCols, node)
	node = proj
	// the project's own schema, not buildProjectColumns', is authoritative:
	// NewProject appends the virtual <col>name companions.
	projSchema := proj.Schema()

	if sel.Distinct {
		node = plan.NewDistinct(node, true)
	}

	top, offset := topOffset(sel)
	if top > 0 || offset > 0 {
		node = plan.NewLimit(node, top, offset)
	}

	return node, projSchema, nil
}

// planUnion plans each leg independently and concatenates them, deduping
// unless UNION ALL was requested.
func (p *Planner) planUnion(ctx *sql.Context, pc *planCtx, u *ast.Union) (plan.Node, sql.Schema, error) {
	left, schema, _, _, err := p.planStatement(ctx, pc, u.Left)
	if err != nil {
		return nil, nil, err
	}
	right, _, _, _, err := p.planStatement(ctx, pc, u.Right)
	if err != nil {
		return nil, nil, err
	}
	node := plan.NewConcatenate(left, right)
	if !u.All {
		return plan.NewDistinct(node, true), schema, nil
	}
	return node, schema, nil
}

// baseTableOnly reports whether sel reads exactly one named base entity —
// no joins, and the name isn't shadowed by a CTE or a recursive
// self-reference — which is the shape every FetchXML pushdown requires.
func baseTableOnly(pc *planCtx, sel *ast.Select) (*ast.NamedTable, bool) {
	if len(sel.Joins) > 0 {
		return nil, false
	}
	t, ok := sel.From.(*ast.NamedTable)
	if !ok {
		return nil, false
	}
	if isMetadataTable(t.Table.Schema) {
		return nil, false
	}
	if t.Table.EnvLabel == "" && t.Table.Schema == "" {
		key := strings.ToUpper(t.Table.Entity)
		if _, isSelf := pc.selfRef[key]; isSelf {
			return nil, false
		}
		if _, isCte := pc.ctes[key]; isCte {
			return nil, false
		}
	}
	return t, true
}

// planSpecialScan recognizes the two whole-statement fast paths: the bare
// `SELECT COUNT(*) FROM entity` record-count RPC, and the USE_TDS/replica
// passthrough that hands the statement to the read replica verbatim. Both
// replace the entire SELECT pipeline rather than one stage of it.
func (p *Planner) planSpecialScan(ctx *sql.Context, pc *planCtx, sel *ast.Select) (plan.Node, sql.Schema, bool, error) {
	t, ok := baseTableOnly(pc, sel)
	if !ok {
		return nil, nil, false, nil
	}

	if isBareCountStar(sel) {
		if _, err := p.Metadata.Entity(ctx, t.Table.Entity); err != nil {
			return nil, nil, true, err
		}
		alias := sel.Columns[0].Alias
		if alias == "" {
			alias = "count"
		}
		node := plan.NewCountOptimized(t.Table.EnvLabel, t.Table.Entity, alias)
		return node, node.Schema(), true, nil
	}

	if (hintSet(sel.Hints, "USE_TDS") || ctx.Options.UseTds || ctx.Options.UseReplica) && t.Table.EnvLabel == "" {
		meta, err := p.Metadata.Entity(ctx, t.Table.Entity)
		if err != nil {
			return nil, nil, true, err
		}
		schema := tdsSchema(sel, entitySchema(meta))
		node := plan.NewTdsScan("", ast.Format(sel), schema)
		return node, schema, true, nil
	}

	return nil, nil, false, nil
}

// isBareCountStar matches `SELECT COUNT(*) FROM entity` with nothing else
// attached: the one shape the total-record-count RPC can serve.
func isBareCountStar(sel *ast.Select) bool {
	if len(sel.Columns) != 1 || sel.Where != nil || len(sel.GroupBy) > 0 ||
		sel.Having != nil || len(sel.OrderBy) > 0 || sel.Distinct ||
		sel.Top != nil || sel.Offset != nil || len(sel.CTEs) > 0 {
		return false
	}
	fn, ok := sel.Columns[0].Expr.(*ast.Function)
	if !ok || !strings.EqualFold(fn.Name, "COUNT") || fn.Distinct {
		return false
	}
	return len(fn.Args) == 0 || isStarArg(fn.Args[0])
}

// tdsSchema derives output column descriptors for a TDS passthrough from
// the statement's SELECT list: the replica computes the rows, so only
// names and best-effort kinds are needed here, never compiled expressions.
func tdsSchema(sel *ast.Select, entity sql.Schema) sql.Schema {
	var out sql.Schema
	for _, c := range sel.Columns {
		if c.Star {
			out = append(out, entity...)
			continue
		}
		name := c.Alias
		kind := sql.KindString
		switch n := c.Expr.(type) {
		case *ast.ColumnRef:
			if name == "" {
				name = n.Column
			}
			if idx := entity.IndexOf(n.Column); idx >= 0 {
				kind = entity[idx].Kind
			}
		case *ast.Function:
			if name == "" {
				name = strings.ToLower(n.Name)
			}
		default:
			if name == "" {
				name = fmt.Sprintf("expr%d", len(out))
			}
		}
		out = append(out, &sql.Column{Name: name, Kind: kind, Nullable: true})
	}
	return out
}

// pushdownState records what resolveSelectSource managed to fold into the
// scan so planSelect skips the corresponding client-side stages.
type pushdownState struct {
	residual    ast.Condition
	aggPushed   bool
	aliasMap    expression.AggregateAlias
	orderPushed bool
}

// resolveSelectSource plans sel's FROM surface. For the single-base-entity
// shape it builds the pushed-down FetchXmlScan (filter, ordering,
// aggregates, TOP budget); for everything else it defers to
// resolveFromJoins and reports no pushdown.
func (p *Planner) resolveSelectSource(ctx *sql.Context, pc *planCtx, sel *ast.Select) (plan.Node, sql.Schema, *pushdownState, error) {
	t, ok := baseTableOnly(pc, sel)
	if !ok {
		node, schema, err := p.resolveFromJoins(ctx, pc, sel)
		return node, schema, nil, err
	}

	meta, err := p.Metadata.Entity(ctx, t.Table.Entity)
	if err != nil {
		return nil, nil, nil, err
	}
	schema := entitySchema(meta)
	noLock := t.NoLock || hintSet(sel.Hints, "NOLOCK") || ctx.Options.NoLock

	filter, residual := splitPushdown(sel.Where, schema)
	pd := &pushdownState{residual: residual}

	isAgg := len(sel.GroupBy) > 0 || len(p.collectAggregates(sel)) > 0
	if isAgg {
		if ap, ok := p.tryAggregatePushdown(ctx, sel, t.Table.EnvLabel, t.Table.Entity, schema, filter, residual, noLock); ok {
			pd.aggPushed = true
			pd.aliasMap = ap.aliasMap
			pd.residual = nil
			return ap.node, ap.schema, pd, nil
		}
		b := &fetchBuilder{Entity: t.Table.Entity, Attrs: attrNames(schema), Filter: filter, NoLock: noLock}
		scan := plan.NewFetchXmlScan(t.Table.EnvLabel, t.Table.Entity, b.Render(), 0, schema)
		return maybePrefetch(ctx.Options, scan), schema, pd, nil
	}

	b := &fetchBuilder{Entity: t.Table.Entity, Attrs: attrNames(schema), Filter: filter, NoLock: noLock}

	if len(sel.OrderBy) > 0 {
		if orders, ok := pushableOrders(sel.OrderBy, schema); ok {
			b.Orders = orders
			pd.orderPushed = true
		}
	}

	// TOP folds into the scan only when nothing client-side can shrink or
	// reorder the stream afterwards; the scan's page size carries the
	// budget (clamped to one backend page) and MaxRows stops the paging
	// loop, so the document never needs a fetch-level `top`.
	var maxRows int64
	top, offset := topOffset(sel)
	if top > 0 && residual == nil && !sel.Distinct && !selHasWindow(sel) && (pd.orderPushed || len(sel.OrderBy) == 0) {
		budget := top + offset
		b.Count = budget
		if b.Count > plan.MaxFetchPageSize {
			b.Count = plan.MaxFetchPageSize
		}
		maxRows = budget
	}
	if n := hintInt(sel.Hints, "MAX_ROWS"); n > 0 && (maxRows == 0 || n < maxRows) {
		maxRows = n
	}

	scan := plan.NewFetchXmlScan(t.Table.EnvLabel, t.Table.Entity, b.Render(), maxRows, schema)
	return maybePrefetch(ctx.Options, scan), schema, pd, nil
}

// pushableOrders translates ORDER BY into FetchXML order elements when
// every key is a plain column of the scanned entity.
func pushableOrders(items []ast.OrderByItem, schema sql.Schema) ([]fetchOrder, bool) {
	orders := make([]fetchOrder, 0, len(items))
	for _, ob := range items {
		attr, ok := pushableColumn(ob.Expr, schema)
		if !ok {
			return nil, false
		}
		orders = append(orders, fetchOrder{Attr: attr, Desc: ob.Desc})
	}
	return orders, true
}

// topOffset extracts literal TOP/OFFSET values; a non-literal (variable or
// expression) TOP is not supported and reads as absent.
func topOffset(sel *ast.Select) (top, offset int64) {
	if lit, ok := sel.Top.(*ast.Literal); ok {
		top = literalInt(lit.Value)
	}
	if lit, ok := sel.Offset.(*ast.Literal); ok {
		offset = literalInt(lit.Value)
	}
	return top, offset
}

// hintInt parses an integer-valued OPTION hint, 0 when absent or malformed.
func hintInt(hints map[string]string, name string) int64 {
	v, ok := hints[name]
	if !ok {
		return 0
	}
	var n int64
	for _, ch := range v {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int64(ch-'0')
	}
	return n
}

// resolveFromJoins plans sel's FROM clause and JOIN chain into a single
// Node, without touching WHERE/GROUP BY/SELECT (shared by planSelect's main
// path and the correlated-subquery/APPLY builder, which need the same table
// resolution but defer filtering to their own combined-schema evaluation).
func (p *Planner) resolveFromJoins(ctx *sql.Context, pc *planCtx, sel *ast.Select) (plan.Node, sql.Schema, error) {
	var node plan.Node
	var schema sql.Schema
	var err error

	if sel.From == nil {
		node = &constRowsNode{schema: sql.Schema{}, rows: []sql.Row{sql.NewRow("", sql.Schema{}, nil)}}
		schema = sql.Schema{}
	} else {
		node, schema, err = p.resolveTableSource(ctx, pc, sel.From)
		if err != nil {
			return nil, nil, err
		}
	}
	if len(sel.Joins) > 0 {
		node = spoolIfRemote(node)
	}

	for _, j := range sel.Joins {
		if j.Kind == ast.JoinCrossApply || j.Kind == ast.JoinOuterApply {
			var right plan.Node
			var rightSchema sql.Schema
			if dt, ok := j.Table.(*ast.DerivedTable); ok {
				cs, err := p.buildCorrelatedSelect(ctx, pc, dt.Select, schema)
				if err != nil {
					return nil, nil, err
				}
				right, rightSchema = cs, cs.outSchema
			} else {
				right, rightSchema, err = p.resolveTableSource(ctx, pc, j.Table)
				if err != nil {
					return nil, nil, err
				}
			}
			typ := plan.JoinCrossApply
			if j.Kind == ast.JoinOuterApply {
				typ = plan.JoinOuterApply
			}
			node = plan.NewNestedLoopJoin(node, right, typ, nil)
			schema = append(append(sql.Schema{}, schema...), rightSchema...)
			continue
		}

		right, rightSchema, err := p.resolveTableSource(ctx, pc, j.Table)
		if err != nil {
			return nil, nil, err
		}
		right = spoolIfRemote(right)
		combined := append(append(sql.Schema{}, schema...), rightSchema...)

		switch {
		case j.Kind == ast.JoinCross || j.On == nil:
			node = plan.NewNestedLoopJoin(node, right, plan.JoinInner, nil)
		default:
			if lExpr, rExpr, ok := isEquiJoin(j.On, schema, rightSchema); ok {
				lc := expression.NewCompiler(schema, p.Funcs, nil, &subqueryRunner{p: p, pc: pc})
				leftKey, err := lc.Compile(lExpr)
				if err != nil {
					return nil, nil, err
				}
				rc := expression.NewCompiler(rightSchema, p.Funcs, nil, &subqueryRunner{p: p, pc: pc})
				rightKey, err := rc.Compile(rExpr)
				if err != nil {
					return nil, nil, err
				}
				node = plan.NewHashJoin(node, right, joinKindToType(j.Kind), leftKey, rightKey, nil)
			} else {
				cc := expression.NewCompiler(combined, p.Funcs, nil, &subqueryRunner{p: p, pc: pc})
				cond, err := cc.CompileCondition(j.On)
				if err != nil {
					return nil, nil, err
				}
				node = plan.NewNestedLoopJoin(node, right, joinKindToType(j.Kind), cond)
			}
		}
		schema = combined
	}

	return node, schema, nil
}

// spoolIfRemote materializes a cross-environment scan before it
// participates in a join: remote rows are pulled once into a TableSpool
// rather than re-paged per probe, and a remote table is never folded into
// another environment's FetchXML.
func spoolIfRemote(node plan.Node) plan.Node {
	switch n := node.(type) {
	case *plan.FetchXmlScan:
		if n.EnvLabel != "" {
			return plan.NewTableSpool(n)
		}
	case *plan.Prefetch:
		if scan, ok := n.Child.(*plan.FetchXmlScan); ok && scan.EnvLabel != "" {
			return plan.NewTableSpool(node)
		}
	}
	return node
}

func joinKindToType(k ast.JoinKind) plan.JoinType {
	switch k {
	case ast.JoinLeft:
		return plan.JoinLeft
	case ast.JoinRight:
		return plan.JoinRight
	case ast.JoinFullOuter:
		return plan.JoinFull
	default:
		return plan.JoinInner
	}
}

// isEquiJoin reports whether on is a single equality whose two sides each
// reference exactly one column, one resolvable in leftSchema and the other
// in rightSchema (in either order), the shape a HashJoin can execute
// directly; a side may be an expression over its column, such as
// UPPER(name). Anything else (multi-column conditions, non-equality
// operators) falls back to NestedLoopJoin.
func isEquiJoin(on ast.Condition, leftSchema, rightSchema sql.Schema) (leftExpr, rightExpr ast.Expression, ok bool) {
	cmp, isCmp := on.(*ast.Comparison)
	if !isCmp || cmp.Op != ast.CmpEq {
		return nil, nil, false
	}
	lRefs, rRefs := columnRefs(cmp.Left), columnRefs(cmp.Right)
	if len(lRefs) != 1 || len(rRefs) != 1 {
		return nil, nil, false
	}
	if resolvesIn(lRefs, leftSchema) && resolvesIn(rRefs, rightSchema) {
		return cmp.Left, cmp.Right, true
	}
	if resolvesIn(lRefs, rightSchema) && resolvesIn(rRefs, leftSchema) {
		return cmp.Right, cmp.Left, true
	}
	return nil, nil, false
}

// aggInfo is one distinct aggregate call this SELECT needs computed, keyed
// by its canonical signature so `SUM(amount)` referenced in both the SELECT
// list and HAVING resolves to the same computed column.
type aggInfo struct {
	fn    *ast.Function
	sig   string
	alias string
}

func (p *Planner) collectAggregates(sel *ast.Select) []aggInfo {
	order := make([]string, 0, 4)
	seen := map[string]*aggInfo{}
	add := func(fn *ast.Function, preferredAlias string) {
		sig := expression.AggregateSignature(fn)
		if info, ok := seen[sig]; ok {
			if preferredAlias != "" && info.alias == "" {
				info.alias = preferredAlias
			}
			return
		}
		seen[sig] = &aggInfo{fn: fn, sig: sig, alias: preferredAlias}
		order = append(order, sig)
	}
	var walk func(ast.Expression)
	walk = func(e ast.Expression) {
		switch n := e.(type) {
		case nil:
		case *ast.Function:
			if expression.IsAggregateCall(n) {
				add(n, "")
				return
			}
			for _, a := range n.Args {
				walk(a)
			}
		case *ast.Unary:
			walk(n.Operand)
		case *ast.Binary:
			walk(n.Left)
			walk(n.Right)
		case *ast.Case:
			walk(n.Operand)
			for _, w := range n.Whens {
				walk(w.Val)
				walk(w.Then)
			}
			walk(n.Else)
		case *ast.Cast:
			walk(n.Expr)
		}
	}
	for _, c := range sel.Columns {
		if fn, ok := c.Expr.(*ast.Function); ok && expression.IsAggregateCall(fn) {
			add(fn, c.Alias)
			continue
		}
		walk(c.Expr)
	}
	for _, hc := range havingAggregates(sel.Having) {
		add(hc, "")
	}
	out := make([]aggInfo, 0, len(order))
	for _, sig := range order {
		out = append(out, *seen[sig])
	}
	return out
}

// havingAggregates collects aggregate calls appearing in a HAVING clause so
// a query like `GROUP BY x HAVING COUNT(*) > 1` computes the count even
// when the SELECT list never mentions it.
func havingAggregates(cond ast.Condition) []*ast.Function {
	var out []*ast.Function
	var walkExpr func(ast.Expression)
	var walkCond func(ast.Condition)
	walkExpr = func(e ast.Expression) {
		switch n := e.(type) {
		case nil:
		case *ast.Function:
			if expression.IsAggregateCall(n) {
				out = append(out, n)
				return
			}
			for _, a := range n.Args {
				walkExpr(a)
			}
		case *ast.Unary:
			walkExpr(n.Operand)
		case *ast.Binary:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *ast.Case:
			walkExpr(n.Operand)
			for _, w := range n.Whens {
				walkCond(w.When)
				walkExpr(w.Val)
				walkExpr(w.Then)
			}
			walkExpr(n.Else)
		case *ast.Cast:
			walkExpr(n.Expr)
		}
	}
	walkCond = func(c ast.Condition) {
		switch n := c.(type) {
		case nil:
		case *ast.Comparison:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *ast.Like:
			walkExpr(n.Expr)
			walkExpr(n.Pattern)
		case *ast.Null:
			walkExpr(n.Expr)
		case *ast.In:
			walkExpr(n.Expr)
			for _, v := range n.List {
				walkExpr(v)
			}
		case *ast.Between:
			walkExpr(n.Expr)
			walkExpr(n.Lo)
			walkExpr(n.Hi)
		case *ast.Logical:
			walkCond(n.Left)
			walkCond(n.Right)
		case *ast.ExpressionCondition:
			walkExpr(n.Expr)
		}
	}
	walkCond(cond)
	return out
}

// buildAggregates compiles sel's GROUP BY keys and aggregate calls for
// client-side aggregation, returning alongside them the signature-to-alias
// map HAVING/ORDER BY compilation uses to rewrite aggregate calls into
// column lookups instead of re-invocations.
func (p *Planner) buildAggregates(schema sql.Schema, sel *ast.Select, sub expression.SubqueryRunner) ([]plan.GroupKey, []plan.AggregateSpec, expression.AggregateAlias, error) {
	compiler := expression.NewCompiler(schema, p.Funcs, nil, sub)

	keys := make([]plan.GroupKey, 0, len(sel.GroupBy))
	for i, g := range sel.GroupBy {
		e, err := compiler.Compile(g)
		if err != nil {
			return nil, nil, nil, err
		}
		name := fmt.Sprintf("group%d", i)
		kind := sql.KindString
		if ref, ok := g.(*ast.ColumnRef); ok {
			name = ref.Column
			if idx := schema.IndexOf(ref.Column); idx >= 0 {
				kind = schema[idx].Kind
			}
		}
		keys = append(keys, plan.GroupKey{Output: &sql.Column{Name: name, Kind: kind, Nullable: true}, Expr: e})
	}

	aliasMap := expression.AggregateAlias{}
	infos := p.collectAggregates(sel)
	aggs := make([]plan.AggregateSpec, 0, len(infos))
	for _, info := range infos {
		fn := info.fn
		aggFunc, ok := mapAggFunc(fn.Name)
		if !ok {
			return nil, nil, nil, sql.ErrValidation.New(fmt.Sprintf("unsupported aggregate function %q", fn.Name))
		}
		var arg expression.Expr
		kind := sql.KindFloat
		switch aggFunc {
		case plan.AggCount, plan.AggCountBig:
			kind = sql.KindBigInt
		case plan.AggCountStar:
			kind = sql.KindBigInt
		}
		isCountStar := aggFunc == plan.AggCount && (len(fn.Args) == 0 || isStarArg(fn.Args[0]))
		if isCountStar {
			aggFunc = plan.AggCountStar
			kind = sql.KindBigInt
		} else if len(fn.Args) > 0 {
			e, err := compiler.Compile(fn.Args[0])
			if err != nil {
				return nil, nil, nil, err
			}
			arg = e
			if aggFunc == plan.AggMin || aggFunc == plan.AggMax {
				if ref, ok := fn.Args[0].(*ast.ColumnRef); ok {
					if idx := schema.IndexOf(ref.Column); idx >= 0 {
						kind = schema[idx].Kind
					}
				}
			}
		}
		name := info.alias
		if name == "" {
			name = deriveAggName(info.sig)
		}
		aliasMap[info.sig] = name
		aggs = append(aggs, plan.AggregateSpec{
			Output:   &sql.Column{Name: name, Kind: kind, Nullable: true, IsAggregate: true},
			Func:     aggFunc,
			Arg:      arg,
			Distinct: fn.Distinct,
		})
	}
	return keys, aggs, aliasMap, nil
}

// isStarArg matches the `*` argument of COUNT(*): the parser produces a
// ColumnRef named "*", and a string literal "*" is accepted as well.
func isStarArg(e ast.Expression) bool {
	switch n := e.(type) {
	case *ast.ColumnRef:
		return n.Column == "*"
	case *ast.Literal:
		s, ok := n.Value.(string)
		return ok && s == "*"
	}
	return false
}

func mapAggFunc(name string) (plan.AggFunc, bool) {
	switch strings.ToUpper(name) {
	case "COUNT":
		return plan.AggCount, true
	case "COUNT_BIG":
		return plan.AggCountBig, true
	case "SUM":
		return plan.AggSum, true
	case "AVG":
		return plan.AggAvg, true
	case "MIN":
		return plan.AggMin, true
	case "MAX":
		return plan.AggMax, true
	case "STDEV":
		return plan.AggStdev, true
	case "STDEVP":
		return plan.AggStdevp, true
	case "VAR":
		return plan.AggVar, true
	case "VARP":
		return plan.AggVarp, true
	default:
		return 0, false
	}
}

func buildSortKeys(c *expression.Compiler, items []ast.OrderByItem) ([]plan.SortKey, error) {
	keys := make([]plan.SortKey, 0, len(items))
	for _, ob := range items {
		e, err := c.Compile(ob.Expr)
		if err != nil {
			return nil, err
		}
		keys = append(keys, plan.SortKey{Expr: e, Desc: ob.Desc})
	}
	return keys, nil
}

func buildProjectColumns(c *expression.Compiler, cols []ast.SelectColumn, srcSchema sql.Schema) ([]plan.ProjectColumn, sql.Schema, error) {
	projCols := make([]plan.ProjectColumn, 0, len(cols))
	outSchema := make(sql.Schema, 0, len(cols))

	for _, col := range cols {
		if col.Star {
			for _, sc := range srcSchema {
				sc := sc
				idx := srcSchema.IndexOf(sc.OutputName())
				expr := func(ctx *sql.Context, row sql.Row) (sql.Value, error) { return row.Values[idx], nil }
				projCols = append(projCols, plan.ProjectColumn{Column: sc, Expr: expr})
				outSchema = append(outSchema, sc)
			}
			continue
		}

		e, err := c.Compile(col.Expr)
		if err != nil {
			return nil, nil, err
		}
		name := col.Alias
		if name == "" {
			switch n := col.Expr.(type) {
			case *ast.ColumnRef:
				name = n.Column
			case *ast.Function:
				name = strings.ToLower(n.Name)
			default:
				name = fmt.Sprintf("expr%d", len(outSchema))
			}
		}
		kind := sql.KindString
		var isLookup, isOptionSet bool
		if idx := srcSchema.IndexOf(name); idx >= 0 {
			kind = srcSchema[idx].Kind
			isLookup = srcSchema[idx].IsLookup
			isOptionSet = srcSchema[idx].IsOptionSet
		} else if ref, ok := col.Expr.(*ast.ColumnRef); ok {
			if idx := srcSchema.IndexOf(ref.Column); idx >= 0 {
				kind = srcSchema[idx].Kind
				isLookup = srcSchema[idx].IsLookup
				isOptionSet = srcSchema[idx].IsOptionSet
			}
		}
		out := &sql.Column{Name: name, Kind: kind, Nullable: true, IsLookup: isLookup, IsOptionSet: isOptionSet}
		projCols = append(projCols, plan.ProjectColumn{Column: out, Expr: e})
		outSchema = append(outSchema, out)
	}
	return projCols, outSchema, nil
}
