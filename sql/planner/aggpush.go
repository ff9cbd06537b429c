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
	"strings"
	"time"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/plan"
)

// aggPushdown is the outcome of a successful server-side aggregate
// transpilation: the scan (wrapped with the partitioned fallback where one
// could be built), the scan's output schema (group keys then aggregate
// aliases), and the alias map HAVING/ORDER BY/projection compile against.
type aggPushdown struct {
	node     plan.Node
	schema   sql.Schema
	aliasMap expression.AggregateAlias
}

// dateGroupingParts maps the GROUP BY date-part functions FetchXML can fold
// into a `dategrouping` attribute. Everything else client-aggregates.
var dateGroupingParts = map[string]string{
	"YEAR": "year", "MONTH": "month", "DAY": "day",
	"WEEK": "week", "QUARTER": "quarter",
}

// pushedAgg is one aggregate column of a pushed-down aggregate fetch,
// carrying what the partitioned fallback needs to recombine it.
type pushedAgg struct {
	attr    string
	alias   string
	fetchOp string
	fn      plan.AggFunc
	kind    sql.Kind
}

// tryAggregatePushdown attempts full FetchXML transpilation of sel's
// GROUP BY/aggregate surface over a single entity scan whose WHERE pushed
// down completely. Returns ok=false when anything in the query forces
// client-side aggregation: a residual WHERE, a non-foldable GROUP BY
// expression, an aggregate FetchXML has no name for (STDEV/VAR families),
// DISTINCT on anything but COUNT, or the HASH GROUP hint.
func (p *Planner) tryAggregatePushdown(ctx *sql.Context, sel *ast.Select, envLabel, entity string, schema sql.Schema, filter *fetchFilter, residual ast.Condition, noLock bool) (*aggPushdown, bool) {
	if residual != nil || hintSet(sel.Hints, "HASH") || ctx.Options.HashGroup {
		return nil, false
	}

	aliasMap := expression.AggregateAlias{}
	var attrs []fetchAggAttr
	outSchema := sql.Schema{}

	for _, g := range sel.GroupBy {
		switch n := g.(type) {
		case *ast.ColumnRef:
			attr, ok := pushableColumn(n, schema)
			if !ok {
				return nil, false
			}
			idx := schema.IndexOf(attr)
			attrs = append(attrs, fetchAggAttr{Attr: attr, Alias: attr, GroupBy: true})
			outSchema = append(outSchema, &sql.Column{
				Name: attr, Kind: schema[idx].Kind, Nullable: true,
				IsLookup: schema[idx].IsLookup, IsOptionSet: schema[idx].IsOptionSet,
			})
		case *ast.Function:
			part, ok := dateGroupingParts[strings.ToUpper(n.Name)]
			if !ok || len(n.Args) != 1 {
				return nil, false
			}
			attr, ok := pushableColumn(n.Args[0], schema)
			if !ok {
				return nil, false
			}
			alias := attr + part
			attrs = append(attrs, fetchAggAttr{Attr: attr, Alias: alias, GroupBy: true, DateGrouping: part})
			aliasMap[expression.AggregateSignature(n)] = alias
			outSchema = append(outSchema, &sql.Column{Name: alias, Kind: sql.KindInt, Nullable: true})
		default:
			return nil, false
		}
	}

	var pushed []pushedAgg
	for _, info := range p.collectAggregates(sel) {
		pa, ok := p.foldAggregate(info, entity, schema)
		if !ok {
			return nil, false
		}
		attrs = append(attrs, fetchAggAttr{
			Attr: pa.attr, Alias: pa.alias, Aggregate: pa.fetchOp, Distinct: info.fn.Distinct,
		})
		aliasMap[info.sig] = pa.alias
		outSchema = append(outSchema, &sql.Column{Name: pa.alias, Kind: pa.kind, Nullable: true, IsAggregate: true})
		pushed = append(pushed, pa)
	}
	if len(pushed) == 0 {
		return nil, false
	}

	builder := &fetchBuilder{Entity: entity, Aggs: attrs, Filter: filter, NoLock: noLock}
	scan := plan.NewFetchXmlScan(envLabel, entity, builder.Render(), 0, outSchema)

	node := plan.Node(scan)
	if len(sel.GroupBy) == 0 {
		if fb := p.buildPartitionedFallback(ctx, envLabel, entity, schema, builder, pushed, outSchema); fb != nil {
			node = plan.NewAggregateFallback(scan, fb)
		}
	}
	return &aggPushdown{node: node, schema: outSchema, aliasMap: aliasMap}, true
}

// foldAggregate maps one collected aggregate call onto its FetchXML
// rendering. COUNT(*) counts the primary-key attribute; DISTINCT folds only
// for COUNT; the STDEV/VAR families have no FetchXML name.
func (p *Planner) foldAggregate(info aggInfo, entity string, schema sql.Schema) (pushedAgg, bool) {
	fn := info.fn
	aggFunc, ok := mapAggFunc(fn.Name)
	if !ok {
		return pushedAgg{}, false
	}

	alias := info.alias
	if alias == "" {
		alias = deriveAggName(info.sig)
	}

	isCountStar := aggFunc == plan.AggCount && (len(fn.Args) == 0 || isStarArg(fn.Args[0]))
	if isCountStar {
		return pushedAgg{attr: primaryKey(entity), alias: alias, fetchOp: "count", fn: plan.AggCountStar, kind: sql.KindBigInt}, true
	}

	if len(fn.Args) != 1 {
		return pushedAgg{}, false
	}
	attr, ok := pushableColumn(fn.Args[0], schema)
	if !ok {
		return pushedAgg{}, false
	}
	if fn.Distinct && aggFunc != plan.AggCount && aggFunc != plan.AggCountBig {
		return pushedAgg{}, false
	}

	kind := sql.KindFloat
	var op string
	switch aggFunc {
	case plan.AggCount, plan.AggCountBig:
		op, kind = "countcolumn", sql.KindBigInt
	case plan.AggSum:
		op = "sum"
	case plan.AggAvg:
		op = "avg"
	case plan.AggMin, plan.AggMax:
		op = "min"
		if aggFunc == plan.AggMax {
			op = "max"
		}
		if idx := schema.IndexOf(attr); idx >= 0 {
			kind = schema[idx].Kind
		}
	default:
		return pushedAgg{}, false // STDEV/STDEVP/VAR/VARP stay client-side
	}
	return pushedAgg{attr: attr, alias: alias, fetchOp: op, fn: aggFunc, kind: kind}, true
}

// deriveAggName renders an aggregate signature into a usable output column
// name when the statement gave no alias: SUM(revenue) becomes sum_revenue,
// COUNT(*) becomes count_star.
func deriveAggName(sig string) string {
	s := strings.ToLower(sig)
	s = strings.ReplaceAll(s, "(", "_")
	s = strings.ReplaceAll(s, ")", "")
	s = strings.ReplaceAll(s, "*", "star")
	s = strings.ReplaceAll(s, "distinct ", "distinct_")
	s = strings.ReplaceAll(s, ",", "_")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// avgCountSuffix names the companion countcolumn aggregate each partition
// computes so a partitioned AVG can be recombined weighted by row count.
const avgCountSuffix = "_cnt"

// buildPartitionedFallback constructs the date-partitioned alternative for
// a global (no GROUP BY) pushed aggregate: N per-partition aggregate scans
// under a ParallelPartition, recombined by a PartitionedAggregate. Returns
// nil when no fallback can be built — the entity has no datetime column to
// slice on, or an aggregate (STDEV/VAR reached here never; DISTINCT counts
// do) cannot be recombined from partials.
func (p *Planner) buildPartitionedFallback(ctx *sql.Context, envLabel, entity string, schema sql.Schema, base *fetchBuilder, pushed []pushedAgg, outSchema sql.Schema) plan.Node {
	dateCol := partitionDateColumn(schema)
	if dateCol == "" {
		return nil
	}
	for _, a := range base.Aggs {
		if a.Distinct {
			return nil // a DISTINCT count is not a sum of per-partition DISTINCT counts
		}
	}

	partSchema := append(sql.Schema{}, outSchema...)
	specs := make([]plan.PartialAggSpec, len(pushed))
	extra := make([]fetchAggAttr, 0, len(pushed))
	for i, pa := range pushed {
		spec := plan.PartialAggSpec{Output: outSchema[i], Func: pa.fn, ValueCol: pa.alias}
		if pa.fn == plan.AggAvg {
			countAlias := pa.alias + avgCountSuffix
			spec.CountCol = countAlias
			extra = append(extra, fetchAggAttr{Attr: pa.attr, Alias: countAlias, Aggregate: "countcolumn"})
			partSchema = append(partSchema, &sql.Column{Name: countAlias, Kind: sql.KindBigInt, Nullable: true, IsAggregate: true})
		}
		specs[i] = spec
	}

	parts := p.partitionRanges(ctx, envLabel)
	scans := make([]plan.Node, len(parts))
	for i, r := range parts {
		pb := &fetchBuilder{
			Entity: entity,
			Aggs:   append(append([]fetchAggAttr{}, base.Aggs...), extra...),
			NoLock: base.NoLock,
		}
		rangeFilter := &fetchFilter{Type: "and", Conds: []fetchCondition{
			{Attr: dateCol, Op: "ge", Values: []string{r.Start.UTC().Format("2006-01-02T15:04:05Z")}},
			{Attr: dateCol, Op: "lt", Values: []string{r.End.UTC().Format("2006-01-02T15:04:05Z")}},
		}}
		if !base.Filter.empty() {
			rangeFilter.Filters = append(rangeFilter.Filters, base.Filter)
		}
		pb.Filter = rangeFilter
		scans[i] = plan.NewFetchXmlScan(envLabel, entity, pb.Render(), 0, partSchema)
	}

	return plan.NewPartitionedAggregate(plan.NewParallelPartition(scans...), specs)
}

// partitionDateColumn picks the datetime attribute the partitioner slices
// on: createdon when the entity has it (every standard Dataverse entity
// does), otherwise the first datetime attribute in schema order.
func partitionDateColumn(schema sql.Schema) string {
	if idx := schema.IndexOf("createdon"); idx >= 0 && schema[idx].Kind == sql.KindDateTime {
		return "createdon"
	}
	for _, c := range schema {
		if c.Kind == sql.KindDateTime {
			return c.Name
		}
	}
	return ""
}

// partitionRanges sizes the partition fan-out to the connection pool's
// logical capacity, clamped by MaxParallelism, and slices a wide default
// date window across it. The window deliberately overshoots on both ends:
// an empty partition costs one cheap aggregate call.
func (p *Planner) partitionRanges(ctx *sql.Context, envLabel string) []plan.DateRange {
	n := ctx.Options.MaxParallelism
	if n <= 0 {
		n = 4
	}
	if ctx.Pool != nil {
		if capacity := ctx.Pool.Capacity(envLabel); capacity > 0 && capacity < n {
			n = capacity
		}
	}
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Now().UTC().Add(24 * time.Hour)
	return plan.NewDateRangePartitioner(start, end, n).Ranges()
}

// hintSet reports whether the OPTION hint list carries name.
func hintSet(hints map[string]string, name string) bool {
	_, ok := hints[name]
	return ok
}
