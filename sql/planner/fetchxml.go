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
	"sort"
	"strconv"
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
)

// entitySchema turns metadata's attribute map into a deterministically
// ordered Schema (map iteration order isn't, so attributes are sorted by
// logical name). This is used for every base-table scan, whether the
// query asked for `*` or a named subset: a FetchXmlScan always requests
// every attribute and the projection step narrows it down.
func entitySchema(meta sql.EntityMetadata) sql.Schema {
	names := make([]string, 0, len(meta.Attributes))
	for name := range meta.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := make(sql.Schema, len(names))
	for i, name := range names {
		a := meta.Attributes[name]
		schema[i] = &sql.Column{
			Name:        a.LogicalName,
			Kind:        a.Kind,
			Nullable:    a.Nullable,
			IsLookup:    a.IsLookup,
			IsOptionSet: a.IsOptionSet,
		}
	}
	return schema
}

// fetchCondition is one `<condition>` element: an attribute, a FetchXML
// operator name, and zero or more rendered values.
type fetchCondition struct {
	Attr   string
	Op     string
	Values []string
}

// fetchFilter is one `<filter>` element: type "and" or "or", holding
// conditions and nested filters.
type fetchFilter struct {
	Type    string
	Conds   []fetchCondition
	Filters []*fetchFilter
}

func (f *fetchFilter) empty() bool {
	return f == nil || (len(f.Conds) == 0 && len(f.Filters) == 0)
}

// fetchOrder is one `<order>` element.
type fetchOrder struct {
	Attr string
	Desc bool
}

// fetchAggAttr is one `<attribute>` element of an aggregate fetch: either a
// group-by key (GroupBy true, optionally with a DateGrouping part name) or
// an aggregated column (Aggregate holds the FetchXML aggregate name).
type fetchAggAttr struct {
	Attr         string
	Alias        string
	Aggregate    string
	GroupBy      bool
	DateGrouping string
	Distinct     bool
}

// fetchBuilder accumulates everything the planner decided to push down and
// renders the final `<fetch>` document. A TOP pushed below one page renders
// as the page-size `count` attribute, never as a fetch-level `top`: the
// backend rejects `top` combined with a page attribute, so the scan's
// paging loop owns the row budget instead (FetchXmlScan.MaxRows).
type fetchBuilder struct {
	Entity   string
	Attrs    []string
	Aggs     []fetchAggAttr
	Filter   *fetchFilter
	Orders   []fetchOrder
	Count    int64
	NoLock   bool
	Distinct bool
}

func (b *fetchBuilder) aggregate() bool { return len(b.Aggs) > 0 }

func (b *fetchBuilder) Render() string {
	var sb strings.Builder
	sb.WriteString(`<fetch`)
	if b.aggregate() {
		sb.WriteString(` aggregate="true"`)
	}
	if b.Distinct {
		sb.WriteString(` distinct="true"`)
	}
	if b.Count > 0 {
		sb.WriteString(` count="`)
		sb.WriteString(strconv.FormatInt(b.Count, 10))
		sb.WriteString(`"`)
	}
	if b.NoLock {
		sb.WriteString(` no-lock="true"`)
	}
	sb.WriteString(`><entity name="`)
	sb.WriteString(xmlEscape(b.Entity))
	sb.WriteString(`">`)

	if b.aggregate() {
		for _, a := range b.Aggs {
			sb.WriteString(`<attribute name="`)
			sb.WriteString(xmlEscape(a.Attr))
			sb.WriteString(`" alias="`)
			sb.WriteString(xmlEscape(a.Alias))
			sb.WriteString(`"`)
			if a.GroupBy {
				sb.WriteString(` groupby="true"`)
				if a.DateGrouping != "" {
					sb.WriteString(` dategrouping="`)
					sb.WriteString(a.DateGrouping)
					sb.WriteString(`"`)
				}
			} else {
				sb.WriteString(` aggregate="`)
				sb.WriteString(a.Aggregate)
				sb.WriteString(`"`)
				if a.Distinct {
					sb.WriteString(` distinct="true"`)
				}
			}
			sb.WriteString(`/>`)
		}
	} else {
		for _, attr := range b.Attrs {
			sb.WriteString(`<attribute name="`)
			sb.WriteString(xmlEscape(attr))
			sb.WriteString(`"/>`)
		}
	}

	renderFilter(&sb, b.Filter)

	for _, o := range b.Orders {
		sb.WriteString(`<order attribute="`)
		sb.WriteString(xmlEscape(o.Attr))
		sb.WriteString(`"`)
		if o.Desc {
			sb.WriteString(` descending="true"`)
		}
		sb.WriteString(`/>`)
	}

	sb.WriteString(`</entity></fetch>`)
	return sb.String()
}

func renderFilter(sb *strings.Builder, f *fetchFilter) {
	if f.empty() {
		return
	}
	typ := f.Type
	if typ == "" {
		typ = "and"
	}
	sb.WriteString(`<filter type="`)
	sb.WriteString(typ)
	sb.WriteString(`">`)
	for _, c := range f.Conds {
		sb.WriteString(`<condition attribute="`)
		sb.WriteString(xmlEscape(c.Attr))
		sb.WriteString(`" operator="`)
		sb.WriteString(c.Op)
		sb.WriteString(`"`)
		switch len(c.Values) {
		case 0:
			sb.WriteString(`/>`)
		case 1:
			sb.WriteString(` value="`)
			sb.WriteString(xmlEscape(c.Values[0]))
			sb.WriteString(`"/>`)
		default:
			sb.WriteString(`>`)
			for _, v := range c.Values {
				sb.WriteString(`<value>`)
				sb.WriteString(xmlEscape(v))
				sb.WriteString(`</value>`)
			}
			sb.WriteString(`</condition>`)
		}
	}
	for _, nested := range f.Filters {
		renderFilter(sb, nested)
	}
	sb.WriteString(`</filter>`)
}

// buildFetchXml renders a full, unfiltered `<fetch>` document requesting
// every attribute in schema, the shape every scan starts from before the
// planner pushes filters, ordering, aggregates or a row budget into it.
func buildFetchXml(entity string, schema sql.Schema) string {
	b := &fetchBuilder{Entity: entity, Attrs: attrNames(schema)}
	return b.Render()
}

func attrNames(schema sql.Schema) []string {
	names := make([]string, len(schema))
	for i, c := range schema {
		names[i] = c.Name
	}
	return names
}

// splitPushdown partitions where's AND-conjuncts into the filter fragment
// the backend can evaluate and the residual condition that must stay in a
// ClientFilter. A conjunct pushes down only when it compares one schema
// column against literals with an operator FetchXML has a name for;
// column-to-column comparisons, variables, function calls and
// subqueries always stay client-side.
func splitPushdown(where ast.Condition, schema sql.Schema) (*fetchFilter, ast.Condition) {
	if where == nil {
		return nil, nil
	}
	pushed := &fetchFilter{Type: "and"}
	var residual []ast.Condition
	for _, conjunct := range splitAnd(where) {
		if frag, ok := pushdownCondition(conjunct, schema); ok {
			if frag.Type == "and" || frag.Type == "" {
				pushed.Conds = append(pushed.Conds, frag.Conds...)
				pushed.Filters = append(pushed.Filters, frag.Filters...)
			} else {
				pushed.Filters = append(pushed.Filters, frag)
			}
			continue
		}
		residual = append(residual, conjunct)
	}
	if pushed.empty() {
		pushed = nil
	}
	return pushed, joinAnd(residual)
}

// pushdownCondition translates a single condition into a filter fragment.
func pushdownCondition(cond ast.Condition, schema sql.Schema) (*fetchFilter, bool) {
	switch n := cond.(type) {
	case *ast.Comparison:
		attr, value, op, ok := comparisonOperands(n, schema)
		if !ok {
			return nil, false
		}
		return &fetchFilter{Type: "and", Conds: []fetchCondition{{Attr: attr, Op: op, Values: []string{value}}}}, true

	case *ast.Like:
		attr, ok := pushableColumn(n.Expr, schema)
		if !ok {
			return nil, false
		}
		pattern, ok := literalString(n.Pattern)
		if !ok {
			return nil, false
		}
		op := "like"
		if n.Not {
			op = "not-like"
		}
		return &fetchFilter{Type: "and", Conds: []fetchCondition{{Attr: attr, Op: op, Values: []string{pattern}}}}, true

	case *ast.Null:
		attr, ok := pushableColumn(n.Expr, schema)
		if !ok {
			return nil, false
		}
		op := "null"
		if n.Not {
			op = "not-null"
		}
		return &fetchFilter{Type: "and", Conds: []fetchCondition{{Attr: attr, Op: op}}}, true

	case *ast.In:
		attr, ok := pushableColumn(n.Expr, schema)
		if !ok {
			return nil, false
		}
		values := make([]string, 0, len(n.List))
		for _, item := range n.List {
			v, ok := renderLiteral(item)
			if !ok {
				return nil, false
			}
			values = append(values, v)
		}
		op := "in"
		if n.Not {
			op = "not-in"
		}
		return &fetchFilter{Type: "and", Conds: []fetchCondition{{Attr: attr, Op: op, Values: values}}}, true

	case *ast.Between:
		attr, ok := pushableColumn(n.Expr, schema)
		if !ok {
			return nil, false
		}
		lo, okLo := renderLiteral(n.Lo)
		hi, okHi := renderLiteral(n.Hi)
		if !okLo || !okHi {
			return nil, false
		}
		if n.Not {
			return &fetchFilter{Type: "or", Conds: []fetchCondition{
				{Attr: attr, Op: "lt", Values: []string{lo}},
				{Attr: attr, Op: "gt", Values: []string{hi}},
			}}, true
		}
		return &fetchFilter{Type: "and", Conds: []fetchCondition{
			{Attr: attr, Op: "ge", Values: []string{lo}},
			{Attr: attr, Op: "le", Values: []string{hi}},
		}}, true

	case *ast.Logical:
		switch n.Op {
		case ast.LogAnd:
			left, okL := pushdownCondition(n.Left, schema)
			right, okR := pushdownCondition(n.Right, schema)
			if !okL || !okR {
				return nil, false
			}
			return &fetchFilter{Type: "and", Filters: []*fetchFilter{left, right}}, true
		case ast.LogOr:
			left, okL := pushdownCondition(n.Left, schema)
			right, okR := pushdownCondition(n.Right, schema)
			if !okL || !okR {
				return nil, false
			}
			return &fetchFilter{Type: "or", Filters: []*fetchFilter{left, right}}, true
		default:
			return nil, false
		}

	default:
		return nil, false
	}
}

// comparisonOperands extracts a column-vs-literal comparison from either
// operand order, flipping the operator when the literal is on the left.
func comparisonOperands(n *ast.Comparison, schema sql.Schema) (attr, value, op string, ok bool) {
	opName, okOp := fetchCompareOp(n.Op)
	if !okOp {
		return "", "", "", false
	}
	if attr, ok := pushableColumn(n.Left, schema); ok {
		if v, ok := renderLiteral(n.Right); ok {
			return attr, v, opName, true
		}
		return "", "", "", false
	}
	if attr, ok := pushableColumn(n.Right, schema); ok {
		if v, ok := renderLiteral(n.Left); ok {
			return attr, v, flipCompareOp(opName), true
		}
	}
	return "", "", "", false
}

func fetchCompareOp(op ast.CompareOp) (string, bool) {
	switch op {
	case ast.CmpEq:
		return "eq", true
	case ast.CmpNe:
		return "ne", true
	case ast.CmpLt:
		return "lt", true
	case ast.CmpLe:
		return "le", true
	case ast.CmpGt:
		return "gt", true
	case ast.CmpGe:
		return "ge", true
	default:
		return "", false
	}
}

func flipCompareOp(op string) string {
	switch op {
	case "lt":
		return "gt"
	case "le":
		return "ge"
	case "gt":
		return "lt"
	case "ge":
		return "le"
	default:
		return op // eq and ne are symmetric
	}
}

// pushableColumn resolves e to a scan attribute name, accepting bare and
// table-qualified references as long as the bare column exists on the
// scanned entity.
func pushableColumn(e ast.Expression, schema sql.Schema) (string, bool) {
	ref, ok := e.(*ast.ColumnRef)
	if !ok || ref.Column == "*" {
		return "", false
	}
	if schema.IndexOf(ref.Column) < 0 {
		return "", false
	}
	return strings.ToLower(ref.Column), true
}

// renderLiteral renders a literal expression (including a unary-negated
// numeric literal) into FetchXML value text.
func renderLiteral(e ast.Expression) (string, bool) {
	switch n := e.(type) {
	case *ast.Literal:
		switch v := n.Value.(type) {
		case nil:
			return "", false // NULL compares via the null operator, never a value
		case string:
			return v, true
		case int64:
			return strconv.FormatInt(v, 10), true
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		case bool:
			if v {
				return "1", true
			}
			return "0", true
		default:
			return fmt.Sprintf("%v", v), true
		}
	case *ast.Unary:
		if n.Op != ast.OpNeg {
			return renderLiteral(n.Operand)
		}
		inner, ok := renderLiteral(n.Operand)
		if !ok {
			return "", false
		}
		return "-" + inner, true
	default:
		return "", false
	}
}

func literalString(e ast.Expression) (string, bool) {
	lit, ok := e.(*ast.Literal)
	if !ok {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
