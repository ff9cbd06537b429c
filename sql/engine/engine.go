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

// Package engine is the query service façade: the narrow
// interface the CLI, interactive terminal UI and language service drive
// instead of touching sql/parser, sql/planner and sql/plan directly. It
// exposes one entry point per concern against a stable request/response
// contract: Execute, ExecuteStreaming, Explain, Validate and Tokenize.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/joshsmithxrm/ppds-sdk-sub001/internal/similartext"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/lexer"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/parser"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/plan"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/planner"
)

// Engine wires the parser, planner and the external collaborators into
// the operations the rest of the application calls. It holds no
// per-request state; every field here is either immutable after New or
// itself safe for concurrent use.
type Engine struct {
	Backend  sql.BackendExecutor
	Bulk     sql.BulkWriteExecutor
	Metadata sql.MetadataProvider
	Pool     sql.ConnectionPool
	Logger   *logrus.Entry

	planner *planner.Planner
}

// New returns an Engine bound to its external collaborators. Any of Bulk/
// Pool may be nil for a read-only deployment that never plans DML or
// cross-environment references; Backend and Metadata are required for any
// non-trivial query.
func New(backend sql.BackendExecutor, bulk sql.BulkWriteExecutor, meta sql.MetadataProvider, pool sql.ConnectionPool, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		Backend:  backend,
		Bulk:     bulk,
		Metadata: meta,
		Pool:     pool,
		Logger:   logger,
		planner:  planner.New(meta),
	}
}

// Request is the stable request contract callers build against.
type Request struct {
	SQL       string
	Options   sql.PlanOptions
	DmlSafety sql.DmlSafety
	Variables map[string]sql.Value
}

// NodeTiming is one row of the per-node EXPLAIN ANALYZE breakdown.
type NodeTiming struct {
	Node       string
	ElapsedMs  int64
}

// ResultStatistics mirrors a "statistics: { rows, pages,
// elapsed_ms, node_timings[] }".
type ResultStatistics struct {
	Rows       int64
	Pages      int64
	ElapsedMs  int64
	NodeTimings []NodeTiming
}

// Diagnostic is a non-fatal validation-time finding.
type Diagnostic struct {
	Severity string // "error" | "warning"
	Message  string
	Position *sql.Position
}

// ErrorInfo is the on-failure shape: "{ code, message,
// position?, hint? }".
type ErrorInfo struct {
	Code     sql.Code
	Message  string
	Position *sql.Position
	Hint     string
}

func errorInfoOf(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	if qe, ok := err.(*sql.QueryError); ok {
		return &ErrorInfo{Code: qe.Code, Message: qe.Error(), Position: qe.Position, Hint: qe.Hint}
	}
	return &ErrorInfo{Code: sql.CodeInternal, Message: err.Error()}
}

// Response is the buffered-path result.
type Response struct {
	Columns          sql.Schema
	Rows             []sql.Row
	ExecutedFetchXml string
	Statistics       ResultStatistics
	Diagnostics      []Diagnostic
	Error            *ErrorInfo

	// Safety carries the DML safety guard's verdict,
	// always SafetyOK for read-only statements.
	Safety    planner.SafetyVerdict
	SafetyMsg string
}

// Chunk is one batch of rows in the streaming path.
type Chunk struct {
	Rows  []sql.Row
	Error error // set, with Rows nil, on the terminal error chunk
}

// buildContext constructs the per-request sql.Context, seeded with req's
// variables.
func (e *Engine) buildContext(goCtx context.Context, req Request) *sql.Context {
	c := sql.NewContext(goCtx, e.Backend, e.Bulk, e.Metadata, e.Pool, req.Options, req.DmlSafety, e.Logger)
	for name, v := range req.Variables {
		c.SetVariable(name, v)
	}
	return c
}

// plan parses and plans req.SQL, returning the executable tree, its
// result schema, the DML safety verdict and the sql.Context the caller
// should execute against. Shared by Execute, ExecuteStreaming and Explain.
func (e *Engine) plan(ctx *sql.Context, sqlText string) (plan.Node, sql.Schema, *planner.Result, error) {
	stmt, err := parser.Parse(sqlText)
	if err != nil {
		return nil, nil, nil, toQueryError(err)
	}
	res, err := e.planner.Plan(ctx, stmt)
	if err != nil {
		return nil, nil, nil, err
	}
	return res.Root, res.Root.Schema(), res, nil
}

// toQueryError adapts a *parser.ParseError into the engine's *sql.QueryError
// shape, preserving position so the caller can underline the offending span.
func toQueryError(err error) error {
	pe, ok := err.(*parser.ParseError)
	if !ok {
		return sql.ErrParse.New(err.Error())
	}
	qe := sql.ErrParse.New(pe.Error())
	qe = qe.WithPosition(sql.Position{Line: pe.Line, Column: pe.Column, Offset: pe.Offset})
	return qe.WithHint(fmt.Sprintf("expected %s", pe.Expected))
}

// Execute runs sqlText to completion and returns every row buffered in
// memory.
func (e *Engine) Execute(goCtx context.Context, req Request) *Response {
	ctx := e.buildContext(goCtx, req)
	root, schema, res, err := e.plan(ctx, req.SQL)
	if err != nil {
		return &Response{Error: errorInfoOf(err)}
	}
	if res.Safety == planner.SafetyBlocked {
		return &Response{
			Columns: schema, Safety: res.Safety, SafetyMsg: res.SafetyMsg,
			Error: errorInfoOf(sql.ErrDmlBlocked.New(res.SafetyMsg)),
		}
	}
	if req.DmlSafety.DryRun {
		return &Response{Columns: schema, Safety: res.Safety, SafetyMsg: res.SafetyMsg}
	}

	ctx.Progress.Phase(sql.PhaseExecuting)
	iter, err := root.Execute(ctx, sql.Row{})
	if err != nil {
		return &Response{Columns: schema, Error: errorInfoOf(err)}
	}
	rows, err := sql.RowIterToRows(ctx, iter)

	resp := &Response{
		Columns:          schema,
		Rows:             rows,
		ExecutedFetchXml: firstFetchXml(root),
		Statistics:       statsOf(ctx.Stats),
		Safety:           res.Safety,
		SafetyMsg:        res.SafetyMsg,
	}
	if err != nil {
		resp.Error = errorInfoOf(err)
	}
	return resp
}

// ExecuteStreaming runs sqlText and yields rows in bounded chunks over the
// returned channel. Each chunk is already virtual-name-column-expanded by
// the Project node that produced it; ExecuteStreaming performs no further
// column surgery, only batching. The channel is closed after the final
// chunk, which carries a non-nil Error on failure (including Cancelled)
// and nil Error on clean exhaustion.
func (e *Engine) ExecuteStreaming(goCtx context.Context, req Request, chunkSize int) <-chan Chunk {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	out := make(chan Chunk, 1)
	go func() {
		defer close(out)
		ctx := e.buildContext(goCtx, req)
		root, _, res, err := e.plan(ctx, req.SQL)
		if err != nil {
			out <- Chunk{Error: err}
			return
		}
		if res.Safety == planner.SafetyBlocked {
			out <- Chunk{Error: sql.ErrDmlBlocked.New(res.SafetyMsg)}
			return
		}
		if req.DmlSafety.DryRun {
			return
		}

		ctx.Progress.Phase(sql.PhaseExecuting)
		iter, err := root.Execute(ctx, sql.Row{})
		if err != nil {
			out <- Chunk{Error: err}
			return
		}
		defer iter.Close(ctx)

		batch := make([]sql.Row, 0, chunkSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			select {
			case out <- Chunk{Rows: batch}:
				batch = make([]sql.Row, 0, chunkSize)
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			if cerr := ctx.Err(); cerr != nil {
				flush()
				out <- Chunk{Error: cerr}
				return
			}
			row, nerr := iter.Next(ctx)
			if nerr != nil {
				if nerr != io.EOF {
					flush()
					out <- Chunk{Error: nerr}
					return
				}
				flush()
				return
			}
			batch = append(batch, row)
			if len(batch) >= chunkSize {
				if !flush() {
					out <- Chunk{Error: ctx.Err()}
					return
				}
			}
		}
	}()
	return out
}

// Explain plans sqlText and returns its tree description without ever
// invoking Execute on any node.
// The pool capacity annotation is e.Pool's capacity for the default
// environment (0 without a pool); the parallelism shown is
// req.Options.MaxParallelism clamped to that capacity when it is positive.
func (e *Engine) Explain(goCtx context.Context, req Request) (string, error) {
	ctx := e.buildContext(goCtx, req)
	root, _, _, err := e.plan(ctx, req.SQL)
	if err != nil {
		return "", err
	}
	capacity := 0
	if e.Pool != nil {
		capacity = e.Pool.Capacity("")
	}
	parallelism := req.Options.WithDefaults().MaxParallelism
	if capacity > 0 && capacity < parallelism {
		parallelism = capacity
	}
	return plan.ExplainAnnotated(root, capacity, parallelism), nil
}

// Validate parses sqlText and, when metadata is available, checks every
// referenced entity/attribute against it, returning non-fatal diagnostics
// suitable for an editor's squiggly-underline surface. A parse failure is
// reported as a single error-severity diagnostic rather than returned as
// a Go error, so the language service always gets a diagnostics list to
// render.
func (e *Engine) Validate(goCtx context.Context, sqlText string) []Diagnostic {
	stmt, perrs := parser.ParsePartial(sqlText)
	var diags []Diagnostic
	for _, pe := range perrs {
		diags = append(diags, Diagnostic{
			Severity: "error",
			Message:  pe.Error(),
			Position: &sql.Position{Line: pe.Line, Column: pe.Column, Offset: pe.Offset},
		})
	}
	if stmt == nil || e.Metadata == nil {
		return diags
	}
	ctx := sql.NewContext(goCtx, e.Backend, e.Bulk, e.Metadata, e.Pool, sql.PlanOptions{}, sql.DmlSafety{}, e.Logger)
	entityNames, _ := e.Metadata.Entities(ctx)

	attrs := map[string]sql.AttributeMetadata{}
	loaded := 0
	for _, name := range referencedEntities(stmt) {
		meta, err := e.Metadata.Entity(ctx, name)
		if err != nil {
			diags = append(diags, Diagnostic{
				Severity: "error",
				Message:  fmt.Sprintf("unknown entity %q%s", name, similartext.Find(entityNames, name)),
			})
			continue
		}
		loaded++
		for k, a := range meta.Attributes {
			attrs[strings.ToLower(k)] = a
		}
	}

	// attribute-level check: a bare column reference that no referenced
	// entity carries. Warning rather than error, since the shallow walk
	// can't see derived-table output columns the way the planner's full
	// resolution does.
	if loaded > 0 {
		for _, col := range referencedColumns(stmt) {
			if _, ok := attrs[strings.ToLower(col)]; ok {
				continue
			}
			diags = append(diags, Diagnostic{
				Severity: "warning",
				Message:  fmt.Sprintf("unknown column %q%s", col, similartext.FindFromMap(attrs, strings.ToLower(col))),
			})
		}
	}
	return diags
}

// referencedColumns walks stmt the same shallow way referencedEntities
// does, collecting unqualified column references to check against the
// referenced entities' attributes. SELECT-list aliases are excluded,
// since HAVING/ORDER BY legitimately name them rather than an attribute,
// and table-qualified references are skipped (alias binding belongs to
// the planner, not this surface).
func referencedColumns(stmt ast.Statement) []string {
	seen := map[string]bool{}
	aliases := map[string]bool{}
	var order []string

	add := func(ref *ast.ColumnRef) {
		if ref == nil || ref.Table != "" || ref.Column == "*" {
			return
		}
		key := strings.ToLower(ref.Column)
		if aliases[key] || seen[key] {
			return
		}
		seen[key] = true
		order = append(order, ref.Column)
	}

	var walkExpr func(ast.Expression)
	var walkCond func(ast.Condition)
	var walkSelect func(*ast.Select)

	walkExpr = func(e ast.Expression) {
		switch n := e.(type) {
		case nil:
		case *ast.ColumnRef:
			add(n)
		case *ast.Unary:
			walkExpr(n.Operand)
		case *ast.Binary:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *ast.Function:
			for _, a := range n.Args {
				walkExpr(a)
			}
			if n.Over != nil {
				for _, pe := range n.Over.PartitionBy {
					walkExpr(pe)
				}
				for _, ob := range n.Over.OrderBy {
					walkExpr(ob.Expr)
				}
			}
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
		case *ast.InSubquery:
			walkExpr(n.Expr)
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

	walkSelect = func(sel *ast.Select) {
		if sel == nil {
			return
		}
		// derived tables first, so their output aliases shadow before the
		// outer clauses are walked
		if dt, ok := sel.From.(*ast.DerivedTable); ok {
			walkSelect(dt.Select)
		}
		for _, j := range sel.Joins {
			if dt, ok := j.Table.(*ast.DerivedTable); ok {
				walkSelect(dt.Select)
			}
		}
		for _, c := range sel.Columns {
			if c.Alias != "" {
				aliases[strings.ToLower(c.Alias)] = true
			}
		}
		for _, c := range sel.Columns {
			walkExpr(c.Expr)
		}
		walkCond(sel.Where)
		for _, g := range sel.GroupBy {
			walkExpr(g)
		}
		walkCond(sel.Having)
		for _, o := range sel.OrderBy {
			walkExpr(o.Expr)
		}
		for _, j := range sel.Joins {
			walkCond(j.On)
		}
	}

	switch n := stmt.(type) {
	case *ast.Select:
		walkSelect(n)
	case *ast.Insert:
		for _, c := range n.Columns {
			add(&ast.ColumnRef{Column: c})
		}
		walkSelect(n.Source)
	case *ast.Update:
		for _, a := range n.Set {
			add(&ast.ColumnRef{Column: a.Column})
			walkExpr(a.Value)
		}
		walkCond(n.Where)
	case *ast.Delete:
		walkCond(n.Where)
	}
	return order
}

// referencedEntities walks stmt's table sources for validation: a shallow
// "does this name resolve against the catalog" check rather than a full
// binder pass.
func referencedEntities(stmt ast.Statement) []string {
	var names []string
	var walkSelect func(sel *ast.Select)
	walkSource := func(src ast.TableSource) {
		switch t := src.(type) {
		case *ast.NamedTable:
			// remote tables validate against their own environment's
			// metadata, and metadata.* virtual tables have none to check
			if t.Table.EnvLabel == "" && !strings.EqualFold(t.Table.Schema, "metadata") {
				names = append(names, strings.ToLower(t.Table.Entity))
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
	}
	switch n := stmt.(type) {
	case *ast.Select:
		walkSelect(n)
	case *ast.Insert:
		names = append(names, strings.ToLower(n.Target.Entity))
		if n.Source != nil {
			walkSelect(n.Source)
		}
	case *ast.Update:
		names = append(names, strings.ToLower(n.Target.Entity))
	case *ast.Delete:
		names = append(names, strings.ToLower(n.Target.Entity))
	}
	return names
}

// TokenInfo is one colored token used by syntax highlighting.
type TokenInfo struct {
	Kind   string
	Text   string
	Line   int
	Column int
	Offset int
}

// Tokenize is a pure wrapper over the lexer: it holds no reference to
// Metadata/Backend/Pool and can run without an Engine at all (exposed as
// a package function too, Tokenize, for exactly that reason).
func (e *Engine) Tokenize(sqlText string) []TokenInfo {
	return Tokenize(sqlText)
}

// Tokenize tokenizes sqlText without requiring an Engine instance.
func Tokenize(sqlText string) []TokenInfo {
	toks := lexer.Tokenize(sqlText)
	out := make([]TokenInfo, len(toks))
	for i, t := range toks {
		out[i] = TokenInfo{Kind: t.Kind.String(), Text: t.Text, Line: t.Line, Column: t.Column, Offset: t.Offset}
	}
	return out
}

func statsOf(s *sql.Statistics) ResultStatistics {
	rs := ResultStatistics{
		Rows:      s.RowsEmitted,
		Pages:     s.Pages,
		ElapsedMs: s.Elapsed().Milliseconds(),
	}
	for name, d := range s.NodeTimings {
		rs.NodeTimings = append(rs.NodeTimings, NodeTiming{Node: name, ElapsedMs: d.Milliseconds()})
	}
	return rs
}

// firstFetchXml walks the plan tree depth-first for the first FetchXmlScan
// or TdsScan leaf, surfacing it as Response.ExecutedFetchXml for EXPLAIN
// and logging. Queries with more than one scan (joins planned
// client-side) only ever expose the first; EXPLAIN remains the
// authoritative view of the whole tree.
func firstFetchXml(n plan.Node) string {
	switch t := n.(type) {
	case *plan.FetchXmlScan:
		return t.FetchXml
	case *plan.TdsScan:
		return t.SQL
	}
	for _, c := range n.Children() {
		if s := firstFetchXml(c); s != "" {
			return s
		}
	}
	return ""
}
