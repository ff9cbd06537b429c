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

// Package planner turns a parsed ast.Statement into an executable plan.Node
// tree: it resolves table sources (including cross-environment and CTE
// references), decides what pushes down into FetchXML versus what runs
// client-side, rewrites subqueries, and enforces the DML safety guard
// before any write node is allowed to run. It is one direct AST-to-plan
// pass rather than a rule-batch optimizer, since this engine's push-down
// surface is narrower than a general relational optimizer's.
package planner

import (
	"fmt"
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression/function"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/plan"
)

// SafetyVerdict classifies a planned statement's write-safety posture
type SafetyVerdict int

const (
	SafetyOK SafetyVerdict = iota
	SafetyRequiresConfirmation
	SafetyBlocked
)

// Result is what Plan returns to the query service façade.
type Result struct {
	Root     plan.Node
	Safety   SafetyVerdict
	SafetyMsg string
}

// Planner compiles statements against one metadata provider. It is safe for
// concurrent use: all per-statement state lives in the planCtx a single Plan
// call builds, never on the Planner itself.
type Planner struct {
	Metadata sql.MetadataProvider
	Funcs    *function.Registry
}

// New returns a Planner bound to meta, used to build entity schemas for
// scans (SELECT * expansion, pushdown column checks) and for UPDATE/DELETE
// targets. Joins are not folded into FetchXML <link-entity> elements; they
// run client-side as HashJoin or NestedLoopJoin.
func New(meta sql.MetadataProvider) *Planner {
	return &Planner{Metadata: meta, Funcs: function.Default()}
}

// planCtx carries per-statement state threaded through recursive planning
// calls: the WITH clause's CTE definitions in scope, spools already built
// for non-recursive CTE references (so a CTE referenced twice materializes
// once), and self-reference bindings used while planning a recursive CTE's
// body against the previous iteration's rows.
type planCtx struct {
	ctes    map[string]*ast.CteDef
	spools  map[string]*plan.TableSpool
	selfRef map[string]selfRefBinding
}

type selfRefBinding struct {
	node   plan.Node
	schema sql.Schema
}

func newPlanCtx() *planCtx {
	return &planCtx{
		ctes:    map[string]*ast.CteDef{},
		spools:  map[string]*plan.TableSpool{},
		selfRef: map[string]selfRefBinding{},
	}
}

func (pc *planCtx) withCTEs(defs []ast.CteDef) *planCtx {
	if len(defs) == 0 {
		return pc
	}
	out := &planCtx{
		ctes:    make(map[string]*ast.CteDef, len(pc.ctes)+len(defs)),
		spools:  pc.spools,
		selfRef: pc.selfRef,
	}
	for k, v := range pc.ctes {
		out.ctes[k] = v
	}
	for i := range defs {
		out.ctes[strings.ToUpper(defs[i].Name)] = &defs[i]
	}
	return out
}

func (pc *planCtx) withSelfRef(name string, b selfRefBinding) *planCtx {
	out := &planCtx{
		ctes:   pc.ctes,
		spools: pc.spools,
		selfRef: make(map[string]selfRefBinding, len(pc.selfRef)+1),
	}
	for k, v := range pc.selfRef {
		out.selfRef[k] = v
	}
	out.selfRef[strings.ToUpper(name)] = b
	return out
}

// Plan compiles stmt into an executable node tree.
func (p *Planner) Plan(ctx *sql.Context, stmt ast.Statement) (*Result, error) {
	if sel, ok := stmt.(*ast.Select); ok {
		applyHintOptions(ctx, sel.Hints)
	}
	pc := newPlanCtx()
	node, _, safety, msg, err := p.planStatement(ctx, pc, stmt)
	if err != nil {
		return nil, err
	}
	return &Result{Root: node, Safety: safety, SafetyMsg: msg}, nil
}

// planStatement dispatches on stmt's concrete type. Every branch returns the
// executable node, its output schema (nil for statements with no rowset),
// and a DML safety verdict (SafetyOK for anything that isn't a write).
func (p *Planner) planStatement(ctx *sql.Context, pc *planCtx, stmt ast.Statement) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	switch n := stmt.(type) {
	case *ast.Select:
		node, schema, err := p.planSelect(ctx, pc, n)
		return node, schema, SafetyOK, "", err

	case *ast.Union:
		node, schema, err := p.planUnion(ctx, pc, n)
		return node, schema, SafetyOK, "", err

	case *ast.Insert:
		return p.planInsert(ctx, pc, n)

	case *ast.Update:
		return p.planUpdate(ctx, pc, n)

	case *ast.Delete:
		return p.planDelete(ctx, pc, n)

	case *ast.If:
		return p.planIf(ctx, pc, n)

	case *ast.Block:
		return p.planBlock(ctx, pc, n)

	case *ast.While:
		return p.planWhile(ctx, pc, n)

	case *ast.Break:
		return plan.Break{}, nil, SafetyOK, "", nil

	case *ast.Continue:
		return plan.Continue{}, nil, SafetyOK, "", nil

	case *ast.DeclareVar:
		return p.planDeclareVar(ctx, pc, n)

	case *ast.SetVar:
		return p.planSetVar(ctx, pc, n)

	case *ast.RaiseError:
		return p.planRaiseError(ctx, pc, n)

	case *ast.Script:
		return p.planScript(ctx, pc, n)

	default:
		return nil, nil, SafetyOK, "", sql.ErrInternal.New(fmt.Sprintf("unsupported statement node %T", stmt))
	}
}

// maybePrefetch wraps scan, a freshly built FetchXmlScan, in a Prefetch node
// unless the caller's PlanOptions turned prefetching off. Wrapping happens at construction time, right where each FetchXmlScan
// leaf is built, rather than as a tree-rewrite pass after the fact.
func maybePrefetch(opts sql.PlanOptions, scan *plan.FetchXmlScan) plan.Node {
	if opts.DisablePrefetch {
		return scan
	}
	return plan.NewPrefetch(scan, opts.PrefetchBuffer)
}

// applyHintOptions merges a statement's OPTION (...) hints into the
// request's plan options; a hint wins over the request for the fields it
// names. BATCH_SIZE/BYPASS_PLUGINS/BYPASS_FLOWS reach DmlExecute through
// the context options, MAXDOP bounds ParallelPartition and the
// partitioned-aggregate fan-out, and USE_TDS/NOLOCK/HASH GROUP steer the
// scan and aggregate strategy choices in select planning.
func applyHintOptions(ctx *sql.Context, hints map[string]string) {
	if len(hints) == 0 {
		return
	}
	if n := hintInt(hints, "BATCH_SIZE"); n > 0 {
		ctx.Options.BatchSize = int(n)
	}
	if n := hintInt(hints, "MAXDOP"); n > 0 {
		ctx.Options.MaxParallelism = int(n)
	}
	if hintSet(hints, "BYPASS_PLUGINS") {
		ctx.Options.BypassPlugins = true
	}
	if hintSet(hints, "BYPASS_FLOWS") {
		ctx.Options.BypassFlows = true
	}
	if hintSet(hints, "USE_TDS") {
		ctx.Options.UseTds = true
	}
	if hintSet(hints, "NOLOCK") {
		ctx.Options.NoLock = true
	}
	if hintSet(hints, "HASH") {
		ctx.Options.HashGroup = true
	}
}
