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
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/plan"
)

// scriptCompiler builds an expression.Compiler for a statement that has no
// row source of its own (IF/WHILE conditions, DECLARE/SET initializers,
// RAISERROR arguments): ColumnRef resolution is unused there, only
// variable references and literals are, so the compiler is bound to a nil
// schema.
func (p *Planner) scriptCompiler(pc *planCtx) *expression.Compiler {
	return expression.NewCompiler(nil, p.Funcs, nil, &subqueryRunner{p: p, pc: pc})
}

// planIf plans IF condition THEN ELSE into an IfElse node, reporting the
// worse of the Then/Else branches' DML safety verdicts.
func (p *Planner) planIf(ctx *sql.Context, pc *planCtx, n *ast.If) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	cond, err := p.scriptCompiler(pc).CompileCondition(n.Condition)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}
	thenNode, schema, verdict, msg, err := p.planStatement(ctx, pc, n.Then)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}
	var elseNode plan.Node
	if n.Else != nil {
		var elseVerdict SafetyVerdict
		var elseMsg string
		var elseSchema sql.Schema
		elseNode, elseSchema, elseVerdict, elseMsg, err = p.planStatement(ctx, pc, n.Else)
		if err != nil {
			return nil, nil, SafetyOK, "", err
		}
		if schema == nil {
			schema = elseSchema
		}
		verdict, msg = combineSafety(verdict, msg, elseVerdict, elseMsg)
	}
	return plan.NewIfElse(cond, thenNode, elseNode), schema, verdict, msg, nil
}

// planBlock plans a BEGIN/END sequence, folding every statement's safety
// verdict into the block's worst one.
func (p *Planner) planBlock(ctx *sql.Context, pc *planCtx, n *ast.Block) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	return p.planStatementSequence(ctx, pc, n.Statements)
}

// planScript plans a top-level batch the same way planBlock plans
// BEGIN/END: both are just an ordered list of statements run in sequence.
func (p *Planner) planScript(ctx *sql.Context, pc *planCtx, n *ast.Script) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	return p.planStatementSequence(ctx, pc, n.Statements)
}

func (p *Planner) planStatementSequence(ctx *sql.Context, pc *planCtx, stmts []ast.Statement) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	nodes := make([]plan.Node, len(stmts))
	var schema sql.Schema
	verdict := SafetyOK
	msg := ""
	for i, stmt := range stmts {
		node, sc, v, m, err := p.planStatement(ctx, pc, stmt)
		if err != nil {
			return nil, nil, SafetyOK, "", err
		}
		nodes[i] = node
		if sc != nil {
			schema = sc
		}
		verdict, msg = combineSafety(verdict, msg, v, m)
	}
	return plan.NewScript(nodes...), schema, verdict, msg, nil
}

// planWhile plans a WHILE loop; its safety verdict is its body's, since a
// write guarded behind a loop condition is no less dangerous than one
// that isn't.
func (p *Planner) planWhile(ctx *sql.Context, pc *planCtx, n *ast.While) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	cond, err := p.scriptCompiler(pc).CompileCondition(n.Condition)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}
	body, _, verdict, msg, err := p.planStatement(ctx, pc, n.Body)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}
	return plan.NewWhile(cond, body, 0), nil, verdict, msg, nil
}

// planDeclareVar plans DECLARE @x TYPE [= expr]. With no initializer the
// variable starts out NULL, matching T-SQL's default.
func (p *Planner) planDeclareVar(ctx *sql.Context, pc *planCtx, n *ast.DeclareVar) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	if n.Init == nil {
		nullExpr := func(ctx *sql.Context, row sql.Row) (sql.Value, error) { return sql.NewNull(), nil }
		return plan.NewSetVariable(n.Name, nullExpr), nil, SafetyOK, "", nil
	}
	expr, err := p.scriptCompiler(pc).Compile(n.Init)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}
	return plan.NewSetVariable(n.Name, expr), nil, SafetyOK, "", nil
}

// planSetVar plans SET @x = expr.
func (p *Planner) planSetVar(ctx *sql.Context, pc *planCtx, n *ast.SetVar) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	expr, err := p.scriptCompiler(pc).Compile(n.Value)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}
	return plan.NewSetVariable(n.Name, expr), nil, SafetyOK, "", nil
}

// planRaiseError plans RAISERROR(msg, severity, state). Severity and
// state are optional in the grammar; a nil expression.Expr is never
// evaluated since plan.RaiseError only reads Message.
func (p *Planner) planRaiseError(ctx *sql.Context, pc *planCtx, n *ast.RaiseError) (plan.Node, sql.Schema, SafetyVerdict, string, error) {
	cc := p.scriptCompiler(pc)
	msgExpr, err := cc.Compile(n.Message)
	if err != nil {
		return nil, nil, SafetyOK, "", err
	}
	var sevExpr, stateExpr expression.Expr
	if n.Severity != nil {
		if sevExpr, err = cc.Compile(n.Severity); err != nil {
			return nil, nil, SafetyOK, "", err
		}
	}
	if n.State != nil {
		if stateExpr, err = cc.Compile(n.State); err != nil {
			return nil, nil, SafetyOK, "", err
		}
	}
	return plan.NewRaiseError(msgExpr, sevExpr, stateExpr), nil, SafetyOK, "", nil
}
