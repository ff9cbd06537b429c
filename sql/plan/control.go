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
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
)

// errBreak and errContinue are sentinel errors a Break/Continue node
// raises when pulled; While catches them to implement loop control
var (
	errBreak    = sql.ErrInternal.New("break outside a loop")
	errContinue = sql.ErrInternal.New("continue outside a loop")
)

// Break terminates the nearest enclosing While.
type Break struct{}

func (Break) Schema() sql.Schema  { return nil }
func (Break) Children() []Node    { return nil }
func (Break) Description() string { return "Break" }
func (Break) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	return nil, errBreak
}

// Continue skips to the next iteration of the nearest enclosing While.
type Continue struct{}

func (Continue) Schema() sql.Schema  { return nil }
func (Continue) Children() []Node    { return nil }
func (Continue) Description() string { return "Continue" }
func (Continue) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	return nil, errContinue
}

// Script runs a sequence of statements in order, draining every statement
// but the last for its side effects (DML, SET, DECLARE) and returning the
// last statement's row iterator as the batch's result set, mirroring how
// a T-SQL batch yields the final SELECT's rows.
type Script struct {
	Statements []Node
}

func NewScript(statements ...Node) *Script { return &Script{Statements: statements} }

func (n *Script) Schema() sql.Schema {
	if len(n.Statements) == 0 {
		return nil
	}
	return n.Statements[len(n.Statements)-1].Schema()
}

func (n *Script) Children() []Node    { return n.Statements }
func (n *Script) Description() string { return "Script" }

func (n *Script) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	if len(n.Statements) == 0 {
		return timed("Script", sql.NewSliceIter(nil)), nil
	}
	for _, stmt := range n.Statements[:len(n.Statements)-1] {
		if err := drain(ctx, stmt, row); err != nil {
			return nil, err
		}
	}
	last := n.Statements[len(n.Statements)-1]
	iter, err := last.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	return timed("Script", iter), nil
}

// drain fully executes stmt for its side effects, discarding any rows it
// produces.
func drain(ctx *sql.Context, stmt Node, row sql.Row) error {
	iter, err := stmt.Execute(ctx, row)
	if err != nil {
		return err
	}
	_, err = sql.RowIterToRows(ctx, iter)
	return err
}

// IfElse evaluates Cond once and executes Then or Else accordingly
type IfElse struct {
	Cond expression.Cond
	Then Node
	Else Node // nil if there is no ELSE branch
}

func NewIfElse(cond expression.Cond, then, els Node) *IfElse {
	return &IfElse{Cond: cond, Then: then, Else: els}
}

func (n *IfElse) Schema() sql.Schema {
	if n.Then != nil {
		return n.Then.Schema()
	}
	return nil
}

func (n *IfElse) Children() []Node {
	if n.Else != nil {
		return []Node{n.Then, n.Else}
	}
	return []Node{n.Then}
}

func (n *IfElse) Description() string { return "IfElse" }

func (n *IfElse) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	t, err := n.Cond(ctx, row)
	if err != nil {
		return nil, err
	}
	var branch Node
	switch {
	case t == expression.True:
		branch = n.Then
	case n.Else != nil:
		branch = n.Else
	default:
		return timed("IfElse", sql.NewSliceIter(nil)), nil
	}
	iter, err := branch.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	return timed("IfElse", iter), nil
}

// While repeatedly evaluates Cond and drains Body until Cond is no longer
// True, a Break is raised, or MaxIterations is reached.
type While struct {
	Cond          expression.Cond
	Body          Node
	MaxIterations int
}

func NewWhile(cond expression.Cond, body Node, maxIterations int) *While {
	if maxIterations <= 0 {
		maxIterations = 100000
	}
	return &While{Cond: cond, Body: body, MaxIterations: maxIterations}
}

func (n *While) Schema() sql.Schema  { return nil }
func (n *While) Children() []Node    { return []Node{n.Body} }
func (n *While) Description() string { return "While" }

func (n *While) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	for i := 0; i < n.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := n.Cond(ctx, row)
		if err != nil {
			return nil, err
		}
		if t != expression.True {
			break
		}
		if err := drain(ctx, n.Body, row); err != nil {
			if err == errBreak {
				break
			}
			if err == errContinue {
				continue
			}
			return nil, err
		}
	}
	return timed("While", sql.NewSliceIter(nil)), nil
}
