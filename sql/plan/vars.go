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

// SetVariable evaluates Value once and stores it in the Context's session
// variable table, the shared node behind DECLARE @x = ... and SET @x = ...
type SetVariable struct {
	Name  string
	Value expression.Expr
}

func NewSetVariable(name string, value expression.Expr) *SetVariable {
	return &SetVariable{Name: name, Value: value}
}

func (n *SetVariable) Schema() sql.Schema  { return nil }
func (n *SetVariable) Children() []Node    { return nil }
func (n *SetVariable) Description() string { return "SetVariable(" + n.Name + ")" }

func (n *SetVariable) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	v, err := n.Value(ctx, row)
	if err != nil {
		return nil, err
	}
	ctx.SetVariable(n.Name, v)
	return timed("SetVariable", sql.NewSliceIter(nil)), nil
}

// RaiseError evaluates its Message/Severity/State expressions and surfaces
// the result as a validation error, the closest match this engine's error
// model has for T-SQL's RAISERROR. Severity/State are carried
// for diagnostic purposes only; there is no notion of severity-based
// continuation here, the statement always fails.
type RaiseError struct {
	Message  expression.Expr
	Severity expression.Expr
	State    expression.Expr
}

func NewRaiseError(message, severity, state expression.Expr) *RaiseError {
	return &RaiseError{Message: message, Severity: severity, State: state}
}

func (n *RaiseError) Schema() sql.Schema  { return nil }
func (n *RaiseError) Children() []Node    { return nil }
func (n *RaiseError) Description() string { return "RaiseError" }

func (n *RaiseError) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	msg, err := n.Message(ctx, row)
	if err != nil {
		return nil, err
	}
	return nil, sql.ErrValidation.New(msg.String())
}
