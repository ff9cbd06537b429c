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
	"io"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/ast"
)

// subqueryRunner implements expression.SubqueryRunner by re-entering the
// planner for a WHERE-clause scalar/EXISTS/IN subquery, correlated against
// whatever row the enclosing expression was evaluating when it hit the
// subquery. It holds the planning
// context it was built under so a subquery nested inside another query in
// the same statement still sees that statement's CTEs in scope.
type subqueryRunner struct {
	p  *Planner
	pc *planCtx
}

func (r *subqueryRunner) RunScalar(ctx *sql.Context, sel *ast.Select, outer sql.Row) (sql.Value, error) {
	cs, err := r.p.buildCorrelatedSelect(ctx, r.pc, sel, outer.Schema)
	if err != nil {
		return sql.Value{}, err
	}
	iter, err := cs.Execute(ctx, outer)
	if err != nil {
		return sql.Value{}, err
	}
	defer iter.Close(ctx)
	row, err := iter.Next(ctx)
	if err == io.EOF {
		return sql.NewNull(), nil
	}
	if err != nil {
		return sql.Value{}, err
	}
	if len(row.Values) == 0 {
		return sql.NewNull(), nil
	}
	return row.Values[0], nil
}

func (r *subqueryRunner) RunExists(ctx *sql.Context, sel *ast.Select, outer sql.Row) (bool, error) {
	cs, err := r.p.buildCorrelatedSelect(ctx, r.pc, sel, outer.Schema)
	if err != nil {
		return false, err
	}
	iter, err := cs.Execute(ctx, outer)
	if err != nil {
		return false, err
	}
	defer iter.Close(ctx)
	_, err = iter.Next(ctx)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *subqueryRunner) RunIn(ctx *sql.Context, sel *ast.Select, outer sql.Row) ([]sql.Value, error) {
	cs, err := r.p.buildCorrelatedSelect(ctx, r.pc, sel, outer.Schema)
	if err != nil {
		return nil, err
	}
	iter, err := cs.Execute(ctx, outer)
	if err != nil {
		return nil, err
	}
	defer iter.Close(ctx)
	var out []sql.Value
	for {
		row, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row.Values) > 0 {
			out = append(out, row.Values[0])
		}
	}
	return out, nil
}
