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
	"io"
	"math"
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
)

// AggFunc is one of the recognized aggregate functions.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggCountBig
	AggCountStar
	AggSum
	AggAvg
	AggMin
	AggMax
	AggStdev
	AggStdevp
	AggVar
	AggVarp
)

// AggregateSpec is one computed output column of an aggregate node: a
// function applied to a compiled argument expression (nil for COUNT(*)).
type AggregateSpec struct {
	Output   *sql.Column
	Func     AggFunc
	Arg      expression.Expr
	Distinct bool
}

// GroupKey is one GROUP BY key column.
type GroupKey struct {
	Output *sql.Column
	Expr   expression.Expr
}

// aggAccumulator folds one aggregate's running state across a group's rows.
type aggAccumulator struct {
	spec  AggregateSpec
	count int64
	sum   float64
	min   sql.Value
	haveM bool
	// Welford's online algorithm for STDEV/VAR, grounded on the need to
	// compute variance in one pass without buffering every value.
	mean, m2 float64
	seen     map[string]struct{} // DISTINCT dedup key set
}

func newAggAccumulator(spec AggregateSpec) *aggAccumulator {
	a := &aggAccumulator{spec: spec}
	if spec.Distinct {
		a.seen = make(map[string]struct{})
	}
	return a
}

func (a *aggAccumulator) add(ctx *sql.Context, row sql.Row) error {
	if a.spec.Func == AggCountStar {
		a.count++
		return nil
	}
	v, err := a.spec.Arg(ctx, row)
	if err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}
	if a.seen != nil {
		key := v.Canonical(false)
		if _, ok := a.seen[key]; ok {
			return nil
		}
		a.seen[key] = struct{}{}
	}
	a.count++
	switch a.spec.Func {
	case AggSum, AggAvg, AggStdev, AggStdevp, AggVar, AggVarp:
		f, err := v.Float64()
		if err != nil {
			return err
		}
		a.sum += f
		delta := f - a.mean
		a.mean += delta / float64(a.count)
		a.m2 += delta * (f - a.mean)
	case AggMin:
		if !a.haveM {
			a.min, a.haveM = v, true
		} else if cmp, err := compareJoinKeys(v, a.min); err == nil && cmp < 0 {
			a.min = v
		}
	case AggMax:
		if !a.haveM {
			a.min, a.haveM = v, true
		} else if cmp, err := compareJoinKeys(v, a.min); err == nil && cmp > 0 {
			a.min = v
		}
	}
	return nil
}

func (a *aggAccumulator) result() sql.Value {
	switch a.spec.Func {
	case AggCount, AggCountStar:
		return sql.NewInt(a.count)
	case AggCountBig:
		return sql.NewInt(a.count)
	case AggSum:
		if a.count == 0 {
			return sql.NewNull()
		}
		return sql.NewFloat(a.sum)
	case AggAvg:
		if a.count == 0 {
			return sql.NewNull()
		}
		return sql.NewFloat(a.sum / float64(a.count))
	case AggMin, AggMax:
		if !a.haveM {
			return sql.NewNull()
		}
		return a.min
	case AggVar:
		if a.count < 2 {
			return sql.NewNull()
		}
		return sql.NewFloat(a.m2 / float64(a.count-1))
	case AggVarp:
		if a.count == 0 {
			return sql.NewNull()
		}
		return sql.NewFloat(a.m2 / float64(a.count))
	case AggStdev:
		if a.count < 2 {
			return sql.NewNull()
		}
		return sql.NewFloat(math.Sqrt(a.m2 / float64(a.count-1)))
	case AggStdevp:
		if a.count == 0 {
			return sql.NewNull()
		}
		return sql.NewFloat(math.Sqrt(a.m2 / float64(a.count)))
	default:
		return sql.NewNull()
	}
}

func groupKeyString(ctx *sql.Context, keys []GroupKey, row sql.Row) (string, []sql.Value, error) {
	vals := make([]sql.Value, len(keys))
	var sb strings.Builder
	for i, k := range keys {
		v, err := k.Expr(ctx, row)
		if err != nil {
			return "", nil, err
		}
		vals[i] = v
		sb.WriteString(v.Canonical(false))
		sb.WriteByte(0)
	}
	return sb.String(), vals, nil
}

func aggSchema(keys []GroupKey, aggs []AggregateSpec) sql.Schema {
	s := make(sql.Schema, 0, len(keys)+len(aggs))
	for _, k := range keys {
		s = append(s, k.Output)
	}
	for _, a := range aggs {
		s = append(s, a.Output)
	}
	return s
}

// ClientAggregate computes GROUP BY aggregates by fully materializing the
// child and grouping in memory.
type ClientAggregate struct {
	Child Node
	Keys  []GroupKey
	Aggs  []AggregateSpec
}

func NewClientAggregate(child Node, keys []GroupKey, aggs []AggregateSpec) *ClientAggregate {
	return &ClientAggregate{Child: child, Keys: keys, Aggs: aggs}
}

func (n *ClientAggregate) Schema() sql.Schema  { return aggSchema(n.Keys, n.Aggs) }
func (n *ClientAggregate) Children() []Node    { return []Node{n.Child} }
func (n *ClientAggregate) Description() string { return "ClientAggregate" }

func (n *ClientAggregate) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	child, err := n.Child.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	defer child.Close(ctx)

	order := make([]string, 0)
	groups := make(map[string][]sql.Value)
	accs := make(map[string][]*aggAccumulator)

	for {
		r, err := child.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		key, vals, err := groupKeyString(ctx, n.Keys, r)
		if err != nil {
			return nil, err
		}
		if _, ok := groups[key]; !ok {
			groups[key] = vals
			order = append(order, key)
			accList := make([]*aggAccumulator, len(n.Aggs))
			for i, spec := range n.Aggs {
				accList[i] = newAggAccumulator(spec)
			}
			accs[key] = accList
		}
		for _, a := range accs[key] {
			if err := a.add(ctx, r); err != nil {
				return nil, err
			}
		}
	}

	schema := n.Schema()
	rows := make([]sql.Row, 0, len(order))
	for _, key := range order {
		keyVals := groups[key]
		values := make([]sql.Value, 0, len(keyVals)+len(n.Aggs))
		values = append(values, keyVals...)
		for _, a := range accs[key] {
			values = append(values, a.result())
		}
		rows = append(rows, sql.NewRow("", schema, values))
	}
	return timed("ClientAggregate", sql.NewSliceIter(rows)), nil
}

// MergeAggregate streams groups from a child whose rows already arrive
// sorted on the GROUP BY key (e.g. FetchXML with a matching order clause),
// emitting each group's result as soon as the key changes instead of
// buffering the whole input.
type MergeAggregate struct {
	Child Node
	Keys  []GroupKey
	Aggs  []AggregateSpec
}

func NewMergeAggregate(child Node, keys []GroupKey, aggs []AggregateSpec) *MergeAggregate {
	return &MergeAggregate{Child: child, Keys: keys, Aggs: aggs}
}

func (n *MergeAggregate) Schema() sql.Schema  { return aggSchema(n.Keys, n.Aggs) }
func (n *MergeAggregate) Children() []Node    { return []Node{n.Child} }
func (n *MergeAggregate) Description() string { return "MergeAggregate" }

func (n *MergeAggregate) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	child, err := n.Child.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	return timed("MergeAggregate", &mergeAggIter{node: n, child: child, schema: n.Schema()}), nil
}

type mergeAggIter struct {
	node   *MergeAggregate
	child  sql.RowIter
	schema sql.Schema

	curKey  string
	curVals []sql.Value
	accs    []*aggAccumulator
	have    bool
	done    bool
}

func (it *mergeAggIter) newAccs() []*aggAccumulator {
	accs := make([]*aggAccumulator, len(it.node.Aggs))
	for i, spec := range it.node.Aggs {
		accs[i] = newAggAccumulator(spec)
	}
	return accs
}

func (it *mergeAggIter) emit() sql.Row {
	values := make([]sql.Value, 0, len(it.curVals)+len(it.accs))
	values = append(values, it.curVals...)
	for _, a := range it.accs {
		values = append(values, a.result())
	}
	return sql.NewRow("", it.schema, values)
}

func (it *mergeAggIter) Next(ctx *sql.Context) (sql.Row, error) {
	if it.done {
		return sql.Row{}, io.EOF
	}
	for {
		r, err := it.child.Next(ctx)
		if err == io.EOF {
			if !it.have {
				it.done = true
				return sql.Row{}, io.EOF
			}
			it.done = true
			return it.emit(), nil
		}
		if err != nil {
			return sql.Row{}, err
		}
		key, vals, err := groupKeyString(ctx, it.node.Keys, r)
		if err != nil {
			return sql.Row{}, err
		}
		if !it.have {
			it.curKey, it.curVals, it.accs, it.have = key, vals, it.newAccs(), true
		} else if key != it.curKey {
			out := it.emit()
			it.curKey, it.curVals, it.accs = key, vals, it.newAccs()
			for _, a := range it.accs {
				if err := a.add(ctx, r); err != nil {
					return sql.Row{}, err
				}
			}
			return out, nil
		}
		for _, a := range it.accs {
			if err := a.add(ctx, r); err != nil {
				return sql.Row{}, err
			}
		}
	}
}

func (it *mergeAggIter) Close(ctx *sql.Context) error { return it.child.Close(ctx) }
