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
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
)

// JoinType mirrors T-SQL join kinds.
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinRight
	JoinFull
	// JoinCrossApply and JoinOuterApply execute Right with the outer Left
	// row bound as the correlated parameter.
	JoinCrossApply
	JoinOuterApply
)

func combineRows(left, right sql.Row, rightSchema sql.Schema) sql.Row {
	schema := append(append(sql.Schema{}, left.Schema...), rightSchema...)
	values := append(append([]sql.Value{}, left.Values...), right.Values...)
	return sql.NewRow(left.Entity, schema, values)
}

func nullRow(schema sql.Schema) sql.Row {
	values := make([]sql.Value, len(schema))
	for i := range values {
		values[i] = sql.NewNull()
	}
	return sql.Row{Schema: schema, Values: values}
}

// HashJoin builds an in-memory hash table over the build side keyed by
// Value.Canonical, then probes it with the stream side. Used for
// equi-joins over already-materialized inputs.
type HashJoin struct {
	Left, Right         Node
	Type                JoinType
	LeftKey, RightKey   expression.Expr
	Cond                expression.Cond // optional residual predicate, nil if the equi-key is the whole join condition
	CaseInsensitiveKeys bool
}

func NewHashJoin(left, right Node, typ JoinType, leftKey, rightKey expression.Expr, cond expression.Cond) *HashJoin {
	return &HashJoin{Left: left, Right: right, Type: typ, LeftKey: leftKey, RightKey: rightKey, Cond: cond}
}

func (n *HashJoin) Schema() sql.Schema {
	return append(append(sql.Schema{}, n.Left.Schema()...), n.Right.Schema()...)
}

func (n *HashJoin) Children() []Node    { return []Node{n.Left, n.Right} }
func (n *HashJoin) Description() string { return "HashJoin" }

func (n *HashJoin) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	rightIter, err := n.Right.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	table := make(map[string][]sql.Row)
	var rightOrder []sql.Row
	for {
		r, err := rightIter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			rightIter.Close(ctx)
			return nil, err
		}
		k, err := n.RightKey(ctx, r)
		if err != nil {
			rightIter.Close(ctx)
			return nil, err
		}
		key := k.Canonical(n.CaseInsensitiveKeys)
		table[key] = append(table[key], r)
		rightOrder = append(rightOrder, r)
	}
	if err := rightIter.Close(ctx); err != nil {
		return nil, err
	}

	leftIter, err := n.Left.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	it := &hashJoinIter{
		node: n, left: leftIter, table: table, rightSchema: n.Right.Schema(),
	}
	if n.Type == JoinRight || n.Type == JoinFull {
		it.rightRows = rightOrder
		it.rightMatched = make([]bool, len(rightOrder))
	}
	return timed("HashJoin", it), nil
}

// hashJoinIter probes the build-side table once per Left row. For
// Right/Full joins it additionally tracks which build-side rows were
// matched by any probe, so it can emit the unmatched ones (paired with a
// null Left row) once the Left side is exhausted.
type hashJoinIter struct {
	node        *HashJoin
	left        sql.RowIter
	table       map[string][]sql.Row
	rightSchema sql.Schema

	matches []sql.Row
	matchAt int
	cur     sql.Row

	// rightRows/rightMatched back the Right/Full unmatched pass: every
	// right-side row probed by any left row is marked, and whatever's left
	// unmarked after Left is exhausted gets emitted against a null Left row.
	rightRows    []sql.Row
	rightMatched []bool
	leftDone     bool
	unmatchedAt  int
}

func (it *hashJoinIter) markMatched(r sql.Row) {
	if it.rightMatched == nil {
		return
	}
	for i, rr := range it.rightRows {
		if !it.rightMatched[i] && rowIdentical(rr, r) {
			it.rightMatched[i] = true
			return
		}
	}
}

func rowIdentical(a, b sql.Row) bool {
	if len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if a.Values[i].Canonical(false) != b.Values[i].Canonical(false) {
			return false
		}
	}
	return true
}

func (it *hashJoinIter) Next(ctx *sql.Context) (sql.Row, error) {
	for {
		if it.matchAt < len(it.matches) {
			r := it.matches[it.matchAt]
			it.matchAt++
			combined := combineRows(it.cur, r, it.rightSchema)
			if it.node.Cond != nil {
				t, err := it.node.Cond(ctx, combined)
				if err != nil {
					return sql.Row{}, err
				}
				if t != expression.True {
					continue
				}
			}
			it.markMatched(r)
			return combined, nil
		}
		if it.leftDone {
			if it.rightMatched == nil {
				return sql.Row{}, io.EOF
			}
			for it.unmatchedAt < len(it.rightRows) {
				idx := it.unmatchedAt
				it.unmatchedAt++
				if !it.rightMatched[idx] {
					return combineRows(nullRow(it.node.Left.Schema()), it.rightRows[idx], it.rightSchema), nil
				}
			}
			return sql.Row{}, io.EOF
		}
		left, err := it.left.Next(ctx)
		if err == io.EOF {
			it.leftDone = true
			continue
		}
		if err != nil {
			return sql.Row{}, err
		}
		k, err := it.node.LeftKey(ctx, left)
		if err != nil {
			return sql.Row{}, err
		}
		key := k.Canonical(it.node.CaseInsensitiveKeys)
		it.matches = it.table[key]
		it.matchAt = 0
		it.cur = left
		if len(it.matches) == 0 {
			if it.node.Type == JoinLeft || it.node.Type == JoinFull {
				return combineRows(left, nullRow(it.rightSchema), it.rightSchema), nil
			}
			continue
		}
	}
}

func (it *hashJoinIter) Close(ctx *sql.Context) error { return it.left.Close(ctx) }

// MergeJoin walks two inputs already sorted on the join key in lockstep.
// Both children must produce rows ordered ascending by their respective
// key.
type MergeJoin struct {
	Left, Right       Node
	Type              JoinType
	LeftKey, RightKey expression.Expr
}

func NewMergeJoin(left, right Node, typ JoinType, leftKey, rightKey expression.Expr) *MergeJoin {
	return &MergeJoin{Left: left, Right: right, Type: typ, LeftKey: leftKey, RightKey: rightKey}
}

func (n *MergeJoin) Schema() sql.Schema {
	return append(append(sql.Schema{}, n.Left.Schema()...), n.Right.Schema()...)
}

func (n *MergeJoin) Children() []Node    { return []Node{n.Left, n.Right} }
func (n *MergeJoin) Description() string { return "MergeJoin" }

func (n *MergeJoin) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	left, err := n.Left.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	right, err := n.Right.Execute(ctx, row)
	if err != nil {
		left.Close(ctx)
		return nil, err
	}
	return timed("MergeJoin", &mergeJoinIter{node: n, left: left, right: right, rightSchema: n.Right.Schema()}), nil
}

type mergeJoinIter struct {
	node        *MergeJoin
	left, right sql.RowIter
	rightSchema sql.Schema

	leftRow, rightRow sql.Row
	leftOk, rightOk   bool
	started           bool

	// groupValid/rightGroup back duplicate-key handling: all right rows
	// sharing a key are buffered once and replayed against every left row
	// that shares the same key, rather than re-consumed from Right.
	groupValid bool
	groupKey   string
	rightGroup []sql.Row
	groupAt    int
}

func (it *mergeJoinIter) advanceLeft(ctx *sql.Context) error {
	r, err := it.left.Next(ctx)
	if err == io.EOF {
		it.leftOk = false
		return nil
	}
	if err != nil {
		return err
	}
	it.leftRow = r
	it.leftOk = true
	return nil
}

func (it *mergeJoinIter) advanceRight(ctx *sql.Context) error {
	r, err := it.right.Next(ctx)
	if err == io.EOF {
		it.rightOk = false
		return nil
	}
	if err != nil {
		return err
	}
	it.rightRow = r
	it.rightOk = true
	return nil
}

func (it *mergeJoinIter) Next(ctx *sql.Context) (sql.Row, error) {
	if !it.started {
		it.started = true
		if err := it.advanceLeft(ctx); err != nil {
			return sql.Row{}, err
		}
		if err := it.advanceRight(ctx); err != nil {
			return sql.Row{}, err
		}
	}
	for {
		if it.groupValid && it.groupAt < len(it.rightGroup) {
			r := it.rightGroup[it.groupAt]
			it.groupAt++
			return combineRows(it.leftRow, r, it.rightSchema), nil
		}
		if it.groupValid {
			// Finished replaying the buffered group against the current left
			// row. If the next left row shares the same key, replay again;
			// otherwise drop the group and fall through to normal comparison.
			if err := it.advanceLeft(ctx); err != nil {
				return sql.Row{}, err
			}
			if it.leftOk {
				lk, err := it.node.LeftKey(ctx, it.leftRow)
				if err != nil {
					return sql.Row{}, err
				}
				if lk.Canonical(false) == it.groupKey {
					it.groupAt = 0
					continue
				}
			}
			it.groupValid = false
			it.groupAt = 0
			it.rightGroup = nil
		}

		if !it.leftOk {
			if it.rightOk && (it.node.Type == JoinRight || it.node.Type == JoinFull) {
				row := combineRows(nullRow(it.node.Left.Schema()), it.rightRow, it.rightSchema)
				if err := it.advanceRight(ctx); err != nil {
					return sql.Row{}, err
				}
				return row, nil
			}
			return sql.Row{}, io.EOF
		}
		if !it.rightOk {
			if it.node.Type == JoinLeft || it.node.Type == JoinFull {
				row := combineRows(it.leftRow, nullRow(it.rightSchema), it.rightSchema)
				if err := it.advanceLeft(ctx); err != nil {
					return sql.Row{}, err
				}
				return row, nil
			}
			return sql.Row{}, io.EOF
		}
		lk, err := it.node.LeftKey(ctx, it.leftRow)
		if err != nil {
			return sql.Row{}, err
		}
		rk, err := it.node.RightKey(ctx, it.rightRow)
		if err != nil {
			return sql.Row{}, err
		}
		cmp, err := compareJoinKeys(lk, rk)
		if err != nil {
			return sql.Row{}, err
		}
		switch {
		case cmp < 0:
			row := combineRows(it.leftRow, nullRow(it.rightSchema), it.rightSchema)
			emit := it.node.Type == JoinLeft || it.node.Type == JoinFull
			if err := it.advanceLeft(ctx); err != nil {
				return sql.Row{}, err
			}
			if emit {
				return row, nil
			}
		case cmp > 0:
			row := combineRows(nullRow(it.node.Left.Schema()), it.rightRow, it.rightSchema)
			emit := it.node.Type == JoinRight || it.node.Type == JoinFull
			if err := it.advanceRight(ctx); err != nil {
				return sql.Row{}, err
			}
			if emit {
				return row, nil
			}
		default:
			it.groupKey = rk.Canonical(false)
			it.rightGroup = it.rightGroup[:0]
			for it.rightOk {
				k, err := it.node.RightKey(ctx, it.rightRow)
				if err != nil {
					return sql.Row{}, err
				}
				if k.Canonical(false) != it.groupKey {
					break
				}
				it.rightGroup = append(it.rightGroup, it.rightRow)
				if err := it.advanceRight(ctx); err != nil {
					return sql.Row{}, err
				}
			}
			it.groupValid = true
			it.groupAt = 0
		}
	}
}

func compareJoinKeys(a, b sql.Value) (int, error) {
	ca, cb := a.Canonical(false), b.Canonical(false)
	return strings.Compare(ca, cb), nil
}

func (it *mergeJoinIter) Close(ctx *sql.Context) error {
	err1 := it.left.Close(ctx)
	err2 := it.right.Close(ctx)
	if err1 != nil {
		return err1
	}
	return err2
}

// NestedLoopJoin probes Right once per Left row, binding Left's row as
// the correlated outer row so Right (typically a FetchXmlScan whose
// FetchXML references the outer row's values) can resolve correlated
// parameters. This is also how CROSS APPLY / OUTER APPLY execute
type NestedLoopJoin struct {
	Left, Right Node
	Type        JoinType
	Cond        expression.Cond // nil for CROSS/OUTER APPLY, which have no join predicate beyond correlation
}

func NewNestedLoopJoin(left, right Node, typ JoinType, cond expression.Cond) *NestedLoopJoin {
	return &NestedLoopJoin{Left: left, Right: right, Type: typ, Cond: cond}
}

func (n *NestedLoopJoin) Schema() sql.Schema {
	return append(append(sql.Schema{}, n.Left.Schema()...), n.Right.Schema()...)
}

func (n *NestedLoopJoin) Children() []Node    { return []Node{n.Left, n.Right} }
func (n *NestedLoopJoin) Description() string { return "NestedLoopJoin" }

func (n *NestedLoopJoin) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	left, err := n.Left.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	return timed("NestedLoopJoin", &nestedLoopIter{
		node: n, left: left, outerRow: row, rightSchema: n.Right.Schema(), ctx: ctx,
	}), nil
}

type nestedLoopIter struct {
	node        *NestedLoopJoin
	left        sql.RowIter
	outerRow    sql.Row
	rightSchema sql.Schema
	ctx         *sql.Context

	cur        sql.Row
	curRight   sql.RowIter
	matched    bool
	haveCur    bool
}

func (it *nestedLoopIter) Next(ctx *sql.Context) (sql.Row, error) {
	for {
		if it.haveCur {
			r, err := it.curRight.Next(ctx)
			if err == io.EOF {
				unmatchedLeft := !it.matched && (it.node.Type == JoinLeft || it.node.Type == JoinOuterApply)
				it.curRight.Close(ctx)
				it.haveCur = false
				if unmatchedLeft {
					return combineRows(it.cur, nullRow(it.rightSchema), it.rightSchema), nil
				}
				continue
			}
			if err != nil {
				return sql.Row{}, err
			}
			combined := combineRows(it.cur, r, it.rightSchema)
			if it.node.Cond != nil {
				t, err := it.node.Cond(ctx, combined)
				if err != nil {
					return sql.Row{}, err
				}
				if t != expression.True {
					continue
				}
			}
			it.matched = true
			return combined, nil
		}
		left, err := it.left.Next(ctx)
		if err == io.EOF {
			return sql.Row{}, io.EOF
		}
		if err != nil {
			return sql.Row{}, err
		}
		right, err := it.node.Right.Execute(ctx, left)
		if err != nil {
			return sql.Row{}, err
		}
		it.cur = left
		it.curRight = right
		it.matched = false
		it.haveCur = true
	}
}

func (it *nestedLoopIter) Close(ctx *sql.Context) error {
	if it.haveCur && it.curRight != nil {
		it.curRight.Close(ctx)
	}
	return it.left.Close(ctx)
}
