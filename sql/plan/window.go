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
	"sort"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/expression"
)

// WindowFunc is one of the recognized OVER() window functions.
type WindowFunc int

const (
	WinRowNumber WindowFunc = iota
	WinRank
	WinDenseRank
	WinSum
	WinAvg
	WinCount
	WinMin
	WinMax
)

// WindowSpec describes one window function output column: PARTITION BY
// keys, ORDER BY keys, and the aggregated/ranking
// function to compute over each partition.
type WindowSpec struct {
	Output   *sql.Column
	Func     WindowFunc
	Arg      expression.Expr // nil for ROW_NUMBER/RANK/DENSE_RANK/COUNT(*)
	Partition []expression.Expr
	Order    []expression.Expr
}

// ClientWindow materializes its child (window functions need the whole
// partition to compute ranks and running aggregates) and annotates every
// row with one value per WindowSpec, leaving the original columns intact
// (the window-function path is always client-side, since FetchXML
// has no OVER() pushdown).
type ClientWindow struct {
	Child Node
	Specs []WindowSpec
}

func NewClientWindow(child Node, specs []WindowSpec) *ClientWindow {
	return &ClientWindow{Child: child, Specs: specs}
}

func (n *ClientWindow) Schema() sql.Schema {
	s := append(sql.Schema{}, n.Child.Schema()...)
	for _, w := range n.Specs {
		s = append(s, w.Output)
	}
	return s
}

func (n *ClientWindow) Children() []Node    { return []Node{n.Child} }
func (n *ClientWindow) Description() string { return "ClientWindow" }

func (n *ClientWindow) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	child, err := n.Child.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	rows, err := sql.RowIterToRows(ctx, child)
	if err != nil {
		return nil, err
	}

	schema := n.Schema()
	extra := make([][]sql.Value, len(rows))
	for i := range extra {
		extra[i] = make([]sql.Value, len(n.Specs))
	}

	for specIdx, w := range n.Specs {
		if err := computeWindow(ctx, w, rows, extra, specIdx); err != nil {
			return nil, err
		}
	}

	out := make([]sql.Row, len(rows))
	for i, r := range rows {
		values := append(append([]sql.Value{}, r.Values...), extra[i]...)
		out[i] = sql.NewRow(r.Entity, schema, values)
	}
	return timed("ClientWindow", sql.NewSliceIter(out)), nil
}

func computeWindow(ctx *sql.Context, w WindowSpec, rows []sql.Row, extra [][]sql.Value, specIdx int) error {
	partitions := make(map[string][]int)
	var order []string
	for i, r := range rows {
		key, err := windowKeyString(ctx, w.Partition, r)
		if err != nil {
			return err
		}
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], i)
	}

	for _, key := range order {
		idxs := idxsCopy(partitions[key])
		if len(w.Order) > 0 {
			sortIdxsByOrder(ctx, w.Order, rows, idxs)
		}
		if err := applyWindowFunc(ctx, w, rows, idxs, extra, specIdx); err != nil {
			return err
		}
	}
	return nil
}

func idxsCopy(idxs []int) []int {
	out := make([]int, len(idxs))
	copy(out, idxs)
	return out
}

func windowKeyString(ctx *sql.Context, keys []expression.Expr, row sql.Row) (string, error) {
	var sb []byte
	for _, k := range keys {
		v, err := k(ctx, row)
		if err != nil {
			return "", err
		}
		sb = append(sb, []byte(v.Canonical(false))...)
		sb = append(sb, 0)
	}
	return string(sb), nil
}

func sortIdxsByOrder(ctx *sql.Context, order []expression.Expr, rows []sql.Row, idxs []int) {
	sort.SliceStable(idxs, func(a, b int) bool {
		ra, rb := rows[idxs[a]], rows[idxs[b]]
		for _, o := range order {
			va, errA := o(ctx, ra)
			vb, errB := o(ctx, rb)
			if errA != nil || errB != nil {
				return false
			}
			cmp, err := compareJoinKeys(va, vb)
			if err != nil {
				return false
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

func applyWindowFunc(ctx *sql.Context, w WindowSpec, rows []sql.Row, idxs []int, extra [][]sql.Value, specIdx int) error {
	switch w.Func {
	case WinRowNumber:
		for rank, idx := range idxs {
			extra[idx][specIdx] = sql.NewInt(int64(rank + 1))
		}
		return nil
	case WinRank, WinDenseRank:
		return applyRank(ctx, w, rows, idxs, extra, specIdx)
	default:
		return applyRunningAgg(ctx, w, rows, idxs, extra, specIdx)
	}
}

func applyRank(ctx *sql.Context, w WindowSpec, rows []sql.Row, idxs []int, extra [][]sql.Value, specIdx int) error {
	var prevKey string
	rank := 0
	denseRank := 0
	for i, idx := range idxs {
		key, err := windowKeyString(ctx, w.Order, rows[idx])
		if err != nil {
			return err
		}
		if i == 0 || key != prevKey {
			denseRank++
			rank = i + 1
			prevKey = key
		}
		if w.Func == WinDenseRank {
			extra[idx][specIdx] = sql.NewInt(int64(denseRank))
		} else {
			extra[idx][specIdx] = sql.NewInt(int64(rank))
		}
	}
	return nil
}

// applyRunningAgg computes the partition-wide aggregate once and stamps it
// onto every row in the partition.
func applyRunningAgg(ctx *sql.Context, w WindowSpec, rows []sql.Row, idxs []int, extra [][]sql.Value, specIdx int) error {
	var sum float64
	var count int64
	var minV, maxV sql.Value
	haveM := false
	for _, idx := range idxs {
		if w.Func == WinCount && w.Arg == nil {
			count++
			continue
		}
		v, err := w.Arg(ctx, rows[idx])
		if err != nil {
			return err
		}
		if v.IsNull() {
			continue
		}
		count++
		if w.Func == WinSum || w.Func == WinAvg {
			f, err := v.Float64()
			if err != nil {
				return err
			}
			sum += f
		}
		if w.Func == WinMin || w.Func == WinMax {
			if !haveM {
				minV, maxV, haveM = v, v, true
			} else {
				if cmp, err := compareJoinKeys(v, minV); err == nil && cmp < 0 {
					minV = v
				}
				if cmp, err := compareJoinKeys(v, maxV); err == nil && cmp > 0 {
					maxV = v
				}
			}
		}
	}
	var result sql.Value
	switch w.Func {
	case WinSum:
		result = sql.NewFloat(sum)
	case WinAvg:
		if count == 0 {
			result = sql.NewNull()
		} else {
			result = sql.NewFloat(sum / float64(count))
		}
	case WinCount:
		result = sql.NewInt(count)
	case WinMin:
		if !haveM {
			result = sql.NewNull()
		} else {
			result = minV
		}
	case WinMax:
		if !haveM {
			result = sql.NewNull()
		} else {
			result = maxV
		}
	default:
		result = sql.NewNull()
	}
	for _, idx := range idxs {
		extra[idx][specIdx] = result
	}
	return nil
}
