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
	"fmt"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// DateRange is one slice of a split aggregate scan.
type DateRange struct {
	Start, End time.Time
}

// DateRangePartitioner splits a date-bounded aggregate query (one whose
// row count would otherwise exceed FetchXML's non-paged aggregate ceiling)
// into a list of disjoint date ranges for ParallelPartition to fan out
// across.
type DateRangePartitioner struct {
	Start, End time.Time
	Partitions int
}

func NewDateRangePartitioner(start, end time.Time, partitions int) *DateRangePartitioner {
	if partitions <= 0 {
		partitions = 1
	}
	return &DateRangePartitioner{Start: start, End: end, Partitions: partitions}
}

// Ranges computes Partitions equal-width, disjoint sub-ranges of
// [Start, End).
func (p *DateRangePartitioner) Ranges() []DateRange {
	total := p.End.Sub(p.Start)
	if total <= 0 {
		return []DateRange{{Start: p.Start, End: p.End}}
	}
	step := total / time.Duration(p.Partitions)
	ranges := make([]DateRange, 0, p.Partitions)
	cur := p.Start
	for i := 0; i < p.Partitions; i++ {
		next := cur.Add(step)
		if i == p.Partitions-1 || next.After(p.End) {
			next = p.End
		}
		ranges = append(ranges, DateRange{Start: cur, End: next})
		cur = next
	}
	return ranges
}

// ParallelPartition executes one child Node per partition concurrently,
// bounded by PlanOptions.MaxParallelism via golang.org/x/sync/errgroup's
// SetLimit, then concatenates results in partition order. Unlike Concatenate, which streams
// children in sequence, ParallelPartition drives all children at once and
// materializes, since a date-partitioned aggregate query's whole point is
// to bound each partition's row count, not to stream it.
type ParallelPartition struct {
	Partitions []Node
}

func NewParallelPartition(partitions ...Node) *ParallelPartition {
	return &ParallelPartition{Partitions: partitions}
}

func (n *ParallelPartition) Schema() sql.Schema {
	if len(n.Partitions) == 0 {
		return nil
	}
	return n.Partitions[0].Schema()
}

func (n *ParallelPartition) Children() []Node    { return n.Partitions }
func (n *ParallelPartition) Description() string { return fmt.Sprintf("ParallelPartition(n=%d)", len(n.Partitions)) }

func (n *ParallelPartition) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	maxParallelism := ctx.Options.MaxParallelism
	if maxParallelism <= 0 {
		maxParallelism = 8
	}

	results := make([][]sql.Row, len(n.Partitions))
	g, gctx := errgroup.WithContext(ctx.GoContext())
	g.SetLimit(maxParallelism)

	ctx.Progress.Phase(sql.PhasePartitioning)
	total := len(n.Partitions)
	for i, part := range n.Partitions {
		i, part := i, part
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			iter, err := part.Execute(ctx, row)
			if err != nil {
				return errors.Wrapf(err, "aggregate partition %d/%d", i+1, total)
			}
			rows, err := sql.RowIterToRows(ctx, iter)
			if err != nil {
				return errors.Wrapf(err, "aggregate partition %d/%d", i+1, total)
			}
			results[i] = rows
			ctx.Progress.PartitionComplete(i+1, total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, classifyPartitionError(err)
	}

	var all []sql.Row
	for _, r := range results {
		all = append(all, r...)
	}
	return timed("ParallelPartition", sql.NewSliceIter(all)), nil
}

// classifyPartitionError maps a partition's surfaced failure to
// QueryError.AggregateLimitExceeded when its root cause is itself an
// aggregate-limit failure (the most common reason one partition of an
// already-split aggregate scan can still fail), otherwise wraps it as an
// internal error. Partition goroutines hand their errors back wrapped
// with errors.Wrapf, so the classification digs to errors.Cause first.
// errgroup.Wait returns only the first goroutine's error, so by the time
// it reaches here any concurrent siblings' failures have already been
// discarded — there is exactly one error to classify.
func classifyPartitionError(err error) error {
	if sql.ErrAggregateLimitExceeded.Is(err) {
		return err
	}
	if cause := errors.Cause(err); sql.ErrAggregateLimitExceeded.Is(cause) {
		return cause
	}
	return sql.ErrInternal.New(err.Error())
}

// PartitionedAggregate combines the partial aggregate rows ParallelPartition
// produced across N date-range partitions into a single final row, per
// COUNT/SUM/COUNT_BIG sum across partitions, MIN/MAX take the
// overall extremum, and AVG is weighted by each partition's companion
// count rather than averaging the partition averages (naively averaging
// partition AVGs is wrong when partitions have unequal row counts).
// STDEV/STDEVP/VAR/VARP partials are not combined: combinePartials returns
// an internal error for them. This is distinct from MergeAggregate, which streams a single
// pre-sorted input's GROUP BY groups rather than combining partial results
// from parallel partitions.
type PartitionedAggregate struct {
	Child Node // typically a ParallelPartition over N per-partition aggregate subtrees
	Aggs  []PartialAggSpec
}

// PartialAggSpec describes how to combine one output column's per-partition
// partial results. CountCol names the companion COUNT column a partition's
// AVG/STDEV/VAR computation was weighted by (the planner injects one COUNT
// aggregate per partition subtree for this purpose); it is ignored for
// Func values that don't need a weight.
type PartialAggSpec struct {
	Output   *sql.Column
	Func     AggFunc
	ValueCol string
	CountCol string
}

func NewPartitionedAggregate(child Node, aggs []PartialAggSpec) *PartitionedAggregate {
	return &PartitionedAggregate{Child: child, Aggs: aggs}
}

func (n *PartitionedAggregate) Schema() sql.Schema {
	s := make(sql.Schema, len(n.Aggs))
	for i, a := range n.Aggs {
		s[i] = a.Output
	}
	return s
}

func (n *PartitionedAggregate) Children() []Node    { return []Node{n.Child} }
func (n *PartitionedAggregate) Description() string { return "PartitionedAggregate" }

func (n *PartitionedAggregate) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	child, err := n.Child.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	parts, err := sql.RowIterToRows(ctx, child)
	if err != nil {
		return nil, err
	}

	values := make([]sql.Value, len(n.Aggs))
	for i, a := range n.Aggs {
		v, err := combinePartials(parts, a)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	out := sql.NewRow("", n.Schema(), values)
	return timed("PartitionedAggregate", sql.NewSliceIter([]sql.Row{out})), nil
}

func combinePartials(parts []sql.Row, a PartialAggSpec) (sql.Value, error) {
	switch a.Func {
	case AggCount, AggCountBig, AggCountStar, AggSum:
		var total float64
		var any bool
		for _, r := range parts {
			v, ok := r.Get(a.ValueCol)
			if !ok || v.IsNull() {
				continue
			}
			f, err := v.Float64()
			if err != nil {
				return sql.Value{}, err
			}
			total += f
			any = true
		}
		if !any {
			return sql.NewNull(), nil
		}
		if a.Func == AggSum {
			return sql.NewFloat(total), nil
		}
		return sql.NewInt(int64(total)), nil

	case AggMin, AggMax:
		var best sql.Value
		have := false
		for _, r := range parts {
			v, ok := r.Get(a.ValueCol)
			if !ok || v.IsNull() {
				continue
			}
			if !have {
				best, have = v, true
				continue
			}
			cmp, err := compareJoinKeys(v, best)
			if err != nil {
				return sql.Value{}, err
			}
			if (a.Func == AggMin && cmp < 0) || (a.Func == AggMax && cmp > 0) {
				best = v
			}
		}
		if !have {
			return sql.NewNull(), nil
		}
		return best, nil

	case AggAvg:
		var sum, count float64
		for _, r := range parts {
			v, ok := r.Get(a.ValueCol)
			c, cok := r.Get(a.CountCol)
			if !ok || !cok || v.IsNull() || c.IsNull() {
				continue
			}
			avg, err := v.Float64()
			if err != nil {
				return sql.Value{}, err
			}
			n, err := c.Float64()
			if err != nil {
				return sql.Value{}, err
			}
			sum += avg * n
			count += n
		}
		if count == 0 {
			return sql.NewNull(), nil
		}
		return sql.NewFloat(sum / count), nil

	default:
		return sql.Value{}, sql.ErrInternal.New("unsupported partial aggregate combination function")
	}
}

// AggregateFallback runs its primary child (a server-side aggregate scan)
// and, if the backend refuses it with the aggregate record ceiling, runs
// the pre-built partitioned alternative instead: date-sliced per-partition
// aggregate scans fanned out under ParallelPartition and recombined by
// PartitionedAggregate. The primary's error is only swallowed for the
// aggregate-limit case; anything else propagates unchanged.
type AggregateFallback struct {
	Primary     Node
	Partitioned Node
}

func NewAggregateFallback(primary, partitioned Node) *AggregateFallback {
	return &AggregateFallback{Primary: primary, Partitioned: partitioned}
}

func (n *AggregateFallback) Schema() sql.Schema { return n.Primary.Schema() }
func (n *AggregateFallback) Children() []Node   { return []Node{n.Primary, n.Partitioned} }
func (n *AggregateFallback) Description() string {
	return "AggregateFallback(partitioned on aggregate limit)"
}

func (n *AggregateFallback) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	rows, err := n.runPrimary(ctx, row)
	if err == nil {
		return timed("AggregateFallback", sql.NewSliceIter(rows)), nil
	}
	if !sql.ErrAggregateLimitExceeded.Is(err) {
		return nil, err
	}
	ctx.Logger.WithField("node", "AggregateFallback").
		Debug("aggregate ceiling hit, switching to partitioned plan")
	return n.Partitioned.Execute(ctx, row)
}

// runPrimary drains the primary scan eagerly: an aggregate scan yields at
// most one row per group, and the ceiling error only surfaces once the
// first page is requested, which is after Execute has already returned
// the iterator.
func (n *AggregateFallback) runPrimary(ctx *sql.Context, row sql.Row) ([]sql.Row, error) {
	iter, err := n.Primary.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	return sql.RowIterToRows(ctx, iter)
}
