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

// Package plan is the Volcano-model plan node library: every node pulls
// rows from its children one at a time through a sql.RowIter.
package plan

import (
	"strings"
	"time"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// Node is one plan tree node. Execute accepts an optional outer row for
// correlated execution (subqueries, nested-loop join probes).
type Node interface {
	Schema() sql.Schema
	Children() []Node
	Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error)
	Description() string
}

// Explain renders a plan tree as a box-drawn EXPLAIN tree.
func Explain(n Node) string {
	var sb strings.Builder
	sb.WriteString(n.Description())
	sb.WriteByte('\n')
	explainChildren(&sb, n.Children(), "")
	return sb.String()
}

func explainChildren(sb *strings.Builder, children []Node, prefix string) {
	for i, c := range children {
		last := i == len(children)-1
		branch := "├── "
		nextPrefix := prefix + "│   "
		if last {
			branch = "└── "
			nextPrefix = prefix + "    "
		}
		sb.WriteString(prefix)
		sb.WriteString(branch)
		sb.WriteString(c.Description())
		sb.WriteByte('\n')
		explainChildren(sb, c.Children(), nextPrefix)
	}
}

// ExplainAnnotated is Explain plus a header reporting the pool capacity and
// the effective parallelism a ParallelPartition node in the tree will use.
// capacity/parallelism are supplied by the caller (the query service
// façade, which has access to the ConnectionPool and PlanOptions); Node
// itself knows neither.
func ExplainAnnotated(n Node, capacity, parallelism int) string {
	var sb strings.Builder
	if hasPartition(n) {
		sb.WriteString("Pool capacity: ")
		sb.WriteString(itoa(capacity))
		sb.WriteString(", effective parallelism: ")
		sb.WriteString(itoa(parallelism))
		sb.WriteByte('\n')
	}
	sb.WriteString(Explain(n))
	return sb.String()
}

func hasPartition(n Node) bool {
	if _, ok := n.(*ParallelPartition); ok {
		return true
	}
	for _, c := range n.Children() {
		if hasPartition(c) {
			return true
		}
	}
	return false
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// timeNode wraps iter.Next with per-node timing recorded into
// ctx.Stats.NodeTimings, backing EXPLAIN ANALYZE support.
type timeNode struct {
	name string
	iter sql.RowIter
}

func timed(name string, iter sql.RowIter) sql.RowIter { return &timeNode{name: name, iter: iter} }

func (t *timeNode) Next(ctx *sql.Context) (sql.Row, error) {
	start := time.Now()
	row, err := t.iter.Next(ctx)
	ctx.Stats.RecordNode(t.name, time.Since(start))
	if err == nil {
		ctx.Stats.AddRows(1)
	}
	return row, err
}

func (t *timeNode) Close(ctx *sql.Context) error { return t.iter.Close(ctx) }
