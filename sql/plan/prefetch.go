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
	"io"
	"sync"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// Prefetch wraps a paged scan with a background producer that keeps pulling
// pages into a bounded channel while the consumer is busy evaluating
// upstream nodes, so FetchXML's page-fetch latency overlaps client-side
// work instead of serializing with it.
// Order is preserved: rows are handed to the consumer in the exact order
// the child produced them.
type Prefetch struct {
	Child      Node
	BufferSize int
}

// NewPrefetch wraps child in a Prefetch with the given channel buffer size
func NewPrefetch(child Node, bufferSize int) *Prefetch {
	if bufferSize <= 0 {
		bufferSize = 5000
	}
	return &Prefetch{Child: child, BufferSize: bufferSize}
}

func (n *Prefetch) Schema() sql.Schema { return n.Child.Schema() }
func (n *Prefetch) Children() []Node   { return []Node{n.Child} }
func (n *Prefetch) Description() string {
	return fmt.Sprintf("Prefetch(buffer=%d)", n.BufferSize)
}

func (n *Prefetch) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	child, err := n.Child.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	it := &prefetchIter{
		child: child,
		rows:  make(chan sql.Row, n.BufferSize),
		errs:  make(chan error, 1),
		stop:  make(chan struct{}),
	}
	go it.run(ctx)
	return timed("Prefetch", it), nil
}

// prefetchIter's background goroutine owns child exclusively: it is the
// only goroutine that calls child.Next/child.Close, so there is no need to
// synchronize around the child iterator itself.
type prefetchIter struct {
	child sql.RowIter
	rows  chan sql.Row
	errs  chan error
	stop  chan struct{}
	once  sync.Once
}

func (it *prefetchIter) run(ctx *sql.Context) {
	defer close(it.rows)
	defer it.child.Close(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-it.stop:
			return
		default:
		}
		r, err := it.child.Next(ctx)
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case it.errs <- err:
			default:
			}
			return
		}
		select {
		case it.rows <- r:
		case <-ctx.Done():
			return
		case <-it.stop:
			return
		}
	}
}

func (it *prefetchIter) Next(ctx *sql.Context) (sql.Row, error) {
	select {
	case r, ok := <-it.rows:
		if !ok {
			select {
			case err := <-it.errs:
				return sql.Row{}, err
			default:
				return sql.Row{}, io.EOF
			}
		}
		return r, nil
	case <-ctx.Done():
		return sql.Row{}, ctx.Err()
	}
}

// Close signals the background producer to stop pulling further pages and
// returns immediately. It does not wait for the producer to observe the
// signal: an in-flight backend call cannot be cancelled at the wire level
// and is allowed to complete server-side, matching how cancellation is
// documented to behave elsewhere in this engine (sql.ErrCancelled).
func (it *prefetchIter) Close(ctx *sql.Context) error {
	it.once.Do(func() { close(it.stop) })
	return nil
}
