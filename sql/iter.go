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

package sql

import "io"

// RowIter is the pull-based iterator contract every plan node's Execute
// returns. Next returns io.EOF when exhausted. Implementations must poll
// ctx between rows so cancellation is observed.
type RowIter interface {
	Next(ctx *Context) (Row, error)
	Close(ctx *Context) error
}

// RowIterToRows drains iter into a slice, honoring cancellation. Used by
// the buffered Execute path and by tests.
func RowIterToRows(ctx *Context, iter RowIter) ([]Row, error) {
	var rows []Row
	for {
		if err := ctx.Err(); err != nil {
			_ = iter.Close(ctx)
			return rows, err
		}
		row, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = iter.Close(ctx)
			return rows, err
		}
		rows = append(rows, row)
	}
	return rows, iter.Close(ctx)
}

// sliceIter adapts a pre-materialized slice of rows to RowIter. Used by
// nodes that materialize (Distinct, sorted spools, window output).
type sliceIter struct {
	rows []Row
	pos  int
}

// NewSliceIter returns a RowIter over an already-materialized slice.
func NewSliceIter(rows []Row) RowIter { return &sliceIter{rows: rows} }

func (s *sliceIter) Next(ctx *Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	if s.pos >= len(s.rows) {
		return Row{}, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *sliceIter) Close(ctx *Context) error { return nil }
