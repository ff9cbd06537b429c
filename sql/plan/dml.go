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

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// DmlOp names the write operation DmlExecute performs.
type DmlOp int

const (
	DmlInsert DmlOp = iota
	DmlUpdate
	DmlDelete
)

// DmlExecute drives INSERT/UPDATE/DELETE against sql.BulkWriteExecutor,
// batching rows pulled from Source through CreateMultiple/UpdateMultiple/
// DeleteMultiple and enforcing the write-safety gate: confirmation (or
// dry-run) is checked before any row is read, and the row cap is checked
// before each batch is sent, so batches sent before the cap is reached
// stay written.
type DmlExecute struct {
	EnvLabel string
	Entity   string
	Op       DmlOp
	Source   Node // produces the rows (or id-only rows, for DELETE) to write
	IDColumn string
}

func NewDmlExecute(envLabel, entity string, op DmlOp, source Node, idColumn string) *DmlExecute {
	return &DmlExecute{EnvLabel: envLabel, Entity: entity, Op: op, Source: source, IDColumn: idColumn}
}

func (n *DmlExecute) Schema() sql.Schema {
	return sql.Schema{
		{Name: "RowsAffected", Kind: sql.KindBigInt},
		{Name: "Errors", Kind: sql.KindBigInt},
	}
}

func (n *DmlExecute) Children() []Node { return []Node{n.Source} }
func (n *DmlExecute) Description() string {
	names := map[DmlOp]string{DmlInsert: "Insert", DmlUpdate: "Update", DmlDelete: "Delete"}
	return fmt.Sprintf("DmlExecute(%s entity=%s)", names[n.Op], n.Entity)
}

func (n *DmlExecute) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	if !ctx.Safety.Confirmed && !ctx.Safety.DryRun {
		return nil, sql.ErrDmlBlocked.New("write operation requires explicit confirmation").WithHint("pass --confirm or run with --dry-run first")
	}
	if ctx.Pool != nil && ctx.Pool.IsProduction(n.EnvLabel) && !ctx.Safety.Confirmed {
		return nil, sql.ErrDmlBlocked.New(fmt.Sprintf("environment %q is marked Production and requires confirmation", envLabelOrLocal(n.EnvLabel))).WithHint("confirm this write explicitly before targeting a Production environment")
	}

	_, bulk, err := resolveBackend(ctx, n.EnvLabel)
	if err != nil {
		return nil, err
	}

	src, err := n.Source.Execute(ctx, row)
	if err != nil {
		return nil, err
	}
	defer src.Close(ctx)

	batchSize := ctx.Options.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	opts := sql.BulkWriteOptions{
		BatchSize:     batchSize,
		BypassPlugins: ctx.Options.BypassPlugins,
		BypassFlows:   ctx.Options.BypassFlows,
		Progress:      ctx.Progress,
	}

	var affected, failed int64
	var batch []sql.Row
	ctx.Progress.Phase(sql.PhaseWriting)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if ctx.Safety.RowCap > 0 && affected+int64(len(batch)) > ctx.Safety.RowCap {
			return sql.ErrDmlBlocked.New(fmt.Sprintf("write would exceed the row cap of %d", ctx.Safety.RowCap)).WithHint("pass --no-limit or narrow the WHERE clause")
		}
		if ctx.Safety.DryRun {
			affected += int64(len(batch))
			batch = batch[:0]
			return nil
		}
		var outcomes []sql.WriteOutcome
		var err error
		switch n.Op {
		case DmlInsert:
			outcomes, err = bulk.CreateMultiple(ctx, n.Entity, batch, opts)
		case DmlUpdate:
			outcomes, err = bulk.UpdateMultiple(ctx, n.Entity, batch, opts)
		case DmlDelete:
			ids := make([]string, len(batch))
			for i, r := range batch {
				v, _ := r.Get(n.IDColumn)
				ids[i] = v.String()
			}
			outcomes, err = bulk.DeleteMultiple(ctx, n.Entity, ids, opts)
		}
		if err != nil {
			return sql.ErrRemoteFailure.New(err.Error())
		}
		for _, o := range outcomes {
			if o.Error != nil {
				failed++
			} else {
				affected++
			}
		}
		ctx.Progress.Increment(len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, r)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	result := sql.NewRow(n.Entity, n.Schema(), []sql.Value{sql.NewInt(affected), sql.NewInt(failed)})
	return timed("DmlExecute", sql.NewSliceIter([]sql.Row{result})), nil
}
