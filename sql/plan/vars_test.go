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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

func TestSetVariableStoresValueOnContext(t *testing.T) {
	ctx := newTestCtx()
	sv := NewSetVariable("@threshold", constExpr(sql.NewInt(42)))

	iter, err := sv.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.Empty(t, rows)

	v, ok := ctx.Variable("@threshold")
	require.True(t, ok)
	require.Equal(t, int64(42), v.AsInt())
}

func TestRaiseErrorSurfacesMessageAsValidationError(t *testing.T) {
	ctx := newTestCtx()
	re := NewRaiseError(constExpr(sql.NewString("account not found")), constExpr(sql.NewInt(16)), constExpr(sql.NewInt(1)))

	_, err := re.Execute(ctx, sql.Row{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "account not found")
}
