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

package function

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

func mustParse(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestRegistryLookupCaseInsensitive(t *testing.T) {
	r := Default()
	_, ok := r.Lookup("upper")
	require.True(t, ok)
	_, ok = r.Lookup("UPPER")
	require.True(t, ok)
	_, ok = r.Lookup("nonexistent")
	require.False(t, ok)
}

func TestCheckArity(t *testing.T) {
	d := Def{Name: "LEFT", MinArgs: 2, MaxArgs: 2}
	require.NoError(t, d.CheckArity(2))
	require.Error(t, d.CheckArity(1))
	require.Error(t, d.CheckArity(3))
}

func TestStringFunctions(t *testing.T) {
	r := Default()
	ctx := (*sql.Context)(nil)

	upper, _ := r.Lookup("UPPER")
	v, err := upper.Fn(ctx, []sql.Value{sql.NewString("acme")})
	require.NoError(t, err)
	require.Equal(t, "ACME", v.AsString())

	left, _ := r.Lookup("LEFT")
	v, err = left.Fn(ctx, []sql.Value{sql.NewString("account"), sql.NewInt(3)})
	require.NoError(t, err)
	require.Equal(t, "acc", v.AsString())

	sub, _ := r.Lookup("SUBSTRING")
	v, err = sub.Fn(ctx, []sql.Value{sql.NewString("account"), sql.NewInt(2), sql.NewInt(3)})
	require.NoError(t, err)
	require.Equal(t, "cco", v.AsString())

	charindex, _ := r.Lookup("CHARINDEX")
	v, err = charindex.Fn(ctx, []sql.Value{sql.NewString("co"), sql.NewString("account")})
	require.NoError(t, err)
	require.Equal(t, int64(3), v.AsInt())

	concat, _ := r.Lookup("CONCAT")
	v, err = concat.Fn(ctx, []sql.Value{sql.NewString("a"), sql.NewNull(), sql.NewString("b")})
	require.NoError(t, err)
	require.Equal(t, "ab", v.AsString())

	reverse, _ := r.Lookup("REVERSE")
	v, err = reverse.Fn(ctx, []sql.Value{sql.NewString("abc")})
	require.NoError(t, err)
	require.Equal(t, "cba", v.AsString())
}

func TestDateFunctions(t *testing.T) {
	r := Default()
	ctx := (*sql.Context)(nil)

	year, _ := r.Lookup("YEAR")
	d := sql.NewDateTime(mustParse("2024-03-15T00:00:00Z"))
	v, err := year.Fn(ctx, []sql.Value{d})
	require.NoError(t, err)
	require.Equal(t, int64(2024), v.AsInt())

	dateadd, _ := r.Lookup("DATEADD")
	v, err = dateadd.Fn(ctx, []sql.Value{sql.NewString("day"), sql.NewInt(1), d})
	require.NoError(t, err)
	require.Equal(t, 16, v.AsDateTime().Day())

	datediff, _ := r.Lookup("DATEDIFF")
	d2 := sql.NewDateTime(mustParse("2024-03-20T00:00:00Z"))
	v, err = datediff.Fn(ctx, []sql.Value{sql.NewString("day"), d, d2})
	require.NoError(t, err)
	require.Equal(t, int64(5), v.AsInt())
}

func TestIsNullFunction(t *testing.T) {
	r := Default()
	ctx := (*sql.Context)(nil)
	isnull, _ := r.Lookup("ISNULL")
	v, err := isnull.Fn(ctx, []sql.Value{sql.NewNull(), sql.NewString("fallback")})
	require.NoError(t, err)
	require.Equal(t, "fallback", v.AsString())

	v, err = isnull.Fn(ctx, []sql.Value{sql.NewString("value"), sql.NewString("fallback")})
	require.NoError(t, err)
	require.Equal(t, "value", v.AsString())
}
