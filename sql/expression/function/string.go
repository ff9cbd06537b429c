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
	"strings"

	"github.com/spf13/cast"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// strArg coerces arg i to a Go string, treating Null as "".
func strArg(args []sql.Value, i int) (string, bool) {
	v := args[i]
	if v.IsNull() {
		return "", true
	}
	return cast.ToString(v.String()), false
}

func intArg(args []sql.Value, i int) (int64, error) {
	if args[i].IsNull() {
		return 0, nil
	}
	if args[i].IsNumeric() {
		f, err := args[i].Float64()
		return int64(f), err
	}
	return cast.ToInt64E(args[i].AsString())
}

func registerStringFuncs(r *Registry) {
	r.Register(Def{Name: "UPPER", MinArgs: 1, MaxArgs: 1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		return sql.NewString(strings.ToUpper(s)), nil
	}})

	r.Register(Def{Name: "LOWER", MinArgs: 1, MaxArgs: 1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		return sql.NewString(strings.ToLower(s)), nil
	}})

	r.Register(Def{Name: "LEN", MinArgs: 1, MaxArgs: 1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		return sql.NewInt(int64(len([]rune(strings.TrimRight(s, " "))))), nil
	}})

	r.Register(Def{Name: "LEFT", MinArgs: 2, MaxArgs: 2, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() || args[1].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		n, err := intArg(args, 1)
		if err != nil {
			return sql.NewNull(), err
		}
		r := []rune(s)
		if n < 0 {
			n = 0
		}
		if int(n) > len(r) {
			n = int64(len(r))
		}
		return sql.NewString(string(r[:n])), nil
	}})

	r.Register(Def{Name: "RIGHT", MinArgs: 2, MaxArgs: 2, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() || args[1].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		n, err := intArg(args, 1)
		if err != nil {
			return sql.NewNull(), err
		}
		r := []rune(s)
		if n < 0 {
			n = 0
		}
		if int(n) > len(r) {
			n = int64(len(r))
		}
		return sql.NewString(string(r[len(r)-int(n):])), nil
	}})

	r.Register(Def{Name: "SUBSTRING", MinArgs: 3, MaxArgs: 3, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() || args[1].IsNull() || args[2].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		start, err := intArg(args, 1)
		if err != nil {
			return sql.NewNull(), err
		}
		length, err := intArg(args, 2)
		if err != nil {
			return sql.NewNull(), err
		}
		runes := []rune(s)
		// T-SQL SUBSTRING is 1-based.
		from := start - 1
		if from < 0 {
			from = 0
		}
		if from > int64(len(runes)) {
			return sql.NewString(""), nil
		}
		to := from + length
		if to > int64(len(runes)) {
			to = int64(len(runes))
		}
		if to < from {
			to = from
		}
		return sql.NewString(string(runes[from:to])), nil
	}})

	r.Register(Def{Name: "TRIM", MinArgs: 1, MaxArgs: 1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		return sql.NewString(strings.TrimSpace(s)), nil
	}})

	r.Register(Def{Name: "LTRIM", MinArgs: 1, MaxArgs: 1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		return sql.NewString(strings.TrimLeft(s, " ")), nil
	}})

	r.Register(Def{Name: "RTRIM", MinArgs: 1, MaxArgs: 1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		return sql.NewString(strings.TrimRight(s, " ")), nil
	}})

	r.Register(Def{Name: "REPLACE", MinArgs: 3, MaxArgs: 3, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() || args[1].IsNull() || args[2].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		old, _ := strArg(args, 1)
		news, _ := strArg(args, 2)
		return sql.NewString(strings.ReplaceAll(s, old, news)), nil
	}})

	r.Register(Def{Name: "CHARINDEX", MinArgs: 2, MaxArgs: 3, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() || args[1].IsNull() {
			return sql.NewNull(), nil
		}
		needle, _ := strArg(args, 0)
		haystack, _ := strArg(args, 1)
		start := 0
		if len(args) == 3 && !args[2].IsNull() {
			n, err := intArg(args, 2)
			if err != nil {
				return sql.NewNull(), err
			}
			if n > 0 {
				start = int(n) - 1
			}
		}
		r := []rune(haystack)
		if start > len(r) {
			return sql.NewInt(0), nil
		}
		idx := strings.Index(string(r[start:]), needle)
		if idx < 0 {
			return sql.NewInt(0), nil
		}
		return sql.NewInt(int64(start + len([]rune(string(r[start:])[:idx])) + 1)), nil
	}})

	r.Register(Def{Name: "CONCAT", MinArgs: 1, MaxArgs: -1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		var sb strings.Builder
		for _, a := range args {
			if !a.IsNull() {
				sb.WriteString(a.String())
			}
		}
		return sql.NewString(sb.String()), nil
	}})

	r.Register(Def{Name: "STUFF", MinArgs: 4, MaxArgs: 4, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() || args[1].IsNull() || args[2].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		start, err := intArg(args, 1)
		if err != nil {
			return sql.NewNull(), err
		}
		length, err := intArg(args, 2)
		if err != nil {
			return sql.NewNull(), err
		}
		insert, _ := strArg(args, 3)
		runes := []rune(s)
		from := start - 1
		if from < 0 || from > int64(len(runes)) {
			return sql.NewNull(), nil
		}
		to := from + length
		if to > int64(len(runes)) {
			to = int64(len(runes))
		}
		out := string(runes[:from]) + insert + string(runes[to:])
		return sql.NewString(out), nil
	}})

	r.Register(Def{Name: "REVERSE", MinArgs: 1, MaxArgs: 1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() {
			return sql.NewNull(), nil
		}
		s, _ := strArg(args, 0)
		r := []rune(s)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return sql.NewString(string(r)), nil
	}})
}
