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
	"fmt"
	"strings"
	"time"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

func dateArg(args []sql.Value, i int) (time.Time, bool) {
	if args[i].IsNull() {
		return time.Time{}, true
	}
	if args[i].Kind() == sql.KindDateTime {
		return args[i].AsDateTime(), false
	}
	t, err := time.Parse(time.RFC3339, args[i].AsString())
	if err != nil {
		return time.Time{}, true
	}
	return t, false
}

func registerDateFuncs(r *Registry) {
	r.Register(Def{Name: "GETDATE", MinArgs: 0, MaxArgs: 0, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		return sql.NewDateTime(time.Now()), nil
	}})

	r.Register(Def{Name: "GETUTCDATE", MinArgs: 0, MaxArgs: 0, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		return sql.NewDateTime(time.Now().UTC()), nil
	}})

	r.Register(Def{Name: "YEAR", MinArgs: 1, MaxArgs: 1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		t, isNull := dateArg(args, 0)
		if isNull {
			return sql.NewNull(), nil
		}
		return sql.NewInt(int64(t.Year())), nil
	}})

	r.Register(Def{Name: "MONTH", MinArgs: 1, MaxArgs: 1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		t, isNull := dateArg(args, 0)
		if isNull {
			return sql.NewNull(), nil
		}
		return sql.NewInt(int64(t.Month())), nil
	}})

	r.Register(Def{Name: "DAY", MinArgs: 1, MaxArgs: 1, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		t, isNull := dateArg(args, 0)
		if isNull {
			return sql.NewNull(), nil
		}
		return sql.NewInt(int64(t.Day())), nil
	}})

	r.Register(Def{Name: "DATEADD", MinArgs: 3, MaxArgs: 3, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() || args[1].IsNull() {
			return sql.NewNull(), nil
		}
		unit := strings.ToLower(args[0].AsString())
		n, err := intArg(args, 1)
		if err != nil {
			return sql.NewNull(), err
		}
		t, isNull := dateArg(args, 2)
		if isNull {
			return sql.NewNull(), nil
		}
		out, err := addDatePart(t, unit, n)
		if err != nil {
			return sql.NewNull(), err
		}
		return sql.NewDateTime(out), nil
	}})

	r.Register(Def{Name: "DATEDIFF", MinArgs: 3, MaxArgs: 3, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() {
			return sql.NewNull(), nil
		}
		unit := strings.ToLower(args[0].AsString())
		a, aNull := dateArg(args, 1)
		b, bNull := dateArg(args, 2)
		if aNull || bNull {
			return sql.NewNull(), nil
		}
		d, err := diffDatePart(a, b, unit)
		if err != nil {
			return sql.NewNull(), err
		}
		return sql.NewInt(d), nil
	}})

	r.Register(Def{Name: "DATEPART", MinArgs: 2, MaxArgs: 2, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() {
			return sql.NewNull(), nil
		}
		unit := strings.ToLower(args[0].AsString())
		t, isNull := dateArg(args, 1)
		if isNull {
			return sql.NewNull(), nil
		}
		v, err := datePart(t, unit)
		if err != nil {
			return sql.NewNull(), err
		}
		return sql.NewInt(v), nil
	}})

	r.Register(Def{Name: "DATETRUNC", MinArgs: 2, MaxArgs: 2, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if args[0].IsNull() {
			return sql.NewNull(), nil
		}
		unit := strings.ToLower(args[0].AsString())
		t, isNull := dateArg(args, 1)
		if isNull {
			return sql.NewNull(), nil
		}
		out, err := truncDatePart(t, unit)
		if err != nil {
			return sql.NewNull(), err
		}
		return sql.NewDateTime(out), nil
	}})
}

func addDatePart(t time.Time, unit string, n int64) (time.Time, error) {
	switch unit {
	case "year", "yy", "yyyy":
		return t.AddDate(int(n), 0, 0), nil
	case "quarter", "qq", "q":
		return t.AddDate(0, int(n)*3, 0), nil
	case "month", "mm", "m":
		return t.AddDate(0, int(n), 0), nil
	case "day", "dd", "d", "dayofyear", "dy", "y":
		return t.AddDate(0, 0, int(n)), nil
	case "week", "wk", "ww":
		return t.AddDate(0, 0, int(n)*7), nil
	case "hour", "hh":
		return t.Add(time.Duration(n) * time.Hour), nil
	case "minute", "mi", "n":
		return t.Add(time.Duration(n) * time.Minute), nil
	case "second", "ss", "s":
		return t.Add(time.Duration(n) * time.Second), nil
	case "millisecond", "ms":
		return t.Add(time.Duration(n) * time.Millisecond), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported DATEADD unit %q", unit)
	}
}

func diffDatePart(a, b time.Time, unit string) (int64, error) {
	d := b.Sub(a)
	switch unit {
	case "year", "yy", "yyyy":
		return int64(b.Year() - a.Year()), nil
	case "month", "mm", "m":
		return int64((b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())), nil
	case "day", "dd", "d", "dayofyear", "dy", "y":
		return int64(d.Hours() / 24), nil
	case "week", "wk", "ww":
		return int64(d.Hours() / 24 / 7), nil
	case "hour", "hh":
		return int64(d.Hours()), nil
	case "minute", "mi", "n":
		return int64(d.Minutes()), nil
	case "second", "ss", "s":
		return int64(d.Seconds()), nil
	case "millisecond", "ms":
		return d.Milliseconds(), nil
	default:
		return 0, fmt.Errorf("unsupported DATEDIFF unit %q", unit)
	}
}

func datePart(t time.Time, unit string) (int64, error) {
	switch unit {
	case "year", "yy", "yyyy":
		return int64(t.Year()), nil
	case "quarter", "qq", "q":
		return int64((t.Month()-1)/3) + 1, nil
	case "month", "mm", "m":
		return int64(t.Month()), nil
	case "day", "dd", "d":
		return int64(t.Day()), nil
	case "dayofyear", "dy", "y":
		return int64(t.YearDay()), nil
	case "week", "wk", "ww":
		_, wk := t.ISOWeek()
		return int64(wk), nil
	case "weekday", "dw", "w":
		return int64(t.Weekday()) + 1, nil
	case "hour", "hh":
		return int64(t.Hour()), nil
	case "minute", "mi", "n":
		return int64(t.Minute()), nil
	case "second", "ss", "s":
		return int64(t.Second()), nil
	case "millisecond", "ms":
		return int64(t.Nanosecond() / 1e6), nil
	default:
		return 0, fmt.Errorf("unsupported DATEPART unit %q", unit)
	}
}

func truncDatePart(t time.Time, unit string) (time.Time, error) {
	switch unit {
	case "year", "yy", "yyyy":
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location()), nil
	case "quarter", "qq", "q":
		m := ((int(t.Month())-1)/3)*3 + 1
		return time.Date(t.Year(), time.Month(m), 1, 0, 0, 0, 0, t.Location()), nil
	case "month", "mm", "m":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()), nil
	case "day", "dd", "d":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), nil
	case "hour", "hh":
		return t.Truncate(time.Hour), nil
	case "minute", "mi", "n":
		return t.Truncate(time.Minute), nil
	case "second", "ss", "s":
		return t.Truncate(time.Second), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported DATETRUNC unit %q", unit)
	}
}
