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

package expression

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/cast"
	uuid "github.com/satori/go.uuid"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// compileCast wraps inner with the CAST(expr AS targetType) / CONVERT(type,
// expr) conversion: NULL passes through, and a
// conversion that would silently lose information (e.g. a string that does
// not parse as the target's int) reports TypeMismatch rather than
// truncating.
func compileCast(inner Expr, targetType string) Expr {
	norm := normalizeTypeName(targetType)
	return func(ctx *sql.Context, row sql.Row) (sql.Value, error) {
		v, err := inner(ctx, row)
		if err != nil {
			return sql.Value{}, err
		}
		if v.IsNull() {
			return sql.NewNull(), nil
		}
		return convert(v, norm)
	}
}

func normalizeTypeName(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

func convert(v sql.Value, targetType string) (sql.Value, error) {
	switch targetType {
	case "int", "integer", "smallint", "tinyint":
		return convertToInt(v)
	case "bigint":
		return convertToBigInt(v)
	case "decimal", "numeric", "money", "smallmoney":
		return convertToDecimal(v)
	case "float", "real":
		f, err := v.Float64()
		if err != nil {
			return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %s to float: %s", v.Kind(), err))
		}
		return sql.NewFloat(f), nil
	case "bit", "bool", "boolean":
		return convertToBool(v)
	case "varchar", "nvarchar", "char", "nchar", "text", "ntext", "string":
		return sql.NewString(v.String()), nil
	case "datetime", "datetime2", "date", "smalldatetime":
		return convertToDateTime(v)
	case "uniqueidentifier", "guid":
		return convertToGuid(v)
	default:
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("unsupported CAST target type %q", targetType))
	}
}

func convertToInt(v sql.Value) (sql.Value, error) {
	switch v.Kind() {
	case sql.KindInt:
		return v, nil
	case sql.KindBigInt:
		if !v.AsBigInt().IsInt64() {
			return sql.Value{}, sql.ErrTypeMismatch.New("bigint value overflows int")
		}
		n := v.AsBigInt().Int64()
		if n > math.MaxInt32 || n < math.MinInt32 {
			return sql.Value{}, sql.ErrTypeMismatch.New("value overflows int")
		}
		return sql.NewInt(n), nil
	case sql.KindDecimal:
		f, _ := v.AsDecimal().Float64()
		if f != math.Trunc(f) {
			return sql.Value{}, sql.ErrTypeMismatch.New("decimal value has a fractional part and cannot convert to int without rounding")
		}
		return sql.NewInt(int64(f)), nil
	case sql.KindFloat:
		f := v.AsFloat()
		if f != math.Trunc(f) {
			return sql.Value{}, sql.ErrTypeMismatch.New("float value has a fractional part and cannot convert to int without rounding")
		}
		return sql.NewInt(int64(f)), nil
	case sql.KindBool:
		if v.AsBool() {
			return sql.NewInt(1), nil
		}
		return sql.NewInt(0), nil
	case sql.KindString:
		n, err := cast.ToInt64E(strings.TrimSpace(v.AsString()))
		if err != nil {
			return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %q to int", v.AsString()))
		}
		return sql.NewInt(n), nil
	case sql.KindOptionSet:
		return sql.NewInt(v.AsOptionSet().Value), nil
	default:
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %s to int", v.Kind()))
	}
}

func convertToBigInt(v sql.Value) (sql.Value, error) {
	switch v.Kind() {
	case sql.KindInt:
		return sql.NewBigInt(big.NewInt(v.AsInt())), nil
	case sql.KindBigInt:
		return v, nil
	case sql.KindDecimal:
		f, _ := v.AsDecimal().Float64()
		if f != math.Trunc(f) {
			return sql.Value{}, sql.ErrTypeMismatch.New("decimal value has a fractional part and cannot convert to bigint without rounding")
		}
		bi, _ := new(big.Float).SetFloat64(f).Int(nil)
		return sql.NewBigInt(bi), nil
	case sql.KindFloat:
		if f := v.AsFloat(); f != math.Trunc(f) {
			return sql.Value{}, sql.ErrTypeMismatch.New("float value has a fractional part and cannot convert to bigint without rounding")
		}
		bi, _ := new(big.Float).SetFloat64(v.AsFloat()).Int(nil)
		return sql.NewBigInt(bi), nil
	case sql.KindString:
		bi, ok := new(big.Int).SetString(strings.TrimSpace(v.AsString()), 10)
		if !ok {
			return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %q to bigint", v.AsString()))
		}
		return sql.NewBigInt(bi), nil
	default:
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %s to bigint", v.Kind()))
	}
}

func convertToDecimal(v sql.Value) (sql.Value, error) {
	switch v.Kind() {
	case sql.KindInt:
		return sql.NewDecimal(new(big.Rat).SetInt64(v.AsInt())), nil
	case sql.KindBigInt:
		return sql.NewDecimal(new(big.Rat).SetInt(v.AsBigInt())), nil
	case sql.KindDecimal:
		return v, nil
	case sql.KindFloat:
		r := new(big.Rat)
		if r.SetFloat64(v.AsFloat()) == nil {
			return sql.Value{}, sql.ErrTypeMismatch.New("float value is not representable as decimal")
		}
		return sql.NewDecimal(r), nil
	case sql.KindString:
		r, ok := new(big.Rat).SetString(strings.TrimSpace(v.AsString()))
		if !ok {
			return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %q to decimal", v.AsString()))
		}
		return sql.NewDecimal(r), nil
	default:
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %s to decimal", v.Kind()))
	}
}

func convertToBool(v sql.Value) (sql.Value, error) {
	switch v.Kind() {
	case sql.KindBool:
		return v, nil
	case sql.KindInt:
		return sql.NewBool(v.AsInt() != 0), nil
	case sql.KindString:
		b, err := cast.ToBoolE(strings.TrimSpace(v.AsString()))
		if err != nil {
			return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %q to bit", v.AsString()))
		}
		return sql.NewBool(b), nil
	default:
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %s to bit", v.Kind()))
	}
}

func convertToDateTime(v sql.Value) (sql.Value, error) {
	switch v.Kind() {
	case sql.KindDateTime:
		return v, nil
	case sql.KindString:
		s := strings.TrimSpace(v.AsString())
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return sql.NewDateTime(t), nil
			}
		}
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %q to datetime", s))
	default:
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %s to datetime", v.Kind()))
	}
}

func convertToGuid(v sql.Value) (sql.Value, error) {
	switch v.Kind() {
	case sql.KindGuid:
		return v, nil
	case sql.KindLookup:
		return sql.NewGuid(v.AsLookup().ID), nil
	case sql.KindString:
		g, err := uuid.FromString(strings.TrimSpace(v.AsString()))
		if err != nil {
			return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %q to uniqueidentifier", v.AsString()))
		}
		return sql.NewGuid(g), nil
	default:
		return sql.Value{}, sql.ErrTypeMismatch.New(fmt.Sprintf("cannot convert %s to uniqueidentifier", v.Kind()))
	}
}
