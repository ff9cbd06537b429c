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

// Package sql holds the types shared by every stage of the query engine:
// the tagged scalar Value, Row, Schema and the per-request Context.
package sql

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	uuid "github.com/satori/go.uuid"
)

// Kind identifies the dynamic type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindBigInt
	KindDecimal
	KindFloat
	KindString
	KindDateTime
	KindGuid
	KindLookup
	KindOptionSet
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindBigInt:
		return "bigint"
	case KindDecimal:
		return "decimal"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindDateTime:
		return "datetime"
	case KindGuid:
		return "guid"
	case KindLookup:
		return "lookup"
	case KindOptionSet:
		return "optionset"
	default:
		return "unknown"
	}
}

// Lookup is the payload of a Value of KindLookup: a reference to a record
// in another entity, with an optional display-name sidecar.
type Lookup struct {
	Entity string
	ID     uuid.UUID
	Name   string
}

// OptionSet is the payload of a Value of KindOptionSet: a numeric choice
// value with an optional display-label sidecar.
type OptionSet struct {
	Value int64
	Label string
}

// Value is a tagged scalar. The zero Value is Null.
//
// Decimal values are carried as *big.Rat, which is the only arbitrary
// precision arithmetic type in the standard library; the retrieval pack
// carries no third-party decimal library for this engine to adopt instead.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	big   *big.Int
	dec   *big.Rat
	f     float64
	s     string
	t     time.Time
	guid  uuid.UUID
	look  Lookup
	optst OptionSet
}

// NewNull returns the Null value.
func NewNull() Value { return Value{kind: KindNull} }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Kind returns the dynamic type tag.
func (v Value) Kind() Kind { return v.kind }

func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }
func NewInt(i int64) Value { return Value{kind: KindInt, i: i} }

func NewBigInt(i *big.Int) Value {
	if i == nil {
		return NewNull()
	}
	return Value{kind: KindBigInt, big: i}
}

func NewDecimal(r *big.Rat) Value {
	if r == nil {
		return NewNull()
	}
	return Value{kind: KindDecimal, dec: r}
}

func NewFloat(f float64) Value   { return Value{kind: KindFloat, f: f} }
func NewString(s string) Value   { return Value{kind: KindString, s: s} }
func NewDateTime(t time.Time) Value { return Value{kind: KindDateTime, t: t} }
func NewGuid(g uuid.UUID) Value  { return Value{kind: KindGuid, guid: g} }

func NewLookup(entity string, id uuid.UUID, name string) Value {
	return Value{kind: KindLookup, look: Lookup{Entity: entity, ID: id, Name: name}}
}

func NewOptionSet(value int64, label string) Value {
	return Value{kind: KindOptionSet, optst: OptionSet{Value: value, Label: label}}
}

func (v Value) AsBool() bool           { return v.b }
func (v Value) AsInt() int64           { return v.i }
func (v Value) AsBigInt() *big.Int     { return v.big }
func (v Value) AsDecimal() *big.Rat    { return v.dec }
func (v Value) AsFloat() float64       { return v.f }
func (v Value) AsString() string       { return v.s }
func (v Value) AsDateTime() time.Time  { return v.t }
func (v Value) AsGuid() uuid.UUID      { return v.guid }
func (v Value) AsLookup() Lookup       { return v.look }
func (v Value) AsOptionSet() OptionSet { return v.optst }

// promotionRank orders numeric kinds for "Int -> BigInt -> Decimal -> Float"
// promotion.
func promotionRank(k Kind) int {
	switch k {
	case KindInt:
		return 0
	case KindBigInt:
		return 1
	case KindDecimal:
		return 2
	case KindFloat:
		return 3
	default:
		return -1
	}
}

// IsNumeric reports whether v's kind participates in numeric promotion.
func (v Value) IsNumeric() bool { return promotionRank(v.kind) >= 0 }

// Promote coerces a and b to a common numeric kind using the Int -> BigInt
// -> Decimal -> Float ladder, returning values of equal Kind. Non-numeric
// operands are returned unchanged; the caller decides whether that is an
// error.
func Promote(a, b Value) (Value, Value) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return a, b
	}
	ra, rb := promotionRank(a.kind), promotionRank(b.kind)
	if ra == rb {
		return a, b
	}
	target := ra
	if rb > target {
		target = rb
	}
	return promoteTo(a, target), promoteTo(b, target)
}

func promoteTo(v Value, rank int) Value {
	cur := promotionRank(v.kind)
	if cur == rank {
		return v
	}
	switch rank {
	case 1: // BigInt
		return NewBigInt(big.NewInt(v.i))
	case 2: // Decimal
		switch v.kind {
		case KindInt:
			return NewDecimal(new(big.Rat).SetInt64(v.i))
		case KindBigInt:
			return NewDecimal(new(big.Rat).SetInt(v.big))
		}
	case 3: // Float
		f, _ := v.Float64()
		return NewFloat(f)
	}
	return v
}

// Float64 converts a numeric value to float64 for arithmetic that has
// already settled on Float, or for comparisons across mixed kinds.
func (v Value) Float64() (float64, error) {
	switch v.kind {
	case KindInt:
		return float64(v.i), nil
	case KindBigInt:
		f := new(big.Float).SetInt(v.big)
		out, _ := f.Float64()
		return out, nil
	case KindDecimal:
		out, _ := v.dec.Float64()
		return out, nil
	case KindFloat:
		return v.f, nil
	case KindString:
		return cast.ToFloat64E(v.s)
	case KindBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %s to float", v.kind)
	}
}

// String renders v for EXPLAIN text, logging and DISTINCT canonicalization.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBigInt:
		return v.big.String()
	case KindDecimal:
		return v.dec.FloatString(10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindDateTime:
		return v.t.UTC().Format(time.RFC3339Nano)
	case KindGuid:
		return v.guid.String()
	case KindLookup:
		return v.look.ID.String()
	case KindOptionSet:
		return strconv.FormatInt(v.optst.Value, 10)
	default:
		return ""
	}
}

// Canonical returns the per-value canonical form used by Distinct key
// hashing: Null maps to "\0", numerics render in invariant
// form, and strings are optionally lower-cased for case-insensitive DISTINCT.
func (v Value) Canonical(caseInsensitive bool) string {
	if v.IsNull() {
		return "\x00"
	}
	if v.kind == KindString && caseInsensitive {
		return "s:" + strings.ToLower(v.s)
	}
	return v.Kind().String() + ":" + v.String()
}

// Equal reports value equality after numeric promotion; Null is never
// equal to anything, including another Null (three-valued logic handles
// that at the comparison-operator level, not here).
func (v Value) Equal(other Value) bool {
	if v.IsNull() || other.IsNull() {
		return false
	}
	if v.IsNumeric() && other.IsNumeric() {
		a, b := Promote(v, other)
		return a.String() == b.String()
	}
	return v.Kind() == other.Kind() && v.String() == other.String()
}
