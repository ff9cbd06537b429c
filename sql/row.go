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

import "strings"

// Column is a column descriptor: logical name, display alias, inferred
// type, nullability and the flags downstream consumers need (is-lookup,
// is-option-set, is-aggregate-alias, is-virtual-name-column).
type Column struct {
	Name        string
	Alias       string
	Kind        Kind
	Nullable    bool
	IsLookup    bool
	IsOptionSet bool
	IsAggregate bool
	IsNameCol   bool
}

// OutputName is the name downstream consumers see: the alias if one was
// given, else the logical name.
func (c Column) OutputName() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}

// Schema is an ordered list of Columns. Column lookup is case-insensitive,
// matching T-SQL's case-insensitive column-name rule.
type Schema []*Column

// IndexOf returns the position of the named column, or -1.
func (s Schema) IndexOf(name string) int {
	for i, c := range s {
		if strings.EqualFold(c.OutputName(), name) {
			return i
		}
	}
	return -1
}

// Row is an ordered mapping from column position to Value, plus the
// originating entity's logical name. A Row is immutable by convention:
// transformations must produce a new Row rather than mutating one in place.
type Row struct {
	Entity string
	Schema Schema
	Values []Value
}

// NewRow builds a Row from a schema and parallel value slice. Panics if the
// lengths disagree, since that would be an invariant violation.
func NewRow(entity string, schema Schema, values []Value) Row {
	if len(schema) != len(values) {
		panic("sql: row value count does not match schema")
	}
	return Row{Entity: entity, Schema: schema, Values: values}
}

// Get returns the value of the named column, and whether it was found.
func (r Row) Get(name string) (Value, bool) {
	i := r.Schema.IndexOf(name)
	if i < 0 {
		return NewNull(), false
	}
	return r.Values[i], true
}

// With returns a copy of r with the named column's value replaced,
// appending a new column/value pair if the column is not present. Used by
// Project when synthesizing virtual name columns.
func (r Row) With(col *Column, v Value) Row {
	i := r.Schema.IndexOf(col.OutputName())
	if i >= 0 {
		newVals := append([]Value(nil), r.Values...)
		newVals[i] = v
		return Row{Entity: r.Entity, Schema: r.Schema, Values: newVals}
	}
	newSchema := append(append(Schema(nil), r.Schema...), col)
	newVals := append(append([]Value(nil), r.Values...), v)
	return Row{Entity: r.Entity, Schema: newSchema, Values: newVals}
}

// Project builds a new Row containing only the named columns, in order,
// under the given output schema. Every caller that builds a Project node's
// output row goes through this so the "exact column set" invariant holds
// structurally rather than by convention.
func (r Row) Project(schema Schema, values []Value) Row {
	return NewRow(r.Entity, schema, values)
}
