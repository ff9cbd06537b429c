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

package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
	"github.com/joshsmithxrm/ppds-sdk-sub001/sql/plan"
)

// metadataSchemaName is the schema qualifier routing a table reference to
// the metadata provider instead of the record store: `metadata.entity`,
// `metadata.attribute`, `metadata.optionset`, `metadata.relationship`.
const metadataSchemaName = "metadata"

func isMetadataTable(schema string) bool {
	return strings.EqualFold(schema, metadataSchemaName)
}

// planMetadataScan builds the MetadataScan leaf for one of the virtual
// metadata tables. Rows are synthesized from the metadata provider at
// execution time, so the editor's `SELECT * FROM metadata.attribute`
// reflects whatever the cache holds then, not at plan time.
func planMetadataScan(table string) (plan.Node, sql.Schema, error) {
	switch strings.ToLower(table) {
	case "entity":
		schema := sql.Schema{{Name: "logicalname", Kind: sql.KindString}}
		return plan.NewMetadataScan(schema, func(ctx *sql.Context) ([]sql.Row, error) {
			names, err := ctx.Metadata.Entities(ctx)
			if err != nil {
				return nil, err
			}
			sort.Strings(names)
			rows := make([]sql.Row, len(names))
			for i, n := range names {
				rows[i] = sql.NewRow("entity", schema, []sql.Value{sql.NewString(n)})
			}
			return rows, nil
		}), schema, nil

	case "attribute":
		schema := sql.Schema{
			{Name: "entitylogicalname", Kind: sql.KindString},
			{Name: "logicalname", Kind: sql.KindString},
			{Name: "type", Kind: sql.KindString},
			{Name: "islookup", Kind: sql.KindBool},
			{Name: "isoptionset", Kind: sql.KindBool},
			{Name: "nullable", Kind: sql.KindBool},
		}
		return plan.NewMetadataScan(schema, func(ctx *sql.Context) ([]sql.Row, error) {
			return metadataRows(ctx, func(entity string, meta sql.EntityMetadata) []sql.Row {
				var rows []sql.Row
				for _, a := range sortedAttributes(meta) {
					rows = append(rows, sql.NewRow("attribute", schema, []sql.Value{
						sql.NewString(entity),
						sql.NewString(a.LogicalName),
						sql.NewString(a.Kind.String()),
						sql.NewBool(a.IsLookup),
						sql.NewBool(a.IsOptionSet),
						sql.NewBool(a.Nullable),
					}))
				}
				return rows
			})
		}), schema, nil

	case "optionset":
		schema := sql.Schema{
			{Name: "entitylogicalname", Kind: sql.KindString},
			{Name: "attributelogicalname", Kind: sql.KindString},
		}
		return plan.NewMetadataScan(schema, func(ctx *sql.Context) ([]sql.Row, error) {
			return metadataRows(ctx, func(entity string, meta sql.EntityMetadata) []sql.Row {
				var rows []sql.Row
				for _, a := range sortedAttributes(meta) {
					if !a.IsOptionSet {
						continue
					}
					rows = append(rows, sql.NewRow("optionset", schema, []sql.Value{
						sql.NewString(entity),
						sql.NewString(a.LogicalName),
					}))
				}
				return rows
			})
		}), schema, nil

	case "relationship":
		schema := sql.Schema{
			{Name: "entitylogicalname", Kind: sql.KindString},
			{Name: "name", Kind: sql.KindString},
			{Name: "fromentity", Kind: sql.KindString},
			{Name: "fromattribute", Kind: sql.KindString},
			{Name: "toentity", Kind: sql.KindString},
			{Name: "toattribute", Kind: sql.KindString},
		}
		return plan.NewMetadataScan(schema, func(ctx *sql.Context) ([]sql.Row, error) {
			return metadataRows(ctx, func(entity string, meta sql.EntityMetadata) []sql.Row {
				names := make([]string, 0, len(meta.Relationships))
				for n := range meta.Relationships {
					names = append(names, n)
				}
				sort.Strings(names)
				var rows []sql.Row
				for _, n := range names {
					r := meta.Relationships[n]
					rows = append(rows, sql.NewRow("relationship", schema, []sql.Value{
						sql.NewString(entity),
						sql.NewString(r.Name),
						sql.NewString(r.FromEntity),
						sql.NewString(r.FromAttribute),
						sql.NewString(r.ToEntity),
						sql.NewString(r.ToAttribute),
					}))
				}
				return rows
			})
		}), schema, nil

	default:
		return nil, nil, sql.ErrValidation.New(fmt.Sprintf("unknown metadata table %q", table))
	}
}

// metadataRows enumerates every entity and flattens perEntity's rows, in
// entity-name order so the virtual tables are stable across calls.
func metadataRows(ctx *sql.Context, perEntity func(entity string, meta sql.EntityMetadata) []sql.Row) ([]sql.Row, error) {
	names, err := ctx.Metadata.Entities(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	var rows []sql.Row
	for _, n := range names {
		meta, err := ctx.Metadata.Entity(ctx, n)
		if err != nil {
			return nil, err
		}
		rows = append(rows, perEntity(n, meta)...)
	}
	return rows, nil
}

func sortedAttributes(meta sql.EntityMetadata) []sql.AttributeMetadata {
	names := make([]string, 0, len(meta.Attributes))
	for n := range meta.Attributes {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]sql.AttributeMetadata, len(names))
	for i, n := range names {
		out[i] = meta.Attributes[n]
	}
	return out
}
