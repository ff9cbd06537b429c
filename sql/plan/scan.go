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
	"strings"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// MaxFetchPageSize is the backend's page-size ceiling: a FetchXML `count`
// attribute above this is rejected, so the planner's TOP pushdown clamps the
// rendered `count` to it. FetchXmlScan itself sends its FetchXML unchanged.
const MaxFetchPageSize = 5000

// FetchXmlScan is the leaf node that pages through one entity via the
// backend's FetchXML executor, following pagingCookie/moreRecords until
// exhausted. MaxRows stops paging once that many rows have been yielded
// (0 means unbounded), the client-side half of the TOP-plus-paging-cookie
// workaround described in NewFetchXmlScan's comment.
type FetchXmlScan struct {
	EnvLabel string
	Entity   string
	FetchXml string
	MaxRows  int64
	schema   sql.Schema
}

// NewFetchXmlScan builds a FetchXmlScan over schema, querying envLabel's
// backend ("" for the default/local environment). maxRows bounds the total
// rows the scan will ever yield across pages (0 for unbounded); it is set
// whenever the originating query carried a TOP above one page, since the
// backend rejects a fetch-level `top` alongside paging and the scan must
// stop itself once enough rows have come back.
func NewFetchXmlScan(envLabel, entity, fetchXml string, maxRows int64, schema sql.Schema) *FetchXmlScan {
	return &FetchXmlScan{EnvLabel: envLabel, Entity: entity, FetchXml: fetchXml, MaxRows: maxRows, schema: schema}
}

func (n *FetchXmlScan) Schema() sql.Schema { return n.schema }
func (n *FetchXmlScan) Children() []Node   { return nil }

func (n *FetchXmlScan) Description() string {
	return fmt.Sprintf("FetchXmlScan(entity=%s, env=%s)", n.Entity, envLabelOrLocal(n.EnvLabel))
}

func envLabelOrLocal(label string) string {
	if label == "" {
		return "local"
	}
	return label
}

func (n *FetchXmlScan) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	backend, _, err := resolveBackend(ctx, n.EnvLabel)
	if err != nil {
		return nil, err
	}
	return timed("FetchXmlScan", &fetchXmlIter{
		ctx: ctx, backend: backend, entity: n.Entity, schema: n.schema, fetchXml: n.FetchXml, maxRows: n.MaxRows,
	}), nil
}

func resolveBackend(ctx *sql.Context, envLabel string) (sql.BackendExecutor, sql.BulkWriteExecutor, error) {
	if envLabel == "" {
		if ctx.Pool == nil {
			return ctx.Backend, ctx.Bulk, nil
		}
		return ctx.Pool.Resolve("")
	}
	if ctx.Pool == nil {
		return nil, nil, sql.ErrInternal.New("cross-environment table reference requires a connection pool")
	}
	return ctx.Pool.Resolve(envLabel)
}

type fetchXmlIter struct {
	ctx      *sql.Context
	backend  sql.BackendExecutor
	entity   string
	schema   sql.Schema
	fetchXml string
	maxRows  int64

	page    []sql.Row
	pos     int
	pageNum int
	cookie  string
	more    bool
	done    bool // true once a page with MoreRecords=false has been fetched; no further page is requested
	yielded int64
}

func (it *fetchXmlIter) Next(ctx *sql.Context) (sql.Row, error) {
	for {
		if err := ctx.Err(); err != nil {
			return sql.Row{}, err
		}
		if it.maxRows > 0 && it.yielded >= it.maxRows {
			return sql.Row{}, io.EOF
		}
		if it.pos < len(it.page) {
			r := it.page[it.pos]
			it.pos++
			it.yielded++
			return r, nil
		}
		if it.done {
			return sql.Row{}, io.EOF
		}
		if err := it.fetchNextPage(ctx); err != nil {
			return sql.Row{}, err
		}
	}
}

// aggregateLimitMarkers are backend error-message substrings indicating the
// Dataverse aggregate-record ceiling was hit, distinguished from an ordinary
// transport failure so the planner's partitioned fallback can catch it.
var aggregateLimitMarkers = []string{
	"AggregateQueryRecordLimitExceeded",
	"aggregate query has exceeded the maximum number of records",
}

func classifyFetchError(err error) error {
	msg := err.Error()
	for _, marker := range aggregateLimitMarkers {
		if strings.Contains(msg, marker) {
			return sql.ErrAggregateLimitExceeded.New(msg)
		}
	}
	if strings.Contains(strings.ToLower(msg), "aggregate") && strings.Contains(strings.ToLower(msg), "limit") {
		return sql.ErrAggregateLimitExceeded.New(msg)
	}
	return sql.ErrRemoteFailure.New(msg)
}

func (it *fetchXmlIter) fetchNextPage(ctx *sql.Context) error {
	it.pageNum++
	res, err := it.backend.ExecuteFetchXml(ctx, it.fetchXml, it.pageNum, it.cookie)
	if err != nil {
		return classifyFetchError(err)
	}
	ctx.Stats.AddPages(1)
	it.page = res.Records
	it.pos = 0
	it.cookie = res.NextCookie
	it.done = !res.MoreRecords
	return nil
}

func (it *fetchXmlIter) Close(ctx *sql.Context) error { return nil }

// TdsScan executes a read-only SQL passthrough against the TDS replica
type TdsScan struct {
	EnvLabel string
	SQL      string
	schema   sql.Schema
}

func NewTdsScan(envLabel, sqlText string, schema sql.Schema) *TdsScan {
	return &TdsScan{EnvLabel: envLabel, SQL: sqlText, schema: schema}
}

func (n *TdsScan) Schema() sql.Schema  { return n.schema }
func (n *TdsScan) Children() []Node    { return nil }
func (n *TdsScan) Description() string { return fmt.Sprintf("TdsScan(env=%s)", envLabelOrLocal(n.EnvLabel)) }

func (n *TdsScan) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	backend, _, err := resolveBackend(ctx, n.EnvLabel)
	if err != nil {
		return nil, err
	}
	res, err := backend.ExecuteTds(ctx, n.SQL)
	if err != nil {
		return nil, sql.ErrRemoteFailure.New(err.Error())
	}
	return timed("TdsScan", res.Rows), nil
}

// MetadataScan serves queries against the virtual entity-metadata surface
// (e.g. `SELECT * FROM sys.entities`), backed by sql.MetadataProvider
// rather than the FetchXML/TDS backends.
type MetadataScan struct {
	schema sql.Schema
	rows   func(ctx *sql.Context) ([]sql.Row, error)
}

func NewMetadataScan(schema sql.Schema, rows func(ctx *sql.Context) ([]sql.Row, error)) *MetadataScan {
	return &MetadataScan{schema: schema, rows: rows}
}

func (n *MetadataScan) Schema() sql.Schema  { return n.schema }
func (n *MetadataScan) Children() []Node    { return nil }
func (n *MetadataScan) Description() string { return "MetadataScan" }

func (n *MetadataScan) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	rows, err := n.rows(ctx)
	if err != nil {
		return nil, err
	}
	return timed("MetadataScan", sql.NewSliceIter(rows)), nil
}

// countFallbackAlias is the column alias CountOptimized's FetchXML fallback
// requests the aggregate count under, regardless of the statement's own
// output alias (that renaming happens once the row comes back).
const countFallbackAlias = "total_count"

// CountOptimized serves a bare `SELECT COUNT(*) FROM entity` by calling the
// backend's dedicated total-record-count endpoint instead of paging every
// row through FetchXML. That endpoint is a best-effort statistic on some
// Dataverse deployments and can itself fail or time out; when it does, the
// node falls back to a server-side FetchXML aggregate count instead of
// paging the whole table client-side.
type CountOptimized struct {
	EnvLabel string
	Entity   string
	Alias    string
}

func NewCountOptimized(envLabel, entity, alias string) *CountOptimized {
	return &CountOptimized{EnvLabel: envLabel, Entity: entity, Alias: alias}
}

// fallbackFetchXml builds the `aggregate="true"` equivalent of this count,
// used when the dedicated total-record-count endpoint errors out.
func (n *CountOptimized) fallbackFetchXml() string {
	return fmt.Sprintf(
		`<fetch aggregate="true"><entity name="%s"><attribute name="%s" alias="%s" aggregate="count"/></entity></fetch>`,
		scanXmlEscape(n.Entity), scanXmlEscape(n.Entity+"id"), countFallbackAlias,
	)
}

// scanXmlEscape escapes the handful of characters that matter inside an
// attribute value in the small FetchXML fragments this file generates.
func scanXmlEscape(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

func (n *CountOptimized) Schema() sql.Schema {
	name := n.Alias
	if name == "" {
		name = "count"
	}
	return sql.Schema{{Name: name, Kind: sql.KindBigInt, IsAggregate: true}}
}

func (n *CountOptimized) Children() []Node { return nil }
func (n *CountOptimized) Description() string {
	return fmt.Sprintf("CountOptimized(entity=%s)", n.Entity)
}

func (n *CountOptimized) Execute(ctx *sql.Context, row sql.Row) (sql.RowIter, error) {
	backend, _, err := resolveBackend(ctx, n.EnvLabel)
	if err != nil {
		return nil, err
	}
	count, err := backend.ExecuteTotalRecordCount(ctx, n.Entity)
	if err != nil {
		count, err = n.fallbackCount(ctx, backend)
		if err != nil {
			return nil, err
		}
	}
	r := sql.NewRow(n.Entity, n.Schema(), []sql.Value{sql.NewInt(count)})
	return timed("CountOptimized", sql.NewSliceIter([]sql.Row{r})), nil
}

// fallbackCount runs the FetchXML aggregate-count equivalent of this node
// when the fast total-record-count endpoint has failed.
func (n *CountOptimized) fallbackCount(ctx *sql.Context, backend sql.BackendExecutor) (int64, error) {
	res, err := backend.ExecuteFetchXml(ctx, n.fallbackFetchXml(), 1, "")
	if err != nil {
		return 0, classifyFetchError(err)
	}
	ctx.Stats.AddPages(1)
	if len(res.Records) == 0 {
		return 0, nil
	}
	v, ok := res.Records[0].Get(countFallbackAlias)
	if !ok {
		return 0, sql.ErrRemoteFailure.New("FetchXML aggregate count fallback did not return a " + countFallbackAlias + " column")
	}
	return v.AsInt(), nil
}
