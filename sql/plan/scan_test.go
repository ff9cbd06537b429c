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

// fakeBackend pages through a fixed list of pages, one per call to
// ExecuteFetchXml, and records how many times each entry point was hit.
type fakeBackend struct {
	pages       []sql.FetchResult
	pageCalls   int
	countResult int64
	tdsResult   sql.TdsResult
}

func (f *fakeBackend) ExecuteFetchXml(ctx *sql.Context, fetchXml string, pageNumber int, pagingCookie string) (sql.FetchResult, error) {
	idx := pageNumber - 1
	f.pageCalls++
	if idx < 0 || idx >= len(f.pages) {
		return sql.FetchResult{}, nil
	}
	return f.pages[idx], nil
}

func (f *fakeBackend) ExecuteTotalRecordCount(ctx *sql.Context, entity string) (int64, error) {
	return f.countResult, nil
}

func (f *fakeBackend) ExecuteTds(ctx *sql.Context, sqlText string) (sql.TdsResult, error) {
	return f.tdsResult, nil
}

func scanSchema() sql.Schema {
	return sql.Schema{{Name: "name", Kind: sql.KindString}}
}

func scanRow(name string) sql.Row {
	return sql.NewRow("account", scanSchema(), []sql.Value{sql.NewString(name)})
}

func TestFetchXmlScanPagesUntilMoreRecordsIsFalse(t *testing.T) {
	backend := &fakeBackend{pages: []sql.FetchResult{
		{Records: []sql.Row{scanRow("A"), scanRow("B")}, NextCookie: "c1", MoreRecords: true},
		{Records: []sql.Row{scanRow("C")}, MoreRecords: false},
	}}
	ctx := sql.NewContext(nil, backend, nil, nil, nil, sql.PlanOptions{}, sql.DmlSafety{}, nil)

	scan := NewFetchXmlScan("", "account", "<fetch/>", 0, scanSchema())
	iter, err := scan.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)

	require.Equal(t, []string{"A", "B", "C"}, namesOf(t, rows, "name"))
	require.Equal(t, 2, backend.pageCalls)
	require.Equal(t, int64(2), ctx.Stats.Pages)
}

func TestFetchXmlScanStopsAtMaxRowsAcrossTwoPages(t *testing.T) {
	// TOP 7000 over a backend whose pages are clamped to the 5000-row
	// ceiling: the scan must auto-page at most twice and stop at 7000
	// rows, not keep paging to drain the second page fully.
	page1 := make([]sql.Row, MaxFetchPageSize)
	for i := range page1 {
		page1[i] = scanRow("A")
	}
	page2 := make([]sql.Row, MaxFetchPageSize)
	for i := range page2 {
		page2[i] = scanRow("B")
	}
	backend := &fakeBackend{pages: []sql.FetchResult{
		{Records: page1, NextCookie: "c1", MoreRecords: true},
		{Records: page2, NextCookie: "c2", MoreRecords: true},
	}}
	ctx := sql.NewContext(nil, backend, nil, nil, nil, sql.PlanOptions{}, sql.DmlSafety{}, nil)

	scan := NewFetchXmlScan("", "account", `<fetch count="5000"><entity name="account"/></fetch>`, 7000, scanSchema())
	iter, err := scan.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)

	require.Len(t, rows, 7000)
	require.Equal(t, 2, backend.pageCalls)
}

func TestFetchXmlScanClassifiesAggregateLimitFailure(t *testing.T) {
	backend := &erroringBackend{err: errorsNew("AggregateQueryRecordLimitExceeded: the query has exceeded 50000 records")}
	ctx := sql.NewContext(nil, backend, nil, nil, nil, sql.PlanOptions{}, sql.DmlSafety{}, nil)

	scan := NewFetchXmlScan("", "account", `<fetch aggregate="true"/>`, 0, scanSchema())
	iter, err := scan.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	_, err = sql.RowIterToRows(ctx, iter)
	require.Error(t, err)
	require.True(t, sql.ErrAggregateLimitExceeded.Is(err))
}

type erroringBackend struct{ err error }

func (f *erroringBackend) ExecuteFetchXml(ctx *sql.Context, fetchXml string, pageNumber int, pagingCookie string) (sql.FetchResult, error) {
	return sql.FetchResult{}, f.err
}
func (f *erroringBackend) ExecuteTotalRecordCount(ctx *sql.Context, entity string) (int64, error) {
	return 0, f.err
}
func (f *erroringBackend) ExecuteTds(ctx *sql.Context, sqlText string) (sql.TdsResult, error) {
	return sql.TdsResult{}, f.err
}

func errorsNew(msg string) error { return &simpleErr{msg: msg} }

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }

func TestFetchXmlScanStopsAfterSinglePageWhenNoMoreRecords(t *testing.T) {
	backend := &fakeBackend{pages: []sql.FetchResult{
		{Records: []sql.Row{scanRow("A")}, MoreRecords: false},
	}}
	ctx := sql.NewContext(nil, backend, nil, nil, nil, sql.PlanOptions{}, sql.DmlSafety{}, nil)

	scan := NewFetchXmlScan("", "account", "<fetch/>", 0, scanSchema())
	iter, err := scan.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	require.Equal(t, 1, backend.pageCalls)
}

func TestCountOptimizedUsesTotalRecordCountEndpoint(t *testing.T) {
	backend := &fakeBackend{countResult: 12345}
	ctx := sql.NewContext(nil, backend, nil, nil, nil, sql.PlanOptions{}, sql.DmlSafety{}, nil)

	co := NewCountOptimized("", "account", "total")
	iter, err := co.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	v, ok := rows[0].Get("total")
	require.True(t, ok)
	require.Equal(t, int64(12345), v.AsInt())
}

func TestCountOptimizedFallsBackToFetchXmlAggregateOnError(t *testing.T) {
	backend := &countFailingBackend{
		countErr: errorsNew("total record count endpoint timed out"),
		aggregateRow: sql.NewRow("account", sql.Schema{{Name: countFallbackAlias, Kind: sql.KindBigInt}},
			[]sql.Value{sql.NewInt(42)}),
	}
	ctx := sql.NewContext(nil, backend, nil, nil, nil, sql.PlanOptions{}, sql.DmlSafety{}, nil)

	co := NewCountOptimized("", "account", "total")
	iter, err := co.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	v, ok := rows[0].Get("total")
	require.True(t, ok)
	require.Equal(t, int64(42), v.AsInt())
}

type countFailingBackend struct {
	countErr     error
	aggregateRow sql.Row
}

func (f *countFailingBackend) ExecuteFetchXml(ctx *sql.Context, fetchXml string, pageNumber int, pagingCookie string) (sql.FetchResult, error) {
	return sql.FetchResult{Records: []sql.Row{f.aggregateRow}, MoreRecords: false}, nil
}
func (f *countFailingBackend) ExecuteTotalRecordCount(ctx *sql.Context, entity string) (int64, error) {
	return 0, f.countErr
}
func (f *countFailingBackend) ExecuteTds(ctx *sql.Context, sqlText string) (sql.TdsResult, error) {
	return sql.TdsResult{}, nil
}

func TestTdsScanReturnsBackendRows(t *testing.T) {
	schema := scanSchema()
	backend := &fakeBackend{tdsResult: sql.TdsResult{
		Schema: schema,
		Rows:   sql.NewSliceIter([]sql.Row{scanRow("X"), scanRow("Y")}),
	}}
	ctx := sql.NewContext(nil, backend, nil, nil, nil, sql.PlanOptions{}, sql.DmlSafety{}, nil)

	scan := NewTdsScan("", "SELECT name FROM account", schema)
	iter, err := scan.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	rows, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.Equal(t, []string{"X", "Y"}, namesOf(t, rows, "name"))
}

func TestMetadataScanReturnsProvidedRows(t *testing.T) {
	ctx := newTestCtx()
	schema := scanSchema()
	rows := []sql.Row{scanRow("account"), scanRow("contact")}
	scan := NewMetadataScan(schema, func(ctx *sql.Context) ([]sql.Row, error) { return rows, nil })

	iter, err := scan.Execute(ctx, sql.Row{})
	require.NoError(t, err)
	got, err := sql.RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.Equal(t, []string{"account", "contact"}, namesOf(t, got, "name"))
}
