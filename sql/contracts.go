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

// This file defines the narrow interfaces this engine treats as
// "out of scope (external collaborators)": the backend query executor, the
// bulk write executor and the connection pool. Plan nodes depend only on
// these contracts, never on a concrete HTTP client, so the engine can be
// driven against a fake in tests (sql/plan's *_test.go files).

// FetchResult is the page a BackendExecutor returns for one FetchXML page.
type FetchResult struct {
	Records     []Row
	NextCookie  string
	MoreRecords bool
}

// TdsResult is what ExecuteTds streams back: a schema and a row source.
type TdsResult struct {
	Schema Schema
	Rows   RowIter
}

// BackendExecutor executes a FetchXML page or TDS statement and returns
// rows plus a paging cookie. The caller owns paging logic.
type BackendExecutor interface {
	ExecuteFetchXml(ctx *Context, fetchXml string, pageNumber int, pagingCookie string) (FetchResult, error)
	ExecuteTotalRecordCount(ctx *Context, entity string) (int64, error)
	ExecuteTds(ctx *Context, sql string) (TdsResult, error)
}

// WriteOutcome is the per-record result of a bulk write call.
type WriteOutcome struct {
	Index   int
	ID      string
	Error   error
}

// BulkWriteOptions carries the write-path options a bulk executor needs.
type BulkWriteOptions struct {
	BatchSize     int
	BypassPlugins bool
	BypassFlows   bool
	Progress      ProgressSink
}

// BulkWriteExecutor performs CreateMultiple/UpdateMultiple/DeleteMultiple
// given a stream of records, with its own connection pool
// and retry policy; the plan consumes it only through this interface.
type BulkWriteExecutor interface {
	CreateMultiple(ctx *Context, entity string, records []Row, opts BulkWriteOptions) ([]WriteOutcome, error)
	UpdateMultiple(ctx *Context, entity string, records []Row, opts BulkWriteOptions) ([]WriteOutcome, error)
	DeleteMultiple(ctx *Context, entity string, ids []string, opts BulkWriteOptions) ([]WriteOutcome, error)
}

// ConnectionPool multiplexes HTTP clients across auth profiles. Plan nodes
// request a logical "connection capacity" N; the pool enforces it
type ConnectionPool interface {
	// Capacity returns the logical capacity (max in-flight calls) for the
	// named environment label ("" is the default/local environment).
	Capacity(label string) int
	// Resolve returns the BackendExecutor and BulkWriteExecutor bound to
	// the named environment label, for cross-environment table references
	Resolve(label string) (BackendExecutor, BulkWriteExecutor, error)
	// IsProduction reports whether the named label is marked as a
	// Production profile.
	IsProduction(label string) bool
}

// EntityMetadata is the subset of entity/attribute/relationship metadata
// the planner and expression compiler need.
type EntityMetadata struct {
	LogicalName string
	Attributes  map[string]AttributeMetadata
	Relationships map[string]RelationshipMetadata
}

// AttributeMetadata describes one column of an entity.
type AttributeMetadata struct {
	LogicalName string
	Kind        Kind
	IsLookup    bool
	IsOptionSet bool
	Nullable    bool
}

// RelationshipMetadata describes a 1:N/N:1 link usable in a join.
type RelationshipMetadata struct {
	Name           string
	FromEntity     string
	FromAttribute  string
	ToEntity       string
	ToAttribute    string
}

// MetadataProvider is the narrow contract the planner, expression compiler
// and autocomplete consume.
type MetadataProvider interface {
	Entities(ctx *Context) ([]string, error)
	Entity(ctx *Context, logicalName string) (EntityMetadata, error)
	InvalidateEntity(logicalName string)
	InvalidateAll()
}

// ProgressPhase names the phases a ProgressSink reports.
type ProgressPhase string

const (
	PhaseExecuting    ProgressPhase = "Executing"
	PhasePartitioning ProgressPhase = "Partitioning"
	PhaseAggregating  ProgressPhase = "Aggregating"
	PhaseWriting      ProgressPhase = "Writing"
)

// ProgressSink receives phase changes and incremental counts.
type ProgressSink interface {
	Phase(phase ProgressPhase)
	Increment(n int)
	PartitionComplete(index, total int)
}

// NoopProgress discards all progress events; the default when a request
// does not supply one.
type NoopProgress struct{}

func (NoopProgress) Phase(ProgressPhase)          {}
func (NoopProgress) Increment(int)                {}
func (NoopProgress) PartitionComplete(int, int)   {}
