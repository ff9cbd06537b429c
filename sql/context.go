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

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// PlanOptions is the per-request planning and execution configuration
// surface. Prefetching is on unless explicitly disabled, so the flag is
// expressed as DisablePrefetch and the zero value carries the default.
type PlanOptions struct {
	DisablePrefetch        bool
	PrefetchBuffer         int
	MaxMaterializationRows int
	MaxRows                *int64
	MaxParallelism         int
	DmlRowCap              *int64
	TimeoutMs              int
	UseReplica             bool
	PoolCapacity           *int

	// BatchSize, BypassPlugins, BypassFlows, UseTds, NoLock, HashGroup are
	// per-query hints.
	BatchSize     int
	BypassPlugins bool
	BypassFlows   bool
	UseTds        bool
	NoLock        bool
	HashGroup     bool
}

// WithDefaults fills the zero-value fields of o with this engine's stated
// defaults.
func (o PlanOptions) WithDefaults() PlanOptions {
	if o.PrefetchBuffer == 0 {
		o.PrefetchBuffer = 5000
	}
	if o.MaxMaterializationRows == 0 {
		o.MaxMaterializationRows = 500000
	}
	if o.TimeoutMs == 0 {
		o.TimeoutMs = 300000
	}
	if o.MaxParallelism == 0 {
		o.MaxParallelism = 8
	}
	if o.BatchSize == 0 {
		o.BatchSize = 100
	}
	return o
}

// DmlSafety carries the write-safety flags a caller sets per request.
type DmlSafety struct {
	Confirmed bool
	DryRun    bool
	NoLimit   bool
	RowCap    int64
}

// WithDefaults applies the default DML row cap (10,000).
func (d DmlSafety) WithDefaults() DmlSafety {
	if d.RowCap == 0 && !d.NoLimit {
		d.RowCap = 10000
	}
	if d.NoLimit {
		d.RowCap = 0 // 0 means unbounded downstream
	}
	return d
}

// Statistics accumulates per-node metrics for EXPLAIN ANALYZE and
// telemetry.
type Statistics struct {
	mu          sync.Mutex
	RowsEmitted int64
	Pages       int64
	started     time.Time
	NodeTimings map[string]time.Duration
}

// NewStatistics returns a Statistics accumulator with its clock started.
func NewStatistics() *Statistics {
	return &Statistics{started: time.Now(), NodeTimings: make(map[string]time.Duration)}
}

func (s *Statistics) AddRows(n int64)  { atomic.AddInt64(&s.RowsEmitted, n) }
func (s *Statistics) AddPages(n int64) { atomic.AddInt64(&s.Pages, n) }

// RecordNode adds d to the accumulated time spent under the named node
// kind ("FetchXmlScan", "HashJoin", ...).
func (s *Statistics) RecordNode(name string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NodeTimings[name] += d
}

// Elapsed returns the wall-clock time since the statistics accumulator was
// created.
func (s *Statistics) Elapsed() time.Duration { return time.Since(s.started) }

// Context is the per-execution bag threaded through planning and
// execution. It owns cancellation and lives for the duration of one
// request; plan nodes are never reused across two Contexts.
type Context struct {
	goCtx   context.Context
	cancel  context.CancelFunc

	Backend  BackendExecutor
	Bulk     BulkWriteExecutor
	Metadata MetadataProvider
	Pool     ConnectionPool
	Progress ProgressSink
	Stats    *Statistics
	Options  PlanOptions
	Safety   DmlSafety

	Logger *logrus.Entry

	varMu     sync.RWMutex
	variables map[string]Value
}

// NewContext builds a Context for one request. goCtx supplies the
// cancellation/timeout the caller wants observed; a nil goCtx defaults to
// context.Background().
func NewContext(goCtx context.Context, backend BackendExecutor, bulk BulkWriteExecutor, meta MetadataProvider, pool ConnectionPool, opts PlanOptions, safety DmlSafety, logger *logrus.Entry) *Context {
	if goCtx == nil {
		goCtx = context.Background()
	}
	opts = opts.WithDefaults()
	var cancel context.CancelFunc
	if opts.TimeoutMs > 0 {
		goCtx, cancel = context.WithTimeout(goCtx, time.Duration(opts.TimeoutMs)*time.Millisecond)
	} else {
		goCtx, cancel = context.WithCancel(goCtx)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Context{
		goCtx:     goCtx,
		cancel:    cancel,
		Backend:   backend,
		Bulk:      bulk,
		Metadata:  meta,
		Pool:      pool,
		Progress:  NoopProgress{},
		Stats:     NewStatistics(),
		Options:   opts,
		Safety:    safety.WithDefaults(),
		Logger:    logger,
		variables: make(map[string]Value),
	}
}

// GoContext exposes the underlying context.Context for passing to the
// backend's HTTP calls.
func (c *Context) GoContext() context.Context { return c.goCtx }

// Cancel fires cooperative cancellation. Safe to call more than once.
func (c *Context) Cancel() { c.cancel() }

// Err returns the cancellation/timeout error if the context has been
// cancelled, translated to the engine's own error kinds.
func (c *Context) Err() error {
	select {
	case <-c.goCtx.Done():
		if c.goCtx.Err() == context.DeadlineExceeded {
			return ErrPlanTimeout.New(c.Stats.Elapsed())
		}
		return ErrCancelled.New(c.Stats.Elapsed())
	default:
		return nil
	}
}

// Done returns a channel closed when the Context is cancelled, for use in
// select statements inside suspension points.
func (c *Context) Done() <-chan struct{} { return c.goCtx.Done() }

// SetVariable stores a session variable (DECLARE/SET).
func (c *Context) SetVariable(name string, v Value) {
	c.varMu.Lock()
	defer c.varMu.Unlock()
	c.variables[name] = v
}

// Variable reads a session variable; returns Null and false if unset.
func (c *Context) Variable(name string) (Value, bool) {
	c.varMu.RLock()
	defer c.varMu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}
