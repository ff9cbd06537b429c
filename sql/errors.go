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
	goerrors "gopkg.in/src-d/go-errors.v1"
)

// Code identifies one of the recognized error kinds. It lets
// callers switch on the failure without string-matching a message.
type Code string

const (
	CodeParse                  Code = "Parse"
	CodeValidation             Code = "Validation"
	CodeTypeMismatch           Code = "TypeMismatch"
	CodeAggregateLimitExceeded Code = "AggregateLimitExceeded"
	CodeMemoryLimit            Code = "MemoryLimit"
	CodePlanTimeout            Code = "PlanTimeout"
	CodeCancelled              Code = "Cancelled"
	CodeDmlBlocked             Code = "DmlBlocked"
	CodeRemoteFailure          Code = "RemoteFailure"
	CodeInternal               Code = "Internal"
)

// Retriable reports whether this code is marked as retriable.
// Only RemoteFailure is retriable, and then only per backend policy.
func (c Code) Retriable() bool { return c == CodeRemoteFailure }

// kind wraps a go-errors.v1 Kind with the Code it belongs to, so callers
// construct errors with the usual errors.NewKind(...).New(args...) shape
// and switch on Code without string matching.
type kind struct {
	code Code
	k    *goerrors.Kind
}

func newKind(code Code, message string) *kind {
	return &kind{code: code, k: goerrors.NewKind(message)}
}

// New constructs an error of this kind with the given format arguments.
func (k *kind) New(args ...interface{}) *QueryError {
	return &QueryError{Code: k.code, err: k.k.New(args...)}
}

// Is reports whether err was produced by this kind.
func (k *kind) Is(err error) bool {
	qe, ok := err.(*QueryError)
	return ok && qe.Code == k.code
}

// QueryError is the error type returned across the parser/planner/executor
// boundary. Position and Hint are optional, per the response contract in
// of shape { code, message, position?, hint? }.
type QueryError struct {
	Code     Code
	Position *Position
	Hint     string
	err      error
}

// Position is a source location, shared by parse errors and validation
// diagnostics.
type Position struct {
	Line   int
	Column int
	Offset int
}

func (e *QueryError) Error() string { return e.err.Error() }
func (e *QueryError) Unwrap() error { return e.err }

// WithHint returns a copy of e carrying a user-facing imperative hint, e.g.
// "add a WHERE clause".
func (e *QueryError) WithHint(hint string) *QueryError {
	cp := *e
	cp.Hint = hint
	return &cp
}

// WithPosition attaches a source position to e.
func (e *QueryError) WithPosition(p Position) *QueryError {
	cp := *e
	cp.Position = &p
	return &cp
}

// The recognized error kinds.
var (
	ErrParse                  = newKind(CodeParse, "parse error: %s")
	ErrValidation             = newKind(CodeValidation, "validation error: %s")
	ErrTypeMismatch           = newKind(CodeTypeMismatch, "type mismatch: %s")
	ErrAggregateLimitExceeded = newKind(CodeAggregateLimitExceeded, "aggregate query exceeds the 50,000 row backend ceiling: %s")
	ErrMemoryLimit            = newKind(CodeMemoryLimit, "materialization exceeded the configured row cap: %s")
	ErrPlanTimeout            = newKind(CodePlanTimeout, "query exceeded its wall-clock timeout: %s")
	ErrCancelled              = newKind(CodeCancelled, "cancelled after %s; in-flight requests may still complete server-side")
	ErrDmlBlocked             = newKind(CodeDmlBlocked, "statement blocked by the DML safety guard: %s")
	ErrRemoteFailure          = newKind(CodeRemoteFailure, "backend request failed: %s")
	ErrInternal               = newKind(CodeInternal, "internal error: %s")
)
