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

// Package function is the global, extensible scalar function registry: a
// table of scalar functions keyed by case-insensitive name, each
// declaring an arity range and an invocation delegate. The registry is
// read-only after bootstrap, populated once from engine.New.
package function

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// Invoke is the delegate a registered function compiles down to.
type Invoke func(ctx *sql.Context, args []sql.Value) (sql.Value, error)

// Def is one function's registry entry.
type Def struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 for unbounded
	Fn      Invoke
}

// Registry is a case-insensitive, concurrency-safe function table.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Def
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Def)}
}

// Register adds or replaces a function definition.
func (r *Registry) Register(d Def) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[strings.ToUpper(d.Name)] = d
}

// Lookup returns the named function's definition.
func (r *Registry) Lookup(name string) (Def, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.funcs[strings.ToUpper(name)]
	return d, ok
}

// CheckArity validates an argument count against a Def's declared range.
func (d Def) CheckArity(n int) error {
	if n < d.MinArgs || (d.MaxArgs >= 0 && n > d.MaxArgs) {
		return fmt.Errorf("function %s takes between %d and %d arguments, got %d", d.Name, d.MinArgs, d.MaxArgs, n)
	}
	return nil
}

// Default returns the registry pre-populated with the built-in string, date
// and null-handling (ISNULL) functions. It registers no numeric conversion
// functions; CAST and CONVERT are compiled by the expression compiler, not
// looked up here.
func Default() *Registry {
	r := NewRegistry()
	registerStringFuncs(r)
	registerDateFuncs(r)
	registerNullFuncs(r)
	return r
}
