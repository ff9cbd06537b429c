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

package function

import "github.com/joshsmithxrm/ppds-sdk-sub001/sql"

// registerNullFuncs registers ISNULL as a two-argument registry function.
// COALESCE and NULLIF are compiled specially, so they live in the compiler rather than here.
func registerNullFuncs(r *Registry) {
	r.Register(Def{Name: "ISNULL", MinArgs: 2, MaxArgs: 2, Fn: func(ctx *sql.Context, args []sql.Value) (sql.Value, error) {
		if !args[0].IsNull() {
			return args[0], nil
		}
		return args[1], nil
	}})
}
