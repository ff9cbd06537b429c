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

// Package similartext builds "did you mean X?" suggestions for unresolved
// column, entity and function names, so a ValidationError can point at the
// likely typo instead of just naming what wasn't found.
package similartext

import (
	"fmt"
	"sort"
	"strings"
)

// maxDistance bounds how different a candidate can be from the input and
// still be offered as a suggestion; beyond this the candidate is
// considered unrelated rather than a typo.
const maxDistance = 3

// Find returns a ", maybe you mean X or Y?" suffix for the names in
// candidates closest to name, or "" if none are close enough to suggest.
func Find(candidates []string, name string) string {
	if name == "" {
		return ""
	}
	return format(closest(candidates, name))
}

// FindFromMap is Find over a map's keys.
func FindFromMap[V any](candidates map[string]V, name string) string {
	if name == "" {
		return ""
	}
	names := make([]string, 0, len(candidates))
	for k := range candidates {
		names = append(names, k)
	}
	sort.Strings(names)
	return format(closest(names, name))
}

func format(matches []string) string {
	if len(matches) == 0 {
		return ""
	}
	if len(matches) == 1 {
		return fmt.Sprintf(", maybe you mean %s?", matches[0])
	}
	return fmt.Sprintf(", maybe you mean %s?", strings.Join(matches, " or "))
}

// closest returns every candidate within maxDistance of name, at the
// smallest distance found, in input order.
func closest(candidates []string, name string) []string {
	best := maxDistance + 1
	var matches []string
	for _, c := range candidates {
		d := levenshtein(strings.ToLower(c), strings.ToLower(name))
		switch {
		case d > maxDistance:
			continue
		case d < best:
			best = d
			matches = []string{c}
		case d == best:
			matches = append(matches, c)
		}
	}
	return matches
}

// levenshtein computes single-character edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}
