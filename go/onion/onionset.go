/*
Copyright 2024 The Monomi Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package onion

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"github.com/liuyi1112/monomi-optimizer/go/schema"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

// Set catalogs which onions exist for each (table, canonical expression),
// plus the packed HOM groups of each table. Expressions are keyed by their
// canonical SQL text: aliases resolved, qualifiers stripped, no scope. Any
// two syntactically identical expressions collide, which is the point.
type Set struct {
	opts   map[string]map[string]Onion
	packed map[string][][]string
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{
		opts:   make(map[string]map[string]Onion),
		packed: make(map[string][][]string),
	}
}

// Key returns the canonical lookup key for an expression.
func Key(e sqlast.Expr) string {
	return sqlast.CanonicalString(e)
}

// Add records an onion for the canonical expression of table.
func (s *Set) Add(table string, e sqlast.Expr, o Onion) {
	s.AddKey(table, Key(e), o)
}

// AddKey is Add for a precomputed canonical key.
func (s *Set) AddKey(table, key string, o Onion) {
	m, ok := s.opts[table]
	if !ok {
		m = make(map[string]Onion)
		s.opts[table] = m
	}
	m[key] |= o
}

// Lookup returns the physical base name and onion mask stored for the
// canonical expression of table.
func (s *Set) Lookup(table string, e sqlast.Expr) (string, Onion, bool) {
	return s.LookupKey(table, Key(e))
}

// LookupKey is Lookup for a precomputed canonical key.
func (s *Set) LookupKey(table, key string) (string, Onion, bool) {
	m, ok := s.opts[table]
	if !ok {
		return "", None, false
	}
	o, ok := m[key]
	if !ok || o == None {
		return "", None, false
	}
	return BaseName(key), o, true
}

// AddPackedHOMGroup opens a new packed group for table and returns its id.
func (s *Set) AddPackedHOMGroup(table string, keys ...string) int {
	s.packed[table] = append(s.packed[table], keys)
	return len(s.packed[table]) - 1
}

// AddPackedHOMToLastGroup appends the canonical expression to the last
// packed group of table, opening the first group if none exists. Duplicate
// slots within a group are not created.
func (s *Set) AddPackedHOMToLastGroup(table string, e sqlast.Expr) {
	key := Key(e)
	groups := s.packed[table]
	if len(groups) == 0 {
		s.packed[table] = [][]string{{key}}
		return
	}
	last := groups[len(groups)-1]
	for _, k := range last {
		if k == key {
			return
		}
	}
	groups[len(groups)-1] = append(last, key)
}

// LookupPackedHOM returns every (group, position) slot holding the
// canonical expression of table.
func (s *Set) LookupPackedHOM(table string, e sqlast.Expr) []HomDesc {
	return s.LookupPackedHOMKey(table, Key(e))
}

// LookupPackedHOMKey is LookupPackedHOM for a precomputed canonical key.
func (s *Set) LookupPackedHOMKey(table, key string) []HomDesc {
	var descs []HomDesc
	for g, group := range s.packed[table] {
		for p, k := range group {
			if k == key {
				descs = append(descs, HomDesc{Table: table, Group: g, Pos: p})
			}
		}
	}
	return descs
}

// PackedGroups returns the packed groups of table.
func (s *Set) PackedGroups(table string) [][]string {
	return s.packed[table]
}

// Complete fills in DET for every base column the set does not cover, so
// that every column has at least one usable onion.
func (s *Set) Complete(defns *schema.Definitions) {
	for _, name := range defns.TableNames() {
		table, _ := defns.Find(name)
		for _, col := range table.Columns {
			if _, o, ok := s.LookupKey(name, col.Name); !ok || o == None {
				s.AddKey(name, col.Name, DET)
			}
		}
	}
}

// Merge unions the other set into this one. Identical packed groups are not
// duplicated.
func (s *Set) Merge(other *Set) {
	for table, m := range other.opts {
		for key, o := range m {
			s.AddKey(table, key, o)
		}
	}
	for table, groups := range other.packed {
	nextGroup:
		for _, group := range groups {
			for _, have := range s.packed[table] {
				if sameGroup(have, group) {
					continue nextGroup
				}
			}
			s.packed[table] = append(s.packed[table], append([]string(nil), group...))
		}
	}
}

// Clone returns a deep copy.
func (s *Set) Clone() *Set {
	out := NewSet()
	out.Merge(s)
	return out
}

func sameGroup(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Tables returns all table names appearing in the set, sorted.
func (s *Set) Tables() []string {
	seen := make(map[string]bool)
	for table := range s.opts {
		seen[table] = true
	}
	for table := range s.packed {
		seen[table] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Keys returns the canonical expression keys recorded for table, sorted.
func (s *Set) Keys(table string) []string {
	keys := make([]string, 0, len(s.opts[table]))
	for key := range s.opts[table] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Fingerprint returns a canonical textual form of the set, usable for
// deduplication.
func (s *Set) Fingerprint() string {
	var b strings.Builder
	for _, table := range s.Tables() {
		fmt.Fprintf(&b, "%s{", table)
		for _, key := range s.Keys(table) {
			fmt.Fprintf(&b, "%s:%s;", key, s.opts[table][key])
		}
		for _, group := range s.packed[table] {
			fmt.Fprintf(&b, "hom[%s];", strings.Join(group, "|"))
		}
		b.WriteString("}")
	}
	return b.String()
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// BaseName derives the physical base name encrypted columns of a canonical
// expression hang off: the column name itself for plain references, a
// stable digest-derived name for precomputed expressions.
func BaseName(key string) string {
	if identRE.MatchString(key) {
		return key
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return fmt.Sprintf("precomp_%08x", h.Sum32())
}
