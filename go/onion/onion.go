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

// Package onion models the encryption-scheme algebra: which encrypted
// representation of a value supports which server-side operation, and which
// representations exist for each column or precomputed expression.
package onion

import (
	"math/bits"
	"strings"
)

// Onion is a bitmask over the supported encryption schemes.
type Onion uint32

// The onion bits. The declaration order is load-bearing: every "first onion
// that works" decision in the planner walks bits in this order.
const (
	PLAIN Onion = 1 << iota
	DET
	OPE
	HOM
	HOMRowDesc
	HOMAgg
	SWP

	numOnions = 7
)

// Onion classes.
const (
	// All is every onion.
	All = PLAIN | DET | OPE | HOM | HOMRowDesc | HOMAgg | SWP
	// Countable onions can feed COUNT(expr).
	Countable = DET | OPE | HOMRowDesc | SWP
	// Comparable onions support equality.
	Comparable = DET | OPE
	// IEqualComparable onions support ordering.
	IEqualComparable = OPE
	// None is the empty mask.
	None Onion = 0
)

var onionNames = [numOnions]string{"PLAIN", "DET", "OPE", "HOM", "HOM_ROW_DESC", "HOM_AGG", "SWP"}

// String renders a single-bit onion as its physical name, and a multi-bit
// mask as a |-joined list.
func (o Onion) String() string {
	if o == None {
		return "NONE"
	}
	var parts []string
	for i := 0; i < numOnions; i++ {
		if o&(1<<uint(i)) != 0 {
			parts = append(parts, onionNames[i])
		}
	}
	return strings.Join(parts, "|")
}

// ByName maps a physical onion name back to its bit.
func ByName(name string) (Onion, bool) {
	for i, n := range onionNames {
		if n == name {
			return 1 << uint(i), true
		}
	}
	return None, false
}

// Contains reports whether every bit of sub is in o.
func (o Onion) Contains(sub Onion) bool {
	return o&sub == sub
}

// IsSingle reports whether exactly one bit is set.
func (o Onion) IsSingle() bool {
	return o != None && o&(o-1) == None
}

// PickOne returns the first set bit, in declaration order.
// It panics on the empty mask.
func (o Onion) PickOne() Onion {
	if o == None {
		panic("PickOne on empty onion mask")
	}
	return 1 << uint(bits.TrailingZeros32(uint32(o)))
}

// ToSeq returns the set bits in declaration order, one entry per bit.
func (o Onion) ToSeq() []Onion {
	var seq []Onion
	for i := 0; i < numOnions; i++ {
		if bit := Onion(1 << uint(i)); o&bit != 0 {
			seq = append(seq, bit)
		}
	}
	return seq
}

// CompleteSeqWithPreference returns all onion bits, those of o first (in
// declaration order), then the remaining bits.
func (o Onion) CompleteSeqWithPreference() []Onion {
	seq := o.ToSeq()
	return append(seq, (All &^ o).ToSeq()...)
}
