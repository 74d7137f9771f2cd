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

import "fmt"

// HomGroupRef identifies one packed HOM group of a table.
type HomGroupRef struct {
	Table string
	Group int
}

func (r HomGroupRef) String() string {
	return fmt.Sprintf("HOM_GROUP(%s, %d)", r.Table, r.Group)
}

// ColType is the onion type of one tuple position: the onion the value is
// under, the vector flag (a GROUP_CONCAT-packed sequence representing one
// group), and, for HOM aggregate sinks, the packed group the ciphertext
// belongs to.
type ColType struct {
	Onion  Onion
	Vector bool
	Hom    *HomGroupRef
}

// Plain is the ColType of an unencrypted scalar.
var Plain = ColType{Onion: PLAIN}

// NewColType returns a scalar ColType under o.
func NewColType(o Onion) ColType {
	return ColType{Onion: o}
}

// HomAggType returns the ColType of a hom_agg output over the given group.
func HomAggType(table string, group int) ColType {
	return ColType{Onion: HOMAgg, Hom: &HomGroupRef{Table: table, Group: group}}
}

// IsPlain reports whether the position needs no decryption.
func (t ColType) IsPlain() bool {
	return t.Onion == PLAIN
}

func (t ColType) String() string {
	s := t.Onion.String()
	if t.Hom != nil {
		s = t.Hom.String()
	}
	if t.Vector {
		s += "[vector]"
	}
	return s
}

// HomDesc names one slot of a packed HOM group: the table, the group id and
// the position of the expression within the packed ciphertext row.
type HomDesc struct {
	Table string
	Group int
	Pos   int
}

func (h HomDesc) String() string {
	return fmt.Sprintf("hom(%s, %d, %d)", h.Table, h.Group, h.Pos)
}
