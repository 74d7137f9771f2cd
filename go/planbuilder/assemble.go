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

package planbuilder

import (
	"sort"

	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/plan"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

// assemble builds the plan tree around the rewritten server statement:
// filters, group filters, the projection transform, order-by, limit, and
// the encryption-context finalization.
func (p *planner) assemble() (plan.Node, error) {
	desc := make([]onion.ColType, len(p.finalProjs))
	for i, sp := range p.finalProjs {
		p.cur.Projections = append(p.cur.Projections, &sqlast.AliasedExpr{Expr: sp.expr, As: sp.as})
		desc[i] = sp.ct
	}
	var cur plan.Node = &plan.RemoteSql{Stmt: p.cur, Desc: desc, Subplans: p.subplans}

	for _, comp := range p.localFilters {
		cur = wrapDecrypt(cur, comp.ReadPositions())
		cur = &plan.LocalFilter{Comp: comp, Child: cur}
	}
	for _, comp := range p.localGroupFilters {
		cur = wrapDecrypt(cur, comp.ReadPositions())
		cur = &plan.LocalGroupFilter{Comp: comp, Child: cur}
	}

	cur, auxOut, err := p.emitTransform(cur)
	if err != nil {
		return nil, err
	}

	if len(p.localOrder) > 0 {
		keys := make([]plan.OrderKey, len(p.localOrder))
		var sortReads []int
		for i, spec := range p.localOrder {
			pos := spec.projIdx
			if pos < 0 {
				pos = auxOut[spec.auxIdx]
			}
			keys[i] = plan.OrderKey{Pos: pos, Direction: spec.direction, OPECompare: spec.opeOnly}
			if !spec.opeOnly {
				sortReads = append(sortReads, pos)
			}
		}
		cur = wrapDecrypt(cur, sortReads)
		cur = &plan.LocalOrderBy{Keys: keys, Child: cur}
		if len(auxOut) > 0 {
			// Project the auxiliary sort columns back out.
			outputs := make([]plan.TransformOutput, len(p.projSlots))
			for i := range outputs {
				outputs[i] = plan.TransformOutput{Pos: i}
			}
			cur = &plan.LocalTransform{Outputs: outputs, Child: cur}
		}
	}

	if p.localLimit != nil {
		cur = &plan.LocalLimit{Rowcount: *p.localLimit, Child: cur}
	}

	return p.finalize(cur)
}

// emitTransform emits the projection LocalTransform when the encryption
// context calls for projected output. It returns the mapping from auxiliary
// server slots (client order-by keys) to their post-transform positions.
func (p *planner) emitTransform(cur plan.Node) (plan.Node, map[int]int, error) {
	if _, ok := p.ectx.(PreserveCardinality); ok {
		return cur, nil, nil
	}

	outputs := make([]plan.TransformOutput, 0, len(p.projSlots))
	for _, slot := range p.projSlots {
		if slot.comp != nil {
			outputs = append(outputs, plan.TransformOutput{Comp: slot.comp})
		} else {
			outputs = append(outputs, plan.TransformOutput{Pos: slot.passIdx})
		}
	}
	auxOut := make(map[int]int)
	for _, spec := range p.localOrder {
		if spec.auxIdx < 0 {
			continue
		}
		if _, ok := auxOut[spec.auxIdx]; !ok {
			auxOut[spec.auxIdx] = len(outputs)
			outputs = append(outputs, plan.TransformOutput{Pos: spec.auxIdx})
		}
	}

	// Decrypt what the transform consumes: every computed slot's reads,
	// and, when the caller wants plaintext, the pass-through outputs.
	childDesc := cur.TupleDesc()
	reads := make(map[int]bool)
	for _, out := range outputs {
		if out.Comp != nil {
			for _, pos := range out.Comp.ReadPositions() {
				reads[pos] = true
			}
		}
	}
	if _, ok := p.ectx.(PreserveOriginal); ok {
		for _, slot := range p.projSlots {
			if slot.comp == nil {
				reads[slot.passIdx] = true
			}
		}
	}
	var readList []int
	for pos := range reads {
		readList = append(readList, pos)
	}
	sort.Ints(readList)
	cur = wrapDecrypt(cur, readList)

	identity := len(outputs) == len(childDesc)
	for i, out := range outputs {
		if out.Comp != nil || out.Pos != i {
			identity = false
			break
		}
	}
	if identity {
		return cur, auxOut, nil
	}
	return &plan.LocalTransform{Outputs: outputs, Child: cur}, auxOut, nil
}

// finalize enforces the caller's encryption context on the assembled plan.
func (p *planner) finalize(cur plan.Node) (plan.Node, error) {
	switch ectx := p.ectx.(type) {
	case PreserveCardinality:
		return cur, nil

	case PreserveOriginal:
		cur = wrapDecrypt(cur, allPositions(cur))
		for i, ct := range cur.TupleDesc() {
			if !ct.IsPlain() {
				return nil, vterrors.Errorf(vterrors.CodeInternal, "[BUG] position %d still under %s after decryption", i, ct)
			}
		}
		return cur, nil

	case EncProj:
		if ld, ok := cur.(*plan.LocalDecrypt); ok && satisfiesEncProj(ld.Child.TupleDesc(), ectx) {
			cur = ld.Child
		}
		if satisfiesEncProj(cur.TupleDesc(), ectx) || !ectx.Require {
			return cur, nil
		}
		desc := cur.TupleDesc()
		var decrypts []int
		var encrypts []plan.EncryptPos
		for i, ct := range desc {
			if ectx.Onions[i]&ct.Onion != 0 {
				continue
			}
			if !ct.IsPlain() {
				decrypts = append(decrypts, i)
			}
			target := ectx.Onions[i].PickOne()
			if target != onion.PLAIN {
				encrypts = append(encrypts, plan.EncryptPos{Pos: i, Target: target})
			}
		}
		cur = wrapDecrypt(cur, decrypts)
		if len(encrypts) > 0 {
			cur = &plan.LocalEncrypt{Positions: encrypts, Child: cur}
		}
		return cur, nil
	}
	return nil, vterrors.Errorf(vterrors.CodeInternal, "[BUG] unknown encryption context %T", p.ectx)
}

func satisfiesEncProj(desc []onion.ColType, ectx EncProj) bool {
	if len(desc) != len(ectx.Onions) {
		return false
	}
	for i, ct := range desc {
		if ectx.Onions[i]&ct.Onion == 0 {
			return false
		}
	}
	return true
}

func allPositions(n plan.Node) []int {
	desc := n.TupleDesc()
	positions := make([]int, len(desc))
	for i := range positions {
		positions[i] = i
	}
	return positions
}

// wrapDecrypt wraps the plan in a LocalDecrypt over the subset of the given
// positions that actually hold encrypted values. Row descriptors are plain
// identifiers and never decrypt.
func wrapDecrypt(n plan.Node, positions []int) plan.Node {
	desc := n.TupleDesc()
	var needed []int
	seen := make(map[int]bool)
	for _, pos := range positions {
		if seen[pos] {
			continue
		}
		seen[pos] = true
		ct := desc[pos]
		if ct.IsPlain() || ct.Onion == onion.HOMRowDesc {
			continue
		}
		needed = append(needed, pos)
	}
	if len(needed) == 0 {
		return n
	}
	sort.Ints(needed)
	return &plan.LocalDecrypt{Positions: needed, Child: n}
}
