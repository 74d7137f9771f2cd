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

package plan

import (
	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

// CheckTupleDesc verifies the internal consistency of a plan tree: every
// position reference stays within its child's tuple descriptor and every
// node's descriptor matches its input widths.
func CheckTupleDesc(n Node) error {
	var check func(Node) error
	check = func(n Node) error {
		switch node := n.(type) {
		case *RemoteSql:
			if len(node.Desc) != len(node.Stmt.Projections) {
				return vterrors.Errorf(vterrors.CodeInternal, "[BUG] RemoteSql tuple desc width %d != projection count %d", len(node.Desc), len(node.Stmt.Projections))
			}
		case *LocalFilter:
			if err := checkPositions(node.Comp.ReadPositions(), len(node.Child.TupleDesc())); err != nil {
				return err
			}
		case *LocalGroupFilter:
			if err := checkPositions(node.Comp.ReadPositions(), len(node.Child.TupleDesc())); err != nil {
				return err
			}
		case *LocalTransform:
			width := len(node.Child.TupleDesc())
			for _, out := range node.Outputs {
				if out.IsPassthrough() {
					if out.Pos < 0 || out.Pos >= width {
						return vterrors.Errorf(vterrors.CodeInternal, "[BUG] transform pass-through %d out of range %d", out.Pos, width)
					}
				} else if err := checkPositions(out.Comp.ReadPositions(), width); err != nil {
					return err
				}
			}
		case *LocalOrderBy:
			width := len(node.Child.TupleDesc())
			for _, key := range node.Keys {
				if key.Pos < 0 || key.Pos >= width {
					return vterrors.Errorf(vterrors.CodeInternal, "[BUG] order key %d out of range %d", key.Pos, width)
				}
			}
		case *LocalDecrypt:
			if err := checkPositions(node.Positions, len(node.Child.TupleDesc())); err != nil {
				return err
			}
		case *LocalEncrypt:
			width := len(node.Child.TupleDesc())
			for _, ep := range node.Positions {
				if ep.Pos < 0 || ep.Pos >= width {
					return vterrors.Errorf(vterrors.CodeInternal, "[BUG] encrypt position %d out of range %d", ep.Pos, width)
				}
				if !ep.Target.IsSingle() {
					return vterrors.Errorf(vterrors.CodeInternal, "[BUG] encrypt target %s is not a single onion", ep.Target)
				}
			}
		}
		for _, in := range n.Inputs() {
			if err := check(in); err != nil {
				return err
			}
		}
		return nil
	}
	return check(n)
}

func checkPositions(positions []int, width int) error {
	for _, pos := range positions {
		if pos < 0 || pos >= width {
			return vterrors.Errorf(vterrors.CodeInternal, "[BUG] tuple position %d out of range %d", pos, width)
		}
	}
	return nil
}
