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

// Package plan defines the executable plan tree the generator produces.
// Leaves are rewritten SQL statements evaluated server-side against
// encrypted storage; interior nodes are client-side operators that finish
// the work the server cannot perform under the chosen onions.
package plan

import (
	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

// Node is one operator of a plan tree. Every node exposes the tuple
// descriptor of its output: one ColType per logical output column.
type Node interface {
	TupleDesc() []onion.ColType
	Inputs() []Node
	description() Description
}

var (
	_ Node = (*RemoteSql)(nil)
	_ Node = (*RemoteMaterialize)(nil)
	_ Node = (*LocalFilter)(nil)
	_ Node = (*LocalGroupFilter)(nil)
	_ Node = (*LocalTransform)(nil)
	_ Node = (*LocalOrderBy)(nil)
	_ Node = (*LocalLimit)(nil)
	_ Node = (*LocalDecrypt)(nil)
	_ Node = (*LocalEncrypt)(nil)
)

// RemoteSql is a leaf: a rewritten statement executed server-side against
// the encrypted relations. Subplans holds plans for subqueries the server
// statement references through materialized relations or dependent
// placeholders.
type RemoteSql struct {
	Stmt     *sqlast.Select
	Desc     []onion.ColType
	Subplans []Node
}

// SQL renders the server statement.
func (rs *RemoteSql) SQL() string {
	return sqlast.String(rs.Stmt)
}

// TupleDesc implements Node.
func (rs *RemoteSql) TupleDesc() []onion.ColType { return rs.Desc }

// Inputs implements Node.
func (rs *RemoteSql) Inputs() []Node { return rs.Subplans }

// RemoteMaterialize executes its child and stores the result server-side
// under a synthetic relation name, so an enclosing RemoteSql can read it.
type RemoteMaterialize struct {
	Name  string
	Child Node
}

// TupleDesc implements Node.
func (rm *RemoteMaterialize) TupleDesc() []onion.ColType { return rm.Child.TupleDesc() }

// Inputs implements Node.
func (rm *RemoteMaterialize) Inputs() []Node { return []Node{rm.Child} }

// LocalFilter keeps the rows for which the residual expression evaluates to
// true on the (decrypted) tuple.
type LocalFilter struct {
	Comp  *ClientComputation
	Child Node
}

// TupleDesc implements Node.
func (lf *LocalFilter) TupleDesc() []onion.ColType { return lf.Child.TupleDesc() }

// Inputs implements Node.
func (lf *LocalFilter) Inputs() []Node {
	nodes := []Node{lf.Child}
	for _, sub := range lf.Comp.Subqueries {
		nodes = append(nodes, sub.Plan)
	}
	return nodes
}

// LocalGroupFilter is LocalFilter applied after aggregation: the residual
// expression sees one tuple per group, with vector positions packing the
// group members.
type LocalGroupFilter struct {
	Comp  *ClientComputation
	Child Node
}

// TupleDesc implements Node.
func (lg *LocalGroupFilter) TupleDesc() []onion.ColType { return lg.Child.TupleDesc() }

// Inputs implements Node.
func (lg *LocalGroupFilter) Inputs() []Node {
	nodes := []Node{lg.Child}
	for _, sub := range lg.Comp.Subqueries {
		nodes = append(nodes, sub.Plan)
	}
	return nodes
}

// TransformOutput is one output slot of a LocalTransform: either a
// pass-through of an input position or a computed client expression.
type TransformOutput struct {
	// Pos is the input position passed through when Comp is nil.
	Pos  int
	Comp *ClientComputation
}

// IsPassthrough reports whether the slot forwards an input position.
func (to TransformOutput) IsPassthrough() bool { return to.Comp == nil }

// LocalTransform reshapes tuples: forwarding, reordering and computing
// slots.
type LocalTransform struct {
	Outputs []TransformOutput
	Child   Node
}

// TupleDesc implements Node.
func (lt *LocalTransform) TupleDesc() []onion.ColType {
	childDesc := lt.Child.TupleDesc()
	desc := make([]onion.ColType, len(lt.Outputs))
	for i, out := range lt.Outputs {
		if out.IsPassthrough() {
			desc[i] = childDesc[out.Pos]
		} else {
			desc[i] = onion.Plain
		}
	}
	return desc
}

// Inputs implements Node.
func (lt *LocalTransform) Inputs() []Node {
	nodes := []Node{lt.Child}
	for _, out := range lt.Outputs {
		if out.Comp == nil {
			continue
		}
		for _, sub := range out.Comp.Subqueries {
			nodes = append(nodes, sub.Plan)
		}
	}
	return nodes
}

// OrderKey is one sort key of a LocalOrderBy, referencing a tuple position
// of the child.
type OrderKey struct {
	Pos       int
	Direction sqlast.OrderDirection
	// OPECompare sorts on the raw OPE ciphertext instead of a decrypted
	// value.
	OPECompare bool
}

// LocalOrderBy sorts tuples in memory.
type LocalOrderBy struct {
	Keys  []OrderKey
	Child Node
}

// TupleDesc implements Node.
func (lo *LocalOrderBy) TupleDesc() []onion.ColType { return lo.Child.TupleDesc() }

// Inputs implements Node.
func (lo *LocalOrderBy) Inputs() []Node { return []Node{lo.Child} }

// LocalLimit truncates the input to Rowcount rows.
type LocalLimit struct {
	Rowcount int
	Child    Node
}

// TupleDesc implements Node.
func (ll *LocalLimit) TupleDesc() []onion.ColType { return ll.Child.TupleDesc() }

// Inputs implements Node.
func (ll *LocalLimit) Inputs() []Node { return []Node{ll.Child} }

// LocalDecrypt decrypts the given tuple positions.
type LocalDecrypt struct {
	Positions []int
	Child     Node
}

// TupleDesc implements Node.
func (ld *LocalDecrypt) TupleDesc() []onion.ColType {
	desc := append([]onion.ColType(nil), ld.Child.TupleDesc()...)
	for _, pos := range ld.Positions {
		desc[pos] = onion.ColType{Onion: onion.PLAIN, Vector: desc[pos].Vector}
	}
	return desc
}

// Inputs implements Node.
func (ld *LocalDecrypt) Inputs() []Node { return []Node{ld.Child} }

// EncryptPos names a position to re-encrypt and the target onion.
type EncryptPos struct {
	Pos    int
	Target onion.Onion
}

// LocalEncrypt re-encrypts plaintext tuple positions to target onions, for
// callers that demand encrypted output.
type LocalEncrypt struct {
	Positions []EncryptPos
	Child     Node
}

// TupleDesc implements Node.
func (le *LocalEncrypt) TupleDesc() []onion.ColType {
	desc := append([]onion.ColType(nil), le.Child.TupleDesc()...)
	for _, ep := range le.Positions {
		desc[ep.Pos] = onion.ColType{Onion: ep.Target, Vector: desc[ep.Pos].Vector}
	}
	return desc
}

// Inputs implements Node.
func (le *LocalEncrypt) Inputs() []Node { return []Node{le.Child} }

// Walk visits the tree pre-order.
func Walk(n Node, visit func(Node) bool) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	for _, in := range n.Inputs() {
		Walk(in, visit)
	}
}
