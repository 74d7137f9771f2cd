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
	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

// CompProjection is one encrypted value a client computation consumes: the
// original subexpression it stands for, the server-side projection that
// produces it, the resolved slot in the final server projection list, and
// the onion type it arrives under.
type CompProjection struct {
	Orig     sqlast.Expr
	Server   sqlast.Expr
	TuplePos int
	Type     onion.ColType
}

// DependentBinding maps a placeholder of a pulled-out subquery back to the
// outer field whose runtime value it receives.
type DependentBinding struct {
	PlaceholderPos int
	Field          *sqlast.ColName
}

// CompSubquery is one subquery a client computation evaluates: the original
// subselect node, its plan, and the dependent bindings feeding it values
// from the outer tuple.
type CompSubquery struct {
	Subquery *sqlast.Subquery
	Plan     Node
	Bindings []DependentBinding
}

// ClientComputation is a residual expression the client evaluates on
// decrypted projected values. Expr references only tuple positions,
// dependent placeholders and subquery positions; OrigExpr is the statement
// expression it reproduces.
type ClientComputation struct {
	Expr     sqlast.Expr
	OrigExpr sqlast.Expr

	Projections         []CompProjection
	SubqueryProjections []CompProjection
	Subqueries          []CompSubquery
}

// ReadPositions returns the tuple positions the computation reads, in
// first-use order without duplicates.
func (cc *ClientComputation) ReadPositions() []int {
	var positions []int
	seen := make(map[int]bool)
	add := func(pos int) {
		if !seen[pos] {
			seen[pos] = true
			positions = append(positions, pos)
		}
	}
	for _, proj := range cc.Projections {
		add(proj.TuplePos)
	}
	for _, proj := range cc.SubqueryProjections {
		add(proj.TuplePos)
	}
	return positions
}

func (cc *ClientComputation) String() string {
	return sqlast.String(cc.Expr)
}
