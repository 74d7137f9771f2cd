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
	"github.com/liuyi1112/monomi-optimizer/go/log"
	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

// Onion-set generation mirrors the server-rewrite traversal, but instead of
// rewriting it enumerates the onion requirements a candidate set would have
// to satisfy to answer each clause server-side. Disjunctions of viable
// schemes (equality via DET or via OPE) propagate as alternative candidate
// sets; the output is the union of candidates across all clauses.

// maxClauseCandidates bounds the alternatives kept per clause; overflow is
// logged, never silent.
const maxClauseCandidates = 32

// GenerateOnionSets walks the statement and returns candidate onion sets,
// one or more per clause, deduplicated.
func GenerateOnionSets(stmt *sqlast.Select) []*onion.Set {
	var all []*onion.Set
	collect := func(sets []*onion.Set, ok bool) {
		if !ok {
			return
		}
		if len(sets) > maxClauseCandidates {
			log.Warningf("clause produced %d candidate onion sets, keeping %d", len(sets), maxClauseCandidates)
			sets = sets[:maxClauseCandidates]
		}
		all = append(all, sets...)
	}

	for _, se := range stmt.Projections {
		if ae, ok := se.(*sqlast.AliasedExpr); ok {
			sets, ok := exprCandidates(sqlast.ResolveAliases(ae.Expr), onion.All)
			collect(sets, ok)
		}
	}
	if stmt.Where != nil {
		collect(exprCandidates(stmt.Where, onion.PLAIN))
	}
	if stmt.GroupBy != nil {
		for _, key := range stmt.GroupBy.Keys {
			collect(operandCandidates(sqlast.ResolveAliases(key), onion.Comparable))
		}
		if stmt.GroupBy.Having != nil {
			collect(exprCandidates(stmt.GroupBy.Having, onion.PLAIN))
		}
	}
	for _, order := range stmt.OrderBy {
		collect(operandCandidates(sqlast.ResolveAliases(order.Expr), onion.IEqualComparable))
	}
	for _, te := range stmt.From {
		if ate, ok := te.(*sqlast.AliasedTableExpr); ok {
			if dt, ok := ate.Expr.(*sqlast.DerivedTable); ok {
				all = append(all, GenerateOnionSets(dt.Select)...)
			}
		}
	}
	return dedupeSets(all)
}

// exprCandidates enumerates candidate sets sufficient to answer e under the
// allowed result onions. A false return means no candidate can ever answer
// it (the residual path will).
func exprCandidates(e sqlast.Expr, allowed onion.Onion) ([]*onion.Set, bool) {
	switch node := e.(type) {
	case *sqlast.AndExpr:
		return crossCandidates(node.Left, node.Right, onion.PLAIN)
	case *sqlast.OrExpr:
		return crossCandidates(node.Left, node.Right, onion.PLAIN)
	case *sqlast.NotExpr:
		return exprCandidates(node.Expr, onion.PLAIN)

	case *sqlast.ComparisonExpr:
		var trials []onion.Onion
		switch {
		case node.Operator.IsEquality():
			trials = []onion.Onion{onion.DET, onion.OPE}
		case node.Operator.IsInequality():
			trials = []onion.Onion{onion.OPE}
		case node.Operator == sqlast.InOp || node.Operator == sqlast.NotInOp:
			trials = []onion.Onion{onion.DET, onion.OPE}
		case node.Operator == sqlast.LikeOp:
			trials = []onion.Onion{onion.SWP}
		default:
			return nil, false
		}
		var out []*onion.Set
		for _, o := range trials {
			left, lok := operandCandidates(node.Left, o)
			right, rok := operandCandidates(node.Right, o)
			if lok && rok {
				out = append(out, mergeAcross(left, right)...)
			}
		}
		return out, len(out) > 0

	case *sqlast.ExistsExpr:
		return GenerateOnionSets(node.Subquery.Select), true

	case *sqlast.AggregateExpr:
		return aggregateCandidates(node)

	case *sqlast.CaseExpr:
		var condSets []*onion.Set
		condSets = append(condSets, onion.NewSet())
		for _, when := range node.Whens {
			cs, ok := exprCandidates(when.Cond, onion.PLAIN)
			if !ok {
				return nil, false
			}
			condSets = mergeAcross(condSets, cs)
		}
		var out []*onion.Set
		for _, o := range allowed.ToSeq() {
			branches := condSets
			ok := true
			for _, when := range node.Whens {
				bs, bok := operandCandidates(when.Result, o)
				if !bok {
					ok = false
					break
				}
				branches = mergeAcross(branches, bs)
			}
			if ok && node.Else != nil {
				bs, bok := operandCandidates(node.Else, o)
				if !bok {
					ok = false
				} else {
					branches = mergeAcross(branches, bs)
				}
			}
			if ok {
				out = append(out, branches...)
			}
		}
		return out, len(out) > 0

	default:
		return operandCandidates(e, allowed)
	}
}

// operandCandidates constrains a single operand to one of the allowed
// onions: one alternative set per viable bit. Literals need nothing.
func operandCandidates(e sqlast.Expr, allowed onion.Onion) ([]*onion.Set, bool) {
	switch node := e.(type) {
	case *sqlast.Literal, *sqlast.NullVal, *sqlast.DependentPlaceholder:
		return []*onion.Set{onion.NewSet()}, true
	case *sqlast.Subquery:
		return GenerateOnionSets(node.Select), true
	case sqlast.ValTuple:
		sets := []*onion.Set{onion.NewSet()}
		for _, elem := range node {
			es, ok := operandCandidates(elem, allowed)
			if !ok {
				return nil, false
			}
			sets = mergeAcross(sets, es)
		}
		return sets, true
	case *sqlast.AggregateExpr:
		return aggregateCandidates(node)
	}

	oe, ok := FindOnionableExpr(e)
	if !ok {
		return nil, false
	}
	mask := allowed &^ onion.PLAIN
	if mask == onion.None {
		// A bare expression in boolean position still needs a stored
		// representation; DET is the cheapest.
		mask = onion.DET
	}
	if mask == onion.All&^onion.PLAIN {
		mask = onion.DET
	}
	var out []*onion.Set
	for _, o := range mask.ToSeq() {
		set := onion.NewSet()
		if o == onion.HOMRowDesc {
			set.AddPackedHOMToLastGroup(oe.Table, oe.Canonical)
			set.AddKey(oe.Table, sqlast.String(oe.Canonical), onion.HOMRowDesc)
		} else {
			set.AddKey(oe.Table, sqlast.String(oe.Canonical), o)
		}
		out = append(out, set)
	}
	return out, len(out) > 0
}

func aggregateCandidates(agg *sqlast.AggregateExpr) ([]*onion.Set, bool) {
	switch agg.Op {
	case sqlast.AggrCountStar:
		return []*onion.Set{onion.NewSet()}, true
	case sqlast.AggrCount:
		return operandCandidates(agg.Expr, onion.DET)
	case sqlast.AggrMin, sqlast.AggrMax:
		return operandCandidates(agg.Expr, onion.OPE)
	case sqlast.AggrSum, sqlast.AggrAvg:
		// Summation wants the argument packed in a HOM group.
		sets := []*onion.Set{onion.NewSet()}
		ok := false
		for _, summand := range homSummands(agg.Expr) {
			ss, sok := operandCandidates(summand, onion.HOMRowDesc)
			if !sok {
				return nil, false
			}
			ok = true
			sets = mergeAcross(sets, ss)
		}
		return sets, ok
	}
	return nil, false
}

func crossCandidates(left, right sqlast.Expr, allowed onion.Onion) ([]*onion.Set, bool) {
	ls, lok := exprCandidates(left, allowed)
	rs, rok := exprCandidates(right, allowed)
	if !lok || !rok {
		return nil, false
	}
	return mergeAcross(ls, rs), true
}

// mergeAcross merges every pair from the two alternative lists.
func mergeAcross(left, right []*onion.Set) []*onion.Set {
	out := make([]*onion.Set, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			merged := l.Clone()
			merged.Merge(r)
			out = append(out, merged)
		}
	}
	return out
}

func dedupeSets(sets []*onion.Set) []*onion.Set {
	seen := make(map[string]bool)
	var out []*onion.Set
	for _, set := range sets {
		fp := set.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, set)
	}
	return out
}
