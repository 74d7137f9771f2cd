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
	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/plan"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

// srvExpr is a server-side expression together with the onion type of its
// value.
type srvExpr struct {
	expr sqlast.Expr
	ct   onion.ColType
}

// rewriteCtx threads the onion constraint and aggregation flag through the
// server rewrite. It is passed by value; there is no ambient state.
type rewriteCtx struct {
	// onions is the ordered preference of onions the result may be under.
	onions []onion.Onion
	agg    bool
}

func (rc rewriteCtx) inClear() bool {
	for _, o := range rc.onions {
		if o == onion.PLAIN {
			return true
		}
	}
	return false
}

func (rc rewriteCtx) allows(o onion.Onion) bool {
	for _, have := range rc.onions {
		if have == o {
			return true
		}
	}
	return false
}

func (rc rewriteCtx) with(onions ...onion.Onion) rewriteCtx {
	return rewriteCtx{onions: onions, agg: rc.agg}
}

func (rc rewriteCtx) first() onion.Onion { return rc.onions[0] }

// rewriteResult is the outcome of rewriteExprForServer: either a full
// server rewrite, or a client computation with an optional reduced server
// residual.
type rewriteResult struct {
	srv      *srvExpr
	residual *srvExpr
	comp     *plan.ClientComputation
}

// rewriteExprForServer splits top-level conjunctions and rewrites each
// conjunct independently. Conjuncts the server can answer are refolded; the
// rest merge into a single client computation.
func (p *planner) rewriteExprForServer(e sqlast.Expr, rc rewriteCtx) (rewriteResult, error) {
	conjuncts := splitConjunction(e)
	var srvParts []*srvExpr
	var comp *plan.ClientComputation
	for _, conjunct := range conjuncts {
		if srv, subs, ok := p.doTransformServer(conjunct, rc); ok {
			p.subplans = append(p.subplans, subs...)
			srvParts = append(srvParts, srv)
			continue
		}
		part, err := p.makeClientComputation(conjunct, rc)
		if err != nil {
			return rewriteResult{}, err
		}
		comp = mergeConjunctions(comp, part)
	}
	if comp == nil {
		return rewriteResult{srv: foldConjuncts(srvParts)}, nil
	}
	return rewriteResult{residual: foldConjuncts(srvParts), comp: comp}, nil
}

func splitConjunction(e sqlast.Expr) []sqlast.Expr {
	and, ok := e.(*sqlast.AndExpr)
	if !ok {
		return []sqlast.Expr{e}
	}
	return append(splitConjunction(and.Left), splitConjunction(and.Right)...)
}

func foldConjuncts(parts []*srvExpr) *srvExpr {
	if len(parts) == 0 {
		return nil
	}
	out := parts[0].expr
	for _, part := range parts[1:] {
		out = &sqlast.AndExpr{Left: out, Right: part.expr}
	}
	return &srvExpr{expr: out, ct: onion.Plain}
}

// mergeConjunctions merges two client computations into one. Subquery
// references of the right side are shifted past the left side's subqueries;
// projections are already content-addressed and merge by slot.
func mergeConjunctions(left, right *plan.ClientComputation) *plan.ClientComputation {
	if left == nil {
		return right
	}
	if right == nil {
		return left
	}
	offset := len(left.Subqueries)
	shifted := sqlast.TransformExpr(right.Expr, func(node sqlast.Expr) (sqlast.Expr, bool) {
		switch node := node.(type) {
		case *sqlast.SubqueryPosition:
			return &sqlast.SubqueryPosition{Idx: node.Idx + offset}, false
		case *sqlast.ExistsSubqueryPosition:
			return &sqlast.ExistsSubqueryPosition{Idx: node.Idx + offset}, false
		}
		return nil, true
	})
	merged := &plan.ClientComputation{
		Expr:     &sqlast.AndExpr{Left: left.Expr, Right: shifted},
		OrigExpr: &sqlast.AndExpr{Left: left.OrigExpr, Right: right.OrigExpr},
	}
	merged.Projections = append(append([]plan.CompProjection(nil), left.Projections...), right.Projections...)
	merged.SubqueryProjections = append(append([]plan.CompProjection(nil), left.SubqueryProjections...), right.SubqueryProjections...)
	merged.Subqueries = append(append([]plan.CompSubquery(nil), left.Subqueries...), right.Subqueries...)
	return merged
}

// doTransformServer pattern-matches the expression root against the
// supported node shapes and rewrites top-down. A false return is a bailout:
// the caller falls to the residual path. Subplans created for inlined
// subselects are returned for adoption and must only be committed on
// success.
func (p *planner) doTransformServer(e sqlast.Expr, rc rewriteCtx) (*srvExpr, []plan.Node, bool) {
	switch node := e.(type) {
	case *sqlast.AndExpr:
		if !rc.inClear() {
			return nil, nil, false
		}
		left, lsubs, ok := p.doTransformServer(node.Left, rc.with(onion.PLAIN))
		if !ok {
			return nil, nil, false
		}
		right, rsubs, ok := p.doTransformServer(node.Right, rc.with(onion.PLAIN))
		if !ok {
			return nil, nil, false
		}
		return &srvExpr{expr: &sqlast.AndExpr{Left: left.expr, Right: right.expr}, ct: onion.Plain}, append(lsubs, rsubs...), true

	case *sqlast.OrExpr:
		if !rc.inClear() {
			return nil, nil, false
		}
		left, lsubs, ok := p.doTransformServer(node.Left, rc.with(onion.PLAIN))
		if !ok {
			return nil, nil, false
		}
		right, rsubs, ok := p.doTransformServer(node.Right, rc.with(onion.PLAIN))
		if !ok {
			return nil, nil, false
		}
		return &srvExpr{expr: &sqlast.OrExpr{Left: left.expr, Right: right.expr}, ct: onion.Plain}, append(lsubs, rsubs...), true

	case *sqlast.NotExpr:
		if !rc.inClear() {
			return nil, nil, false
		}
		inner, subs, ok := p.doTransformServer(node.Expr, rc.with(onion.PLAIN))
		if !ok {
			return nil, nil, false
		}
		return &srvExpr{expr: &sqlast.NotExpr{Expr: inner.expr}, ct: onion.Plain}, subs, true

	case *sqlast.ComparisonExpr:
		return p.rewriteComparison(node, rc)

	case *sqlast.ExistsExpr:
		if !rc.inClear() {
			return nil, nil, false
		}
		rs, subs, ok := p.planSubselectServer(node.Subquery.Select, PreserveCardinality{})
		if !ok {
			return nil, nil, false
		}
		return &srvExpr{
			expr: &sqlast.ExistsExpr{Subquery: &sqlast.Subquery{Select: rs.Stmt}},
			ct:   onion.Plain,
		}, append(subs, rs.Subplans...), true

	case *sqlast.AggregateExpr:
		return p.rewriteAggregate(node, rc)

	case *sqlast.CaseExpr:
		return p.rewriteCase(node, rc)

	case *sqlast.Literal, *sqlast.NullVal:
		srv, ok := p.supportedExpr(e, rc.first())
		return srv, nil, ok

	case *sqlast.DependentPlaceholder:
		o := rc.first()
		return &srvExpr{expr: node.Bind(o.String()), ct: onion.NewColType(o)}, nil, true

	default:
		// Field references and opaque single-table expressions.
		for _, o := range rc.onions {
			if o == onion.HOMRowDesc {
				if srv, _, ok := p.supportedHomRowDescExpr(e); ok {
					return srv, nil, true
				}
				continue
			}
			if srv, ok := p.supportedExprConstrained(e, o); ok {
				return srv, nil, true
			}
		}
		return nil, nil, false
	}
}

// Comparison try orders. The fixed order is load-bearing: plans must be
// deterministic, so the first onion that works on both operands wins.
var (
	equalityTrials   = []onion.Onion{onion.PLAIN, onion.DET, onion.OPE}
	inequalityTrials = []onion.Onion{onion.PLAIN, onion.OPE}
	inTrials         = []onion.Onion{onion.DET, onion.OPE}
)

func (p *planner) rewriteComparison(node *sqlast.ComparisonExpr, rc rewriteCtx) (*srvExpr, []plan.Node, bool) {
	if !rc.inClear() {
		return nil, nil, false
	}
	switch {
	case node.Operator.IsEquality():
		return p.rewriteComparisonTrials(node, equalityTrials, rc)
	case node.Operator.IsInequality():
		return p.rewriteComparisonTrials(node, inequalityTrials, rc)
	case node.Operator == sqlast.InOp || node.Operator == sqlast.NotInOp:
		return p.rewriteComparisonTrials(node, inTrials, rc)
	case node.Operator == sqlast.LikeOp:
		left, lsubs, ok := p.rewriteOperand(node.Left, onion.SWP, rc)
		if !ok {
			return nil, nil, false
		}
		right, rsubs, ok := p.rewriteOperand(node.Right, onion.SWP, rc)
		if !ok {
			return nil, nil, false
		}
		return &srvExpr{
			expr: &sqlast.FuncExpr{Name: "searchSWP", Exprs: []sqlast.Expr{left.expr, right.expr, &sqlast.NullVal{}}},
			ct:   onion.Plain,
		}, append(lsubs, rsubs...), true
	}
	return nil, nil, false
}

func (p *planner) rewriteComparisonTrials(node *sqlast.ComparisonExpr, trials []onion.Onion, rc rewriteCtx) (*srvExpr, []plan.Node, bool) {
	for _, o := range trials {
		left, lsubs, ok := p.rewriteOperand(node.Left, o, rc)
		if !ok {
			continue
		}
		right, rsubs, ok := p.rewriteOperand(node.Right, o, rc)
		if !ok {
			continue
		}
		return &srvExpr{
			expr: &sqlast.ComparisonExpr{Operator: node.Operator, Left: left.expr, Right: right.expr},
			ct:   onion.Plain,
		}, append(lsubs, rsubs...), true
	}
	return nil, nil, false
}

// rewriteOperand rewrites one side of a comparison under a single onion.
// Subselect operands are planned recursively and accepted when the child
// plan is a pure RemoteSql under that onion; tuples rewrite element-wise.
func (p *planner) rewriteOperand(e sqlast.Expr, o onion.Onion, rc rewriteCtx) (*srvExpr, []plan.Node, bool) {
	switch node := e.(type) {
	case *sqlast.Subquery:
		rs, subs, ok := p.planSubselectServer(node.Select, EncProj{Onions: []onion.Onion{o}, Require: true})
		if !ok {
			return nil, nil, false
		}
		return &srvExpr{
			expr: &sqlast.Subquery{Select: rs.Stmt},
			ct:   rs.Desc[0],
		}, append(subs, rs.Subplans...), true
	case sqlast.ValTuple:
		out := make(sqlast.ValTuple, 0, len(node))
		var allSubs []plan.Node
		for _, elem := range node {
			srv, subs, ok := p.rewriteOperand(elem, o, rc)
			if !ok {
				return nil, nil, false
			}
			out = append(out, srv.expr)
			allSubs = append(allSubs, subs...)
		}
		return &srvExpr{expr: out, ct: onion.NewColType(o)}, allSubs, true
	}
	return p.doTransformServer(e, rc.with(o))
}

// planSubselectServer plans a nested statement and accepts the result only
// when it collapses to a pure RemoteSql, whose statement can be inlined.
func (p *planner) planSubselectServer(sel *sqlast.Select, ectx EncContext) (*plan.RemoteSql, []plan.Node, bool) {
	// Correlated references into the statement being planned stay column
	// references: the inlined subquery runs in the same server statement.
	child := p.child(sel, ectx)
	node, err := child.generate()
	if err != nil {
		return nil, nil, false
	}
	rs, ok := node.(*plan.RemoteSql)
	if !ok {
		return nil, nil, false
	}
	return rs, nil, true
}

func (p *planner) rewriteAggregate(node *sqlast.AggregateExpr, rc rewriteCtx) (*srvExpr, []plan.Node, bool) {
	if !rc.agg {
		return nil, nil, false
	}
	switch node.Op {
	case sqlast.AggrCountStar:
		if !rc.inClear() {
			return nil, nil, false
		}
		return &srvExpr{expr: &sqlast.AggregateExpr{Op: sqlast.AggrCountStar}, ct: onion.Plain}, nil, true

	case sqlast.AggrCount:
		if !rc.inClear() {
			return nil, nil, false
		}
		for _, o := range onion.Onion(onion.Countable).ToSeq() {
			if child, subs, ok := p.rewriteOperand(node.Expr, o, rc); ok {
				return &srvExpr{expr: &sqlast.AggregateExpr{Op: sqlast.AggrCount, Expr: child.expr}, ct: onion.Plain}, subs, true
			}
		}
		return nil, nil, false

	case sqlast.AggrMin, sqlast.AggrMax:
		if !rc.allows(onion.OPE) {
			return nil, nil, false
		}
		child, subs, ok := p.rewriteOperand(node.Expr, onion.OPE, rc)
		if !ok {
			return nil, nil, false
		}
		return &srvExpr{expr: &sqlast.AggregateExpr{Op: node.Op, Expr: child.expr}, ct: onion.NewColType(onion.OPE)}, subs, true

	case sqlast.AggrSum:
		if rc.inClear() {
			if child, subs, ok := p.rewriteOperand(node.Expr, onion.PLAIN, rc); ok {
				return &srvExpr{expr: &sqlast.AggregateExpr{Op: sqlast.AggrSum, Expr: child.expr}, ct: onion.Plain}, subs, true
			}
		}
		if rc.allows(onion.HOM) {
			if child, subs, ok := p.rewriteOperand(node.Expr, onion.HOM, rc); ok {
				return &srvExpr{
					expr: &sqlast.FuncExpr{Name: "hom_agg", Exprs: []sqlast.Expr{child.expr}},
					ct:   onion.NewColType(onion.HOM),
				}, subs, true
			}
		}
		return nil, nil, false

	case sqlast.AggrAvg:
		if !rc.inClear() {
			return nil, nil, false
		}
		child, subs, ok := p.rewriteOperand(node.Expr, onion.PLAIN, rc)
		if !ok {
			return nil, nil, false
		}
		return &srvExpr{expr: &sqlast.AggregateExpr{Op: sqlast.AggrAvg, Expr: child.expr}, ct: onion.Plain}, subs, true
	}
	return nil, nil, false
}

// rewriteCase rewrites conditions in the clear and all branches under a
// single onion; the first onion of the context that fits every branch wins.
func (p *planner) rewriteCase(node *sqlast.CaseExpr, rc rewriteCtx) (*srvExpr, []plan.Node, bool) {
nextOnion:
	for _, o := range rc.onions {
		out := &sqlast.CaseExpr{}
		var allSubs []plan.Node
		for _, when := range node.Whens {
			cond, csubs, ok := p.doTransformServer(when.Cond, rc.with(onion.PLAIN))
			if !ok {
				return nil, nil, false
			}
			result, rsubs, ok := p.doTransformServer(when.Result, rc.with(o))
			if !ok {
				continue nextOnion
			}
			out.Whens = append(out.Whens, &sqlast.When{Cond: cond.expr, Result: result.expr})
			allSubs = append(allSubs, append(csubs, rsubs...)...)
		}
		if node.Else != nil {
			elseExpr, esubs, ok := p.doTransformServer(node.Else, rc.with(o))
			if !ok {
				continue nextOnion
			}
			out.Else = elseExpr.expr
			allSubs = append(allSubs, esubs...)
		}
		return &srvExpr{expr: out, ct: onion.NewColType(o)}, allSubs, true
	}
	return nil, nil, false
}
