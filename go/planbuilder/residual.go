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
	"strconv"

	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/plan"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

// residualOnions are the onions the client can decrypt and compute on.
var residualOnions = []onion.Onion{onion.PLAIN, onion.DET, onion.OPE, onion.HOM}

// makeClientComputation builds the residual for an expression the server
// rewrite bailed out on: plan embedded subselects, apply the local
// optimizations, and project whatever fields the remaining client
// expression reads.
func (p *planner) makeClientComputation(e sqlast.Expr, rc rewriteCtx) (*plan.ClientComputation, error) {
	comp := &plan.ClientComputation{OrigExpr: e}
	resolved := sqlast.ResolveAliases(e)

	// Plan every embedded subselect first, rewriting its references to our
	// scope (and outer scopes) into positional placeholders.
	subIdx := make(map[*sqlast.Subquery]int)
	var subErr error
	_ = sqlast.Walk(func(node sqlast.SQLNode) (bool, error) {
		var sub *sqlast.Subquery
		var ectx EncContext
		switch node := node.(type) {
		case *sqlast.ExistsExpr:
			// Exists only needs the row count to be right.
			sub, ectx = node.Subquery, PreserveCardinality{}
		case *sqlast.Subquery:
			sub, ectx = node, PreserveOriginal{}
		default:
			return true, nil
		}
		if _, done := subIdx[sub]; done {
			return false, nil
		}
		if subErr == nil {
			if err := p.planResidualSubquery(comp, sub, ectx, subIdx); err != nil {
				subErr = err
			}
		}
		return false, nil
	}, resolved)
	if subErr != nil {
		return nil, subErr
	}

	var transformErr error
	comp.Expr = p.residualTransform(resolved, rc, comp, subIdx, &transformErr)
	if transformErr != nil {
		return nil, transformErr
	}
	return comp, nil
}

// planResidualSubquery plans one pulled-out subselect. Exists subqueries
// preserve cardinality only; value subqueries are fully decrypted.
func (p *planner) planResidualSubquery(comp *plan.ClientComputation, sub *sqlast.Subquery, ectx EncContext, subIdx map[*sqlast.Subquery]int) error {
	rewritten, bindings, err := p.rewriteOuterReferences(sub.Select)
	if err != nil {
		return err
	}
	childPlan, err := p.child(rewritten, ectx).generate()
	if err != nil {
		return err
	}
	cs := plan.CompSubquery{Subquery: sub, Plan: childPlan}
	for _, binding := range bindings {
		srv, ok := p.supportedExprConstrained(binding.Field, onion.PLAIN|onion.Comparable)
		if !ok {
			return vterrors.Errorf(vterrors.CodeFailedPrecondition, "correlated field %s has no decryptable onion", sqlast.String(binding.Field))
		}
		idx := p.addFinalProj(binding.Field, srv.expr, srv.ct)
		comp.SubqueryProjections = append(comp.SubqueryProjections, plan.CompProjection{
			Orig:     binding.Field,
			Server:   srv.expr,
			TuplePos: idx,
			Type:     srv.ct,
		})
		cs.Bindings = append(cs.Bindings, binding)
	}
	subIdx[sub] = len(comp.Subqueries)
	comp.Subqueries = append(comp.Subqueries, cs)
	return nil
}

// residualTransform rewrites the failed expression into the client form:
// server-answerable subtrees become projected tuple positions, packed-HOM
// sums become hom_get_pos over a hom_agg projection, fields project under a
// decryptable onion (as GROUP_CONCAT vectors inside evaluated groups), and
// subselects become subquery position references.
func (p *planner) residualTransform(e sqlast.Expr, rc rewriteCtx, comp *plan.ClientComputation, subIdx map[*sqlast.Subquery]int, errOut *error) sqlast.Expr {
	return sqlast.TransformExpr(e, func(node sqlast.Expr) (sqlast.Expr, bool) {
		if *errOut != nil {
			return nil, false
		}
		switch node := node.(type) {
		case *sqlast.Subquery:
			return &sqlast.SubqueryPosition{Idx: subIdx[node]}, false
		case *sqlast.ExistsExpr:
			return &sqlast.ExistsSubqueryPosition{Idx: subIdx[node.Subquery]}, false
		case *sqlast.Literal, *sqlast.NullVal, *sqlast.DependentPlaceholder:
			return nil, false
		}

		// A subtree the server can answer whole is projected whole.
		if !containsClientOnly(node) {
			if srv, subs, ok := p.doTransformServer(node, rewriteCtx{onions: residualOnions, agg: rc.agg}); ok {
				p.subplans = append(p.subplans, subs...)
				return p.projectForClient(node, srv, comp), false
			}
		}

		switch node := node.(type) {
		case *sqlast.AggregateExpr:
			if node.Op == sqlast.AggrSum || node.Op == sqlast.AggrAvg {
				if repl, ok := p.tryHomOptimization(node, comp); ok {
					return repl, false
				}
			}
			// Fall back to a per-group vector of the argument; the
			// client folds the aggregate itself.
			if node.Expr != nil {
				inner := p.residualTransform(node.Expr, rc, comp, subIdx, errOut)
				return &sqlast.AggregateExpr{Op: node.Op, Expr: inner, Sep: node.Sep}, false
			}
			*errOut = vterrors.Errorf(vterrors.CodeFailedPrecondition, "cannot evaluate %s client-side", sqlast.String(node))
			return nil, false

		case *sqlast.ColName:
			srv, ok := p.supportedExprConstrained(node, onion.PLAIN|onion.Comparable)
			if !ok {
				*errOut = vterrors.Errorf(vterrors.CodeFailedPrecondition, "field %s has no decryptable onion", sqlast.String(node))
				return nil, false
			}
			return p.projectForClient(node, srv, comp), false
		}
		return nil, true
	})
}

// projectForClient adds a server projection feeding the client computation
// and returns the tuple position reference that replaces the subtree.
// Inside an evaluated group, scalar values pack into GROUP_CONCAT vectors;
// group keys stay scalar.
func (p *planner) projectForClient(orig sqlast.Expr, srv *srvExpr, comp *plan.ClientComputation) sqlast.Expr {
	ct := srv.ct
	server := srv.expr
	vector := false
	if p.aggContext && !p.isGroupKey(orig) && !isAggregated(srv) {
		server = &sqlast.AggregateExpr{Op: sqlast.AggrGroupConcat, Expr: srv.expr, Sep: ","}
		ct = onion.ColType{Onion: srv.ct.Onion, Vector: true}
		vector = true
	}
	idx := p.addFinalProj(orig, server, ct)
	comp.Projections = append(comp.Projections, plan.CompProjection{
		Orig:     orig,
		Server:   server,
		TuplePos: idx,
		Type:     ct,
	})
	return &sqlast.TuplePosition{Pos: idx, Vector: vector}
}

// isAggregated reports whether the server expression already folds the
// group (an aggregate or hom_agg call), so it must not be vector-packed.
func isAggregated(srv *srvExpr) bool {
	switch node := srv.expr.(type) {
	case *sqlast.AggregateExpr:
		return true
	case *sqlast.FuncExpr:
		return node.Name == "hom_agg"
	}
	return srv.ct.Onion == onion.HOMAgg
}

// containsClientOnly reports whether the subtree holds nodes that can never
// rewrite server-side whole (subselects and already-positional references).
func containsClientOnly(e sqlast.Expr) bool {
	found := false
	_ = sqlast.Walk(func(node sqlast.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlast.Subquery, *sqlast.ExistsExpr,
			*sqlast.TuplePosition, *sqlast.SubqueryPosition, *sqlast.ExistsSubqueryPosition:
			found = true
			return false, nil
		}
		return true, nil
	}, e)
	return found
}

// tryHomOptimization answers a SUM/AVG from a packed HOM group: one server
// projection sums the packed rows, the client extracts the slot. CASE
// arguments work when every non-zero branch names the same packed slot and
// every condition rewrites in the clear.
func (p *planner) tryHomOptimization(agg *sqlast.AggregateExpr, comp *plan.ClientComputation) (sqlast.Expr, bool) {
	summands := homSummands(agg.Expr)
	if len(summands) == 0 {
		return nil, false
	}
	canonical := sqlast.CanonicalString(summands[0])
	for _, summand := range summands[1:] {
		if sqlast.CanonicalString(summand) != canonical {
			return nil, false
		}
	}
	rowDesc, descs, ok := p.supportedHomRowDescExpr(summands[0])
	if !ok {
		return nil, false
	}
	d := p.pickPreferredGroup(descs)

	selector := rowDesc.expr
	if caseExpr, ok := agg.Expr.(*sqlast.CaseExpr); ok {
		sel := &sqlast.CaseExpr{}
		for _, when := range caseExpr.Whens {
			cond, subs, ok := p.doTransformServer(when.Cond, rewriteCtx{onions: []onion.Onion{onion.PLAIN}})
			if !ok {
				return nil, false
			}
			p.subplans = append(p.subplans, subs...)
			result := selector
			if isZeroLiteral(when.Result) {
				result = sqlast.Expr(&sqlast.NullVal{})
			}
			sel.Whens = append(sel.Whens, &sqlast.When{Cond: cond.expr, Result: result})
		}
		if caseExpr.Else != nil {
			if isZeroLiteral(caseExpr.Else) {
				sel.Else = &sqlast.NullVal{}
			} else {
				sel.Else = selector
			}
		}
		selector = sel
	}

	server := &sqlast.FuncExpr{Name: "hom_agg", Exprs: []sqlast.Expr{
		selector,
		sqlast.NewStrLiteral(d.Table),
		sqlast.NewIntLiteral(strconv.Itoa(d.Group)),
	}}
	ct := onion.HomAggType(d.Table, d.Group)
	idx := p.addFinalProj(agg, server, ct)
	comp.Projections = append(comp.Projections, plan.CompProjection{
		Orig:     agg,
		Server:   server,
		TuplePos: idx,
		Type:     ct,
	})
	extracted := sqlast.Expr(&sqlast.FuncExpr{Name: "hom_get_pos", Exprs: []sqlast.Expr{
		&sqlast.TuplePosition{Pos: idx},
		sqlast.NewIntLiteral(strconv.Itoa(d.Pos)),
	}})
	if agg.Op != sqlast.AggrAvg {
		return extracted, true
	}

	countServer := &sqlast.AggregateExpr{Op: sqlast.AggrCountStar}
	countIdx := p.addFinalProj(countServer, countServer, onion.Plain)
	comp.Projections = append(comp.Projections, plan.CompProjection{
		Orig:     countServer,
		Server:   countServer,
		TuplePos: countIdx,
		Type:     onion.Plain,
	})
	return &sqlast.BinaryExpr{
		Operator: sqlast.DivOp,
		Left:     extracted,
		Right:    &sqlast.TuplePosition{Pos: countIdx},
	}, true
}

// rewriteOuterReferences clones a subselect, replacing every field whose
// symbol lives in the enclosing statement's scope (or further out) with a
// positional placeholder, and remembering which outer field feeds each
// placeholder. A projection reference into an outer statement is an error.
func (p *planner) rewriteOuterReferences(sel *sqlast.Select) (*sqlast.Select, []plan.DependentBinding, error) {
	var bindings []plan.DependentBinding
	byKey := make(map[string]int)
	var rewriteErr error

	rewriteField := func(node sqlast.Expr) (sqlast.Expr, bool) {
		col, ok := node.(*sqlast.ColName)
		if !ok {
			return nil, true
		}
		sym := col.Metadata
		if sym == nil {
			return nil, false
		}
		scope := sym.Scope()
		outer := scope == p.stmt.Ctx || scope.IsParentOf(p.stmt.Ctx)
		if !outer {
			return nil, false
		}
		if _, isProj := sym.(*sqlast.ProjectionSymbol); isProj {
			rewriteErr = vterrors.Errorf(vterrors.CodeInvalidArgument, "correlated reference to outer projection %s", sqlast.String(col))
			return nil, false
		}
		key := sqlast.String(col)
		pos, ok := byKey[key]
		if !ok {
			pos = len(bindings)
			byKey[key] = pos
			bindings = append(bindings, plan.DependentBinding{PlaceholderPos: pos, Field: col})
		}
		return &sqlast.DependentPlaceholder{Pos: pos}, false
	}

	out := transformSelect(sel, rewriteField)
	if rewriteErr != nil {
		return nil, nil, rewriteErr
	}
	return out, bindings, nil
}

// transformSelect rebuilds a statement applying f to every expression,
// recursing into nested subselects and derived tables. Scope objects are
// shared with the original; the planner never mutates them.
func transformSelect(sel *sqlast.Select, f func(sqlast.Expr) (sqlast.Expr, bool)) *sqlast.Select {
	rec := func(e sqlast.Expr) sqlast.Expr {
		if e == nil {
			return nil
		}
		return sqlast.TransformExpr(e, func(node sqlast.Expr) (sqlast.Expr, bool) {
			switch node := node.(type) {
			case *sqlast.Subquery:
				return &sqlast.Subquery{Select: transformSelect(node.Select, f)}, false
			case *sqlast.ExistsExpr:
				return &sqlast.ExistsExpr{
					Subquery: &sqlast.Subquery{Select: transformSelect(node.Subquery.Select, f)},
				}, false
			}
			return f(node)
		})
	}

	out := &sqlast.Select{Ctx: sel.Ctx}
	for _, se := range sel.Projections {
		switch se := se.(type) {
		case *sqlast.AliasedExpr:
			out.Projections = append(out.Projections, &sqlast.AliasedExpr{Expr: rec(se.Expr), As: se.As})
		default:
			out.Projections = append(out.Projections, se)
		}
	}
	for _, te := range sel.From {
		ate, ok := te.(*sqlast.AliasedTableExpr)
		if !ok {
			out.From = append(out.From, te)
			continue
		}
		if dt, ok := ate.Expr.(*sqlast.DerivedTable); ok {
			out.From = append(out.From, &sqlast.AliasedTableExpr{
				Expr: &sqlast.DerivedTable{Select: transformSelect(dt.Select, f)},
				As:   ate.As,
			})
			continue
		}
		out.From = append(out.From, ate)
	}
	out.Where = rec(sel.Where)
	if sel.GroupBy != nil {
		gb := &sqlast.GroupBy{Having: rec(sel.GroupBy.Having)}
		for _, key := range sel.GroupBy.Keys {
			gb.Keys = append(gb.Keys, rec(key))
		}
		out.GroupBy = gb
	}
	for _, order := range sel.OrderBy {
		out.OrderBy = append(out.OrderBy, &sqlast.Order{Expr: rec(order.Expr), Direction: order.Direction})
	}
	if sel.Limit != nil {
		limit := *sel.Limit
		out.Limit = &limit
	}
	return out
}
