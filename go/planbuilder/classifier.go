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
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

// OnionableExpr is the canonical precomputable form of an expression: the
// relation alias it is reachable through in the current scope, the base
// table whose onion set keys the lookup, and the canonical expression used
// as the key.
type OnionableExpr struct {
	Alias     string
	Table     string
	Canonical sqlast.Expr
}

// FindOnionableExpr reports the canonical precomputable form of e, if the
// resolved expression depends on columns of exactly one base table.
// Subquery relations are followed one level: a reference to a subquery
// projection recurses through the projected expression while keeping the
// outer relation alias.
func FindOnionableExpr(e sqlast.Expr) (OnionableExpr, bool) {
	resolved := sqlast.ResolveAliases(e)

	// Subqueries, placeholders and tuple references are never
	// precomputable.
	opaque := false
	_ = sqlast.Walk(func(node sqlast.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlast.Subquery, *sqlast.ExistsExpr, *sqlast.DependentPlaceholder,
			*sqlast.TuplePosition, *sqlast.SubqueryPosition, *sqlast.ExistsSubqueryPosition,
			*sqlast.AggregateExpr:
			opaque = true
			return false, nil
		}
		return true, nil
	}, resolved)
	if opaque {
		return OnionableExpr{}, false
	}

	// Expand references through subquery relations one level, so the
	// dependency check sees base-table columns only.
	failed := false
	var outerAlias string
	expanded := sqlast.TransformExpr(resolved, func(node sqlast.Expr) (sqlast.Expr, bool) {
		col, ok := node.(*sqlast.ColName)
		if !ok {
			return nil, true
		}
		sym, ok := col.Metadata.(*sqlast.ColumnSymbol)
		if !ok {
			failed = true
			return nil, false
		}
		rel, ok := sym.Ctx.Relation(sym.Relation)
		if !ok {
			failed = true
			return nil, false
		}
		sub, ok := rel.(*sqlast.SubqueryRelation)
		if !ok {
			return nil, false
		}
		if outerAlias == "" {
			outerAlias = sym.Relation
		}
		inner, ok := subqueryProjectionExpr(sub.Select, col.Name)
		if !ok {
			failed = true
			return nil, false
		}
		return sqlast.ResolveAliases(inner), false
	})
	if failed {
		return OnionableExpr{}, false
	}

	var alias, table string
	single := true
	sawColumn := false
	_ = sqlast.Walk(func(node sqlast.SQLNode) (bool, error) {
		col, ok := node.(*sqlast.ColName)
		if !ok {
			return true, nil
		}
		sawColumn = true
		sym, ok := col.Metadata.(*sqlast.ColumnSymbol)
		if !ok {
			single = false
			return false, nil
		}
		rel, ok := sym.Ctx.Relation(sym.Relation)
		if !ok {
			single = false
			return false, nil
		}
		tr, ok := rel.(*sqlast.TableRelation)
		if !ok {
			single = false
			return false, nil
		}
		if table == "" {
			table = tr.Name
			alias = sym.Relation
		} else if table != tr.Name || alias != sym.Relation {
			single = false
			return false, nil
		}
		return true, nil
	}, expanded)
	if !single || !sawColumn {
		return OnionableExpr{}, false
	}
	if outerAlias == "" {
		outerAlias = alias
	}
	return OnionableExpr{
		Alias:     outerAlias,
		Table:     table,
		Canonical: sqlast.StripExpr(expanded),
	}, true
}

// subqueryProjectionExpr returns the expression the subquery projects under
// the given name, following wildcards into plain column references.
func subqueryProjectionExpr(sel *sqlast.Select, name string) (sqlast.Expr, bool) {
	if sel.Ctx == nil {
		return nil, false
	}
	for _, proj := range sel.Ctx.Projections {
		switch proj := proj.(type) {
		case *sqlast.NamedProjection:
			if proj.Name == name {
				return proj.Expr, true
			}
		case *sqlast.WildcardProjection:
			if syms := sqlast.LookupColumn(sel.Ctx, "", name, false); len(syms) > 0 {
				return &sqlast.ColName{Name: name, Metadata: syms[0]}, true
			}
		}
	}
	return nil, false
}

// subqueryProjectionPos returns the projection position of name in the
// subquery's output.
func subqueryProjectionPos(sel *sqlast.Select, name string) (int, bool) {
	if sel.Ctx == nil {
		return 0, false
	}
	for _, proj := range sel.Ctx.Projections {
		if named, ok := proj.(*sqlast.NamedProjection); ok && named.Name == name {
			return named.Pos, true
		}
	}
	return 0, false
}

// supportedExpr rewrites e into a server expression under some bit of mask,
// walking the mask bits in declaration order. Literals always succeed.
func (p *planner) supportedExpr(e sqlast.Expr, mask onion.Onion) (*srvExpr, bool) {
	switch node := e.(type) {
	case *sqlast.Literal, *sqlast.NullVal:
		o := mask.PickOne()
		if o == onion.PLAIN {
			return &srvExpr{expr: node, ct: onion.Plain}, true
		}
		return &srvExpr{expr: &sqlast.EncryptExpr{Expr: node, OnionName: o.String()}, ct: onion.NewColType(o)}, true
	case *sqlast.ColName:
		if srv, ok, done := p.subqueryColumnExpr(node, mask); done {
			return srv, ok
		}
	}

	oe, ok := FindOnionableExpr(e)
	if !ok {
		return nil, false
	}
	base, avail, ok := p.oset.Lookup(oe.Table, oe.Canonical)
	if !ok {
		return nil, false
	}
	for _, o := range mask.ToSeq() {
		if avail&o == 0 {
			continue
		}
		qual := p.qualifierFor(oe.Alias, oe.Table)
		return &srvExpr{
			expr: &sqlast.ColName{Qualifier: qual, Name: onion.EncColName(base, o)},
			ct:   onion.NewColType(o),
		}, true
	}
	return nil, false
}

// subqueryColumnExpr resolves a reference to a subquery relation against
// the subplan's tuple descriptor. The third return is false when the column
// does not belong to a subquery relation of this statement.
func (p *planner) subqueryColumnExpr(col *sqlast.ColName, mask onion.Onion) (*srvExpr, bool, bool) {
	sym, ok := col.Metadata.(*sqlast.ColumnSymbol)
	if !ok || sym.Ctx != p.stmt.Ctx {
		return nil, false, false
	}
	ri, ok := p.relInfos[sym.Relation]
	if !ok || !ri.isSub {
		return nil, false, false
	}
	pos, ok := subqueryProjectionPos(ri.sub, col.Name)
	if !ok || pos >= len(ri.desc) {
		return nil, false, true
	}
	ct := ri.desc[pos]
	if mask&ct.Onion == 0 {
		return nil, false, true
	}
	return &srvExpr{
		expr: &sqlast.ColName{Qualifier: ri.alias, Name: ri.colNames[pos]},
		ct:   ct,
	}, true, true
}

// supportedExprConstrained is supportedExpr made aware of group-by keys:
// inside an aggregation scope a field that is itself a group key must be
// rewritten under the onion the key was grouped by, or not at all.
func (p *planner) supportedExprConstrained(e sqlast.Expr, mask onion.Onion) (*srvExpr, bool) {
	if p.aggContext {
		if col, ok := e.(*sqlast.ColName); ok {
			canonical := sqlast.CanonicalString(sqlast.ResolveAliases(col))
			if forced, ok := p.groupKeyOnions[canonical]; ok {
				if mask&forced == 0 {
					return nil, false
				}
				return p.supportedExpr(e, forced)
			}
		}
	}
	return p.supportedExpr(e, mask)
}

// isGroupKey reports whether e is one of the statement's group-by keys.
func (p *planner) isGroupKey(e sqlast.Expr) bool {
	if !p.aggContext {
		return false
	}
	_, ok := p.groupKeyOnions[sqlast.CanonicalString(sqlast.ResolveAliases(e))]
	return ok
}

// supportedHomRowDescExpr is the packed-HOM path: it returns the server
// expression yielding the packed row identifier, plus every candidate slot
// holding the expression.
func (p *planner) supportedHomRowDescExpr(e sqlast.Expr) (*srvExpr, []onion.HomDesc, bool) {
	oe, ok := FindOnionableExpr(e)
	if !ok {
		return nil, nil, false
	}
	descs := p.oset.LookupPackedHOM(oe.Table, oe.Canonical)
	if len(descs) == 0 {
		return nil, nil, false
	}
	srv := &srvExpr{
		expr: &sqlast.ColName{Qualifier: p.qualifierFor(oe.Alias, oe.Table), Name: onion.RowIDColumn},
		ct:   onion.NewColType(onion.HOMRowDesc),
	}
	return srv, descs, true
}

func (p *planner) qualifierFor(alias, table string) string {
	if ri, ok := p.relInfos[alias]; ok {
		return ri.physQualifier()
	}
	if alias == table {
		return onion.EncTableName(table)
	}
	return alias
}

// homSummands lists the summed expressions of a SUM/AVG argument: the
// argument itself, or the non-zero branches of a CASE.
func homSummands(e sqlast.Expr) []sqlast.Expr {
	caseExpr, ok := e.(*sqlast.CaseExpr)
	if !ok {
		return []sqlast.Expr{e}
	}
	var summands []sqlast.Expr
	for _, when := range caseExpr.Whens {
		if !isZeroLiteral(when.Result) {
			summands = append(summands, when.Result)
		}
	}
	if caseExpr.Else != nil && !isZeroLiteral(caseExpr.Else) {
		summands = append(summands, caseExpr.Else)
	}
	return summands
}

func isZeroLiteral(e sqlast.Expr) bool {
	lit, ok := e.(*sqlast.Literal)
	if !ok {
		return false
	}
	return lit.Type == sqlast.IntVal && lit.Val == "0"
}
