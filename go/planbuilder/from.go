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
	"fmt"

	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/plan"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

// planRelations rewrites the FROM clause onto the encrypted relations.
// Subquery relations plan recursively under the onion demand the enclosing
// statement places on their projections; a child that collapses to a pure
// RemoteSql inlines as a derived table, anything else materializes under a
// synthetic name.
func (p *planner) planRelations() error {
	for _, te := range p.stmt.From {
		ate, ok := te.(*sqlast.AliasedTableExpr)
		if !ok {
			return vterrors.Errorf(vterrors.CodeUnimplemented, "unsupported table expression %s", sqlast.String(te))
		}
		alias := ate.Alias()
		switch st := ate.Expr.(type) {
		case sqlast.TableName:
			p.relInfos[alias] = &relInfo{alias: alias, table: st.Name}
			enc := sqlast.TableName{Name: onion.EncTableName(st.Name)}
			if alias == st.Name {
				p.cur.From = append(p.cur.From, &sqlast.AliasedTableExpr{Expr: enc})
			} else {
				p.cur.From = append(p.cur.From, &sqlast.AliasedTableExpr{Expr: enc, As: alias})
			}

		case *sqlast.DerivedTable:
			demand := p.collectSubqueryDemand(alias, st.Select)
			childPlan, err := p.child(st.Select, EncProj{Onions: demand}).generate()
			if err != nil {
				return err
			}
			ri := &relInfo{alias: alias, isSub: true, sub: st.Select}
			if rs, pure := childPlan.(*plan.RemoteSql); pure {
				inlined, names := aliasServerProjections(rs.Stmt)
				ri.desc = rs.Desc
				ri.colNames = names
				p.cur.From = append(p.cur.From, &sqlast.AliasedTableExpr{
					Expr: &sqlast.DerivedTable{Select: inlined},
					As:   alias,
				})
				p.subplans = append(p.subplans, rs.Subplans...)
			} else {
				name := fmt.Sprintf("m%d", *p.materializeSeq)
				*p.materializeSeq++
				ri.desc = childPlan.TupleDesc()
				ri.colNames = columnNames(len(ri.desc))
				p.subplans = append(p.subplans, &plan.RemoteMaterialize{Name: name, Child: childPlan})
				p.cur.From = append(p.cur.From, &sqlast.AliasedTableExpr{
					Expr: sqlast.TableName{Name: name},
					As:   alias,
				})
			}
			p.relInfos[alias] = ri

		default:
			return vterrors.Errorf(vterrors.CodeUnimplemented, "unsupported table expression %s", sqlast.String(te))
		}
	}
	return nil
}

// aliasServerProjections gives every projection of an inlined server
// statement a positional column name, so the outer statement can reference
// them.
func aliasServerProjections(stmt *sqlast.Select) (*sqlast.Select, []string) {
	out := *stmt
	out.Projections = nil
	names := columnNames(len(stmt.Projections))
	for i, se := range stmt.Projections {
		ae, ok := se.(*sqlast.AliasedExpr)
		if !ok {
			out.Projections = append(out.Projections, se)
			continue
		}
		out.Projections = append(out.Projections, &sqlast.AliasedExpr{Expr: ae.Expr, As: names[i]})
	}
	return &out, names
}

func columnNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("c%d", i)
	}
	return names
}

// collectSubqueryDemand computes the onion demand vector for a subquery
// relation: position i carries the OR of every onion the enclosing
// statement could request from the subquery's i-th projection. Positions
// nobody asks for default to DET.
func (p *planner) collectSubqueryDemand(alias string, sub *sqlast.Select) []onion.Onion {
	demand := make([]onion.Onion, len(sub.Projections))

	record := func(e sqlast.Expr, want onion.Onion) {
		col, ok := e.(*sqlast.ColName)
		if !ok {
			return
		}
		sym, ok := col.Metadata.(*sqlast.ColumnSymbol)
		if !ok || sym.Relation != alias || sym.Ctx != p.stmt.Ctx {
			return
		}
		if pos, ok := subqueryProjectionPos(sub, col.Name); ok && pos < len(demand) {
			demand[pos] |= want &^ onion.PLAIN
		}
	}

	var walk func(e sqlast.Expr, want onion.Onion)
	walk = func(e sqlast.Expr, want onion.Onion) {
		if e == nil {
			return
		}
		switch node := e.(type) {
		case *sqlast.AndExpr:
			walk(node.Left, onion.PLAIN)
			walk(node.Right, onion.PLAIN)
		case *sqlast.OrExpr:
			walk(node.Left, onion.PLAIN)
			walk(node.Right, onion.PLAIN)
		case *sqlast.NotExpr:
			walk(node.Expr, onion.PLAIN)
		case *sqlast.ComparisonExpr:
			sides := onion.Onion(onion.Comparable)
			switch {
			case node.Operator.IsInequality():
				sides = onion.IEqualComparable
			case node.Operator == sqlast.LikeOp:
				sides = onion.SWP
			}
			walk(node.Left, sides)
			walk(node.Right, sides)
		case *sqlast.BinaryExpr:
			walk(node.Left, want)
			walk(node.Right, want)
		case *sqlast.CaseExpr:
			for _, when := range node.Whens {
				walk(when.Cond, onion.PLAIN)
				walk(when.Result, want)
			}
			walk(node.Else, want)
		case *sqlast.AggregateExpr:
			switch node.Op {
			case sqlast.AggrSum, sqlast.AggrAvg:
				walk(node.Expr, onion.HOM|onion.DET)
			case sqlast.AggrMin, sqlast.AggrMax:
				walk(node.Expr, onion.OPE)
			case sqlast.AggrCount:
				walk(node.Expr, onion.Countable)
			}
		case *sqlast.FuncExpr:
			for _, arg := range node.Exprs {
				walk(arg, want)
			}
		case *sqlast.ColName:
			record(node, want)
		}
	}

	for _, se := range p.stmt.Projections {
		if ae, ok := se.(*sqlast.AliasedExpr); ok {
			walk(sqlast.ResolveAliases(ae.Expr), onion.DET)
		}
	}
	walk(p.stmt.Where, onion.PLAIN)
	if p.stmt.GroupBy != nil {
		for _, key := range p.stmt.GroupBy.Keys {
			walk(sqlast.ResolveAliases(key), onion.Comparable)
		}
		walk(p.stmt.GroupBy.Having, onion.PLAIN)
	}
	for _, order := range p.stmt.OrderBy {
		walk(sqlast.ResolveAliases(order.Expr), onion.IEqualComparable)
	}

	for i := range demand {
		if demand[i] == onion.None {
			demand[i] = onion.DET
		}
	}
	return demand
}
