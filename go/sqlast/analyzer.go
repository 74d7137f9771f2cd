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

package sqlast

import (
	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

// Analyze binds a statement under the given scope: it builds the Context
// chain for the statement and every subquery, fills in projection
// descriptors, and resolves every column reference to a Symbol. The
// statement is mutated in place (Ctx fields and ColName metadata); after
// Analyze the planner treats it as read-only.
func Analyze(sel *Select, parent *Context) error {
	ctx := NewContext(parent)
	sel.Ctx = ctx

	for _, te := range sel.From {
		ate, ok := te.(*AliasedTableExpr)
		if !ok {
			return vterrors.Errorf(vterrors.CodeUnimplemented, "unsupported table expression %s", String(te))
		}
		switch st := ate.Expr.(type) {
		case TableName:
			if _, ok := ctx.Defns().Find(st.Name); !ok {
				return vterrors.Errorf(vterrors.CodeInvalidArgument, "table %s not found", st.Name)
			}
			if err := ctx.AddRelation(ate.Alias(), &TableRelation{Name: st.Name}); err != nil {
				return err
			}
		case *DerivedTable:
			if ate.As == "" {
				return vterrors.Errorf(vterrors.CodeInvalidArgument, "derived table must have an alias")
			}
			if err := Analyze(st.Select, ctx); err != nil {
				return err
			}
			if err := ctx.AddRelation(ate.As, &SubqueryRelation{Select: st.Select}); err != nil {
				return err
			}
		default:
			return vterrors.Errorf(vterrors.CodeUnimplemented, "unsupported table expression %s", String(te))
		}
	}

	for i, se := range sel.Projections {
		switch se := se.(type) {
		case *StarExpr:
			ctx.Projections = append(ctx.Projections, &WildcardProjection{})
		case *AliasedExpr:
			name := se.As
			if name == "" {
				if col, ok := se.Expr.(*ColName); ok {
					name = col.Name
				}
			}
			ctx.Projections = append(ctx.Projections, &NamedProjection{Name: name, Expr: se.Expr, Pos: i})
		}
	}

	for _, se := range sel.Projections {
		if ae, ok := se.(*AliasedExpr); ok {
			if err := bindExpr(ctx, ae.Expr, false); err != nil {
				return err
			}
		}
	}
	if sel.Where != nil {
		if err := bindExpr(ctx, sel.Where, false); err != nil {
			return err
		}
	}
	if sel.GroupBy != nil {
		for _, key := range sel.GroupBy.Keys {
			if err := bindExpr(ctx, key, true); err != nil {
				return err
			}
		}
		if sel.GroupBy.Having != nil {
			if err := bindExpr(ctx, sel.GroupBy.Having, false); err != nil {
				return err
			}
		}
	}
	for _, order := range sel.OrderBy {
		if err := bindExpr(ctx, order.Expr, true); err != nil {
			return err
		}
	}
	return nil
}

func bindExpr(ctx *Context, e Expr, inProjectionScope bool) error {
	return Walk(func(node SQLNode) (bool, error) {
		switch node := node.(type) {
		case *ColName:
			if node.Metadata != nil {
				return false, nil
			}
			syms := LookupColumn(ctx, node.Qualifier, node.Name, inProjectionScope)
			if len(syms) == 0 {
				return false, vterrors.Errorf(vterrors.CodeInvalidArgument, "column %s not found", String(node))
			}
			node.Metadata = syms[0]
			return false, nil
		case *Subquery:
			return false, Analyze(node.Select, ctx)
		}
		return true, nil
	}, e)
}
