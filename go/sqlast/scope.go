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
	"github.com/liuyi1112/monomi-optimizer/go/schema"
	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

// Relation is a named relation of a FROM clause: either a base table or a
// subquery.
type Relation interface {
	iRelation()
}

// TableRelation is a base-table relation.
type TableRelation struct {
	Name string
}

// SubqueryRelation is a derived-table relation.
type SubqueryRelation struct {
	Select *Select
}

func (*TableRelation) iRelation()    {}
func (*SubqueryRelation) iRelation() {}

// Projection describes one output of a SELECT scope.
type Projection interface {
	iProjection()
}

// NamedProjection is an addressable projection at a fixed position.
type NamedProjection struct {
	Name string
	Expr Expr
	Pos  int
}

// WildcardProjection stands for a '*' projection.
type WildcardProjection struct{}

func (*NamedProjection) iProjection()    {}
func (*WildcardProjection) iProjection() {}

// Context is the scope of one SELECT statement: its relations by alias, its
// ordered projection descriptors, and a link to the enclosing scope. The
// root of the chain carries the schema definitions and statistics.
type Context struct {
	Parent      *Context
	Projections []Projection

	aliases   []string
	relations map[string]Relation

	defns *schema.Definitions
	stats *schema.Statistics
}

// NewRootContext creates a scope chain root holding the schema.
func NewRootContext(defns *schema.Definitions, stats *schema.Statistics) *Context {
	return &Context{
		relations: make(map[string]Relation),
		defns:     defns,
		stats:     stats,
	}
}

// NewContext creates a child scope of parent.
func NewContext(parent *Context) *Context {
	return &Context{
		Parent:    parent,
		relations: make(map[string]Relation),
	}
}

// AddRelation registers a relation under its alias.
func (c *Context) AddRelation(alias string, rel Relation) error {
	if _, ok := c.relations[alias]; ok {
		return vterrors.Errorf(vterrors.CodeInvalidArgument, "duplicate relation alias %q", alias)
	}
	c.aliases = append(c.aliases, alias)
	c.relations[alias] = rel
	return nil
}

// Relation returns the relation registered under alias.
func (c *Context) Relation(alias string) (Relation, bool) {
	rel, ok := c.relations[alias]
	return rel, ok
}

// Aliases returns relation aliases in registration order.
func (c *Context) Aliases() []string {
	return c.aliases
}

// Defns walks to the root and returns the schema definitions.
func (c *Context) Defns() *schema.Definitions {
	for c.Parent != nil {
		c = c.Parent
	}
	return c.defns
}

// Stats walks to the root and returns the table statistics.
func (c *Context) Stats() *schema.Statistics {
	for c.Parent != nil {
		c = c.Parent
	}
	return c.stats
}

// IsParentOf reports whether c is a (transitive) parent of other.
func (c *Context) IsParentOf(other *Context) bool {
	for other != nil {
		if other.Parent == c {
			return true
		}
		other = other.Parent
	}
	return false
}

// Symbol is what a ColName resolves to.
type Symbol interface {
	// Scope returns the context the symbol was defined in.
	Scope() *Context
}

// ColumnSymbol binds a reference to a column of a relation in scope.
type ColumnSymbol struct {
	Relation string
	Column   string
	Ctx      *Context
	Type     schema.Type
}

// ProjectionSymbol binds a reference to a named projection of the enclosing
// SELECT. Legal only in GROUP BY and ORDER BY keys.
type ProjectionSymbol struct {
	Name string
	Ctx  *Context
	Type schema.Type
}

// Scope implements Symbol.
func (s *ColumnSymbol) Scope() *Context { return s.Ctx }

// Scope implements Symbol.
func (s *ProjectionSymbol) Scope() *Context { return s.Ctx }

// LookupColumn resolves a (qualifier, name) reference starting at ctx.
// Relations are searched first; with no qualifier and no relation match,
// named projections are searched when inProjectionScope allows; failing
// both, the parent scope is searched with projection lookup disabled (SQL
// has no correlated references to outer projections). Multiple matches may
// be returned; the tie-break is the caller's problem.
func LookupColumn(ctx *Context, qualifier, name string, inProjectionScope bool) []Symbol {
	var syms []Symbol
	for _, alias := range ctx.aliases {
		if qualifier != "" && qualifier != alias {
			continue
		}
		switch rel := ctx.relations[alias].(type) {
		case *TableRelation:
			table, ok := ctx.Defns().Find(rel.Name)
			if !ok {
				continue
			}
			if col, ok := table.FindColumn(name); ok {
				syms = append(syms, &ColumnSymbol{Relation: alias, Column: name, Ctx: ctx, Type: col.Type})
			}
		case *SubqueryRelation:
			if typ, ok := lookupSubqueryColumn(rel.Select, name); ok {
				syms = append(syms, &ColumnSymbol{Relation: alias, Column: name, Ctx: ctx, Type: typ})
			}
		}
	}
	if len(syms) > 0 {
		return syms
	}
	if qualifier == "" && inProjectionScope {
		for _, proj := range ctx.Projections {
			named, ok := proj.(*NamedProjection)
			if !ok {
				// Wildcard positions are not addressable by name.
				continue
			}
			if named.Name == name {
				syms = append(syms, &ProjectionSymbol{Name: name, Ctx: ctx, Type: TypeOf(named.Expr)})
			}
		}
		if len(syms) > 0 {
			return syms
		}
	}
	if ctx.Parent != nil {
		return LookupColumn(ctx.Parent, qualifier, name, false)
	}
	return nil
}

// lookupSubqueryColumn resolves name against the projection list of a
// subquery relation, recursing through wildcards.
func lookupSubqueryColumn(sel *Select, name string) (schema.Type, bool) {
	if sel.Ctx == nil {
		return schema.TypeUnknown, false
	}
	for _, proj := range sel.Ctx.Projections {
		switch proj := proj.(type) {
		case *NamedProjection:
			if proj.Name == name {
				return TypeOf(proj.Expr), true
			}
		case *WildcardProjection:
			if syms := LookupColumn(sel.Ctx, "", name, false); len(syms) > 0 {
				if cs, ok := syms[0].(*ColumnSymbol); ok {
					return cs.Type, true
				}
				return schema.TypeUnknown, true
			}
		}
	}
	return schema.TypeUnknown, false
}

// TypeOf computes a best-effort logical type for an expression.
func TypeOf(e Expr) schema.Type {
	switch node := e.(type) {
	case *ColName:
		switch sym := node.Metadata.(type) {
		case *ColumnSymbol:
			return sym.Type
		case *ProjectionSymbol:
			return sym.Type
		}
	case *Literal:
		switch node.Type {
		case IntVal:
			return schema.TypeInt
		case FloatVal:
			return schema.TypeDecimal
		case StrVal:
			return schema.TypeString
		}
	case *AggregateExpr:
		switch node.Op {
		case AggrCountStar, AggrCount:
			return schema.TypeInt
		case AggrGroupConcat:
			return schema.TypeString
		default:
			if node.Expr != nil {
				return TypeOf(node.Expr)
			}
		}
	case *BinaryExpr:
		left, right := TypeOf(node.Left), TypeOf(node.Right)
		if left == right {
			return left
		}
		if left == schema.TypeDecimal || right == schema.TypeDecimal {
			return schema.TypeDecimal
		}
	}
	return schema.TypeUnknown
}

// ResolveAliases substitutes every reference to a named projection by its
// defining expression, recursively. The result contains only column and
// literal leaves. Applying it twice is the same as applying it once.
func ResolveAliases(e Expr) Expr {
	return TransformExpr(e, func(node Expr) (Expr, bool) {
		col, ok := node.(*ColName)
		if !ok {
			return nil, true
		}
		sym, ok := col.Metadata.(*ProjectionSymbol)
		if !ok {
			return nil, true
		}
		for _, proj := range sym.Ctx.Projections {
			named, ok := proj.(*NamedProjection)
			if !ok {
				continue
			}
			if named.Name == sym.Name {
				return ResolveAliases(named.Expr), false
			}
		}
		return nil, true
	})
}

// StripExpr canonicalizes an expression: qualifiers removed, symbol
// bindings dropped. Combined with ResolveAliases it yields the canonical
// form onion sets are keyed by.
func StripExpr(e Expr) Expr {
	return TransformExpr(e, func(node Expr) (Expr, bool) {
		if col, ok := node.(*ColName); ok {
			return &ColName{Name: col.Name}, false
		}
		return nil, true
	})
}

// CanonicalString is the canonical key form of an expression: aliases
// resolved, qualifiers stripped, rendered as SQL text.
func CanonicalString(e Expr) string {
	return String(StripExpr(ResolveAliases(e)))
}
