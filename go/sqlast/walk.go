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

// Visit defines the signature of a function that
// can be used to visit all nodes of a parse tree.
// returning false on kontinue means that children will not be visited
// returning an error will abort the visitation and return the error
type Visit func(node SQLNode) (kontinue bool, err error)

// Walk calls visit on every node.
// If visit returns true, the underlying nodes
// are also visited. If it returns an error, walking
// is interrupted, and the error is returned.
func Walk(visit Visit, nodes ...SQLNode) error {
	for _, node := range nodes {
		if node == nil {
			continue
		}
		kontinue, err := visit(node)
		if err != nil {
			return err
		}
		if !kontinue {
			continue
		}
		if err := Walk(visit, childrenOf(node)...); err != nil {
			return err
		}
	}
	return nil
}

func childrenOf(node SQLNode) []SQLNode {
	switch node := node.(type) {
	case *Select:
		children := []SQLNode{node.Projections, node.From}
		if node.Where != nil {
			children = append(children, node.Where)
		}
		if node.GroupBy != nil {
			for _, key := range node.GroupBy.Keys {
				children = append(children, key)
			}
			if node.GroupBy.Having != nil {
				children = append(children, node.GroupBy.Having)
			}
		}
		for _, order := range node.OrderBy {
			children = append(children, order.Expr)
		}
		return children
	case SelectExprs:
		children := make([]SQLNode, 0, len(node))
		for _, expr := range node {
			children = append(children, expr)
		}
		return children
	case *AliasedExpr:
		return []SQLNode{node.Expr}
	case TableExprs:
		children := make([]SQLNode, 0, len(node))
		for _, expr := range node {
			children = append(children, expr)
		}
		return children
	case *AliasedTableExpr:
		return []SQLNode{node.Expr}
	case *DerivedTable:
		return []SQLNode{node.Select}
	case *AndExpr:
		return []SQLNode{node.Left, node.Right}
	case *OrExpr:
		return []SQLNode{node.Left, node.Right}
	case *NotExpr:
		return []SQLNode{node.Expr}
	case *ComparisonExpr:
		return []SQLNode{node.Left, node.Right}
	case *BinaryExpr:
		return []SQLNode{node.Left, node.Right}
	case *CaseExpr:
		var children []SQLNode
		for _, when := range node.Whens {
			children = append(children, when.Cond, when.Result)
		}
		if node.Else != nil {
			children = append(children, node.Else)
		}
		return children
	case *AggregateExpr:
		if node.Expr == nil {
			return nil
		}
		return []SQLNode{node.Expr}
	case *FuncExpr:
		children := make([]SQLNode, 0, len(node.Exprs))
		for _, arg := range node.Exprs {
			children = append(children, arg)
		}
		return children
	case *EncryptExpr:
		return []SQLNode{node.Expr}
	case ValTuple:
		children := make([]SQLNode, 0, len(node))
		for _, expr := range node {
			children = append(children, expr)
		}
		return children
	case *Subquery:
		return []SQLNode{node.Select}
	case *ExistsExpr:
		return []SQLNode{node.Subquery}
	}
	return nil
}

// TransformExpr applies f top-down. f returns an optional replacement and
// whether to keep descending into the (possibly replaced) node. The input is
// never mutated; a new tree is built, sharing unchanged subtrees.
func TransformExpr(e Expr, f func(Expr) (Expr, bool)) Expr {
	if e == nil {
		return nil
	}
	repl, descend := f(e)
	if repl != nil {
		e = repl
	}
	if !descend {
		return e
	}
	rec := func(child Expr) Expr { return TransformExpr(child, f) }
	switch node := e.(type) {
	case *AndExpr:
		return &AndExpr{Left: rec(node.Left), Right: rec(node.Right)}
	case *OrExpr:
		return &OrExpr{Left: rec(node.Left), Right: rec(node.Right)}
	case *NotExpr:
		return &NotExpr{Expr: rec(node.Expr)}
	case *ComparisonExpr:
		return &ComparisonExpr{Operator: node.Operator, Left: rec(node.Left), Right: rec(node.Right)}
	case *BinaryExpr:
		return &BinaryExpr{Operator: node.Operator, Left: rec(node.Left), Right: rec(node.Right)}
	case *CaseExpr:
		out := &CaseExpr{}
		for _, when := range node.Whens {
			out.Whens = append(out.Whens, &When{Cond: rec(when.Cond), Result: rec(when.Result)})
		}
		if node.Else != nil {
			out.Else = rec(node.Else)
		}
		return out
	case *AggregateExpr:
		out := &AggregateExpr{Op: node.Op, Sep: node.Sep}
		if node.Expr != nil {
			out.Expr = rec(node.Expr)
		}
		return out
	case *FuncExpr:
		out := &FuncExpr{Name: node.Name}
		for _, arg := range node.Exprs {
			out.Exprs = append(out.Exprs, rec(arg))
		}
		return out
	case *EncryptExpr:
		return &EncryptExpr{Expr: rec(node.Expr), OnionName: node.OnionName}
	case ValTuple:
		out := make(ValTuple, 0, len(node))
		for _, expr := range node {
			out = append(out, rec(expr))
		}
		return out
	default:
		// Leaves (and subqueries, which the transform treats as opaque).
		return e
	}
}

// CloneExpr returns a deep copy of the expression. Subquery statements are
// shared, not copied.
func CloneExpr(e Expr) Expr {
	if e == nil {
		return nil
	}
	switch node := e.(type) {
	case *ColName:
		out := *node
		return &out
	case *Literal:
		out := *node
		return &out
	case *NullVal:
		return &NullVal{}
	case *DependentPlaceholder:
		out := *node
		return &out
	case *TuplePosition:
		out := *node
		return &out
	case *SubqueryPosition:
		out := *node
		return &out
	case *ExistsSubqueryPosition:
		out := *node
		return &out
	case *Subquery:
		out := *node
		return &out
	case *ExistsExpr:
		return &ExistsExpr{Subquery: CloneExpr(node.Subquery).(*Subquery)}
	default:
		return TransformExpr(e, func(Expr) (Expr, bool) { return nil, true })
	}
}
