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
	"fmt"
	"strings"
)

// Format formats the node.
func (node *Select) Format(buf *TrackedBuffer) {
	buf.Myprintf("select %v from %v", node.Projections, node.From)
	if node.Where != nil {
		buf.Myprintf(" where %v", node.Where)
	}
	if node.GroupBy != nil && len(node.GroupBy.Keys) > 0 {
		buf.WriteString(" group by ")
		for i, key := range node.GroupBy.Keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.Myprintf("%v", key)
		}
		if node.GroupBy.Having != nil {
			buf.Myprintf(" having %v", node.GroupBy.Having)
		}
	}
	if len(node.OrderBy) > 0 {
		buf.WriteString(" order by ")
		for i, order := range node.OrderBy {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.Myprintf("%v", order)
		}
	}
	if node.Limit != nil {
		buf.Myprintf(" limit %d", node.Limit.Rowcount)
	}
}

// Format formats the node.
func (node SelectExprs) Format(buf *TrackedBuffer) {
	for i, expr := range node {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.Myprintf("%v", expr)
	}
}

// Format formats the node.
func (node *AliasedExpr) Format(buf *TrackedBuffer) {
	buf.Myprintf("%v", node.Expr)
	if node.As != "" {
		buf.Myprintf(" as %s", node.As)
	}
}

// Format formats the node.
func (*StarExpr) Format(buf *TrackedBuffer) {
	buf.WriteString("*")
}

// Format formats the node.
func (node TableExprs) Format(buf *TrackedBuffer) {
	for i, expr := range node {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.Myprintf("%v", expr)
	}
}

// Format formats the node.
func (node *AliasedTableExpr) Format(buf *TrackedBuffer) {
	buf.Myprintf("%v", node.Expr)
	if node.As != "" {
		buf.Myprintf(" as %s", node.As)
	}
}

// Format formats the node.
func (node TableName) Format(buf *TrackedBuffer) {
	buf.WriteString(node.Name)
}

// Format formats the node.
func (node *DerivedTable) Format(buf *TrackedBuffer) {
	buf.Myprintf("(%v)", node.Select)
}

// Format formats the node.
func (node *Order) Format(buf *TrackedBuffer) {
	buf.Myprintf("%v", node.Expr)
	if node.Direction == DescOrder {
		buf.WriteString(" desc")
	}
}

// formatTerm formats a child expression, parenthesizing every compound child
// (boolean connective, NOT, arithmetic, comparison or CASE) whether or not
// operator precedence alone would bind it the same way.
func formatTerm(buf *TrackedBuffer, node Expr) {
	switch node.(type) {
	case *AndExpr, *OrExpr, *NotExpr, *BinaryExpr, *ComparisonExpr, *CaseExpr:
		buf.Myprintf("(%v)", node)
	default:
		buf.Myprintf("%v", node)
	}
}

// Format formats the node.
func (node *AndExpr) Format(buf *TrackedBuffer) {
	formatBoolTerm(buf, node.Left, true)
	buf.WriteString(" and ")
	formatBoolTerm(buf, node.Right, true)
}

// Format formats the node.
func (node *OrExpr) Format(buf *TrackedBuffer) {
	formatBoolTerm(buf, node.Left, false)
	buf.WriteString(" or ")
	formatBoolTerm(buf, node.Right, false)
}

func formatBoolTerm(buf *TrackedBuffer, node Expr, insideAnd bool) {
	if _, ok := node.(*OrExpr); ok && insideAnd {
		buf.Myprintf("(%v)", node)
		return
	}
	buf.Myprintf("%v", node)
}

// Format formats the node.
func (node *NotExpr) Format(buf *TrackedBuffer) {
	buf.WriteString("not ")
	formatTerm(buf, node.Expr)
}

// Format formats the node.
func (node *ComparisonExpr) Format(buf *TrackedBuffer) {
	formatTerm(buf, node.Left)
	buf.Myprintf(" %s ", node.Operator.String())
	formatTerm(buf, node.Right)
}

// Format formats the node.
func (node *BinaryExpr) Format(buf *TrackedBuffer) {
	formatTerm(buf, node.Left)
	buf.Myprintf(" %s ", node.Operator.String())
	formatTerm(buf, node.Right)
}

// Format formats the node.
func (node *CaseExpr) Format(buf *TrackedBuffer) {
	buf.WriteString("case")
	for _, when := range node.Whens {
		buf.Myprintf(" when %v then %v", when.Cond, when.Result)
	}
	if node.Else != nil {
		buf.Myprintf(" else %v", node.Else)
	}
	buf.WriteString(" end")
}

// Format formats the node.
func (node *AggregateExpr) Format(buf *TrackedBuffer) {
	switch node.Op {
	case AggrCountStar:
		buf.WriteString("count(*)")
	case AggrGroupConcat:
		sep := node.Sep
		if sep == "" {
			sep = ","
		}
		buf.Myprintf("group_concat(%v, '%s')", node.Expr, sep)
	default:
		buf.Myprintf("%s(%v)", node.Op.String(), node.Expr)
	}
}

// Format formats the node.
func (node *FuncExpr) Format(buf *TrackedBuffer) {
	buf.Myprintf("%s(", node.Name)
	for i, arg := range node.Exprs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.Myprintf("%v", arg)
	}
	buf.WriteString(")")
}

// Format formats the node.
func (node *EncryptExpr) Format(buf *TrackedBuffer) {
	buf.Myprintf("encrypt(%v, %s)", node.Expr, node.OnionName)
}

// Format formats the node.
func (node ValTuple) Format(buf *TrackedBuffer) {
	buf.WriteString("(")
	for i, expr := range node {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.Myprintf("%v", expr)
	}
	buf.WriteString(")")
}

// Format formats the node.
func (node *Subquery) Format(buf *TrackedBuffer) {
	buf.Myprintf("(%v)", node.Select)
}

// Format formats the node.
func (node *ExistsExpr) Format(buf *TrackedBuffer) {
	buf.Myprintf("exists %v", node.Subquery)
}

// Format formats the node.
func (node *ColName) Format(buf *TrackedBuffer) {
	if node.Qualifier != "" {
		buf.Myprintf("%s.", node.Qualifier)
	}
	buf.WriteString(node.Name)
}

// Format formats the node.
func (node *Literal) Format(buf *TrackedBuffer) {
	switch node.Type {
	case StrVal:
		buf.Myprintf("'%s'", strings.ReplaceAll(node.Val, "'", "\\'"))
	default:
		buf.WriteString(node.Val)
	}
}

// Format formats the node.
func (*NullVal) Format(buf *TrackedBuffer) {
	buf.WriteString("null")
}

// Format formats the node.
func (node *DependentPlaceholder) Format(buf *TrackedBuffer) {
	if node.Bound != "" && node.Bound != "PLAIN" {
		fmt.Fprintf(buf, "encrypt(:dep%d, %s)", node.Pos, node.Bound)
		return
	}
	fmt.Fprintf(buf, ":dep%d", node.Pos)
}

// Format formats the node.
func (node *TuplePosition) Format(buf *TrackedBuffer) {
	fmt.Fprintf(buf, "pos(%d)", node.Pos)
}

// Format formats the node.
func (node *SubqueryPosition) Format(buf *TrackedBuffer) {
	fmt.Fprintf(buf, "subquery(%d)", node.Idx)
}

// Format formats the node.
func (node *ExistsSubqueryPosition) Format(buf *TrackedBuffer) {
	fmt.Fprintf(buf, "exists_subquery(%d)", node.Idx)
}
