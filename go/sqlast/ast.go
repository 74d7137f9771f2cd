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

// Package sqlast defines the resolved SELECT statement tree the planner
// consumes, together with its scope graph and a small walk/transform kit.
//
// The tree is produced by an external parser and binder; this package only
// defines the shapes and the operations the planner needs: formatting back
// to SQL text, scope-aware column lookup, alias resolution, and structural
// canonicalization.
package sqlast

// SQLNode defines the interface for all nodes
// generated by the parser.
type SQLNode interface {
	Format(buf *TrackedBuffer)
}

// Statement represents a statement.
type Statement interface {
	SQLNode
	iStatement()
}

// Expr represents an expression.
type Expr interface {
	SQLNode
	iExpr()
}

// SelectExpr represents a SELECT expression.
type SelectExpr interface {
	SQLNode
	iSelectExpr()
}

// TableExpr represents a table expression.
type TableExpr interface {
	SQLNode
	iTableExpr()
}

// SimpleTableExpr represents a direct table reference or a derived table.
type SimpleTableExpr interface {
	SQLNode
	iSimpleTableExpr()
}

// Select represents a SELECT statement.
type Select struct {
	Projections SelectExprs
	From        TableExprs
	Where       Expr
	GroupBy     *GroupBy
	OrderBy     OrderBy
	Limit       *Limit

	// Ctx is the scope this statement was bound under.
	Ctx *Context
}

func (*Select) iStatement() {}

// SelectExprs represents SELECT expressions.
type SelectExprs []SelectExpr

// AliasedExpr defines an aliased SELECT expression.
type AliasedExpr struct {
	Expr Expr
	As   string
}

// StarExpr defines a '*' or 'table.*' expression.
// Only permitted in intermediate (subquery) projection lists.
type StarExpr struct{}

func (*AliasedExpr) iSelectExpr() {}
func (*StarExpr) iSelectExpr()    {}

// TableExprs represents a list of table expressions.
type TableExprs []TableExpr

// AliasedTableExpr represents a table expression
// coupled with an optional alias.
type AliasedTableExpr struct {
	Expr SimpleTableExpr
	As   string
}

func (*AliasedTableExpr) iTableExpr() {}

// Alias returns the effective alias: the explicit one if set, else the
// table name for direct references.
func (te *AliasedTableExpr) Alias() string {
	if te.As != "" {
		return te.As
	}
	if tn, ok := te.Expr.(TableName); ok {
		return tn.Name
	}
	return ""
}

// TableName represents a base table reference.
type TableName struct {
	Name string
}

// DerivedTable represents a subquery used as a FROM relation.
type DerivedTable struct {
	Select *Select
}

func (TableName) iSimpleTableExpr()     {}
func (*DerivedTable) iSimpleTableExpr() {}

// GroupBy represents a GROUP BY clause with its HAVING filter.
type GroupBy struct {
	Keys   []Expr
	Having Expr
}

// OrderBy represents an ORDER BY clause.
type OrderBy []*Order

// Order represents an ordering expression.
type Order struct {
	Expr      Expr
	Direction OrderDirection
}

// OrderDirection is the sort direction of an Order.
type OrderDirection int

// Constants for order directions.
const (
	AscOrder OrderDirection = iota
	DescOrder
)

// Limit represents a LIMIT clause.
type Limit struct {
	Rowcount int
}

// AndExpr represents an AND expression.
type AndExpr struct {
	Left, Right Expr
}

// OrExpr represents an OR expression.
type OrExpr struct {
	Left, Right Expr
}

// NotExpr represents a NOT expression.
type NotExpr struct {
	Expr Expr
}

// ComparisonOp is the operator of a ComparisonExpr.
type ComparisonOp int

// Constants for comparison operators.
const (
	EqualOp ComparisonOp = iota
	NotEqualOp
	LessThanOp
	LessEqualOp
	GreaterThanOp
	GreaterEqualOp
	InOp
	NotInOp
	LikeOp
)

var comparisonOpNames = []string{"=", "!=", "<", "<=", ">", ">=", "in", "not in", "like"}

func (op ComparisonOp) String() string { return comparisonOpNames[op] }

// IsEquality reports whether the operator is equality-like.
func (op ComparisonOp) IsEquality() bool { return op == EqualOp || op == NotEqualOp }

// IsInequality reports whether the operator is an ordering comparison.
func (op ComparisonOp) IsInequality() bool {
	switch op {
	case LessThanOp, LessEqualOp, GreaterThanOp, GreaterEqualOp:
		return true
	}
	return false
}

// ComparisonExpr represents a two-value comparison expression.
type ComparisonExpr struct {
	Operator    ComparisonOp
	Left, Right Expr
}

// BinaryOp is the operator of a BinaryExpr.
type BinaryOp int

// Constants for arithmetic operators.
const (
	PlusOp BinaryOp = iota
	MinusOp
	MultOp
	DivOp
)

var binaryOpNames = []string{"+", "-", "*", "/"}

func (op BinaryOp) String() string { return binaryOpNames[op] }

// BinaryExpr represents a binary arithmetic expression.
type BinaryExpr struct {
	Operator    BinaryOp
	Left, Right Expr
}

// When represents a WHEN sub-expression of a CaseExpr.
type When struct {
	Cond   Expr
	Result Expr
}

// CaseExpr represents a searched CASE expression.
type CaseExpr struct {
	Whens []*When
	Else  Expr
}

// AggrOp is the operator of an AggregateExpr.
type AggrOp int

// Constants for aggregate operators.
const (
	AggrCountStar AggrOp = iota
	AggrCount
	AggrMin
	AggrMax
	AggrSum
	AggrAvg
	AggrGroupConcat
)

var aggrOpNames = []string{"count", "count", "min", "max", "sum", "avg", "group_concat"}

func (op AggrOp) String() string { return aggrOpNames[op] }

// AggregateExpr represents an aggregation. Expr is nil for COUNT(*) and for
// GROUP_CONCAT carries the concatenated expression; Sep applies only to
// GROUP_CONCAT.
type AggregateExpr struct {
	Op   AggrOp
	Expr Expr
	Sep  string
}

// FuncExpr represents an uninterpreted function call.
type FuncExpr struct {
	Name  string
	Exprs []Expr
}

// EncryptExpr wraps a server-side value in an onion encryption call.
// OnionName is the textual onion identifier (DET, OPE, ...).
type EncryptExpr struct {
	Expr      Expr
	OnionName string
}

// ValTuple represents a tuple of values, as in the right-hand side of an IN
// clause.
type ValTuple []Expr

// Subquery represents a subquery used as a value.
type Subquery struct {
	Select *Select
}

// ExistsExpr represents an EXISTS expression.
type ExistsExpr struct {
	Subquery *Subquery
}

// ColName represents a column reference. Metadata carries the symbol the
// binder resolved it to; canonicalized expressions have Qualifier == "" and
// Metadata == nil.
type ColName struct {
	Qualifier string
	Name      string
	Metadata  Symbol
}

// LiteralType is the type tag of a Literal.
type LiteralType int

// Constants for literal types.
const (
	IntVal LiteralType = iota
	FloatVal
	StrVal
)

// Literal represents a fixed value.
type Literal struct {
	Type LiteralType
	Val  string
}

// NullVal represents a NULL value.
type NullVal struct{}

// DependentPlaceholder is a positional stand-in for a value of the outer
// tuple, inserted when a correlated subquery is pulled client-side. When the
// subquery plan needs the value under an onion, Bound records it and the
// placeholder renders as an encryption of the runtime value.
type DependentPlaceholder struct {
	Pos   int
	Bound string
}

// Bind returns a copy of the placeholder bound to the given onion name.
func (dp *DependentPlaceholder) Bind(onionName string) *DependentPlaceholder {
	return &DependentPlaceholder{Pos: dp.Pos, Bound: onionName}
}

// TuplePosition references a position of the tuple a client computation
// consumes. Vector marks GROUP_CONCAT-packed positions holding one value
// per member of a group.
type TuplePosition struct {
	Pos    int
	Vector bool
}

// SubqueryPosition references a planned subquery of a client computation.
type SubqueryPosition struct {
	Idx int
}

// ExistsSubqueryPosition references a planned EXISTS subquery of a client
// computation.
type ExistsSubqueryPosition struct {
	Idx int
}

func (*AndExpr) iExpr()                {}
func (*OrExpr) iExpr()                 {}
func (*NotExpr) iExpr()                {}
func (*ComparisonExpr) iExpr()         {}
func (*BinaryExpr) iExpr()             {}
func (*CaseExpr) iExpr()               {}
func (*AggregateExpr) iExpr()          {}
func (*FuncExpr) iExpr()               {}
func (*EncryptExpr) iExpr()            {}
func (ValTuple) iExpr()                {}
func (*Subquery) iExpr()               {}
func (*ExistsExpr) iExpr()             {}
func (*ColName) iExpr()                {}
func (*Literal) iExpr()                {}
func (*NullVal) iExpr()                {}
func (*DependentPlaceholder) iExpr()   {}
func (*TuplePosition) iExpr()          {}
func (*SubqueryPosition) iExpr()       {}
func (*ExistsSubqueryPosition) iExpr() {}

// NewColName returns an unqualified, unbound column reference.
func NewColName(name string) *ColName {
	return &ColName{Name: name}
}

// NewIntLiteral builds an integer Literal.
func NewIntLiteral(val string) *Literal {
	return &Literal{Type: IntVal, Val: val}
}

// NewFloatLiteral builds a float Literal.
func NewFloatLiteral(val string) *Literal {
	return &Literal{Type: FloatVal, Val: val}
}

// NewStrLiteral builds a string Literal.
func NewStrLiteral(val string) *Literal {
	return &Literal{Type: StrVal, Val: val}
}
