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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/plan"
	"github.com/liuyi1112/monomi-optimizer/go/schema"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

func testDefns() *schema.Definitions {
	defns := schema.NewDefinitions()
	defns.AddTable(&schema.Table{Name: "lineitem", Columns: []schema.Column{
		{Name: "l_extendedprice", Type: schema.TypeDecimal},
		{Name: "l_discount", Type: schema.TypeDecimal},
		{Name: "l_quantity", Type: schema.TypeDecimal},
		{Name: "l_returnflag", Type: schema.TypeString},
		{Name: "l_shipdate", Type: schema.TypeDate},
	}})
	defns.AddTable(&schema.Table{Name: "t", Columns: []schema.Column{
		{Name: "a", Type: schema.TypeInt},
		{Name: "b", Type: schema.TypeString},
		{Name: "k", Type: schema.TypeInt},
		{Name: "x", Type: schema.TypeInt},
		{Name: "y", Type: schema.TypeInt},
	}})
	defns.AddTable(&schema.Table{Name: "u", Columns: []schema.Column{
		{Name: "b", Type: schema.TypeInt},
		{Name: "c", Type: schema.TypeInt},
		{Name: "d", Type: schema.TypeInt},
	}})
	return defns
}

func analyze(t *testing.T, stmt *sqlast.Select) *sqlast.Select {
	t.Helper()
	require.NoError(t, sqlast.Analyze(stmt, sqlast.NewRootContext(testDefns(), schema.NewStatistics())))
	return stmt
}

func mustPlan(t *testing.T, stmt *sqlast.Select, oset *onion.Set, ectx EncContext) plan.Node {
	t.Helper()
	node, err := GeneratePlan(stmt, oset, ectx)
	require.NoError(t, err)
	require.NoError(t, plan.CheckTupleDesc(node))
	return node
}

func assertAllPlain(t *testing.T, node plan.Node) {
	t.Helper()
	for i, ct := range node.TupleDesc() {
		assert.True(t, ct.IsPlain(), "position %d is %s, want PLAIN", i, ct)
	}
}

// Aggregating a packed HOM expression: the server sums whole packed rows,
// the client extracts the slot.
func TestPlanPackedHomSum(t *testing.T) {
	discounted := &sqlast.BinaryExpr{
		Operator: sqlast.MultOp,
		Left:     sqlast.NewColName("l_extendedprice"),
		Right: &sqlast.BinaryExpr{
			Operator: sqlast.MinusOp,
			Left:     sqlast.NewIntLiteral("1"),
			Right:    sqlast.NewColName("l_discount"),
		},
	}
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{
			Expr: &sqlast.AggregateExpr{Op: sqlast.AggrSum, Expr: discounted},
		}},
		From: sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "lineitem"}}},
		Where: &sqlast.ComparisonExpr{
			Operator: sqlast.LessThanOp,
			Left:     sqlast.NewColName("l_shipdate"),
			Right:    sqlast.NewStrLiteral("1998-09-01"),
		},
	})

	oset := onion.NewSet()
	oset.AddKey("lineitem", "l_shipdate", onion.OPE)
	oset.AddPackedHOMGroup("lineitem", "l_extendedprice * (1 - l_discount)")

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	assertAllPlain(t, node)

	tr, ok := node.(*plan.LocalTransform)
	require.True(t, ok, "root should be the extracting transform, got %T", node)
	require.Len(t, tr.Outputs, 1)
	require.False(t, tr.Outputs[0].IsPassthrough())
	assert.Equal(t, "hom_get_pos(pos(0), 0)", sqlast.String(tr.Outputs[0].Comp.Expr))

	dec, ok := tr.Child.(*plan.LocalDecrypt)
	require.True(t, ok)
	assert.Equal(t, []int{0}, dec.Positions)

	rs, ok := dec.Child.(*plan.RemoteSql)
	require.True(t, ok)
	assert.Equal(t,
		"select hom_agg(lineitem$enc.rowid, 'lineitem', 0) as proj0 from lineitem$enc"+
			" where lineitem$enc.l_shipdate$OPE < encrypt('1998-09-01', OPE)",
		rs.SQL())
	require.Len(t, rs.Desc, 1)
	assert.Equal(t, onion.HOMAgg, rs.Desc[0].Onion)
	require.NotNil(t, rs.Desc[0].Hom)
	assert.Equal(t, onion.HomGroupRef{Table: "lineitem", Group: 0}, *rs.Desc[0].Hom)
}

// Ordering on an OPE column happens server-side; the DET twin feeds the
// decrypted output.
func TestPlanServerOrderBy(t *testing.T) {
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("a")}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		OrderBy:     sqlast.OrderBy{{Expr: sqlast.NewColName("a")}},
	})

	oset := onion.NewSet()
	oset.AddKey("t", "a", onion.DET|onion.OPE)

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	assertAllPlain(t, node)

	tr, ok := node.(*plan.LocalTransform)
	require.True(t, ok, "got %T", node)
	require.Len(t, tr.Outputs, 1)
	assert.True(t, tr.Outputs[0].IsPassthrough())
	assert.Equal(t, 0, tr.Outputs[0].Pos)

	dec, ok := tr.Child.(*plan.LocalDecrypt)
	require.True(t, ok)
	assert.Equal(t, []int{0}, dec.Positions)

	rs, ok := dec.Child.(*plan.RemoteSql)
	require.True(t, ok)
	assert.Equal(t, "select t$enc.a$DET, t$enc.a$OPE from t$enc order by t$enc.a$OPE", rs.SQL())
}

// A filter fully answerable under stored onions needs no client operators
// at all.
func TestPlanFullyServerFilter(t *testing.T) {
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: &sqlast.AggregateExpr{Op: sqlast.AggrCountStar}}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		Where: &sqlast.AndExpr{
			Left: &sqlast.ComparisonExpr{
				Operator: sqlast.EqualOp,
				Left:     sqlast.NewColName("a"),
				Right:    sqlast.NewIntLiteral("5"),
			},
			Right: &sqlast.ComparisonExpr{
				Operator: sqlast.EqualOp,
				Left: &sqlast.FuncExpr{Name: "substr", Exprs: []sqlast.Expr{
					sqlast.NewColName("b"), sqlast.NewIntLiteral("1"), sqlast.NewIntLiteral("2"),
				}},
				Right: sqlast.NewStrLiteral("AB"),
			},
		},
	})

	oset := onion.NewSet()
	oset.AddKey("t", "a", onion.DET)
	oset.AddKey("t", "substr(b, 1, 2)", onion.DET)

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	assertAllPlain(t, node)

	rs, ok := node.(*plan.RemoteSql)
	require.True(t, ok, "no client wrappers expected, got %T", node)
	precomp := onion.BaseName("substr(b, 1, 2)")
	assert.Equal(t,
		"select count(*) as proj0 from t$enc where t$enc.a$DET = encrypt(5, DET)"+
			" and t$enc."+precomp+"$DET = encrypt('AB', DET)",
		rs.SQL())
}

// A subselect that collapses to a pure RemoteSql inlines into the outer
// statement.
func TestPlanInlinedSubselect(t *testing.T) {
	inner := &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{
			Expr: &sqlast.AggregateExpr{Op: sqlast.AggrMin, Expr: sqlast.NewColName("b")},
		}},
		From: sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "u"}}},
	}
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("a")}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		Where: &sqlast.ComparisonExpr{
			Operator: sqlast.InOp,
			Left:     sqlast.NewColName("a"),
			Right:    &sqlast.Subquery{Select: inner},
		},
	})

	oset := onion.NewSet()
	oset.AddKey("t", "a", onion.DET|onion.OPE)
	oset.AddKey("u", "b", onion.OPE)

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	assertAllPlain(t, node)

	dec, ok := node.(*plan.LocalDecrypt)
	require.True(t, ok, "got %T", node)
	rs, ok := dec.Child.(*plan.RemoteSql)
	require.True(t, ok)
	assert.Empty(t, rs.Subplans)
	assert.Equal(t,
		"select t$enc.a$DET from t$enc where t$enc.a$OPE in"+
			" (select min(u$enc.b$OPE) as proj0 from u$enc)",
		rs.SQL())
}

// An opaque function falls back to the residual path: the server projects
// the field, the client filters.
func TestPlanResidualFilter(t *testing.T) {
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("a")}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		Where: &sqlast.ComparisonExpr{
			Operator: sqlast.GreaterThanOp,
			Left:     &sqlast.FuncExpr{Name: "f", Exprs: []sqlast.Expr{sqlast.NewColName("a")}},
			Right:    sqlast.NewIntLiteral("3"),
		},
	})

	oset := onion.NewSet()
	oset.Complete(testDefns())

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	assertAllPlain(t, node)

	lf, ok := node.(*plan.LocalFilter)
	require.True(t, ok, "got %T", node)
	assert.Equal(t, "f(pos(0)) > 3", sqlast.String(lf.Comp.Expr))
	assert.Equal(t, "f(a) > 3", sqlast.String(lf.Comp.OrigExpr))

	dec, ok := lf.Child.(*plan.LocalDecrypt)
	require.True(t, ok)
	assert.Equal(t, []int{0}, dec.Positions)

	rs, ok := dec.Child.(*plan.RemoteSql)
	require.True(t, ok)
	assert.Equal(t, "select t$enc.a$DET from t$enc", rs.SQL())
}

// Grouped AVG over a packed expression: hom_agg plus COUNT(*) server-side,
// a division client-side.
func TestPlanGroupedAvg(t *testing.T) {
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{
			Expr: &sqlast.AggregateExpr{Op: sqlast.AggrAvg, Expr: sqlast.NewColName("x")},
		}},
		From:    sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		GroupBy: &sqlast.GroupBy{Keys: []sqlast.Expr{sqlast.NewColName("k")}},
	})

	oset := onion.NewSet()
	oset.AddKey("t", "k", onion.DET)
	oset.AddPackedHOMGroup("t", "x")

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	assertAllPlain(t, node)

	tr, ok := node.(*plan.LocalTransform)
	require.True(t, ok, "got %T", node)
	require.Len(t, tr.Outputs, 1)
	require.False(t, tr.Outputs[0].IsPassthrough())
	assert.Equal(t, "hom_get_pos(pos(0), 0) / pos(1)", sqlast.String(tr.Outputs[0].Comp.Expr))

	dec, ok := tr.Child.(*plan.LocalDecrypt)
	require.True(t, ok)
	assert.Equal(t, []int{0}, dec.Positions, "count(*) arrives plain")

	rs, ok := dec.Child.(*plan.RemoteSql)
	require.True(t, ok)
	assert.Equal(t,
		"select hom_agg(t$enc.rowid, 't', 0) as proj0, count(*) as proj1 from t$enc group by t$enc.k$DET",
		rs.SQL())
}
