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

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/plan"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

func selectA() *sqlast.Select {
	return &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("a")}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
	}
}

func TestEncProjContract(t *testing.T) {
	oset := onion.NewSet()
	oset.AddKey("t", "a", onion.DET|onion.OPE)

	tcases := []struct {
		name string
		ectx EncProj
		want onion.Onion
	}{{
		name: "require DET",
		ectx: EncProj{Onions: []onion.Onion{onion.DET}, Require: true},
		want: onion.DET,
	}, {
		name: "require OPE",
		ectx: EncProj{Onions: []onion.Onion{onion.OPE}, Require: true},
		want: onion.OPE,
	}, {
		name: "prefer OPE",
		ectx: EncProj{Onions: []onion.Onion{onion.OPE}},
		want: onion.OPE,
	}}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			node := mustPlan(t, analyze(t, selectA()), oset, tc.ectx)
			desc := node.TupleDesc()
			require.Len(t, desc, len(tc.ectx.Onions))
			assert.Equal(t, tc.want, desc[0].Onion)
		})
	}
}

func TestEncProjReencrypt(t *testing.T) {
	// A value only storable under DET but demanded under OPE forces a
	// decrypt/re-encrypt boundary.
	oset := onion.NewSet()
	oset.AddKey("t", "a", onion.DET)

	node := mustPlan(t, analyze(t, selectA()), oset, EncProj{Onions: []onion.Onion{onion.OPE}, Require: true})
	enc, ok := node.(*plan.LocalEncrypt)
	require.True(t, ok, "got %T", node)
	assert.Equal(t, []plan.EncryptPos{{Pos: 0, Target: onion.OPE}}, enc.Positions)
	assert.Equal(t, onion.OPE, node.TupleDesc()[0].Onion)
}

func TestEncProjWidthMismatch(t *testing.T) {
	oset := onion.NewSet()
	oset.Complete(testDefns())
	_, err := GeneratePlan(analyze(t, selectA()), oset, EncProj{Onions: []onion.Onion{onion.DET, onion.DET}})
	require.Error(t, err)
	assert.Equal(t, vterrors.CodeInternal, vterrors.Code(err))
}

func TestWildcardRejected(t *testing.T) {
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.StarExpr{}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
	})
	oset := onion.NewSet()
	oset.Complete(testDefns())
	_, err := GeneratePlan(stmt, oset, PreserveOriginal{})
	require.Error(t, err)
	assert.Equal(t, vterrors.CodeUnimplemented, vterrors.Code(err))
}

func TestGroupByInfeasible(t *testing.T) {
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: &sqlast.AggregateExpr{Op: sqlast.AggrCountStar}}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		GroupBy:     &sqlast.GroupBy{Keys: []sqlast.Expr{sqlast.NewColName("b")}},
	})
	oset := onion.NewSet()
	oset.AddKey("t", "b", onion.SWP)
	_, err := GeneratePlan(stmt, oset, PreserveOriginal{})
	require.Error(t, err)
	assert.Equal(t, vterrors.CodeFailedPrecondition, vterrors.Code(err))
}

func TestLocalOrderBy(t *testing.T) {
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("a")}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		OrderBy:     sqlast.OrderBy{{Expr: sqlast.NewColName("b"), Direction: sqlast.DescOrder}},
	})
	oset := onion.NewSet()
	oset.AddKey("t", "a", onion.DET)
	oset.AddKey("t", "b", onion.DET)

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	assertAllPlain(t, node)

	// The auxiliary sort column is projected away after the sort.
	tr, ok := node.(*plan.LocalTransform)
	require.True(t, ok, "got %T", node)
	require.Len(t, tr.Outputs, 1)
	assert.Equal(t, 0, tr.Outputs[0].Pos)

	ob, ok := tr.Child.(*plan.LocalOrderBy)
	require.True(t, ok)
	require.Len(t, ob.Keys, 1)
	assert.Equal(t, 1, ob.Keys[0].Pos)
	assert.Equal(t, sqlast.DescOrder, ob.Keys[0].Direction)
	assert.False(t, ob.Keys[0].OPECompare)

	rs := findRemote(t, node)
	assert.Equal(t, "select t$enc.a$DET, t$enc.b$DET from t$enc", rs.SQL())
	assert.Nil(t, rs.Stmt.OrderBy, "no server ordering under DET")
}

func TestLocalOrderByOnProjection(t *testing.T) {
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{
			&sqlast.AliasedExpr{Expr: sqlast.NewColName("a")},
			&sqlast.AliasedExpr{Expr: sqlast.NewColName("b"), As: "label"},
		},
		From:    sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		OrderBy: sqlast.OrderBy{{Expr: sqlast.NewColName("label")}},
	})
	oset := onion.NewSet()
	oset.AddKey("t", "a", onion.DET)
	oset.AddKey("t", "b", onion.DET)

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	ob, ok := node.(*plan.LocalOrderBy)
	require.True(t, ok, "got %T", node)
	assert.Equal(t, 1, ob.Keys[0].Pos, "the key is the second output column")
}

func TestOrderByInfeasible(t *testing.T) {
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("a")}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		OrderBy: sqlast.OrderBy{{Expr: &sqlast.FuncExpr{
			Name: "f", Exprs: []sqlast.Expr{sqlast.NewColName("b")},
		}}},
	})
	oset := onion.NewSet()
	oset.Complete(testDefns())
	_, err := GeneratePlan(stmt, oset, PreserveOriginal{})
	require.Error(t, err)
	assert.Equal(t, vterrors.CodeFailedPrecondition, vterrors.Code(err))
}

func TestLimitPlacement(t *testing.T) {
	oset := onion.NewSet()
	oset.Complete(testDefns())

	// No client operators: the limit stays server-side.
	stmt := analyze(t, selectA())
	stmt.Limit = &sqlast.Limit{Rowcount: 5}
	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	rs := findRemote(t, node)
	require.NotNil(t, rs.Stmt.Limit)
	assert.Equal(t, 5, rs.Stmt.Limit.Rowcount)
	_, isLimit := node.(*plan.LocalLimit)
	assert.False(t, isLimit)

	// A client filter forces the limit client-side.
	stmt = selectA()
	stmt.Where = &sqlast.ComparisonExpr{
		Operator: sqlast.GreaterThanOp,
		Left:     &sqlast.FuncExpr{Name: "f", Exprs: []sqlast.Expr{sqlast.NewColName("a")}},
		Right:    sqlast.NewIntLiteral("3"),
	}
	stmt.Limit = &sqlast.Limit{Rowcount: 5}
	stmt = analyze(t, stmt)
	node = mustPlan(t, stmt, oset, PreserveOriginal{})
	ll, ok := node.(*plan.LocalLimit)
	require.True(t, ok, "got %T", node)
	assert.Equal(t, 5, ll.Rowcount)
	assert.Nil(t, findRemote(t, node).Stmt.Limit)
}

func TestCorrelatedSubqueryResidual(t *testing.T) {
	inner := &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{
			Expr: &sqlast.AggregateExpr{Op: sqlast.AggrMin, Expr: sqlast.NewColName("b")},
		}},
		From: sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "u"}}},
		Where: &sqlast.ComparisonExpr{
			Operator: sqlast.EqualOp,
			Left:     sqlast.NewColName("d"),
			Right:    &sqlast.ColName{Qualifier: "t", Name: "a"},
		},
	}
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("a")}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		Where: &sqlast.ComparisonExpr{
			Operator: sqlast.GreaterThanOp,
			Left: &sqlast.BinaryExpr{
				Operator: sqlast.PlusOp,
				Left:     sqlast.NewColName("a"),
				Right:    &sqlast.Subquery{Select: inner},
			},
			Right: sqlast.NewIntLiteral("10"),
		},
	})

	oset := onion.NewSet()
	oset.AddKey("t", "a", onion.DET)
	oset.AddKey("u", "b", onion.OPE)
	oset.AddKey("u", "d", onion.DET)

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	assertAllPlain(t, node)

	lf, ok := node.(*plan.LocalFilter)
	require.True(t, ok, "got %T", node)
	require.Len(t, lf.Comp.Subqueries, 1)

	sub := lf.Comp.Subqueries[0]
	require.Len(t, sub.Bindings, 1)
	assert.Equal(t, 0, sub.Bindings[0].PlaceholderPos)
	assert.Equal(t, "t.a", sqlast.String(sub.Bindings[0].Field))
	require.Len(t, lf.Comp.SubqueryProjections, 1)

	// The pulled-out plan binds the outer value through an encrypted
	// placeholder.
	subRemote := findRemote(t, sub.Plan)
	assert.Contains(t, subRemote.SQL(), "u$enc.d$DET = encrypt(:dep0, DET)")
	assert.Contains(t, subRemote.SQL(), "min(u$enc.b$OPE)")

	assert.Equal(t, "(pos(0) + subquery(0)) > 10", sqlast.String(lf.Comp.Expr))
}

func TestCorrelatedOuterProjectionRejected(t *testing.T) {
	inner := &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{
			Expr: &sqlast.AggregateExpr{Op: sqlast.AggrCountStar},
		}},
		From: sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "u"}}},
	}
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("a"), As: "alias_a"}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		Where: &sqlast.ComparisonExpr{
			Operator: sqlast.GreaterThanOp,
			Left: &sqlast.FuncExpr{Name: "g", Exprs: []sqlast.Expr{
				&sqlast.Subquery{Select: inner},
			}},
			Right: sqlast.NewIntLiteral("1"),
		},
	})
	// Force a projection symbol into the subquery after binding.
	syms := sqlast.LookupColumn(stmt.Ctx, "", "alias_a", true)
	require.Len(t, syms, 1)
	inner.Where = &sqlast.ComparisonExpr{
		Operator: sqlast.EqualOp,
		Left:     sqlast.NewColName("d"),
		Right:    &sqlast.ColName{Name: "alias_a", Metadata: syms[0]},
	}
	require.NoError(t, sqlast.Analyze(inner, stmt.Ctx))

	oset := onion.NewSet()
	oset.Complete(testDefns())
	_, err := GeneratePlan(stmt, oset, PreserveOriginal{})
	require.Error(t, err)
	assert.Equal(t, vterrors.CodeInvalidArgument, vterrors.Code(err))
}

func TestSubqueryRelationInlined(t *testing.T) {
	inner := &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("a")}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
	}
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: &sqlast.ColName{Qualifier: "s", Name: "a"}}},
		From: sqlast.TableExprs{&sqlast.AliasedTableExpr{
			Expr: &sqlast.DerivedTable{Select: inner},
			As:   "s",
		}},
	})
	oset := onion.NewSet()
	oset.AddKey("t", "a", onion.DET)

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	rs := findRemote(t, node)
	assert.Empty(t, rs.Subplans)
	assert.Equal(t, "select s.c0 from (select t$enc.a$DET as c0 from t$enc) as s", rs.SQL())
}

func TestSubqueryRelationMaterialized(t *testing.T) {
	inner := &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{
			Expr: &sqlast.FuncExpr{Name: "f", Exprs: []sqlast.Expr{sqlast.NewColName("a")}},
			As:   "y",
		}},
		From: sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
	}
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: &sqlast.ColName{Qualifier: "s", Name: "y"}}},
		From: sqlast.TableExprs{&sqlast.AliasedTableExpr{
			Expr: &sqlast.DerivedTable{Select: inner},
			As:   "s",
		}},
	})
	oset := onion.NewSet()
	oset.Complete(testDefns())

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	rs := findRemote(t, node)
	require.Len(t, rs.Subplans, 1)
	rm, ok := rs.Subplans[0].(*plan.RemoteMaterialize)
	require.True(t, ok)
	assert.Equal(t, "m0", rm.Name)
	assert.Equal(t, "select s.c0 from m0 as s", rs.SQL())
}

func TestHavingResidualVector(t *testing.T) {
	stmt := analyze(t, &sqlast.Select{
		Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("k")}},
		From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t"}}},
		GroupBy: &sqlast.GroupBy{
			Keys: []sqlast.Expr{sqlast.NewColName("k")},
			Having: &sqlast.ComparisonExpr{
				Operator: sqlast.GreaterThanOp,
				Left:     &sqlast.AggregateExpr{Op: sqlast.AggrSum, Expr: sqlast.NewColName("x")},
				Right:    sqlast.NewIntLiteral("5"),
			},
		},
	})
	oset := onion.NewSet()
	oset.AddKey("t", "k", onion.DET)
	oset.AddKey("t", "x", onion.DET)

	node := mustPlan(t, stmt, oset, PreserveOriginal{})
	assertAllPlain(t, node)

	var gf *plan.LocalGroupFilter
	plan.Walk(node, func(n plan.Node) bool {
		if found, ok := n.(*plan.LocalGroupFilter); ok {
			gf = found
		}
		return true
	})
	require.NotNil(t, gf, "expected a group filter")
	require.Len(t, gf.Comp.Projections, 1)
	assert.True(t, gf.Comp.Projections[0].Type.Vector)

	rs := findRemote(t, node)
	assert.Contains(t, rs.SQL(), "group_concat(t$enc.x$DET, ',')")
	assert.Contains(t, rs.SQL(), "group by t$enc.k$DET")
}

func TestDecryptStability(t *testing.T) {
	// Growing the onion set never shrinks the decrypt set for the onions
	// it keeps using.
	build := func() *sqlast.Select {
		stmt := selectA()
		stmt.Where = &sqlast.ComparisonExpr{
			Operator: sqlast.GreaterThanOp,
			Left:     &sqlast.FuncExpr{Name: "f", Exprs: []sqlast.Expr{sqlast.NewColName("a")}},
			Right:    sqlast.NewIntLiteral("3"),
		}
		return stmt
	}
	small := onion.NewSet()
	small.AddKey("t", "a", onion.DET)
	big := small.Clone()
	big.AddKey("t", "a", onion.OPE)
	big.AddKey("t", "b", onion.SWP)

	collect := func(n plan.Node) map[int]bool {
		positions := make(map[int]bool)
		plan.Walk(n, func(n plan.Node) bool {
			if ld, ok := n.(*plan.LocalDecrypt); ok {
				for _, pos := range ld.Positions {
					positions[pos] = true
				}
			}
			return true
		})
		return positions
	}
	planSmall := mustPlan(t, analyze(t, build()), small, PreserveOriginal{})
	planBig := mustPlan(t, analyze(t, build()), big, PreserveOriginal{})
	for pos := range collect(planSmall) {
		assert.True(t, collect(planBig)[pos], "position %d decrypted under A but not under B", pos)
	}
}

func TestPlanDeterminism(t *testing.T) {
	// Two generations from the same inputs must be indistinguishable:
	// candidate enumeration deduplicates plans by identity.
	oset := onion.NewSet()
	oset.AddKey("t", "a", onion.DET|onion.OPE)
	oset.AddKey("t", "b", onion.DET)

	build := func() plan.Node {
		stmt := selectA()
		stmt.Where = &sqlast.ComparisonExpr{
			Operator: sqlast.GreaterThanOp,
			Left:     &sqlast.FuncExpr{Name: "f", Exprs: []sqlast.Expr{sqlast.NewColName("b")}},
			Right:    sqlast.NewIntLiteral("3"),
		}
		stmt.OrderBy = sqlast.OrderBy{{Expr: sqlast.NewColName("a")}}
		return mustPlan(t, analyze(t, stmt), oset, PreserveOriginal{})
	}
	first := plan.Describe(build())
	second := plan.Describe(build())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("plans differ between runs (-first +second):\n%s", diff)
	}
}

func findRemote(t *testing.T, node plan.Node) *plan.RemoteSql {
	t.Helper()
	var rs *plan.RemoteSql
	plan.Walk(node, func(n plan.Node) bool {
		if found, ok := n.(*plan.RemoteSql); ok && rs == nil {
			rs = found
		}
		return true
	})
	require.NotNil(t, rs)
	return rs
}
