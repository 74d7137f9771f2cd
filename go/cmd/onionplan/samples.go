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

package main

import (
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

// The tool carries its statements built in code; SQL parsing belongs to the
// front end, not the planner.
type sample struct {
	doc   string
	build func() *sqlast.Select
}

var samples = map[string]sample{
	"revenue": {
		doc: "sum of discounted price over shipped lineitems",
		build: func() *sqlast.Select {
			discounted := &sqlast.BinaryExpr{
				Operator: sqlast.MultOp,
				Left:     sqlast.NewColName("l_extendedprice"),
				Right: &sqlast.BinaryExpr{
					Operator: sqlast.MinusOp,
					Left:     sqlast.NewIntLiteral("1"),
					Right:    sqlast.NewColName("l_discount"),
				},
			}
			return &sqlast.Select{
				Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{
					Expr: &sqlast.AggregateExpr{Op: sqlast.AggrSum, Expr: discounted},
					As:   "revenue",
				}},
				From: sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "lineitem"}}},
				Where: &sqlast.ComparisonExpr{
					Operator: sqlast.LessThanOp,
					Left:     sqlast.NewColName("l_shipdate"),
					Right:    sqlast.NewStrLiteral("1998-09-01"),
				},
			}
		},
	},
	"returned-count": {
		doc: "count of returned lineitems",
		build: func() *sqlast.Select {
			return &sqlast.Select{
				Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{
					Expr: &sqlast.AggregateExpr{Op: sqlast.AggrCountStar},
				}},
				From: sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "lineitem"}}},
				Where: &sqlast.ComparisonExpr{
					Operator: sqlast.EqualOp,
					Left:     sqlast.NewColName("l_returnflag"),
					Right:    sqlast.NewStrLiteral("R"),
				},
			}
		},
	},
	"clerk-orders": {
		doc: "orders per clerk, sorted",
		build: func() *sqlast.Select {
			return &sqlast.Select{
				Projections: sqlast.SelectExprs{
					&sqlast.AliasedExpr{Expr: sqlast.NewColName("o_clerk")},
					&sqlast.AliasedExpr{Expr: &sqlast.AggregateExpr{Op: sqlast.AggrCountStar}, As: "cnt"},
				},
				From:    sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "orders"}}},
				GroupBy: &sqlast.GroupBy{Keys: []sqlast.Expr{sqlast.NewColName("o_clerk")}},
				OrderBy: sqlast.OrderBy{{Expr: sqlast.NewColName("o_clerk")}},
			}
		},
	},
	"avg-quantity": {
		doc: "average quantity per return flag",
		build: func() *sqlast.Select {
			return &sqlast.Select{
				Projections: sqlast.SelectExprs{
					&sqlast.AliasedExpr{Expr: sqlast.NewColName("l_returnflag")},
					&sqlast.AliasedExpr{
						Expr: &sqlast.AggregateExpr{Op: sqlast.AggrAvg, Expr: sqlast.NewColName("l_quantity")},
						As:   "avg_qty",
					},
				},
				From:    sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "lineitem"}}},
				GroupBy: &sqlast.GroupBy{Keys: []sqlast.Expr{sqlast.NewColName("l_returnflag")}},
			}
		},
	},
	"min-price-orders": {
		doc: "orders whose price matches the cheapest order",
		build: func() *sqlast.Select {
			inner := &sqlast.Select{
				Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{
					Expr: &sqlast.AggregateExpr{Op: sqlast.AggrMin, Expr: sqlast.NewColName("o_totalprice")},
				}},
				From: sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "orders"}}},
			}
			return &sqlast.Select{
				Projections: sqlast.SelectExprs{&sqlast.AliasedExpr{Expr: sqlast.NewColName("o_orderkey")}},
				From:        sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "orders"}}},
				Where: &sqlast.ComparisonExpr{
					Operator: sqlast.InOp,
					Left:     sqlast.NewColName("o_totalprice"),
					Right:    &sqlast.Subquery{Select: inner},
				},
			}
		},
	},
}
