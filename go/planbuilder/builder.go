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

// Package planbuilder turns a resolved SELECT statement and a candidate
// onion set into an executable plan: a rewritten server-side statement
// against the encrypted relations, wrapped in the client-side operators
// that finish whatever the server cannot compute under the chosen onions.
package planbuilder

import (
	"fmt"

	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/plan"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

// EncContext states what encryption the caller accepts on the plan output.
type EncContext interface {
	iEncContext()
}

// PreserveOriginal demands fully decrypted output: the tuple descriptor of
// the returned plan is all PLAIN.
type PreserveOriginal struct{}

// PreserveCardinality only demands that the row count match the original
// statement; output columns may stay encrypted.
type PreserveCardinality struct{}

// EncProj demands one onion mask per output position. With Require set the
// output MUST be under one of the mask's bits; otherwise the mask is a
// preference.
type EncProj struct {
	Onions  []onion.Onion
	Require bool
}

func (PreserveOriginal) iEncContext()    {}
func (PreserveCardinality) iEncContext() {}
func (EncProj) iEncContext()             {}

// GeneratePlan plans stmt against the candidate onion set under the given
// encryption context. The statement is read-only; all scratch state lives in
// the planner for the duration of the call.
func GeneratePlan(stmt *sqlast.Select, oset *onion.Set, ectx EncContext) (plan.Node, error) {
	p := newPlanner(stmt, oset, ectx)
	return p.generate()
}

// relInfo describes one FROM relation of the statement being planned.
type relInfo struct {
	alias string
	// table is the base table name; empty for subquery relations.
	table string

	// Subquery relations carry the child's tuple descriptor and the
	// physical column names of its projections.
	isSub    bool
	desc     []onion.ColType
	colNames []string
	sub      *sqlast.Select
}

// physQualifier is the name the server statement uses to qualify columns of
// this relation.
func (ri *relInfo) physQualifier() string {
	if !ri.isSub && ri.alias == ri.table {
		return onion.EncTableName(ri.table)
	}
	return ri.alias
}

// serverProj is one projection of the rewritten server statement.
type serverProj struct {
	expr sqlast.Expr
	ct   onion.ColType
	as   string
}

type projKey struct {
	canonical string
	onion     onion.Onion
	vector    bool
}

// projSlot records how one original projection is produced: a pass-through
// of a final server projection, or a client computation.
type projSlot struct {
	passIdx int
	comp    *plan.ClientComputation
}

// orderSpec is one residual (client-side) order-by key.
type orderSpec struct {
	// projIdx is the original projection the key matches, or -1.
	projIdx int
	// auxIdx is the server projection slot holding the key value when
	// projIdx < 0.
	auxIdx    int
	direction sqlast.OrderDirection
	// opeOnly is set when the key value is under OPE and can be compared
	// without decryption.
	opeOnly bool
}

type planner struct {
	stmt *sqlast.Select
	oset *onion.Set
	ectx EncContext

	cur      *sqlast.Select
	relInfos map[string]*relInfo
	subplans []plan.Node

	finalProjs []serverProj
	projCache  map[projKey]int

	localFilters      []*plan.ClientComputation
	localGroupFilters []*plan.ClientComputation
	projSlots         []projSlot
	localOrder        []orderSpec
	localLimit        *int

	aggContext     bool
	groupKeyOnions map[string]onion.Onion

	homUse map[onion.HomGroupRef]int

	materializeSeq *int
}

func newPlanner(stmt *sqlast.Select, oset *onion.Set, ectx EncContext) *planner {
	seq := 0
	return &planner{
		stmt:           stmt,
		oset:           oset,
		ectx:           ectx,
		relInfos:       make(map[string]*relInfo),
		projCache:      make(map[projKey]int),
		groupKeyOnions: make(map[string]onion.Onion),
		homUse:         make(map[onion.HomGroupRef]int),
		materializeSeq: &seq,
	}
}

// child creates a planner for a nested statement sharing the candidate
// onion set and the materialization counter.
func (p *planner) child(stmt *sqlast.Select, ectx EncContext) *planner {
	c := newPlanner(stmt, p.oset, ectx)
	c.materializeSeq = p.materializeSeq
	return c
}

func (p *planner) generate() (plan.Node, error) {
	if p.stmt.Ctx == nil {
		return nil, vterrors.New(vterrors.CodeInvalidArgument, "statement is not bound to a scope")
	}
	if ep, ok := p.ectx.(EncProj); ok && len(ep.Onions) != len(p.stmt.Projections) {
		return nil, vterrors.Errorf(vterrors.CodeInternal, "[BUG] EncProj width %d != projection count %d", len(ep.Onions), len(p.stmt.Projections))
	}
	for _, se := range p.stmt.Projections {
		if _, ok := se.(*sqlast.StarExpr); ok {
			return nil, vterrors.New(vterrors.CodeUnimplemented, "wildcard projections cannot appear in the outer statement")
		}
	}
	p.aggContext = p.stmt.GroupBy != nil || containsAggregate(p.stmt)

	p.cur = &sqlast.Select{}

	if err := p.planRelations(); err != nil {
		return nil, err
	}
	p.gatherHomPreferences()

	if err := p.planWhere(); err != nil {
		return nil, err
	}
	if err := p.planGroupBy(); err != nil {
		return nil, err
	}
	if err := p.planProjections(); err != nil {
		return nil, err
	}
	if err := p.planOrderBy(); err != nil {
		return nil, err
	}
	p.planLimit()
	return p.assemble()
}

// containsAggregate reports whether any projection of the statement folds
// rows.
func containsAggregate(stmt *sqlast.Select) bool {
	found := false
	for _, se := range stmt.Projections {
		ae, ok := se.(*sqlast.AliasedExpr)
		if !ok {
			continue
		}
		_ = sqlast.Walk(func(node sqlast.SQLNode) (bool, error) {
			switch node.(type) {
			case *sqlast.AggregateExpr:
				found = true
				return false, nil
			case *sqlast.Subquery:
				return false, nil
			}
			return true, nil
		}, ae.Expr)
		if found {
			return true
		}
	}
	return false
}

// addFinalProj inserts a server projection, deduplicating by canonical
// content. It returns the slot index.
func (p *planner) addFinalProj(orig sqlast.Expr, srv sqlast.Expr, ct onion.ColType) int {
	key := projKey{canonical: sqlast.String(srv), onion: ct.Onion, vector: ct.Vector}
	if idx, ok := p.projCache[key]; ok {
		return idx
	}
	idx := len(p.finalProjs)
	as := ""
	if _, isCol := srv.(*sqlast.ColName); !isCol {
		as = fmt.Sprintf("proj%d", idx)
	}
	p.finalProjs = append(p.finalProjs, serverProj{expr: srv, ct: ct, as: as})
	p.projCache[key] = idx
	return idx
}

func (p *planner) hasLocalRowOps() bool {
	return len(p.localFilters) > 0 || len(p.localGroupFilters) > 0 || len(p.localOrder) > 0
}

// gatherHomPreferences scans SUM/AVG arguments and counts, per packed
// group, how many aggregates could draw from it. pickPreferredGroup later
// prefers the least-used group so heavily shared groups stay available.
func (p *planner) gatherHomPreferences() {
	scan := func(e sqlast.Expr) {
		if e == nil {
			return
		}
		_ = sqlast.Walk(func(node sqlast.SQLNode) (bool, error) {
			agg, ok := node.(*sqlast.AggregateExpr)
			if !ok || (agg.Op != sqlast.AggrSum && agg.Op != sqlast.AggrAvg) {
				return true, nil
			}
			for _, summand := range homSummands(agg.Expr) {
				_, descs, ok := p.supportedHomRowDescExpr(summand)
				if !ok {
					continue
				}
				for _, d := range descs {
					p.homUse[onion.HomGroupRef{Table: d.Table, Group: d.Group}]++
				}
			}
			return true, nil
		}, e)
	}
	for _, se := range p.stmt.Projections {
		if ae, ok := se.(*sqlast.AliasedExpr); ok {
			scan(ae.Expr)
		}
	}
	if p.stmt.GroupBy != nil {
		scan(p.stmt.GroupBy.Having)
	}
}

// pickPreferredGroup picks among candidate packed slots: ascending use
// count, then ascending group id.
func (p *planner) pickPreferredGroup(descs []onion.HomDesc) onion.HomDesc {
	best := descs[0]
	bestUse := p.homUse[onion.HomGroupRef{Table: best.Table, Group: best.Group}]
	for _, d := range descs[1:] {
		use := p.homUse[onion.HomGroupRef{Table: d.Table, Group: d.Group}]
		if use < bestUse || (use == bestUse && d.Group < best.Group) {
			best, bestUse = d, use
		}
	}
	return best
}

func (p *planner) planWhere() error {
	if p.stmt.Where == nil {
		return nil
	}
	res, err := p.rewriteExprForServer(p.stmt.Where, rewriteCtx{onions: []onion.Onion{onion.PLAIN}})
	if err != nil {
		return err
	}
	if res.srv != nil {
		p.cur.Where = res.srv.expr
		return nil
	}
	if p.aggContext {
		// The server would aggregate before a client filter could drop
		// rows; no correct plan exists for this candidate.
		return vterrors.Errorf(vterrors.CodeFailedPrecondition, "filter %s cannot run client-side under aggregation", sqlast.String(p.stmt.Where))
	}
	if res.residual != nil {
		p.cur.Where = res.residual.expr
	}
	p.localFilters = append(p.localFilters, res.comp)
	return nil
}

func (p *planner) planGroupBy() error {
	if p.stmt.GroupBy == nil {
		return nil
	}
	gb := &sqlast.GroupBy{}
	for _, key := range p.stmt.GroupBy.Keys {
		resolved := sqlast.ResolveAliases(key)
		srv, ok := p.supportedExpr(resolved, onion.Comparable)
		if !ok {
			return vterrors.Errorf(vterrors.CodeFailedPrecondition, "group by key %s has no comparable onion", sqlast.String(key))
		}
		gb.Keys = append(gb.Keys, srv.expr)
		p.groupKeyOnions[sqlast.CanonicalString(resolved)] = srv.ct.Onion
	}
	p.cur.GroupBy = gb

	if having := p.stmt.GroupBy.Having; having != nil {
		res, err := p.rewriteExprForServer(having, rewriteCtx{onions: []onion.Onion{onion.PLAIN}, agg: true})
		if err != nil {
			return err
		}
		if res.srv != nil {
			gb.Having = res.srv.expr
			return nil
		}
		if res.residual != nil {
			gb.Having = res.residual.expr
		}
		p.localGroupFilters = append(p.localGroupFilters, res.comp)
	}
	return nil
}

func (p *planner) planOrderBy() error {
	if len(p.stmt.OrderBy) == 0 {
		return nil
	}
	// Either every key is answerable server-side under an order-preserving
	// onion, or the whole clause runs client-side.
	type srvKey struct {
		expr      sqlast.Expr
		ct        onion.ColType
		direction sqlast.OrderDirection
	}
	var srvKeys []srvKey
	serverOK := true
	for _, order := range p.stmt.OrderBy {
		resolved := sqlast.ResolveAliases(order.Expr)
		srv, ok := p.supportedExprConstrained(resolved, onion.PLAIN|onion.IEqualComparable)
		if !ok {
			serverOK = false
			break
		}
		srvKeys = append(srvKeys, srvKey{expr: srv.expr, ct: srv.ct, direction: order.Direction})
	}
	if serverOK {
		for _, key := range srvKeys {
			// The ordering column is also projected so subplans and
			// audits see the full ordering input.
			p.addFinalProj(nil, key.expr, key.ct)
			p.cur.OrderBy = append(p.cur.OrderBy, &sqlast.Order{Expr: key.expr, Direction: key.direction})
		}
		return nil
	}

	for _, order := range p.stmt.OrderBy {
		resolved := sqlast.ResolveAliases(order.Expr)
		spec := orderSpec{projIdx: -1, auxIdx: -1, direction: order.Direction}
		canonical := sqlast.CanonicalString(resolved)
		for i, se := range p.stmt.Projections {
			ae, ok := se.(*sqlast.AliasedExpr)
			if !ok {
				continue
			}
			if sqlast.CanonicalString(sqlast.ResolveAliases(ae.Expr)) == canonical {
				spec.projIdx = i
				break
			}
		}
		if spec.projIdx < 0 {
			srv, ok := p.supportedExprConstrained(resolved, onion.Comparable)
			if !ok {
				return vterrors.Errorf(vterrors.CodeFailedPrecondition, "order by key %s is not expressible under any supported projection", sqlast.String(order.Expr))
			}
			spec.auxIdx = p.addFinalProj(resolved, srv.expr, srv.ct)
			spec.opeOnly = srv.ct.Onion == onion.OPE
		}
		p.localOrder = append(p.localOrder, spec)
	}
	return nil
}

func (p *planner) planLimit() {
	if p.stmt.Limit == nil {
		return
	}
	if p.hasLocalRowOps() {
		rowcount := p.stmt.Limit.Rowcount
		p.localLimit = &rowcount
		return
	}
	p.cur.Limit = &sqlast.Limit{Rowcount: p.stmt.Limit.Rowcount}
}

func (p *planner) planProjections() error {
	for i, se := range p.stmt.Projections {
		ae := se.(*sqlast.AliasedExpr)
		rctx := rewriteCtx{onions: p.projectionOnions(i), agg: p.aggContext}
		res, err := p.rewriteExprForServer(ae.Expr, rctx)
		if err != nil {
			return err
		}
		if res.srv != nil {
			idx := p.addFinalProj(ae.Expr, res.srv.expr, res.srv.ct)
			p.projSlots = append(p.projSlots, projSlot{passIdx: idx})
			continue
		}
		p.projSlots = append(p.projSlots, projSlot{passIdx: -1, comp: res.comp})
	}
	return nil
}

// projectionOnions is the ordered onion preference for the i-th output.
func (p *planner) projectionOnions(i int) []onion.Onion {
	if ep, ok := p.ectx.(EncProj); ok {
		if ep.Require {
			return ep.Onions[i].ToSeq()
		}
		return ep.Onions[i].CompleteSeqWithPreference()
	}
	return onion.All.ToSeq()
}
