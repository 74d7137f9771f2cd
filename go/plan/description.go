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

package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

// Description is a self-describing tree of a plan, used for printing,
// tests and plan comparison.
type Description struct {
	OperatorType string
	Variant      string         `json:",omitempty"`
	TupleDesc    []string       `json:",omitempty"`
	Other        map[string]any `json:",omitempty"`
	Inputs       []Description  `json:",omitempty"`
}

// Describe converts the plan tree into a Description tree.
func Describe(n Node) Description {
	desc := n.description()
	tuple := n.TupleDesc()
	desc.TupleDesc = make([]string, len(tuple))
	for i, ct := range tuple {
		desc.TupleDesc[i] = ct.String()
	}
	for _, in := range n.Inputs() {
		desc.Inputs = append(desc.Inputs, Describe(in))
	}
	return desc
}

// ToJSON renders the plan description as indented JSON.
func ToJSON(n Node) (string, error) {
	data, err := json.MarshalIndent(Describe(n), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (rs *RemoteSql) description() Description {
	return Description{
		OperatorType: "RemoteSql",
		Other:        map[string]any{"Query": rs.SQL()},
	}
}

func (rm *RemoteMaterialize) description() Description {
	return Description{
		OperatorType: "RemoteMaterialize",
		Other:        map[string]any{"Name": rm.Name},
	}
}

func describeComp(cc *ClientComputation) map[string]any {
	other := map[string]any{
		"Expr": sqlast.String(cc.Expr),
	}
	if cc.OrigExpr != nil {
		other["OrigExpr"] = sqlast.String(cc.OrigExpr)
	}
	if len(cc.Subqueries) > 0 {
		other["Subqueries"] = len(cc.Subqueries)
	}
	return other
}

func (lf *LocalFilter) description() Description {
	return Description{
		OperatorType: "LocalFilter",
		Other:        describeComp(lf.Comp),
	}
}

func (lg *LocalGroupFilter) description() Description {
	return Description{
		OperatorType: "LocalFilter",
		Variant:      "Group",
		Other:        describeComp(lg.Comp),
	}
}

func (lt *LocalTransform) description() Description {
	outs := make([]string, len(lt.Outputs))
	for i, out := range lt.Outputs {
		if out.IsPassthrough() {
			outs[i] = strconv.Itoa(out.Pos)
		} else {
			outs[i] = sqlast.String(out.Comp.Expr)
		}
	}
	return Description{
		OperatorType: "LocalTransform",
		Other:        map[string]any{"Outputs": strings.Join(outs, ", ")},
	}
}

func (lo *LocalOrderBy) description() Description {
	keys := make([]string, len(lo.Keys))
	for i, key := range lo.Keys {
		dir := "asc"
		if key.Direction == sqlast.DescOrder {
			dir = "desc"
		}
		keys[i] = fmt.Sprintf("%d %s", key.Pos, dir)
		if key.OPECompare {
			keys[i] += " (ope)"
		}
	}
	return Description{
		OperatorType: "LocalOrderBy",
		Other:        map[string]any{"Keys": strings.Join(keys, ", ")},
	}
}

func (ll *LocalLimit) description() Description {
	return Description{
		OperatorType: "LocalLimit",
		Other:        map[string]any{"Rowcount": ll.Rowcount},
	}
}

func (ld *LocalDecrypt) description() Description {
	return Description{
		OperatorType: "LocalDecrypt",
		Other:        map[string]any{"Positions": ld.Positions},
	}
}

func (le *LocalEncrypt) description() Description {
	positions := make([]string, len(le.Positions))
	for i, ep := range le.Positions {
		positions[i] = fmt.Sprintf("%d:%s", ep.Pos, ep.Target)
	}
	return Description{
		OperatorType: "LocalEncrypt",
		Other:        map[string]any{"Positions": strings.Join(positions, ", ")},
	}
}
