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
	"github.com/liuyi1112/monomi-optimizer/go/log"
	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/plan"
	"github.com/liuyi1112/monomi-optimizer/go/schema"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

// EstimateContext carries what the cost layer needs to rank one candidate
// plan: the completed onion set it was generated under.
type EstimateContext struct {
	OnionSet    *onion.Set
	Fingerprint string
}

// CandidatePlan pairs a generated plan with its estimate context.
type CandidatePlan struct {
	Plan     plan.Node
	Estimate EstimateContext
}

// maxPowerSetBase bounds the clause-candidate pool the power set is built
// from; 2^12 merged subsets is already generous for one statement.
const maxPowerSetBase = 12

// GenerateCandidatePlans enumerates onion sets for the statement, merges
// every non-empty subset, completes each against the schema, and plans it.
// Infeasible candidates are skipped; identical plans deduplicate.
func GenerateCandidatePlans(stmt *sqlast.Select, defns *schema.Definitions) ([]CandidatePlan, error) {
	base := GenerateOnionSets(stmt)
	if len(base) == 0 {
		base = []*onion.Set{onion.NewSet()}
	}
	if len(base) > maxPowerSetBase {
		log.Warningf("statement produced %d clause onion sets, keeping %d for enumeration", len(base), maxPowerSetBase)
		base = base[:maxPowerSetBase]
	}

	merged := make([]*onion.Set, 0, 1<<len(base))
	seen := make(map[string]bool)
	for mask := 1; mask < 1<<len(base); mask++ {
		set := onion.NewSet()
		for i, b := range base {
			if mask&(1<<i) != 0 {
				set.Merge(b)
			}
		}
		fp := set.Fingerprint()
		if !seen[fp] {
			seen[fp] = true
			merged = append(merged, set)
		}
	}

	var out []CandidatePlan
	planSeen := make(map[string]bool)
	completedSeen := make(map[string]bool)
	for _, set := range merged {
		set.Complete(defns)
		fp := set.Fingerprint()
		if completedSeen[fp] {
			continue
		}
		completedSeen[fp] = true

		node, err := GeneratePlan(stmt, set, PreserveOriginal{})
		if err != nil {
			if vterrors.Code(err) == vterrors.CodeFailedPrecondition {
				continue
			}
			return nil, err
		}
		key, err := plan.ToJSON(node)
		if err != nil {
			return nil, err
		}
		if planSeen[key] {
			continue
		}
		planSeen[key] = true
		out = append(out, CandidatePlan{
			Plan:     node,
			Estimate: EstimateContext{OnionSet: set, Fingerprint: fp},
		})
	}
	if len(out) == 0 {
		return nil, vterrors.New(vterrors.CodeFailedPrecondition, "no candidate onion set can answer the statement")
	}
	return out, nil
}
