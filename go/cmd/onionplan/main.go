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

// onionplan is a debugging tool for the encrypted-query planner: it prints
// the plan, the generated onion requirements, or the whole candidate-plan
// enumeration for a registered sample statement against a YAML schema and
// onion-set file.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/liuyi1112/monomi-optimizer/go/log"
	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/plan"
	"github.com/liuyi1112/monomi-optimizer/go/planbuilder"
	"github.com/liuyi1112/monomi-optimizer/go/schema"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

var (
	schemaPath string
	onionsPath string
)

func main() {
	root := &cobra.Command{
		Use:   "onionplan",
		Short: "inspect encrypted-query plans for sample statements",
	}
	root.PersistentFlags().StringVar(&schemaPath, "schema", "", "YAML schema file")
	log.RegisterFlags(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "samples",
		Short: "list the registered sample statements",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]string, 0, len(samples))
			for name := range samples {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s\t%s\n", name, samples[name].doc)
			}
			return nil
		},
	})

	planCmd := &cobra.Command{
		Use:   "plan <sample>",
		Short: "print the plan for a sample under a pinned onion set",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}
	planCmd.Flags().StringVar(&onionsPath, "onions", "", "YAML onion-set file")
	root.AddCommand(planCmd)

	root.AddCommand(&cobra.Command{
		Use:   "onions <sample>",
		Short: "print the generated onion requirements for a sample",
		Args:  cobra.ExactArgs(1),
		RunE:  runOnions,
	})

	root.AddCommand(&cobra.Command{
		Use:   "candidates <sample>",
		Short: "enumerate and print all candidate plans for a sample",
		Args:  cobra.ExactArgs(1),
		RunE:  runCandidates,
	})

	if err := root.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func loadStatement(name string) (*sqlast.Select, *schema.Definitions, error) {
	if schemaPath == "" {
		return nil, nil, fmt.Errorf("--schema is required")
	}
	defns, stats, err := schema.Load(schemaPath)
	if err != nil {
		return nil, nil, err
	}
	sample, ok := samples[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown sample %q, try 'onionplan samples'", name)
	}
	stmt := sample.build()
	if err := sqlast.Analyze(stmt, sqlast.NewRootContext(defns, stats)); err != nil {
		return nil, nil, err
	}
	return stmt, defns, nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	stmt, defns, err := loadStatement(args[0])
	if err != nil {
		return err
	}
	var oset *onion.Set
	if onionsPath != "" {
		if oset, err = onion.LoadSet(onionsPath); err != nil {
			return err
		}
	} else {
		oset = onion.NewSet()
	}
	oset.Complete(defns)
	node, err := planbuilder.GeneratePlan(stmt, oset, planbuilder.PreserveOriginal{})
	if err != nil {
		return err
	}
	out, err := plan.ToJSON(node)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runOnions(cmd *cobra.Command, args []string) error {
	stmt, _, err := loadStatement(args[0])
	if err != nil {
		return err
	}
	sets := planbuilder.GenerateOnionSets(stmt)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Candidate", "Table", "Expression", "Onions"})
	for i, set := range sets {
		for _, tbl := range set.Tables() {
			for _, key := range set.Keys(tbl) {
				_, o, _ := set.LookupKey(tbl, key)
				table.Append([]string{fmt.Sprintf("%d", i), tbl, key, o.String()})
			}
			for g, group := range set.PackedGroups(tbl) {
				for _, key := range group {
					table.Append([]string{fmt.Sprintf("%d", i), tbl, key, fmt.Sprintf("HOM group %d", g)})
				}
			}
		}
	}
	table.Render()
	return nil
}

func runCandidates(cmd *cobra.Command, args []string) error {
	stmt, defns, err := loadStatement(args[0])
	if err != nil {
		return err
	}
	cands, err := planbuilder.GenerateCandidatePlans(stmt, defns)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Root operator", "Onion set"})
	for i, cand := range cands {
		desc := plan.Describe(cand.Plan)
		table.Append([]string{fmt.Sprintf("%d", i), desc.OperatorType, cand.Estimate.Fingerprint})
	}
	table.Render()
	for i, cand := range cands {
		out, err := plan.ToJSON(cand.Plan)
		if err != nil {
			return err
		}
		fmt.Printf("--- candidate %d ---\n%s\n", i, out)
	}
	return nil
}
