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

package onion

import (
	"os"

	"sigs.k8s.io/yaml"

	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

// The YAML onion-set format pins a candidate set in a file. Expressions are
// given in canonical SQL text (qualifiers stripped).
type yamlOnionEntry struct {
	Expr    string   `json:"expr"`
	Schemes []string `json:"schemes"`
}

type yamlOnionTable struct {
	Name      string           `json:"name"`
	Onions    []yamlOnionEntry `json:"onions"`
	HomGroups [][]string       `json:"homGroups,omitempty"`
}

type yamlOnionSet struct {
	Tables []yamlOnionTable `json:"tables"`
}

// DecodeSet decodes the YAML onion-set format.
func DecodeSet(data []byte) (*Set, error) {
	var raw yamlOnionSet
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, vterrors.Wrap(err, "cannot decode onion set")
	}
	set := NewSet()
	for _, table := range raw.Tables {
		for _, entry := range table.Onions {
			for _, scheme := range entry.Schemes {
				o, ok := ByName(scheme)
				if !ok {
					return nil, vterrors.Errorf(vterrors.CodeInvalidArgument, "unknown onion %q for %s.%s", scheme, table.Name, entry.Expr)
				}
				set.AddKey(table.Name, entry.Expr, o)
			}
		}
		for _, group := range table.HomGroups {
			set.AddPackedHOMGroup(table.Name, group...)
		}
	}
	return set, nil
}

// LoadSet reads and decodes a YAML onion-set file.
func LoadSet(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vterrors.Wrapf(err, "cannot read onion set file %s", path)
	}
	return DecodeSet(data)
}
