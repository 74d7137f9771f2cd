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

// Package schema holds the logical schema definitions and table statistics
// the planner reads. Loading them from a backing database is the caller's
// concern; this package only models them and decodes the YAML fixture
// format.
package schema

import (
	"os"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/liuyi1112/monomi-optimizer/go/vterrors"
)

// Type is the logical type of a column.
type Type int

// Constants for column types.
const (
	TypeUnknown Type = iota
	TypeInt
	TypeDecimal
	TypeString
	TypeDate
)

var typeNames = map[Type]string{
	TypeUnknown: "unknown",
	TypeInt:     "int",
	TypeDecimal: "decimal",
	TypeString:  "string",
	TypeDate:    "date",
}

func (t Type) String() string { return typeNames[t] }

// TypeByName maps the YAML spelling back to a Type.
func TypeByName(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return TypeUnknown, false
}

// Column describes one column of a base table.
type Column struct {
	Name string
	Type Type
}

// Table describes one base table.
type Table struct {
	Name    string
	Columns []Column
}

// FindColumn returns the named column, if present.
func (t *Table) FindColumn(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Definitions is the schema definitions table: every base table of the
// logical schema, keyed by name.
type Definitions struct {
	Tables map[string]*Table
}

// NewDefinitions creates an empty Definitions.
func NewDefinitions() *Definitions {
	return &Definitions{Tables: make(map[string]*Table)}
}

// AddTable registers a table.
func (d *Definitions) AddTable(t *Table) {
	d.Tables[t.Name] = t
}

// Find returns the named table, if present.
func (d *Definitions) Find(name string) (*Table, bool) {
	t, ok := d.Tables[name]
	return t, ok
}

// TableNames returns all table names in sorted order.
func (d *Definitions) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TableStats carries the per-table statistics the cost layer consumes.
type TableStats struct {
	RowCount uint64
}

// Statistics maps table name to its stats.
type Statistics struct {
	Tables map[string]TableStats
}

// NewStatistics creates an empty Statistics.
func NewStatistics() *Statistics {
	return &Statistics{Tables: make(map[string]TableStats)}
}

type yamlColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type yamlTable struct {
	Name    string       `json:"name"`
	Rows    uint64       `json:"rows,omitempty"`
	Columns []yamlColumn `json:"columns"`
}

type yamlSchema struct {
	Tables []yamlTable `json:"tables"`
}

// Decode decodes the YAML schema format into definitions plus statistics.
func Decode(data []byte) (*Definitions, *Statistics, error) {
	var raw yamlSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, vterrors.Wrap(err, "cannot decode schema")
	}
	defns := NewDefinitions()
	stats := NewStatistics()
	for _, yt := range raw.Tables {
		table := &Table{Name: yt.Name}
		for _, yc := range yt.Columns {
			typ, ok := TypeByName(yc.Type)
			if !ok {
				return nil, nil, vterrors.Errorf(vterrors.CodeInvalidArgument, "unknown column type %q for %s.%s", yc.Type, yt.Name, yc.Name)
			}
			table.Columns = append(table.Columns, Column{Name: yc.Name, Type: typ})
		}
		defns.AddTable(table)
		stats.Tables[yt.Name] = TableStats{RowCount: yt.Rows}
	}
	return defns, stats, nil
}

// Load reads and decodes a YAML schema file.
func Load(path string) (*Definitions, *Statistics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, vterrors.Wrapf(err, "cannot read schema file %s", path)
	}
	return Decode(data)
}
