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

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	data := []byte(`
tables:
  - name: lineitem
    rows: 42
    columns:
      - {name: l_orderkey, type: int}
      - {name: l_shipdate, type: date}
  - name: orders
    columns:
      - {name: o_clerk, type: string}
`)
	defns, stats, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"lineitem", "orders"}, defns.TableNames())

	table, ok := defns.Find("lineitem")
	require.True(t, ok)
	col, ok := table.FindColumn("l_shipdate")
	require.True(t, ok)
	assert.Equal(t, TypeDate, col.Type)
	_, ok = table.FindColumn("nope")
	assert.False(t, ok)

	assert.Equal(t, uint64(42), stats.Tables["lineitem"].RowCount)
	assert.Equal(t, uint64(0), stats.Tables["orders"].RowCount)
}

func TestDecodeBadType(t *testing.T) {
	_, _, err := Decode([]byte("tables:\n  - name: t\n    columns:\n      - {name: a, type: blob}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column type")
}

func TestTypeNames(t *testing.T) {
	for _, typ := range []Type{TypeInt, TypeDecimal, TypeString, TypeDate} {
		got, ok := TypeByName(typ.String())
		require.True(t, ok)
		assert.Equal(t, typ, got)
	}
	_, ok := TypeByName("bogus")
	assert.False(t, ok)
}
