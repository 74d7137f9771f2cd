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

// RowIDColumn is the shared row identifier column of packed HOM rows.
const RowIDColumn = "rowid"

// EncTableName returns the physical name of the encrypted twin of a base
// table.
func EncTableName(table string) string {
	return table + "$enc"
}

// EncColName returns the physical name of the encrypted representation of a
// base name under a single onion.
func EncColName(base string, o Onion) string {
	return base + "$" + o.String()
}
